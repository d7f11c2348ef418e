package store

import (
	"sync"

	"github.com/cppla/feedsync/models"
)

// ListMode selects the pagination strategy of a list context.
type ListMode int

const (
	BrowseMode ListMode = iota // offset pagination by category
	SearchMode                 // cursor pagination by query
)

// ListKey identifies a list context: a category browse or a search query.
type ListKey struct {
	Mode  ListMode
	Value string
}

// Browse returns the list key of a category listing. An empty category means all posts.
func Browse(category string) ListKey { return ListKey{Mode: BrowseMode, Value: category} }

// Search returns the list key of a search query.
func Search(query string) ListKey { return ListKey{Mode: SearchMode, Value: query} }

func (k ListKey) String() string {
	if k.Mode == SearchMode {
		return "search:" + k.Value
	}
	return "browse:" + k.Value
}

// MergeMode controls how UpsertMany treats the existing list.
type MergeMode int

const (
	// Replace drops the list's previous ordering; used for first pages and refreshes.
	Replace MergeMode = iota
	// Append extends the list; used for subsequent pages.
	Append
)

// MergePolicy decides which side wins for user-state fields when an appended page
// contains a post that is already cached.
type MergePolicy int

const (
	// MergePreserveLocal keeps the cached user_vote, bookmarked and votes.
	MergePreserveLocal MergePolicy = iota
	// MergeOverwrite takes server values as-is.
	MergeOverwrite
)

// Tombstone is what Remove hands back so a removal can be undone exactly.
type Tombstone struct {
	Post      models.Post
	Positions map[ListKey]int
	Pinned    bool
}

// PostCache is the in-memory system of record for posts and their comments.
// All methods are synchronous and safe for concurrent use; reads return deep copies.
type PostCache struct {
	mu     sync.RWMutex
	posts  map[models.ID]models.Post
	lists  map[ListKey][]models.ID
	pinned map[models.ID]bool
	policy MergePolicy

	subs listeners
}

// NewPostCache creates an empty cache.
func NewPostCache(policy MergePolicy) *PostCache {
	return &PostCache{
		posts:  map[models.ID]models.Post{},
		lists:  map[ListKey][]models.ID{},
		pinned: map[models.ID]bool{},
		policy: policy,
	}
}

// Subscribe registers fn for every committed change and returns its cancel func.
func (c *PostCache) Subscribe(fn Listener) func() {
	return c.subs.add(fn)
}

// Get looks up a post. The second result is false when the post is not cached.
func (c *PostCache) Get(id models.ID) (models.Post, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.posts[id]
	if !ok {
		return models.Post{}, false
	}
	return p.Clone(), true
}

// List returns the posts of a list context in display order.
func (c *PostCache) List(key ListKey) []models.Post {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.lists[key]
	out := make([]models.Post, 0, len(ids))
	for _, id := range ids {
		if p, ok := c.posts[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out
}

// Len returns the number of posts in a list context.
func (c *PostCache) Len(key ListKey) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.lists[key])
}

// UpsertMany merges a fetched batch into the list context and returns how many
// posts were newly added to the list.
func (c *PostCache) UpsertMany(key ListKey, posts []models.Post, mode MergeMode) int {
	added, events := c.upsertMany(key, posts, mode)
	c.subs.emit(events)
	return added
}

func (c *PostCache) upsertMany(key ListKey, posts []models.Post, mode MergeMode) (int, []Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var events []Event

	var dropped []models.ID
	if mode == Replace {
		dropped = c.lists[key]
		delete(c.lists, key)
	}

	order := c.lists[key]
	inList := make(map[models.ID]bool, len(order)+len(posts))
	for _, id := range order {
		inList[id] = true
	}

	added := 0
	for _, in := range posts {
		if in.ID == "" {
			continue
		}
		incoming := in.Normalized()
		if existing, ok := c.posts[in.ID]; ok {
			incoming = c.mergeLocked(existing, incoming, mode)
			events = append(events, Event{Kind: PostUpdated, PostID: in.ID, List: key})
		}
		c.posts[in.ID] = incoming
		if !inList[in.ID] {
			inList[in.ID] = true
			order = append(order, in.ID)
			added++
		}
	}
	c.lists[key] = order
	for _, id := range dropped {
		if !c.referencedLocked(id) {
			delete(c.posts, id)
		}
	}
	events = append(events, Event{Kind: ListChanged, List: key})
	return added, events
}

func (c *PostCache) mergeLocked(existing, incoming models.Post, mode MergeMode) models.Post {
	if incoming.Comments == nil && existing.Comments != nil {
		incoming.Comments = existing.Comments
	}
	if mode == Append && c.policy == MergePreserveLocal {
		incoming.UserVote = existing.UserVote
		incoming.Bookmarked = existing.Bookmarked
		incoming.Votes = existing.Votes
	}
	return incoming
}

// referencedLocked reports whether any list or pin still holds id.
func (c *PostCache) referencedLocked(id models.ID) bool {
	if c.pinned[id] {
		return true
	}
	for _, ids := range c.lists {
		for _, other := range ids {
			if other == id {
				return true
			}
		}
	}
	return false
}

// Put stores a single fetched post. Put posts survive list refreshes.
func (c *PostCache) Put(p models.Post) {
	if p.ID == "" {
		return
	}
	c.mu.Lock()
	kind := PostInserted
	in := p.Normalized()
	if existing, ok := c.posts[p.ID]; ok {
		kind = PostUpdated
		in = c.mergeLocked(existing, in, Replace)
	}
	c.posts[p.ID] = in
	c.pinned[p.ID] = true
	c.mu.Unlock()

	c.subs.emit([]Event{{Kind: kind, PostID: p.ID}})
}

// Prepend places a post at the head of a list context, moving it if already listed.
func (c *PostCache) Prepend(key ListKey, p models.Post) {
	if p.ID == "" {
		return
	}
	c.mu.Lock()
	c.posts[p.ID] = p.Normalized()
	order := []models.ID{p.ID}
	for _, id := range c.lists[key] {
		if id != p.ID {
			order = append(order, id)
		}
	}
	c.lists[key] = order
	c.mu.Unlock()

	c.subs.emit([]Event{{Kind: PostInserted, PostID: p.ID, List: key}, {Kind: ListChanged, List: key}})
}

// Update replaces the cached post with fn(current). It is the single primitive
// through which optimistic writes and rollbacks flow. Returns false if the post is absent.
func (c *PostCache) Update(id models.ID, fn func(models.Post) models.Post) bool {
	ok, events := c.update(id, fn)
	c.subs.emit(events)
	return ok
}

func (c *PostCache) update(id models.ID, fn func(models.Post) models.Post) (bool, []Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.posts[id]
	if !ok {
		return false, nil
	}
	next := fn(cur.Clone())
	next.ID = id
	c.posts[id] = next.Clone()
	return true, []Event{{Kind: PostUpdated, PostID: id}}
}

// Remove deletes a post from the cache and every list. The tombstone restores it.
func (c *PostCache) Remove(id models.ID) (Tombstone, bool) {
	t, ok, events := c.remove(id)
	c.subs.emit(events)
	return t, ok
}

func (c *PostCache) remove(id models.ID) (Tombstone, bool, []Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.posts[id]
	if !ok {
		return Tombstone{}, false, nil
	}
	t := Tombstone{Post: p.Clone(), Positions: map[ListKey]int{}, Pinned: c.pinned[id]}
	events := []Event{{Kind: PostRemoved, PostID: id}}
	for key, ids := range c.lists {
		for i, other := range ids {
			if other == id {
				t.Positions[key] = i
				c.lists[key] = append(ids[:i:i], ids[i+1:]...)
				events = append(events, Event{Kind: ListChanged, List: key})
				break
			}
		}
	}
	delete(c.posts, id)
	delete(c.pinned, id)
	return t, true, events
}

// Reinsert undoes Remove: the post gets its exact recorded fields back and returns
// to its recorded list positions, clamped to the current list lengths.
func (c *PostCache) Reinsert(t Tombstone) {
	c.subs.emit(c.reinsert(t))
}

func (c *PostCache) reinsert(t Tombstone) []Event {
	id := t.Post.ID
	if id == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts[id] = t.Post.Clone()
	if t.Pinned {
		c.pinned[id] = true
	}
	events := []Event{{Kind: PostInserted, PostID: id}}
	for key, pos := range t.Positions {
		ids := c.lists[key]
		present := false
		for _, other := range ids {
			if other == id {
				present = true
				break
			}
		}
		if present {
			continue
		}
		if pos > len(ids) {
			pos = len(ids)
		}
		next := make([]models.ID, 0, len(ids)+1)
		next = append(next, ids[:pos]...)
		next = append(next, id)
		next = append(next, ids[pos:]...)
		c.lists[key] = next
		events = append(events, Event{Kind: ListChanged, List: key})
	}
	return events
}

// SetComments stores the loaded comment tree of a post. A nil slice is stored as
// empty so the post reads as loaded.
func (c *PostCache) SetComments(id models.ID, comments []models.Comment) bool {
	ok, events := c.setComments(id, comments)
	c.subs.emit(events)
	return ok
}

// ClearComments marks a post's comments as not loaded.
func (c *PostCache) ClearComments(id models.ID) bool {
	ok, events := c.writeComments(id, nil)
	c.subs.emit(events)
	return ok
}

func (c *PostCache) setComments(id models.ID, comments []models.Comment) (bool, []Event) {
	if comments == nil {
		comments = []models.Comment{}
	}
	return c.writeComments(id, models.CloneComments(comments))
}

func (c *PostCache) writeComments(id models.ID, comments []models.Comment) (bool, []Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.posts[id]
	if !ok {
		return false, nil
	}
	p.Comments = comments
	c.posts[id] = p
	return true, []Event{{Kind: CommentsChanged, PostID: id}}
}

// Comments returns the loaded comment tree. The second result is false when the
// post is absent or its comments were never loaded.
func (c *PostCache) Comments(id models.ID) ([]models.Comment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.posts[id]
	if !ok || p.Comments == nil {
		return nil, false
	}
	return models.CloneComments(p.Comments), true
}
