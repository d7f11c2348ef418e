package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/cppla/feedsync/models"
)

// CommentTree loads and stores the two-level comment tree of posts on demand.
// Trees live on the Post records of the cache; CommentTree only decides when to
// fetch, drops stale responses and bounds how many trees stay in memory.
type CommentTree struct {
	cache    *PostCache
	gw       Gateway
	notifier Notifier
	log      *zap.Logger

	mu    sync.Mutex
	gen   map[models.ID]uint64
	stale map[models.ID]bool

	// retained tracks posts whose comments are loaded; eviction unloads them.
	retained *lru.Cache[models.ID, struct{}]
}

// NewCommentTree keeps at most retention comment trees loaded (minimum 1).
func NewCommentTree(cache *PostCache, gw Gateway, notifier Notifier, log *zap.Logger, retention int) *CommentTree {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = LogNotifier{Log: log}
	}
	if retention < 1 {
		retention = 1
	}
	t := &CommentTree{
		cache:    cache,
		gw:       gw,
		notifier: notifier,
		log:      log.Named("comments"),
		gen:      map[models.ID]uint64{},
		stale:    map[models.ID]bool{},
	}
	retained, err := lru.NewWithEvict[models.ID, struct{}](retention, func(id models.ID, _ struct{}) {
		cache.ClearComments(id)
	})
	if err != nil {
		// only fails for a non-positive size, which is ruled out above
		panic(err)
	}
	t.retained = retained
	return t
}

// Load fetches the full comment list of a post and replaces what is stored.
// When a newer Load for the same post started meanwhile, the result is dropped
// and Load returns nil.
func (t *CommentTree) Load(ctx context.Context, postID models.ID) error {
	t.mu.Lock()
	t.gen[postID]++
	gen := t.gen[postID]
	t.mu.Unlock()

	raw, err := t.gw.FetchComments(ctx, postID)

	t.mu.Lock()
	if t.gen[postID] != gen {
		t.mu.Unlock()
		t.log.Debug("dropping stale comments response", zap.String("post_id", postID.String()), zap.Uint64("gen", gen))
		return nil
	}
	if err != nil {
		t.mu.Unlock()
		t.notifier.Notify(Notice{Action: "load_comments", PostID: postID, Err: err})
		return fmt.Errorf("load comments of post %s: %w", postID, err)
	}
	tree, err := nestComments(postID, raw, t.log)
	if err != nil {
		t.mu.Unlock()
		t.notifier.Notify(Notice{Action: "load_comments", PostID: postID, Err: err})
		return err
	}
	delete(t.stale, postID)
	// still under t.mu so a newer Load cannot land between the check and the write
	stored, events := t.cache.setComments(postID, tree)
	t.mu.Unlock()

	t.cache.subs.emit(events)
	if !stored {
		// post left the cache while loading
		return nil
	}
	t.retained.Add(postID, struct{}{})
	return nil
}

// Ensure loads the comments only when they are not loaded or were invalidated.
func (t *CommentTree) Ensure(ctx context.Context, postID models.ID) error {
	t.mu.Lock()
	stale := t.stale[postID]
	t.mu.Unlock()
	if _, loaded := t.cache.Comments(postID); loaded && !stale {
		t.retained.Get(postID)
		return nil
	}
	return t.Load(ctx, postID)
}

// Invalidate forces the next Ensure to fetch.
func (t *CommentTree) Invalidate(postID models.ID) {
	t.mu.Lock()
	t.stale[postID] = true
	t.mu.Unlock()
}

// Create posts a comment, or a reply when parentID is set, then reloads the tree
// so the new comment shows up in its server-assigned place.
func (t *CommentTree) Create(ctx context.Context, postID models.ID, content string, parentID *models.ID) (models.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Comment{}, fmt.Errorf("empty comment: %w", ErrRejected)
	}
	c, err := t.gw.CreateComment(ctx, postID, content, parentID)
	if err != nil {
		t.notifier.Notify(Notice{Action: "comment", PostID: postID, Err: err})
		return models.Comment{}, fmt.Errorf("create comment on post %s: %w", postID, err)
	}
	t.cache.Update(postID, func(p models.Post) models.Post {
		p.CommentCount++
		return p
	})
	t.Invalidate(postID)
	if err := t.Load(ctx, postID); err != nil {
		// the comment exists; the reload will be retried by the next Ensure
		t.log.Warn("reload after comment failed", zap.String("post_id", postID.String()), zap.Error(err))
	}
	return c, nil
}

// Delete removes a comment on the server and reloads the tree.
func (t *CommentTree) Delete(ctx context.Context, postID, commentID models.ID) error {
	if err := t.gw.DeleteComment(ctx, commentID); err != nil && !errors.Is(err, ErrNotFound) {
		t.notifier.Notify(Notice{Action: "delete_comment", PostID: postID, Err: err})
		return fmt.Errorf("delete comment %s: %w", commentID, err)
	}
	t.cache.Update(postID, func(p models.Post) models.Post {
		if p.CommentCount > 0 {
			p.CommentCount--
		}
		return p
	})
	t.Invalidate(postID)
	if err := t.Load(ctx, postID); err != nil {
		t.log.Warn("reload after comment delete failed", zap.String("post_id", postID.String()), zap.Error(err))
	}
	return nil
}

// nestComments turns the server's list into the two-level tree: replies sit under
// their top-level ancestor, never at the top level. The server may send the list
// flat or already nested.
func nestComments(postID models.ID, raw []models.Comment, log *zap.Logger) ([]models.Comment, error) {
	var flat []models.Comment
	var walk func(in []models.Comment, parent *models.ID)
	walk = func(in []models.Comment, parent *models.ID) {
		for _, c := range in {
			replies := c.Replies
			c.Replies = nil
			if parent != nil && !c.IsReply() {
				pid := *parent
				c.ParentCommentID = &pid
			}
			flat = append(flat, c)
			id := c.ID
			walk(replies, &id)
		}
	}
	walk(raw, nil)

	parentOf := make(map[models.ID]*models.ID, len(flat))
	for _, c := range flat {
		if c.ID == "" {
			return nil, fmt.Errorf("comment without id on post %s: %w", postID, ErrMalformed)
		}
		if c.PostID != "" && c.PostID != postID {
			return nil, fmt.Errorf("comment %s belongs to post %s, not %s: %w", c.ID, c.PostID, postID, ErrMalformed)
		}
		parentOf[c.ID] = c.ParentCommentID
	}

	// root follows parent links up to the top-level comment
	root := func(id models.ID) (models.ID, bool) {
		for hops := 0; hops <= len(flat); hops++ {
			p, ok := parentOf[id]
			if !ok {
				return "", false
			}
			if p == nil || *p == "" {
				return id, true
			}
			id = *p
		}
		return "", false // cycle
	}

	var tree []models.Comment
	index := map[models.ID]int{}
	for _, c := range flat {
		if !c.IsReply() {
			c.PostID = postID
			index[c.ID] = len(tree)
			tree = append(tree, c)
		}
	}
	for _, c := range flat {
		if !c.IsReply() {
			continue
		}
		top, ok := root(c.ID)
		i, found := index[top]
		if !ok || !found {
			log.Warn("dropping reply with unknown parent",
				zap.String("post_id", postID.String()),
				zap.String("comment_id", c.ID.String()),
			)
			continue
		}
		c.PostID = postID
		tree[i].Replies = append(tree[i].Replies, c)
	}
	if tree == nil {
		tree = []models.Comment{}
	}
	return tree, nil
}
