package controllers

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cppla/feedsync/models"
)

var (
	errPostNotFound    = errors.New("post not found")
	errCommentNotFound = errors.New("comment not found")
	errForbidden       = errors.New("forbidden")
	errBadParent       = errors.New("parent comment not on this post")
)

// Author identifies the acting user of a write.
type Author struct {
	ID       string
	Username string
}

type postRecord struct {
	post      models.Post // user-independent fields only
	votes     map[string]models.Vote
	bookmarks map[string]bool
}

// Repository is the in-memory store behind the development backend.
// Vote and bookmark state is tracked per user so responses carry the caller's view.
type Repository struct {
	mu       sync.RWMutex
	nextID   int64
	posts    map[models.ID]*postRecord
	order    []models.ID // newest first
	comments map[models.ID][]models.Comment
	// commenters maps comment id to the author's user id
	commenters map[models.ID]string
	now        func() time.Time
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		posts:      map[models.ID]*postRecord{},
		comments:   map[models.ID][]models.Comment{},
		commenters: map[models.ID]string{},
		now:        time.Now,
	}
}

func (r *Repository) newIDLocked() models.ID {
	r.nextID++
	return models.ID(strconv.FormatInt(r.nextID, 10))
}

// view renders a record as seen by userID. Callers hold r.mu.
func (r *Repository) view(rec *postRecord, userID string) models.Post {
	p := rec.post.Clone()
	p.Comments = nil
	p.Votes = 0
	for _, v := range rec.votes {
		switch v {
		case models.VoteUp:
			p.Votes++
		case models.VoteDown:
			p.Votes--
		}
	}
	p.UserVote = models.VoteNone
	if v, ok := rec.votes[userID]; ok && userID != "" {
		p.UserVote = v
	}
	p.Bookmarked = userID != "" && rec.bookmarks[userID]
	p.CommentCount = len(r.comments[p.ID])
	return p
}

// CreatePost stores a new post authored by a.
func (r *Repository) CreatePost(a Author, in models.NewPost) models.Post {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	rec := &postRecord{
		post: models.Post{
			ID:             r.newIDLocked(),
			Title:          in.Title,
			Content:        in.Content,
			Author:         a.Username,
			AuthorID:       models.ID(a.ID),
			AuthorUsername: a.Username,
			Category:       in.Category,
			Flair:          in.Flair,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		votes:     map[string]models.Vote{},
		bookmarks: map[string]bool{},
	}
	r.posts[rec.post.ID] = rec
	r.order = append([]models.ID{rec.post.ID}, r.order...)
	return r.view(rec, a.ID)
}

// ListPosts returns zero-based page of the newest-first listing, optionally
// restricted to a category, and whether it is the last page.
func (r *Repository) ListPosts(userID, category string, page, size int) ([]models.Post, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*postRecord
	for _, id := range r.order {
		rec := r.posts[id]
		if category == "" || rec.post.Category == category {
			matched = append(matched, rec)
		}
	}
	return r.pageLocked(matched, userID, page*size, size)
}

// Search matches q against title and content, case-insensitively. offset is the
// number of matches already returned.
func (r *Repository) Search(userID, q string, offset, size int) ([]models.Post, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q = strings.ToLower(strings.TrimSpace(q))
	var matched []*postRecord
	for _, id := range r.order {
		rec := r.posts[id]
		if q == "" ||
			strings.Contains(strings.ToLower(rec.post.Title), q) ||
			strings.Contains(strings.ToLower(rec.post.Content), q) {
			matched = append(matched, rec)
		}
	}
	return r.pageLocked(matched, userID, offset, size)
}

func (r *Repository) pageLocked(matched []*postRecord, userID string, offset, size int) ([]models.Post, bool) {
	items := []models.Post{}
	if offset >= len(matched) {
		return items, true
	}
	end := offset + size
	if end > len(matched) {
		end = len(matched)
	}
	for _, rec := range matched[offset:end] {
		items = append(items, r.view(rec, userID))
	}
	return items, end >= len(matched)
}

// GetPost returns one post as seen by userID.
func (r *Repository) GetPost(userID string, id models.ID) (models.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.posts[id]
	if !ok {
		return models.Post{}, errPostNotFound
	}
	return r.view(rec, userID), nil
}

// DeletePost removes a post and its comments. Only the author may delete.
func (r *Repository) DeletePost(userID string, id models.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.posts[id]
	if !ok {
		return errPostNotFound
	}
	if string(rec.post.AuthorID) != userID {
		return errForbidden
	}
	for _, c := range r.comments[id] {
		delete(r.commenters, c.ID)
	}
	delete(r.posts, id)
	delete(r.comments, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Vote applies dir for userID with the same toggle rules the client predicts.
func (r *Repository) Vote(userID string, id models.ID, dir models.Vote) (models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.posts[id]
	if !ok {
		return models.Post{}, errPostNotFound
	}
	current, ok := rec.votes[userID]
	if !ok {
		current = models.VoteNone
	}
	next, _ := models.NextVote(current, dir)
	if next == models.VoteNone {
		delete(rec.votes, userID)
	} else {
		rec.votes[userID] = next
	}
	return r.view(rec, userID), nil
}

// ToggleBookmark flips the bookmark of userID and returns the new value.
func (r *Repository) ToggleBookmark(userID string, id models.ID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.posts[id]
	if !ok {
		return false, errPostNotFound
	}
	if rec.bookmarks[userID] {
		delete(rec.bookmarks, userID)
		return false, nil
	}
	rec.bookmarks[userID] = true
	return true, nil
}

// Comments returns the two-level tree of a post, oldest first.
func (r *Repository) Comments(postID models.ID) ([]models.Comment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.posts[postID]; !ok {
		return nil, errPostNotFound
	}
	flat := r.comments[postID]
	tree := []models.Comment{}
	index := map[models.ID]int{}
	for _, c := range flat {
		if !c.IsReply() {
			index[c.ID] = len(tree)
			tree = append(tree, c)
		}
	}
	for _, c := range flat {
		if !c.IsReply() {
			continue
		}
		if i, ok := index[*c.ParentCommentID]; ok {
			tree[i].Replies = append(tree[i].Replies, c)
		}
	}
	return models.CloneComments(tree), nil
}

// CreateComment adds a comment or reply. A reply to a reply is attached to the
// top-level comment so the tree stays two levels deep.
func (r *Repository) CreateComment(a Author, postID models.ID, content string, parentID *models.ID) (models.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.posts[postID]; !ok {
		return models.Comment{}, errPostNotFound
	}
	var parent *models.ID
	if parentID != nil && *parentID != "" {
		p, ok := r.findCommentLocked(postID, *parentID)
		if !ok {
			return models.Comment{}, errBadParent
		}
		top := p.ID
		if p.IsReply() {
			top = *p.ParentCommentID
		}
		parent = &top
	}
	c := models.Comment{
		ID:              r.newIDLocked(),
		PostID:          postID,
		ParentCommentID: parent,
		Author:          a.Username,
		Content:         content,
		CreatedAt:       r.now().UTC(),
	}
	r.comments[postID] = append(r.comments[postID], c)
	r.commenters[c.ID] = a.ID
	return c, nil
}

func (r *Repository) findCommentLocked(postID, id models.ID) (models.Comment, bool) {
	for _, c := range r.comments[postID] {
		if c.ID == id {
			return c, true
		}
	}
	return models.Comment{}, false
}

// DeleteComment removes a comment with its replies. Only its author may delete.
// It returns the post the comment belonged to.
func (r *Repository) DeleteComment(userID string, id models.ID) (models.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for postID, list := range r.comments {
		for _, c := range list {
			if c.ID != id {
				continue
			}
			if r.commenters[c.ID] != userID {
				return "", errForbidden
			}
			kept := list[:0:0]
			for _, other := range list {
				if other.ID == id || other.IsReply() && *other.ParentCommentID == id {
					delete(r.commenters, other.ID)
					continue
				}
				kept = append(kept, other)
			}
			r.comments[postID] = kept
			return postID, nil
		}
	}
	return "", errCommentNotFound
}

// Stats reports totals for the health endpoint.
func (r *Repository) Stats() (posts, comments int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, list := range r.comments {
		comments += len(list)
	}
	return len(r.posts), comments
}

// Categories lists the categories in use, sorted.
func (r *Repository) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	for _, rec := range r.posts {
		seen[rec.post.Category] = true
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
