package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/feedsync/models"
)

// fakeGateway answers through per-method hooks and counts calls. A nil hook
// succeeds with a zero value.
type fakeGateway struct {
	fetchPosts     func(page, size int, category string) (models.PostPage, error)
	searchPosts    func(query, cursor string, size int) (models.SearchPage, error)
	fetchPost      func(id models.ID) (models.Post, error)
	createPost     func(in models.NewPost) (models.Post, error)
	deletePost     func(ctx context.Context, id models.ID) error
	fetchComments  func(postID models.ID) ([]models.Comment, error)
	createComment  func(postID models.ID, content string, parentID *models.ID) (models.Comment, error)
	deleteComment  func(id models.ID) error
	vote           func(ctx context.Context, id models.ID, dir models.Vote) error
	toggleBookmark func(ctx context.Context, id models.ID) error

	mu    sync.Mutex
	calls map[string]int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: map[string]int{}}
}

func (g *fakeGateway) record(name string) {
	g.mu.Lock()
	g.calls[name]++
	g.mu.Unlock()
}

func (g *fakeGateway) count(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[name]
}

func (g *fakeGateway) FetchPosts(_ context.Context, page, size int, category string) (models.PostPage, error) {
	g.record("fetch_posts")
	if g.fetchPosts == nil {
		return models.PostPage{IsLast: true}, nil
	}
	return g.fetchPosts(page, size, category)
}

func (g *fakeGateway) SearchPosts(_ context.Context, query, cursor string, size int) (models.SearchPage, error) {
	g.record("search_posts")
	if g.searchPosts == nil {
		return models.SearchPage{}, nil
	}
	return g.searchPosts(query, cursor, size)
}

func (g *fakeGateway) FetchPost(_ context.Context, id models.ID) (models.Post, error) {
	g.record("fetch_post")
	if g.fetchPost == nil {
		return models.Post{}, ErrNotFound
	}
	return g.fetchPost(id)
}

func (g *fakeGateway) CreatePost(_ context.Context, in models.NewPost) (models.Post, error) {
	g.record("create_post")
	if g.createPost == nil {
		return models.Post{}, ErrTransient
	}
	return g.createPost(in)
}

func (g *fakeGateway) DeletePost(ctx context.Context, id models.ID) error {
	g.record("delete_post")
	if g.deletePost == nil {
		return nil
	}
	return g.deletePost(ctx, id)
}

func (g *fakeGateway) FetchComments(_ context.Context, postID models.ID) ([]models.Comment, error) {
	g.record("fetch_comments")
	if g.fetchComments == nil {
		return nil, nil
	}
	return g.fetchComments(postID)
}

func (g *fakeGateway) CreateComment(_ context.Context, postID models.ID, content string, parentID *models.ID) (models.Comment, error) {
	g.record("create_comment")
	if g.createComment == nil {
		return models.Comment{}, ErrTransient
	}
	return g.createComment(postID, content, parentID)
}

func (g *fakeGateway) DeleteComment(_ context.Context, id models.ID) error {
	g.record("delete_comment")
	if g.deleteComment == nil {
		return nil
	}
	return g.deleteComment(id)
}

func (g *fakeGateway) Vote(ctx context.Context, id models.ID, dir models.Vote) error {
	g.record("vote")
	if g.vote == nil {
		return nil
	}
	return g.vote(ctx, id, dir)
}

func (g *fakeGateway) ToggleBookmark(ctx context.Context, id models.ID) error {
	g.record("bookmark")
	if g.toggleBookmark == nil {
		return nil
	}
	return g.toggleBookmark(ctx, id)
}

// noticeRecorder collects notices for assertions.
type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *noticeRecorder) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *noticeRecorder) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

func makePost(id string, votes int) models.Post {
	return models.Post{
		ID:        models.ID(id),
		Title:     "post " + id,
		Content:   "content " + id,
		Author:    "alice",
		Category:  "general",
		Votes:     votes,
		UserVote:  models.VoteNone,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func makePosts(from, n int) []models.Post {
	out := make([]models.Post, 0, n)
	for i := from; i < from+n; i++ {
		out = append(out, makePost(fmt.Sprint(i), i))
	}
	return out
}

func ids(posts []models.Post) []models.ID {
	out := make([]models.ID, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

func waitFor(ch <-chan struct{}, what string) error {
	select {
	case <-ch:
		return nil
	case <-time.After(2 * time.Second):
		return fmt.Errorf("timed out waiting for %s", what)
	}
}

func zapNop() *zap.Logger { return zap.NewNop() }
