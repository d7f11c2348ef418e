package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/feedsync/config"
	"github.com/cppla/feedsync/models"
)

// Options configures a Feed. Zero values get defaults.
type Options struct {
	PageSize         int
	SearchDebounce   time.Duration
	CommentRetention int
	MergePolicy      MergePolicy
	RequestTimeout   time.Duration
	Notifier         Notifier
	Logger           *zap.Logger
}

// OptionsFromConfig maps the application config onto Feed options.
func OptionsFromConfig(cfg config.AppConfig, log *zap.Logger) Options {
	policy := MergePreserveLocal
	if cfg.AppendMergeOverride {
		policy = MergeOverwrite
	}
	return Options{
		PageSize:         cfg.PageSize,
		SearchDebounce:   time.Duration(cfg.SearchDebounceMs) * time.Millisecond,
		CommentRetention: cfg.CommentRetention,
		MergePolicy:      policy,
		RequestTimeout:   time.Duration(cfg.GatewayTimeoutMs) * time.Millisecond,
		Logger:           log,
	}
}

// Feed is what screens talk to: one post cache shared by the mutation engine,
// the comment tree and the paginator, all over one gateway.
type Feed struct {
	gw       Gateway
	cache    *PostCache
	engine   *Engine
	comments *CommentTree
	pages    *Paginator
	notifier Notifier
	log      *zap.Logger
}

// NewFeed wires a Feed around gw.
func NewFeed(gw Gateway, opts Options) *Feed {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Log: opts.Logger}
	}
	if opts.CommentRetention <= 0 {
		opts.CommentRetention = 32
	}
	cache := NewPostCache(opts.MergePolicy)
	return &Feed{
		gw:    gw,
		cache: cache,
		engine: NewEngine(cache, gw, EngineConfig{
			Notifier: opts.Notifier,
			Logger:   opts.Logger,
			Timeout:  opts.RequestTimeout,
		}),
		comments: NewCommentTree(cache, gw, opts.Notifier, opts.Logger, opts.CommentRetention),
		pages: NewPaginator(cache, gw, PaginatorConfig{
			PageSize:       opts.PageSize,
			SearchDebounce: opts.SearchDebounce,
			Notifier:       opts.Notifier,
			Logger:         opts.Logger,
		}),
		notifier: opts.Notifier,
		log:      opts.Logger,
	}
}

// Cache exposes the underlying post cache for read access.
func (f *Feed) Cache() *PostCache { return f.cache }

// Subscribe registers fn for every committed cache change.
func (f *Feed) Subscribe(fn Listener) func() { return f.cache.Subscribe(fn) }

// GetPostByID reads a cached post.
func (f *Feed) GetPostByID(id models.ID) (models.Post, bool) { return f.cache.Get(id) }

// UpdatePost applies fn to a cached post and reports whether it was present.
func (f *Feed) UpdatePost(id models.ID, fn func(models.Post) models.Post) bool {
	return f.cache.Update(id, fn)
}

// RemovePost drops a post the server already confirmed gone.
func (f *Feed) RemovePost(id models.ID) bool {
	_, ok := f.cache.Remove(id)
	return ok
}

// FetchPost loads one post into the cache. A post the server no longer has is
// removed from the cache; a malformed payload leaves the cache untouched.
func (f *Feed) FetchPost(ctx context.Context, id models.ID) (models.Post, error) {
	p, err := f.gw.FetchPost(ctx, id)
	if err == nil {
		if verr := p.Validate(); verr != nil {
			err = fmt.Errorf("%v: %w", verr, ErrMalformed)
		} else if p.ID != id {
			err = fmt.Errorf("asked for post %s, got %s: %w", id, p.ID, ErrMalformed)
		}
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			f.cache.Remove(id)
		} else {
			f.notifier.Notify(Notice{Action: "load_post", PostID: id, Err: err})
		}
		return models.Post{}, fmt.Errorf("fetch post %s: %w", id, err)
	}
	f.cache.Put(p)
	got, _ := f.cache.Get(id)
	return got, nil
}

// CreatePost publishes a post and places it at the head of the active browse list
// when the list shows its category.
func (f *Feed) CreatePost(ctx context.Context, in models.NewPost) (models.Post, error) {
	p, err := f.gw.CreatePost(ctx, in)
	if err == nil {
		if verr := p.Validate(); verr != nil {
			err = fmt.Errorf("%v: %w", verr, ErrMalformed)
		}
	}
	if err != nil {
		f.notifier.Notify(Notice{Action: "create_post", Err: err})
		return models.Post{}, fmt.Errorf("create post: %w", err)
	}
	state := f.pages.State()
	if state.List.Mode == BrowseMode && (state.List.Value == "" || state.List.Value == p.Category) {
		f.cache.Prepend(state.List, p)
	} else {
		f.cache.Put(p)
	}
	return p, nil
}

// Vote applies dir optimistically and confirms it with the server.
func (f *Feed) Vote(ctx context.Context, id models.ID, dir models.Vote) *Mutation {
	return f.engine.Vote(ctx, id, dir)
}

// ToggleBookmark flips the bookmark optimistically and confirms it with the server.
func (f *Feed) ToggleBookmark(ctx context.Context, id models.ID) *Mutation {
	return f.engine.ToggleBookmark(ctx, id)
}

// DeletePost hides the post at once and restores it if the server refuses.
func (f *Feed) DeletePost(ctx context.Context, id models.ID) *Mutation {
	return f.engine.Delete(ctx, id)
}

// LoadComments always refetches the comment tree of a post.
func (f *Feed) LoadComments(ctx context.Context, postID models.ID) error {
	return f.comments.Load(ctx, postID)
}

// EnsureComments fetches the comment tree only if it is missing or invalidated.
func (f *Feed) EnsureComments(ctx context.Context, postID models.ID) error {
	return f.comments.Ensure(ctx, postID)
}

// CreateComment posts a comment, or a reply when parentID is set.
func (f *Feed) CreateComment(ctx context.Context, postID models.ID, content string, parentID *models.ID) (models.Comment, error) {
	return f.comments.Create(ctx, postID, content, parentID)
}

// DeleteComment removes a comment of postID on the server and locally.
func (f *Feed) DeleteComment(ctx context.Context, postID, commentID models.ID) error {
	return f.comments.Delete(ctx, postID, commentID)
}

// RefreshPosts reloads the first page of the active list.
func (f *Feed) RefreshPosts(ctx context.Context) error { return f.pages.Refresh(ctx) }

// LoadNextPage appends the next page of the active list.
func (f *Feed) LoadNextPage(ctx context.Context) error { return f.pages.LoadNextPage(ctx) }

// ResetAndReload switches the active list to key and loads its first page.
func (f *Feed) ResetAndReload(ctx context.Context, key ListKey) error {
	return f.pages.ResetAndReload(ctx, key)
}

// Search debounces text into a search reload.
func (f *Feed) Search(ctx context.Context, text string) { f.pages.Search(ctx, text) }

// PageState reports paging progress of the active list.
func (f *Feed) PageState() PageState { return f.pages.State() }

// Posts returns the active list in display order.
func (f *Feed) Posts() []models.Post { return f.pages.Posts() }

// Wait blocks until every mutation started so far has committed or rolled back.
func (f *Feed) Wait() { f.engine.Wait() }
