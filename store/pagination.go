package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/feedsync/models"
)

// PageState is a snapshot of the paginator's cursor for the active list context.
type PageState struct {
	List    ListKey
	Page    int    // next offset page to fetch (browse mode)
	Cursor  string // next cursor to send (search mode)
	HasMore bool
	Loading bool
}

// PaginatorConfig tunes a Paginator. Zero values get defaults.
type PaginatorConfig struct {
	PageSize       int
	SearchDebounce time.Duration
	Notifier       Notifier
	Logger         *zap.Logger
}

// Paginator drives "load next page" for the active list context: offset pages for
// category browsing, cursors for search. Switching context resets the cursor and
// drops any response still in flight for the previous one.
type Paginator struct {
	cache    *PostCache
	gw       Gateway
	notifier Notifier
	log      *zap.Logger
	pageSize int
	search   *Debouncer[searchRequest]

	mu           sync.Mutex
	key          ListKey
	gen          uint64
	page         int
	cursor       string
	hasMore      bool
	loading      bool
	lastCategory string
}

type searchRequest struct {
	ctx  context.Context
	text string
}

// NewPaginator starts on the all-categories browse list without fetching.
func NewPaginator(cache *PostCache, gw Gateway, cfg PaginatorConfig) *Paginator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = LogNotifier{Log: cfg.Logger}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.SearchDebounce <= 0 {
		cfg.SearchDebounce = 400 * time.Millisecond
	}
	p := &Paginator{
		cache:    cache,
		gw:       gw,
		notifier: cfg.Notifier,
		log:      cfg.Logger.Named("pagination"),
		pageSize: cfg.PageSize,
		key:      Browse(""),
		hasMore:  true,
	}
	p.search = NewDebouncer(cfg.SearchDebounce, p.runSearch)
	return p
}

// State returns the current pagination state.
func (p *Paginator) State() PageState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PageState{List: p.key, Page: p.page, Cursor: p.cursor, HasMore: p.hasMore, Loading: p.loading}
}

// Posts returns the posts of the active list context.
func (p *Paginator) Posts() []models.Post {
	p.mu.Lock()
	key := p.key
	p.mu.Unlock()
	return p.cache.List(key)
}

// ResetAndReload makes key the active list context and fetches its first page,
// replacing whatever the cache held for it.
func (p *Paginator) ResetAndReload(ctx context.Context, key ListKey) error {
	p.mu.Lock()
	p.key = key
	p.gen++
	gen := p.gen
	p.page = 0
	p.cursor = ""
	p.hasMore = true
	p.loading = true
	if key.Mode == BrowseMode {
		p.lastCategory = key.Value
	}
	p.mu.Unlock()

	return p.fetch(ctx, key, gen, 0, "", Replace)
}

// Refresh reloads the first page of the active list context.
func (p *Paginator) Refresh(ctx context.Context) error {
	p.mu.Lock()
	key := p.key
	p.mu.Unlock()
	return p.ResetAndReload(ctx, key)
}

// LoadNextPage appends the next page of the active list. It returns ErrBusy while
// another page request for the same context is in flight and does nothing once the
// list is exhausted.
func (p *Paginator) LoadNextPage(ctx context.Context) error {
	p.mu.Lock()
	if p.loading {
		p.mu.Unlock()
		return ErrBusy
	}
	if !p.hasMore {
		p.mu.Unlock()
		return nil
	}
	p.loading = true
	key, gen, page, cursor := p.key, p.gen, p.page, p.cursor
	p.mu.Unlock()

	mode := Append
	if key.Mode == BrowseMode && page == 0 || key.Mode == SearchMode && cursor == "" {
		// nothing loaded yet for this context
		mode = Replace
	}
	return p.fetch(ctx, key, gen, page, cursor, mode)
}

// Search debounces text into a search reload. Blank text returns to browsing the
// last category. Only the latest text within the debounce window is sent.
func (p *Paginator) Search(ctx context.Context, text string) {
	p.search.Trigger(searchRequest{ctx: ctx, text: text})
}

// CancelSearch drops a debounced search that has not fired yet.
func (p *Paginator) CancelSearch() {
	p.search.Cancel()
}

func (p *Paginator) runSearch(req searchRequest) {
	text := strings.TrimSpace(req.text)
	key := Search(text)
	if text == "" {
		p.mu.Lock()
		key = Browse(p.lastCategory)
		p.mu.Unlock()
	}
	if err := p.ResetAndReload(req.ctx, key); err != nil {
		p.log.Debug("debounced search failed", zap.String("list", key.String()), zap.Error(err))
	}
}

func (p *Paginator) fetch(ctx context.Context, key ListKey, gen uint64, page int, cursor string, mode MergeMode) error {
	var (
		items      []models.Post
		hasMore    bool
		nextCursor string
		err        error
	)
	switch key.Mode {
	case SearchMode:
		var res models.SearchPage
		res, err = p.gw.SearchPosts(ctx, key.Value, cursor, p.pageSize)
		items, nextCursor = res.Items, res.NextCursor
		hasMore = nextCursor != ""
	default:
		var res models.PostPage
		res, err = p.gw.FetchPosts(ctx, page, p.pageSize, key.Value)
		items = res.Items
		hasMore = len(items) > 0 && !res.IsLast
	}
	if err == nil {
		err = validatePage(items)
	}

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		p.log.Debug("dropping stale page", zap.String("list", key.String()), zap.Uint64("gen", gen))
		return nil
	}
	p.loading = false
	if err != nil {
		p.mu.Unlock()
		p.notifier.Notify(Notice{Action: "load_posts", Err: err})
		return fmt.Errorf("load %s: %w", key, err)
	}
	if key.Mode == SearchMode {
		p.cursor = nextCursor
	} else {
		p.page = page + 1
	}
	p.hasMore = hasMore
	added, events := p.cache.upsertMany(key, items, mode)
	p.mu.Unlock()

	p.cache.subs.emit(events)
	p.log.Debug("page merged",
		zap.String("list", key.String()),
		zap.Int("items", len(items)),
		zap.Int("added", added),
		zap.Bool("has_more", hasMore),
	)
	return nil
}

func validatePage(items []models.Post) error {
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return fmt.Errorf("%v: %w", err, ErrMalformed)
		}
	}
	return nil
}
