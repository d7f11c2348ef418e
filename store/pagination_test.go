package store

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/cppla/feedsync/models"
)

func newPaginatorFixture(debounce time.Duration) (*PostCache, *fakeGateway, *noticeRecorder, *Paginator) {
	cache := NewPostCache(MergePreserveLocal)
	gw := newFakeGateway()
	rec := &noticeRecorder{}
	p := NewPaginator(cache, gw, PaginatorConfig{PageSize: 5, SearchDebounce: debounce, Notifier: rec})
	return cache, gw, rec, p
}

func TestOffsetPagesAppendUntilLast(t *testing.T) {
	_, gw, _, p := newPaginatorFixture(0)
	gw.fetchPosts = func(page, size int, _ string) (models.PostPage, error) {
		return models.PostPage{Items: makePosts(page*size+1, size), IsLast: page == 1}, nil
	}
	ctx := context.Background()

	if err := p.ResetAndReload(ctx, Browse("")); err != nil {
		t.Fatal(err)
	}
	if st := p.State(); !st.HasMore || st.Page != 1 {
		t.Fatalf("after first page: %+v", st)
	}
	if err := p.LoadNextPage(ctx); err != nil {
		t.Fatal(err)
	}
	posts := p.Posts()
	if len(posts) != 10 {
		t.Fatalf("expected 10 posts, got %d", len(posts))
	}
	want := []models.ID{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"}
	if got := ids(posts); !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v", got)
	}
	if p.State().HasMore {
		t.Fatal("is_last page should end pagination")
	}

	if err := p.LoadNextPage(ctx); err != nil {
		t.Fatal(err)
	}
	if n := gw.count("fetch_posts"); n != 2 {
		t.Fatalf("exhausted list fetched again, calls=%d", n)
	}
}

func TestEmptyPageEndsPagination(t *testing.T) {
	_, gw, _, p := newPaginatorFixture(0)
	gw.fetchPosts = func(page, size int, _ string) (models.PostPage, error) {
		if page == 0 {
			return models.PostPage{Items: makePosts(1, size)}, nil
		}
		return models.PostPage{}, nil
	}
	ctx := context.Background()
	if err := p.ResetAndReload(ctx, Browse("")); err != nil {
		t.Fatal(err)
	}
	if err := p.LoadNextPage(ctx); err != nil {
		t.Fatal(err)
	}
	if p.State().HasMore {
		t.Fatal("empty page should end pagination")
	}
}

func TestAppendKeepsFirstOccurrenceOrder(t *testing.T) {
	cache, gw, _, p := newPaginatorFixture(0)
	gw.fetchPosts = func(page, _ int, _ string) (models.PostPage, error) {
		if page == 0 {
			return models.PostPage{Items: makePosts(1, 3)}, nil
		}
		// the feed shifted by one: post 3 comes again
		return models.PostPage{Items: makePosts(3, 3), IsLast: true}, nil
	}
	ctx := context.Background()
	if err := p.ResetAndReload(ctx, Browse("")); err != nil {
		t.Fatal(err)
	}
	if err := p.LoadNextPage(ctx); err != nil {
		t.Fatal(err)
	}
	want := []models.ID{"1", "2", "3", "4", "5"}
	if got := ids(cache.List(Browse(""))); !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestLoadNextPageBusyWhileInFlight(t *testing.T) {
	_, gw, _, p := newPaginatorFixture(0)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	gw.fetchPosts = func(page, size int, _ string) (models.PostPage, error) {
		once.Do(func() { close(started) })
		<-release
		return models.PostPage{Items: makePosts(1, size)}, nil
	}
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- p.LoadNextPage(ctx) }()
	if err := waitFor(started, "first page"); err != nil {
		t.Fatal(err)
	}
	if !p.State().Loading {
		t.Fatal("expected loading state")
	}
	if err := p.LoadNextPage(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if n := gw.count("fetch_posts"); n != 1 {
		t.Fatalf("concurrent load reached the server, calls=%d", n)
	}
	if p.State().Loading {
		t.Fatal("loading flag not cleared")
	}
}

func TestSwitchingContextDropsStaleResponse(t *testing.T) {
	cache, gw, _, p := newPaginatorFixture(0)
	aStarted := make(chan struct{})
	releaseA := make(chan struct{})
	gw.searchPosts = func(query, _ string, _ int) (models.SearchPage, error) {
		if query == "a" {
			close(aStarted)
			<-releaseA
			return models.SearchPage{Items: makePosts(1, 2), NextCursor: "a-next"}, nil
		}
		return models.SearchPage{Items: makePosts(10, 1)}, nil
	}
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- p.ResetAndReload(ctx, Search("a")) }()
	if err := waitFor(aStarted, "search a"); err != nil {
		t.Fatal(err)
	}
	if err := p.ResetAndReload(ctx, Search("ab")); err != nil {
		t.Fatal(err)
	}
	close(releaseA)
	if err := <-done; err != nil {
		t.Fatalf("superseded search should return nil, got %v", err)
	}

	if got := ids(p.Posts()); !reflect.DeepEqual(got, []models.ID{"10"}) {
		t.Fatalf("active list = %v", got)
	}
	if cache.Len(Search("a")) != 0 {
		t.Fatal("stale response was merged")
	}
	st := p.State()
	if st.List != Search("ab") || st.Cursor != "" || st.HasMore {
		t.Fatalf("state after supersession: %+v", st)
	}
}

func TestSearchCursorPages(t *testing.T) {
	_, gw, _, p := newPaginatorFixture(0)
	var cursors []string
	gw.searchPosts = func(_, cursor string, _ int) (models.SearchPage, error) {
		cursors = append(cursors, cursor)
		switch cursor {
		case "":
			return models.SearchPage{Items: makePosts(1, 2), NextCursor: "c2"}, nil
		case "c2":
			return models.SearchPage{Items: makePosts(3, 2), NextCursor: "c3"}, nil
		}
		return models.SearchPage{Items: makePosts(5, 1)}, nil
	}
	ctx := context.Background()

	if err := p.ResetAndReload(ctx, Search("go")); err != nil {
		t.Fatal(err)
	}
	for p.State().HasMore {
		if err := p.LoadNextPage(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if !reflect.DeepEqual(cursors, []string{"", "c2", "c3"}) {
		t.Fatalf("cursors sent = %v", cursors)
	}
	if n := len(p.Posts()); n != 5 {
		t.Fatalf("expected 5 posts, got %d", n)
	}
}

func TestMalformedPageLeavesCacheUnchanged(t *testing.T) {
	cache, gw, rec, p := newPaginatorFixture(0)
	cache.UpsertMany(Browse(""), makePosts(1, 2), Replace)
	gw.fetchPosts = func(int, int, string) (models.PostPage, error) {
		bad := makePost("", 0)
		return models.PostPage{Items: []models.Post{makePost("9", 0), bad}}, nil
	}

	err := p.ResetAndReload(context.Background(), Browse(""))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
	if got := ids(cache.List(Browse(""))); !reflect.DeepEqual(got, []models.ID{"1", "2"}) {
		t.Fatalf("cache changed: %v", got)
	}
	if len(rec.all()) != 1 {
		t.Fatalf("expected one notice, got %d", len(rec.all()))
	}
	if p.State().Loading {
		t.Fatal("loading flag not cleared after failure")
	}
}

func TestCategorySwitchFetchesCategory(t *testing.T) {
	_, gw, _, p := newPaginatorFixture(0)
	var got string
	gw.fetchPosts = func(_, _ int, category string) (models.PostPage, error) {
		got = category
		return models.PostPage{IsLast: true}, nil
	}
	if err := p.ResetAndReload(context.Background(), Browse("golang")); err != nil {
		t.Fatal(err)
	}
	if got != "golang" {
		t.Fatalf("category sent = %q", got)
	}
}

func TestDebouncedSearchSendsLatestOnly(t *testing.T) {
	_, gw, _, p := newPaginatorFixture(30 * time.Millisecond)
	queries := make(chan string, 4)
	gw.searchPosts = func(query, _ string, _ int) (models.SearchPage, error) {
		queries <- query
		return models.SearchPage{}, nil
	}
	ctx := context.Background()

	p.Search(ctx, "g")
	p.Search(ctx, "go")
	p.Search(ctx, "gol")

	select {
	case q := <-queries:
		if q != "gol" {
			t.Fatalf("searched %q, want gol", q)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("debounced search never fired")
	}
	time.Sleep(100 * time.Millisecond)
	if n := gw.count("search_posts"); n != 1 {
		t.Fatalf("expected one search, got %d", n)
	}
}

func TestBlankSearchReturnsToLastCategory(t *testing.T) {
	_, gw, _, p := newPaginatorFixture(10 * time.Millisecond)
	categories := make(chan string, 4)
	gw.fetchPosts = func(_, _ int, category string) (models.PostPage, error) {
		categories <- category
		return models.PostPage{IsLast: true}, nil
	}
	ctx := context.Background()
	if err := p.ResetAndReload(ctx, Browse("rust")); err != nil {
		t.Fatal(err)
	}
	<-categories
	if err := p.ResetAndReload(ctx, Search("x")); err != nil {
		t.Fatal(err)
	}

	p.Search(ctx, "   ")
	select {
	case c := <-categories:
		if c != "rust" {
			t.Fatalf("browsed %q, want rust", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blank search did not reload browse list")
	}
}
