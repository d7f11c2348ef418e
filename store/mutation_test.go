package store

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"github.com/cppla/feedsync/models"
)

func newEngineFixture(posts ...models.Post) (*PostCache, *fakeGateway, *noticeRecorder, *Engine) {
	cache := NewPostCache(MergePreserveLocal)
	cache.UpsertMany(Browse(""), posts, Replace)
	gw := newFakeGateway()
	rec := &noticeRecorder{}
	return cache, gw, rec, NewEngine(cache, gw, EngineConfig{Notifier: rec})
}

func TestVoteTransitionTable(t *testing.T) {
	cases := []struct {
		current   models.Vote
		requested models.Vote
		want      models.Vote
		delta     int
	}{
		{models.VoteNone, models.VoteUp, models.VoteUp, 1},
		{models.VoteNone, models.VoteDown, models.VoteDown, -1},
		{models.VoteUp, models.VoteUp, models.VoteNone, -1},
		{models.VoteDown, models.VoteDown, models.VoteNone, 1},
		{models.VoteUp, models.VoteDown, models.VoteDown, -2},
		{models.VoteDown, models.VoteUp, models.VoteUp, 2},
	}
	for _, tc := range cases {
		t.Run(string(tc.current)+"->"+string(tc.requested), func(t *testing.T) {
			p := makePost("1", 10)
			p.UserVote = tc.current
			cache, gw, _, engine := newEngineFixture(p)

			m := engine.Vote(context.Background(), "1", tc.requested)
			if err := m.Wait(); err != nil {
				t.Fatalf("vote failed: %v", err)
			}
			got, _ := cache.Get("1")
			if got.UserVote != tc.want || got.Votes != 10+tc.delta {
				t.Fatalf("got %s/%d, want %s/%d", got.UserVote, got.Votes, tc.want, 10+tc.delta)
			}
			if m.State() != Committed {
				t.Fatalf("expected committed, got %s", m.State())
			}
			if gw.count("vote") != 1 {
				t.Fatalf("expected one gateway call, got %d", gw.count("vote"))
			}
		})
	}
}

func TestVoteSequenceArithmetic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 50; run++ {
		cache, _, _, engine := newEngineFixture(makePost("1", 0))

		current := models.VoteNone
		sum := 0
		steps := 1 + rng.Intn(12)
		for step := 0; step < steps; step++ {
			dir := models.VoteUp
			if rng.Intn(2) == 0 {
				dir = models.VoteDown
			}
			var delta int
			current, delta = models.NextVote(current, dir)
			sum += delta
			if err := engine.Vote(context.Background(), "1", dir).Wait(); err != nil {
				t.Fatalf("vote failed: %v", err)
			}
		}
		got, _ := cache.Get("1")
		if got.Votes != sum {
			t.Fatalf("run %d: votes %d, want %d", run, got.Votes, sum)
		}
		if got.UserVote != current {
			t.Fatalf("run %d: user vote %s, want %s", run, got.UserVote, current)
		}
	}
}

func TestBookmarkTwiceRestoresAndCallsTwice(t *testing.T) {
	cache, gw, _, engine := newEngineFixture(makePost("1", 0))

	if err := engine.ToggleBookmark(context.Background(), "1").Wait(); err != nil {
		t.Fatal(err)
	}
	if p, _ := cache.Get("1"); !p.Bookmarked {
		t.Fatal("first toggle should bookmark")
	}
	if err := engine.ToggleBookmark(context.Background(), "1").Wait(); err != nil {
		t.Fatal(err)
	}
	if p, _ := cache.Get("1"); p.Bookmarked {
		t.Fatal("second toggle should restore")
	}
	if gw.count("bookmark") != 2 {
		t.Fatalf("expected two gateway calls, got %d", gw.count("bookmark"))
	}
}

func TestRejectedVoteRollsBackExactly(t *testing.T) {
	cache, gw, rec, engine := newEngineFixture(makePost("1", 10))
	gw.vote = func(context.Context, models.ID, models.Vote) error { return ErrTransient }

	m := engine.Vote(context.Background(), "1", models.VoteUp)
	err := m.Wait()
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	got, _ := cache.Get("1")
	if got.Votes != 10 || got.UserVote != models.VoteNone {
		t.Fatalf("rollback left %s/%d", got.UserVote, got.Votes)
	}
	if m.State() != RolledBack {
		t.Fatalf("expected rolled back, got %s", m.State())
	}
	if n := rec.all(); len(n) != 1 || n[0].Action != "vote" {
		t.Fatalf("expected one vote notice, got %+v", n)
	}
}

func TestOptimisticStateVisibleBeforeServerAnswers(t *testing.T) {
	cache, gw, _, engine := newEngineFixture(makePost("1", 10))
	release := make(chan struct{})
	gw.vote = func(context.Context, models.ID, models.Vote) error {
		<-release
		return nil
	}

	m := engine.Vote(context.Background(), "1", models.VoteUp)
	got, _ := cache.Get("1")
	if got.UserVote != models.VoteUp || got.Votes != 11 {
		t.Fatalf("optimistic state not applied: %s/%d", got.UserVote, got.Votes)
	}
	if m.State() != Optimistic {
		t.Fatalf("expected optimistic, got %s", m.State())
	}

	close(release)
	if err := m.Wait(); err != nil {
		t.Fatal(err)
	}
	if m.State() != Committed {
		t.Fatalf("expected committed, got %s", m.State())
	}
}

func TestVoteAndBookmarkRollBackIndependently(t *testing.T) {
	cache, gw, _, engine := newEngineFixture(makePost("1", 10))
	voteGate := make(chan struct{})
	gw.vote = func(context.Context, models.ID, models.Vote) error {
		<-voteGate
		return ErrTransient
	}

	vote := engine.Vote(context.Background(), "1", models.VoteUp)
	bookmark := engine.ToggleBookmark(context.Background(), "1")
	if err := bookmark.Wait(); err != nil {
		t.Fatal(err)
	}
	close(voteGate)
	if err := vote.Wait(); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected vote failure, got %v", err)
	}

	got, _ := cache.Get("1")
	if got.Votes != 10 || got.UserVote != models.VoteNone {
		t.Fatalf("vote not rolled back: %s/%d", got.UserVote, got.Votes)
	}
	if !got.Bookmarked {
		t.Fatal("vote rollback erased the committed bookmark")
	}
}

func TestRollbackAbortsMutationsLayeredOnTop(t *testing.T) {
	cache, gw, rec, engine := newEngineFixture(makePost("1", 10))
	gate := make(chan struct{})
	gw.vote = func(context.Context, models.ID, models.Vote) error {
		<-gate
		return ErrTransient
	}

	first := engine.Vote(context.Background(), "1", models.VoteUp)
	second := engine.Vote(context.Background(), "1", models.VoteDown)
	if p, _ := cache.Get("1"); p.UserVote != models.VoteDown || p.Votes != 9 {
		t.Fatalf("layered optimistic state wrong: %s/%d", p.UserVote, p.Votes)
	}

	close(gate)
	if err := first.Wait(); !errors.Is(err, ErrTransient) {
		t.Fatalf("first: %v", err)
	}
	if err := second.Wait(); !errors.Is(err, ErrAborted) {
		t.Fatalf("second should abort, got %v", err)
	}
	if gw.count("vote") != 1 {
		t.Fatalf("aborted mutation must not reach the server, calls=%d", gw.count("vote"))
	}
	got, _ := cache.Get("1")
	if got.Votes != 10 || got.UserVote != models.VoteNone {
		t.Fatalf("expected original snapshot, got %s/%d", got.UserVote, got.Votes)
	}
	if len(rec.all()) != 1 {
		t.Fatalf("expected a single notice, got %d", len(rec.all()))
	}

	// the lane is usable again after the rollback
	gw.vote = nil
	if err := engine.Vote(context.Background(), "1", models.VoteUp).Wait(); err != nil {
		t.Fatalf("vote after rollback: %v", err)
	}
	if p, _ := cache.Get("1"); p.Votes != 11 {
		t.Fatalf("expected 11, got %d", p.Votes)
	}
}

func TestDeleteFailureRestoresPost(t *testing.T) {
	posts := makePosts(1, 3)
	posts[1].Bookmarked = true
	posts[1].UserVote = models.VoteDown
	cache, gw, rec, engine := newEngineFixture(posts...)
	before, _ := cache.Get("2")

	gate := make(chan struct{})
	gw.deletePost = func(context.Context, models.ID) error {
		<-gate
		return ErrTransient
	}

	m := engine.Delete(context.Background(), "2")
	if _, ok := cache.Get("2"); ok {
		t.Fatal("post still visible during optimistic delete")
	}
	close(gate)
	if err := m.Wait(); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected failure, got %v", err)
	}

	after, ok := cache.Get("2")
	if !ok || !reflect.DeepEqual(before, after) {
		t.Fatalf("post not restored exactly: before=%+v after=%+v", before, after)
	}
	if got := ids(cache.List(Browse(""))); !reflect.DeepEqual(got, []models.ID{"1", "2", "3"}) {
		t.Fatalf("post restored at wrong position: %v", got)
	}
	if len(rec.all()) != 1 {
		t.Fatalf("expected one notice, got %d", len(rec.all()))
	}
}

func TestNotFoundDropsPostWithoutRollback(t *testing.T) {
	cache, gw, rec, engine := newEngineFixture(makePost("1", 10))
	gw.vote = func(context.Context, models.ID, models.Vote) error { return ErrNotFound }

	m := engine.Vote(context.Background(), "1", models.VoteUp)
	if err := m.Wait(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, ok := cache.Get("1"); ok {
		t.Fatal("post deleted on the server should leave the cache")
	}
	if len(rec.all()) != 0 {
		t.Fatalf("not found is not a user-visible failure, got %+v", rec.all())
	}
	if m.State() != Committed {
		t.Fatalf("expected committed, got %s", m.State())
	}
}

func TestRollbackAfterConcurrentDeleteIsNoop(t *testing.T) {
	cache, gw, rec, engine := newEngineFixture(makePost("1", 10))
	gate := make(chan struct{})
	gw.vote = func(context.Context, models.ID, models.Vote) error {
		<-gate
		return ErrTransient
	}

	m := engine.Vote(context.Background(), "1", models.VoteUp)
	if err := engine.Delete(context.Background(), "1").Wait(); err != nil {
		t.Fatal(err)
	}
	close(gate)
	_ = m.Wait()

	if _, ok := cache.Get("1"); ok {
		t.Fatal("rollback resurrected a deleted post")
	}
	if len(rec.all()) != 0 {
		t.Fatalf("no notice expected for a post that is gone, got %+v", rec.all())
	}
}

func TestVoteRollbackWhileDeletePendingRestoresTombstone(t *testing.T) {
	cache, gw, rec, engine := newEngineFixture(makePosts(1, 3)...)
	before, _ := cache.Get("2")
	voteGate := make(chan struct{})
	deleteGate := make(chan struct{})
	gw.vote = func(context.Context, models.ID, models.Vote) error {
		<-voteGate
		return ErrTransient
	}
	gw.deletePost = func(context.Context, models.ID) error {
		<-deleteGate
		return ErrTransient
	}

	vote := engine.Vote(context.Background(), "2", models.VoteUp)
	del := engine.Delete(context.Background(), "2")
	close(voteGate)
	if err := vote.Wait(); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected vote failure, got %v", err)
	}
	if _, ok := cache.Get("2"); ok {
		t.Fatal("vote rollback brought back a post whose delete is pending")
	}
	close(deleteGate)
	if err := del.Wait(); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected delete failure, got %v", err)
	}

	after, ok := cache.Get("2")
	if !ok {
		t.Fatal("post not restored after failed delete")
	}
	if after.Votes != before.Votes || after.UserVote != before.UserVote {
		t.Fatalf("rejected vote survived: got %d/%s, want %d/%s", after.Votes, after.UserVote, before.Votes, before.UserVote)
	}
	if got := ids(cache.List(Browse(""))); !reflect.DeepEqual(got, []models.ID{"1", "2", "3"}) {
		t.Fatalf("post restored at wrong position: %v", got)
	}
	if len(rec.all()) != 2 {
		t.Fatalf("expected a notice per failed mutation, got %+v", rec.all())
	}
}

func TestConfirmedDeleteSurvivesRefresh(t *testing.T) {
	cache, gw, rec, engine := newEngineFixture()
	pager := NewPaginator(cache, gw, PaginatorConfig{PageSize: 5, Notifier: rec})
	gw.fetchPosts = func(int, int, string) (models.PostPage, error) {
		return models.PostPage{Items: makePosts(1, 3), IsLast: true}, nil
	}
	ctx := context.Background()
	if err := pager.ResetAndReload(ctx, Browse("")); err != nil {
		t.Fatal(err)
	}

	gate := make(chan struct{})
	gw.deletePost = func(context.Context, models.ID) error {
		<-gate
		return nil
	}
	m := engine.Delete(ctx, "2")
	// the server still lists the post until the delete lands
	if err := pager.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	close(gate)
	if err := m.Wait(); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, ok := cache.Get("2"); ok {
		t.Fatal("confirmed delete left the post cached")
	}
	if got := ids(cache.List(Browse(""))); !reflect.DeepEqual(got, []models.ID{"1", "3"}) {
		t.Fatalf("unexpected list after delete: %v", got)
	}
	if len(rec.all()) != 0 {
		t.Fatalf("no notice expected, got %+v", rec.all())
	}
}

func TestMutationOnUncachedPost(t *testing.T) {
	_, gw, _, engine := newEngineFixture()
	m := engine.ToggleBookmark(context.Background(), "404")
	if err := m.Wait(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if gw.count("bookmark") != 0 {
		t.Fatal("no gateway call expected for an uncached post")
	}
}

func TestCallerCancellationDoesNotCancelGatewayCall(t *testing.T) {
	cache, gw, _, engine := newEngineFixture(makePost("1", 0))
	started := make(chan struct{})
	release := make(chan struct{})
	gw.toggleBookmark = func(ctx context.Context, _ models.ID) error {
		close(started)
		<-release
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := engine.ToggleBookmark(ctx, "1")
	if err := waitFor(started, "gateway call"); err != nil {
		t.Fatal(err)
	}
	cancel() // screen navigated away
	close(release)

	if err := m.Wait(); err != nil {
		t.Fatalf("in-flight call should survive navigation, got %v", err)
	}
	if p, _ := cache.Get("1"); !p.Bookmarked {
		t.Fatal("bookmark should stay applied")
	}
}
