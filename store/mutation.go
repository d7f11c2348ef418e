package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cppla/feedsync/models"
)

// MutationKind names a user action that is applied optimistically.
type MutationKind string

const (
	KindVote     MutationKind = "vote"
	KindBookmark MutationKind = "bookmark"
	KindDelete   MutationKind = "delete"
)

// MutationState is the lifecycle of one optimistic action.
type MutationState int

const (
	Idle MutationState = iota
	Optimistic
	Committed
	RolledBack
)

func (s MutationState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Optimistic:
		return "optimistic"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	}
	return "unknown"
}

// Mutation is the handle of one optimistic action. Its optimistic state is already
// in the cache when the handle is returned; the gateway call completes in the background.
type Mutation struct {
	id     string
	kind   MutationKind
	postID models.ID

	lane  *lane
	epoch uint64
	prev  *Mutation

	// restore writes the pre-mutation snapshot back and reports whether it landed
	// anywhere. Called with the engine lock held.
	restore func() ([]Event, bool)
	// tomb is the pending tombstone of a delete.
	tomb *Tombstone

	done  chan struct{}
	mu    sync.Mutex
	state MutationState
	err   error
}

func newMutation(kind MutationKind, postID models.ID) *Mutation {
	return &Mutation{
		id:     uuid.NewString(),
		kind:   kind,
		postID: postID,
		done:   make(chan struct{}),
	}
}

// ID is a uuid used to correlate log lines of one mutation.
func (m *Mutation) ID() string { return m.id }

// Kind reports which action the mutation applies.
func (m *Mutation) Kind() MutationKind { return m.kind }

// PostID is the post the mutation targets.
func (m *Mutation) PostID() models.ID { return m.postID }

// Done is closed once the mutation committed or rolled back.
func (m *Mutation) Done() <-chan struct{} { return m.done }

// State reports where the mutation is in its lifecycle.
func (m *Mutation) State() MutationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the outcome once Done is closed.
func (m *Mutation) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Wait blocks until the mutation committed or rolled back and returns its error.
func (m *Mutation) Wait() error {
	<-m.done
	return m.Err()
}

func (m *Mutation) setState(s MutationState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Mutation) finish(s MutationState, err error) {
	m.mu.Lock()
	m.state = s
	m.err = err
	m.mu.Unlock()
	close(m.done)
}

type laneKey struct {
	postID models.ID
	kind   MutationKind
}

// lane orders mutations of one kind on one post. epoch advances on every rollback;
// mutations enqueued under an older epoch were layered on rolled back state.
type lane struct {
	key   laneKey
	epoch uint64
	tail  *Mutation
}

// EngineConfig tunes an Engine. Zero values get defaults.
type EngineConfig struct {
	Notifier Notifier
	Logger   *zap.Logger
	// Timeout bounds each gateway call. Calls are detached from the caller's
	// cancellation, so this is the only thing that ends a hung request.
	Timeout time.Duration
}

// Engine applies user actions to the cache before the server confirms them and
// reconciles once the gateway answers.
type Engine struct {
	cache    *PostCache
	gw       Gateway
	notifier Notifier
	log      *zap.Logger
	timeout  time.Duration

	mu    sync.Mutex
	lanes map[laneKey]*lane
	// tombs holds the tombstones of deletes still waiting for the server, so a
	// rollback of another field on the removed post can patch what comes back.
	tombs map[models.ID]*Tombstone
	wg    sync.WaitGroup
}

// NewEngine builds an engine writing to cache and calling gw.
func NewEngine(cache *PostCache, gw Gateway, cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = LogNotifier{Log: cfg.Logger}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Engine{
		cache:    cache,
		gw:       gw,
		notifier: cfg.Notifier,
		log:      cfg.Logger.Named("mutation"),
		timeout:  cfg.Timeout,
		lanes:    map[laneKey]*lane{},
		tombs:    map[models.ID]*Tombstone{},
	}
}

// Vote applies the vote transition locally and sends dir to the server.
func (e *Engine) Vote(ctx context.Context, id models.ID, dir models.Vote) *Mutation {
	m := newMutation(KindVote, id)
	if !dir.Valid() {
		m.finish(Idle, fmt.Errorf("vote %q: %w", dir, ErrRejected))
		return m
	}
	return e.start(ctx, m, func() (bool, []Event) {
		var prevVote models.Vote
		var prevVotes int
		ok, events := e.cache.update(id, func(p models.Post) models.Post {
			prevVote, prevVotes = p.UserVote, p.Votes
			next, delta := models.NextVote(p.UserVote, dir)
			p.UserVote = next
			p.Votes += delta
			return p
		})
		m.restore = func() ([]Event, bool) {
			ok, ev := e.cache.update(id, func(p models.Post) models.Post {
				p.UserVote = prevVote
				p.Votes = prevVotes
				return p
			})
			if !ok {
				return nil, e.patchTombLocked(id, func(p *models.Post) {
					p.UserVote = prevVote
					p.Votes = prevVotes
				})
			}
			return ev, true
		}
		return ok, events
	}, func(ctx context.Context) error {
		return e.gw.Vote(ctx, id, dir)
	})
}

// ToggleBookmark flips bookmarked locally and asks the server to do the same.
func (e *Engine) ToggleBookmark(ctx context.Context, id models.ID) *Mutation {
	m := newMutation(KindBookmark, id)
	return e.start(ctx, m, func() (bool, []Event) {
		var prev bool
		ok, events := e.cache.update(id, func(p models.Post) models.Post {
			prev = p.Bookmarked
			p.Bookmarked = !p.Bookmarked
			return p
		})
		m.restore = func() ([]Event, bool) {
			ok, ev := e.cache.update(id, func(p models.Post) models.Post {
				p.Bookmarked = prev
				return p
			})
			if !ok {
				return nil, e.patchTombLocked(id, func(p *models.Post) {
					p.Bookmarked = prev
				})
			}
			return ev, true
		}
		return ok, events
	}, func(ctx context.Context) error {
		return e.gw.ToggleBookmark(ctx, id)
	})
}

// Delete removes the post locally and asks the server to delete it. A failed
// delete puts the post back with its exact previous fields and list positions.
func (e *Engine) Delete(ctx context.Context, id models.ID) *Mutation {
	m := newMutation(KindDelete, id)
	return e.start(ctx, m, func() (bool, []Event) {
		tomb, ok, events := e.cache.remove(id)
		if ok {
			m.tomb = &tomb
			e.tombs[id] = m.tomb
		}
		m.restore = func() ([]Event, bool) {
			e.dropTombLocked(m)
			return e.cache.reinsert(*m.tomb), true
		}
		return ok, events
	}, func(ctx context.Context) error {
		return e.gw.DeletePost(ctx, id)
	})
}

// Wait blocks until every mutation started so far has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) start(ctx context.Context, m *Mutation, apply func() (bool, []Event), call func(context.Context) error) *Mutation {
	e.mu.Lock()
	ok, events := apply()
	if !ok {
		e.mu.Unlock()
		m.finish(Idle, fmt.Errorf("post %s not cached: %w", m.postID, ErrNotFound))
		return m
	}
	key := laneKey{postID: m.postID, kind: m.kind}
	ln, exists := e.lanes[key]
	if !exists {
		ln = &lane{key: key}
		e.lanes[key] = ln
	}
	m.lane = ln
	m.epoch = ln.epoch
	m.prev = ln.tail
	ln.tail = m
	m.setState(Optimistic)
	e.mu.Unlock()

	e.cache.subs.emit(events)
	e.log.Debug("optimistic applied",
		zap.String("mutation_id", m.id),
		zap.String("kind", string(m.kind)),
		zap.String("post_id", m.postID.String()),
	)

	e.wg.Add(1)
	go e.run(context.WithoutCancel(ctx), m, call)
	return m
}

func (e *Engine) run(ctx context.Context, m *Mutation, call func(context.Context) error) {
	defer e.wg.Done()
	defer e.release(m)

	if m.prev != nil {
		<-m.prev.done
	}
	e.mu.Lock()
	aborted := m.lane.epoch != m.epoch
	e.mu.Unlock()
	if aborted {
		e.log.Debug("mutation aborted", zap.String("mutation_id", m.id), zap.String("post_id", m.postID.String()))
		m.finish(RolledBack, ErrAborted)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	err := call(callCtx)
	cancel()

	fields := []zap.Field{
		zap.String("mutation_id", m.id),
		zap.String("kind", string(m.kind)),
		zap.String("post_id", m.postID.String()),
	}
	switch {
	case err == nil:
		e.log.Debug("mutation committed", fields...)
		if m.kind == KindDelete {
			e.settleDelete(m)
		}
		m.finish(Committed, nil)
	case errors.Is(err, ErrNotFound):
		// Gone on the server: treat as deleted locally, nothing to roll back.
		e.log.Info("post gone on server, dropping locally", fields...)
		if m.kind == KindDelete {
			e.settleDelete(m)
			m.finish(Committed, nil)
			return
		}
		e.cache.Remove(m.postID)
		m.finish(Committed, err)
	default:
		restored := e.rollback(m)
		e.log.Warn("mutation rolled back", append(fields, zap.Error(err))...)
		if restored {
			e.notifier.Notify(Notice{Action: string(m.kind), PostID: m.postID, Err: err})
		}
		m.finish(RolledBack, err)
	}
}

// rollback restores the mutation's snapshot and invalidates every later mutation
// queued on the same lane. It reports whether the post was still there to restore.
func (e *Engine) rollback(m *Mutation) bool {
	e.mu.Lock()
	m.lane.epoch++
	events, applied := m.restore()
	e.mu.Unlock()

	e.cache.subs.emit(events)
	return applied
}

// settleDelete forgets a confirmed delete's tombstone and removes the post again,
// since a list refresh may have brought it back while the call was in flight.
func (e *Engine) settleDelete(m *Mutation) {
	e.mu.Lock()
	e.dropTombLocked(m)
	e.mu.Unlock()
	e.cache.Remove(m.postID)
}

func (e *Engine) dropTombLocked(m *Mutation) {
	if e.tombs[m.postID] == m.tomb {
		delete(e.tombs, m.postID)
	}
}

// patchTombLocked applies fn to the pending tombstone of a removed post. It
// reports false when no delete of id is pending.
func (e *Engine) patchTombLocked(id models.ID, fn func(*models.Post)) bool {
	t, ok := e.tombs[id]
	if !ok {
		return false
	}
	fn(&t.Post)
	return true
}

func (e *Engine) release(m *Mutation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ln, ok := e.lanes[m.lane.key]; ok && ln == m.lane && ln.tail == m {
		delete(e.lanes, m.lane.key)
	}
}
