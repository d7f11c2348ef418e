package store

import (
	"sync"

	"go.uber.org/zap"

	"github.com/cppla/feedsync/models"
)

// EventKind describes what changed in the cache.
type EventKind int

const (
	PostUpdated EventKind = iota
	PostRemoved
	PostInserted
	ListChanged
	CommentsChanged
)

func (k EventKind) String() string {
	switch k {
	case PostUpdated:
		return "post_updated"
	case PostRemoved:
		return "post_removed"
	case PostInserted:
		return "post_inserted"
	case ListChanged:
		return "list_changed"
	case CommentsChanged:
		return "comments_changed"
	}
	return "unknown"
}

// Event is delivered to subscribers after every committed cache change.
type Event struct {
	Kind   EventKind
	PostID models.ID
	List   ListKey
}

// Listener receives cache events on the goroutine that made the change.
type Listener func(Event)

type listeners struct {
	mu   sync.RWMutex
	next int
	fns  map[int]Listener
}

func (l *listeners) add(fn Listener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = map[int]Listener{}
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listeners) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	l.mu.RLock()
	fns := make([]Listener, 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()
	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// Notice is a user-visible failure report.
type Notice struct {
	Action string // vote, bookmark, delete, comment, load
	PostID models.ID
	Err    error
}

// Notifier surfaces failures to the user. Implementations must not block.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// LogNotifier writes notices to a zap logger; it is the default when none is configured.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Notify(notice Notice) {
	n.Log.Warn("action failed",
		zap.String("action", notice.Action),
		zap.String("post_id", notice.PostID.String()),
		zap.Error(notice.Err),
	)
}
