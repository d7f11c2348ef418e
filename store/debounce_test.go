package store

import (
	"sync"
	"testing"
	"time"
)

func TestDebouncerCoalesces(t *testing.T) {
	var mu sync.Mutex
	var got []int
	fired := make(chan struct{}, 8)
	d := NewDebouncer(20*time.Millisecond, func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
		fired <- struct{}{}
	})

	for i := 1; i <= 5; i++ {
		d.Trigger(i)
	}
	if err := waitFor(fired, "debounced call"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("got %v, want [5]", got)
	}
}

func TestDebouncerCancel(t *testing.T) {
	fired := make(chan struct{}, 1)
	d := NewDebouncer(10*time.Millisecond, func(string) { fired <- struct{}{} })
	d.Trigger("x")
	d.Cancel()

	select {
	case <-fired:
		t.Fatal("cancelled value fired")
	case <-time.After(50 * time.Millisecond):
	}
}
