// Copyright 2024-2026 Aiku AI

// Package schedule provides keyed single-shot timers. Arming a key that
// already has a pending timer cancels the old one first, so there is at most
// one pending task per key.
package schedule

import (
	"sync"
	"time"
)

type task struct {
	timer *time.Timer
}

// Timers is a set of cancellable timers indexed by key. The zero value is
// not usable; call New.
type Timers[K comparable] struct {
	mu      sync.Mutex
	pending map[K]*task
	stopped bool
}

// New returns an empty timer set.
func New[K comparable]() *Timers[K] {
	return &Timers[K]{pending: make(map[K]*task)}
}

// Schedule runs fn after d unless the key is re-armed or cancelled first.
// fn runs on its own goroutine.
func (t *Timers[K]) Schedule(key K, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if prev, ok := t.pending[key]; ok {
		prev.timer.Stop()
	}
	tk := &task{}
	tk.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		// A stale fire lost the race against Schedule or Cancel.
		if t.pending[key] != tk {
			t.mu.Unlock()
			return
		}
		delete(t.pending, key)
		t.mu.Unlock()
		fn()
	})
	t.pending[key] = tk
}

// Cancel stops the pending timer for key. It reports whether one was pending.
func (t *Timers[K]) Cancel(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.pending[key]
	if !ok {
		return false
	}
	tk.timer.Stop()
	delete(t.pending, key)
	return true
}

// Pending reports whether key has a timer that has not fired yet.
func (t *Timers[K]) Pending(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[key]
	return ok
}

// Len returns the number of pending timers.
func (t *Timers[K]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Stop cancels every pending timer. Later calls to Schedule are ignored.
func (t *Timers[K]) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for key, tk := range t.pending {
		tk.timer.Stop()
		delete(t.pending, key)
	}
}
