// Copyright 2024-2026 Aiku AI

package schedule

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedule_Fires(t *testing.T) {
	t.Parallel()
	timers := New[string]()
	done := make(chan struct{})
	timers.Schedule("a", 10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	if timers.Pending("a") {
		t.Error("key should not be pending after firing")
	}
}

func TestSchedule_ReplacesPending(t *testing.T) {
	t.Parallel()
	timers := New[string]()
	var first, second atomic.Int32
	timers.Schedule("a", 30*time.Millisecond, func() { first.Add(1) })
	timers.Schedule("a", 30*time.Millisecond, func() { second.Add(1) })

	if got := timers.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}
	time.Sleep(120 * time.Millisecond)
	if first.Load() != 0 {
		t.Error("replaced timer should not fire")
	}
	if second.Load() != 1 {
		t.Errorf("replacement fired %d times, want 1", second.Load())
	}
}

func TestSchedule_IndependentKeys(t *testing.T) {
	t.Parallel()
	timers := New[int]()
	var count atomic.Int32
	for i := range 5 {
		timers.Schedule(i, 10*time.Millisecond, func() { count.Add(1) })
	}
	time.Sleep(100 * time.Millisecond)
	if got := count.Load(); got != 5 {
		t.Errorf("fired %d, want 5", got)
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	timers := New[string]()
	var fired atomic.Bool
	timers.Schedule("a", 20*time.Millisecond, func() { fired.Store(true) })

	if !timers.Cancel("a") {
		t.Fatal("Cancel should report a pending timer")
	}
	if timers.Cancel("a") {
		t.Error("second Cancel should report nothing pending")
	}
	time.Sleep(60 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled timer fired")
	}
}

func TestStop(t *testing.T) {
	t.Parallel()
	timers := New[string]()
	var fired atomic.Int32
	timers.Schedule("a", 20*time.Millisecond, func() { fired.Add(1) })
	timers.Schedule("b", 20*time.Millisecond, func() { fired.Add(1) })
	timers.Stop()
	timers.Schedule("c", time.Millisecond, func() { fired.Add(1) })

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("fired %d timers after Stop", fired.Load())
	}
	if timers.Len() != 0 {
		t.Errorf("Len = %d after Stop", timers.Len())
	}
}
