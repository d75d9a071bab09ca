// Copyright 2024-2026 Aiku AI

package relay

import (
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// lanes runs tasks in submission order per key and in parallel across keys.
// A key's goroutine exits as soon as its queue is empty.
type lanes struct {
	mu     sync.Mutex
	queues map[string][]func()
	wg     sync.WaitGroup
	log    zerolog.Logger
}

func newLanes(log zerolog.Logger) *lanes {
	return &lanes{
		queues: make(map[string][]func()),
		log:    log,
	}
}

func (l *lanes) submit(key string, task func()) {
	l.wg.Add(1)
	l.mu.Lock()
	q, running := l.queues[key]
	l.queues[key] = append(q, task)
	l.mu.Unlock()
	if !running {
		go l.drain(key)
	}
}

func (l *lanes) drain(key string) {
	for {
		l.mu.Lock()
		q := l.queues[key]
		if len(q) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		task := q[0]
		l.queues[key] = q[1:]
		l.mu.Unlock()
		l.run(key, task)
	}
}

func (l *lanes) run(key string, task func()) {
	defer l.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().
				Str("lane", key).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from panic in relay task")
		}
	}()
	task()
}

// wait blocks until every submitted task has finished.
func (l *lanes) wait() {
	l.wg.Wait()
}

func (l *lanes) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}
