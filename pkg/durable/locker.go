package durable

import (
	"context"
	"sync"
)

// Locker serialises executions of the same run across goroutines or processes.
type Locker interface {
	// Lock acquires the run lock. It returns ErrLocked when the lock is held
	// elsewhere and cannot be obtained before ctx is done.
	Lock(ctx context.Context, runID string) (unlock func(), err error)
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) Lock(ctx context.Context, runID string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[runID]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[runID] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ErrLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-slot })
	}, nil
}
