package durable

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrRunNotFound     = errors.New("run not found")
	ErrRunExists       = errors.New("run already exists")
	ErrVersionConflict = errors.New("run version conflict")
	ErrLocked          = errors.New("run is locked by another worker")
	ErrNoHandler       = errors.New("no handler registered for workflow kind")
	ErrDiverged        = errors.New("run advanced by another executor")
)

// Store persists runs. Save must reject a run whose Version does not match the
// stored version with ErrVersionConflict, and bump run.Version on success.
type Store interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	Save(ctx context.Context, run *Run) error
	// ListDue returns the ids of non-terminal runs whose WakeAt is at or before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// MemoryStore is an in-process Store used by tests and single-node setups.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]*Run
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run)}
}

func (s *MemoryStore) Create(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return ErrRunExists
	}
	run.Version = 1
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.runs[run.ID]
	if !ok {
		return ErrRunNotFound
	}
	if cur.Version != run.Version {
		return ErrVersionConflict
	}
	run.Version++
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *MemoryStore) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*Run, 0)
	for _, r := range s.runs {
		if r.State.IsTerminal() || r.WakeAt == nil || r.WakeAt.After(now) {
			continue
		}
		due = append(due, r)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].WakeAt.Before(*due[j].WakeAt) })

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, len(due))
	for i, r := range due {
		ids[i] = r.ID
	}
	return ids, nil
}
