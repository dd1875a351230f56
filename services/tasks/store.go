package tasks

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
)

// Store is the process-local registry of the latest snapshot per task.
//
// Writes to one task id are serialized; reads never wait for a writer and
// writes to different ids proceed in parallel. Snapshots are copied on the
// way in and out.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*storeEntry
}

type storeEntry struct {
	write sync.Mutex
	rec   atomic.Pointer[task.Record]
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*storeEntry)}
}

func (s *Store) entry(taskID string, create bool) *storeEntry {
	s.mu.RLock()
	e := s.entries[taskID]
	s.mu.RUnlock()
	if e != nil || !create {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e = s.entries[taskID]; e == nil {
		e = &storeEntry{}
		s.entries[taskID] = e
	}
	return e
}

// Put records a snapshot. A snapshot whose ledger status would move
// backwards from the stored one is rejected with an InvalidStateError.
func (s *Store) Put(rec *task.Record) error {
	if rec == nil || rec.TaskID == "" {
		return task.NewInvalidStateError("store_put", "", "record without task id")
	}
	return s.Update(rec.TaskID, func(*task.Record) (*task.Record, error) {
		return rec, nil
	})
}

// Update applies fn to the current snapshot of taskID (nil if absent) while
// holding the writer lock of that id, and stores the result.
func (s *Store) Update(taskID string, fn func(cur *task.Record) (*task.Record, error)) error {
	e := s.entry(taskID, true)
	e.write.Lock()
	defer e.write.Unlock()

	cur := e.rec.Load()
	next, err := fn(cur.Clone())
	if err != nil {
		return err
	}
	if next == nil {
		return task.NewInvalidStateError("store_update", taskID, "update produced no record")
	}
	if next.TaskID != taskID {
		return task.NewInvalidStateError("store_update", taskID, fmt.Sprintf("record id %s does not match key", next.TaskID))
	}
	if cur != nil && !cur.LedgerStatus.CanTransition(next.LedgerStatus) {
		return task.NewInvalidStateError("store_update", taskID,
			fmt.Sprintf("ledger status cannot move %s -> %s", cur.LedgerStatus, next.LedgerStatus))
	}
	e.rec.Store(next.Clone())
	return nil
}

// Get returns a copy of the latest snapshot of taskID.
func (s *Store) Get(taskID string) (*task.Record, bool) {
	e := s.entry(taskID, false)
	if e == nil {
		return nil, false
	}
	rec := e.rec.Load()
	if rec == nil {
		return nil, false
	}
	return rec.Clone(), true
}

// List returns copies of all snapshots ordered by submission time.
func (s *Store) List() []*task.Record {
	s.mu.RLock()
	out := make([]*task.Record, 0, len(s.entries))
	for _, e := range s.entries {
		if rec := e.rec.Load(); rec != nil {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// Len returns the number of stored snapshots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.rec.Load() != nil {
			n++
		}
	}
	return n
}

// Delete removes the snapshot of taskID.
func (s *Store) Delete(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, taskID)
}

// Prune removes finished snapshots last updated before cutoff and returns how
// many were removed.
func (s *Store) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		rec := e.rec.Load()
		if rec == nil || !rec.Finished() || !rec.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(s.entries, id)
		removed++
	}
	return removed
}
