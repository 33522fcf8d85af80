package profiler

import (
	"sync"
	"time"
)

type counterKey struct {
	routine string
	stmtID  int
}

// MemStore is the in-process Store: a mutex-guarded counter map. The zero
// value is not usable; use NewMemStore.
type MemStore struct {
	mu       sync.Mutex
	counters map[counterKey]StmtStats
}

// NewMemStore builds an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{counters: map[counterKey]StmtStats{}}
}

// Record implements Store.
func (m *MemStore) Record(routine string, stmtID int, elapsed time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := counterKey{routine: routine, stmtID: stmtID}

	stats := m.counters[key]
	stats.ExecCount++
	stats.TotalTime += elapsed

	if elapsed > stats.MaxTime {
		stats.MaxTime = elapsed
	}

	m.counters[key] = stats

	return nil
}

// Snapshot implements Store.
func (m *MemStore) Snapshot(routine string) (map[int]StmtStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := map[int]StmtStats{}

	for key, stats := range m.counters {
		if key.routine == routine {
			out[key.stmtID] = stats
		}
	}

	return out, nil
}

// Reset implements Store.
func (m *MemStore) Reset(routine string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.counters {
		if key.routine == routine {
			delete(m.counters, key)
		}
	}

	return nil
}

// ResetAll implements Store.
func (m *MemStore) ResetAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters = map[counterKey]StmtStats{}

	return nil
}
