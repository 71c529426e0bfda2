package store

import (
	"context"
	"sync"
	"time"

	"github.com/eternal-audio/eternal-gate/internal/gate"
)

type memEntry struct {
	rec       gate.Record
	expiresAt time.Time // zero means no expiry
}

// MemStore is the embedded, thread-safe record store. Writes are served from
// memory and flushed to disk in the background when a persister is attached.
type MemStore struct {
	mu        sync.RWMutex
	records   map[string]memEntry
	persister *Persistence
	wg        sync.WaitGroup
}

// NewMemStore initializes a store. It accepts existing records (from
// Persistence.LoadAll) and an optional persister.
func NewMemStore(initial map[string]PersistedRecord, p *Persistence) *MemStore {
	records := make(map[string]memEntry, len(initial))
	for id, pr := range initial {
		records[id] = memEntry{rec: pr.Record, expiresAt: pr.ExpiresAt}
	}
	return &MemStore{records: records, persister: p}
}

// Wait blocks until all background persistence tasks have completed. Called on
// shutdown so the last write is on disk before the process exits.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

func (m *MemStore) Get(_ context.Context, id string) (gate.Record, error) {
	m.mu.RLock()
	entry, ok := m.records[id]
	m.mu.RUnlock()

	if !ok {
		return gate.Record{}, gate.ErrRecordNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		// Expiry is enforced lazily on read; the stale entry is dropped so a
		// later List does not resurrect it.
		m.mu.Lock()
		if current, still := m.records[id]; still && current.expiresAt.Equal(entry.expiresAt) {
			delete(m.records, id)
		}
		m.mu.Unlock()
		return gate.Record{}, gate.ErrRecordNotFound
	}
	return entry.rec, nil
}

func (m *MemStore) Put(_ context.Context, id string, rec gate.Record, ttl time.Duration) error {
	entry := memEntry{rec: rec}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.records[id] = entry
	m.mu.Unlock()

	if m.persister != nil {
		m.wg.Add(1)
		go func(id string, pr PersistedRecord) {
			defer m.wg.Done()
			m.persister.SaveRecord(id, pr)
		}(id, PersistedRecord{Record: rec, ExpiresAt: entry.expiresAt})
	}
	return nil
}

// List returns the ids of all live records.
func (m *MemStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var ids []string
	for id, entry := range m.records {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
