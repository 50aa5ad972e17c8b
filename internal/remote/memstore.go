package remote

import (
	"context"
	"sync"

	"github.com/voxlog/voxsync/internal/record"
)

// MemStore is an in-memory Store used by tests and local development. It
// tracks per-record versions so optimistic-concurrency conflicts can be
// simulated, and exposes failure hooks for exercising the retry and
// discovery fallback paths.
type MemStore struct {
	mu       sync.Mutex
	records  map[string]*record.Remote
	versions map[string]int64
	saves    int
	deletes  int

	// FailSave, FailDelete, FailFetch, FailQuery, FailChanges, FailAccount
	// are consulted before each corresponding operation; a non-nil return is
	// surfaced as the operation's error. Nil hooks mean success.
	FailSave    func(rec *record.Remote) error
	FailDelete  func(name string) error
	FailFetch   func(name string) error
	FailQuery   func(recordType string) error
	FailChanges func() error
	FailAccount func() error
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		records:  make(map[string]*record.Remote),
		versions: make(map[string]int64),
	}
}

// Save implements Store.Save.
func (m *MemStore) Save(_ context.Context, rec *record.Remote) (*record.Remote, error) {
	if m.FailSave != nil {
		if err := m.FailSave(rec); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.records[rec.Name] = rec.Clone()
	m.versions[rec.Name]++
	return rec.Clone(), nil
}

// Delete implements Store.Delete.
func (m *MemStore) Delete(_ context.Context, name string) error {
	if m.FailDelete != nil {
		if err := m.FailDelete(name); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[name]; !ok {
		return NewError(KindNotFound, "no record named "+name)
	}
	m.deletes++
	delete(m.records, name)
	delete(m.versions, name)
	return nil
}

// Fetch implements Store.Fetch.
func (m *MemStore) Fetch(_ context.Context, name string) (*record.Remote, error) {
	if m.FailFetch != nil {
		if err := m.FailFetch(name); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

// Query implements Store.Query.
func (m *MemStore) Query(_ context.Context, recordType string) ([]*record.Remote, error) {
	if m.FailQuery != nil {
		if err := m.FailQuery(recordType); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*record.Remote
	for _, rec := range m.records {
		if rec.Type == recordType {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// ZoneChanges implements Store.ZoneChanges, visiting every live record.
func (m *MemStore) ZoneChanges(_ context.Context, fn func(*record.Remote) error) error {
	if m.FailChanges != nil {
		if err := m.FailChanges(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	snapshot := make([]*record.Remote, 0, len(m.records))
	for _, rec := range m.records {
		snapshot = append(snapshot, rec.Clone())
	}
	m.mu.Unlock()

	for _, rec := range snapshot {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// AccountStatus implements Store.AccountStatus.
func (m *MemStore) AccountStatus(_ context.Context) error {
	if m.FailAccount != nil {
		return m.FailAccount()
	}
	return nil
}

// SaveCount returns the number of successful saves. Used by idempotence tests.
func (m *MemStore) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// DeleteCount returns the number of successful deletes.
func (m *MemStore) DeleteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes
}

// Len returns the number of live records.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Put stores a record directly, bypassing hooks and counters. Test seeding.
func (m *MemStore) Put(rec *record.Remote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Name] = rec.Clone()
	m.versions[rec.Name]++
}
