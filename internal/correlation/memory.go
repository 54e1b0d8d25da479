package correlation

import (
	"context"
	"sort"
	"sync"
	"time"

	"tgwabridge/internal/domain"
)

// MemoryStore is a process-local store for tests and single-run setups.
// Records are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.CorrelationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]domain.CorrelationRecord)}
}

func (m *MemoryStore) Lookup(_ context.Context, userID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[userID]
	return r.MessageID, ok, nil
}

func (m *MemoryStore) Upsert(_ context.Context, userID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[userID] = domain.CorrelationRecord{UserID: userID, MessageID: messageID, UpdatedAt: time.Now()}
	return nil
}

// Records returns copies of all records, most recently updated first.
func (m *MemoryStore) Records(context.Context) ([]domain.CorrelationRecord, error) {
	m.mu.RLock()
	out := make([]domain.CorrelationRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryStore) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
