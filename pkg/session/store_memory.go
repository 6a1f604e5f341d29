package session

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

type memoryStore struct {
	records *expirable.LRU[string, memoryEntry]
}

// NewMemoryStore keeps records in process memory. Sessions do not survive a restart.
// No record outlives maxAge, a maxAge of 0 means DefaultMaxAge.
func NewMemoryStore(maxAge time.Duration) Store {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &memoryStore{
		records: expirable.NewLRU[string, memoryEntry](0, nil, maxAge),
	}
}

func (m *memoryStore) Load(_ context.Context, id string) (*Record, error) {
	entry, ok := m.records.Get(id)
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}
	return unmarshalRecord(entry.data)
}

func (m *memoryStore) Save(_ context.Context, id string, record *Record, ttl time.Duration) error {
	data, err := marshalRecord(record)
	if err != nil {
		return err
	}
	m.records.Add(id, memoryEntry{data: data, expiresAt: time.Now().Add(ttl)})
	return nil
}

func (m *memoryStore) Delete(_ context.Context, id string) error {
	m.records.Remove(id)
	return nil
}
