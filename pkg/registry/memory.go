package registry

import (
	"context"
	"sync"
)

// MemoryStore keeps encoded records in process memory
type MemoryStore struct {
	lock  sync.Mutex
	items map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string][]byte),
	}
}

var _ ConditionalStore = (*MemoryStore)(nil)

func (s *MemoryStore) Get(ctx context.Context, key string) (*BindingRecord, error) {
	s.lock.Lock()
	data, ok := s.items[key]
	s.lock.Unlock()

	if !ok {
		return nil, ErrRecordNotFound
	}

	rec, err := DecodeRecord(data)
	if err != nil {
		return &BindingRecord{}, ErrRecordCorrupted
	}

	return rec, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, rec *BindingRecord) error {
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.items[key] = data

	return nil
}

func (s *MemoryStore) PutIf(ctx context.Context, key string, rec *BindingRecord, expectedVersion int64) error {
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	var version int64
	if current, ok := s.items[key]; ok {
		if stored, err := DecodeRecord(current); err == nil {
			version = stored.Version
		}
	}

	if version != expectedVersion {
		return ErrVersionConflict
	}

	s.items[key] = data

	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Raw returns the stored bytes for key, used by tests and tooling
func (s *MemoryStore) Raw(key string) ([]byte, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	data, ok := s.items[key]
	return data, ok
}

// SetRaw stores bytes for key without validation
func (s *MemoryStore) SetRaw(key string, data []byte) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.items[key] = data
}

func (s *MemoryStore) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.items)
}
