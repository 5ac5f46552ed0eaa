package store

import (
	"bytes"
	"context"
	"sync"
)

// Memory is a Store backed by a map. It is meant for tests, examples and
// single-process use where every coordinator shares the same instance.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

// SetIfAbsent implements Store.SetIfAbsent.
func (s *Memory) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; ok {
		return false, nil
	}
	s.items[key] = clone(value)
	return true, nil
}

// Get implements Store.Get.
func (s *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

// Swap implements Store.Swap.
func (s *Memory) Swap(ctx context.Context, key string, value []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	prev, ok := s.items[key]
	s.items[key] = clone(value)
	s.mu.Unlock()
	return prev, ok, nil
}

// Set implements Store.Set.
func (s *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.items[key] = clone(value)
	s.mu.Unlock()
	return nil
}

// Delete implements Store.Delete.
func (s *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Exists implements Store.Exists.
func (s *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	_, ok := s.items[key]
	s.mu.RUnlock()
	return ok, nil
}

// CompareAndDelete implements CompareAndDeleter.
func (s *Memory) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if !ok || !bytes.Equal(v, expected) {
		return false, nil
	}
	delete(s.items, key)
	return true, nil
}

// Close implements Store.Close. The map is kept so a closed Memory store can
// still be inspected by tests.
func (s *Memory) Close() error { return nil }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
