package memory

import (
	"context"
	"strconv"
	"sync"

	"gatebot/internal/domain"
)

// StateStore is an in-process implementation of app.StateStore, used in
// tests and for redis-less development runs. State does not survive a
// restart.
type StateStore struct {
	mu      sync.Mutex
	scalars map[string]string
	hashes  map[string]map[string]string
}

func NewStateStore() *StateStore {
	return &StateStore{
		scalars: make(map[string]string),
		hashes:  make(map[string]map[string]string),
	}
}

func (s *StateStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.scalars[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return val, nil
}

func (s *StateStore) SetNX(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scalars[key]; ok {
		return false, nil
	}
	s.scalars[key] = value
	return true, nil
}

func (s *StateStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.scalars, key)
		delete(s.hashes, key)
	}
	return nil
}

func (s *StateStore) HGet(_ context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.hashes[key][field]
	if !ok {
		return "", domain.ErrNotFound
	}
	return val, nil
}

func (s *StateStore) HSet(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hash(key)[field] = value
	return nil
}

func (s *StateStore) HSetNX(_ context.Context, key, field, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.hash(key)
	if _, ok := h[field]; ok {
		return false, nil
	}
	h[field] = value
	return true, nil
}

func (s *StateStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (s *StateStore) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.hash(key)
	cur, _ := strconv.ParseInt(h[field], 10, 64)
	cur += delta
	h[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (s *StateStore) HDel(_ context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, field := range fields {
		delete(s.hashes[key], field)
	}
	return nil
}

func (s *StateStore) HCompareAndSet(_ context.Context, key, field, old, new string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.hash(key)
	cur, ok := h[field]
	if !ok || cur != old {
		return false, nil
	}
	h[field] = new
	return true, nil
}

func (s *StateStore) hash(key string) map[string]string {
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	return h
}
