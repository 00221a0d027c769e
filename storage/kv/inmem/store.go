package inmemkv

import (
	"context"
	"sync"

	"github.com/kymaka/elimu/storage/kv"
)

type store struct {
	sync.RWMutex
	table map[string]string
}

var _ kv.Store = (*store)(nil) // interface compliance check

func NewStore() *store {
	return &store{table: make(map[string]string)}
}

func (s *store) Get(_ context.Context, key string) (string, error) {
	s.RLock()
	defer s.RUnlock()
	val, ok := s.table[key]
	if !ok {
		return "", kv.ErrKeyNotFound
	}
	return val, nil
}

func (s *store) Set(_ context.Context, key, value string) error {
	s.Lock()
	defer s.Unlock()
	s.table[key] = value
	return nil
}

func (s *store) Delete(_ context.Context, key string) error {
	s.Lock()
	defer s.Unlock()
	delete(s.table, key)
	return nil
}
