package cache

import (
	"context"
	"sort"
	"sync"
)

// MemStorage keeps all caches in process memory.
type MemStorage struct {
	mutex *sync.RWMutex
	db    map[string]map[string]Entry
}

func NewMemStorage() MemStorage {
	return MemStorage{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string]Entry),
	}
}

func (m MemStorage) Open(_ context.Context, name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.db[name]; !ok {
		m.db[name] = make(map[string]Entry)
	}
	return nil
}

func (m MemStorage) Names(_ context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.db))
	for name := range m.db {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemStorage) Delete(_ context.Context, name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.db[name]
	delete(m.db, name)
	return ok, nil
}

func (m MemStorage) Match(_ context.Context, name, key string) (Entry, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[name][key]
	return entry, ok, nil
}

func (m MemStorage) Put(_ context.Context, name string, entry Entry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entries, ok := m.db[name]
	if !ok {
		return ErrNoSuchCache
	}
	entries[entry.Key] = entry
	return nil
}

func (m MemStorage) Keys(_ context.Context, name string, cb func(string)) error {
	m.mutex.RLock()
	keys := make([]string, 0, len(m.db[name]))
	for key := range m.db[name] {
		keys = append(keys, key)
	}
	m.mutex.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}
