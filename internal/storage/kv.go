package storage

import (
	"bytes"
	"errors"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("storage: not found")

// KV is the byte-level backend under Store.
type KV interface {
	// Get returns ErrNotFound for a missing key.
	Get(key []byte) ([]byte, error)
	// Write applies puts and deletes atomically.
	Write(b *Batch) error
	// Iterate visits keys with prefix in ascending order.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batch collects writes applied together by KV.Write.
type Batch struct {
	puts    []kvPair
	deletes [][]byte
}

type kvPair struct{ key, value []byte }

func (b *Batch) Put(key, value []byte) {
	b.puts = append(b.puts, kvPair{key: key, value: value})
}

func (b *Batch) Delete(key []byte) {
	b.deletes = append(b.deletes, key)
}

func (b *Batch) Len() int { return len(b.puts) + len(b.deletes) }

// memKV keeps everything in a map; values are copied on the way in and out.
type memKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *memKV) Write(b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range b.puts {
		m.data[string(p.key)] = bytes.Clone(p.value)
	}
	for _, k := range b.deletes {
		delete(m.data, string(k))
	}
	return nil
}

func (m *memKV) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	keys := make([]string, 0)
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = bytes.Clone(m.data[k])
	}
	m.mu.RUnlock()

	for i, k := range keys {
		if err := fn([]byte(k), vals[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *memKV) Close() error { return nil }
