package opstore

import (
	"strings"
	"sync"
)

// MemoryBackend is the non-durable fallback. Pending operations survive
// reconnects within a process but not restarts.
type MemoryBackend struct {
	data  map[string][]byte
	mutex sync.RWMutex
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (b *MemoryBackend) Get(key string) ([]byte, bool, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	value, found := b.data[key]
	if !found {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (b *MemoryBackend) Put(key string, value []byte) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.data[key] = append([]byte(nil), value...)
	return nil
}

func (b *MemoryBackend) Delete(key string) (bool, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	_, existed := b.data[key]
	delete(b.data, key)
	return existed, nil
}

func (b *MemoryBackend) Scan(prefix string, fn func(key string, value []byte) error) error {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for key, value := range b.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBackend) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.data = make(map[string][]byte)
	return nil
}
