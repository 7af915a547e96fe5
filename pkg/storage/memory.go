package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/feichai0017/migration-orchestrator/pkg/errors"
)

type memObject struct {
	data     []byte
	modified time.Time
}

// MemoryStorage keeps objects in process memory. It backs inline runs without
// an object store and the tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memObject
	now     func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]memObject), now: time.Now}
}

func (m *MemoryStorage) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", errors.Wrap(err, "failed to store file")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: data, modified: m.now()}
	return key, nil
}

func (m *MemoryStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "object %s", key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStorage) CleanupBefore(ctx context.Context, prefix string, threshold time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) && obj.modified.Before(threshold) {
			delete(m.objects, key)
			removed++
		}
	}
	return removed, nil
}

// Keys lists stored keys.
func (m *MemoryStorage) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}
