// Package testutil provides shared test utilities and mocks for unit testing.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fluxbase-eu/fluxpack/internal/storage"
)

// MockStorageProvider implements storage.Provider in memory
type MockStorageProvider struct {
	mu      sync.RWMutex
	objects map[string]map[string]mockObject // bucket -> key -> object
	buckets map[string]bool
	puts    int

	// Callbacks for custom behavior
	OnPut    func(ctx context.Context, bucket, key string, data []byte) error
	OnHealth func(ctx context.Context) error
}

type mockObject struct {
	data []byte
	opts storage.PutOptions
	at   time.Time
}

// NewMockStorageProvider creates a new mock storage provider
func NewMockStorageProvider() *MockStorageProvider {
	return &MockStorageProvider{
		objects: make(map[string]map[string]mockObject),
		buckets: make(map[string]bool),
	}
}

func (m *MockStorageProvider) Name() string {
	return "mock"
}

func (m *MockStorageProvider) Health(ctx context.Context) error {
	if m.OnHealth != nil {
		return m.OnHealth(ctx)
	}
	return nil
}

func (m *MockStorageProvider) EnsureBucket(ctx context.Context, bucket string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.buckets[bucket] {
		return false, nil
	}
	m.buckets[bucket] = true
	return true, nil
}

func (m *MockStorageProvider) BucketExists(ctx context.Context, bucket string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.buckets[bucket], nil
}

func (m *MockStorageProvider) Put(ctx context.Context, bucket, key string, data []byte, opts storage.PutOptions) (*storage.Object, error) {
	if m.OnPut != nil {
		if err := m.OnPut(ctx, bucket, key, data); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.objects[bucket]; !exists {
		m.objects[bucket] = make(map[string]mockObject)
	}
	m.objects[bucket][key] = mockObject{data: append([]byte(nil), data...), opts: opts, at: time.Now()}
	m.puts++

	return m.object(bucket, key), nil
}

func (m *MockStorageProvider) Stat(ctx context.Context, bucket, key string) (*storage.Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.objects[bucket][key]; !ok {
		return nil, storage.ErrNotFound
	}
	return m.object(bucket, key), nil
}

func (m *MockStorageProvider) Walk(ctx context.Context, bucket, prefix string, fn func(storage.Object) error) error {
	m.mu.RLock()
	var objects []storage.Object
	for key := range m.objects[bucket] {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, *m.object(bucket, key))
		}
	}
	m.mu.RUnlock()

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	for _, obj := range objects {
		if err := fn(obj); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockStorageProvider) Remove(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[bucket][key]; !ok {
		return storage.ErrNotFound
	}
	delete(m.objects[bucket], key)
	return nil
}

// Seed stores an object without counting it as a put
func (m *MockStorageProvider) Seed(bucket, key, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buckets[bucket] = true
	if _, exists := m.objects[bucket]; !exists {
		m.objects[bucket] = make(map[string]mockObject)
	}
	m.objects[bucket][key] = mockObject{data: []byte(content), at: time.Now()}
}

// Content returns the stored bytes of an object
func (m *MockStorageProvider) Content(bucket, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[bucket][key]
	return obj.data, ok
}

// Headers returns the options an object was stored with
func (m *MockStorageProvider) Headers(bucket, key string) storage.PutOptions {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.objects[bucket][key].opts
}

// Puts returns the number of successful puts
func (m *MockStorageProvider) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.puts
}

// object must be called with the lock held
func (m *MockStorageProvider) object(bucket, key string) *storage.Object {
	obj := m.objects[bucket][key]
	return &storage.Object{
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.opts.ContentType,
		CacheControl: obj.opts.CacheControl,
		ETag:         storage.ETag(obj.data),
		Modified:     obj.at,
	}
}
