package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements BlobStore.
var _ BlobStore = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of BlobStore.
// Suitable for development and testing; production uses S3Store.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject

	now func() time.Time
}

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// NewMemoryStore creates a new in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memObject),
		now:     time.Now,
	}
}

// Upload stores the object under key, replacing any existing object.
func (s *MemoryStore) Upload(_ context.Context, key string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read upload body: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memObject{data: buf, contentType: contentType, modified: s.now()}
	return nil
}

// Download returns a reader for the object. The caller must close it.
func (s *MemoryStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Exists reports whether the object is present.
func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

// Stat returns metadata for the object.
func (s *MemoryStore) Stat(_ context.Context, key string) (ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return ObjectInfo{}, ErrObjectNotFound
	}
	return ObjectInfo{
		Key:          key,
		SizeBytes:    int64(len(obj.data)),
		ContentType:  obj.contentType,
		LastModified: obj.modified,
	}, nil
}

// PresignGet returns a fake URL for the object.
func (s *MemoryStore) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.objects[key]; !ok {
		return "", ErrObjectNotFound
	}
	return fmt.Sprintf("memory://%s?expires=%d", key, int(expiry.Seconds())), nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// EnsureBucket is a no-op for the in-memory store.
func (s *MemoryStore) EnsureBucket(_ context.Context) error {
	return nil
}

// Len returns the number of stored objects. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
