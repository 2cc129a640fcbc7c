// Package storagetest provides an in-memory storage.ObjectStorage for tests.
package storagetest

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/ExxiDauS/CyberCTF/internal/common/storage"
)

type object struct {
	data        []byte
	contentType string
}

// Memory stores objects keyed by bucket and key.
type Memory struct {
	mu      sync.Mutex
	objects map[string]object

	// GetErr and PutErr fail the corresponding call when set.
	GetErr error
	PutErr error
	// ReadErr is returned by readers after the object's bytes are consumed.
	ReadErr error
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]object)}
}

func path(bucket, key string) string {
	return bucket + "/" + key
}

// Put stores data directly.
func (m *Memory) Put(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path(bucket, key)] = object{data: append([]byte(nil), data...)}
}

// Object returns a stored object's bytes and content type.
func (m *Memory) Object(bucket, key string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[path(bucket, key)]
	return obj.data, obj.contentType, ok
}

func (m *Memory) GetObject(ctx context.Context, bucket, objectKey string) (storage.ObjectReader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	obj, ok := m.objects[path(bucket, objectKey)]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	var r io.Reader = bytes.NewReader(obj.data)
	if m.ReadErr != nil {
		r = io.MultiReader(r, &errReader{err: m.ReadErr})
	}
	return io.NopCloser(r), nil
}

func (m *Memory) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path(bucket, objectKey)] = object{data: data, contentType: contentType}
	return nil
}

func (m *Memory) StatObject(ctx context.Context, bucket, objectKey string) (storage.ObjectStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[path(bucket, objectKey)]
	if !ok {
		return storage.ObjectStat{}, storage.ErrObjectNotFound
	}
	return storage.ObjectStat{SizeBytes: int64(len(obj.data)), ContentType: obj.contentType}, nil
}

func (m *Memory) RemoveObject(ctx context.Context, bucket, objectKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path(bucket, objectKey))
	return nil
}

type errReader struct {
	err error
}

func (r *errReader) Read([]byte) (int, error) {
	return 0, r.err
}

var _ storage.ObjectStorage = (*Memory)(nil)
