package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Memory is a process-local store for development runs without a bucket.
// Presigned URLs point at BaseURL and are only useful together with the
// server-side upload endpoint.
type Memory struct {
	BaseURL string

	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemory(baseURL string) *Memory {
	return &Memory{BaseURL: baseURL, objects: make(map[string][]byte)}
}

func (m *Memory) PresignPut(_ context.Context, key, contentType string, ttl time.Duration) (string, error) {
	if err := checkPresign(key, contentType); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s?expires=%d", m.BaseURL, key, time.Now().Add(ttlOrDefault(ttl)).Unix()), nil
}

func (m *Memory) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *Memory) Put(_ context.Context, key, _ string, r io.Reader) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; ok {
		return fmt.Errorf("%w: %s", ErrExists, key)
	}
	m.objects[key] = data
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) Clear(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.objects)
	m.objects = make(map[string][]byte)
	return n, nil
}
