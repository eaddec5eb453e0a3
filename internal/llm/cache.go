package llm

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"inferd/internal/engine"
)

// Cache owns loaded models keyed by normalized path. Every Load of a path
// returns the same *Model and adds a reference; the engine handle is freed
// when the last reference is released.
//
// The lock is held across the engine load so concurrent loads of one path
// never read the file twice. It is never held during inference.
type Cache struct {
	mu      sync.Mutex
	backend engine.Backend
	entries map[string]*Model
}

// NewCache returns an empty cache loading through backend.
func NewCache(backend engine.Backend) *Cache {
	return &Cache{backend: backend, entries: make(map[string]*Model)}
}

func normalizePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty model path", ErrInvalidArgument)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return filepath.Clean(abs), nil
}

// Load returns the cached model for path or loads it with params.
//
// First loader wins: a hit returns the existing handle even when params
// differ from the ones it was loaded with. Callers that care compare
// Model.Params. A failed load leaves the cache unchanged.
func (c *Cache) Load(path string, params ModelParams) (*Model, error) {
	key, err := normalizePath(path)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.entries[key]; ok {
		m.refs++
		return m, nil
	}
	em, err := c.backend.LoadModel(key, params.engine())
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrInvalidModel, key, err)
	}
	m := &Model{cache: c, path: key, params: params, em: em, refs: 1}
	c.entries[key] = m
	return m, nil
}

// Release drops one reference. At zero the entry is removed and the engine
// handle freed. Releasing more times than loaded is a caller error.
func (c *Cache) Release(m *Model) {
	if m == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m.refs--
	if m.refs > 0 {
		return
	}
	if cur, ok := c.entries[m.path]; ok && cur == m {
		delete(c.entries, m.path)
		_ = m.em.Close()
	}
}

// Count returns the number of cached models.
func (c *Cache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear frees every cached model regardless of outstanding references.
// Handles held by callers become invalid.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, m := range c.entries {
		m.refs = 0
		_ = m.em.Close()
		delete(c.entries, k)
	}
}
