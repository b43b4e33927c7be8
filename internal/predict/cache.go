package predict

import (
	"sync"

	"riskengine/internal/ml"
)

type cacheEntry struct {
	backend ml.Backend
	name    string
	version int
}

// BackendCache keeps loaded backend instances keyed by model id so repeat
// predictions skip weight deserialization. Entries are version-checked on
// read and dropped explicitly after a training run swaps weights.
type BackendCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func NewBackendCache() *BackendCache {
	return &BackendCache{entries: make(map[string]cacheEntry)}
}

// Get returns the cached backend for a model id when its version still
// matches.
func (c *BackendCache) Get(modelID string, version int) (ml.Backend, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[modelID]
	if !ok || e.version != version {
		return nil, "", false
	}
	return e.backend, e.name, true
}

// Put stores a loaded backend for a model id at a given weight version.
func (c *BackendCache) Put(modelID string, version int, name string, backend ml.Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[modelID] = cacheEntry{backend: backend, name: name, version: version}
}

// Invalidate drops the cached backend for a model id.
func (c *BackendCache) Invalidate(modelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, modelID)
}
