package models

import (
	"sync"
)

type modelCacheKey struct {
	model  string
	device string
}

// ModelCache tracks which models have been warmed on which device. Loading
// an already cached model is a no-op that still reports full progress to
// its caller.
type ModelCache struct {
	mu     sync.Mutex
	loaded map[modelCacheKey]bool
}

// NewModelCache creates an empty cache
func NewModelCache() *ModelCache {
	return &ModelCache{loaded: make(map[modelCacheKey]bool)}
}

// IsLoaded reports whether a model has been warmed on the device
func (c *ModelCache) IsLoaded(model, device string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded[modelCacheKey{model: model, device: device}]
}

// MarkLoaded records a successful model warm-up
func (c *ModelCache) MarkLoaded(model, device string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded[modelCacheKey{model: model, device: device}] = true
}

// Reset forgets every warmed model
func (c *ModelCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.loaded)
}
