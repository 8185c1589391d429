package services

import (
	"fmt"
	"log"
	"sync"
)

// EngineKey identifies one engine configuration.
type EngineKey struct {
	TargetClass string
	Strategy    string
	Model       string
}

func (k EngineKey) String() string {
	if k.Model == "" {
		return fmt.Sprintf("%s/%s", k.TargetClass, k.Strategy)
	}
	return fmt.Sprintf("%s/%s/%s", k.TargetClass, k.Strategy, k.Model)
}

// EngineFactory builds the engine for a key.
type EngineFactory func(key EngineKey) (*Engine, error)

// EngineCache builds engines on first use and hands the same instance to
// every later caller with the same key.
type EngineCache struct {
	mu      sync.Mutex
	engines map[EngineKey]*Engine
	factory EngineFactory
}

func NewEngineCache(factory EngineFactory) *EngineCache {
	return &EngineCache{engines: make(map[EngineKey]*Engine), factory: factory}
}

// Get returns the engine for key, constructing it if needed. Construction
// happens under the cache lock so concurrent first calls build only once.
func (c *EngineCache) Get(key EngineKey) (*Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.engines[key]; ok {
		return e, nil
	}
	e, err := c.factory(key)
	if err != nil {
		return nil, fmt.Errorf("building engine %s: %w", key, err)
	}
	c.engines[key] = e
	log.Printf("engine: initialised %s", key)
	return e, nil
}

// Len returns how many engines have been built.
func (c *EngineCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.engines)
}
