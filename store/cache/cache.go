// Package cache provides a small in-process cache with TTL and LRU eviction.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Config holds cache settings.
type Config struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	MaxItems        int
	OnEviction      func(key string, value any)
}

// Cache is a thread-safe LRU cache with per-entry expiry.
type Cache struct {
	config Config
	mu     sync.Mutex

	items map[string]*entry
	order *list.List // front = most recently used

	stop chan struct{}
	once sync.Once
}

type entry struct {
	key       string
	value     any
	expiresAt time.Time
	element   *list.Element
}

// New creates a new cache and starts its cleanup loop.
func New(config Config) *Cache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 10 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.MaxItems <= 0 {
		config.MaxItems = 1000
	}

	c := &Cache{
		config: config,
		items:  make(map[string]*entry),
		order:  list.New(),
		stop:   make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get retrieves a value. The entry becomes the most recently used.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeLocked(e)
		return nil, false
	}
	c.order.MoveToFront(e.element)
	return e.value, true
}

// Set stores a value with the default TTL.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = time.Now().Add(c.config.DefaultTTL)
		c.order.MoveToFront(e.element)
		return
	}

	e := &entry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(c.config.DefaultTTL),
	}
	e.element = c.order.PushFront(e)
	c.items[key] = e

	for len(c.items) > c.config.MaxItems {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*entry))
	}
}

// Delete removes a key. Missing keys are ignored.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.removeLocked(e)
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Close stops the cleanup loop.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.element)
	delete(c.items, e.key)
	if c.config.OnEviction != nil {
		c.config.OnEviction(e.key, e.value)
	}
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for _, e := range c.items {
				if now.After(e.expiresAt) {
					c.removeLocked(e)
				}
			}
			c.mu.Unlock()
		}
	}
}
