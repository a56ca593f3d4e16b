package cache

import (
	"sync"

	"google.golang.org/protobuf/types/descriptorpb"
)

// DefaultCapacity bounds the number of descriptor sets held when the
// caller does not choose a capacity.
const DefaultCapacity = 100

// DescriptorCache is a bounded map from "owner/collection@version" keys to
// the raw descriptor set fetched for that repository. When an insert would
// grow the cache past its capacity, every entry is dropped first: the bound
// is a memory-safety property, since keys can be influenced by untrusted
// tool-call content.
type DescriptorCache struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string]*descriptorpb.FileDescriptorSet
}

// New creates a DescriptorCache holding at most capacity entries.
// A capacity of zero or less falls back to DefaultCapacity.
func New(capacity int) *DescriptorCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &DescriptorCache{
		capacity: capacity,
		entries:  make(map[string]*descriptorpb.FileDescriptorSet),
	}
}

// Get returns the descriptor set cached under key, or nil on a miss.
func (c *DescriptorCache) Get(key string) (*descriptorpb.FileDescriptorSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fds, ok := c.entries[key]
	return fds, ok
}

// Put stores fds under key, clearing the whole cache first if it is full.
func (c *DescriptorCache) Put(key string, fds *descriptorpb.FileDescriptorSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.entries = make(map[string]*descriptorpb.FileDescriptorSet)
	}
	c.entries[key] = fds
}

// Len reports the number of resident entries.
func (c *DescriptorCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Capacity reports the configured bound.
func (c *DescriptorCache) Capacity() int {
	return c.capacity
}
