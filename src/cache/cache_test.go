package cache

import (
	"fmt"
	"testing"

	"google.golang.org/protobuf/types/descriptorpb"
)

func TestGetMiss(t *testing.T) {
	c := New(10)
	if _, ok := c.Get("acme/tools@main"); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestPutThenGet(t *testing.T) {
	c := New(10)
	fds := &descriptorpb.FileDescriptorSet{}
	c.Put("acme/tools@main", fds)
	got, ok := c.Get("acme/tools@main")
	if !ok {
		t.Fatal("expected hit")
	}
	if got != fds {
		t.Fatal("returned a different descriptor set")
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	const capacity = 5
	c := New(capacity)
	for i := 0; i < capacity*3+1; i++ {
		c.Put(fmt.Sprintf("owner/repo%d@main", i), &descriptorpb.FileDescriptorSet{})
		if c.Len() > capacity {
			t.Fatalf("cache grew to %d entries, capacity %d", c.Len(), capacity)
		}
	}
}

func TestClearAllAtCapacity(t *testing.T) {
	c := New(2)
	c.Put("a@main", &descriptorpb.FileDescriptorSet{})
	c.Put("b@main", &descriptorpb.FileDescriptorSet{})
	c.Put("c@main", &descriptorpb.FileDescriptorSet{})

	// The overflowing insert clears everything that was warm.
	if _, ok := c.Get("a@main"); ok {
		t.Error("entry a survived eviction")
	}
	if _, ok := c.Get("b@main"); ok {
		t.Error("entry b survived eviction")
	}
	if _, ok := c.Get("c@main"); !ok {
		t.Error("freshly inserted entry missing")
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}
}

func TestOverwriteExistingKeyDoesNotEvict(t *testing.T) {
	c := New(2)
	c.Put("a@main", &descriptorpb.FileDescriptorSet{})
	c.Put("b@main", &descriptorpb.FileDescriptorSet{})
	c.Put("a@main", &descriptorpb.FileDescriptorSet{})
	if c.Len() != 2 {
		t.Errorf("len = %d, want 2", c.Len())
	}
	if _, ok := c.Get("b@main"); !ok {
		t.Error("entry b evicted by an overwrite")
	}
}

func TestZeroCapacityFallsBackToDefault(t *testing.T) {
	c := New(0)
	if c.Capacity() != DefaultCapacity {
		t.Errorf("capacity = %d, want %d", c.Capacity(), DefaultCapacity)
	}
}
