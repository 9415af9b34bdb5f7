package schema

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes descriptors derived by reflection, keyed by type identity.
// Concurrent first use of the same type generates the descriptor once.
// A zero Cache is ready to use.
type Cache struct {
	mu        sync.RWMutex
	entries   map[reflect.Type]*Descriptor
	group     singleflight.Group
	generated atomic.Int64
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{}
}

// Get returns the descriptor for t, deriving it on first use.
func (c *Cache) Get(t reflect.Type) (*Descriptor, error) {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if d, ok := c.lookup(t); ok {
		return d, nil
	}
	if t == nil {
		return FromType(t)
	}

	v, err, _ := c.group.Do(typeKey(t), func() (any, error) {
		if d, ok := c.lookup(t); ok {
			return d, nil
		}
		d, err := FromType(t)
		if err != nil {
			return nil, err
		}
		c.generated.Add(1)

		c.mu.Lock()
		if c.entries == nil {
			c.entries = make(map[reflect.Type]*Descriptor)
		}
		c.entries[t] = d
		c.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Descriptor), nil
}

// Of returns the cached descriptor for T.
func Of[T any](c *Cache) (*Descriptor, error) {
	return c.Get(reflect.TypeOf((*T)(nil)).Elem())
}

// Len returns the number of cached descriptors.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Generated returns how many times reflection actually ran.
func (c *Cache) Generated() int64 {
	return c.generated.Load()
}

// Reset drops every cached descriptor.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
}

func (c *Cache) lookup(t reflect.Type) (*Descriptor, bool) {
	if t == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.entries[t]
	return d, ok
}

// typeKey 用于 singleflight。函数内声明的同名类型 String() 相同，
// 因此带上 rtype 地址区分
func typeKey(t reflect.Type) string {
	return fmt.Sprintf("%s/%s@%p", t.PkgPath(), t.String(), t)
}
