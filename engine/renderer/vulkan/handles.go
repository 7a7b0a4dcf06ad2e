package vulkan

import (
	"sync"
	"sync/atomic"
)

// table maps the opaque handles given to callers onto backend objects. Every
// table of a device draws from the same counter so a handle is never valid
// in two tables.
type table[H ~uint64, V any] struct {
	mu    sync.RWMutex
	next  *atomic.Uint64
	items map[H]V
}

func newTable[H ~uint64, V any](next *atomic.Uint64) *table[H, V] {
	return &table[H, V]{next: next, items: make(map[H]V)}
}

func (t *table[H, V]) add(v V) H {
	h := H(t.next.Add(1))
	t.mu.Lock()
	t.items[h] = v
	t.mu.Unlock()
	return h
}

func (t *table[H, V]) get(h H) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.items[h]
	return v, ok
}

func (t *table[H, V]) remove(h H) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.items[h]
	delete(t.items, h)
	return v, ok
}

// drain empties the table and returns what it held.
func (t *table[H, V]) drain() []V {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]V, 0, len(t.items))
	for h, v := range t.items {
		out = append(out, v)
		delete(t.items, h)
	}
	return out
}
