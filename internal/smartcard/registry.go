package smartcard

import (
	"container/list"
	"fmt"
	"sync"
)

// Registry is a thread-safe map that remembers insertion order.
//
// Every operation is atomic with respect to the others. Keys returns a
// snapshot; callers iterating it must tolerate entries removed meanwhile.
type Registry[K comparable, V any] struct {
	mu    sync.RWMutex
	index map[K]*list.Element
	order *list.List
}

type registryEntry[K comparable, V any] struct {
	key   K
	value V
}

// NewRegistry creates an empty registry.
func NewRegistry[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{
		index: make(map[K]*list.Element),
		order: list.New(),
	}
}

// Add registers value under key.
// Returns ErrDuplicateKey if the key is already present.
func (r *Registry[K, V]) Add(key K, value V) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[key]; exists {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, key)
	}
	r.index[key] = r.order.PushBack(&registryEntry[K, V]{key: key, value: value})
	return nil
}

// Remove deletes key and returns the value it held.
func (r *Registry[K, V]) Remove(key K) (V, bool) {
	return r.RemoveIf(key, nil)
}

// RemoveIf deletes key only when match accepts the registered value.
// A nil match accepts any value.
func (r *Registry[K, V]) RemoveIf(key K, match func(V) bool) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero V
	elem, ok := r.index[key]
	if !ok {
		return zero, false
	}
	entry := elem.Value.(*registryEntry[K, V])
	if match != nil && !match(entry.value) {
		return zero, false
	}
	delete(r.index, key)
	r.order.Remove(elem)
	return entry.value, true
}

// Get returns the value registered under key.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	elem, ok := r.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	return elem.Value.(*registryEntry[K, V]).value, true
}

// Contains reports whether key is registered.
func (r *Registry[K, V]) Contains(key K) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[key]
	return ok
}

// Keys returns a snapshot of the registered keys in insertion order.
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]K, 0, len(r.index))
	for e := r.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*registryEntry[K, V]).key)
	}
	return keys
}

// Range calls fn for a snapshot of the entries in insertion order.
// fn runs without the registry lock held and may modify the registry.
func (r *Registry[K, V]) Range(fn func(key K, value V) bool) {
	r.mu.RLock()
	entries := make([]registryEntry[K, V], 0, len(r.index))
	for e := r.order.Front(); e != nil; e = e.Next() {
		entries = append(entries, *e.Value.(*registryEntry[K, V]))
	}
	r.mu.RUnlock()

	for _, entry := range entries {
		if !fn(entry.key, entry.value) {
			return
		}
	}
}

// Count returns the number of registered entries.
func (r *Registry[K, V]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

// Clear removes every entry.
func (r *Registry[K, V]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index = make(map[K]*list.Element)
	r.order.Init()
}
