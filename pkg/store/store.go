// Package store holds the project-keyed caches shared by fetchers and read views.
//
// A Store is the only shared mutable state in the module. Writers never touch values in
// place: they hand an incoming value to Merge and the store combines it with the current
// value through a pure MergeFunc inside xsync's per-key Compute. MergeFuncs are expected to
// be commutative so that endpoints finishing in any order produce the same contents.
package store

import (
	"github.com/puzpuzpuz/xsync/v4"
)

// MergeFunc combines the current value with an incoming one and returns the next value.
// It must not mutate either argument.
type MergeFunc[V any] func(current, incoming V) V

// Store is a concurrent keyed cache with merge-on-write semantics.
type Store[K comparable, V any] struct {
	m     *xsync.Map[K, V]
	merge MergeFunc[V]
}

// New returns an empty store. A nil merge replaces values outright.
func New[K comparable, V any](merge MergeFunc[V]) *Store[K, V] {
	if merge == nil {
		merge = func(_, incoming V) V { return incoming }
	}
	return &Store[K, V]{
		m:     xsync.NewMap[K, V](),
		merge: merge,
	}
}

// Merge folds incoming into the value stored under key and returns the result.
func (s *Store[K, V]) Merge(key K, incoming V) V {
	next, _ := s.m.Compute(key, func(current V, loaded bool) (V, xsync.ComputeOp) {
		if !loaded {
			return incoming, xsync.UpdateOp
		}
		return s.merge(current, incoming), xsync.UpdateOp
	})
	return next
}

// Update applies fn to the current value under key. Returning keep=false removes the key.
func (s *Store[K, V]) Update(key K, fn func(current V, loaded bool) (next V, keep bool)) {
	s.m.Compute(key, func(current V, loaded bool) (V, xsync.ComputeOp) {
		next, keep := fn(current, loaded)
		if !keep {
			if !loaded {
				return current, xsync.CancelOp
			}
			return current, xsync.DeleteOp
		}
		return next, xsync.UpdateOp
	})
}

// Replace stores value under key, discarding what was there.
func (s *Store[K, V]) Replace(key K, value V) {
	s.m.Store(key, value)
}

func (s *Store[K, V]) Get(key K) (V, bool) {
	return s.m.Load(key)
}

func (s *Store[K, V]) Delete(key K) {
	s.m.Delete(key)
}

func (s *Store[K, V]) Len() int {
	return s.m.Size()
}

// Clear drops every key.
func (s *Store[K, V]) Clear() {
	s.m.Clear()
}

// Snapshot copies the top level of the store into a plain map.
func (s *Store[K, V]) Snapshot() map[K]V {
	out := make(map[K]V, s.m.Size())
	s.m.Range(func(k K, v V) bool {
		out[k] = v
		return true
	})
	return out
}
