package store

// MergeMaps returns a new map with every key of a and b. Keys present in both are
// combined with combine, which should itself be commutative.
func MergeMaps[K comparable, V any](a, b map[K]V, combine func(x, y V) V) map[K]V {
	out := make(map[K]V, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if cur, ok := out[k]; ok && combine != nil {
			out[k] = combine(cur, v)
			continue
		}
		out[k] = v
	}
	return out
}

// MapMerger lifts a per-entry combine into a MergeFunc over maps.
func MapMerger[K comparable, V any](combine func(x, y V) V) MergeFunc[map[K]V] {
	return func(current, incoming map[K]V) map[K]V {
		return MergeMaps(current, incoming, combine)
	}
}

// Set is a string set value usable in stores.
type Set map[string]struct{}

// NewSet builds a set from values.
func NewSet(values ...string) Set {
	s := make(Set, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Union is commutative and returns a fresh set.
func Union(a, b Set) Set {
	out := make(Set, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}
