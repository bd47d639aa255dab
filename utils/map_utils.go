package utils

// ReverseMap swaps keys and values. Values must be unique for the result
// to keep every entry.
func ReverseMap[K comparable, V comparable](m map[K]V) map[V]K {
	reversed := make(map[V]K, len(m))
	for k, v := range m {
		reversed[v] = k
	}
	return reversed
}

// CloneMap returns a shallow copy; nil stays nil.
func CloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	cloned := make(map[K]V, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// UniqueSlice drops repeated values in place, keeping first occurrences in
// their original order.
func UniqueSlice[K comparable](a []K) []K {
	seen := make(map[K]struct{}, len(a))
	out := a[:0]
	for _, v := range a {
		if _, exists := seen[v]; exists {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
