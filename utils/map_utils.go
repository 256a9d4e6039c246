package utils

import (
	"cmp"
	"sort"
)

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func CloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	cloneM := make(map[K]V, len(m))
	for k, v := range m {
		cloneM[k] = v
	}
	return cloneM
}

// UniqueSlice drops repeated elements in place, keeping first occurrences.
func UniqueSlice[K comparable](a []K) []K {
	m := make(map[K]bool)
	for i := 0; i < len(a); {
		v := a[i]
		if !m[v] {
			m[v] = true
			i++
			continue
		}
		a = append(a[:i], a[i+1:]...)
	}
	return a
}
