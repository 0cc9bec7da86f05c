package ecs

import (
	"slices"
	"strconv"
	"strings"
)

// Signature is a canonical (sorted, de-duplicated) set of component IDs.
// Two signatures built from the same IDs in any order are equal.
type Signature []ComponentId

// NewSignature canonicalizes the given IDs into a Signature
func NewSignature(ids ...ComponentId) Signature {
	if len(ids) == 0 {
		return nil
	}
	sig := slices.Clone(ids)
	slices.Sort(sig)
	return Signature(slices.Compact(sig))
}

func (s Signature) indexOf(id ComponentId) int {
	idx, found := slices.BinarySearch(s, id)
	if !found {
		return -1
	}
	return idx
}

// Has reports whether id is part of the signature
func (s Signature) Has(id ComponentId) bool {
	return s.indexOf(id) >= 0
}

// With returns a new signature that also contains id
func (s Signature) With(id ComponentId) Signature {
	idx, found := slices.BinarySearch(s, id)
	if found {
		return s
	}
	out := make(Signature, 0, len(s)+1)
	out = append(out, s[:idx]...)
	out = append(out, id)
	return append(out, s[idx:]...)
}

// Without returns a new signature with id removed
func (s Signature) Without(id ComponentId) Signature {
	idx := s.indexOf(id)
	if idx < 0 {
		return s
	}
	out := make(Signature, 0, len(s)-1)
	out = append(out, s[:idx]...)
	return append(out, s[idx+1:]...)
}

// Contains reports whether s is a superset of other
func (s Signature) Contains(other Signature) bool {
	i := 0
	for _, id := range other {
		for i < len(s) && s[i] < id {
			i++
		}
		if i == len(s) || s[i] != id {
			return false
		}
	}
	return true
}

// Disjoint reports whether s and other share no component
func (s Signature) Disjoint(other Signature) bool {
	i, j := 0, 0
	for i < len(s) && j < len(other) {
		switch {
		case s[i] == other[j]:
			return false
		case s[i] < other[j]:
			i++
		default:
			j++
		}
	}
	return true
}

// Intersect returns the components present in both signatures
func (s Signature) Intersect(other Signature) Signature {
	var out Signature
	for _, id := range s {
		if other.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// Union returns the components present in either signature
func (s Signature) Union(other Signature) Signature {
	out := make(Signature, 0, len(s)+len(other))
	out = append(out, s...)
	out = append(out, other...)
	return NewSignature(out...)
}

// Difference returns the components of s that are not in other
func (s Signature) Difference(other Signature) Signature {
	var out Signature
	for _, id := range s {
		if !other.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// Equal reports whether both signatures hold the same components
func (s Signature) Equal(other Signature) bool {
	return slices.Equal(s, other)
}

func (s Signature) String() string {
	parts := make([]string, len(s))
	for i, id := range s {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// hash generates an FNV-1a 64-bit hash for the signature
func (s Signature) hash() uint64 {
	var h uint64 = 14695981039346656037 // FNV-1a 64-bit offset basis
	const prime uint64 = 1099511628211  // FNV-1a 64-bit prime

	for _, id := range s {
		v := uint32(id)
		for range 4 {
			h ^= uint64(v & 0xFF)
			h *= prime
			v >>= 8
		}
	}

	return h
}
