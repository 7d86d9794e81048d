package region

import (
	"sort"
	"strings"

	"silverbox/kernel/mm"
)

// Set is an ordered collection of non-empty regions. Members never overlap
// and never touch: inserting a region merges it with every member it
// overlaps or is adjacent to.
//
// The zero value is an empty set ready to use. Methods other than Insert and
// Remove do not modify the receiver and return new sets.
type Set[A mm.Unsigned] struct {
	regions []Region[A]
}

// NewSet returns a set holding the union of the supplied regions.
func NewSet[A mm.Unsigned](regions ...Region[A]) Set[A] {
	var s Set[A]
	for _, r := range regions {
		s.Insert(r)
	}

	return s
}

// Insert adds r to the set coalescing it with every member it overlaps or
// is adjacent to. Empty regions are ignored.
func (s *Set[A]) Insert(r Region[A]) {
	if r.IsEmpty() {
		return
	}

	merged, placed := r, false
	regions := make([]Region[A], 0, len(s.regions)+1)

	// Members are sorted and pairwise non-touching so once merged has been
	// placed no later member can reach back into it.
	for _, cur := range s.regions {
		switch {
		case cur.Overlaps(merged) || cur.IsAdjacent(merged):
			merged = merged.hull(cur)
		case cur.Compare(merged) < 0:
			regions = append(regions, cur)
		default:
			if !placed {
				regions = append(regions, merged)
				placed = true
			}
			regions = append(regions, cur)
		}
	}

	if !placed {
		regions = append(regions, merged)
	}

	s.regions = regions
}

// Remove deletes the addresses in r from the set.
func (s *Set[A]) Remove(r Region[A]) {
	if r.IsEmpty() || len(s.regions) == 0 {
		return
	}

	*s = s.Intersect(r.Complement())
}

// Len returns the number of regions in the set.
func (s Set[A]) Len() int {
	return len(s.regions)
}

// IsEmpty returns true if the set contains no addresses.
func (s Set[A]) IsEmpty() bool {
	return len(s.regions) == 0
}

// At returns the i-th region in ascending order.
func (s Set[A]) At(i int) Region[A] {
	return s.regions[i]
}

// Regions returns a copy of the set members in ascending order.
func (s Set[A]) Regions() []Region[A] {
	out := make([]Region[A], len(s.regions))
	copy(out, s.regions)
	return out
}

// Contains returns true if addr belongs to one of the set members.
func (s Set[A]) Contains(addr A) bool {
	i := sort.Search(len(s.regions), func(i int) bool {
		return s.regions[i].Last() >= addr
	})

	return i < len(s.regions) && s.regions[i].Contains(addr)
}

// Overlaps returns true if r shares at least one address with a member.
func (s Set[A]) Overlaps(r Region[A]) bool {
	for _, cur := range s.regions {
		if cur.Overlaps(r) {
			return true
		}
	}

	return false
}

// Union returns a set with the addresses of both sets.
func (s Set[A]) Union(other Set[A]) Set[A] {
	out := Set[A]{regions: s.Regions()}
	for _, r := range other.regions {
		out.Insert(r)
	}

	return out
}

// Intersect returns a set with the addresses shared by both sets.
func (s Set[A]) Intersect(other Set[A]) Set[A] {
	var out Set[A]
	for _, a := range s.regions {
		for _, b := range other.regions {
			if a.Overlaps(b) {
				out.Insert(a.Intersect(b))
			}
		}
	}

	return out
}

// IntersectRegion returns the addresses of the set that also belong to r.
func (s Set[A]) IntersectRegion(r Region[A]) Set[A] {
	return s.Intersect(NewSet(r))
}

// Complement returns the set of addresses that belong to no member. It
// starts from the full address space and intersects it with the complement
// of every member.
func (s Set[A]) Complement() Set[A] {
	out := NewSet(Full[A]())
	for _, r := range s.regions {
		out = out.Intersect(r.Complement())
	}

	return out
}

// Difference returns the addresses of s that do not belong to other.
func (s Set[A]) Difference(other Set[A]) Set[A] {
	return s.Intersect(other.Complement())
}

// Equal returns true if both sets contain exactly the same addresses.
func (s Set[A]) Equal(other Set[A]) bool {
	if len(s.regions) != len(other.regions) {
		return false
	}

	for i := range s.regions {
		if s.regions[i] != other.regions[i] {
			return false
		}
	}

	return true
}

// String implements fmt.Stringer.
func (s Set[A]) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, r := range s.regions {
		if i != 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(r.String())
	}
	sb.WriteByte('}')
	return sb.String()
}
