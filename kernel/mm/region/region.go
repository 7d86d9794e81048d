// Package region implements half-open address intervals and coalesced sets
// of intervals over unsigned address types.
//
// A Region either has an exclusive end address or extends to (and includes)
// the last representable address of its type. The two cases are kept apart
// by an explicit flag instead of overloading a zero end address, so the empty
// region [0, 0) and the region covering the entire address space are
// distinct values.
package region

import (
	"strconv"

	"silverbox/kernel"
	"silverbox/kernel/mm"
)

var (
	// ErrLengthOverflow is returned by Length for the region covering the
	// entire address space as its length does not fit in the address type.
	ErrLengthOverflow = &kernel.Error{Module: "region", Message: "region length overflows the address type"}

	errInvalidRegion = &kernel.Error{Module: "region", Message: "region end precedes its start"}
)

// Region describes the address interval [start, end) or, when toTop is set,
// [start, max(A)].
type Region[A mm.Unsigned] struct {
	start A

	// end is the exclusive end address. It is always zero when toTop is set.
	end A

	toTop bool
}

// New returns the region [start, end). It panics if end < start; use ToEnd
// for regions that reach the top of the address space.
func New[A mm.Unsigned](start, end A) Region[A] {
	if end < start {
		panic(errInvalidRegion)
	}

	return Region[A]{start: start, end: end}
}

// ToEnd returns the region that starts at start and extends to the top of
// the address space.
func ToEnd[A mm.Unsigned](start A) Region[A] {
	return Region[A]{start: start, toTop: true}
}

// Full returns the region that covers the entire address space.
func Full[A mm.Unsigned]() Region[A] {
	return ToEnd[A](0)
}

// WithLength returns the region [start, start+length). If start+length wraps
// around to exactly zero, the returned region extends to the top of the
// address space. WithLength returns false if the region would wrap past the
// top of the address space.
func WithLength[A mm.Unsigned](start, length A) (Region[A], bool) {
	end := start + length
	switch {
	case end >= start:
		return New(start, end), true
	case end == 0:
		return ToEnd(start), true
	default:
		return Region[A]{}, false
	}
}

// fromLast builds the region [start, last] from an inclusive end address.
func fromLast[A mm.Unsigned](start, last A) Region[A] {
	if last == maxAddr[A]() {
		return ToEnd(start)
	}

	return New(start, last+1)
}

func maxAddr[A mm.Unsigned]() A {
	var zero A
	return ^zero
}

// Start returns the first address of the region.
func (r Region[A]) Start() A {
	return r.start
}

// End returns the exclusive end address of the region. The second return
// value is false if the region extends to the top of the address space in
// which case no exclusive end address can be represented.
func (r Region[A]) End() (A, bool) {
	return r.end, !r.toTop
}

// Last returns the last address that belongs to a non-empty region.
func (r Region[A]) Last() A {
	if r.toTop {
		return maxAddr[A]()
	}

	return r.end - 1
}

// IsEmpty returns true if the region contains no addresses.
func (r Region[A]) IsEmpty() bool {
	return !r.toTop && r.start == r.end
}

// IsFull returns true if the region covers the entire address space.
func (r Region[A]) IsFull() bool {
	return r.toTop && r.start == 0
}

// ReachesTop returns true if the region extends to the top of the address
// space.
func (r Region[A]) ReachesTop() bool {
	return r.toTop
}

// Length returns the number of addresses in the region. It returns
// ErrLengthOverflow for the full region.
func (r Region[A]) Length() (A, *kernel.Error) {
	switch {
	case r.IsFull():
		return 0, ErrLengthOverflow
	case r.toTop:
		return ^r.start + 1, nil
	default:
		return r.end - r.start, nil
	}
}

// Contains returns true if addr belongs to the region.
func (r Region[A]) Contains(addr A) bool {
	return !r.IsEmpty() && addr >= r.start && (r.toTop || addr < r.end)
}

// ContainsRegion returns true if other is a non-empty region that lies
// entirely inside r.
func (r Region[A]) ContainsRegion(other Region[A]) bool {
	return !other.IsEmpty() && r.Contains(other.start) && r.Contains(other.Last())
}

// Overlaps returns true if the two regions share at least one address.
func (r Region[A]) Overlaps(other Region[A]) bool {
	if r.IsEmpty() || other.IsEmpty() {
		return false
	}

	return r.start <= other.Last() && other.start <= r.Last()
}

// IsAdjacent returns true if one region ends exactly where the other one
// starts. The full region is never adjacent to anything.
func (r Region[A]) IsAdjacent(other Region[A]) bool {
	if r.IsEmpty() || other.IsEmpty() || r.IsFull() || other.IsFull() {
		return false
	}

	return (!r.toTop && r.end == other.start) || (!other.toTop && other.end == r.start)
}

// Intersect returns the addresses shared by both regions. The result is the
// empty region if they do not overlap.
func (r Region[A]) Intersect(other Region[A]) Region[A] {
	if !r.Overlaps(other) {
		return Region[A]{}
	}

	start, last := r.start, r.Last()
	if other.start > start {
		start = other.start
	}
	if otherLast := other.Last(); otherLast < last {
		last = otherLast
	}

	return fromLast(start, last)
}

// hull returns the smallest region containing both non-empty regions.
func (r Region[A]) hull(other Region[A]) Region[A] {
	start, last := r.start, r.Last()
	if other.start < start {
		start = other.start
	}
	if otherLast := other.Last(); otherLast > last {
		last = otherLast
	}

	return fromLast(start, last)
}

// Union returns the set containing the addresses of both regions.
func (r Region[A]) Union(other Region[A]) Set[A] {
	return NewSet(r, other)
}

// Complement returns the set of addresses that do not belong to the region.
func (r Region[A]) Complement() Set[A] {
	var set Set[A]

	switch {
	case r.IsEmpty():
		set.regions = []Region[A]{Full[A]()}
	case r.IsFull():
	default:
		if r.start != 0 {
			set.regions = append(set.regions, New(0, r.start))
		}
		if !r.toTop {
			set.regions = append(set.regions, ToEnd(r.end))
		}
	}

	return set
}

// Difference returns the addresses of r that do not belong to other,
// computed as the intersection of r with the complement of other.
func (r Region[A]) Difference(other Region[A]) Set[A] {
	return NewSet(r).Intersect(other.Complement())
}

// Compare orders regions by their start address and then by their end
// address. A region that extends to the top of the address space orders
// after any region with an exclusive end. Compare returns -1, 0 or 1.
func (r Region[A]) Compare(other Region[A]) int {
	switch {
	case r.start < other.start:
		return -1
	case r.start > other.start:
		return 1
	case r.toTop && other.toTop:
		return 0
	case r.toTop:
		return 1
	case other.toTop:
		return -1
	case r.end < other.end:
		return -1
	case r.end > other.end:
		return 1
	default:
		return 0
	}
}

// Less reports whether r orders before other.
func (r Region[A]) Less(other Region[A]) bool {
	return r.Compare(other) < 0
}

// String implements fmt.Stringer.
func (r Region[A]) String() string {
	buf := make([]byte, 0, 48)
	buf = append(buf, "[0x"...)
	buf = strconv.AppendUint(buf, uint64(r.start), 16)
	if r.toTop {
		return string(append(buf, ", top]"...))
	}

	buf = append(buf, ", 0x"...)
	buf = strconv.AppendUint(buf, uint64(r.end), 16)
	return string(append(buf, ')'))
}
