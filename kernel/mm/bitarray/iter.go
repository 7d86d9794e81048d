package bitarray

// Filter selects which bits an Iterator yields.
type Filter uint8

const (
	// Ones yields the indices of set bits.
	Ones Filter = iota

	// Zeros yields the indices of cleared bits.
	Zeros

	// All yields every bit index.
	All
)

// Iterator lazily walks the indices of a BitArray that match a Filter. It
// skips words with no matching bits. An Iterator observes changes made to
// the array while iterating.
type Iterator struct {
	b      *BitArray
	filter Filter
	next   int
}

// Iter returns an iterator over the bits matching filter starting at bit
// start. Restarting iteration from an arbitrary position only requires a new
// iterator.
func (b *BitArray) Iter(filter Filter, start int) *Iterator {
	if start < 0 {
		start = 0
	}

	return &Iterator{b: b, filter: filter, next: start}
}

// Next returns the next matching bit index. The second return value is false
// once the iterator is exhausted.
func (it *Iterator) Next() (int, bool) {
	var (
		n  int
		ok bool
	)

	switch it.filter {
	case Ones:
		n, ok = it.b.FirstSetFrom(it.next)
	case Zeros:
		n, ok = it.b.FirstClearedFrom(it.next)
	default:
		n, ok = it.next, it.next < it.b.numBits
	}

	if !ok {
		it.next = it.b.numBits
		return 0, false
	}

	it.next = n + 1
	return n, true
}
