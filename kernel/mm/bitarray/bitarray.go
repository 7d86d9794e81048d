// Package bitarray provides a fixed-size dense bitmap with word-at-a-time
// scanning.
package bitarray

import "math/bits"

const (
	// WordBits is the number of bits stored in each bitmap word.
	WordBits = 32

	wordShift = 5
	wordMask  = WordBits - 1
	allOnes   = ^uint32(0)
)

// BitArray is a bitmap of a fixed number of bits. Bits past the requested
// length in the last word never take part in counting or scanning.
type BitArray struct {
	words   []uint32
	numBits int
}

// New returns a bit array that can hold numBits bits, all of them cleared.
func New(numBits int) *BitArray {
	if numBits < 0 {
		numBits = 0
	}

	return &BitArray{
		words:   make([]uint32, (numBits+WordBits-1)>>wordShift),
		numBits: numBits,
	}
}

// Len returns the number of bits in the array.
func (b *BitArray) Len() int {
	return b.numBits
}

// WordCount returns the number of words backing the array.
func (b *BitArray) WordCount() int {
	return len(b.words)
}

// validMask returns the mask of meaningful bits in word w.
func (b *BitArray) validMask(w int) uint32 {
	if w == len(b.words)-1 {
		if tail := b.numBits & wordMask; tail != 0 {
			return allOnes >> (WordBits - tail)
		}
	}

	return allOnes
}

// Set sets bit n. It is a no-op if n is out of range.
func (b *BitArray) Set(n int) {
	if n < 0 || n >= b.numBits {
		return
	}
	b.words[n>>wordShift] |= 1 << (n & wordMask)
}

// Clear clears bit n. It is a no-op if n is out of range.
func (b *BitArray) Clear(n int) {
	if n < 0 || n >= b.numBits {
		return
	}
	b.words[n>>wordShift] &^= 1 << (n & wordMask)
}

// Toggle flips bit n. It is a no-op if n is out of range.
func (b *BitArray) Toggle(n int) {
	if n < 0 || n >= b.numBits {
		return
	}
	b.words[n>>wordShift] ^= 1 << (n & wordMask)
}

// IsSet returns true if bit n is set. Out of range bits read as cleared.
func (b *BitArray) IsSet(n int) bool {
	if n < 0 || n >= b.numBits {
		return false
	}
	return b.words[n>>wordShift]&(1<<(n&wordMask)) != 0
}

// IsWordSet returns true if every valid bit in the word holding bit n is set.
func (b *BitArray) IsWordSet(n int) bool {
	if n < 0 || n >= b.numBits {
		return false
	}

	w := n >> wordShift
	mask := b.validMask(w)
	return b.words[w]&mask == mask
}

// IsWordCleared returns true if every valid bit in the word holding bit n is
// cleared.
func (b *BitArray) IsWordCleared(n int) bool {
	if n < 0 || n >= b.numBits {
		return false
	}

	w := n >> wordShift
	return b.words[w]&b.validMask(w) == 0
}

// FirstSet returns the index of the first set bit.
func (b *BitArray) FirstSet() (int, bool) {
	return b.FirstSetFrom(0)
}

// FirstCleared returns the index of the first cleared bit.
func (b *BitArray) FirstCleared() (int, bool) {
	return b.FirstClearedFrom(0)
}

// FirstSetFrom returns the index of the first set bit at or after start.
func (b *BitArray) FirstSetFrom(start int) (int, bool) {
	return b.scan(start, b.numBits, false)
}

// FirstClearedFrom returns the index of the first cleared bit at or after
// start.
func (b *BitArray) FirstClearedFrom(start int) (int, bool) {
	return b.scan(start, b.numBits, true)
}

// FirstClearedIn returns the index of the first cleared bit in [start, end).
func (b *BitArray) FirstClearedIn(start, end int) (int, bool) {
	if end > b.numBits {
		end = b.numBits
	}
	return b.scan(start, end, true)
}

// scan looks for the first bit in [start, end) whose value differs from
// !cleared. Words with no candidate bits are skipped whole.
func (b *BitArray) scan(start, end int, cleared bool) (int, bool) {
	if start < 0 {
		start = 0
	}
	if start >= end {
		return 0, false
	}

	for w := start >> wordShift; w<<wordShift < end; w++ {
		word := b.words[w]
		if cleared {
			word = ^word
		}
		word &= b.validMask(w)

		// Drop the bits below start in the first word.
		if base := w << wordShift; base < start {
			word &= allOnes << (start - base)
		}

		if word == 0 {
			continue
		}

		if n := w<<wordShift + bits.TrailingZeros32(word); n < end {
			return n, true
		}
		return 0, false
	}

	return 0, false
}

// CountOnes returns the number of set bits.
func (b *BitArray) CountOnes() int {
	count := 0
	for w, word := range b.words {
		count += bits.OnesCount32(word & b.validMask(w))
	}

	return count
}

// CountZeros returns the number of cleared bits.
func (b *BitArray) CountZeros() int {
	return b.numBits - b.CountOnes()
}

// SetBits sets count bits starting at bit from. Bits falling outside the
// array are ignored.
func (b *BitArray) SetBits(from, count int) {
	b.applyRange(from, count, true)
}

// ClearBits clears count bits starting at bit from. Bits falling outside the
// array are ignored.
func (b *BitArray) ClearBits(from, count int) {
	b.applyRange(from, count, false)
}

// SetAll sets every bit in the array.
func (b *BitArray) SetAll() {
	b.applyRange(0, b.numBits, true)
}

// ClearAll clears every bit in the array.
func (b *BitArray) ClearAll() {
	for w := range b.words {
		b.words[w] = 0
	}
}

// applyRange handles the partial head and tail words bit-masked and fills
// the whole words between them directly.
func (b *BitArray) applyRange(from, count int, set bool) {
	end := from + count
	if from < 0 {
		from = 0
	}
	if end > b.numBits {
		end = b.numBits
	}
	if from >= end {
		return
	}

	for from < end {
		w, bit := from>>wordShift, from&wordMask
		n := WordBits - bit
		if rem := end - from; rem < n {
			n = rem
		}

		var mask uint32
		if n == WordBits {
			mask = allOnes
		} else {
			mask = ((1 << n) - 1) << bit
		}

		if set {
			b.words[w] |= mask
		} else {
			b.words[w] &^= mask
		}
		from += n
	}
}
