package pmm

import (
	"silverbox/kernel/mm"
	"silverbox/kernel/mm/bitarray"
)

// level holds the bitmaps of a single size class within a zone.
type level struct {
	// occupied has a bit set for every block that is used in whole or
	// in part.
	occupied *bitarray.BitArray

	// filled has a bit set for every block that has no free sub-block.
	// It is nil for the smallest class of a zone where a used block is
	// always completely used and occupied doubles as the filled bitmap.
	filled *bitarray.BitArray
}

// zone tracks a contiguous physical range whose length is a multiple of the
// largest block size. Blocks smaller than minSize are not tracked.
type zone struct {
	base    mm.PAddr
	end     mm.PAddr
	minSize BlockSize
	levels  [numBlockSizes]level
}

func newZone(base, end mm.PAddr, minSize BlockSize) *zone {
	z := &zone{base: base, end: end, minSize: minSize}

	topBlocks := int((end - base) >> Block128M.Shift())
	for s := minSize; s < numBlockSizes; s++ {
		count := topBlocks * Block128M.subBlocks(s)
		z.levels[s].occupied = bitarray.New(count)
		if s != minSize {
			z.levels[s].filled = bitarray.New(count)
		}
	}

	return z
}

// contains returns true if the zone tracks addr.
func (z *zone) contains(addr mm.PAddr) bool {
	return addr >= z.base && addr < z.end
}

// filledBits returns the bitmap that flags completely used blocks of class s.
func (z *zone) filledBits(s BlockSize) *bitarray.BitArray {
	if s == z.minSize {
		return z.levels[s].occupied
	}

	return z.levels[s].filled
}

func (z *zone) index(addr mm.PAddr, s BlockSize) int {
	return int((addr - z.base) >> s.Shift())
}

func (z *zone) address(index int, s BlockSize) mm.PAddr {
	return z.base + mm.PAddr(index)<<s.Shift()
}

// find performs a top-down search for the first free block of class target
// among the blocks [from, to) of class s. Completely used blocks are skipped
// using the filled bitmap and the search descends into the first block that
// still has free space.
func (z *zone) find(target, s BlockSize, from, to int) (int, bool) {
	if s == target {
		return z.levels[s].occupied.FirstClearedIn(from, to)
	}

	var (
		occupied = z.levels[s].occupied
		filled   = z.filledBits(s)
		ratio    = s.subBlocks(s - 1)
	)

	for i, ok := filled.FirstClearedIn(from, to); ok; i, ok = filled.FirstClearedIn(i+1, to) {
		// The whole block is free; its first sub-block at the target
		// class is free too.
		if !occupied.IsSet(i) {
			return i * s.subBlocks(target), true
		}

		if index, found := z.find(target, s-1, i*ratio, (i+1)*ratio); found {
			return index, true
		}
	}

	return 0, false
}

// mark flags the block at index of class s, and every block beneath it, as
// used or free and then ripples the change up through the larger classes.
func (z *zone) mark(s BlockSize, index int, used bool) {
	for l, first, count := s, index, 1; ; l, first, count = l-1, first<<subBlockShift, count<<subBlockShift {
		lvl := &z.levels[l]
		if used {
			lvl.occupied.SetBits(first, count)
			if lvl.filled != nil {
				lvl.filled.SetBits(first, count)
			}
		} else {
			lvl.occupied.ClearBits(first, count)
			if lvl.filled != nil {
				lvl.filled.ClearBits(first, count)
			}
		}

		if l == z.minSize {
			break
		}
	}

	z.propagate(s, index)
}

// propagate updates the ancestors of the block at index of class s. A
// parent is occupied if any bit in the corresponding child word is set and
// filled if every bit in the child filled word is set. The ripple stops at
// the first parent whose state does not change.
func (z *zone) propagate(s BlockSize, index int) {
	for l, i := s, index; l < numBlockSizes-1; l, i = l+1, i>>subBlockShift {
		var (
			parent    = &z.levels[l+1]
			parentIdx = i >> subBlockShift
			occupied  = !z.levels[l].occupied.IsWordCleared(i)
			filled    = z.filledBits(l).IsWordSet(i)
		)

		if parent.occupied.IsSet(parentIdx) == occupied && parent.filled.IsSet(parentIdx) == filled {
			return
		}

		setBit(parent.occupied, parentIdx, occupied)
		setBit(parent.filled, parentIdx, filled)
	}
}

func setBit(b *bitarray.BitArray, index int, value bool) {
	if value {
		b.Set(index)
	} else {
		b.Clear(index)
	}
}
