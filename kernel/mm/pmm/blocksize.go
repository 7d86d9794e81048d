package pmm

import (
	"silverbox/kernel/mm"
	"silverbox/kernel/mm/bitarray"
)

// BlockSize identifies one of the block size classes tracked by the
// allocator. Each class is 32 times larger than the previous one so a block
// of a class maps to exactly one bitmap word of the class below it.
type BlockSize uint8

const (
	// Block4K is a single 4 KiB page frame.
	Block4K BlockSize = iota

	// Block128K is a 128 KiB block (32 frames).
	Block128K

	// Block4M is a 4 MiB block; the size of a PSE page.
	Block4M

	// Block128M is a 128 MiB block; the coarsest class.
	Block128M

	numBlockSizes
)

// subBlockShift is log2 of the number of sub-blocks that make up a block of
// the next larger class.
const subBlockShift = 5

var blockShifts = [numBlockSizes]uint{12, 17, 22, 27}

// Valid returns true if s names a supported size class.
func (s BlockSize) Valid() bool {
	return s < numBlockSizes
}

// Shift returns log2 of the block size in bytes.
func (s BlockSize) Shift() uint {
	return blockShifts[s]
}

// Size returns the block size in bytes.
func (s BlockSize) Size() mm.Size {
	return mm.Size(1) << blockShifts[s]
}

// String implements fmt.Stringer.
func (s BlockSize) String() string {
	switch s {
	case Block4K:
		return "4K"
	case Block128K:
		return "128K"
	case Block4M:
		return "4M"
	case Block128M:
		return "128M"
	default:
		return "invalid"
	}
}

// subBlocks returns the number of blocks of class lower covered by a single
// block of class s.
func (s BlockSize) subBlocks(lower BlockSize) int {
	return 1 << (subBlockShift * uint(s-lower))
}

// BlockSizeFor returns the smallest size class that can hold size bytes. It
// returns false if size exceeds the largest class.
func BlockSizeFor(size mm.Size) (BlockSize, bool) {
	for s := Block4K; s < numBlockSizes; s++ {
		if size <= s.Size() {
			return s, true
		}
	}

	return 0, false
}

// The word-level full/empty checks that drive filled bitmap propagation
// require one bitmap word per superblock.
var _ [bitarray.WordBits - (1 << subBlockShift)]struct{}
var _ [(1 << subBlockShift) - bitarray.WordBits]struct{}
