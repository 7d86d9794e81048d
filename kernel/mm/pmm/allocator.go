// Package pmm implements the physical memory allocators of the init server:
// a bootstrap allocator that hands out frames straight from the boot memory
// map and a multi-level bitmap allocator that manages all physical memory
// once the boot allocator has done its job.
package pmm

import (
	"silverbox/kernel"
	"silverbox/kernel/kfmt"
	"silverbox/kernel/mm"
	"silverbox/kernel/mm/region"
	"silverbox/kernel/sync"
)

var (
	// ErrOutOfMemory is returned when every block of the largest class is
	// completely used.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	// ErrTooBig is returned when free memory exists but no free block of
	// the requested class is available.
	ErrTooBig = &kernel.Error{Module: "pmm", Message: "no free block large enough for the requested size"}

	errInvalidBlockSize = &kernel.Error{Module: "pmm", Message: "invalid block size"}
	errUnalignedBlock   = &kernel.Error{Module: "pmm", Message: "block address is not aligned to the block size"}
	errAddrOutOfRange   = &kernel.Error{Module: "pmm", Message: "block address is not tracked by the allocator"}
	errHighMemoryBlock  = &kernel.Error{Module: "pmm", Message: "blocks smaller than 4M cannot be used above 4G"}
	errDoubleFree       = &kernel.Error{Module: "pmm", Message: "release of a block that is not allocated"}
)

// Allocator is a multi-level bitmap physical memory allocator. Memory is
// split into a low zone below 4 GiB, tracked in 4K, 128K, 4M and 128M
// blocks, and a high zone above 4 GiB, tracked only in 4M and 128M blocks.
//
// For every class the allocator maintains an occupied bitmap (block used in
// whole or in part) and a filled bitmap (block completely used) which lets
// allocations skip over exhausted regions without scanning them.
//
// Allocator belongs to the single task running the init server. A call that
// re-enters the allocator while another call is still updating it panics
// with sync.ErrReentered.
type Allocator struct {
	lock sync.Spinlock

	// zones in ascending address order; the high zone is optional.
	zones []*zone

	// reserved contains the physical ranges that were excluded from
	// allocation at initialization time.
	reserved region.Set[mm.PAddr]
}

// zoneFor returns the zone and block index for the block of class s at addr.
// It panics if the request can never be valid.
func (alloc *Allocator) zoneFor(addr mm.PAddr, s BlockSize) (*zone, int) {
	if !s.Valid() {
		panic(errInvalidBlockSize)
	}

	if addr >= mm.HighMemoryBase && s < Block4M {
		panic(errHighMemoryBlock)
	}

	if !mm.IsAligned(addr, mm.PAddr(s.Size())) {
		panic(errUnalignedBlock)
	}

	for _, z := range alloc.zones {
		if z.contains(addr) && s >= z.minSize {
			return z, z.index(addr, s)
		}
	}

	panic(errAddrOutOfRange)
}

// Alloc reserves the lowest addressed free block of class s and returns its
// physical address.
func (alloc *Allocator) Alloc(s BlockSize) (mm.PAddr, *kernel.Error) {
	if !s.Valid() {
		panic(errInvalidBlockSize)
	}

	alloc.lock.AcquireExclusive()
	defer alloc.lock.Release()

	for _, z := range alloc.zones {
		if s < z.minSize {
			continue
		}

		if index, ok := z.find(s, Block128M, 0, z.levels[Block128M].occupied.Len()); ok {
			z.mark(s, index, true)
			return z.address(index, s), nil
		}
	}

	// Tell apart exhausted memory from fragmentation by checking whether
	// any eligible zone still has a block of the largest class that is
	// not completely used.
	for _, z := range alloc.zones {
		if s < z.minSize {
			continue
		}

		if _, ok := z.levels[Block128M].filled.FirstCleared(); ok {
			return 0, ErrTooBig
		}
	}

	return 0, ErrOutOfMemory
}

// Release returns the block of class s at addr to the allocator. Releasing a
// block that is not fully allocated is a fatal error.
func (alloc *Allocator) Release(addr mm.PAddr, s BlockSize) {
	alloc.lock.AcquireExclusive()
	defer alloc.lock.Release()

	z, index := alloc.zoneFor(addr, s)
	if !z.filledBits(s).IsSet(index) {
		panic(errDoubleFree)
	}

	z.mark(s, index, false)
}

// MarkUsed flags the block of class s at addr and all of its sub-blocks as
// used.
func (alloc *Allocator) MarkUsed(addr mm.PAddr, s BlockSize) {
	alloc.lock.AcquireExclusive()
	defer alloc.lock.Release()

	z, index := alloc.zoneFor(addr, s)
	z.mark(s, index, true)
}

// MarkFree flags the block of class s at addr and all of its sub-blocks as
// free.
func (alloc *Allocator) MarkFree(addr mm.PAddr, s BlockSize) {
	alloc.lock.AcquireExclusive()
	defer alloc.lock.Release()

	z, index := alloc.zoneFor(addr, s)
	z.mark(s, index, false)
}

// IsBlockUsed returns true if the block of class s at addr, or any part of
// it, is in use.
func (alloc *Allocator) IsBlockUsed(addr mm.PAddr, s BlockSize) bool {
	alloc.lock.AcquireExclusive()
	defer alloc.lock.Release()

	z, index := alloc.zoneFor(addr, s)
	return z.levels[s].occupied.IsSet(index)
}

// IsBlockFree returns true if no part of the block of class s at addr is in
// use.
func (alloc *Allocator) IsBlockFree(addr mm.PAddr, s BlockSize) bool {
	return !alloc.IsBlockUsed(addr, s)
}

// AllocFrame reserves a single 4K frame.
func (alloc *Allocator) AllocFrame() (mm.Frame, *kernel.Error) {
	addr, err := alloc.Alloc(Block4K)
	if err != nil {
		return mm.InvalidFrame, err
	}

	return mm.FrameFromAddress(addr), nil
}

// ReleaseFrame releases a frame obtained by AllocFrame.
func (alloc *Allocator) ReleaseFrame(frame mm.Frame) {
	alloc.Release(frame.Address(), Block4K)
}

// IsReserved returns true if addr was excluded from allocation at
// initialization time because it is reserved, missing, defective or was
// handed out by the boot allocator.
func (alloc *Allocator) IsReserved(addr mm.PAddr) bool {
	return alloc.reserved.Contains(addr)
}

// ReservedRegions returns the reserved physical ranges in ascending order.
func (alloc *Allocator) ReservedRegions() []region.Region[mm.PAddr] {
	return alloc.reserved.Regions()
}

// counts returns the number of free and total blocks of class s.
func (alloc *Allocator) counts(s BlockSize) (free, total int) {
	if !s.Valid() {
		panic(errInvalidBlockSize)
	}

	alloc.lock.AcquireExclusive()
	defer alloc.lock.Release()

	for _, z := range alloc.zones {
		if s < z.minSize {
			continue
		}

		free += z.levels[s].occupied.CountZeros()
		total += z.levels[s].occupied.Len()
	}

	return free, total
}

// FreeCount returns the number of blocks of class s that are entirely free.
func (alloc *Allocator) FreeCount(s BlockSize) int {
	free, _ := alloc.counts(s)
	return free
}

// UsedCount returns the number of blocks of class s that are used in whole
// or in part.
func (alloc *Allocator) UsedCount(s BlockSize) int {
	free, total := alloc.counts(s)
	return total - free
}

// TotalCount returns the number of blocks of class s tracked by the
// allocator.
func (alloc *Allocator) TotalCount(s BlockSize) int {
	_, total := alloc.counts(s)
	return total
}

// ClassStats summarizes the state of a single size class.
type ClassStats struct {
	Size BlockSize

	Free, Used, Total int
}

// Stats returns a snapshot of the block counts for every size class.
func (alloc *Allocator) Stats() [numBlockSizes]ClassStats {
	var stats [numBlockSizes]ClassStats
	for s := Block4K; s < numBlockSizes; s++ {
		free, total := alloc.counts(s)
		stats[s] = ClassStats{Size: s, Free: free, Used: total - free, Total: total}
	}

	return stats
}

// PrintStats logs the block counts for every size class.
func (alloc *Allocator) PrintStats() {
	for _, st := range alloc.Stats() {
		kfmt.Printf("[pmm] %4s blocks: %8d free, %8d used, %8d total\n", st.Size.String(), st.Free, st.Used, st.Total)
	}
}
