package pmm

import (
	"silverbox/kernel"
	"silverbox/kernel/hal/multiboot"
	"silverbox/kernel/kfmt"
	"silverbox/kernel/mm"
	"silverbox/kernel/mm/region"
)

var (
	errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}
)

// BootMemAllocator implements a rudimentary physical memory allocator which is
// used to bootstrap the init server.
//
// The allocator implementation uses the memory region information provided by
// the bootloader to detect free memory blocks and return the next available
// free frame. Allocations are tracked via an internal counter that contains
// the last allocated frame. Frames overlapping the init image or a range
// registered with Exclude (such as a boot module) are skipped, as are frames
// above 4 GiB.
//
// Due to the way that the allocator works, it is not possible to free
// allocated pages. Once the main Allocator is initialized, the ranges
// reported by Consumed are marked as reserved there.
type BootMemAllocator struct {
	memMap MemoryMap

	// allocCount tracks the total number of allocated frames.
	allocCount uint64

	// lastAllocFrame tracks the last allocated frame number.
	lastAllocFrame mm.Frame

	// excluded holds the page-aligned ranges occupied by the init image and
	// the boot modules.
	excluded region.Set[mm.PAddr]

	// consumed tracks the physical ranges that have been handed out.
	consumed region.Set[mm.PAddr]
}

// NewBootMemAllocator returns a boot allocator that serves frames from the
// available regions of memMap skipping the init image loaded at
// [imageStart, imageEnd).
func NewBootMemAllocator(memMap MemoryMap, imageStart, imageEnd mm.PAddr) *BootMemAllocator {
	alloc := &BootMemAllocator{memMap: memMap}
	alloc.Exclude(imageStart, imageEnd)
	return alloc
}

// Exclude prevents the allocator from handing out any frame that overlaps
// [start, end). Empty ranges are ignored.
func (alloc *BootMemAllocator) Exclude(start, end mm.PAddr) {
	if end <= start {
		return
	}

	alignedEnd := mm.AlignUp(end, mm.PAddr(mm.PageSize))
	if alignedEnd < end {
		alloc.excluded.Insert(region.ToEnd(mm.AlignDown(start, mm.PAddr(mm.PageSize))))
		return
	}

	alloc.excluded.Insert(region.New(mm.AlignDown(start, mm.PAddr(mm.PageSize)), alignedEnd))
}

// AllocFrame scans the system memory regions reported by the bootloader and
// reserves the next available free frame.
//
// AllocFrame returns an error if no more memory can be allocated.
func (alloc *BootMemAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	var err = errBootAllocOutOfMemory

	alloc.memMap.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		// Ignore reserved regions and regions smaller than a single page
		if entry.Type != multiboot.MemAvailable || entry.Length < uint64(mm.PageSize) {
			return true
		}

		// Reported addresses may not be page-aligned; round up to get
		// the start frame and round down to get the end frame
		regionStart := mm.AlignUp(mm.PAddr(entry.PhysAddress), mm.PAddr(mm.PageSize))
		regionEnd := mm.AlignDown(mm.PAddr(entry.PhysAddress+entry.Length), mm.PAddr(mm.PageSize))
		if regionEnd > mm.HighMemoryBase {
			regionEnd = mm.HighMemoryBase
		}
		if regionEnd <= regionStart {
			return true
		}
		regionStartFrame := mm.FrameFromAddress(regionStart)
		regionEndFrame := mm.FrameFromAddress(regionEnd) - 1

		// Ignore already allocated regions
		if alloc.allocCount != 0 && alloc.lastAllocFrame >= regionEndFrame {
			return true
		}

		// The last allocated frame will be either pointing to a
		// previous region or will point inside this region. In the
		// first case (or if this is the first allocation) we select
		// the start frame for this region. In the latter case we
		// select the next available frame.
		candidate := regionStartFrame
		if alloc.allocCount != 0 && alloc.lastAllocFrame >= regionStartFrame {
			candidate = alloc.lastAllocFrame + 1
		}

		// Skip over the frames used by the init image and the boot
		// modules; excluded ranges are sorted so one pass is enough.
		for _, r := range alloc.excluded.Regions() {
			if !r.Contains(candidate.Address()) {
				continue
			}
			if r.ReachesTop() {
				return true
			}
			end, _ := r.End()
			candidate = mm.FrameFromAddress(end)
		}

		if candidate > regionEndFrame {
			return true
		}

		alloc.lastAllocFrame = candidate
		err = nil
		return false
	})

	if err != nil {
		return mm.InvalidFrame, err
	}

	alloc.allocCount++
	alloc.consumed.Insert(region.New(alloc.lastAllocFrame.Address(), (alloc.lastAllocFrame + 1).Address()))
	return alloc.lastAllocFrame, nil
}

// AllocCount returns the number of frames handed out so far.
func (alloc *BootMemAllocator) AllocCount() uint64 {
	return alloc.allocCount
}

// Consumed returns a copy of the physical ranges handed out by the allocator.
func (alloc *BootMemAllocator) Consumed() region.Set[mm.PAddr] {
	return region.NewSet(alloc.consumed.Regions()...)
}

// Reserved returns the ranges that the main Allocator must never hand out:
// the frames handed out so far together with the excluded ranges.
func (alloc *BootMemAllocator) Reserved() region.Set[mm.PAddr] {
	return alloc.Consumed().Union(alloc.excluded)
}

// PrintMemoryMap scans the memory region information provided by the
// bootloader and prints out the system's memory map.
func (alloc *BootMemAllocator) PrintMemoryMap() {
	kfmt.Printf("[boot_mem_alloc] system memory map:\n")
	var totalFree mm.Size
	alloc.memMap.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", entry.PhysAddress, entry.PhysAddress+entry.Length, entry.Length, entry.Type.String())

		if entry.Type == multiboot.MemAvailable {
			totalFree += mm.Size(entry.Length)
		}
		return true
	})
	kfmt.Printf("[boot_mem_alloc] available memory: %dKb\n", uint64(totalFree/mm.Kb))
}
