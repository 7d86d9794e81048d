package pmm

import (
	"silverbox/kernel"
	"silverbox/kernel/hal/multiboot"
	"silverbox/kernel/kfmt"
	"silverbox/kernel/mm"
	"silverbox/kernel/mm/bitarray"
	"silverbox/kernel/mm/region"
)

// MaxPhysAddr is the end of the physical address range the allocator can
// track (36-bit physical addresses). Memory past it is ignored.
const MaxPhysAddr = mm.PAddr(64 * mm.Gb)

var errNoUsableMemory = &kernel.Error{Module: "pmm", Message: "memory map contains no usable memory"}

// MemoryMap is implemented by sources of boot memory map entries.
type MemoryMap interface {
	VisitMemRegions(visitor multiboot.MemRegionVisitor)
}

type physRegion = region.Region[mm.PAddr]

// zoneSpan describes the physical range and smallest class of a zone.
type zoneSpan struct {
	base, end mm.PAddr
	minSize   BlockSize
}

// layout returns the usable memory reported by memMap and the zones needed
// to track it.
func layout(memMap MemoryMap) (region.Set[mm.PAddr], []zoneSpan, *kernel.Error) {
	usable := usableMemory(memMap)
	if usable.IsEmpty() {
		return usable, nil, errNoUsableMemory
	}

	memEnd := usable.At(usable.Len()-1).Last() + 1
	if memEnd > MaxPhysAddr || memEnd == 0 {
		kfmt.Printf("[pmm] ignoring memory above 0x%x\n", uint64(MaxPhysAddr))
		memEnd = MaxPhysAddr
		usable.Remove(region.ToEnd(MaxPhysAddr))
	}

	lowEnd := memEnd
	if lowEnd > mm.HighMemoryBase {
		lowEnd = mm.HighMemoryBase
	}

	spans := []zoneSpan{{0, mm.AlignUp(lowEnd, mm.PAddr(Block128M.Size())), Block4K}}
	if memEnd > mm.HighMemoryBase {
		spans = append(spans, zoneSpan{mm.HighMemoryBase, mm.AlignUp(memEnd, mm.PAddr(Block128M.Size())), Block4M})
	}

	return usable, spans, nil
}

// MetadataSize returns the number of bytes occupied by the bitmaps of an
// Allocator that manages the memory described by memMap.
func MetadataSize(memMap MemoryMap) (mm.Size, *kernel.Error) {
	_, spans, err := layout(memMap)
	if err != nil {
		return 0, err
	}

	var words int
	for _, span := range spans {
		topBlocks := int((span.end - span.base) >> Block128M.Shift())
		for s := span.minSize; s < numBlockSizes; s++ {
			perLevel := (topBlocks*Block128M.subBlocks(s) + bitarray.WordBits - 1) / bitarray.WordBits
			words += perLevel
			if s != span.minSize {
				words += perLevel
			}
		}
	}

	return mm.Size(words * bitarray.WordBits / 8), nil
}

// New builds an Allocator for the memory described by memMap. Everything
// that memMap does not report as available (including holes between entries
// and anything covered by a non-available entry) is reserved together with
// the ranges in consumed which were handed out by the boot allocator.
func New(memMap MemoryMap, consumed region.Set[mm.PAddr]) (*Allocator, *kernel.Error) {
	usable, spans, err := layout(memMap)
	if err != nil {
		return nil, err
	}

	var (
		alloc   = &Allocator{}
		tracked region.Set[mm.PAddr]
	)
	for _, span := range spans {
		alloc.zones = append(alloc.zones, newZone(span.base, span.end, span.minSize))
		tracked.Insert(region.New(span.base, span.end))
	}

	alloc.reserved = tracked.Difference(usable).Union(consumed.Intersect(tracked))
	for _, z := range alloc.zones {
		for _, r := range alloc.reserved.IntersectRegion(region.New(z.base, z.end)).Regions() {
			z.reserve(r)
		}
	}

	return alloc, nil
}

// usableMemory returns the available regions of memMap minus every region
// that memMap reports with a different type.
func usableMemory(memMap MemoryMap) region.Set[mm.PAddr] {
	var available, unavailable region.Set[mm.PAddr]

	memMap.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		if entry.Length == 0 {
			return true
		}

		r, ok := region.WithLength(mm.PAddr(entry.PhysAddress), mm.PAddr(entry.Length))
		if !ok {
			r = region.ToEnd(mm.PAddr(entry.PhysAddress))
		}

		if entry.Type == multiboot.MemAvailable {
			available.Insert(r)
		} else {
			unavailable.Insert(r)
		}
		return true
	})

	return available.Difference(unavailable)
}

// reserve marks the blocks covering r, which must lie inside the zone, as
// used. r is widened to the smallest block size of the zone (4K below 4 GiB
// and 4M above it). Each step marks the largest block that is aligned at the
// current address and does not extend past the end of the widened range.
func (z *zone) reserve(r physRegion) {
	minBlock := mm.PAddr(z.minSize.Size())
	addr := mm.AlignDown(r.Start(), minBlock)
	end := mm.AlignUp(r.Last()+1, minBlock)
	if end > z.end || end == 0 {
		end = z.end
	}

	for addr < end {
		s := Block128M
		for ; s > z.minSize; s-- {
			size := mm.PAddr(s.Size())
			if mm.IsAligned(addr, size) && end-addr >= size {
				break
			}
		}

		z.mark(s, z.index(addr, s), true)
		addr += mm.PAddr(s.Size())
	}
}
