package vmm

import (
	"sort"

	"silverbox/kernel"
	"silverbox/kernel/mm"
	"silverbox/kernel/mm/region"
)

var (
	errInvalidLength  = &kernel.Error{Module: "vmm", Message: "mapping length must be non-zero and fit in the address space"}
	errMappingOverlap = &kernel.Error{Module: "vmm", Message: "requested range overlaps an existing mapping"}
	errNoFreeRegion   = &kernel.Error{Module: "vmm", Message: "no free virtual region is large enough for the request"}
	errNotMapped      = &kernel.Error{Module: "vmm", Message: "range is not covered by a single mapping"}
)

// addrSpaceSize is the number of bytes in a virtual address space.
const addrSpaceSize = uint64(mm.MaxVAddr) + 1

// ThreadID identifies a thread.
type ThreadID uint64

// AddrSpace tracks the mappings of a single virtual address space which is
// identified by the physical address of its root page table. Mappings are
// kept sorted by start address and never overlap.
//
// AddrSpace is not safe for concurrent use; the Registry serializes access
// to the table of address spaces but each AddrSpace belongs to its owner.
type AddrSpace struct {
	root     mm.PAddr
	mappings []AddressMapping
	threads  map[ThreadID]struct{}
}

// NewAddrSpace returns an empty address space for the given root page table.
func NewAddrSpace(root mm.PAddr) *AddrSpace {
	return &AddrSpace{
		root:    root,
		threads: make(map[ThreadID]struct{}),
	}
}

// Root returns the physical address of the root page table.
func (as *AddrSpace) Root() mm.PAddr {
	return as.root
}

// pageRange rounds [addr, addr+length) outwards to page boundaries.
func pageRange(addr mm.VAddr, length mm.Size) (VirtRegion, *kernel.Error) {
	if length == 0 || uint64(length) > addrSpaceSize {
		return VirtRegion{}, errInvalidLength
	}

	start := mm.AlignDown(addr, mm.VAddr(mm.PageSize))
	end := mm.AlignUp(uint64(addr)+uint64(length), uint64(mm.PageSize))

	switch {
	case end < addrSpaceSize:
		return region.New(start, mm.VAddr(end)), nil
	case end == addrSpaceSize:
		return region.ToEnd(start), nil
	default:
		return VirtRegion{}, errInvalidLength
	}
}

// search returns the index of the first mapping that ends at or after addr.
func (as *AddrSpace) search(addr mm.VAddr) int {
	return sort.Search(len(as.mappings), func(i int) bool {
		return as.mappings[i].Region.Last() >= addr
	})
}

// overlaps returns true if r overlaps any existing mapping.
func (as *AddrSpace) overlaps(r VirtRegion) bool {
	i := as.search(r.Start())
	return i < len(as.mappings) && as.mappings[i].Region.Overlaps(r)
}

func (as *AddrSpace) insert(m AddressMapping) {
	i := as.search(m.Region.Start())
	as.mappings = append(as.mappings, AddressMapping{})
	copy(as.mappings[i+1:], as.mappings[i:])
	as.mappings[i] = m
}

func (as *AddrSpace) remove(i int) {
	as.mappings = append(as.mappings[:i], as.mappings[i+1:]...)
}

// MapFixed maps length bytes at addr to the device range starting at base.
// The range is widened to page boundaries and base describes the backing of
// the first byte of the widened range. MapFixed fails without modifying the
// address space if the range overlaps an existing mapping. It returns the
// page aligned start of the new mapping.
func (as *AddrSpace) MapFixed(addr mm.VAddr, base BackingPage, flags MappingFlag, length mm.Size) (mm.VAddr, *kernel.Error) {
	r, err := pageRange(addr, length)
	if err != nil {
		return 0, err
	}

	if as.overlaps(r) {
		return 0, errMappingOverlap
	}

	as.insert(AddressMapping{Base: base, Region: r, Flags: flags})
	return r.Start(), nil
}

// Map places a mapping of length bytes, rounded up to whole pages, at the
// lowest free virtual address that can hold it and returns that address.
func (as *AddrSpace) Map(base BackingPage, flags MappingFlag, length mm.Size) (mm.VAddr, *kernel.Error) {
	if length == 0 || uint64(length) > addrSpaceSize {
		return 0, errInvalidLength
	}
	size := mm.AlignUp(uint64(length), uint64(mm.PageSize))

	free := as.FreeRegions()
	for i := 0; i < free.Len(); i++ {
		candidate := free.At(i)

		// Only the full region fails to report its length and it can
		// hold any request.
		if avail, err := candidate.Length(); err == nil && uint64(avail) < size {
			continue
		}

		r := region.ToEnd(candidate.Start())
		if end := uint64(candidate.Start()) + size; end < addrSpaceSize {
			r = region.New(candidate.Start(), mm.VAddr(end))
		}

		as.insert(AddressMapping{Base: base, Region: r, Flags: flags})
		return r.Start(), nil
	}

	return 0, errNoFreeRegion
}

// Unmap removes [addr, addr+length), widened to page boundaries, from the
// mapping that covers it. The parts of the mapping before and after the
// range remain mapped with their backing offsets adjusted so every remaining
// page keeps its original backing.
func (as *AddrSpace) Unmap(addr mm.VAddr, length mm.Size) *kernel.Error {
	r, err := pageRange(addr, length)
	if err != nil {
		return err
	}

	i := as.search(r.Start())
	if i == len(as.mappings) || !as.mappings[i].Region.ContainsRegion(r) {
		return errNotMapped
	}

	m := as.mappings[i]
	as.remove(i)

	rest := m.Region.Difference(r)
	for j := 0; j < rest.Len(); j++ {
		piece := rest.At(j)
		as.insert(AddressMapping{
			Base:   m.BackingFor(piece.Start()),
			Region: piece,
			Flags:  m.Flags,
		})
	}

	return nil
}

// GetMapping returns the mapping that contains addr.
func (as *AddrSpace) GetMapping(addr mm.VAddr) (AddressMapping, bool) {
	i := as.search(addr)
	if i == len(as.mappings) || !as.mappings[i].Contains(addr) {
		return AddressMapping{}, false
	}

	return as.mappings[i], true
}

// Mappings returns a copy of the mappings in ascending address order.
func (as *AddrSpace) Mappings() []AddressMapping {
	out := make([]AddressMapping, len(as.mappings))
	copy(out, as.mappings)
	return out
}

// FreeRegions returns the virtual ranges not covered by any mapping.
func (as *AddrSpace) FreeRegions() region.Set[mm.VAddr] {
	var mapped region.Set[mm.VAddr]
	for _, m := range as.mappings {
		mapped.Insert(m.Region)
	}

	return mapped.Complement()
}

// AttachThread associates tid with the address space.
func (as *AddrSpace) AttachThread(tid ThreadID) {
	as.threads[tid] = struct{}{}
}

// DetachThread removes tid from the address space. It returns false if the
// thread was not attached.
func (as *AddrSpace) DetachThread(tid ThreadID) bool {
	if _, ok := as.threads[tid]; !ok {
		return false
	}

	delete(as.threads, tid)
	return true
}

// HasThread returns true if tid is attached to the address space.
func (as *AddrSpace) HasThread(tid ThreadID) bool {
	_, ok := as.threads[tid]
	return ok
}

// Threads returns the attached thread ids in ascending order.
func (as *AddrSpace) Threads() []ThreadID {
	out := make([]ThreadID, 0, len(as.threads))
	for tid := range as.threads {
		out = append(out, tid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
