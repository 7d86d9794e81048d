package vmm

import (
	"strconv"

	"silverbox/kernel"
	"silverbox/kernel/kfmt"
	"silverbox/kernel/mm"
	"silverbox/kernel/mm/physmem"
)

// FaultCode holds the error code bits pushed by the CPU for a page fault.
type FaultCode uint32

const (
	// FaultPresent is set if the fault was caused by a protection
	// violation on a present page and cleared for non-present pages.
	FaultPresent FaultCode = 1 << iota

	// FaultWrite is set if the faulting access was a write.
	FaultWrite

	// FaultUser is set if the access originated in user mode.
	FaultUser

	// FaultReservedBit is set if a page table entry had a reserved bit set.
	FaultReservedBit

	// FaultFetch is set if the fault was caused by an instruction fetch.
	FaultFetch
)

// FaultReason classifies a page fault that could not be resolved.
type FaultReason uint8

const (
	// FaultNoAddrSpace means the faulting thread has no address space.
	FaultNoAddrSpace FaultReason = iota + 1

	// FaultNoMapping means no mapping covers the faulting address.
	FaultNoMapping

	// FaultGuardPage means the faulting address lies in a guard mapping.
	FaultGuardPage

	// FaultProtection means the access is not allowed by the mapping.
	FaultProtection

	// FaultOutOfMemory means no frame was available to back the page.
	FaultOutOfMemory

	// FaultMapFailed means the page could not be installed.
	FaultMapFailed

	// FaultUnimplemented means resolving the fault requires a policy
	// that is not supported (copy-on-write, swapping, unknown devices).
	FaultUnimplemented
)

// String implements fmt.Stringer.
func (r FaultReason) String() string {
	switch r {
	case FaultNoAddrSpace:
		return "no address space"
	case FaultNoMapping:
		return "no mapping"
	case FaultGuardPage:
		return "guard page"
	case FaultProtection:
		return "protection violation"
	case FaultOutOfMemory:
		return "out of memory"
	case FaultMapFailed:
		return "map failed"
	case FaultUnimplemented:
		return "unimplemented"
	default:
		return "unknown"
	}
}

// FaultError describes a page fault that could not be resolved.
type FaultError struct {
	Reason FaultReason

	// Addr is the faulting virtual address.
	Addr mm.VAddr

	// Detail is a human readable description of the failure.
	Detail string
}

// Error implements the error interface.
func (e *FaultError) Error() string {
	return "page fault at 0x" + strconv.FormatUint(uint64(e.Addr), 16) + ": " + e.Reason.String() + ": " + e.Detail
}

// FrameAllocator is implemented by physical frame allocators.
type FrameAllocator interface {
	AllocFrame() (mm.Frame, *kernel.Error)
	ReleaseFrame(mm.Frame)
}

// FaultResolver resolves page faults by committing the pages of the mapping
// that covers the faulting address.
type FaultResolver struct {
	Spaces *Registry
	Frames FrameAllocator
	Mapper Mapper

	// Memory is used to clear frames that back demand-zero pages.
	Memory physmem.Memory
}

func faultErr(reason FaultReason, addr mm.VAddr, detail string) *FaultError {
	return &FaultError{Reason: reason, Addr: addr, Detail: detail}
}

// HandleFault resolves a fault raised by thread tid while accessing addr.
// Faults on pages that are not present are resolved according to the device
// backing the covering mapping: demand-zero pages get a fresh cleared frame
// and physical memory mappings get the frame at their backing offset.
// Protected writes to copy-on-write mappings are detected but not resolved.
func (fr *FaultResolver) HandleFault(tid ThreadID, addr mm.VAddr, code FaultCode) *FaultError {
	space, ok := fr.Spaces.LookupTID(tid)
	if !ok {
		return faultErr(FaultNoAddrSpace, addr, "thread is not attached to an address space")
	}

	m, ok := space.GetMapping(addr)
	if !ok {
		return faultErr(FaultNoMapping, addr, "address is not mapped")
	}

	if m.Flags.Has(MapGuard) {
		return faultErr(FaultGuardPage, addr, "access to guard page")
	}

	if code&FaultFetch != 0 && m.Flags.Has(MapNoExecute) {
		return faultErr(FaultProtection, addr, "instruction fetch from non-executable mapping")
	}

	if code&FaultPresent != 0 {
		if code&FaultWrite != 0 && m.Flags.Has(MapCopyOnWrite) {
			kfmt.Printf("[vmm] copy-on-write fault at 0x%8x is not supported\n", uint32(addr))
			return faultErr(FaultUnimplemented, addr, "copy-on-write is not supported")
		}

		return faultErr(FaultProtection, addr, "access not permitted by the mapping")
	}

	if code&FaultWrite != 0 && m.Flags.Has(MapReadOnly) {
		return faultErr(FaultProtection, addr, "write to read-only mapping")
	}

	page := mm.PageFromAddress(addr)
	return fr.commit(space, &m, page)
}

// commit installs the page of mapping m that contains page.
func (fr *FaultResolver) commit(space *AddrSpace, m *AddressMapping, page mm.Page) *FaultError {
	var (
		addr    = page.Address()
		backing = m.BackingFor(addr)
		frame   mm.Frame
		owned   bool
	)

	switch backing.Device {
	case DeviceZero:
		var err *kernel.Error
		if frame, err = fr.Frames.AllocFrame(); err != nil {
			return faultErr(FaultOutOfMemory, addr, err.Message)
		}
		owned = true

		if err = physmem.Zero(fr.Memory, frame.Address(), mm.PageSize); err != nil {
			fr.Frames.ReleaseFrame(frame)
			return faultErr(FaultMapFailed, addr, err.Message)
		}
	case DeviceMemory:
		if !mm.IsAligned(backing.Offset, uint64(mm.PageSize)) {
			return faultErr(FaultMapFailed, addr, "physical backing is not page aligned")
		}
		// Memory at or above 4 GiB is only reachable through 4 MiB pages.
		if backing.Offset >= uint64(mm.HighMemoryBase) {
			kfmt.Printf("[vmm] 4K mapping of high memory 0x%16x is not supported (fault at 0x%8x)\n", backing.Offset, uint32(addr))
			return faultErr(FaultUnimplemented, addr, "4K pages above 4 GiB are not supported")
		}
		frame = mm.FrameFromAddress(mm.PAddr(backing.Offset))
	default:
		kfmt.Printf("[vmm] no pager for device %d (fault at 0x%8x)\n", uint32(backing.Device), uint32(addr))
		return faultErr(FaultUnimplemented, addr, "device backed pages are not supported")
	}

	if err := fr.Mapper.Map(space.Root(), page, frame, m.Flags.PageFlags()); err != nil {
		if owned {
			fr.Frames.ReleaseFrame(frame)
		}
		return faultErr(FaultMapFailed, addr, err.Message)
	}

	return nil
}
