package vmm

import (
	"silverbox/kernel"
	"silverbox/kernel/mm"
	"silverbox/kernel/sync"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errFrameNotPresent   = &kernel.Error{Module: "vmm", Message: "page table entries must be installed with FlagPresent"}
)

// Mapper installs and removes page translations in the address space
// identified by a root page table.
type Mapper interface {
	// Map establishes a mapping between a virtual page and a physical
	// frame replacing any existing translation for the page.
	Map(root mm.PAddr, page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error

	// Unmap removes the translation for a page.
	Unmap(root mm.PAddr, page mm.Page) *kernel.Error

	// Translate returns the frame and flags a page is mapped to.
	Translate(root mm.PAddr, page mm.Page) (mm.Frame, PageTableEntryFlag, *kernel.Error)
}

// PageTables is a Mapper that keeps the final level page table entries of
// every address space in memory. It stands in for the kernel page mapping
// service when the init server runs hosted.
type PageTables struct {
	lock   sync.Spinlock
	tables map[mm.PAddr]map[mm.Page]pageTableEntry
}

// NewPageTables returns an empty set of page tables.
func NewPageTables() *PageTables {
	return &PageTables{tables: make(map[mm.PAddr]map[mm.Page]pageTableEntry)}
}

// Map implements Mapper.
func (pt *PageTables) Map(root mm.PAddr, page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if flags&FlagHugePage != 0 {
		return errNoHugePageSupport
	}
	if flags&FlagPresent == 0 {
		return errFrameNotPresent
	}

	pt.lock.Acquire()
	defer pt.lock.Release()

	table, ok := pt.tables[root]
	if !ok {
		table = make(map[mm.Page]pageTableEntry)
		pt.tables[root] = table
	}

	var pte pageTableEntry
	pte.SetFrame(frame)
	pte.SetFlags(flags)
	table[page] = pte
	return nil
}

// Unmap implements Mapper.
func (pt *PageTables) Unmap(root mm.PAddr, page mm.Page) *kernel.Error {
	pt.lock.Acquire()
	defer pt.lock.Release()

	table := pt.tables[root]
	if _, ok := table[page]; !ok {
		return ErrInvalidMapping
	}

	delete(table, page)
	return nil
}

// Translate implements Mapper.
func (pt *PageTables) Translate(root mm.PAddr, page mm.Page) (mm.Frame, PageTableEntryFlag, *kernel.Error) {
	pt.lock.Acquire()
	defer pt.lock.Release()

	pte, ok := pt.tables[root][page]
	if !ok || !pte.HasFlags(FlagPresent) {
		return mm.InvalidFrame, 0, ErrInvalidMapping
	}

	return pte.Frame(), pte.Flags(), nil
}

// MappedPages returns the number of pages mapped in the address space for
// root.
func (pt *PageTables) MappedPages(root mm.PAddr) int {
	pt.lock.Acquire()
	defer pt.lock.Release()

	return len(pt.tables[root])
}
