package mm

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)

	// LargePageShift is equal to log2(LargePageSize).
	LargePageShift = 22

	// LargePageSize is the size of a PSE page. 32-bit paging can map frames
	// located above 4 GiB only with pages of this size.
	LargePageSize = Size(1 << LargePageShift)

	// HighMemoryBase is the first physical address that cannot be reached
	// with regular 32-bit page table entries.
	HighMemoryBase = PAddr(4 * Gb)

	// MaxVAddr is the last addressable byte of a virtual address space.
	MaxVAddr = ^VAddr(0)
)
