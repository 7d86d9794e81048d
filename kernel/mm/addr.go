// Package mm contains the address, frame and page types shared by the
// physical and virtual memory managers.
package mm

// PAddr is a physical address. Physical addresses are 64 bits wide even
// though the virtual address space is 32 bits wide since PSE-36/PAE capable
// machines can expose memory above 4 GiB.
type PAddr uint64

// VAddr is a virtual address inside a 32-bit address space.
type VAddr uint32

// Frame describes a physical memory page index.
type Frame uint64

// InvalidFrame is returned by page allocators when they fail to reserve the
// requested frame.
const InvalidFrame = ^Frame(0)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte in this Frame.
func (f Frame) Address() PAddr {
	return PAddr(f << PageShift)
}

// FrameFromAddress returns the Frame that contains the given physical
// address. Unaligned addresses are rounded down to the frame that contains
// them.
func FrameFromAddress(physAddr PAddr) Frame {
	return Frame(physAddr >> PageShift)
}

// Page describes a virtual memory page index.
type Page uint32

// Address returns the virtual address of the first byte in this Page.
func (p Page) Address() VAddr {
	return VAddr(p << PageShift)
}

// PageFromAddress returns the Page that contains the given virtual address.
func PageFromAddress(virtAddr VAddr) Page {
	return Page(virtAddr >> PageShift)
}

// PageOffset returns the offset of virtAddr inside its page.
func PageOffset(virtAddr VAddr) VAddr {
	return virtAddr & VAddr(PageSize-1)
}

// Unsigned is the set of integer types used to express addresses and sizes.
type Unsigned interface {
	~uint32 | ~uint64 | ~uintptr
}

// AlignDown rounds v down to a multiple of align which must be a power of 2.
func AlignDown[T Unsigned](v, align T) T {
	return v &^ (align - 1)
}

// AlignUp rounds v up to a multiple of align which must be a power of 2. The
// result wraps around to zero if v lies in the last (partial) alignment unit
// of T; callers that care must check IsAligned(v) or compare against v.
func AlignUp[T Unsigned](v, align T) T {
	return (v + align - 1) &^ (align - 1)
}

// IsAligned returns true if v is a multiple of align which must be a power of 2.
func IsAligned[T Unsigned](v, align T) bool {
	return v&(align-1) == 0
}
