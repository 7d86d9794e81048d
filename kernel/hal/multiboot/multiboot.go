// Package multiboot decodes the boot information block and the physical
// memory map handed over by a multiboot (v1) compliant boot loader.
//
// All fields are decoded from little-endian byte slices; nothing is read
// through pointer overlays. Info fields are only populated when the flag bit
// that guards them is set.
package multiboot

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// InfoFlag is a bit in the flags word of the boot information block that
// marks a group of fields as valid.
type InfoFlag uint32

const (
	// FlagMemInfo marks MemLower and MemUpper as valid.
	FlagMemInfo InfoFlag = 1 << 0

	// FlagBootDevice marks BootDevice as valid.
	FlagBootDevice InfoFlag = 1 << 1

	// FlagCmdLine marks CmdLine as valid.
	FlagCmdLine InfoFlag = 1 << 2

	// FlagModules marks ModsCount and ModsAddr as valid.
	FlagModules InfoFlag = 1 << 3

	// FlagMemMap marks MmapLength and MmapAddr as valid.
	FlagMemMap InfoFlag = 1 << 6
)

const (
	// InfoSize is the number of bytes of the boot information block that
	// ParseInfo needs.
	InfoSize = 52

	// ModuleSize is the size of a single module descriptor.
	ModuleSize = 16

	// minEntrySize is the smallest valid value of a memory map record size
	// field (base, length and type).
	minEntrySize = 20

	symbolInfoSize = 16
)

var (
	// ErrTruncated is the cause of errors reported when the input ends
	// before a complete structure could be decoded.
	ErrTruncated = errors.New("multiboot: truncated data")

	// ErrBadEntrySize is the cause of errors reported for memory map
	// records whose size field is too small to hold a record.
	ErrBadEntrySize = errors.New("multiboot: invalid memory map entry size")
)

// Info holds the decoded fields of the boot information block.
type Info struct {
	Flags InfoFlag

	// Amount of lower and upper memory in kilobytes.
	MemLower, MemUpper uint32

	BootDevice uint32

	// Physical address of the kernel command line.
	CmdLine uint32

	// Number of boot modules and the physical address of the first
	// module descriptor.
	ModsCount, ModsAddr uint32

	// Length and physical address of the memory map buffer.
	MmapLength, MmapAddr uint32
}

// Has returns true if flag is set in the information block.
func (i *Info) Has(flag InfoFlag) bool {
	return i.Flags&flag != 0
}

// Module describes a boot module loaded by the boot loader.
type Module struct {
	// Physical extent of the module image, [Start, End).
	Start, End uint32

	// Physical address of the module command line.
	CmdLine uint32
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// MemBad indicates defective RAM.
	MemBad

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	case MemBad:
		return "bad"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each memory region. The visitor must return true to
// continue or false to abort the scan.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

// MemoryMap is a decoded boot memory map in boot loader order. Entries may
// overlap and are not guaranteed to be sorted.
type MemoryMap []MemoryMapEntry

// VisitMemRegions invokes visitor for each entry in the memory map.
func (m MemoryMap) VisitMemRegions(visitor MemRegionVisitor) {
	for i := range m {
		entry := m[i]
		if !visitor(&entry) {
			return
		}
	}
}

// cursor reads little-endian values from a byte slice keeping track of the
// current offset.
type cursor struct {
	data []byte
	off  int
}

func (c *cursor) remaining() int {
	return len(c.data) - c.off
}

func (c *cursor) u32() (uint32, error) {
	if c.remaining() < 4 {
		return 0, errors.Wrapf(ErrTruncated, "reading uint32 at offset %d", c.off)
	}

	v := binary.LittleEndian.Uint32(c.data[c.off:])
	c.off += 4
	return v, nil
}

func (c *cursor) u64() (uint64, error) {
	if c.remaining() < 8 {
		return 0, errors.Wrapf(ErrTruncated, "reading uint64 at offset %d", c.off)
	}

	v := binary.LittleEndian.Uint64(c.data[c.off:])
	c.off += 8
	return v, nil
}

func (c *cursor) skip(n int) error {
	if c.remaining() < n {
		return errors.Wrapf(ErrTruncated, "skipping %d bytes at offset %d", n, c.off)
	}

	c.off += n
	return nil
}

// ParseInfo decodes the boot information block. Fields whose guarding flag is
// not set are left zeroed.
func ParseInfo(data []byte) (*Info, error) {
	if len(data) < InfoSize {
		return nil, errors.Wrapf(ErrTruncated, "boot information block is %d bytes; need %d", len(data), InfoSize)
	}

	var (
		c    = cursor{data: data}
		raw  [9]uint32
		info Info
	)

	// flags through mods_addr, then the symbol table union, then the
	// memory map length and address.
	for i := range raw {
		if i == 7 {
			if err := c.skip(symbolInfoSize); err != nil {
				return nil, errors.Wrap(err, "decoding boot information block")
			}
		}

		v, err := c.u32()
		if err != nil {
			return nil, errors.Wrap(err, "decoding boot information block")
		}
		raw[i] = v
	}

	info.Flags = InfoFlag(raw[0])
	if info.Has(FlagMemInfo) {
		info.MemLower, info.MemUpper = raw[1], raw[2]
	}
	if info.Has(FlagBootDevice) {
		info.BootDevice = raw[3]
	}
	if info.Has(FlagCmdLine) {
		info.CmdLine = raw[4]
	}
	if info.Has(FlagModules) {
		info.ModsCount, info.ModsAddr = raw[5], raw[6]
	}
	if info.Has(FlagMemMap) {
		info.MmapLength, info.MmapAddr = raw[7], raw[8]
	}

	return &info, nil
}
