package vmm

import (
	"strconv"

	"silverbox/kernel/mm"
	"silverbox/kernel/mm/region"
)

// DeviceID identifies the device that backs the pages of a mapping.
type DeviceID uint32

const (
	// DeviceZero backs demand-zero memory. Every page reads as zero until
	// it is first written to.
	DeviceZero DeviceID = iota

	// DeviceMemory backs a mapping with physical memory; the backing
	// offset is the physical address.
	DeviceMemory
)

// String implements fmt.Stringer.
func (d DeviceID) String() string {
	switch d {
	case DeviceZero:
		return "zero"
	case DeviceMemory:
		return "mem"
	default:
		return "dev" + strconv.FormatUint(uint64(d), 10)
	}
}

// BackingPage names a byte offset within a backing device.
type BackingPage struct {
	Device DeviceID
	Offset uint64
}

// Advance returns the backing page n bytes past p on the same device.
func (p BackingPage) Advance(n uint64) BackingPage {
	return BackingPage{Device: p.Device, Offset: p.Offset + n}
}

// VirtRegion is a virtual address range.
type VirtRegion = region.Region[mm.VAddr]

// AddressMapping associates a page aligned virtual region with a backing
// device. The backing offset advances linearly with the virtual address.
type AddressMapping struct {
	// Base is the backing page of the first address in Region.
	Base BackingPage

	Region VirtRegion

	Flags MappingFlag
}

// Contains returns true if addr falls inside the mapping.
func (m *AddressMapping) Contains(addr mm.VAddr) bool {
	return m.Region.Contains(addr)
}

// BackingFor returns the backing page of addr which must fall inside the
// mapping.
func (m *AddressMapping) BackingFor(addr mm.VAddr) BackingPage {
	return m.Base.Advance(uint64(addr - m.Region.Start()))
}

// String implements fmt.Stringer.
func (m AddressMapping) String() string {
	return m.Region.String() + " -> " + m.Base.Device.String() + "+0x" +
		strconv.FormatUint(m.Base.Offset, 16) + " (" + m.Flags.String() + ")"
}
