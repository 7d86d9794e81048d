package multiboot

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ParseMemoryMap decodes a raw memory map buffer. Each record starts with a
// uint32 holding the size of the rest of the record, followed by the base
// address (uint64), the length (uint64) and the type (uint32). The next
// record starts size bytes after the size field. Unknown types are reported
// as MemReserved.
func ParseMemoryMap(data []byte) (MemoryMap, error) {
	var (
		c       = cursor{data: data}
		entries MemoryMap
	)

	for index := 0; c.remaining() > 0; index++ {
		recordOff := c.off

		size, err := c.u32()
		if err != nil {
			return nil, errors.Wrapf(err, "memory map record %d", index)
		}

		if size < minEntrySize {
			return nil, errors.Wrapf(ErrBadEntrySize, "memory map record %d at offset %d has size %d", index, recordOff, size)
		}
		if c.remaining() < int(size) {
			return nil, errors.Wrapf(ErrTruncated, "memory map record %d at offset %d needs %d bytes; %d left", index, recordOff, size, c.remaining())
		}

		var entry MemoryMapEntry
		entry.PhysAddress, _ = c.u64()
		entry.Length, _ = c.u64()
		typ, _ := c.u32()

		entry.Type = MemoryEntryType(typ)
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		// Skip any trailing bytes a boot loader might append to a record.
		c.off = recordOff + 4 + int(size)

		entries = append(entries, entry)
	}

	return entries, nil
}

// EncodeMemoryMap serializes a memory map using the boot loader record
// layout with the minimum record size.
func EncodeMemoryMap(m MemoryMap) []byte {
	buf := make([]byte, 0, len(m)*(4+minEntrySize))
	for _, entry := range m {
		buf = binary.LittleEndian.AppendUint32(buf, minEntrySize)
		buf = binary.LittleEndian.AppendUint64(buf, entry.PhysAddress)
		buf = binary.LittleEndian.AppendUint64(buf, entry.Length)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(entry.Type))
	}

	return buf
}

// ParseModules decodes count module descriptors. Each descriptor holds the
// module start and end addresses, the command line address and a reserved
// word.
func ParseModules(data []byte, count uint32) ([]Module, error) {
	if need := int(count) * ModuleSize; len(data) < need {
		return nil, errors.Wrapf(ErrTruncated, "%d module descriptors need %d bytes; got %d", count, need, len(data))
	}

	var (
		c    = cursor{data: data}
		mods = make([]Module, count)
	)

	for i := range mods {
		mods[i].Start, _ = c.u32()
		mods[i].End, _ = c.u32()
		mods[i].CmdLine, _ = c.u32()
		_ = c.skip(4)

		if mods[i].End < mods[i].Start {
			return nil, errors.Errorf("module %d ends (0x%x) before it starts (0x%x)", i, mods[i].End, mods[i].Start)
		}
	}

	return mods, nil
}

// EncodeInfo serializes an information block using the boot loader layout.
// The symbol table words are left zeroed.
func EncodeInfo(info *Info) []byte {
	buf := make([]byte, 0, InfoSize)
	for _, v := range []uint32{
		uint32(info.Flags), info.MemLower, info.MemUpper, info.BootDevice,
		info.CmdLine, info.ModsCount, info.ModsAddr,
	} {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}

	buf = append(buf, make([]byte, symbolInfoSize)...)
	buf = binary.LittleEndian.AppendUint32(buf, info.MmapLength)
	return binary.LittleEndian.AppendUint32(buf, info.MmapAddr)
}
