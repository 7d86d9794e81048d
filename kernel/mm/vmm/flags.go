package vmm

// MappingFlag describes the protection and behavior of an address mapping.
type MappingFlag uint32

const (
	// MapReadOnly prevents writes to the mapping.
	MapReadOnly MappingFlag = 1 << iota

	// MapNoExecute prevents instruction fetches from the mapping.
	MapNoExecute

	// MapCopyOnWrite marks a mapping whose pages are shared until first
	// written to. Resolution of such writes is not supported.
	MapCopyOnWrite

	// MapGuard marks a range that must never be accessed. Faults inside
	// it are reported as guard page violations.
	MapGuard

	// MapExtendDown marks a mapping that grows towards lower addresses,
	// such as a stack.
	MapExtendDown

	// MapPresent requests that the pages of the mapping are committed
	// when the mapping is created instead of on first access.
	MapPresent
)

var mappingFlagNames = [...]string{"ro", "nx", "cow", "guard", "down", "present"}

// Has returns true if all bits of flag are set.
func (f MappingFlag) Has(flag MappingFlag) bool {
	return f&flag == flag
}

// Writable returns true if the mapping can be written to once its pages are
// resolved.
func (f MappingFlag) Writable() bool {
	return f&(MapReadOnly|MapCopyOnWrite|MapGuard) == 0
}

// PageFlags returns the page table entry flags used to install pages that
// belong to a mapping with these flags.
func (f MappingFlag) PageFlags() PageTableEntryFlag {
	flags := FlagPresent | FlagUserAccessible
	if f.Writable() {
		flags |= FlagRW
	}
	if f.Has(MapCopyOnWrite) {
		flags |= FlagCopyOnWrite
	}
	if f.Has(MapNoExecute) {
		flags |= FlagNoExecute
	}

	return flags
}

// String implements fmt.Stringer.
func (f MappingFlag) String() string {
	if f == 0 {
		return "rw"
	}

	var out []byte
	for bit, name := range mappingFlagNames {
		if f&(1<<bit) == 0 {
			continue
		}
		if len(out) != 0 {
			out = append(out, '|')
		}
		out = append(out, name...)
	}

	return string(out)
}
