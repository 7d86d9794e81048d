//go:build unix

package kmain

import (
	"silverbox/kernel"
	"silverbox/kernel/mm"
	"silverbox/kernel/mm/physmem"
)

// newPhysMemory returns an arena that stands in for the physical range
// [0, size).
func newPhysMemory(size mm.Size) (physmem.Memory, *kernel.Error) {
	arena, err := physmem.NewArena(0, size)
	if err != nil {
		return nil, err
	}

	return arena, nil
}
