//go:build !unix

package kmain

import (
	"silverbox/kernel"
	"silverbox/kernel/mm"
	"silverbox/kernel/mm/physmem"
)

var errNoPhysMemory = &kernel.Error{Module: "kmain", Message: "physical memory emulation is not supported on this platform"}

func newPhysMemory(_ mm.Size) (physmem.Memory, *kernel.Error) {
	return nil, errNoPhysMemory
}
