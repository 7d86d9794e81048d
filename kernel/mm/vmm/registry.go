package vmm

import (
	"silverbox/kernel"
	"silverbox/kernel/mm"
	"silverbox/kernel/sync"
)

var (
	errAddrSpaceExists = &kernel.Error{Module: "vmm", Message: "an address space with the same root page table is already registered"}
	errNoAddrSpace     = &kernel.Error{Module: "vmm", Message: "no address space is registered for the root page table"}
	errThreadAttached  = &kernel.Error{Module: "vmm", Message: "thread is already attached to another address space"}
)

// Registry is the table of live address spaces keyed by the physical address
// of their root page table. Re-entering the registry while another call is
// in progress panics with sync.ErrReentered.
type Registry struct {
	lock   sync.Spinlock
	spaces map[mm.PAddr]*AddrSpace
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{spaces: make(map[mm.PAddr]*AddrSpace)}
}

// Register adds space to the registry.
func (r *Registry) Register(space *AddrSpace) *kernel.Error {
	r.lock.AcquireExclusive()
	defer r.lock.Release()

	if _, exists := r.spaces[space.root]; exists {
		return errAddrSpaceExists
	}

	r.spaces[space.root] = space
	return nil
}

// Unregister removes the address space for root from the registry and
// returns it.
func (r *Registry) Unregister(root mm.PAddr) (*AddrSpace, bool) {
	r.lock.AcquireExclusive()
	defer r.lock.Release()

	space, ok := r.spaces[root]
	if ok {
		delete(r.spaces, root)
	}

	return space, ok
}

// Lookup returns the address space for root.
func (r *Registry) Lookup(root mm.PAddr) (*AddrSpace, bool) {
	r.lock.AcquireExclusive()
	defer r.lock.Release()

	space, ok := r.spaces[root]
	return space, ok
}

// LookupTID returns the address space that tid is attached to.
func (r *Registry) LookupTID(tid ThreadID) (*AddrSpace, bool) {
	r.lock.AcquireExclusive()
	defer r.lock.Release()

	return r.lookupTID(tid)
}

func (r *Registry) lookupTID(tid ThreadID) (*AddrSpace, bool) {
	for _, space := range r.spaces {
		if space.HasThread(tid) {
			return space, true
		}
	}

	return nil, false
}

// AttachThread attaches tid to the address space for root making sure that
// the thread does not belong to another registered address space.
func (r *Registry) AttachThread(root mm.PAddr, tid ThreadID) *kernel.Error {
	r.lock.AcquireExclusive()
	defer r.lock.Release()

	space, ok := r.spaces[root]
	if !ok {
		return errNoAddrSpace
	}

	if owner, found := r.lookupTID(tid); found && owner != space {
		return errThreadAttached
	}

	space.AttachThread(tid)
	return nil
}

// Len returns the number of registered address spaces.
func (r *Registry) Len() int {
	r.lock.AcquireExclusive()
	defer r.lock.Release()

	return len(r.spaces)
}
