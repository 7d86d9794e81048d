package vmm

import (
	"bytes"
	"strings"
	"testing"

	"silverbox/kernel"
	"silverbox/kernel/kfmt"
	"silverbox/kernel/mm"
	"silverbox/kernel/mm/physmem"
)

var (
	errTestOutOfFrames = &kernel.Error{Module: "test", Message: "out of frames"}
	errTestBadWindow   = &kernel.Error{Module: "test", Message: "window outside test memory"}
	errTestMapFailed   = &kernel.Error{Module: "test", Message: "map failed"}
)

// testMemory exposes a byte slice as the physical range starting at 0.
type testMemory []byte

func (m testMemory) Window(addr mm.PAddr, size mm.Size) (*physmem.Window, *kernel.Error) {
	end := uint64(addr) + uint64(size)
	if end > uint64(len(m)) {
		return nil, errTestBadWindow
	}

	return physmem.NewWindow(addr, m[addr:end:end], nil), nil
}

// testFrames hands out frames [next, limit) in order.
type testFrames struct {
	next, limit mm.Frame
	released    []mm.Frame
}

func (f *testFrames) AllocFrame() (mm.Frame, *kernel.Error) {
	if f.next >= f.limit {
		return mm.InvalidFrame, errTestOutOfFrames
	}

	f.next++
	return f.next - 1, nil
}

func (f *testFrames) ReleaseFrame(frame mm.Frame) {
	f.released = append(f.released, frame)
}

type failingMapper struct {
	Mapper
}

func (failingMapper) Map(mm.PAddr, mm.Page, mm.Frame, PageTableEntryFlag) *kernel.Error {
	return errTestMapFailed
}

const (
	testRoot = mm.PAddr(0x1000)
	testTID  = ThreadID(1)
)

func newTestResolver(t *testing.T) (*FaultResolver, *AddrSpace, *PageTables, testMemory) {
	t.Helper()

	mem := make(testMemory, 16*mm.PageSize)
	for i := range mem {
		mem[i] = 0xfe
	}

	space := NewAddrSpace(testRoot)
	space.AttachThread(testTID)

	reg := NewRegistry()
	if err := reg.Register(space); err != nil {
		t.Fatal(err)
	}

	mappings := []struct {
		addr   mm.VAddr
		base   BackingPage
		flags  MappingFlag
		length mm.Size
	}{
		{0, BackingPage{}, MapGuard, mm.PageSize},
		{0x10000, BackingPage{}, 0, 4 * mm.PageSize},
		{0x20000, BackingPage{}, MapReadOnly | MapNoExecute, mm.PageSize},
		{0x30000, BackingPage{}, MapCopyOnWrite, mm.PageSize},
		{0x40000, BackingPage{Device: DeviceMemory, Offset: 0x200000}, 0, 2 * mm.PageSize},
		{0x50000, BackingPage{Device: DeviceID(7)}, 0, mm.PageSize},
		{0x60000, BackingPage{Device: DeviceMemory, Offset: uint64(mm.HighMemoryBase)}, 0, mm.PageSize},
	}
	for _, m := range mappings {
		if _, err := space.MapFixed(m.addr, m.base, m.flags, m.length); err != nil {
			t.Fatal(err)
		}
	}

	tables := NewPageTables()
	resolver := &FaultResolver{
		Spaces: reg,
		Frames: &testFrames{next: 1, limit: 16},
		Mapper: tables,
		Memory: mem,
	}

	return resolver, space, tables, mem
}

func TestHandleFaultErrors(t *testing.T) {
	resolver, _, tables, _ := newTestResolver(t)

	specs := []struct {
		tid       ThreadID
		addr      mm.VAddr
		code      FaultCode
		expReason FaultReason
	}{
		{2, 0x10000, 0, FaultNoAddrSpace},
		{testTID, 0x8000, 0, FaultNoMapping},
		{testTID, 0x10, FaultWrite, FaultGuardPage},
		{testTID, 0x20000, FaultWrite, FaultProtection},
		{testTID, 0x20000, FaultFetch, FaultProtection},
		{testTID, 0x20000, FaultPresent | FaultWrite, FaultProtection},
		{testTID, 0x30000, FaultPresent | FaultWrite, FaultUnimplemented},
		{testTID, 0x50000, 0, FaultUnimplemented},
		{testTID, 0x60000, FaultUser, FaultUnimplemented},
	}

	for specIndex, spec := range specs {
		err := resolver.HandleFault(spec.tid, spec.addr, spec.code)
		if err == nil {
			t.Errorf("[spec %d] expected fault to remain unresolved", specIndex)
			continue
		}

		if err.Reason != spec.expReason {
			t.Errorf("[spec %d] expected reason %q; got %q", specIndex, spec.expReason, err.Reason)
		}

		if err.Addr != spec.addr {
			t.Errorf("[spec %d] expected fault address 0x%x; got 0x%x", specIndex, spec.addr, err.Addr)
		}
	}

	if got := tables.MappedPages(testRoot); got != 0 {
		t.Fatalf("expected unresolved faults to leave the page tables untouched; %d pages mapped", got)
	}
}

func TestHandleFaultDemandZero(t *testing.T) {
	resolver, _, tables, mem := newTestResolver(t)

	if err := resolver.HandleFault(testTID, 0x11234, FaultWrite|FaultUser); err != nil {
		t.Fatal(err)
	}

	frame, flags, err := tables.Translate(testRoot, mm.PageFromAddress(0x11234))
	if err != nil {
		t.Fatal(err)
	}

	if frame != 1 {
		t.Fatalf("expected the page to be backed by frame 1; got %d", frame)
	}

	if exp := FlagPresent | FlagUserAccessible | FlagRW; flags != exp {
		t.Fatalf("expected page flags 0x%x; got 0x%x", exp, flags)
	}

	for i, b := range mem[frame.Address() : frame.Address()+mm.PAddr(mm.PageSize)] {
		if b != 0 {
			t.Fatalf("expected the frame to be cleared; byte %d is 0x%x", i, b)
		}
	}

	// the neighboring frame is left alone
	if mem[2*mm.PageSize] != 0xfe {
		t.Fatal("expected only the allocated frame to be cleared")
	}

	// read faults on other pages of the mapping commit new frames
	if err := resolver.HandleFault(testTID, 0x13000, 0); err != nil {
		t.Fatal(err)
	}
	if got := tables.MappedPages(testRoot); got != 2 {
		t.Fatalf("expected 2 mapped pages; got %d", got)
	}
}

func TestHandleFaultPhysicalMapping(t *testing.T) {
	resolver, _, tables, _ := newTestResolver(t)

	if err := resolver.HandleFault(testTID, 0x41234, 0); err != nil {
		t.Fatal(err)
	}

	frame, _, err := tables.Translate(testRoot, mm.PageFromAddress(0x41000))
	if err != nil {
		t.Fatal(err)
	}

	if exp := mm.FrameFromAddress(0x201000); frame != exp {
		t.Fatalf("expected frame 0x%x; got 0x%x", exp, frame)
	}

	if frames := resolver.Frames.(*testFrames); frames.next != 1 {
		t.Fatal("expected no frame to be allocated for a physical mapping")
	}
}

func TestHandleFaultOutOfMemory(t *testing.T) {
	resolver, _, _, _ := newTestResolver(t)
	resolver.Frames = &testFrames{}

	err := resolver.HandleFault(testTID, 0x10000, 0)
	if err == nil || err.Reason != FaultOutOfMemory {
		t.Fatalf("expected FaultOutOfMemory; got %v", err)
	}
}

func TestHandleFaultReleasesFrameOnFailure(t *testing.T) {
	specs := []struct {
		setup     func(*FaultResolver)
		expReason FaultReason
	}{
		{
			func(fr *FaultResolver) { fr.Mapper = failingMapper{} },
			FaultMapFailed,
		},
		{
			// frame 20 lies outside the test memory so it cannot be cleared
			func(fr *FaultResolver) { fr.Frames = &testFrames{next: 20, limit: 21} },
			FaultMapFailed,
		},
	}

	for specIndex, spec := range specs {
		resolver, _, _, _ := newTestResolver(t)
		spec.setup(resolver)

		err := resolver.HandleFault(testTID, 0x10000, FaultWrite)
		if err == nil || err.Reason != spec.expReason {
			t.Errorf("[spec %d] expected reason %q; got %v", specIndex, spec.expReason, err)
			continue
		}

		frames := resolver.Frames.(*testFrames)
		if len(frames.released) != 1 || frames.released[0] != frames.next-1 {
			t.Errorf("[spec %d] expected the allocated frame to be released; released %v", specIndex, frames.released)
		}
	}
}

func TestHandleFaultLogsCopyOnWrite(t *testing.T) {
	var buf bytes.Buffer
	defer kfmt.SetOutputSink(kfmt.GetOutputSink())
	kfmt.SetOutputSink(&buf)

	resolver, _, _, _ := newTestResolver(t)
	if err := resolver.HandleFault(testTID, 0x30010, FaultPresent|FaultWrite); err == nil {
		t.Fatal("expected copy-on-write fault to remain unresolved")
	}

	// earlier output buffered before the sink was set is flushed first
	if exp := "[vmm] copy-on-write fault at 0x00030010 is not supported\n"; !strings.HasSuffix(buf.String(), exp) {
		t.Fatalf("expected log output %q; got %q", exp, buf.String())
	}
}

func TestHandleFaultLogsHighMemoryMapping(t *testing.T) {
	var buf bytes.Buffer
	defer kfmt.SetOutputSink(kfmt.GetOutputSink())
	kfmt.SetOutputSink(&buf)

	resolver, _, tables, _ := newTestResolver(t)
	err := resolver.HandleFault(testTID, 0x60000, FaultUser)
	if err == nil || err.Reason != FaultUnimplemented {
		t.Fatalf("expected FaultUnimplemented; got %v", err)
	}

	if _, _, err := tables.Translate(testRoot, mm.PageFromAddress(0x60000)); err == nil {
		t.Fatal("expected no translation to be installed for high memory")
	}

	if exp := "[vmm] 4K mapping of high memory 0x0000000100000000 is not supported (fault at 0x00060000)\n"; !strings.HasSuffix(buf.String(), exp) {
		t.Fatalf("expected log output %q; got %q", exp, buf.String())
	}
}

func TestFaultErrorString(t *testing.T) {
	err := &FaultError{Reason: FaultGuardPage, Addr: 0x1000, Detail: "access to guard page"}

	if exp := "page fault at 0x1000: guard page: access to guard page"; err.Error() != exp {
		t.Fatalf("expected %q; got %q", exp, err.Error())
	}

	if got := FaultReason(0).String(); !strings.Contains(got, "unknown") {
		t.Fatalf("expected unknown reason; got %q", got)
	}
}
