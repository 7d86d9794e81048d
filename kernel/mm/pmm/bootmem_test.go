package pmm

import (
	"bytes"
	"strings"
	"testing"

	"silverbox/kernel/hal/multiboot"
	"silverbox/kernel/kfmt"
	"silverbox/kernel/mm"
	"silverbox/kernel/mm/region"
)

// qemuMemoryMap is the memory map reported by qemu for a 128M guest.
var qemuMemoryMap = multiboot.MemoryMap{
	{PhysAddress: 0x0, Length: 0x9fc00, Type: multiboot.MemAvailable},
	{PhysAddress: 0x9fc00, Length: 0x400, Type: multiboot.MemReserved},
	{PhysAddress: 0xf0000, Length: 0x10000, Type: multiboot.MemReserved},
	{PhysAddress: 0x100000, Length: 0x7ee0000, Type: multiboot.MemAvailable},
	{PhysAddress: 0x7fe0000, Length: 0x20000, Type: multiboot.MemReserved},
	{PhysAddress: 0xfffc0000, Length: 0x40000, Type: multiboot.MemReserved},
}

func TestBootMemoryAllocator(t *testing.T) {
	specs := []struct {
		imageStart, imageEnd mm.PAddr
		expFrames            uint64
		expConsumed          []physRegion
	}{
		// region 1 extents get rounded to [0, 9f000] and provides 159 frames [0 to 158]
		// region 2 uses the original extents [100000 - 7fe0000] and provides 32480 frames [256-32735]
		{
			0, 0,
			159 + 32480,
			[]physRegion{
				region.New[mm.PAddr](0, 0x9f000),
				region.New[mm.PAddr](0x100000, 0x7fe0000),
			},
		},
		// an image at [1M, 2M + 1] hides 257 frames
		{
			0x100000, 0x200001,
			159 + 32480 - 257,
			[]physRegion{
				region.New[mm.PAddr](0, 0x9f000),
				region.New[mm.PAddr](0x201000, 0x7fe0000),
			},
		},
		// an image at the start of memory
		{
			0x0, 0x2000,
			159 + 32480 - 2,
			[]physRegion{
				region.New[mm.PAddr](0x2000, 0x9f000),
				region.New[mm.PAddr](0x100000, 0x7fe0000),
			},
		},
	}

	for specIndex, spec := range specs {
		var (
			alloc           = NewBootMemAllocator(qemuMemoryMap, spec.imageStart, spec.imageEnd)
			allocFrameCount uint64
			lastFrame       mm.Frame
		)

		for {
			frame, err := alloc.AllocFrame()
			if err != nil {
				if err == errBootAllocOutOfMemory {
					break
				}
				t.Fatalf("[spec %d] [frame %d] unexpected allocator error: %v", specIndex, allocFrameCount, err)
			}

			if !frame.Valid() {
				t.Errorf("[spec %d] [frame %d] expected Valid() to return true", specIndex, allocFrameCount)
			}
			if allocFrameCount != 0 && frame <= lastFrame {
				t.Fatalf("[spec %d] [frame %d] expected frames to be returned in ascending order", specIndex, allocFrameCount)
			}

			addr := frame.Address()
			if spec.imageEnd > spec.imageStart && addr+mm.PAddr(mm.PageSize) > spec.imageStart && addr < spec.imageEnd {
				t.Fatalf("[spec %d] [frame %d] frame overlaps the init image", specIndex, allocFrameCount)
			}

			lastFrame = frame
			allocFrameCount++
		}

		if allocFrameCount != spec.expFrames || alloc.AllocCount() != spec.expFrames {
			t.Errorf("[spec %d] expected allocator to allocate %d frames; allocated %d", specIndex, spec.expFrames, allocFrameCount)
		}

		if got := alloc.Consumed(); !got.Equal(region.NewSet(spec.expConsumed...)) {
			t.Errorf("[spec %d] expected consumed regions %v; got %s", specIndex, spec.expConsumed, got)
		}
	}
}

func TestBootMemoryAllocatorExclude(t *testing.T) {
	alloc := NewBootMemAllocator(qemuMemoryMap, 0x100000, 0x180000)
	alloc.Exclude(0x1000, 0x2800)
	alloc.Exclude(0x180000, 0x180001)
	alloc.Exclude(0x5000, 0x5000)

	excluded := []physRegion{
		region.New[mm.PAddr](0x1000, 0x3000),
		region.New[mm.PAddr](0x100000, 0x181000),
	}

	var count uint64
	for {
		frame, err := alloc.AllocFrame()
		if err != nil {
			break
		}
		count++

		for _, r := range excluded {
			if r.Contains(frame.Address()) {
				t.Fatalf("frame 0x%x overlaps excluded range %s", frame.Address(), r)
			}
		}
	}

	// 2 frames for the first range, 128 for the image and 1 for the last range
	if exp := uint64(159 + 32480 - 2 - 128 - 1); count != exp {
		t.Errorf("expected %d frames; got %d", exp, count)
	}

	reserved := alloc.Reserved()
	for _, r := range excluded {
		if !reserved.Contains(r.Start()) || !reserved.Contains(r.Last()) {
			t.Errorf("expected excluded range %s to be reserved; got %s", r, reserved)
		}
	}

	if alloc.Consumed().Contains(0x1000) {
		t.Error("expected excluded frames to stay out of the consumed set")
	}
}

func TestBootMemoryAllocatorSkipsHighMemory(t *testing.T) {
	alloc := NewBootMemAllocator(multiboot.MemoryMap{
		{PhysAddress: 0xfffff000, Length: 0x2000, Type: multiboot.MemAvailable},
	}, 0, 0)

	frame, err := alloc.AllocFrame()
	if err != nil || frame.Address() != 0xfffff000 {
		t.Fatalf("expected frame at 0xfffff000; got %d, %v", frame, err)
	}

	if _, err = alloc.AllocFrame(); err != errBootAllocOutOfMemory {
		t.Fatalf("expected errBootAllocOutOfMemory; got %v", err)
	}
}

func TestBootMemoryAllocatorHandOver(t *testing.T) {
	boot := NewBootMemAllocator(qemuMemoryMap, 0x100000, 0x180000)
	for i := 0; i < 4; i++ {
		if _, err := boot.AllocFrame(); err != nil {
			t.Fatal(err)
		}
	}

	alloc, err := New(qemuMemoryMap, boot.Reserved())
	if err != nil {
		t.Fatal(err)
	}

	for addr := mm.PAddr(0); addr < 0x4000; addr += mm.PAddr(mm.PageSize) {
		if !alloc.IsReserved(addr) || alloc.IsBlockFree(addr, Block4K) {
			t.Errorf("expected boot allocator frame 0x%x to be reserved", addr)
		}
	}

	for _, addr := range []mm.PAddr{0x100000, 0x17f000} {
		if !alloc.IsReserved(addr) || alloc.IsBlockFree(addr, Block4K) {
			t.Errorf("expected init image frame 0x%x to be reserved", addr)
		}
	}

	if got := boot.Consumed().Len(); got != 1 {
		t.Errorf("expected Reserved to leave the consumed set untouched; got %d regions", got)
	}

	if addr, _ := alloc.Alloc(Block4K); addr != 0x4000 {
		t.Errorf("expected first allocation to return 0x4000; got 0x%x", addr)
	}
}

func TestPrintMemoryMap(t *testing.T) {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	NewBootMemAllocator(qemuMemoryMap, 0, 0).PrintMemoryMap()

	exp := []string{
		"[boot_mem_alloc] system memory map:",
		"\t[0x0000000000 - 0x000009fc00], size:     654336, type: available",
		"\t[0x00fffc0000 - 0x0100000000], size:     262144, type: reserved",
		"[boot_mem_alloc] available memory: 130559Kb",
	}

	got := buf.String()
	for _, line := range exp {
		if !strings.Contains(got, line+"\n") {
			t.Errorf("expected output to contain %q; got:\n%s", line, got)
		}
	}
}
