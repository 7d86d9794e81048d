package vmm

import (
	"testing"

	"silverbox/kernel/mm"
)

func TestPageTableEntryFlags(t *testing.T) {
	var (
		pte   pageTableEntry
		flag1 = FlagRW
		flag2 = FlagNoExecute
	)

	if pte.HasFlags(flag1) {
		t.Fatalf("expected HasFlags to return false")
	}

	pte.SetFlags(flag1)

	if !pte.HasFlags(flag1) {
		t.Fatalf("expected HasFlags to return true")
	}

	if pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return false")
	}

	pte.SetFlags(flag2)

	if !pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return true")
	}

	if got := pte.Flags(); got != flag1|flag2 {
		t.Fatalf("expected Flags() to return 0x%x; got 0x%x", flag1|flag2, got)
	}
}

func TestPageTableEntryFrameEncoding(t *testing.T) {
	var (
		pte       pageTableEntry
		physFrame = mm.Frame(0x123456789)
		flags     = FlagPresent | FlagRW | FlagNoExecute
	)

	pte.SetFlags(flags)
	pte.SetFrame(physFrame)

	if got := pte.Frame(); got != physFrame {
		t.Fatalf("expected pte.Frame() to return 0x%x; got 0x%x", physFrame, got)
	}

	if got := pte.Flags(); got != flags {
		t.Fatalf("expected pte.Flags() to return 0x%x; got 0x%x", flags, got)
	}

	pte.SetFrame(mm.Frame(1))
	if got := pte.Frame(); got != 1 {
		t.Fatalf("expected SetFrame to replace the previous frame; got 0x%x", got)
	}
}

func TestMappingFlags(t *testing.T) {
	specs := []struct {
		flags     MappingFlag
		expPTE    PageTableEntryFlag
		expString string
	}{
		{0, FlagPresent | FlagUserAccessible | FlagRW, "rw"},
		{MapReadOnly, FlagPresent | FlagUserAccessible, "ro"},
		{MapNoExecute, FlagPresent | FlagUserAccessible | FlagRW | FlagNoExecute, "nx"},
		{MapCopyOnWrite, FlagPresent | FlagUserAccessible | FlagCopyOnWrite, "cow"},
		{MapGuard | MapReadOnly, FlagPresent | FlagUserAccessible, "ro|guard"},
		{MapExtendDown | MapPresent, FlagPresent | FlagUserAccessible | FlagRW, "down|present"},
	}

	for specIndex, spec := range specs {
		if got := spec.flags.PageFlags(); got != spec.expPTE {
			t.Errorf("[spec %d] expected page flags 0x%x; got 0x%x", specIndex, spec.expPTE, got)
		}

		if got := spec.flags.String(); got != spec.expString {
			t.Errorf("[spec %d] expected String() to return %q; got %q", specIndex, spec.expString, got)
		}
	}
}

func TestDeviceIDString(t *testing.T) {
	specs := []struct {
		dev DeviceID
		exp string
	}{
		{DeviceZero, "zero"},
		{DeviceMemory, "mem"},
		{DeviceID(7), "dev7"},
	}

	for specIndex, spec := range specs {
		if got := spec.dev.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}
