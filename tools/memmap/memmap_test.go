package main

import (
	"bytes"
	"strings"
	"testing"

	"silverbox/kernel/hal/multiboot"
)

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	if err := report(&buf, multiboot.EncodeMemoryMap(sampleMemoryMap), 0x100000, 0x180000); err != nil {
		t.Fatal(err)
	}

	for _, exp := range []string{
		"[boot_mem_alloc] available memory: 130559Kb",
		"allocator bitmaps: 4368 bytes in 2 boot frames",
		"[pmm] 128M blocks:",
		"\t[0x0, 0x2000)\n",
		"\t[0x9fc00, 0x180000)\n",
	} {
		if !strings.Contains(buf.String(), exp) {
			t.Errorf("expected report to contain %q; got:\n%s", exp, buf.String())
		}
	}
}

func TestReportErrors(t *testing.T) {
	specs := [][]byte{
		// truncated record
		{24, 0, 0, 0, 1, 2},
		// nothing usable
		multiboot.EncodeMemoryMap(multiboot.MemoryMap{
			{PhysAddress: 0, Length: 0x100000, Type: multiboot.MemBad},
		}),
	}

	for specIndex, spec := range specs {
		var buf bytes.Buffer
		if err := report(&buf, spec, 0, 0); err == nil {
			t.Errorf("[spec %d] expected report to fail", specIndex)
		}
	}
}
