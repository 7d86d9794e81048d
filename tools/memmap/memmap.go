package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"silverbox/kernel/hal/multiboot"
	"silverbox/kernel/kfmt"
	"silverbox/kernel/mm"
	"silverbox/kernel/mm/pmm"
)

// sampleMemoryMap is the memory map reported by qemu for a 128M guest.
var sampleMemoryMap = multiboot.MemoryMap{
	{PhysAddress: 0x0, Length: 0x9fc00, Type: multiboot.MemAvailable},
	{PhysAddress: 0x9fc00, Length: 0x400, Type: multiboot.MemReserved},
	{PhysAddress: 0xf0000, Length: 0x10000, Type: multiboot.MemReserved},
	{PhysAddress: 0x100000, Length: 0x7ee0000, Type: multiboot.MemAvailable},
	{PhysAddress: 0x7fe0000, Length: 0x20000, Type: multiboot.MemReserved},
	{PhysAddress: 0xfffc0000, Length: 0x40000, Type: multiboot.MemReserved},
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[memmap] error: %s\n", err.Error())
	os.Exit(1)
}

// report decodes a raw memory map, runs the allocator initialization against
// it and writes the resulting memory layout to w.
func report(w io.Writer, data []byte, imageStart, imageEnd mm.PAddr) error {
	memMap, err := multiboot.ParseMemoryMap(data)
	if err != nil {
		return errors.Wrap(err, "decoding memory map")
	}

	origSink := kfmt.GetOutputSink()
	kfmt.SetOutputSink(w)
	defer kfmt.SetOutputSink(origSink)

	bootAlloc := pmm.NewBootMemAllocator(memMap, imageStart, imageEnd)
	bootAlloc.PrintMemoryMap()

	metaSize, kErr := pmm.MetadataSize(memMap)
	if kErr != nil {
		return errors.Wrap(kErr, "sizing allocator")
	}

	for reserved := mm.Size(0); reserved < metaSize; reserved += mm.PageSize {
		if _, kErr = bootAlloc.AllocFrame(); kErr != nil {
			return errors.Wrap(kErr, "reserving allocator bitmaps")
		}
	}

	alloc, kErr := pmm.New(memMap, bootAlloc.Reserved())
	if kErr != nil {
		return errors.Wrap(kErr, "initializing allocator")
	}

	fmt.Fprintf(w, "allocator bitmaps: %d bytes in %d boot frames\n", metaSize, bootAlloc.AllocCount())
	alloc.PrintStats()

	fmt.Fprintln(w, "reserved regions:")
	for _, r := range alloc.ReservedRegions() {
		fmt.Fprintf(w, "\t%s\n", r)
	}

	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}

	data, err := os.ReadFile(path)
	return data, errors.Wrapf(err, "reading %s", path)
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}

	return errors.Wrapf(os.WriteFile(path, data, 0o644), "writing %s", path)
}

func runTool() error {
	mapFile := flag.String("map", "-", "a raw memory map dump to decode or - to read from STDIN")
	imageStart := flag.Uint64("image-start", 0x100000, "the physical address where the init image starts")
	imageEnd := flag.Uint64("image-end", 0, "the physical address where the init image ends")
	gen := flag.Bool("gen", false, "write a sample memory map dump instead of decoding one")
	output := flag.String("out", "-", "the file to write the sample dump to or - to output to STDOUT")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "memmap: inspect the physical memory layout produced by a boot memory map\n\n")
		fmt.Fprint(os.Stderr, "Usage: memmap [options]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *gen {
		return writeOutput(*output, multiboot.EncodeMemoryMap(sampleMemoryMap))
	}

	if *imageEnd != 0 && *imageEnd < *imageStart {
		return errors.Errorf("image end 0x%x precedes image start 0x%x", *imageEnd, *imageStart)
	}

	data, err := readInput(*mapFile)
	if err != nil {
		return err
	}

	return report(os.Stdout, data, mm.PAddr(*imageStart), mm.PAddr(*imageEnd))
}

func main() {
	if err := runTool(); err != nil {
		exit(err)
	}
}
