package main

import (
	"os"

	"silverbox/kernel/kfmt"
	"silverbox/kernel/kmain"
)

// bootConfig is filled in by the boot stub before main runs. It is a global
// variable so the compiler cannot constant-fold the arguments to Kmain.
var bootConfig kmain.Config

// main hands control to the init server entry point.
//
// main is not expected to return. Kmain reports any failure through
// kfmt.Panic which terminates the process.
func main() {
	kfmt.SetOutputSink(os.Stdout)
	kmain.Kmain(bootConfig, serve)
}

// serve runs once the memory managers are up. It reports the state of the
// physical allocator and returns, which Kmain treats as fatal.
func serve(ctx *kmain.Context) {
	ctx.Frames.PrintStats()
	if err := ctx.Close(); err != nil {
		kfmt.Printf("[main] %s\n", err.String())
	}
}
