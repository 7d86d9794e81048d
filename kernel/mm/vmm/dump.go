package vmm

import (
	"io"

	"silverbox/kernel/kfmt"
)

// DumpFault writes a diagnostic for an unresolved page fault to w.
func DumpFault(w io.Writer, tid ThreadID, err *FaultError, code FaultCode) {
	kfmt.Fprintf(w, "\nPage fault while accessing address: 0x%8x\nReason: ", uint32(err.Addr))
	switch {
	case code == 0:
		kfmt.Fprintf(w, "read from non-present page")
	case code == FaultPresent:
		kfmt.Fprintf(w, "page protection violation (read)")
	case code == FaultWrite:
		kfmt.Fprintf(w, "write to non-present page")
	case code == FaultPresent|FaultWrite:
		kfmt.Fprintf(w, "page protection violation (write)")
	case code&FaultReservedBit != 0:
		kfmt.Fprintf(w, "page table has reserved bit set")
	case code&FaultFetch != 0:
		kfmt.Fprintf(w, "instruction fetch")
	case code&FaultUser != 0:
		kfmt.Fprintf(w, "page-fault in user-mode")
	default:
		kfmt.Fprintf(w, "unknown")
	}

	kfmt.Fprintf(w, "\nThread: %d\nError code: 0x%2x\nResolution: %s (%s)\n", uint64(tid), uint32(code), err.Reason.String(), err.Detail)
}
