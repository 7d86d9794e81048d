package kfmt

import "io"

// PrefixWriter is an io.Writer that wraps another io.Writer and injects a
// prefix at the beginning of each line. The fault diagnostics and the
// allocator statistics dumps use it to tag every line with the module that
// produced it.
type PrefixWriter struct {
	// A writer where all writes get sent to. If nil, the output is sent to
	// the active output sink (or the early print buffer).
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	midLine bool
}

// Write writes len(p) bytes from p to the underlying data stream and returns
// back the number of bytes written. The injected prefixes are not included
// in the returned byte count.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written int

	for len(p) != 0 {
		if !w.midLine {
			if _, err := w.sink().Write(w.Prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		lineLen := len(p)
		for i, b := range p {
			if b == '\n' {
				lineLen = i + 1
				break
			}
		}

		n, err := w.sink().Write(p[:lineLen])
		written += n
		if err != nil {
			return written, err
		}

		if p[lineLen-1] == '\n' {
			w.midLine = false
		}
		p = p[lineLen:]
	}

	return written, nil
}

func (w *PrefixWriter) sink() io.Writer {
	if w.Sink != nil {
		return w.Sink
	}
	if outputSink != nil {
		return outputSink
	}
	return &earlyPrintBuffer
}
