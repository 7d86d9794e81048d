package kfmt

import "io"

// ringBufferSize defines the size of the ring buffer that holds Printf output
// until an output sink is attached. It is large enough to keep the boot
// memory map dump and the allocator initialisation summary. The size must
// always be a power of 2.
const ringBufferSize = 4096

// ringBuffer is a fixed-size FIFO that silently overwrites its oldest
// contents when full.
type ringBuffer struct {
	buffer [ringBufferSize]byte

	// rIndex points to the next byte to be read and count holds the
	// number of unread bytes.
	rIndex, count int
}

// Write appends p to the buffer, discarding the oldest unread bytes if
// there is not enough room. It always reports len(p) bytes written.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		wIndex := (rb.rIndex + rb.count) & (ringBufferSize - 1)
		rb.buffer[wIndex] = b

		if rb.count == ringBufferSize {
			rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
		} else {
			rb.count++
		}
	}

	return len(p), nil
}

// Read reads up to len(p) unread bytes into p. It returns io.EOF once the
// buffer has been drained.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.count == 0 {
		return 0, io.EOF
	}

	// Copy at most up to the physical end of the buffer; the caller will
	// pick up the wrapped-around part with the next Read.
	n := ringBufferSize - rb.rIndex
	if n > rb.count {
		n = rb.count
	}
	if n > len(p) {
		n = len(p)
	}

	copy(p, rb.buffer[rb.rIndex:rb.rIndex+n])
	rb.rIndex = (rb.rIndex + n) & (ringBufferSize - 1)
	rb.count -= n

	return n, nil
}

// Len returns the number of unread bytes.
func (rb *ringBuffer) Len() int {
	return rb.count
}
