// Package kfmt implements the logging primitives used by the init server.
//
// The memory management code logs while the heap is being bootstrapped (and
// from page-fault handlers that may interrupt another Printf call) so the
// formatter neither allocates nor keeps shared scratch buffers.
package kfmt

import (
	"io"
	"unsafe"
)

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	// earlyPrintBuffer stores Printf output produced before an output sink
	// has been registered.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the early print buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the currently active output sink or nil if output is
// still being buffered.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf provides a minimal Printf implementation that does not allocate
// memory and can therefore be used before the heap is available.
//
// Supported verbs:
//
//	%s the uninterpreted bytes of a string or byte slice
//	%o base 8 integer
//	%d base 10 integer
//	%x base 16 integer, lower-case a-f
//	%t "true" or "false"
//
// An optional decimal width may precede the verb. Strings and base-10
// integers are left-padded with spaces; base-8 and base-16 integers are
// left-padded with zeroes.
//
// Only built-in integer, string, []byte and bool arguments are recognised;
// named types must be converted by the caller (e.g. uint64(addr)).
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var p printer
	p.w = w
	p.printf(format, args)
}

// printer holds the per-call formatting state. It lives on the caller's
// stack so concurrent or nested Printf calls never share buffers.
type printer struct {
	w   io.Writer
	num [maxBufSize]byte
	one [1]byte
}

func (p *printer) printf(format string, args []interface{}) {
	var (
		nextArg    int
		blockStart int
		cur        int
		fmtLen     = len(format)
	)

	for cur < fmtLen {
		if format[cur] != '%' {
			cur++
			continue
		}

		p.writeString(format[blockStart:cur])

		padLen := 0
		cur++
	parseFmt:
		for ; cur < fmtLen; cur++ {
			ch := format[cur]
			switch {
			case ch == '%':
				p.writeByte('%')
				break parseFmt
			case ch >= '0' && ch <= '9':
				padLen = (padLen * 10) + int(ch-'0')
				continue
			case ch == 'd' || ch == 'x' || ch == 'o' || ch == 's' || ch == 't':
				if nextArg >= len(args) {
					p.write(errMissingArg)
					break parseFmt
				}

				switch ch {
				case 'o':
					p.fmtInt(args[nextArg], 8, padLen)
				case 'd':
					p.fmtInt(args[nextArg], 10, padLen)
				case 'x':
					p.fmtInt(args[nextArg], 16, padLen)
				case 's':
					p.fmtString(args[nextArg], padLen)
				case 't':
					p.fmtBool(args[nextArg])
				}

				nextArg++
				break parseFmt
			}

			// reached end of formatting string without finding a verb
			p.write(errNoVerb)
		}
		cur++
		blockStart = cur
	}

	if blockStart < fmtLen {
		p.writeString(format[blockStart:])
	}

	for ; nextArg < len(args); nextArg++ {
		p.write(errExtraArg)
	}
}

func (p *printer) fmtBool(v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		p.write(errWrongArgType)
	case b:
		p.write(trueValue)
	default:
		p.write(falseValue)
	}
}

func (p *printer) fmtString(v interface{}, padLen int) {
	switch s := v.(type) {
	case string:
		p.repeat(' ', padLen-len(s))
		p.writeString(s)
	case []byte:
		p.repeat(' ', padLen-len(s))
		p.write(s)
	default:
		p.write(errWrongArgType)
	}
}

func (p *printer) repeat(ch byte, count int) {
	for ; count > 0; count-- {
		p.writeByte(ch)
	}
}

// fmtInt prints out v in the requested base applying the padding specified
// by padLen.
func (p *printer) fmtInt(v interface{}, base uint64, padLen int) {
	var (
		uval     uint64
		negative bool
		padCh    = byte('0')
	)

	if padLen >= maxBufSize {
		padLen = maxBufSize - 1
	}

	if base == 10 {
		padCh = ' '
	}

	switch n := v.(type) {
	case uint8:
		uval = uint64(n)
	case uint16:
		uval = uint64(n)
	case uint32:
		uval = uint64(n)
	case uint64:
		uval = n
	case uint:
		uval = uint64(n)
	case uintptr:
		uval = uint64(n)
	case int8:
		uval, negative = abs(int64(n))
	case int16:
		uval, negative = abs(int64(n))
	case int32:
		uval, negative = abs(int64(n))
	case int64:
		uval, negative = abs(n)
	case int:
		uval, negative = abs(int64(n))
	default:
		p.write(errWrongArgType)
		return
	}

	// Digits are generated right-to-left into the end of the buffer.
	pos := maxBufSize
	for {
		pos--
		digit := uval % base
		if digit < 10 {
			p.num[pos] = byte(digit) + '0'
		} else {
			p.num[pos] = byte(digit-10) + 'a'
		}

		uval /= base
		if uval == 0 {
			break
		}
	}

	if negative && padCh == ' ' {
		pos--
		p.num[pos] = '-'
	}

	for maxBufSize-pos < padLen {
		pos--
		p.num[pos] = padCh
	}

	// Zero-padded negative numbers get the sign in front of the padding.
	if negative && padCh != ' ' {
		pos--
		p.num[pos] = '-'
	}

	p.write(p.num[pos:])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

// writeString emits s one byte at a time; converting s to a byte slice would
// trigger a memory allocation.
func (p *printer) writeString(s string) {
	for i := 0; i < len(s); i++ {
		p.writeByte(s[i])
	}
}

func (p *printer) writeByte(b byte) {
	p.one[0] = b
	p.write(p.one[:])
}

// write is a proxy that uses the runtime.noescape hack to hide b from the
// compiler's escape analysis. Without it the compiler cannot prove that b
// does not escape through the (unknown) io.Writer and would move the
// printer to the heap.
func (p *printer) write(b []byte) {
	doRealWrite(p.w, noEscape(unsafe.Pointer(&b)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	b := *(*[]byte)(bufPtr)
	if w != nil {
		_, _ = w.Write(b)
	} else {
		_, _ = earlyPrintBuffer.Write(b)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
