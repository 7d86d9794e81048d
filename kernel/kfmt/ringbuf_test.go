package kfmt

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestRingBuffer(t *testing.T) {
	var (
		buf    bytes.Buffer
		expStr = "[0x0000000000 - 0x000009fc00], size: 654336, type: available"
		rb     ringBuffer
	)

	t.Run("read/write", func(t *testing.T) {
		rb = ringBuffer{}
		n, err := rb.Write([]byte(expStr))
		if err != nil {
			t.Fatal(err)
		}

		if n != len(expStr) {
			t.Fatalf("expected to write %d bytes; wrote %d", len(expStr), n)
		}

		if got := readByteByByte(&buf, &rb); got != expStr {
			t.Fatalf("expected to read %q; got %q", expStr, got)
		}
	})

	t.Run("wrap around", func(t *testing.T) {
		rb = ringBuffer{rIndex: ringBufferSize - 2}
		if _, err := rb.Write([]byte(expStr)); err != nil {
			t.Fatal(err)
		}

		if got := readByteByByte(&buf, &rb); got != expStr {
			t.Fatalf("expected to read %q; got %q", expStr, got)
		}
	})

	t.Run("overflow keeps newest bytes", func(t *testing.T) {
		rb = ringBuffer{}
		payload := strings.Repeat("a", ringBufferSize) + "tail"
		if _, err := rb.Write([]byte(payload)); err != nil {
			t.Fatal(err)
		}

		if exp, got := ringBufferSize, rb.Len(); got != exp {
			t.Fatalf("expected buffer to hold %d bytes; got %d", exp, got)
		}

		var out bytes.Buffer
		_, _ = io.Copy(&out, &rb)
		if exp := payload[len(payload)-ringBufferSize:]; out.String() != exp {
			t.Fatal("expected buffer to retain the newest bytes")
		}
	})

	t.Run("with io.Copy", func(t *testing.T) {
		rb = ringBuffer{rIndex: ringBufferSize - 2}
		if _, err := rb.Write([]byte(expStr)); err != nil {
			t.Fatal(err)
		}

		var out bytes.Buffer
		_, _ = io.Copy(&out, &rb)

		if got := out.String(); got != expStr {
			t.Fatalf("expected to read %q; got %q", expStr, got)
		}
	})
}

func readByteByByte(buf *bytes.Buffer, r io.Reader) string {
	buf.Reset()
	var b = make([]byte, 1)
	for {
		_, err := r.Read(b)
		if err == io.EOF {
			break
		}

		buf.Write(b)
	}
	return buf.String()
}
