// Package tinycompress writes zlib streams made of stored (uncompressed)
// DEFLATE blocks. The output is valid zlib that any inflater accepts, while
// the encoder needs no tables and no heap beyond the input it buffers, which
// keeps it usable on a microcontroller.
package tinycompress

import (
	"errors"
	"hash/adler32"
	"io"
)

const (
	// maxStoredBlock is the largest payload of one stored DEFLATE block
	maxStoredBlock = 0xFFFF

	headerCMF = 0x78 // deflate, 32K window
	headerFLG = 0x01 // no dict, fastest; (CMF<<8|FLG) % 31 == 0
)

var ErrClosed = errors.New("tinycompress: write after close")

// Writer buffers everything written and emits the zlib stream on Close
type Writer struct {
	output io.Writer
	buf    []byte
	closed bool
}

// NewWriter returns a Writer emitting to w. sizeHint preallocates the input
// buffer so Write does not grow it on targets where allocation is costly.
func NewWriter(w io.Writer, sizeHint int) *Writer {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Writer{output: w, buf: make([]byte, 0, sizeHint)}
}

// Write implements io.Writer
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Close writes the header, the stored blocks and the Adler-32 trailer
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := w.output.Write(AppendStored(nil, w.buf))
	return err
}

// AppendStored appends the zlib encoding of data to dst
func AppendStored(dst, data []byte) []byte {
	dst = append(dst, headerCMF, headerFLG)

	rest := data
	for {
		n := len(rest)
		if n > maxStoredBlock {
			n = maxStoredBlock
		}
		final := byte(0)
		if n == len(rest) {
			final = 1
		}
		length := uint16(n)
		dst = append(dst, final,
			byte(length), byte(length>>8),
			byte(^length), byte(^length>>8))
		dst = append(dst, rest[:n]...)
		rest = rest[n:]
		if final == 1 {
			break
		}
	}

	sum := adler32.Checksum(data)
	return append(dst, byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum))
}

// StoredSize returns the length AppendStored produces for n input bytes
func StoredSize(n int) int {
	blocks := n / maxStoredBlock
	if n%maxStoredBlock != 0 || n == 0 {
		blocks++
	}
	return 2 + blocks*5 + n + 4
}
