package hash

import (
	"fmt"
	"hash"
	"hash/crc32"
	"io"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// MismatchError reports a checksum that does not match the recorded one.
type MismatchError struct {
	Want, Got uint32
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("crc32c mismatch: got %08x, want %08x", e.Got, e.Want)
}

// Verify returns a *MismatchError when data does not hash to want.
func Verify(data []byte, want uint32) error {
	if got := CRC32C(data); got != want {
		return &MismatchError{Want: want, Got: got}
	}
	return nil
}

// Writer passes writes through to an io.Writer and keeps a running CRC32C
// and byte count of everything written successfully.
type Writer struct {
	w io.Writer
	h hash.Hash32
	n int64
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, h: crc32.New(crc32cTable)}
}

func (cw *Writer) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	_, _ = cw.h.Write(p[:n])
	cw.n += int64(n)
	return n, err
}

// Sum32 returns the checksum of the bytes written so far.
func (cw *Writer) Sum32() uint32 { return cw.h.Sum32() }

// Size returns the number of bytes written so far.
func (cw *Writer) Size() int64 { return cw.n }
