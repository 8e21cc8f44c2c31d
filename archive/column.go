package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/geofuse/internal/conv"
	"github.com/hupe1980/geofuse/internal/hash"
)

// Kind is the element type of a column.
type Kind uint8

const (
	// KindFloat64 columns hold IEEE 754 doubles.
	KindFloat64 Kind = 1
	// KindInt32 columns hold signed 32-bit integers.
	KindInt32 Kind = 2
)

func (k Kind) size() int {
	switch k {
	case KindFloat64:
		return 8
	case KindInt32:
		return 4
	default:
		return 0
	}
}

var (
	// ErrCorrupt is returned for a column that cannot be decoded.
	ErrCorrupt = errors.New("corrupt column")

	// ErrChecksum is returned when a column payload does not match its
	// checksum.
	ErrChecksum = errors.New("column checksum mismatch")

	// ErrUnknownCompression is returned for an unsupported compression id.
	ErrUnknownCompression = errors.New("unknown compression")
)

// Column layout, little-endian:
//
//	magic   [4]byte "GFCL"
//	version uint8
//	kind    uint8
//	comp    uint8
//	_       uint8
//	count   uint64  elements
//	rawLen  uint64  uncompressed payload bytes
//	size    uint64  stored payload bytes
//	crc     uint32  CRC32C of the stored payload
//	payload [size]byte
const (
	columnVersion    = 1
	columnHeaderSize = 4 + 4 + 8 + 8 + 8 + 4
)

var columnMagic = [4]byte{'G', 'F', 'C', 'L'}

// columnHeader is the decoded header of a column.
type columnHeader struct {
	Kind        Kind
	Compression Compression
	Count       uint64
	RawLen      uint64
	Size        uint64
	CRC         uint32
}

// EncodeFloat64 encodes a float64 column.
func EncodeFloat64(vals []float64, c Compression) ([]byte, error) {
	raw := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(v))
	}
	return encodeColumn(KindFloat64, len(vals), raw, c)
}

// EncodeInt32 encodes an int32 column.
func EncodeInt32(vals []int32, c Compression) ([]byte, error) {
	raw := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(raw[4*i:], uint32(v))
	}
	return encodeColumn(KindInt32, len(vals), raw, c)
}

// DecodeFloat64 decodes a float64 column.
func DecodeFloat64(data []byte) ([]float64, error) {
	raw, n, err := decodeColumn(data, KindFloat64)
	if err != nil {
		return nil, err
	}
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return vals, nil
}

// DecodeInt32 decodes an int32 column.
func DecodeInt32(data []byte) ([]int32, error) {
	raw, n, err := decodeColumn(data, KindInt32)
	if err != nil {
		return nil, err
	}
	vals := make([]int32, n)
	for i := range vals {
		vals[i] = int32(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vals, nil
}

func encodeColumn(kind Kind, count int, raw []byte, c Compression) ([]byte, error) {
	payload, used, err := compress(raw, c)
	if err != nil {
		return nil, err
	}

	out := make([]byte, columnHeaderSize+len(payload))
	copy(out[0:4], columnMagic[:])
	out[4] = columnVersion
	out[5] = byte(kind)
	out[6] = byte(used)
	binary.LittleEndian.PutUint64(out[8:], uint64(count))
	binary.LittleEndian.PutUint64(out[16:], uint64(len(raw)))
	binary.LittleEndian.PutUint64(out[24:], uint64(len(payload)))
	binary.LittleEndian.PutUint32(out[32:], hash.CRC32C(payload))
	copy(out[columnHeaderSize:], payload)
	return out, nil
}

func parseHeader(data []byte) (columnHeader, error) {
	if len(data) < columnHeaderSize {
		return columnHeader{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(data))
	}
	if [4]byte(data[0:4]) != columnMagic {
		return columnHeader{}, fmt.Errorf("%w: bad magic %q", ErrCorrupt, data[0:4])
	}
	if data[4] != columnVersion {
		return columnHeader{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, data[4])
	}
	return columnHeader{
		Kind:        Kind(data[5]),
		Compression: Compression(data[6]),
		Count:       binary.LittleEndian.Uint64(data[8:]),
		RawLen:      binary.LittleEndian.Uint64(data[16:]),
		Size:        binary.LittleEndian.Uint64(data[24:]),
		CRC:         binary.LittleEndian.Uint32(data[32:]),
	}, nil
}

func decodeColumn(data []byte, want Kind) ([]byte, int, error) {
	h, err := parseHeader(data)
	if err != nil {
		return nil, 0, err
	}
	if h.Kind != want {
		return nil, 0, fmt.Errorf("%w: column kind %d, want %d", ErrCorrupt, h.Kind, want)
	}
	if h.Size != uint64(len(data)-columnHeaderSize) {
		return nil, 0, fmt.Errorf("%w: payload %d bytes, header says %d", ErrCorrupt, len(data)-columnHeaderSize, h.Size)
	}
	if h.Count > math.MaxInt32 || h.RawLen != h.Count*uint64(want.size()) {
		return nil, 0, fmt.Errorf("%w: %d elements do not fit %d raw bytes", ErrCorrupt, h.Count, h.RawLen)
	}

	payload := data[columnHeaderSize:]
	if err := hash.Verify(payload, h.CRC); err != nil {
		return nil, 0, fmt.Errorf("%w: payload %w", ErrChecksum, err)
	}

	rawLen, err := conv.Uint64ToInt(h.RawLen)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	raw, err := decompress(payload, h.Compression, rawLen)
	if err != nil {
		return nil, 0, err
	}
	return raw, int(h.Count), nil
}
