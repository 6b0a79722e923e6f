package psbt

import (
	"encoding/binary"
	"fmt"
	"io"
)

// readVarInt reads a Bitcoin compact-size unsigned integer from r.
func readVarInt(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:1]); err != nil {
		return 0, fmt.Errorf("%w: compact size prefix: %v", ErrTruncated, err)
	}
	switch b[0] {
	case 0xfd:
		if _, err := io.ReadFull(r, b[:2]); err != nil {
			return 0, fmt.Errorf("%w: compact size: %v", ErrTruncated, err)
		}
		return uint64(binary.LittleEndian.Uint16(b[:2])), nil
	case 0xfe:
		if _, err := io.ReadFull(r, b[:4]); err != nil {
			return 0, fmt.Errorf("%w: compact size: %v", ErrTruncated, err)
		}
		return uint64(binary.LittleEndian.Uint32(b[:4])), nil
	case 0xff:
		if _, err := io.ReadFull(r, b[:8]); err != nil {
			return 0, fmt.Errorf("%w: compact size: %v", ErrTruncated, err)
		}
		return binary.LittleEndian.Uint64(b[:8]), nil
	default:
		return uint64(b[0]), nil
	}
}

// serCompactSize returns the minimal compact-size encoding of n.
func serCompactSize(n uint64) []byte {
	switch {
	case n < 0xfd:
		return []byte{byte(n)}
	case n <= 0xffff:
		b := make([]byte, 3)
		b[0] = 0xfd
		binary.LittleEndian.PutUint16(b[1:], uint16(n))
		return b
	case n <= 0xffffffff:
		b := make([]byte, 5)
		b[0] = 0xfe
		binary.LittleEndian.PutUint32(b[1:], uint32(n))
		return b
	default:
		b := make([]byte, 9)
		b[0] = 0xff
		binary.LittleEndian.PutUint64(b[1:], n)
		return b
	}
}

// deserString reads a compact-size length prefix followed by that many
// bytes. maxLen bounds the allocation so a corrupt or hostile length
// prefix cannot make the decoder allocate unbounded memory.
func deserString(r io.Reader, maxLen uint64) ([]byte, error) {
	n, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	if n > maxLen {
		return nil, fmt.Errorf("%w: length %d exceeds maximum %d", ErrTruncated, n, maxLen)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return b, nil
}

// serString is ser_compact_size(len(b)) ‖ b.
func serString(b []byte) []byte {
	r := serCompactSize(uint64(len(b)))
	return append(r, b...)
}
