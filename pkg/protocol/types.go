package protocol

import (
	"encoding/binary"
	"io"
)

// WriteUint32 writes a 32-bit unsigned integer in big-endian
func WriteUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint32 reads a 32-bit unsigned integer in big-endian.
// A stream that ends before the first byte yields io.EOF; one that ends
// part way yields io.ErrUnexpectedEOF.
func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// appendS64 appends v little-endian using as few bytes as needed.
// Zero takes no bytes at all; negative values always take eight.
func appendS64(buf []byte, v int64) []byte {
	for u := uint64(v); u != 0; u >>= 8 {
		buf = append(buf, byte(u))
	}
	return buf
}

// parseS64 is the inverse of appendS64. The caller bounds len(data) to 8.
func parseS64(data []byte) int64 {
	var u uint64
	for i, b := range data {
		u |= uint64(b) << (8 * i)
	}
	return int64(u)
}
