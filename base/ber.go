package base

import (
	"bytes"
	"fmt"
	"io"
)

// LengthSize is the number of bytes EncodeLength writes for l.
func LengthSize(l uint) int {
	switch {
	case l < 128:
		return 1
	case l < 256:
		return 2
	case l < 65536:
		return 3
	case l < 16777216:
		return 4
	}
	return 5
}

// EncodeLength writes a BER definite length.
func EncodeLength(dst *bytes.Buffer, l uint) {
	var tmp [5]byte
	n := PutLength(tmp[:], l)
	dst.Write(tmp[:n])
}

// PutLength writes a BER definite length into dst which must have LengthSize(l) bytes.
func PutLength(dst []byte, l uint) int {
	n := LengthSize(l)
	if n == 1 {
		dst[0] = byte(l)
		return 1
	}
	dst[0] = 0x80 | byte(n-1)
	for i := n - 1; i > 0; i-- {
		dst[i] = byte(l)
		l >>= 8
	}
	return n
}

// AppendLength appends a BER definite length to b.
func AppendLength(b []byte, l uint) []byte {
	var tmp [5]byte
	n := PutLength(tmp[:], l)
	return append(b, tmp[:n]...)
}

// EncodeTag writes tag, length and data.
func EncodeTag(dst *bytes.Buffer, tag byte, data []byte) {
	dst.WriteByte(tag)
	EncodeLength(dst, uint(len(data)))
	dst.Write(data)
}

// EncodeTag2 writes tag wrapping a second innertag around data, as in BE 10 04 0E <initiate>.
func EncodeTag2(dst *bytes.Buffer, tag byte, innertag byte, data []byte) {
	dst.WriteByte(tag)
	EncodeLength(dst, uint(len(data)+1+LengthSize(uint(len(data)))))
	dst.WriteByte(innertag)
	EncodeLength(dst, uint(len(data)))
	dst.Write(data)
}

// DecodeLength reads a BER length from a stream, tmp has to have at least 4 bytes.
func DecodeLength(src io.Reader, tmp []byte) (uint, int, error) {
	_, err := io.ReadFull(src, tmp[:1])
	if err != nil {
		return 0, 0, err
	}
	b := tmp[0]
	if b < 128 {
		return uint(b), 1, nil
	}
	if b == 128 {
		return 0, 0, fmt.Errorf("unsupported infinite length: %w", ErrFormat)
	}
	c := int(b & 0x7f)
	if c > 4 {
		return 0, 0, fmt.Errorf("too much bytes for length: %w", ErrFormat)
	}
	_, err = io.ReadFull(src, tmp[:c])
	if err != nil {
		return 0, 0, err
	}
	r := uint(0)
	for i := 0; i < c; i++ {
		r = (r << 8) | uint(tmp[i])
	}
	return r, c + 1, nil
}
