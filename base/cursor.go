package base

import (
	"encoding/binary"
	"fmt"
)

// Cursor reads a byte slice sequentially. It is a value, copies read independently.
// Every underrun is an ErrFormat.
type Cursor struct {
	b   []byte
	pos int
}

func NewCursor(b []byte) Cursor {
	return Cursor{b: b}
}

func (c *Cursor) Pos() int {
	return c.pos
}

func (c *Cursor) Len() int {
	return len(c.b) - c.pos
}

// Rest returns the unread bytes without consuming them.
func (c *Cursor) Rest() []byte {
	return c.b[c.pos:]
}

func (c *Cursor) need(n int, what string) error {
	if n < 0 || c.Len() < n {
		return fmt.Errorf("%s: need %d bytes at offset %d, have %d: %w", what, n, c.pos, c.Len(), ErrFormat)
	}
	return nil
}

func (c *Cursor) Peek() (byte, error) {
	if err := c.need(1, "peek"); err != nil {
		return 0, err
	}
	return c.b[c.pos], nil
}

func (c *Cursor) Byte() (byte, error) {
	if err := c.need(1, "byte"); err != nil {
		return 0, err
	}
	c.pos++
	return c.b[c.pos-1], nil
}

func (c *Cursor) Uint16() (uint16, error) {
	if err := c.need(2, "uint16"); err != nil {
		return 0, err
	}
	c.pos += 2
	return binary.BigEndian.Uint16(c.b[c.pos-2:]), nil
}

func (c *Cursor) Uint32() (uint32, error) {
	if err := c.need(4, "uint32"); err != nil {
		return 0, err
	}
	c.pos += 4
	return binary.BigEndian.Uint32(c.b[c.pos-4:]), nil
}

// Bytes returns the next n bytes, the slice aliases the underlying buffer.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if err := c.need(n, "bytes"); err != nil {
		return nil, err
	}
	c.pos += n
	return c.b[c.pos-n : c.pos], nil
}

// Expect consumes the next bytes when they equal want.
func (c *Cursor) Expect(want ...byte) error {
	if err := c.need(len(want), "expect"); err != nil {
		return err
	}
	for i, w := range want {
		if c.b[c.pos+i] != w {
			return fmt.Errorf("expected %02x at offset %d, got %02x: %w", w, c.pos+i, c.b[c.pos+i], ErrFormat)
		}
	}
	c.pos += len(want)
	return nil
}

// Length reads a BER definite length and checks that many bytes follow.
func (c *Cursor) Length() (int, error) {
	b, err := c.Byte()
	if err != nil {
		return 0, err
	}
	var l uint
	switch {
	case b < 0x80:
		l = uint(b)
	case b == 0x80:
		return 0, fmt.Errorf("unsupported infinite length: %w", ErrFormat)
	case b > 0x84:
		return 0, fmt.Errorf("too much bytes for length: %w", ErrFormat)
	default:
		raw, err := c.Bytes(int(b & 0x7f))
		if err != nil {
			return 0, err
		}
		for _, r := range raw {
			l = (l << 8) | uint(r)
		}
	}
	if uint(c.Len()) < l {
		return 0, fmt.Errorf("length %d exceeds remaining %d bytes: %w", l, c.Len(), ErrFormat)
	}
	return int(l), nil
}

// Sub consumes a BER length prefixed block and returns a cursor over it.
func (c *Cursor) Sub() (Cursor, error) {
	l, err := c.Length()
	if err != nil {
		return Cursor{}, err
	}
	b, _ := c.Bytes(l)
	return NewCursor(b), nil
}
