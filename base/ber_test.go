package base

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeLength(t *testing.T) {
	tests := []struct {
		l    uint
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x81, 0x80}},
		{255, []byte{0x81, 0xff}},
		{256, []byte{0x82, 0x01, 0x00}},
		{0x12345, []byte{0x83, 0x01, 0x23, 0x45}},
		{0x01020304, []byte{0x84, 0x01, 0x02, 0x03, 0x04}},
	}
	for _, tt := range tests {
		var b bytes.Buffer
		EncodeLength(&b, tt.l)
		if !bytes.Equal(b.Bytes(), tt.want) {
			t.Errorf("EncodeLength(%d) = %x, want %x", tt.l, b.Bytes(), tt.want)
		}
		if LengthSize(tt.l) != len(tt.want) {
			t.Errorf("LengthSize(%d) = %d", tt.l, LengthSize(tt.l))
		}
		l, n, err := DecodeLength(bytes.NewReader(tt.want), make([]byte, 4))
		if err != nil || l != tt.l || n != len(tt.want) {
			t.Errorf("DecodeLength(%x) = %d, %d, %v", tt.want, l, n, err)
		}
	}
}

func TestCursorLength(t *testing.T) {
	c := NewCursor([]byte{0x81, 0x02, 0xaa, 0xbb, 0xcc})
	if _, err := c.Length(); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected format error for length beyond data, got %v", err)
	}
	c = NewCursor([]byte{0x03, 0xaa, 0xbb, 0xcc, 0xdd})
	sub, err := c.Sub()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(sub.Rest(), []byte{0xaa, 0xbb, 0xcc}) || c.Len() != 1 {
		t.Fatalf("unexpected split %x / %d", sub.Rest(), c.Len())
	}
	ind := NewCursor([]byte{0x80})
	if _, err := ind.Sub(); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected format error for indefinite length, got %v", err)
	}
}

func TestCursorReads(t *testing.T) {
	c := NewCursor([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07})
	cp := c
	b, _ := c.Byte()
	u16, _ := c.Uint16()
	u32, _ := c.Uint32()
	if b != 1 || u16 != 0x0203 || u32 != 0x04050607 {
		t.Fatalf("unexpected values %x %x %x", b, u16, u32)
	}
	if _, err := c.Byte(); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected underrun, got %v", err)
	}
	if cp.Pos() != 0 {
		t.Fatalf("copied cursor moved")
	}
	if err := cp.Expect(0x01, 0x03); !errors.Is(err, ErrFormat) || cp.Pos() != 0 {
		t.Fatalf("expect mismatch should fail without consuming, got %v at %d", err, cp.Pos())
	}
}
