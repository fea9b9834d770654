package dlmsal

import (
	"fmt"

	"github.com/cybroslabs/dlmscore-go/base"
)

// DataTag is the type tag of an encoded COSEM data element.
type DataTag byte

const (
	DataNull               DataTag = 0
	DataArray              DataTag = 1
	DataStructure          DataTag = 2
	DataBoolean            DataTag = 3
	DataBitString          DataTag = 4
	DataDoubleLong         DataTag = 5
	DataDoubleLongUnsigned DataTag = 6
	DataFloatingPoint      DataTag = 7
	DataOctetString        DataTag = 9
	DataVisibleString      DataTag = 10
	DataUTF8String         DataTag = 12
	DataBCD                DataTag = 13
	DataInteger            DataTag = 15
	DataLong               DataTag = 16
	DataUnsigned           DataTag = 17
	DataLongUnsigned       DataTag = 18
	DataCompactArray       DataTag = 19
	DataLong64             DataTag = 20
	DataLong64Unsigned     DataTag = 21
	DataEnum               DataTag = 22
	DataFloat32            DataTag = 23
	DataFloat64            DataTag = 24
	DataDateTime           DataTag = 25
	DataDate               DataTag = 26
	DataTime               DataTag = 27
	DataDontCare           DataTag = 255
)

// fixed content sizes, -1 for variable ones
var datasizes = map[DataTag]int{
	DataNull:               0,
	DataBoolean:            1,
	DataDoubleLong:         4,
	DataDoubleLongUnsigned: 4,
	DataFloatingPoint:      4,
	DataBCD:                1,
	DataInteger:            1,
	DataLong:               2,
	DataUnsigned:           1,
	DataLongUnsigned:       2,
	DataLong64:             8,
	DataLong64Unsigned:     8,
	DataEnum:               1,
	DataFloat32:            4,
	DataFloat64:            8,
	DataDateTime:           12,
	DataDate:               5,
	DataTime:               4,
	DataDontCare:           0,
}

// SkipData consumes one tagged data element and returns its raw encoding including the tag.
func SkipData(cur *base.Cursor) ([]byte, error) {
	start := *cur
	t, err := cur.Byte()
	if err != nil {
		return nil, err
	}
	if err = skipcontent(cur, DataTag(t), 0); err != nil {
		return nil, err
	}
	return start.Bytes(cur.Pos() - start.Pos())
}

const maxdatadepth = 64

func skipcontent(cur *base.Cursor, tag DataTag, depth int) error {
	if depth > maxdatadepth {
		return fmt.Errorf("data nested too deep: %w", base.ErrFormat)
	}
	if s, ok := datasizes[tag]; ok {
		_, err := cur.Bytes(s)
		return err
	}
	switch tag {
	case DataArray, DataStructure:
		n, err := cur.Length()
		if err != nil {
			return err
		}
		for j := 0; j < n; j++ {
			t, err := cur.Byte()
			if err != nil {
				return err
			}
			if err = skipcontent(cur, DataTag(t), depth+1); err != nil {
				return err
			}
		}
		return nil
	case DataBitString:
		bits, err := lengthonly(cur)
		if err != nil {
			return err
		}
		_, err = cur.Bytes((bits + 7) / 8)
		return err
	case DataOctetString, DataVisibleString, DataUTF8String:
		l, err := lengthonly(cur)
		if err != nil {
			return err
		}
		_, err = cur.Bytes(l)
		return err
	case DataCompactArray:
		if err := skiptypedesc(cur, depth+1); err != nil {
			return err
		}
		l, err := lengthonly(cur)
		if err != nil {
			return err
		}
		_, err = cur.Bytes(l)
		return err
	}
	return fmt.Errorf("unknown data tag %d: %w", tag, base.ErrFormat)
}

// compact array type description, array is count u16 and element type, structure is count and types
func skiptypedesc(cur *base.Cursor, depth int) error {
	if depth > maxdatadepth {
		return fmt.Errorf("type description nested too deep: %w", base.ErrFormat)
	}
	t, err := cur.Byte()
	if err != nil {
		return err
	}
	switch DataTag(t) {
	case DataArray:
		if _, err = cur.Uint16(); err != nil {
			return err
		}
		return skiptypedesc(cur, depth+1)
	case DataStructure:
		n, err := lengthonly(cur)
		if err != nil {
			return err
		}
		for j := 0; j < n; j++ {
			if err = skiptypedesc(cur, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// lengthonly reads a length without requiring that many bytes follow, bit string lengths count bits
func lengthonly(cur *base.Cursor) (int, error) {
	b, err := cur.Byte()
	if err != nil {
		return 0, err
	}
	if b < 0x80 {
		return int(b), nil
	}
	c := int(b & 0x7f)
	if c == 0 || c > 4 {
		return 0, fmt.Errorf("invalid length encoding 0x%02x: %w", b, base.ErrFormat)
	}
	raw, err := cur.Bytes(c)
	if err != nil {
		return 0, err
	}
	l := 0
	for _, r := range raw {
		l = l<<8 | int(r)
	}
	return l, nil
}
