package dlmsal

import (
	"bytes"
	"errors"
	"testing"

	"github.com/cybroslabs/dlmscore-go/base"
)

var clockTime = &DlmsRequestItem{ClassId: 8, Obis: DlmsObis{A: 0, B: 0, C: 1, D: 0, E: 0, F: 255}, Attribute: 2}

func TestEncodeGetRequest(t *testing.T) {
	energy := &DlmsRequestItem{ClassId: 3, Obis: DlmsObis{A: 1, B: 0, C: 1, D: 8, E: 0, F: 255}, Attribute: 2}
	profile := &DlmsRequestItem{
		ClassId:          7,
		Obis:             DlmsObis{A: 1, B: 0, C: 99, D: 1, E: 0, F: 255},
		Attribute:        2,
		HasAccess:        true,
		AccessDescriptor: 2,
		AccessData:       decodeHex(t, "020406000000010600000002120001120000"),
	}
	tests := []struct {
		name  string
		items []*DlmsRequestItem
		want  string
	}{
		{name: "normal", items: []*DlmsRequestItem{clockTime}, want: "c001c1 0008 0000010000ff 02 00"},
		{name: "selective access", items: []*DlmsRequestItem{profile}, want: "c001c1 0007 0100630100ff 02 01 02 020406000000010600000002120001120000"},
		{name: "with list", items: []*DlmsRequestItem{clockTime, energy}, want: "c003c1 02 0008 0000010000ff 02 00 0003 0100010800ff 02 00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeGetRequest(0xc1, tt.items)
			if err != nil {
				t.Fatal(err)
			}
			if want := decodeHex(t, tt.want); !bytes.Equal(got, want) {
				t.Errorf("got  %x\nwant %x", got, want)
			}
		})
	}
	if _, err := EncodeGetRequest(0xc1, nil); !errors.Is(err, base.ErrConfiguration) {
		t.Errorf("empty request: %v", err)
	}
	if got := EncodeGetRequestNext(0xc1, 0x01020304); !bytes.Equal(got, decodeHex(t, "c002c101020304")) {
		t.Errorf("next %x", got)
	}
}

func TestDecodeGetResponse(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		check   func(t *testing.T, r *GetResponse)
		wantErr bool
	}{
		{
			name: "normal data",
			src:  "c401c1 00 1200ff",
			check: func(t *testing.T, r *GetResponse) {
				if r.Type != TagGetResponseNormal || r.InvokeId != 0xc1 || !bytes.Equal(r.Single.Data, []byte{0x12, 0x00, 0xff}) {
					t.Errorf("%+v", r)
				}
			},
		},
		{
			name: "normal access error",
			src:  "c401c1 01 03",
			check: func(t *testing.T, r *GetResponse) {
				if r.Single.Result != base.TagResultReadWriteDenied || r.Single.Data != nil {
					t.Errorf("%+v", r.Single)
				}
			},
		},
		{
			name: "data block",
			src:  "c402c1 00 00000001 00 05 0102030405",
			check: func(t *testing.T, r *GetResponse) {
				b := r.Block
				if r.Type != TagGetResponseWithDataBlock || b.Last || b.BlockNumber != 1 || b.Result != base.TagResultSuccess || !bytes.Equal(b.Raw, []byte{1, 2, 3, 4, 5}) {
					t.Errorf("%+v", b)
				}
			},
		},
		{
			name: "last data block with access error",
			src:  "c402c1 01 00000003 01 0e",
			check: func(t *testing.T, r *GetResponse) {
				b := r.Block
				if !b.Last || b.BlockNumber != 3 || b.Result != base.TagResultDataBlockUnavailable || b.Raw != nil {
					t.Errorf("%+v", b)
				}
			},
		},
		{
			name: "with list",
			src:  "c403c1 02 00 0f05 01 0b",
			check: func(t *testing.T, r *GetResponse) {
				if len(r.List) != 2 || !bytes.Equal(r.List[0].Data, []byte{0x0f, 0x05}) || r.List[1].Result != base.TagResultObjectUnavailable {
					t.Errorf("%+v", r.List)
				}
			},
		},
		{name: "unknown type", src: "c404c1 00", wantErr: true},
		{name: "truncated block", src: "c402c1 00 00000001 00 05 0102", wantErr: true},
		{name: "unknown data tag", src: "c401c1 00 0800", wantErr: true},
		{name: "list with trailing bytes", src: "c403c1 01 00 0f05 00", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeGetResponse(decodeHex(t, tt.src))
			if tt.wantErr {
				if !errors.Is(err, base.ErrFormat) {
					t.Fatalf("got %v, want ErrFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, got)
		})
	}
}

func TestGetResponseEncode(t *testing.T) {
	got := EncodeGetResponse(0x81, &GetDataResult{Result: base.TagResultSuccess, Data: []byte{0x11, 0x05}})
	if !bytes.Equal(got, decodeHex(t, "c40181001105")) {
		t.Errorf("normal %x", got)
	}
	got = EncodeGetResponse(0x81, &GetDataResult{Result: base.TagResultObjectUndefined})
	if !bytes.Equal(got, decodeHex(t, "c401810104")) {
		t.Errorf("error %x", got)
	}
	got = EncodeGetResponseBlock(0x81, &DataBlock{Last: true, BlockNumber: 2, Raw: []byte{0xaa}})
	if !bytes.Equal(got, decodeHex(t, "c4028101000000020001aa")) {
		t.Errorf("block %x", got)
	}
}

func TestSplitBlocks(t *testing.T) {
	tests := []struct {
		name  string
		data  int
		size  int
		sizes []int
	}{
		{name: "empty", data: 0, size: 4, sizes: []int{0}},
		{name: "exact", data: 8, size: 4, sizes: []int{4, 4}},
		{name: "remainder", data: 9, size: 4, sizes: []int{4, 4, 1}},
		{name: "single", data: 3, size: 4, sizes: []int{3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.data)
			for i := range data {
				data[i] = byte(i)
			}
			blocks, err := SplitBlocks(data, tt.size)
			if err != nil {
				t.Fatal(err)
			}
			if len(blocks) != len(tt.sizes) {
				t.Fatalf("%d blocks, want %d", len(blocks), len(tt.sizes))
			}
			var joined []byte
			for i, b := range blocks {
				if len(b.Raw) != tt.sizes[i] || b.BlockNumber != uint32(i+1) || b.Last != (i == len(blocks)-1) {
					t.Errorf("block %d: %+v", i, b)
				}
				joined = append(joined, b.Raw...)
			}
			if !bytes.Equal(joined, data) {
				t.Errorf("joined %x", joined)
			}
		})
	}
	if _, err := SplitBlocks([]byte{1}, 0); !errors.Is(err, base.ErrConfiguration) {
		t.Errorf("zero block size: %v", err)
	}
}

func TestSetRequest(t *testing.T) {
	item := *clockTime
	item.SetData = decodeHex(t, "090c07e80a1104000000ff800000")

	got := EncodeSetRequest(0xc2, &item)
	want := decodeHex(t, "c101c2 0008 0000010000ff 02 00 090c07e80a1104000000ff800000")
	if !bytes.Equal(got, want) {
		t.Errorf("normal %x", got)
	}
	req, err := DecodeSetRequest(got)
	if err != nil {
		t.Fatal(err)
	}
	if req.Type != TagSetRequestNormal || req.Item.ClassId != 8 || req.Item.Obis != item.Obis || !bytes.Equal(req.Item.SetData, item.SetData) {
		t.Errorf("decoded %+v", req)
	}

	blocks, err := EncodeSetRequestBlocks(0xc2, &item, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 {
		t.Fatalf("%d blocks", len(blocks))
	}
	if want := decodeHex(t, "c102c2 0008 0000010000ff 02 00 00 00000001 08 090c07e80a110400"); !bytes.Equal(blocks[0], want) {
		t.Errorf("first block %x", blocks[0])
	}
	if want := decodeHex(t, "c103c2 01 00000002 06 0000ff800000"); !bytes.Equal(blocks[1], want) {
		t.Errorf("second block %x", blocks[1])
	}
	var joined []byte
	for i, b := range blocks {
		req, err := DecodeSetRequest(b)
		if err != nil {
			t.Fatalf("block %d: %v", i, err)
		}
		if req.Block.BlockNumber != uint32(i+1) || req.Block.Last != (i == 1) {
			t.Errorf("block %d header %+v", i, req.Block)
		}
		joined = append(joined, req.Block.Raw...)
	}
	if !bytes.Equal(joined, item.SetData) {
		t.Errorf("joined %x", joined)
	}
}

func TestDecodeSetResponse(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		want    SetResponse
		wantErr bool
	}{
		{name: "normal", src: "c501c100", want: SetResponse{Type: TagSetResponseNormal, InvokeId: 0xc1}},
		{name: "normal denied", src: "c501c103", want: SetResponse{Type: TagSetResponseNormal, InvokeId: 0xc1, Result: base.TagResultReadWriteDenied}},
		{name: "data block", src: "c502c100000002", want: SetResponse{Type: TagSetResponseDataBlock, InvokeId: 0xc1, BlockNumber: 2}},
		{name: "last data block", src: "c503c10000000003", want: SetResponse{Type: TagSetResponseLastDataBlock, InvokeId: 0xc1, BlockNumber: 3}},
		{name: "truncated", src: "c502c10000", wantErr: true},
		{name: "unknown type", src: "c509c100", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeSetResponse(decodeHex(t, tt.src))
			if tt.wantErr {
				if !errors.Is(err, base.ErrFormat) {
					t.Fatalf("got %v, want ErrFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Type != tt.want.Type || got.InvokeId != tt.want.InvokeId || got.Result != tt.want.Result || got.BlockNumber != tt.want.BlockNumber {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	got, err := DecodeSetResponse(decodeHex(t, "c505c1 02 00 03"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Results) != 2 || got.Results[1] != base.TagResultReadWriteDenied {
		t.Errorf("with list %+v", got)
	}
	if blk := EncodeSetResponseBlock(0xc1, 3, true, base.TagResultSuccess); !bytes.Equal(blk, decodeHex(t, "c503c10000000003")) {
		t.Errorf("encoded last block ack %x", blk)
	}
	if blk := EncodeSetResponseBlock(0xc1, 2, false, base.TagResultSuccess); !bytes.Equal(blk, decodeHex(t, "c502c100000002")) {
		t.Errorf("encoded block ack %x", blk)
	}
}

func TestActionRequest(t *testing.T) {
	item := &DlmsRequestItem{ClassId: 15, Obis: DlmsObis{A: 0, B: 0, C: 40, D: 0, E: 0, F: 255}, Attribute: 1}
	if got := EncodeActionRequest(0xc3, item); !bytes.Equal(got, decodeHex(t, "c301c3 000f 0000280000ff 01 00")) {
		t.Errorf("without parameters %x", got)
	}
	item.SetData = []byte{0x09, 0x02, 0xab, 0xcd}
	if got := EncodeActionRequest(0xc3, item); !bytes.Equal(got, decodeHex(t, "c301c3 000f 0000280000ff 01 01 0902abcd")) {
		t.Errorf("with parameters %x", got)
	}
	if got := EncodeActionRequestNext(0xc3, 1); !bytes.Equal(got, decodeHex(t, "c302c300000001")) {
		t.Errorf("next pblock %x", got)
	}
}

func TestDecodeActionResponse(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		check   func(t *testing.T, r *ActionResponse)
		wantErr bool
	}{
		{
			name: "success without return",
			src:  "c701c100 00",
			check: func(t *testing.T, r *ActionResponse) {
				if r.Result != base.TagResultSuccess || r.Return != nil {
					t.Errorf("%+v", r)
				}
			},
		},
		{
			name: "optional flag omitted",
			src:  "c701c10b",
			check: func(t *testing.T, r *ActionResponse) {
				if r.Result != base.TagResultObjectUnavailable || r.Return != nil {
					t.Errorf("%+v", r)
				}
			},
		},
		{
			name: "with return data",
			src:  "c701c100 01 00 0902abcd",
			check: func(t *testing.T, r *ActionResponse) {
				if r.Return == nil || !bytes.Equal(r.Return.Data, []byte{0x09, 0x02, 0xab, 0xcd}) {
					t.Errorf("%+v", r.Return)
				}
			},
		},
		{
			name: "pblock",
			src:  "c702c1 00 00000001 03 090401",
			check: func(t *testing.T, r *ActionResponse) {
				if r.Type != TagActionResponseWithPBlock || r.Block.Last || r.Block.BlockNumber != 1 || !bytes.Equal(r.Block.Raw, []byte{0x09, 0x04, 0x01}) {
					t.Errorf("%+v", r.Block)
				}
			},
		},
		{name: "bad return choice", src: "c701c100 01 02", wantErr: true},
		{name: "unsupported type", src: "c703c100", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeActionResponse(decodeHex(t, tt.src))
			if tt.wantErr {
				if !errors.Is(err, base.ErrFormat) {
					t.Fatalf("got %v, want ErrFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, got)
		})
	}
}

func TestSkipData(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		n       int // bytes consumed
		wantErr bool
	}{
		{name: "null", src: "00 ff", n: 1},
		{name: "unsigned", src: "11 05 ff", n: 2},
		{name: "long64", src: "14 0102030405060708", n: 9},
		{name: "octet string", src: "09 03 010203 ff", n: 5},
		{name: "long octet string", src: "09 8180" + string(bytes.Repeat([]byte("00"), 128)), n: 131},
		{name: "bit string", src: "04 0a 0102 ff", n: 4},
		{name: "structure", src: "02 02 11 01 09 01 aa ff", n: 7},
		{name: "nested array", src: "01 02 02 01 12 0001 02 01 12 0002", n: 12},
		{name: "date time", src: "19 07e80a1104000000 00ff8000", n: 13},
		{name: "compact array", src: "13 01 0002 11 02 0102", n: 8},
		{name: "truncated string", src: "09 05 0102", wantErr: true},
		{name: "truncated structure", src: "02 02 11 01", wantErr: true},
		{name: "unknown tag", src: "08 00", wantErr: true},
		{name: "empty", src: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur := base.NewCursor(decodeHex(t, tt.src))
			got, err := SkipData(&cur)
			if tt.wantErr {
				if !errors.Is(err, base.ErrFormat) {
					t.Fatalf("got %v, want ErrFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.n || cur.Pos() != tt.n {
				t.Errorf("consumed %d, returned %d bytes, want %d", cur.Pos(), len(got), tt.n)
			}
		})
	}
}

func TestSkipDataDepth(t *testing.T) {
	var src []byte
	for i := 0; i < maxdatadepth+2; i++ {
		src = append(src, byte(DataStructure), 1)
	}
	src = append(src, byte(DataNull))
	cur := base.NewCursor(src)
	if _, err := SkipData(&cur); !errors.Is(err, base.ErrFormat) {
		t.Errorf("deep nesting: %v", err)
	}
}

func TestActionRequestServerSide(t *testing.T) {
	item := &DlmsRequestItem{ClassId: 15, Obis: DlmsObis{A: 0, B: 0, C: 40, D: 0, E: 0, F: 255}, Attribute: 1, SetData: []byte{0x09, 0x02, 0xaa, 0xbb}}
	req, err := DecodeActionRequest(EncodeActionRequest(0xc5, item))
	if err != nil {
		t.Fatal(err)
	}
	if req.Type != TagActionRequestNormal || req.InvokeId != 0xc5 || req.Item.ClassId != 15 || req.Item.Attribute != 1 || !bytes.Equal(req.Item.SetData, item.SetData) {
		t.Errorf("decoded %+v", req)
	}
	req, err = DecodeActionRequest(EncodeActionRequestNext(0xc5, 7))
	if err != nil {
		t.Fatal(err)
	}
	if req.Type != TagActionRequestNextPBlock || req.Block.BlockNumber != 7 {
		t.Errorf("next %+v", req)
	}
	if _, err = DecodeActionRequest(decodeHex(t, "c303c5")); !errors.Is(err, base.ErrFormat) {
		t.Errorf("with list: %v", err)
	}

	out := EncodeActionResponse(0xc5, base.TagResultSuccess, &GetDataResult{Data: []byte{0x09, 0x01, 0xff}})
	if !bytes.Equal(out, decodeHex(t, "c701c5 00 01 00 0901ff")) {
		t.Errorf("response %x", out)
	}
	resp, err := DecodeActionResponse(out)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Return == nil || !bytes.Equal(resp.Return.Data, []byte{0x09, 0x01, 0xff}) {
		t.Errorf("return %+v", resp.Return)
	}
	if out = EncodeActionResponse(0xc5, base.TagResultReadWriteDenied, nil); !bytes.Equal(out, decodeHex(t, "c701c50300")) {
		t.Errorf("denied %x", out)
	}
}
