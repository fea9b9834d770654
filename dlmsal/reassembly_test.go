package dlmsal

import (
	"bytes"
	"errors"
	"testing"

	"github.com/cybroslabs/dlmscore-go/base"
)

func TestLongTransactionAppend(t *testing.T) {
	tests := []struct {
		name    string
		blocks  []uint32
		wantErr int // index of the failing append, -1 for none
	}{
		{name: "single", blocks: []uint32{1}, wantErr: -1},
		{name: "in order", blocks: []uint32{1, 2, 3}, wantErr: -1},
		{name: "starts at two", blocks: []uint32{2}, wantErr: 0},
		{name: "gap", blocks: []uint32{1, 3}, wantErr: 1},
		{name: "repeated", blocks: []uint32{1, 2, 2}, wantErr: 2},
		{name: "backwards", blocks: []uint32{1, 2, 1}, wantErr: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := NewLongTransaction(base.TagGetRequest, nil)
			var want bytes.Buffer
			for i, b := range tt.blocks {
				data := []byte{byte(b), byte(b)}
				err := tx.Append(b, i == len(tt.blocks)-1, data)
				if i == tt.wantErr {
					if !errors.Is(err, base.ErrSequence) {
						t.Fatalf("block %d: got %v, want ErrSequence", b, err)
					}
					return
				}
				if err != nil {
					t.Fatalf("block %d: %v", b, err)
				}
				want.Write(data)
			}
			if tx.State() != Complete || !tx.LastBlock {
				t.Errorf("state %v last %v", tx.State(), tx.LastBlock)
			}
			if tx.MultipleBlocks != (len(tt.blocks) > 1) {
				t.Errorf("multiple blocks %v", tx.MultipleBlocks)
			}
			if !bytes.Equal(tx.Data(), want.Bytes()) {
				t.Errorf("data %x, want %x", tx.Data(), want.Bytes())
			}
		})
	}
}

func TestLongTransactionDeliver(t *testing.T) {
	item := &DlmsRequestItem{}
	tx := NewLongTransaction(base.TagGetRequest, []*DlmsRequestItem{item})
	if tx.State() != Accumulating || tx.Expected() != 1 {
		t.Fatalf("new transaction %v expects %d", tx.State(), tx.Expected())
	}
	if err := tx.Append(1, false, []byte{0x09, 0x03, 0x01}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Deliver(RawDecoder{}); !errors.Is(err, base.ErrSequence) {
		t.Errorf("deliver before last block: %v", err)
	}
	if err := tx.Append(2, true, []byte{0x02, 0x03}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Append(3, true, nil); !errors.Is(err, base.ErrSequence) {
		t.Errorf("append after last block: %v", err)
	}
	if err := tx.Deliver(RawDecoder{}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(item.Value, []byte{0x09, 0x03, 0x01, 0x02, 0x03}) || item.Result != base.TagResultSuccess {
		t.Errorf("delivered %x result %v", item.Value, item.Result)
	}
	if tx.State() != NoTransaction {
		t.Errorf("state after deliver %v", tx.State())
	}
	if err := tx.Deliver(RawDecoder{}); !errors.Is(err, base.ErrSequence) {
		t.Errorf("second deliver: %v", err)
	}
}

func TestLongTransactionAbort(t *testing.T) {
	tx := NewLongTransaction(base.TagActionRequest, nil)
	if err := tx.Append(1, false, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	tx.Abort()
	if tx.State() != NoTransaction || tx.Len() != 0 {
		t.Errorf("after abort state %v len %d", tx.State(), tx.Len())
	}
	if err := tx.Append(2, true, nil); !errors.Is(err, base.ErrSequence) {
		t.Errorf("append after abort: %v", err)
	}
}

func TestListDecoder(t *testing.T) {
	a, b := &DlmsRequestItem{}, &DlmsRequestItem{}
	// two results, the second one is an access error
	data := decodeHex(t, "02 00 1200ff 01 04")
	if err := (ListDecoder{}).Decode([]*DlmsRequestItem{a, b}, data); err != nil {
		t.Fatal(err)
	}
	if a.Result != base.TagResultSuccess || !bytes.Equal(a.Value, []byte{0x12, 0x00, 0xff}) {
		t.Errorf("first %v %x", a.Result, a.Value)
	}
	if b.Result != base.TagResultObjectUndefined || b.Value != nil {
		t.Errorf("second %v %x", b.Result, b.Value)
	}
	if err := (ListDecoder{}).Decode([]*DlmsRequestItem{a}, data); !errors.Is(err, base.ErrFormat) {
		t.Errorf("count mismatch: %v", err)
	}
}
