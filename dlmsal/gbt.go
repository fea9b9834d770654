package dlmsal

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cybroslabs/dlmscore-go/base"
)

const (
	gbtLast      = 0x80
	gbtStreaming = 0x40
	gbtWindow    = 0x3f
)

// GBTBlock is one general block transfer APDU.
type GBTBlock struct {
	Last           bool
	Streaming      bool
	Window         byte
	BlockNumber    uint16
	BlockNumberAck uint16
	Data           []byte
}

// EncodeGBT writes E0 control blockno ack len data.
func EncodeGBT(b *GBTBlock) ([]byte, error) {
	if b.Window > gbtWindow {
		return nil, fmt.Errorf("gbt window %d too big: %w", b.Window, base.ErrConfiguration)
	}
	var dst bytes.Buffer
	dst.WriteByte(byte(base.TagGeneralBlockTransfer))
	c := b.Window
	if b.Last {
		c |= gbtLast
	}
	if b.Streaming {
		c |= gbtStreaming
	}
	dst.WriteByte(c)
	var tmp [4]byte
	binary.BigEndian.PutUint16(tmp[:], b.BlockNumber)
	binary.BigEndian.PutUint16(tmp[2:], b.BlockNumberAck)
	dst.Write(tmp[:])
	base.EncodeLength(&dst, uint(len(b.Data)))
	dst.Write(b.Data)
	return dst.Bytes(), nil
}

func DecodeGBT(src []byte) (*GBTBlock, error) {
	cur := base.NewCursor(src)
	if err := cur.Expect(byte(base.TagGeneralBlockTransfer)); err != nil {
		return nil, err
	}
	c, err := cur.Byte()
	if err != nil {
		return nil, err
	}
	ret := &GBTBlock{Last: c&gbtLast != 0, Streaming: c&gbtStreaming != 0, Window: c & gbtWindow}
	if ret.BlockNumber, err = cur.Uint16(); err != nil {
		return nil, fmt.Errorf("gbt block number: %w", err)
	}
	if ret.BlockNumberAck, err = cur.Uint16(); err != nil {
		return nil, fmt.Errorf("gbt block number ack: %w", err)
	}
	if ret.Data, err = getraw(&cur); err != nil {
		return nil, fmt.Errorf("gbt block data: %w", err)
	}
	return ret, nil
}

// ReplyData tracks the reply being received.
type ReplyData struct {
	Command        base.CosemTag
	Error          base.DlmsResultTag
	DataType       DataTag
	Value          []byte
	BlockNumber    uint16
	BlockNumberAck uint16
	WindowSize     byte
	Streaming      bool
}

// IsStreaming reports whether the sender continues without waiting for an acknowledgement.
func (r *ReplyData) IsStreaming() bool {
	return r.Streaming && uint32(r.BlockNumberAck)*uint32(r.WindowSize)+1 > uint32(r.BlockNumber)
}

// GBTReceiver reassembles a general block transfer and produces the acknowledgements.
type GBTReceiver struct {
	reply  ReplyData
	own    uint16
	window byte
	t      *LongTransaction
}

// NewGBTReceiver creates a receiver acknowledging with window, lastsent is the block number of
// the last block sent by the receiving side.
func NewGBTReceiver(window byte, lastsent uint16) *GBTReceiver {
	return &GBTReceiver{
		reply:  ReplyData{Command: base.TagGeneralBlockTransfer, WindowSize: window},
		own:    lastsent,
		window: window,
		t:      NewLongTransaction(base.TagGeneralBlockTransfer, nil),
	}
}

func (g *GBTReceiver) Reply() ReplyData {
	return g.reply
}

// Feed processes one received block. It returns the acknowledgement to send when the sender waits
// for one, and done once the last block arrived.
func (g *GBTReceiver) Feed(src []byte) (ack []byte, done bool, err error) {
	b, err := DecodeGBT(src)
	if err != nil {
		return nil, false, err
	}
	if err = g.t.Append(uint32(b.BlockNumber), b.Last, b.Data); err != nil {
		return nil, false, err
	}
	g.reply.BlockNumber = b.BlockNumber
	g.reply.BlockNumberAck = b.BlockNumberAck
	g.reply.Streaming = b.Streaming
	if b.Last {
		g.reply.Value = g.t.Data()
		if len(g.reply.Value) > 0 {
			g.reply.DataType = DataTag(g.reply.Value[0])
		}
		return nil, true, nil
	}
	if g.reply.IsStreaming() {
		return nil, false, nil
	}
	g.own++
	ack, err = EncodeGBT(&GBTBlock{Window: g.window, BlockNumber: g.own, BlockNumberAck: b.BlockNumber})
	return ack, false, err
}

// Data returns the reassembled APDU carried by the transfer.
func (g *GBTReceiver) Data() []byte {
	return g.t.Data()
}

// SplitGBT cuts an APDU into general block transfer blocks numbered from first.
func SplitGBT(apdu []byte, size int, first uint16, window byte, streaming bool) ([][]byte, error) {
	blocks, err := SplitBlocks(apdu, size)
	if err != nil {
		return nil, err
	}
	if len(blocks)+int(first) > 0xffff {
		return nil, fmt.Errorf("too many gbt blocks: %w", base.ErrConfiguration)
	}
	ret := make([][]byte, len(blocks))
	for i, b := range blocks {
		ret[i], err = EncodeGBT(&GBTBlock{
			Last:        b.Last,
			Streaming:   streaming && !b.Last,
			Window:      window,
			BlockNumber: first + uint16(i),
			Data:        b.Raw,
		})
		if err != nil {
			return nil, err
		}
	}
	return ret, nil
}
