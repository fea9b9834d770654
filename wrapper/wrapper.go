// Package wrapper implements the DLMS wrapper framing used over TCP and UDP (IEC 62056-47).
//
// Every APDU travels in a frame with an 8-byte header:
//   - Version (2 bytes): always 0x0001
//   - Source wPort (2 bytes)
//   - Destination wPort (2 bytes)
//   - Length (2 bytes): APDU length
//
// Writes are collected into one frame which is sent when the response is read. Reads return the
// APDU of the received frame and io.EOF at its end, which is what dlmsal.Client expects. Reading
// again without a write receives the next frame, as for streamed general block transfer.
//
//	stream, err := wrapper.New(tcp.New("meter", 4059, 30*time.Second), 1, 1)
package wrapper

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/cybroslabs/dlmscore-go/base"
	"go.uber.org/zap"
)

const (
	Version    = 1
	HeaderSize = 8
	maxapdu    = 0xffff
)

// Header is the wrapper frame header.
type Header struct {
	Source      uint16
	Destination uint16
	Length      uint16
}

func (h *Header) Encode(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, Version)
	dst = binary.BigEndian.AppendUint16(dst, h.Source)
	dst = binary.BigEndian.AppendUint16(dst, h.Destination)
	return binary.BigEndian.AppendUint16(dst, h.Length)
}

func DecodeHeader(src []byte) (h Header, err error) {
	if len(src) < HeaderSize {
		return h, fmt.Errorf("short wrapper header: %w", base.ErrFormat)
	}
	if v := binary.BigEndian.Uint16(src); v != Version {
		return h, fmt.Errorf("wrapper version %d: %w", v, base.ErrFormat)
	}
	h.Source = binary.BigEndian.Uint16(src[2:])
	h.Destination = binary.BigEndian.Uint16(src[4:])
	h.Length = binary.BigEndian.Uint16(src[6:])
	return h, nil
}

type wrapper struct {
	transport   base.Stream
	logger      *zap.SugaredLogger
	source      uint16
	destination uint16
	out         []byte // frame being collected, header included
	remaining   int    // unread apdu bytes of the received frame
	inframe     bool
	expresp     bool
}

// New wraps transport, source is the local wPort and destination the peer one.
func New(transport base.Stream, source uint16, destination uint16) (base.Stream, error) {
	if transport == nil {
		return nil, fmt.Errorf("no transport: %w", base.ErrConfiguration)
	}
	return &wrapper{
		transport:   transport,
		source:      source,
		destination: destination,
		out:         make([]byte, 0, 2048),
	}, nil
}

func (w *wrapper) logf(format string, v ...any) {
	if w.logger != nil {
		w.logger.Infof(format, v...)
	}
}

func (w *wrapper) Close() error {
	return w.transport.Close()
}

func (w *wrapper) Disconnect() error {
	w.reset()
	return w.transport.Disconnect()
}

func (w *wrapper) reset() {
	w.out = w.out[:0]
	w.remaining = 0
	w.inframe = false
	w.expresp = false
}

func (w *wrapper) Open() error {
	w.logf("Opening wrapper, source wPort %d, destination wPort %d", w.source, w.destination)
	w.reset()
	return w.transport.Open()
}

func (w *wrapper) IsOpen() bool {
	return w.transport.IsOpen()
}

func (w *wrapper) SetMaxReceivedBytes(m int64) {
	w.transport.SetMaxReceivedBytes(m)
}

func (w *wrapper) SetDeadline(t time.Time) {
	w.transport.SetDeadline(t)
}

func (w *wrapper) SetLogger(logger *zap.SugaredLogger) {
	w.logger = logger
	w.transport.SetLogger(logger)
}

// discard drops what is left of the previous frame.
func (w *wrapper) discard() error {
	if w.remaining == 0 {
		return nil
	}
	n, err := io.CopyN(io.Discard, w.transport, int64(w.remaining))
	w.remaining -= int(n)
	if w.remaining == 0 {
		w.inframe = false
	}
	return err
}

func (w *wrapper) Write(src []byte) error {
	if len(src) == 0 {
		return nil
	}
	if err := w.discard(); err != nil {
		return err
	}
	w.inframe = false
	if len(w.out) == 0 {
		w.out = append(w.out, make([]byte, HeaderSize)...)
	}
	if len(w.out)-HeaderSize+len(src) > maxapdu {
		return fmt.Errorf("apdu too big for wrapper frame: %d > %d: %w", len(w.out)-HeaderSize+len(src), maxapdu, base.ErrConfiguration)
	}
	w.out = append(w.out, src...)
	w.expresp = true
	return nil
}

func (w *wrapper) flush() error {
	h := Header{Source: w.source, Destination: w.destination, Length: uint16(len(w.out) - HeaderSize)}
	h.Encode(w.out[:0])
	err := w.transport.Write(w.out)
	w.out = w.out[:0]
	return err
}

func (w *wrapper) receive() error {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(w.transport, hdr[:]); err != nil {
		return err
	}
	h, err := DecodeHeader(hdr[:])
	if err != nil {
		return err
	}
	if h.Source != w.destination || h.Destination != w.source {
		return fmt.Errorf("unexpected wPorts %d->%d: %w", h.Source, h.Destination, base.ErrFormat)
	}
	w.remaining = int(h.Length)
	w.inframe = true
	return nil
}

func (w *wrapper) Read(p []byte) (n int, err error) {
	if w.expresp {
		w.expresp = false
		if err = w.flush(); err != nil {
			return 0, err
		}
	}
	if len(p) == 0 {
		return 0, base.ErrNothingToRead
	}
	if !w.inframe {
		if err = w.receive(); err != nil {
			return 0, err
		}
	}
	if w.remaining == 0 {
		w.inframe = false
		return 0, io.EOF
	}
	n, err = w.transport.Read(p[:min(len(p), w.remaining)])
	w.remaining -= n
	return n, err
}
