// Package base holds the DLMS constants and the transport interface shared by every layer.
package base

import (
	"time"

	"go.uber.org/zap"
)

// Stream is a byte transport below the application layer. A request is one or more Write calls,
// the response is read until io.EOF for packet oriented transports.
type Stream interface {
	Close() error
	Open() error
	Disconnect() error // drops the link without releasing the association
	IsOpen() bool
	SetLogger(logger *zap.SugaredLogger)
	SetDeadline(t time.Time)     // zero time means no deadline
	SetMaxReceivedBytes(m int64) // resets the counter, only incoming bytes count
	Read(p []byte) (n int, err error)
	Write(src []byte) error // writes everything or fails
}
