// Package tcp is a plain TCP base.Stream, usually wrapped by the wrapper package.
package tcp

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cybroslabs/dlmscore-go/base"
	"go.uber.org/zap"
)

type dialfunc func(network string, address string, timeout time.Duration) (net.Conn, error)

type tcp struct {
	hostname string
	port     int
	dial     dialfunc
	logger   *zap.SugaredLogger
	timeout  time.Duration
	deadline time.Time
	conn     net.Conn
	buffer   []byte
	offset   int
	read     int

	totalincoming   int64
	totaloutgoing   int64
	currentincoming int64
	maxincoming     int64
}

// New creates a stream connecting to hostname:port, timeout applies to the connect and to every
// single read or write.
func New(hostname string, port int, timeout time.Duration) base.Stream {
	return newWithDialer(hostname, port, timeout, net.DialTimeout)
}

func newWithDialer(hostname string, port int, timeout time.Duration, dial dialfunc) *tcp {
	return &tcp{
		hostname: hostname,
		port:     port,
		dial:     dial,
		timeout:  timeout,
		buffer:   make([]byte, 2048),
	}
}

func (t *tcp) logf(format string, v ...any) {
	if t.logger != nil {
		t.logger.Infof(format, v...)
	}
}

func (t *tcp) address() string {
	return net.JoinHostPort(t.hostname, strconv.Itoa(t.port))
}

// Close does nothing, the connection is dropped by Disconnect.
func (t *tcp) Close() error {
	return nil
}

func (t *tcp) Open() error {
	if t.conn != nil {
		return nil
	}
	conn, err := t.dial("tcp", t.address(), t.timeout)
	if err != nil {
		t.logf("Connect to %s failed: %v", t.address(), err)
		return fmt.Errorf("connect failed: %w", err)
	}
	t.logf("Connected to %s", t.address())
	t.conn = conn
	t.offset, t.read = 0, 0
	return nil
}

func (t *tcp) Disconnect() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.logf("Disconnected from %s, bytes incoming: %d, outgoing: %d", t.address(), t.totalincoming, t.totaloutgoing)
	return err
}

func (t *tcp) IsOpen() bool {
	return t.conn != nil
}

func (t *tcp) SetMaxReceivedBytes(m int64) {
	t.currentincoming = 0
	t.maxincoming = m
}

func (t *tcp) SetDeadline(d time.Time) {
	t.deadline = d
}

func (t *tcp) SetLogger(logger *zap.SugaredLogger) {
	t.logger = logger
}

// setcommdeadline applies the earlier of the per operation timeout and the overall deadline.
func (t *tcp) setcommdeadline() {
	var d time.Time
	if t.timeout > 0 {
		d = time.Now().Add(t.timeout)
	}
	if !t.deadline.IsZero() && (d.IsZero() || t.deadline.Before(d)) {
		d = t.deadline
	}
	_ = t.conn.SetDeadline(d)
}

func wraperr(op string, err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, base.ErrCommunicationTimeout)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

func (t *tcp) Write(src []byte) error {
	if t.conn == nil {
		return base.ErrNotOpened
	}
	for len(src) > 0 {
		t.setcommdeadline()
		n, err := t.conn.Write(src)
		t.totaloutgoing += int64(n)
		if t.logger != nil && n > 0 {
			t.logger.Debug(base.LogHex("TX "+t.hostname, src[:n]))
		}
		if err != nil {
			return wraperr("write", err)
		}
		src = src[n:]
	}
	return nil
}

func (t *tcp) Read(p []byte) (n int, err error) {
	if t.conn == nil {
		return 0, base.ErrNotOpened
	}
	if len(p) == 0 {
		return 0, base.ErrNothingToRead
	}
	if t.read > t.offset {
		n = copy(p, t.buffer[t.offset:t.read])
		t.offset += n
		return n, nil
	}

	t.setcommdeadline()
	rx, err := t.conn.Read(t.buffer)
	t.totalincoming += int64(rx)
	t.currentincoming += int64(rx)
	if t.maxincoming > 0 && t.currentincoming > t.maxincoming {
		return 0, fmt.Errorf("received %d bytes, more than allowed %d", t.currentincoming, t.maxincoming)
	}
	if rx > 0 {
		if t.logger != nil {
			t.logger.Debug(base.LogHex("RX "+t.hostname, t.buffer[:rx]))
		}
		t.read = rx
		n = copy(p, t.buffer[:rx])
		t.offset = n
		return n, nil
	}
	if err != nil {
		return 0, wraperr("read", err)
	}
	return 0, nil
}
