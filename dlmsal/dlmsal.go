// Package dlmsal implements the DLMS/COSEM association and data transfer layer.
//
// It covers the application context negotiation (AARQ/AARE with the xDLMS initiate exchange,
// optionally ciphered), high level security pass 3/4, and the reassembly of long GET, SET and
// ACTION transactions including general block transfer.
//
// Basic usage:
//
//	settings, _ := dlmsal.NewSettingsWithLowAuthenticationLN("password")
//	transport := tcp.New("192.168.1.100", 4059, 30*time.Second)
//	client, _ := dlmsal.New(wrapper.New(transport, 1, 1), settings)
//	err := client.Open()
//
//	item := &dlmsal.DlmsRequestItem{
//		ClassId:   3,
//		Obis:      dlmsal.DlmsObis{A: 1, B: 0, C: 1, D: 8, E: 0, F: 255},
//		Attribute: 2,
//	}
//	err = client.Get([]*dlmsal.DlmsRequestItem{item})
package dlmsal

import (
	"errors"
	"fmt"
	"io"

	"github.com/cybroslabs/dlmscore-go/base"
	"go.uber.org/zap"
	"k8s.io/utils/ptr"
)

const (
	maxreadout = 0xffff + 64 // largest pdu plus ciphering overhead
	readchunk  = 512
)

// current association object and its reply_to_HLS_authentication method
var associationLN = DlmsObis{A: 0, B: 0, C: 40, D: 0, E: 0, F: 255}

const (
	associationLNClass   = 15
	replyToHLSMethod     = 1
	maxblocksizeoverhead = 32
)

// Client is a DLMS client over a transport delivering one APDU per read until io.EOF.
type Client struct {
	transport  base.Stream
	settings   *DlmsSettings
	negotiator *Negotiator
	session    *Session
	logger     *zap.SugaredLogger
	isopen     bool
}

func New(transport base.Stream, settings *DlmsSettings) (*Client, error) {
	n, err := NewClientNegotiator(settings)
	if err != nil {
		return nil, err
	}
	return &Client{transport: transport, settings: settings, negotiator: n}, nil
}

func (c *Client) logf(format string, v ...any) {
	if c.logger != nil {
		c.logger.Infof(format, v...)
	}
}

func (c *Client) SetLogger(logger *zap.SugaredLogger) {
	c.logger = logger
	c.negotiator.SetLogger(logger)
	c.transport.SetLogger(logger)
	if c.settings.cipher != nil {
		c.settings.cipher.SetLogger(logger)
	}
	if c.session != nil {
		c.session.SetLogger(logger)
	}
}

// Negotiation returns the negotiated state of the open association.
func (c *Client) Negotiation() NegotiationState {
	return c.negotiator.Negotiation()
}

func (c *Client) readout() ([]byte, error) {
	total := 0
	ret := make([]byte, readchunk)
	for {
		if total == len(ret) {
			if total >= maxreadout {
				return nil, fmt.Errorf("pdu exceeds %d bytes: %w", maxreadout, base.ErrFormat)
			}
			dt := make([]byte, len(ret)+readchunk)
			copy(dt, ret)
			ret = dt
		}
		n, err := c.transport.Read(ret[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				if total == 0 {
					return nil, base.ErrNothingToRead
				}
				return ret[:total], nil
			}
			return nil, err
		}
	}
}

// logstate suppresses lower layer logging while a packet with a plain password travels
func (c *Client) logstate(st bool) {
	if c.settings.ShowSecuredValues || c.settings.AuthenticationMechanismId != base.AuthenticationLow {
		return
	}
	if st {
		c.transport.SetLogger(c.logger)
	} else {
		c.logf("Temporarily suppressing logs due to packet with confidential content")
		c.transport.SetLogger(nil)
	}
}

// Open connects the transport and establishes the association including high level security.
func (c *Client) Open() error {
	if c.isopen {
		return nil
	}
	if err := c.transport.Open(); err != nil {
		return err
	}
	c.negotiator.Reset()
	aarq, _, err := c.negotiator.BuildAARQ()
	if err != nil {
		return err
	}
	c.logstate(false)
	err = c.transport.Write(aarq)
	if err != nil {
		c.logstate(true)
		return err
	}
	aare, err := c.readout()
	c.logstate(true)
	if err != nil {
		return fmt.Errorf("unable to receive AARE: %w", err)
	}
	if err = c.negotiator.HandleAARE(aare); err != nil {
		return err
	}

	if c.session, err = NewSession(c.negotiator.ns, c.settings.cipher, c.settings.invokebyte()); err != nil {
		return err
	}
	c.session.SetLogger(c.logger)
	if err = c.session.SetGBTWindow(ptr.Deref(c.settings.GBTWindow, 1)); err != nil {
		return err
	}
	if c.negotiator.HLSPending() {
		if err = c.hls(); err != nil {
			c.negotiator.Reset()
			c.session = nil
			return fmt.Errorf("high level security failed: %w", err)
		}
		c.session.ns = c.negotiator.ns
	}
	c.isopen = true
	return nil
}

func (c *Client) hls() error {
	proof, err := c.negotiator.HLSResponse()
	if err != nil {
		return err
	}
	var param []byte
	param = append(param, byte(DataOctetString))
	param = base.AppendLength(param, uint(len(proof)))
	param = append(param, proof...)
	item := &DlmsRequestItem{ClassId: associationLNClass, Obis: associationLN, Attribute: replyToHLSMethod, SetData: param}
	if err = c.exchange(func() ([]byte, error) { return c.session.Action(item) }); err != nil {
		return err
	}
	if item.Result != base.TagResultSuccess {
		return fmt.Errorf("reply to hls authentication: %v", item.Result)
	}
	cur := base.NewCursor(item.Value)
	if err = cur.Expect(byte(DataOctetString)); err != nil {
		return fmt.Errorf("server hls proof: %w", err)
	}
	l, err := cur.Length()
	if err != nil {
		return fmt.Errorf("server hls proof: %w", err)
	}
	resp, _ := cur.Bytes(l)
	return c.negotiator.CompleteHLS(resp)
}

func (c *Client) exchange(start func() ([]byte, error)) error {
	pdu, err := start()
	if err != nil {
		return err
	}
	for {
		// nothing to send while the peer streams blocks
		if pdu != nil {
			if err = c.transport.Write(pdu); err != nil {
				c.session.Abort()
				return err
			}
		}
		resp, err := c.readout()
		if err != nil {
			c.session.Abort()
			return err
		}
		next, done, err := c.session.Feed(resp)
		if err != nil || done {
			return err
		}
		pdu = next
	}
}

func (c *Client) checkopen() error {
	if !c.isopen {
		return base.ErrNotOpened
	}
	return nil
}

// Get reads the items, results and raw values are stored into them.
func (c *Client) Get(items []*DlmsRequestItem) error {
	if err := c.checkopen(); err != nil {
		return err
	}
	return c.exchange(func() ([]byte, error) { return c.session.Get(items) })
}

// Set writes SetData of item, split into blocks when it does not fit the peer pdu size.
func (c *Client) Set(item *DlmsRequestItem) error {
	if err := c.checkopen(); err != nil {
		return err
	}
	bs := int(c.session.ns.MaxReceivePduSize) - maxblocksizeoverhead
	return c.exchange(func() ([]byte, error) { return c.session.Set(item, bs) })
}

// Action invokes a method, SetData of item holds its parameters.
func (c *Client) Action(item *DlmsRequestItem) error {
	if err := c.checkopen(); err != nil {
		return err
	}
	return c.exchange(func() ([]byte, error) { return c.session.Action(item) })
}

// Close releases the association and closes the transport.
func (c *Client) Close() error {
	if !c.isopen {
		return c.transport.Close()
	}
	c.isopen = false
	err := c.transport.Write(EncodeRLRQ(c.settings.EmptyRLRQ))
	if err != nil {
		_ = c.transport.Close()
		return err
	}
	// some devices return non-standard responses, the reason is informative only
	rlre, err := c.readout()
	if err != nil {
		_ = c.transport.Close()
		return err
	}
	if reason, err := DecodeRLRE(rlre); err != nil {
		c.logf("unable to decode RLRE: %v", err)
	} else if reason != nil {
		c.logf("release reason %d", *reason)
	}
	c.negotiator.Reset()
	c.session = nil
	return c.transport.Close()
}

// Disconnect drops the transport without releasing the association.
func (c *Client) Disconnect() error {
	c.isopen = false
	c.negotiator.Reset()
	c.session = nil
	return c.transport.Disconnect()
}
