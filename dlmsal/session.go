package dlmsal

import (
	"fmt"

	"github.com/cybroslabs/dlmscore-go/base"
	"github.com/cybroslabs/dlmscore-go/ciphering"
	"go.uber.org/zap"
)

// ListDecoder stores the results of a GET with list into the targets in order.
type ListDecoder struct{}

func (ListDecoder) Decode(targets []*DlmsRequestItem, data []byte) error {
	res, err := ParseGetResults(data)
	if err != nil {
		return err
	}
	if len(res) != len(targets) {
		return fmt.Errorf("different amount of data received, expected %d got %d: %w", len(targets), len(res), base.ErrFormat)
	}
	for i, r := range res {
		targets[i].Result = r.Result
		targets[i].Value = append([]byte(nil), r.Data...)
	}
	return nil
}

// Session carries the services of one established association: ciphering of outbound APDUs,
// deciphering of inbound ones and at most one long transaction.
type Session struct {
	cipher     *ciphering.Context
	ns         NegotiationState
	invokebyte byte
	invokeid   byte
	logger     *zap.SugaredLogger

	tx      *LongTransaction
	invoke  byte     // invoke id byte of the transaction in progress
	pending [][]byte // set request blocks not sent yet
	dec     ValueDecoder

	gbt       *GBTReceiver
	gbtwindow byte
}

// NewSession creates a session over a negotiated state. A ciphered state requires cipher.
func NewSession(ns NegotiationState, cipher *ciphering.Context, invokebyte byte) (*Session, error) {
	if !ns.Negotiated {
		return nil, fmt.Errorf("association not negotiated: %w", base.ErrState)
	}
	if ns.Ciphered && cipher == nil {
		return nil, fmt.Errorf("ciphered association without ciphering context: %w", base.ErrConfiguration)
	}
	return &Session{cipher: cipher, ns: ns, invokebyte: invokebyte & 0xc0, gbtwindow: 1}, nil
}

// SetGBTWindow sets the window announced in general block transfer acknowledgements.
func (s *Session) SetGBTWindow(window byte) error {
	if window == 0 || window > gbtWindow {
		return fmt.Errorf("gbt window %d out of range: %w", window, base.ErrConfiguration)
	}
	s.gbtwindow = window
	return nil
}

func (s *Session) SetLogger(logger *zap.SugaredLogger) {
	s.logger = logger
}

func (s *Session) dlogf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Debugf(format, v...)
	}
}

func (s *Session) Negotiation() NegotiationState {
	return s.ns
}

// Transaction returns the long transaction in progress, nil when there is none.
func (s *Session) Transaction() *LongTransaction {
	return s.tx
}

func (s *Session) nextinvoke() byte {
	s.invokeid = (s.invokeid + 1) & 0x0f
	return s.invokeid | s.invokebyte
}

// Wrap ciphers an outbound APDU when the association is ciphered and checks the peer size limit.
func (s *Session) Wrap(apdu []byte) ([]byte, error) {
	if len(apdu) == 0 {
		return nil, fmt.Errorf("empty apdu: %w", base.ErrFormat)
	}
	out := apdu
	if s.ns.Ciphered {
		glo, err := ciphering.GloCommand(base.CosemTag(apdu[0]))
		if err != nil {
			return nil, err
		}
		if out, err = s.cipher.Encrypt(glo, apdu); err != nil {
			return nil, err
		}
	}
	if s.ns.MaxReceivePduSize != 0 && len(out) > int(s.ns.MaxReceivePduSize) {
		return nil, fmt.Errorf("pdu size exceeds maximum size: %d > %d: %w", len(out), s.ns.MaxReceivePduSize, base.ErrConfiguration)
	}
	return out, nil
}

// Unwrap deciphers an inbound Glo APDU. A ciphered association still accepts a plain exception response.
func (s *Session) Unwrap(pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("empty pdu: %w", base.ErrFormat)
	}
	tag := base.CosemTag(pdu[0])
	if tag.IsGlo() {
		if s.cipher == nil {
			return nil, fmt.Errorf("ciphered pdu 0x%02x without ciphering context: %w", pdu[0], base.ErrConfiguration)
		}
		d, err := s.cipher.Decrypt(pdu)
		if err != nil {
			return nil, err
		}
		s.dlogf(base.LogHex("deciphered", d.Apdu))
		return d.Apdu, nil
	}
	if s.ns.Ciphered && tag != base.TagExceptionResponse {
		return nil, fmt.Errorf("plain pdu 0x%02x in ciphered association: %w", pdu[0], base.ErrFormat)
	}
	return pdu, nil
}

func (s *Session) begin(cmd base.CosemTag, targets []*DlmsRequestItem, dec ValueDecoder) error {
	if s.tx != nil {
		return fmt.Errorf("transaction %v in progress: %w", s.tx.Command, base.ErrState)
	}
	s.tx = NewLongTransaction(cmd, targets)
	s.invoke = s.nextinvoke()
	s.dec = dec
	return nil
}

func (s *Session) end() {
	if s.tx != nil {
		s.tx.Abort()
	}
	s.tx = nil
	s.pending = nil
	s.dec = nil
	s.gbt = nil
}

// Abort drops the transaction in progress.
func (s *Session) Abort() {
	s.end()
}

// Get starts a GET of items and returns the request to send.
func (s *Session) Get(items []*DlmsRequestItem) ([]byte, error) {
	var dec ValueDecoder = RawDecoder{}
	if len(items) > 1 {
		dec = ListDecoder{}
	}
	if err := s.begin(base.TagGetRequest, items, dec); err != nil {
		return nil, err
	}
	req, err := EncodeGetRequest(s.invoke, items)
	if err != nil {
		s.end()
		return nil, err
	}
	return s.wrapped(req)
}

// Set starts a SET of one item, split into blocks when its data exceeds blocksize.
func (s *Session) Set(item *DlmsRequestItem, blocksize int) ([]byte, error) {
	if err := s.begin(base.TagSetRequest, []*DlmsRequestItem{item}, nil); err != nil {
		return nil, err
	}
	if blocksize <= 0 || len(item.SetData) <= blocksize {
		return s.wrapped(EncodeSetRequest(s.invoke, item))
	}
	blocks, err := EncodeSetRequestBlocks(s.invoke, item, blocksize)
	if err != nil {
		s.end()
		return nil, err
	}
	s.pending = blocks[1:]
	return s.wrapped(blocks[0])
}

// Action starts a method invocation, SetData of item holds the parameters.
func (s *Session) Action(item *DlmsRequestItem) ([]byte, error) {
	if err := s.begin(base.TagActionRequest, []*DlmsRequestItem{item}, RawDecoder{}); err != nil {
		return nil, err
	}
	return s.wrapped(EncodeActionRequest(s.invoke, item))
}

func (s *Session) wrapped(apdu []byte) ([]byte, error) {
	out, err := s.Wrap(apdu)
	if err != nil {
		s.end()
		return nil, err
	}
	return out, nil
}

func (s *Session) checkinvoke(id byte) error {
	if id&0x0f != s.invoke&0x0f {
		return fmt.Errorf("unexpected invoke id %d, expected %d: %w", id&0x0f, s.invoke&0x0f, base.ErrSequence)
	}
	return nil
}

// Feed processes a response of the transaction in progress. It returns the next request when more
// blocks are expected, done when results were stored into the targets. Neither next nor done means
// the peer streams general block transfer blocks and the next one has to be read without sending
// anything. Any error ends the transaction.
func (s *Session) Feed(pdu []byte) (next []byte, done bool, err error) {
	if s.tx == nil {
		return nil, false, fmt.Errorf("no transaction in progress: %w", base.ErrState)
	}
	next, done, err = s.feed(pdu)
	if err != nil || done {
		s.end()
	}
	return
}

func (s *Session) feed(pdu []byte) (next []byte, done bool, err error) {
	if len(pdu) != 0 && base.CosemTag(pdu[0]) == base.TagGeneralBlockTransfer {
		return s.feedgbt(pdu)
	}
	apdu, err := s.Unwrap(pdu)
	if err != nil {
		return nil, false, err
	}
	if len(apdu) == 0 {
		return nil, false, fmt.Errorf("empty apdu: %w", base.ErrFormat)
	}
	tag := base.CosemTag(apdu[0])
	if tag == base.TagExceptionResponse {
		ex, err := DecodeExceptionResponse(apdu)
		if err != nil {
			return nil, false, err
		}
		return nil, false, ex
	}
	expect := map[base.CosemTag]base.CosemTag{
		base.TagGetRequest:    base.TagGetResponse,
		base.TagSetRequest:    base.TagSetResponse,
		base.TagActionRequest: base.TagActionResponse,
	}[s.tx.Command]
	if tag != expect {
		return nil, false, fmt.Errorf("unexpected response tag 0x%02x for %v: %w", apdu[0], s.tx.Command, base.ErrFormat)
	}
	switch tag {
	case base.TagGetResponse:
		return s.feedget(apdu)
	case base.TagSetResponse:
		return s.feedset(apdu)
	default:
		return s.feedaction(apdu)
	}
}

// feedgbt collects general block transfer blocks, the reassembled apdu is then processed as if it
// was received whole. Acknowledgements are never ciphered, the carried apdu is.
func (s *Session) feedgbt(pdu []byte) ([]byte, bool, error) {
	if s.ns.Conformance&base.ConformanceBlockGeneralBlockTransfer == 0 {
		return nil, false, fmt.Errorf("general block transfer not negotiated: %w", base.ErrFormat)
	}
	if s.gbt == nil {
		s.gbt = NewGBTReceiver(s.gbtwindow, 0)
	}
	ack, done, err := s.gbt.Feed(pdu)
	if err != nil {
		return nil, false, err
	}
	if !done {
		return ack, false, nil
	}
	apdu := s.gbt.Data()
	s.gbt = nil
	s.dlogf("general block transfer complete, %d bytes", len(apdu))
	if len(apdu) != 0 && base.CosemTag(apdu[0]) == base.TagGeneralBlockTransfer {
		return nil, false, fmt.Errorf("nested general block transfer: %w", base.ErrFormat)
	}
	return s.feed(apdu)
}

func (s *Session) setall(r base.DlmsResultTag) {
	for _, t := range s.tx.Targets {
		t.Result = r
	}
}

func (s *Session) feedget(apdu []byte) ([]byte, bool, error) {
	r, err := DecodeGetResponse(apdu)
	if err != nil {
		return nil, false, err
	}
	if err = s.checkinvoke(r.InvokeId); err != nil {
		return nil, false, err
	}
	targets := s.tx.Targets
	switch r.Type {
	case TagGetResponseNormal:
		if len(targets) != 1 {
			return nil, false, fmt.Errorf("expecting list response: %w", base.ErrFormat)
		}
		targets[0].Result = r.Single.Result
		targets[0].Value = append([]byte(nil), r.Single.Data...)
		return nil, true, nil
	case TagGetResponseWithList:
		if len(r.List) != len(targets) {
			return nil, false, fmt.Errorf("different amount of data received, expected %d got %d: %w", len(targets), len(r.List), base.ErrFormat)
		}
		for i, d := range r.List {
			targets[i].Result = d.Result
			targets[i].Value = append([]byte(nil), d.Data...)
		}
		return nil, true, nil
	}

	if r.Block.Result != base.TagResultSuccess {
		s.setall(r.Block.Result)
		return nil, true, nil
	}
	if err = s.tx.Append(r.Block.BlockNumber, r.Block.Last, r.Block.Raw); err != nil {
		return nil, false, err
	}
	if r.Block.Last {
		s.dlogf("get transaction complete, %d blocks, %d bytes", s.tx.BlockIndex, s.tx.Len())
		return nil, true, s.tx.Deliver(s.dec)
	}
	next, err := s.Wrap(EncodeGetRequestNext(s.invoke, r.Block.BlockNumber))
	return next, false, err
}

func (s *Session) feedset(apdu []byte) ([]byte, bool, error) {
	r, err := DecodeSetResponse(apdu)
	if err != nil {
		return nil, false, err
	}
	if err = s.checkinvoke(r.InvokeId); err != nil {
		return nil, false, err
	}
	switch r.Type {
	case TagSetResponseNormal:
		s.setall(r.Result)
		return nil, true, nil
	case TagSetResponseDataBlock:
		// acknowledged blocks are counted in the transaction, the data itself stays with the caller
		if err = s.tx.Append(r.BlockNumber, false, nil); err != nil {
			return nil, false, err
		}
		if len(s.pending) == 0 {
			return nil, false, fmt.Errorf("block %d acknowledged after the last one: %w", r.BlockNumber, base.ErrSequence)
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		out, err := s.Wrap(next)
		return out, false, err
	case TagSetResponseLastDataBlock:
		if err = s.tx.Append(r.BlockNumber, true, nil); err != nil {
			return nil, false, err
		}
		if len(s.pending) != 0 {
			return nil, false, fmt.Errorf("last block %d acknowledged with %d blocks unsent: %w", r.BlockNumber, len(s.pending), base.ErrSequence)
		}
		s.setall(r.Result)
		return nil, true, nil
	}
	return nil, false, fmt.Errorf("unexpected set response type %d: %w", r.Type, base.ErrFormat)
}

func (s *Session) feedaction(apdu []byte) ([]byte, bool, error) {
	r, err := DecodeActionResponse(apdu)
	if err != nil {
		return nil, false, err
	}
	if err = s.checkinvoke(r.InvokeId); err != nil {
		return nil, false, err
	}
	target := s.tx.Targets[0]
	if r.Type == TagActionResponseNormal {
		target.Result = r.Result
		if r.Return != nil {
			if r.Return.Result != base.TagResultSuccess {
				target.Result = r.Return.Result
			}
			target.Value = append([]byte(nil), r.Return.Data...)
		}
		return nil, true, nil
	}
	if err = s.tx.Append(r.Block.BlockNumber, r.Block.Last, r.Block.Raw); err != nil {
		return nil, false, err
	}
	if r.Block.Last {
		return nil, true, s.tx.Deliver(s.dec)
	}
	next, err := s.Wrap(EncodeActionRequestNext(s.invoke, r.Block.BlockNumber))
	return next, false, err
}
