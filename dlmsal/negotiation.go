package dlmsal

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cybroslabs/dlmscore-go/base"
	"github.com/cybroslabs/dlmscore-go/ciphering"
	"go.uber.org/zap"
	"k8s.io/utils/ptr"
)

// NegotiationState is the outcome of an association, frozen once the association is established.
type NegotiationState struct {
	UseLN             bool
	Conformance       uint32
	DlmsVersion       byte
	MaxReceivePduSize uint16 // peer receive limit, the largest APDU that may be sent
	CtoS              []byte
	StoC              []byte
	Ciphered          bool
	PeerTitle         []byte
	VAA               uint16
	Negotiated        bool

	frozen bool
}

// Update applies f unless the state is frozen.
func (s *NegotiationState) Update(f func(s *NegotiationState)) error {
	if s.frozen {
		return fmt.Errorf("negotiation state is frozen: %w", base.ErrState)
	}
	f(s)
	return nil
}

func (s *NegotiationState) Freeze() {
	s.frozen = true
}

func (s *NegotiationState) Frozen() bool {
	return s.frozen
}

type NegotiatorState byte

const (
	StateIdle NegotiatorState = iota
	StateContextNameSent
	StateUserInformationSent
	StateNegotiating
	StateEstablished
	StateContextNameReceived
	StateInitiateParsed
)

var negotiatorstates = [...]string{"idle", "context-name-sent", "user-information-sent", "negotiating", "established", "context-name-received", "initiate-parsed"}

func (s NegotiatorState) String() string {
	if int(s) < len(negotiatorstates) {
		return negotiatorstates[s]
	}
	return fmt.Sprintf("state(%d)", byte(s))
}

// Negotiator runs one side of the association establishment. It is not safe for concurrent use.
type Negotiator struct {
	client *DlmsSettings
	server *ServerSettings
	cipher *ciphering.Context
	auth   *ciphering.Authenticator
	logger *zap.SugaredLogger

	state      NegotiatorState
	ns         NegotiationState
	hlspending bool

	// server side, pending answer
	result       base.AssociationResult
	diagnostic   base.SourceDiagnostic
	serviceerror *ConfirmedServiceError
}

// NewClientNegotiator creates the client side negotiator.
func NewClientNegotiator(s *DlmsSettings) (*Negotiator, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Negotiator{client: s, cipher: s.cipher, auth: s.auth}, nil
}

// NewServerNegotiator creates the server side negotiator.
func NewServerNegotiator(s *ServerSettings) (*Negotiator, error) {
	if s.ApplicationContext.IsCiphered() && s.cipher == nil {
		return nil, fmt.Errorf("ciphered application context without ciphering: %w", base.ErrConfiguration)
	}
	return &Negotiator{server: s, cipher: s.cipher, auth: s.auth}, nil
}

func (n *Negotiator) SetLogger(logger *zap.SugaredLogger) {
	n.logger = logger
}

func (n *Negotiator) logf(format string, v ...any) {
	if n.logger != nil {
		n.logger.Infof(format, v...)
	}
}

func (n *Negotiator) dlogf(format string, v ...any) {
	if n.logger != nil {
		n.logger.Debugf(format, v...)
	}
}

func (n *Negotiator) State() NegotiatorState {
	return n.state
}

// Negotiation returns a copy of the negotiated state.
func (n *Negotiator) Negotiation() NegotiationState {
	r := n.ns
	r.CtoS = slices.Clone(n.ns.CtoS)
	r.StoC = slices.Clone(n.ns.StoC)
	r.PeerTitle = slices.Clone(n.ns.PeerTitle)
	return r
}

// HLSPending reports that the association waits for the pass 3/4 exchange.
func (n *Negotiator) HLSPending() bool {
	return n.hlspending
}

// Reset drops everything negotiated and returns to idle.
func (n *Negotiator) Reset() {
	n.state = StateIdle
	n.ns = NegotiationState{}
	n.hlspending = false
	n.result = base.AssociationResultAccepted
	n.diagnostic = base.SourceDiagnosticNone
	n.serviceerror = nil
}

func (n *Negotiator) expect(side bool, states ...NegotiatorState) error {
	if !side {
		return fmt.Errorf("operation not available on this side: %w", base.ErrState)
	}
	if !slices.Contains(states, n.state) {
		return fmt.Errorf("unexpected negotiator state %v: %w", n.state, base.ErrState)
	}
	return nil
}

func (n *Negotiator) fail(err error) error {
	n.logf("association failed in state %v: %v", n.state, err)
	n.Reset()
	return err
}

func (n *Negotiator) establish() {
	n.state = StateEstablished
	n.ns.Freeze()
}

// BuildAARQ encodes the association request. The second result has secrets cleared for logging.
func (n *Negotiator) BuildAARQ() (out []byte, outnosec []byte, err error) {
	if err = n.expect(n.client != nil, StateIdle); err != nil {
		return
	}
	s := n.client
	if _, err = ContextOID(s.ApplicationContext); err != nil {
		return nil, nil, n.fail(err)
	}
	n.state = StateContextNameSent

	req := &AARQ{
		ApplicationContext: s.ApplicationContext,
		UserId:             s.UserId,
		Mechanism:          s.AuthenticationMechanismId,
		Initiate: &InitiateRequest{
			DedicatedKey:             s.dedicatedkey,
			ResponseAllowed:          true,
			ProposedQualityOfService: s.QualityOfService,
			DlmsVersion:              base.DlmsVersion,
			Conformance:              s.ConformanceBlock,
			MaxReceivePduSize:        s.maxpdu(),
		},
	}
	if s.cipher != nil {
		req.CallingTitle = s.cipher.SystemTitle()
	}
	switch s.AuthenticationMechanismId {
	case base.AuthenticationNone:
	case base.AuthenticationLow:
		req.AuthenticationValue = s.password
	default:
		ctos, err := ciphering.NewChallenge(s.challengelength())
		if err != nil {
			return nil, nil, n.fail(err)
		}
		req.AuthenticationValue = ctos
		n.ns.CtoS = ctos
	}

	out, outnosec, err = EncodeAARQ(req, s.cipher)
	if err != nil {
		return nil, nil, n.fail(err)
	}
	n.state = StateUserInformationSent
	if s.ShowSecuredValues {
		n.dlogf(base.LogHex("AARQ", out))
	} else {
		n.dlogf(base.LogHex("AARQ (sec values zeroed)", outnosec))
	}
	return
}

// HandleAARE processes the association response. Without high level security the association is
// established, otherwise it stays negotiating until CompleteHLS.
func (n *Negotiator) HandleAARE(src []byte) error {
	if err := n.expect(n.client != nil, StateUserInformationSent); err != nil {
		return err
	}
	n.state = StateNegotiating
	s := n.client
	n.dlogf(base.LogHex("AARE", src))

	aare, err := DecodeAARE(src, s.cipher)
	if err != nil {
		return n.fail(err)
	}
	if aare.Result != base.AssociationResultAccepted || aare.ServiceError != nil {
		return n.fail(&AssociationError{Result: aare.Result, Diagnostic: aare.Diagnostic, ServiceError: aare.ServiceError})
	}
	switch aare.Diagnostic {
	case base.SourceDiagnosticNone, base.SourceDiagnosticAuthenticationRequired:
	default:
		return n.fail(&AssociationError{Result: aare.Result, Diagnostic: aare.Diagnostic})
	}
	if aare.ApplicationContext != s.ApplicationContext {
		return n.fail(fmt.Errorf("application contexts differ, %d != %d: %w", aare.ApplicationContext, s.ApplicationContext, base.ErrUnsupportedContext))
	}
	if aare.Initiate == nil {
		return n.fail(fmt.Errorf("no initiate response in aare: %w", base.ErrFormat))
	}
	if s.ApplicationContext.IsCiphered() && aare.RespondingTitle == nil {
		return n.fail(fmt.Errorf("ciphered association without responding ap title: %w", base.ErrFormat))
	}

	hls := s.AuthenticationMechanismId > base.AuthenticationLow
	if hls {
		if len(aare.AuthenticationValue) == 0 {
			return n.fail(fmt.Errorf("no stoc challenge in aare: %w", base.ErrFormat))
		}
		n.auth.SetChallenges(n.ns.CtoS, aare.AuthenticationValue)
	}
	ir := aare.Initiate
	err = n.ns.Update(func(ns *NegotiationState) {
		ns.UseLN = aare.ApplicationContext.IsLN()
		ns.Conformance = ir.Conformance
		ns.DlmsVersion = ir.DlmsVersion
		ns.MaxReceivePduSize = ir.MaxReceivePduSize
		ns.VAA = ir.VAA
		ns.StoC = slices.Clone(aare.AuthenticationValue)
		ns.Ciphered = aare.ApplicationContext.IsCiphered()
		ns.PeerTitle = aare.RespondingTitle
		ns.Negotiated = true
	})
	if err != nil {
		return n.fail(err)
	}
	n.logf("association accepted, max pdu %d, conformance %06x, vaa 0x%04x, qos %d", ir.MaxReceivePduSize, ir.Conformance, ir.VAA, ptr.Deref(ir.NegotiatedQualityOfService, 0))
	if hls {
		n.hlspending = true
		return nil
	}
	n.establish()
	return nil
}

// HLSResponse computes the pass 3 proof over StoC sent by the client.
func (n *Negotiator) HLSResponse() ([]byte, error) {
	if err := n.expect(n.client != nil, StateNegotiating); err != nil {
		return nil, err
	}
	if !n.hlspending {
		return nil, fmt.Errorf("no high level security pending: %w", base.ErrState)
	}
	r, err := n.auth.Respond()
	if err != nil {
		return nil, n.fail(err)
	}
	return r, nil
}

// CompleteHLS checks the pass 4 proof over CtoS returned by the server and establishes the association.
func (n *Negotiator) CompleteHLS(resp []byte) error {
	if err := n.expect(n.client != nil, StateNegotiating); err != nil {
		return err
	}
	if !n.hlspending {
		return fmt.Errorf("no high level security pending: %w", base.ErrState)
	}
	if err := n.auth.Verify(resp); err != nil {
		return n.fail(err)
	}
	n.hlspending = false
	n.establish()
	return nil
}

func (n *Negotiator) reject(result base.AssociationResult, diag base.SourceDiagnostic) {
	n.result = result
	n.diagnostic = diag
}

func (n *Negotiator) rejected() bool {
	return n.result != base.AssociationResultAccepted || n.serviceerror != nil
}

func initiateerror(v byte) *ConfirmedServiceError {
	return &ConfirmedServiceError{ConfirmedServiceError: TagErrInitiateError, ServiceError: TagErrInitiate, Value: v}
}

// HandleAARQ processes an association request on the server side. Malformed requests are errors,
// refused ones are answered by BuildAARE with a rejecting response.
func (n *Negotiator) HandleAARQ(src []byte) error {
	if err := n.expect(n.server != nil, StateIdle); err != nil {
		return err
	}
	s := n.server
	n.Reset()
	n.dlogf(base.LogHex("AARQ", src))

	aarq, err := DecodeAARQ(src, n.cipher)
	var cie *CipheredInitiateError
	switch {
	case errors.Is(err, base.ErrUnsupportedContext):
		n.state = StateContextNameReceived
		n.reject(base.AssociationResultPermanentRejected, base.SourceDiagnosticApplicationContextNameNotSupported)
		return nil
	case errors.Is(err, base.ErrUnsupportedVersion):
		n.state = StateContextNameReceived
		n.serviceerror = initiateerror(InitiateErrorDlmsVersionTooLow)
		n.reject(base.AssociationResultPermanentRejected, base.SourceDiagnosticNoReasonGiven)
		return nil
	case errors.As(err, &cie):
		n.logf("refusing aarq: %v", err)
		n.state = StateContextNameReceived
		n.reject(base.AssociationResultPermanentRejected, base.SourceDiagnosticAuthenticationFailure)
		return nil
	case err != nil:
		return n.fail(err)
	}
	n.state = StateContextNameReceived
	if aarq.ApplicationContext != s.ApplicationContext {
		n.reject(base.AssociationResultPermanentRejected, base.SourceDiagnosticApplicationContextNameNotSupported)
		return nil
	}

	switch {
	case aarq.Mechanism == base.AuthenticationNone && s.AuthenticationMechanismId != base.AuthenticationNone:
		n.reject(base.AssociationResultPermanentRejected, base.SourceDiagnosticAuthenticationRequired)
		return nil
	case aarq.Mechanism != s.AuthenticationMechanismId:
		n.reject(base.AssociationResultPermanentRejected, base.SourceDiagnosticAuthenticationMechanismNameNotRecognized)
		return nil
	case aarq.Mechanism == base.AuthenticationLow:
		if n.auth.Verify(aarq.AuthenticationValue) != nil {
			n.reject(base.AssociationResultPermanentRejected, base.SourceDiagnosticAuthenticationFailure)
			return nil
		}
	case aarq.Mechanism > base.AuthenticationLow:
		l := len(aarq.AuthenticationValue)
		if l < ciphering.MinChallengeLength || l > ciphering.MaxChallengeLength {
			n.reject(base.AssociationResultPermanentRejected, base.SourceDiagnosticAuthenticationFailure)
			return nil
		}
	}

	ir := aarq.Initiate
	conformance := ir.Conformance & s.ConformanceBlock
	switch {
	case conformance == 0:
		n.serviceerror = initiateerror(InitiateErrorIncompatibleConformace)
	case ir.MaxReceivePduSize != 0 && ir.MaxReceivePduSize < minMaxPduRecvSize:
		n.serviceerror = initiateerror(InitiateErrorPduSizeTooShort)
	}
	if n.serviceerror != nil {
		n.reject(base.AssociationResultPermanentRejected, base.SourceDiagnosticNoReasonGiven)
		return nil
	}

	err = n.ns.Update(func(ns *NegotiationState) {
		ns.UseLN = aarq.ApplicationContext.IsLN()
		ns.Conformance = conformance
		ns.DlmsVersion = ir.DlmsVersion
		ns.MaxReceivePduSize = ir.MaxReceivePduSize
		if ns.MaxReceivePduSize == 0 { // no limit
			ns.MaxReceivePduSize = defaultMaxPduRecvSize
		}
		ns.Ciphered = aarq.ApplicationContext.IsCiphered()
		ns.PeerTitle = aarq.CallingTitle
		ns.VAA = expectedvaa(ns.UseLN)
		if aarq.Mechanism > base.AuthenticationLow {
			ns.CtoS = aarq.AuthenticationValue
		}
	})
	if err != nil {
		return n.fail(err)
	}
	n.state = StateInitiateParsed
	return nil
}

// BuildAARE encodes the answer to the last request. A rejecting answer returns the negotiator to idle,
// an accepting one establishes the association, with high level security still pending when used.
func (n *Negotiator) BuildAARE() ([]byte, error) {
	if err := n.expect(n.server != nil, StateContextNameReceived, StateInitiateParsed); err != nil {
		return nil, err
	}
	s := n.server
	resp := &AARE{ApplicationContext: s.ApplicationContext}
	if n.cipher != nil && s.ApplicationContext.IsCiphered() {
		resp.RespondingTitle = n.cipher.SystemTitle()
	}

	if n.rejected() || n.state != StateInitiateParsed {
		resp.Result = n.result
		if resp.Result == base.AssociationResultAccepted {
			resp.Result = base.AssociationResultPermanentRejected
		}
		resp.Diagnostic = n.diagnostic
		resp.ServiceError = n.serviceerror
		out, err := EncodeAARE(resp, n.cipher)
		n.logf("association rejected, %v diagnostic %d", resp.Result, resp.Diagnostic)
		n.Reset()
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	resp.Result = base.AssociationResultAccepted
	resp.Mechanism = s.AuthenticationMechanismId
	hls := s.AuthenticationMechanismId > base.AuthenticationLow
	if hls {
		stoc, err := ciphering.NewChallenge(s.ChallengeLength)
		if err != nil {
			return nil, n.fail(err)
		}
		resp.Diagnostic = base.SourceDiagnosticAuthenticationRequired
		resp.AuthenticationValue = stoc
		n.ns.StoC = stoc
		n.auth.SetChallenges(stoc, n.ns.CtoS)
	}
	resp.Initiate = &InitiateResponse{
		NegotiatedQualityOfService: s.QualityOfService,
		DlmsVersion:                base.DlmsVersion,
		Conformance:                n.ns.Conformance,
		MaxReceivePduSize:          s.MaxPduRecvSize,
		VAA:                        n.ns.VAA,
	}
	out, err := EncodeAARE(resp, n.cipher)
	if err != nil {
		return nil, n.fail(err)
	}
	n.ns.Negotiated = true
	n.hlspending = hls
	n.establish()
	return out, nil
}

// VerifyHLS checks the client pass 3 proof over StoC and returns the pass 4 proof over CtoS.
func (n *Negotiator) VerifyHLS(proof []byte) ([]byte, error) {
	if err := n.expect(n.server != nil, StateEstablished); err != nil {
		return nil, err
	}
	if !n.hlspending {
		return nil, fmt.Errorf("no high level security pending: %w", base.ErrState)
	}
	if err := n.auth.Verify(proof); err != nil {
		return nil, n.fail(err)
	}
	resp, err := n.auth.Respond()
	if err != nil {
		return nil, n.fail(err)
	}
	n.hlspending = false
	return resp, nil
}
