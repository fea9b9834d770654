package dlmsal

import (
	"fmt"
	"slices"

	"github.com/cybroslabs/dlmscore-go/base"
	"github.com/cybroslabs/dlmscore-go/ciphering"
	"k8s.io/utils/ptr"
)

const (
	defaultMaxPduRecvSize  = 0xffff
	defaultChallengeLength = 16
	minMaxPduRecvSize      = 12
)

const (
	conformanceLN = base.ConformanceBlockBlockTransferWithGetOrRead | base.ConformanceBlockBlockTransferWithSetOrWrite |
		base.ConformanceBlockBlockTransferWithAction | base.ConformanceBlockAction | base.ConformanceBlockGet | base.ConformanceBlockSet |
		base.ConformanceBlockSelectiveAccess | base.ConformanceBlockMultipleReferences | base.ConformanceBlockAttribute0SupportedWithGet
	conformanceSN = base.ConformanceBlockBlockTransferWithGetOrRead | base.ConformanceBlockBlockTransferWithSetOrWrite |
		base.ConformanceBlockRead | base.ConformanceBlockWrite | base.ConformanceBlockSelectiveAccess | base.ConformanceBlockMultipleReferences
)

// DlmsSettings contains the client side association parameters.
type DlmsSettings struct {
	ApplicationContext        base.ApplicationContext
	AuthenticationMechanismId base.Authentication
	ConformanceBlock          uint32
	MaxPduRecvSize            *uint16 // nil means 0xffff
	QualityOfService          *byte
	UserId                    *byte
	ChallengeLength           int   // CtoS length for high level security, 16 when zero
	GBTWindow                 *byte // general block transfer window, nil means 1
	HighPriority              bool
	ConfirmedRequests         bool
	EmptyRLRQ                 bool
	ShowSecuredValues         bool // force to show secured values in logs, debug purpose only

	password     []byte
	dedicatedkey []byte
	cipher       *ciphering.Context
	auth         *ciphering.Authenticator
}

// SetDedicatedKey sets the key proposed in the initiate request, nil clears it.
func (d *DlmsSettings) SetDedicatedKey(key []byte) {
	d.dedicatedkey = slices.Clone(key)
}

// Cipher returns the ciphering context of ciphered settings, nil otherwise.
func (d *DlmsSettings) Cipher() *ciphering.Context {
	return d.cipher
}

func (d *DlmsSettings) maxpdu() uint16 {
	return ptr.Deref(d.MaxPduRecvSize, defaultMaxPduRecvSize)
}

func (d *DlmsSettings) challengelength() int {
	if d.ChallengeLength == 0 {
		return defaultChallengeLength
	}
	return d.ChallengeLength
}

func (d *DlmsSettings) invokebyte() byte {
	var b byte
	if d.HighPriority {
		b |= 0x80
	}
	if d.ConfirmedRequests {
		b |= 0x40
	}
	return b
}

// Validate checks the settings are usable for an association.
func (d *DlmsSettings) Validate() error {
	if _, err := ContextOID(d.ApplicationContext); err != nil {
		return err
	}
	if d.ApplicationContext.IsCiphered() && d.cipher == nil {
		return fmt.Errorf("ciphered application context without ciphering: %w", base.ErrConfiguration)
	}
	if d.maxpdu() < minMaxPduRecvSize {
		return fmt.Errorf("max receive pdu size %d too small: %w", d.maxpdu(), base.ErrConfiguration)
	}
	if d.ConformanceBlock&^0xffffff != 0 {
		return fmt.Errorf("conformance block has more than 24 bits: %w", base.ErrConfiguration)
	}
	if w := ptr.Deref(d.GBTWindow, 1); w == 0 || w > gbtWindow {
		return fmt.Errorf("gbt window %d out of range: %w", w, base.ErrConfiguration)
	}
	switch d.AuthenticationMechanismId {
	case base.AuthenticationNone:
	case base.AuthenticationLow:
		if len(d.password) == 0 {
			return fmt.Errorf("low authentication without password: %w", base.ErrConfiguration)
		}
	default:
		if d.auth == nil {
			return fmt.Errorf("authentication %d without authenticator: %w", d.AuthenticationMechanismId, base.ErrConfiguration)
		}
		if l := d.challengelength(); l < ciphering.MinChallengeLength || l > ciphering.MaxChallengeLength {
			return fmt.Errorf("challenge length %d: %w", l, base.ErrConfiguration)
		}
	}
	return nil
}

// NewSettingsWithLowAuthenticationSN creates settings for short name referencing with low level security.
func NewSettingsWithLowAuthenticationSN(password string) (*DlmsSettings, error) {
	return &DlmsSettings{
		AuthenticationMechanismId: base.AuthenticationLow,
		ApplicationContext:        base.ApplicationContextSNNoCiphering,
		password:                  []byte(password),
		ConformanceBlock:          conformanceSN,
	}, nil
}

// NewSettingsWithNoAuthenticationSN creates settings for short name referencing without authentication.
func NewSettingsWithNoAuthenticationSN() (*DlmsSettings, error) {
	return &DlmsSettings{
		AuthenticationMechanismId: base.AuthenticationNone,
		ApplicationContext:        base.ApplicationContextSNNoCiphering,
		ConformanceBlock:          conformanceSN,
	}, nil
}

// NewSettingsWithLowAuthenticationLN creates settings for logical name referencing with low level security.
func NewSettingsWithLowAuthenticationLN(password string) (*DlmsSettings, error) {
	return &DlmsSettings{
		AuthenticationMechanismId: base.AuthenticationLow,
		ApplicationContext:        base.ApplicationContextLNNoCiphering,
		password:                  []byte(password),
		HighPriority:              true,
		ConfirmedRequests:         true,
		EmptyRLRQ:                 true,
		ConformanceBlock:          conformanceLN,
	}, nil
}

// NewSettingsWithNoAuthenticationLN creates settings for logical name referencing without authentication.
func NewSettingsWithNoAuthenticationLN() (*DlmsSettings, error) {
	return &DlmsSettings{
		AuthenticationMechanismId: base.AuthenticationNone,
		ApplicationContext:        base.ApplicationContextLNNoCiphering,
		HighPriority:              true,
		ConfirmedRequests:         true,
		EmptyRLRQ:                 true,
		ConformanceBlock:          conformanceLN,
	}, nil
}

// NewSettingsWithCipheringLN creates settings for a ciphered logical name association. The ciphering
// context and the high level security authenticator are built from cs.
func NewSettingsWithCipheringLN(cs *ciphering.Settings) (*DlmsSettings, error) {
	if cs.Security == base.SecurityNone {
		return nil, fmt.Errorf("ciphered association requires security: %w", base.ErrConfiguration)
	}
	c, err := cs.NewContext()
	if err != nil {
		return nil, err
	}
	ret := &DlmsSettings{
		AuthenticationMechanismId: cs.Authentication,
		ApplicationContext:        base.ApplicationContextLNCiphering,
		HighPriority:              true,
		ConfirmedRequests:         true,
		EmptyRLRQ:                 true,
		ConformanceBlock:          conformanceLN | base.ConformanceBlockGeneralProtection,
		password:                  slices.Clone(cs.Password),
		cipher:                    c,
	}
	if cs.Authentication != base.AuthenticationNone {
		if ret.auth, err = ciphering.NewAuthenticator(cs, c); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// ServerSettings are the parameters a server accepts associations with.
type ServerSettings struct {
	ApplicationContext        base.ApplicationContext
	AuthenticationMechanismId base.Authentication
	ConformanceBlock          uint32
	MaxPduRecvSize            uint16
	QualityOfService          *byte
	ChallengeLength           int

	cipher *ciphering.Context
	auth   *ciphering.Authenticator
}

// NewServerSettings creates server settings, cs may be nil for an association without ciphering
// and without high level security.
func NewServerSettings(appctx base.ApplicationContext, conformance uint32, cs *ciphering.Settings) (*ServerSettings, error) {
	if _, err := ContextOID(appctx); err != nil {
		return nil, err
	}
	ret := &ServerSettings{
		ApplicationContext: appctx,
		ConformanceBlock:   conformance & 0xffffff,
		MaxPduRecvSize:     defaultMaxPduRecvSize,
		ChallengeLength:    defaultChallengeLength,
	}
	if cs == nil {
		if appctx.IsCiphered() {
			return nil, fmt.Errorf("ciphered application context without ciphering: %w", base.ErrConfiguration)
		}
		return ret, nil
	}
	ret.AuthenticationMechanismId = cs.Authentication
	var err error
	if appctx.IsCiphered() || cs.Authentication > base.AuthenticationLow {
		if ret.cipher, err = cs.NewContext(); err != nil {
			return nil, err
		}
	}
	if cs.Authentication != base.AuthenticationNone {
		if ret.auth, err = ciphering.NewAuthenticator(cs, ret.cipher); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// Cipher returns the ciphering context, nil without ciphering.
func (s *ServerSettings) Cipher() *ciphering.Context {
	return s.cipher
}
