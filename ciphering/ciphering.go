// Package ciphering implements DLMS global key ciphering of APDUs and the high level
// security authentication mechanisms.
package ciphering

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"math/big"
	"slices"

	"github.com/cybroslabs/dlmscore-go/base"
	"github.com/cybroslabs/dlmscore-go/gcm"
)

const (
	MinChallengeLength = 8
	MaxChallengeLength = 64
)

type Settings struct {
	SystemTitle       []byte
	BlockCipherKey    []byte
	AuthenticationKey []byte
	Suite             base.SecuritySuite
	Security          base.DlmsSecurity
	Policy            base.SecurityPolicy
	FrameCounter      uint32

	Authentication  base.Authentication
	Password        []byte
	PrivateKey      *ecdsa.PrivateKey
	PeerCertificate *x509.Certificate // could be returned during AARE

	UseNist bool // crypto/cipher AES-GCM instead of the table implementation
}

func (s *Settings) keylength() int {
	if s.Suite == base.SecuritySuite2 {
		return 32
	}
	return 16
}

func curvebits(suite base.SecuritySuite) int {
	if suite == base.SecuritySuite2 {
		return 384
	}
	return 256
}

func (s *Settings) Validate() error {
	if len(s.SystemTitle) != base.SystemTitleLength {
		return fmt.Errorf("systitle has to be 8 bytes long: %w", base.ErrConfiguration)
	}
	if s.Suite > base.SecuritySuite2 {
		return fmt.Errorf("unknown security suite %d: %w", s.Suite, base.ErrConfiguration)
	}
	if s.BlockCipherKey != nil && len(s.BlockCipherKey) != s.keylength() {
		return fmt.Errorf("EK has to be %d bytes long: %w", s.keylength(), base.ErrConfiguration)
	}
	if s.AuthenticationKey != nil && len(s.AuthenticationKey) != s.keylength() {
		return fmt.Errorf("AK has to be %d bytes long: %w", s.keylength(), base.ErrConfiguration)
	}
	switch s.Security {
	case base.SecurityNone:
	case base.SecurityEncryption:
		if s.BlockCipherKey == nil {
			return fmt.Errorf("security %v requires encryption key: %w", s.Security, base.ErrConfiguration)
		}
	case base.SecurityAuthentication, base.SecurityAuthenticationEncryption:
		if s.BlockCipherKey == nil || s.AuthenticationKey == nil {
			return fmt.Errorf("security %v requires both keys: %w", s.Security, base.ErrConfiguration)
		}
	default:
		return fmt.Errorf("invalid security %v: %w", s.Security, base.ErrConfiguration)
	}

	if s.PrivateKey != nil && s.PrivateKey.Curve.Params().BitSize != curvebits(s.Suite) {
		return fmt.Errorf("private key is not ecdsa with %d bit curve: %w", curvebits(s.Suite), base.ErrConfiguration)
	}
	if s.PeerCertificate != nil {
		pub, ok := s.PeerCertificate.PublicKey.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("peer certificate public key is not ecdsa: %w", base.ErrConfiguration)
		}
		if pub.Curve.Params().BitSize != curvebits(s.Suite) {
			return fmt.Errorf("peer certificate public key is not ecdsa with %d bit curve: %w", curvebits(s.Suite), base.ErrConfiguration)
		}
	}

	switch s.Authentication {
	case base.AuthenticationNone, base.AuthenticationLow, base.AuthenticationHighMD5, base.AuthenticationHighSHA1:
	case base.AuthenticationHigh:
		return fmt.Errorf("high authentication not implemented, this is manufacturer specific mostly: %w", base.ErrConfiguration)
	case base.AuthenticationHighGmac:
		if s.BlockCipherKey == nil || s.AuthenticationKey == nil {
			return fmt.Errorf("authentication mechanism %v requires both keys: %w", s.Authentication, base.ErrConfiguration)
		}
	case base.AuthenticationHighSha256:
		if s.Password == nil {
			return fmt.Errorf("authentication mechanism %v requires secret: %w", s.Authentication, base.ErrConfiguration)
		}
	case base.AuthenticationHighEcdsa:
		if s.PrivateKey == nil {
			return fmt.Errorf("authentication mechanism %v requires private key: %w", s.Authentication, base.ErrConfiguration)
		}
	default:
		return fmt.Errorf("invalid authentication mechanism %v: %w", s.Authentication, base.ErrConfiguration)
	}
	return nil
}

// NewContext validates the settings and creates a ciphering context with keys set.
func (s *Settings) NewContext() (*Context, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	c, err := NewContext(s.SystemTitle, s.Suite)
	if err != nil {
		return nil, err
	}
	if s.UseNist {
		c.SetFactory(gcm.NewNist)
	}
	if s.BlockCipherKey != nil {
		if err = c.SetBlockCipherKey(s.BlockCipherKey); err != nil {
			return nil, err
		}
	}
	if s.AuthenticationKey != nil {
		if err = c.SetAuthenticationKey(s.AuthenticationKey); err != nil {
			return nil, err
		}
	}
	if s.Security != base.SecurityNone {
		if err = c.SetSecurity(s.Security); err != nil {
			return nil, err
		}
	}
	c.SetPolicy(s.Policy)
	c.SetFrameCounter(s.FrameCounter)
	return c, nil
}

// NewChallenge returns a random challenge for HLS.
func NewChallenge(n int) ([]byte, error) {
	if n < MinChallengeLength || n > MaxChallengeLength {
		return nil, fmt.Errorf("challenge length %d out of range: %w", n, base.ErrConfiguration)
	}
	ch := make([]byte, n)
	if _, err := rand.Read(ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// Authenticator computes and checks the HLS pass 3/4 responses of one association.
// Respond proves the local side knows the secret by processing the peer challenge,
// Verify checks the peer proof computed over the local challenge.
type Authenticator struct {
	mechanism base.Authentication
	password  []byte
	ctx       *Context
	own       []byte
	peer      []byte

	privateKey *ecdsa.PrivateKey
	peerKey    *ecdsa.PublicKey
}

// NewAuthenticator binds the mechanism from settings to the ciphering context holding titles and keys.
func NewAuthenticator(s *Settings, ctx *Context) (*Authenticator, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	a := &Authenticator{
		mechanism:  s.Authentication,
		password:   slices.Clone(s.Password),
		ctx:        ctx,
		privateKey: s.PrivateKey,
	}
	if s.PeerCertificate != nil {
		a.peerKey = s.PeerCertificate.PublicKey.(*ecdsa.PublicKey)
	}
	switch a.mechanism {
	case base.AuthenticationHighGmac, base.AuthenticationHighSha256, base.AuthenticationHighEcdsa:
		if ctx == nil {
			return nil, fmt.Errorf("authentication mechanism %v requires ciphering context: %w", a.mechanism, base.ErrConfiguration)
		}
	}
	return a, nil
}

func (a *Authenticator) Mechanism() base.Authentication {
	return a.mechanism
}

// SetChallenges sets the local challenge (sent by us) and the peer one (received).
func (a *Authenticator) SetChallenges(own []byte, peer []byte) {
	a.own = slices.Clone(own)
	a.peer = slices.Clone(peer)
}

// SetPeerKey sets the key verifying ECDSA responses, usually taken from the peer certificate.
func (a *Authenticator) SetPeerKey(key *ecdsa.PublicKey) {
	a.peerKey = key
}

func (a *Authenticator) titles() (own []byte, peer []byte, err error) {
	own = a.ctx.SystemTitle()
	peer = a.ctx.PeerTitle()
	if peer == nil {
		return nil, nil, fmt.Errorf("peer system title not set: %w", base.ErrConfiguration)
	}
	return
}

// Respond computes f(peer challenge).
func (a *Authenticator) Respond() ([]byte, error) {
	var hashbuf bytes.Buffer
	switch a.mechanism {
	case base.AuthenticationLow:
		return slices.Clone(a.password), nil
	case base.AuthenticationHighMD5:
		hashbuf.Write(a.peer)
		hashbuf.Write(a.password)
		h := md5.Sum(hashbuf.Bytes())
		return h[:], nil
	case base.AuthenticationHighSHA1:
		hashbuf.Write(a.peer)
		hashbuf.Write(a.password)
		h := sha1.Sum(hashbuf.Bytes())
		return h[:], nil
	case base.AuthenticationHighGmac:
		return a.ctx.GMAC(a.peer)
	case base.AuthenticationHighSha256:
		own, peer, err := a.titles()
		if err != nil {
			return nil, err
		}
		hashbuf.Write(a.password)
		hashbuf.Write(own)
		hashbuf.Write(peer)
		hashbuf.Write(a.peer)
		hashbuf.Write(a.own)
		h := sha256.Sum256(hashbuf.Bytes())
		return h[:], nil
	case base.AuthenticationHighEcdsa:
		if a.privateKey == nil {
			return nil, fmt.Errorf("ecdsa private key not set, this is required for ecdsa authentication: %w", base.ErrConfiguration)
		}
		own, peer, err := a.titles()
		if err != nil {
			return nil, err
		}
		hashbuf.Write(own)
		hashbuf.Write(peer)
		hashbuf.Write(a.peer)
		hashbuf.Write(a.own)
		size := (a.privateKey.Curve.Params().BitSize + 7) / 8
		r, s, err := ecdsa.Sign(rand.Reader, a.privateKey, ecdsadigest(size, hashbuf.Bytes()))
		if err != nil {
			return nil, fmt.Errorf("unable to sign with ecdsa: %w", err)
		}
		sig := make([]byte, 2*size)
		r.FillBytes(sig[:size])
		s.FillBytes(sig[size:])
		return sig, nil
	}
	return nil, fmt.Errorf("unsupported authentication mechanism %v: %w", a.mechanism, base.ErrConfiguration)
}

func ecdsadigest(size int, data []byte) []byte {
	if size > 32 {
		h := sha512.Sum384(data)
		return h[:]
	}
	h := sha256.Sum256(data)
	return h[:]
}

func equal(a []byte, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Verify checks the peer response to the local challenge, failure is ErrTagMismatch.
func (a *Authenticator) Verify(resp []byte) error {
	var hashbuf bytes.Buffer
	var ok bool
	switch a.mechanism {
	case base.AuthenticationLow:
		ok = equal(resp, a.password)
	case base.AuthenticationHighMD5:
		hashbuf.Write(a.own)
		hashbuf.Write(a.password)
		h := md5.Sum(hashbuf.Bytes())
		ok = equal(resp, h[:])
	case base.AuthenticationHighSHA1:
		hashbuf.Write(a.own)
		hashbuf.Write(a.password)
		h := sha1.Sum(hashbuf.Bytes())
		ok = equal(resp, h[:])
	case base.AuthenticationHighGmac:
		return a.ctx.VerifyGMAC(a.own, resp)
	case base.AuthenticationHighSha256:
		own, peer, err := a.titles()
		if err != nil {
			return err
		}
		hashbuf.Write(a.password)
		hashbuf.Write(peer)
		hashbuf.Write(own)
		hashbuf.Write(a.own)
		hashbuf.Write(a.peer)
		h := sha256.Sum256(hashbuf.Bytes())
		ok = equal(resp, h[:])
	case base.AuthenticationHighEcdsa:
		if a.peerKey == nil {
			return fmt.Errorf("ecdsa peer key not set, this is required for ecdsa authentication: %w", base.ErrConfiguration)
		}
		size := (a.peerKey.Curve.Params().BitSize + 7) / 8
		if len(resp) != 2*size {
			return fmt.Errorf("invalid ecdsa authmech response length %d: %w", len(resp), base.ErrFormat)
		}
		own, peer, err := a.titles()
		if err != nil {
			return err
		}
		hashbuf.Write(peer)
		hashbuf.Write(own)
		hashbuf.Write(a.own)
		hashbuf.Write(a.peer)
		var r, s big.Int
		r.SetBytes(resp[:size])
		s.SetBytes(resp[size:])
		ok = ecdsa.Verify(a.peerKey, ecdsadigest(size, hashbuf.Bytes()), &r, &s)
	default:
		return fmt.Errorf("unsupported authentication mechanism %v: %w", a.mechanism, base.ErrConfiguration)
	}
	if !ok {
		return fmt.Errorf("hls %v response: %w", a.mechanism, base.ErrTagMismatch)
	}
	return nil
}

// GMAC computes the HLS GMAC response SC || FC || GMAC(SC || AK || challenge), consuming a frame counter.
func (c *Context) GMAC(challenge []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fc, err := c.nextfc()
	if err != nil {
		return nil, err
	}
	tag, err := c.sealfc(0, base.SecurityAuthentication, fc, challenge, ShapeTagOnly)
	if err != nil {
		return nil, err
	}
	ret := make([]byte, 1+base.FrameCounterLen, 1+base.FrameCounterLen+len(tag))
	ret[0] = byte(base.SecurityAuthentication) | byte(c.suite)
	binary.BigEndian.PutUint32(ret[1:], fc)
	return append(ret, tag...), nil
}

// VerifyGMAC checks a GMAC response from the peer over challenge.
func (c *Context) VerifyGMAC(challenge []byte, resp []byte) error {
	if len(resp) != 1+base.FrameCounterLen+base.GcmTagLength || base.DlmsSecurity(resp[0]&0x30) != base.SecurityAuthentication {
		return fmt.Errorf("invalid gmac response: %w", base.ErrFormat)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkkeys(base.SecurityAuthentication); err != nil {
		return err
	}
	if c.peertitle == nil {
		return fmt.Errorf("peer system title not set: %w", base.ErrConfiguration)
	}
	fc := binary.BigEndian.Uint32(resp[1:])
	exp, err := c.aead.Tag(Nonce(c.peertitle, fc), AAD(resp[0], c.ak, challenge))
	if err != nil {
		return err
	}
	if !equal(exp, resp[1+base.FrameCounterLen:]) {
		return fmt.Errorf("gmac response: %w", base.ErrTagMismatch)
	}
	return nil
}
