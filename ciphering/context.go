package ciphering

import (
	"bytes"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/cybroslabs/dlmscore-go/base"
	"github.com/cybroslabs/dlmscore-go/gcm"
	"go.uber.org/zap"
)

// Shape selects which parts of a ciphered APDU are produced.
type Shape byte

const (
	ShapeFullPacket Shape = iota // [cmd][len][sc][fc][data][tag]
	ShapeDataAndTag              // [sc][fc][data][tag]
	ShapeTagOnly                 // [tag]
)

// Decrypted is a deciphered Glo APDU.
type Decrypted struct {
	Command      base.CosemTag
	Security     base.DlmsSecurity
	Suite        base.SecuritySuite
	FrameCounter uint32
	Apdu         []byte
}

// Context holds the ciphering state of one association. Encrypt and Decrypt are serialized.
type Context struct {
	mu sync.Mutex

	systemtitle  []byte
	peertitle    []byte
	ek           []byte
	ak           []byte
	framecounter uint32
	exhausted    bool
	suite        base.SecuritySuite
	policy       base.SecurityPolicy
	security     base.DlmsSecurity

	factory gcm.Factory
	aead    gcm.Aead
	guard   *ReplayGuard
	logger  *zap.SugaredLogger
}

// NewContext creates a context for the local system title, keys are set separately.
func NewContext(systemtitle []byte, suite base.SecuritySuite) (*Context, error) {
	switch suite {
	case base.SecuritySuite0, base.SecuritySuite1, base.SecuritySuite2:
	default:
		return nil, fmt.Errorf("security suite %d: %w", suite, base.ErrConfiguration)
	}
	c := &Context{
		suite:    suite,
		security: base.SecurityAuthenticationEncryption,
		factory:  gcm.New,
	}
	if err := c.SetSystemTitle(systemtitle); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Context) SetLogger(logger *zap.SugaredLogger) {
	c.logger = logger
}

func (c *Context) logf(format string, v ...any) {
	if c.logger != nil {
		c.logger.Infof(format, v...)
	}
}

func (c *Context) dlogf(format string, v ...any) {
	if c.logger != nil {
		c.logger.Debugf(format, v...)
	}
}

func (c *Context) keylength() int {
	if c.suite == base.SecuritySuite2 {
		return 32
	}
	return 16
}

func checktitle(title []byte) error {
	if len(title) != base.SystemTitleLength {
		return fmt.Errorf("system title has to be %d bytes long, got %d: %w", base.SystemTitleLength, len(title), base.ErrConfiguration)
	}
	return nil
}

func (c *Context) SetSystemTitle(title []byte) error {
	if err := checktitle(title); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemtitle = slices.Clone(title)
	return nil
}

// SetPeerTitle sets the system title of the other side, it prefixes the nonce of received APDUs.
func (c *Context) SetPeerTitle(title []byte) error {
	if err := checktitle(title); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peertitle = slices.Clone(title)
	return nil
}

func (c *Context) SetBlockCipherKey(ek []byte) error {
	if len(ek) != c.keylength() {
		return fmt.Errorf("block cipher key has to be %d bytes long, got %d: %w", c.keylength(), len(ek), base.ErrConfiguration)
	}
	a, err := c.factory(ek)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ek = slices.Clone(ek)
	c.aead = a
	return nil
}

func (c *Context) SetAuthenticationKey(ak []byte) error {
	if len(ak) != c.keylength() {
		return fmt.Errorf("authentication key has to be %d bytes long, got %d: %w", c.keylength(), len(ak), base.ErrConfiguration)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ak = slices.Clone(ak)
	return nil
}

// SetFactory replaces the AES-GCM implementation, it has to be called before SetBlockCipherKey.
func (c *Context) SetFactory(f gcm.Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factory = f
}

// SetSecurity sets the mode used by Encrypt.
func (c *Context) SetSecurity(security base.DlmsSecurity) error {
	switch security {
	case base.SecurityAuthentication, base.SecurityEncryption, base.SecurityAuthenticationEncryption:
	default:
		return fmt.Errorf("security %v can't be used for ciphering: %w", security, base.ErrConfiguration)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.security = security
	return nil
}

func (c *Context) SetPolicy(policy base.SecurityPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = policy
}

// SetFrameCounter sets the next frame counter to be used and clears exhaustion.
func (c *Context) SetFrameCounter(fc uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.framecounter = fc
	c.exhausted = false
}

// SetReplayGuard enables invocation counter checking of received APDUs.
func (c *Context) SetReplayGuard(g *ReplayGuard) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guard = g
}

func (c *Context) SystemTitle() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.systemtitle)
}

func (c *Context) PeerTitle() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.peertitle)
}

// FrameCounter returns the next frame counter to be used.
func (c *Context) FrameCounter() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framecounter
}

func (c *Context) Security() base.DlmsSecurity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.security
}

func (c *Context) Suite() base.SecuritySuite {
	return c.suite
}

func (c *Context) Policy() base.SecurityPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

// Nonce is system title followed by the frame counter, most significant byte first.
func Nonce(title []byte, fc uint32) []byte {
	iv := make([]byte, base.GcmNonceLength)
	copy(iv, title)
	binary.BigEndian.PutUint32(iv[base.SystemTitleLength:], fc)
	return iv
}

// AAD composes the associated data for the security mode, sc is the whole security control byte.
// Encryption only produces no tag so its associated data never enters a computation.
func AAD(sc byte, ak []byte, plain []byte) []byte {
	switch base.DlmsSecurity(sc & 0x30) {
	case base.SecurityAuthentication:
		aad := make([]byte, 0, 1+len(ak)+len(plain))
		aad = append(aad, sc)
		aad = append(aad, ak...)
		return append(aad, plain...)
	case base.SecurityEncryption:
		return slices.Clone(ak)
	case base.SecurityAuthenticationEncryption:
		aad := make([]byte, 0, 1+len(ak))
		aad = append(aad, sc)
		return append(aad, ak...)
	}
	return nil
}

// take the next frame counter, it is consumed whatever happens afterwards, caller holds the lock
func (c *Context) nextfc() (uint32, error) {
	if c.exhausted {
		return 0, base.ErrFrameCounterExhausted
	}
	fc := c.framecounter
	if fc == math.MaxUint32 {
		c.exhausted = true
	} else {
		c.framecounter++
	}
	return fc, nil
}

func (c *Context) checkkeys(security base.DlmsSecurity) error {
	if c.aead == nil {
		return fmt.Errorf("block cipher key not set: %w", base.ErrConfiguration)
	}
	if security.HasAuthentication() && c.ak == nil {
		return fmt.Errorf("authentication key not set: %w", base.ErrConfiguration)
	}
	return nil
}

// Encrypt ciphers apdu with the configured security and returns the full Glo envelope under cmd.
func (c *Context) Encrypt(cmd base.CosemTag, apdu []byte) ([]byte, error) {
	return c.Seal(cmd, c.Security(), apdu, ShapeFullPacket)
}

// Seal ciphers apdu with the given security using the next frame counter.
func (c *Context) Seal(cmd base.CosemTag, security base.DlmsSecurity, apdu []byte, shape Shape) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fc, err := c.nextfc()
	if err != nil {
		return nil, err
	}
	return c.sealfc(cmd, security, fc, apdu, shape)
}

func (c *Context) sealfc(cmd base.CosemTag, security base.DlmsSecurity, fc uint32, apdu []byte, shape Shape) ([]byte, error) {
	switch security {
	case base.SecurityAuthentication, base.SecurityEncryption, base.SecurityAuthenticationEncryption:
	default:
		return nil, fmt.Errorf("security %v can't be used for ciphering: %w", security, base.ErrConfiguration)
	}
	if err := c.checkkeys(security); err != nil {
		return nil, err
	}
	if shape == ShapeTagOnly && !security.HasAuthentication() {
		return nil, fmt.Errorf("no tag in %v mode: %w", security, base.ErrConfiguration)
	}
	sc := byte(security) | byte(c.suite)
	nonce := Nonce(c.systemtitle, fc)
	aad := AAD(sc, c.ak, apdu)

	var data, tag []byte
	var err error
	switch security {
	case base.SecurityAuthentication:
		data = apdu
		tag, err = c.aead.Tag(nonce, aad)
	case base.SecurityEncryption:
		data, err = c.aead.Crypt(nonce, apdu)
	default:
		data, tag, err = c.aead.Seal(nonce, aad, apdu)
	}
	if err != nil {
		return nil, err
	}
	c.dlogf("sealed %v fc %d, %d bytes", security, fc, len(apdu))

	if shape == ShapeTagOnly {
		return tag, nil
	}
	cl := 1 + base.FrameCounterLen + len(data) + len(tag)
	var out bytes.Buffer
	out.Grow(cl + 6)
	if shape == ShapeFullPacket {
		out.WriteByte(byte(cmd))
		base.EncodeLength(&out, uint(cl))
	}
	out.WriteByte(sc)
	var fcb [4]byte
	binary.BigEndian.PutUint32(fcb[:], fc)
	out.Write(fcb[:])
	out.Write(data)
	out.Write(tag)
	return out.Bytes(), nil
}

// Decrypt parses a full Glo envelope and returns the plain APDU. Received frame counters are
// checked against the replay guard when one is set, and committed only after verification.
func (c *Context) Decrypt(pdu []byte) (*Decrypted, error) {
	cur := base.NewCursor(pdu)
	cmd, err := cur.Byte()
	if err != nil {
		return nil, err
	}
	if !IsRecognizedGlo(base.CosemTag(cmd)) {
		return nil, fmt.Errorf("unexpected ciphered command 0x%02x: %w", cmd, base.ErrFormat)
	}
	content, err := cur.Sub()
	if err != nil {
		return nil, fmt.Errorf("ciphered command 0x%02x: %w", cmd, err)
	}
	ret, err := c.Open(content.Rest())
	if err != nil {
		return nil, err
	}
	ret.Command = base.CosemTag(cmd)
	return ret, nil
}

// Open deciphers [sc][fc][data][tag], the part of a Glo envelope after its length. Security
// weaker than the policy requires is refused before any key is used.
func (c *Context) Open(content []byte) (*Decrypted, error) {
	cur := base.NewCursor(content)
	sc, err := cur.Byte()
	if err != nil {
		return nil, err
	}
	if base.DlmsSecurity(sc)&base.SecurityCompression != 0 {
		return nil, fmt.Errorf("compression not supported: %w", base.ErrFormat)
	}
	if base.DlmsSecurity(sc)&base.SecurityBroadcastKey != 0 {
		return nil, fmt.Errorf("only unicast keys are supported: %w", base.ErrFormat)
	}
	security := base.DlmsSecurity(sc & 0x30)
	if security == base.SecurityNone {
		return nil, fmt.Errorf("security control byte 0x%02x without security: %w", sc, base.ErrFormat)
	}
	fc, err := cur.Uint32()
	if err != nil {
		return nil, err
	}
	payload := cur.Rest()
	if security.HasAuthentication() && len(payload) < base.GcmTagLength {
		return nil, fmt.Errorf("too short ciphered data, no space for tag: %w", base.ErrFormat)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if req := c.policy.Required(); security&req != req {
		c.logf("%v apdu refused by security policy %d, fc %d", security, c.policy, fc)
		return nil, fmt.Errorf("%v below security policy %d: %w", security, c.policy, base.ErrFormat)
	}
	if err := c.checkkeys(security); err != nil {
		return nil, err
	}
	if c.peertitle == nil {
		return nil, fmt.Errorf("peer system title not set: %w", base.ErrConfiguration)
	}
	if c.guard != nil {
		if err := c.guard.Check(c.peertitle, fc); err != nil {
			return nil, err
		}
	}

	nonce := Nonce(c.peertitle, fc)
	var plain []byte
	switch security {
	case base.SecurityAuthentication:
		data := payload[:len(payload)-base.GcmTagLength]
		tag := payload[len(payload)-base.GcmTagLength:]
		exp, err := c.aead.Tag(nonce, AAD(sc, c.ak, data))
		if err != nil {
			return nil, err
		}
		if subtle.ConstantTimeCompare(exp, tag) != 1 {
			c.logf("authentication tag mismatch, fc %d", fc)
			return nil, fmt.Errorf("fc %d: %w", fc, base.ErrTagMismatch)
		}
		plain = slices.Clone(data)
	case base.SecurityEncryption:
		plain, err = c.aead.Crypt(nonce, payload)
		if err != nil {
			return nil, err
		}
	default:
		crypt := payload[:len(payload)-base.GcmTagLength]
		tag := payload[len(payload)-base.GcmTagLength:]
		plain, err = c.aead.Open(nonce, AAD(sc, c.ak, nil), crypt, tag)
		if err != nil {
			c.logf("authentication tag mismatch, fc %d", fc)
			return nil, fmt.Errorf("fc %d: %w", fc, err)
		}
	}

	if c.guard != nil {
		if err := c.guard.Commit(c.peertitle, fc); err != nil {
			return nil, err
		}
	}
	c.dlogf("opened %v fc %d, %d bytes", security, fc, len(plain))
	return &Decrypted{
		Security:     security,
		Suite:        base.SecuritySuite(sc & 0x0f),
		FrameCounter: fc,
		Apdu:         plain,
	}, nil
}
