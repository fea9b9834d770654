package ciphering

import (
	"bytes"
	"encoding/hex"
	"errors"
	"math"
	"testing"

	"github.com/cybroslabs/dlmscore-go/base"
	"github.com/cybroslabs/dlmscore-go/gcm"
)

var (
	clientTitle = []byte{0x4d, 0x4d, 0x4d, 0x00, 0x00, 0xbc, 0x61, 0x4e}
	serverTitle = []byte{0x4d, 0x4d, 0x4d, 0x00, 0x00, 0x00, 0x00, 0x01}
	testEK      = []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}
	testAK      = []byte{0xd0, 0xd1, 0xd2, 0xd3, 0xd4, 0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0xda, 0xdb, 0xdc, 0xdd, 0xde, 0xdf}
)

func decodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func newContext(t *testing.T, own []byte, peer []byte, f gcm.Factory) *Context {
	t.Helper()
	c, err := NewContext(own, base.SecuritySuite0)
	if err != nil {
		t.Fatal(err)
	}
	if f != nil {
		c.SetFactory(f)
	}
	if err = c.SetBlockCipherKey(testEK); err != nil {
		t.Fatal(err)
	}
	if err = c.SetAuthenticationKey(testAK); err != nil {
		t.Fatal(err)
	}
	if err = c.SetPeerTitle(peer); err != nil {
		t.Fatal(err)
	}
	return c
}

func newPair(t *testing.T, f gcm.Factory) (client *Context, server *Context) {
	return newContext(t, clientTitle, serverTitle, f), newContext(t, serverTitle, clientTitle, f)
}

func TestNonce(t *testing.T) {
	n := Nonce(clientTitle, 0x01234567)
	if !bytes.Equal(n[:8], clientTitle) {
		t.Errorf("nonce title part %x", n[:8])
	}
	if !bytes.Equal(n[8:], []byte{0x01, 0x23, 0x45, 0x67}) {
		t.Errorf("nonce counter part %x", n[8:])
	}
}

func TestAAD(t *testing.T) {
	ak := []byte{0xaa, 0xbb}
	plain := []byte{0x01, 0x02}
	tests := []struct {
		sc   byte
		want []byte
	}{
		{0x10, []byte{0x10, 0xaa, 0xbb, 0x01, 0x02}},
		{0x20, []byte{0xaa, 0xbb}},
		{0x30, []byte{0x30, 0xaa, 0xbb}},
		{0x31, []byte{0x31, 0xaa, 0xbb}},
	}
	for _, tt := range tests {
		if got := AAD(tt.sc, ak, plain); !bytes.Equal(got, tt.want) {
			t.Errorf("AAD(0x%02x) = %x, want %x", tt.sc, got, tt.want)
		}
	}
}

func TestEncryptKnownVector(t *testing.T) {
	c := newContext(t, clientTitle, serverTitle, nil)
	c.SetFrameCounter(0x01234567)
	out, err := c.Encrypt(base.TagGloGetRequest, decodeHex(t, "c0010000080000010000ff0200"))
	if err != nil {
		t.Fatal(err)
	}
	want := decodeHex(t, "c81e3001234567411312ff935a47566827c467bc7d825c3be4a77c3fcc056b6b")
	if !bytes.Equal(out, want) {
		t.Fatalf("got  %x\nwant %x", out, want)
	}
	if c.FrameCounter() != 0x01234568 {
		t.Fatalf("frame counter not advanced: %x", c.FrameCounter())
	}
}

func TestShapes(t *testing.T) {
	c := newContext(t, clientTitle, serverTitle, nil)
	apdu := []byte{0xc0, 0x01, 0xc1}

	dt, err := c.Seal(base.TagGloGetRequest, base.SecurityAuthentication, apdu, ShapeDataAndTag)
	if err != nil {
		t.Fatal(err)
	}
	if len(dt) != 5+len(apdu)+12 || dt[0] != 0x10 || !bytes.Equal(dt[5:8], apdu) {
		t.Fatalf("unexpected authentication layout %x", dt)
	}
	tag, err := c.Seal(base.TagGloGetRequest, base.SecurityAuthentication, apdu, ShapeTagOnly)
	if err != nil {
		t.Fatal(err)
	}
	if len(tag) != 12 {
		t.Fatalf("unexpected tag length %d", len(tag))
	}
	enc, err := c.Seal(base.TagGloGetRequest, base.SecurityEncryption, apdu, ShapeFullPacket)
	if err != nil {
		t.Fatal(err)
	}
	if len(enc) != 2+5+len(apdu) || enc[0] != byte(base.TagGloGetRequest) || enc[1] != byte(5+len(apdu)) || enc[2] != 0x20 {
		t.Fatalf("unexpected encryption layout %x", enc)
	}
	if _, err := c.Seal(base.TagGloGetRequest, base.SecurityEncryption, apdu, ShapeTagOnly); !errors.Is(err, base.ErrConfiguration) {
		t.Fatalf("expected configuration error for tag of encryption only, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	modes := []base.DlmsSecurity{base.SecurityAuthentication, base.SecurityEncryption, base.SecurityAuthenticationEncryption}
	for _, f := range []gcm.Factory{gcm.New, gcm.NewNist} {
		client, server := newPair(t, f)
		for _, mode := range modes {
			for _, fc := range []uint32{0, 1, 0x7fffffff, math.MaxUint32 - 1} {
				for _, l := range []int{0, 1, 15, 16, 17, 200} {
					plain := make([]byte, l)
					for i := range plain {
						plain[i] = byte(i + l)
					}
					client.SetFrameCounter(fc)
					pdu, err := client.Seal(base.TagGloSetRequest, mode, plain, ShapeFullPacket)
					if err != nil {
						t.Fatal(err)
					}
					d, err := server.Decrypt(pdu)
					if err != nil {
						t.Fatalf("%v fc %d len %d: %v", mode, fc, l, err)
					}
					if d.Security != mode || d.FrameCounter != fc || d.Command != base.TagGloSetRequest {
						t.Fatalf("unexpected header %+v", d)
					}
					if !bytes.Equal(d.Apdu, plain) {
						t.Fatalf("%v fc %d len %d: plaintext differs", mode, fc, l)
					}
				}
			}
		}
	}
}

func TestTagSensitivity(t *testing.T) {
	client, server := newPair(t, nil)
	plain := []byte{0xc4, 0x01, 0xc1, 0x00, 0x09, 0x04, 0x01, 0x02, 0x03, 0x04}
	for _, mode := range []base.DlmsSecurity{base.SecurityAuthentication, base.SecurityAuthenticationEncryption} {
		pdu, err := client.Seal(base.TagGloGetResponse, mode, plain, ShapeFullPacket)
		if err != nil {
			t.Fatal(err)
		}
		// data and tag start after cmd, length, sc and fc
		for bit := 7 * 8; bit < 8*len(pdu); bit++ {
			p := bytes.Clone(pdu)
			p[bit/8] ^= 1 << (bit % 8)
			d, err := server.Decrypt(p)
			if !errors.Is(err, base.ErrTagMismatch) {
				t.Fatalf("%v bit %d: expected tag mismatch, got %v", mode, bit, err)
			}
			if d != nil {
				t.Fatalf("%v bit %d: result returned on mismatch", mode, bit)
			}
		}
	}
}

func TestFrameCounter(t *testing.T) {
	c := newContext(t, clientTitle, serverTitle, nil)
	c.SetFrameCounter(10)
	a, _ := c.Encrypt(base.TagGloGetRequest, []byte{0xc0})
	b, _ := c.Encrypt(base.TagGloGetRequest, []byte{0xc0})
	if bytes.Equal(a[3:7], b[3:7]) {
		t.Fatalf("frame counter reused")
	}
	if b[6] != a[6]+1 {
		t.Fatalf("frame counter not increasing: %x %x", a[3:7], b[3:7])
	}

	// failure after taking the counter still consumes it
	n, _ := NewContext(clientTitle, base.SecuritySuite0)
	_ = n.SetBlockCipherKey(testEK)
	n.SetFrameCounter(5)
	if _, err := n.Encrypt(base.TagGloGetRequest, []byte{0xc0}); !errors.Is(err, base.ErrConfiguration) {
		t.Fatalf("expected missing key error, got %v", err)
	}
	if n.FrameCounter() != 6 {
		t.Fatalf("failed encryption did not consume counter: %d", n.FrameCounter())
	}

	c.SetFrameCounter(math.MaxUint32)
	if _, err := c.Encrypt(base.TagGloGetRequest, []byte{0xc0}); err != nil {
		t.Fatalf("last counter value should be usable: %v", err)
	}
	if _, err := c.Encrypt(base.TagGloGetRequest, []byte{0xc0}); !errors.Is(err, base.ErrFrameCounterExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
}

func TestDecryptFormat(t *testing.T) {
	client, server := newPair(t, nil)
	pdu, _ := client.Encrypt(base.TagGloGetRequest, []byte{0xc0, 0x01})

	tests := []struct {
		name string
		pdu  []byte
	}{
		{"empty", nil},
		{"plain command", append([]byte{byte(base.TagGetRequest)}, pdu[1:]...)},
		{"truncated", pdu[:len(pdu)-1]},
		{"no tag space", []byte{byte(base.TagGloGetRequest), 0x06, 0x30, 0, 0, 0, 1, 0xaa}},
		{"compression", []byte{byte(base.TagGloGetRequest), 0x05, 0xb0, 0, 0, 0, 1}},
		{"broadcast", []byte{byte(base.TagGloGetRequest), 0x05, 0x70, 0, 0, 0, 1}},
		{"no security", []byte{byte(base.TagGloGetRequest), 0x05, 0x00, 0, 0, 0, 1}},
	}
	for _, tt := range tests {
		if _, err := server.Decrypt(tt.pdu); !errors.Is(err, base.ErrFormat) {
			t.Errorf("%s: expected format error, got %v", tt.name, err)
		}
	}
}

func TestConfigurationErrors(t *testing.T) {
	if _, err := NewContext(make([]byte, 7), base.SecuritySuite0); !errors.Is(err, base.ErrConfiguration) {
		t.Errorf("short title: %v", err)
	}
	c, _ := NewContext(clientTitle, base.SecuritySuite0)
	if err := c.SetBlockCipherKey(make([]byte, 15)); !errors.Is(err, base.ErrConfiguration) {
		t.Errorf("short ek: %v", err)
	}
	if err := c.SetAuthenticationKey(make([]byte, 32)); !errors.Is(err, base.ErrConfiguration) {
		t.Errorf("long ak: %v", err)
	}
	if err := c.SetPeerTitle(make([]byte, 9)); !errors.Is(err, base.ErrConfiguration) {
		t.Errorf("long peer title: %v", err)
	}
	if err := c.SetSecurity(base.SecurityNone); !errors.Is(err, base.ErrConfiguration) {
		t.Errorf("security none: %v", err)
	}
	if _, err := c.Encrypt(base.TagGloGetRequest, []byte{0xc0}); !errors.Is(err, base.ErrConfiguration) {
		t.Errorf("encrypt without keys: %v", err)
	}
	s2, _ := NewContext(clientTitle, base.SecuritySuite2)
	if err := s2.SetBlockCipherKey(make([]byte, 32)); err != nil {
		t.Errorf("suite 2 key: %v", err)
	}
}

func TestGloCommand(t *testing.T) {
	g, err := GloCommand(base.TagActionResponse)
	if err != nil || g != base.TagGloActionResponse {
		t.Fatalf("GloCommand = %v, %v", g, err)
	}
	p, err := PlainCommand(base.TagGloInitiateRequest)
	if err != nil || p != base.TagInitiateRequest {
		t.Fatalf("PlainCommand = %v, %v", p, err)
	}
	if _, err := GloCommand(base.TagAARQ); !errors.Is(err, base.ErrFormat) {
		t.Fatalf("expected format error, got %v", err)
	}
	n := 0
	for i := 0; i < 256; i++ {
		if IsRecognizedGlo(base.CosemTag(i)) {
			n++
		}
	}
	if n != 8 {
		t.Fatalf("expected 8 recognized ciphered commands, got %d", n)
	}
}

func TestSecurityPolicy(t *testing.T) {
	securities := []base.DlmsSecurity{base.SecurityAuthentication, base.SecurityEncryption, base.SecurityAuthenticationEncryption}
	tests := []struct {
		policy base.SecurityPolicy
		accept []bool // per securities
	}{
		{policy: base.SecurityPolicyNothing, accept: []bool{true, true, true}},
		{policy: base.SecurityPolicyAuthenticatedMessages, accept: []bool{true, false, true}},
		{policy: base.SecurityPolicyEncryptedMessages, accept: []bool{false, true, true}},
		{policy: base.SecurityPolicyAuthenticatedEncrypted, accept: []bool{false, false, true}},
	}
	apdu := []byte{0xc4, 0x01, 0xc1, 0x00, 0x11, 0x2a}
	for _, tt := range tests {
		for i, sec := range securities {
			client, server := newPair(t, nil)
			client.SetPolicy(tt.policy)
			pdu, err := server.Seal(base.TagGloGetResponse, sec, apdu, ShapeFullPacket)
			if err != nil {
				t.Fatal(err)
			}
			d, err := client.Decrypt(pdu)
			if !tt.accept[i] {
				if !errors.Is(err, base.ErrFormat) {
					t.Errorf("policy %d, %v: got %v, want ErrFormat", tt.policy, sec, err)
				}
				continue
			}
			if err != nil {
				t.Errorf("policy %d, %v: %v", tt.policy, sec, err)
				continue
			}
			if !bytes.Equal(d.Apdu, apdu) {
				t.Errorf("policy %d, %v: apdu %x", tt.policy, sec, d.Apdu)
			}
		}
	}
}

func TestSecurityPolicyForgedEncryptionOnly(t *testing.T) {
	client, _ := newPair(t, nil)
	client.SetPolicy(base.SecurityPolicyAuthenticatedEncrypted)
	guard := NewReplayGuard()
	client.SetReplayGuard(guard)
	if _, err := client.Decrypt(decodeHex(t, "cc082000000009deadbe")); !errors.Is(err, base.ErrFormat) {
		t.Errorf("got %v, want ErrFormat", err)
	}
	if _, ok := guard.Last(serverTitle); ok {
		t.Error("refused apdu advanced the invocation counter")
	}
}
