package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/cybroslabs/dlmscore-go/base"
	"github.com/cybroslabs/dlmscore-go/ciphering"
	"github.com/cybroslabs/dlmscore-go/dlmsal"
	"gopkg.in/yaml.v3"
)

// hexBytes is a byte string written in hex in the profile, spaces are allowed.
type hexBytes []byte

func (h *hexBytes) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	b, err := decodeHex(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*h = b
	return nil
}

func (h hexBytes) MarshalYAML() (any, error) {
	return hex.EncodeToString(h), nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.Join(strings.Fields(s), ""))
}

type profile struct {
	ApplicationContext string   `yaml:"application_context"`
	Authentication     string   `yaml:"authentication"`
	Password           string   `yaml:"password"`
	SystemTitle        hexBytes `yaml:"system_title"`
	PeerTitle          hexBytes `yaml:"peer_title"`
	BlockCipherKey     hexBytes `yaml:"block_cipher_key"`
	AuthenticationKey  hexBytes `yaml:"authentication_key"`
	Security           string   `yaml:"security"`
	Suite              byte     `yaml:"suite"`
	FrameCounter       uint32   `yaml:"frame_counter"`
	MaxPduRecvSize     *uint16  `yaml:"max_pdu_recv_size"`
	ClientWPort        uint16   `yaml:"client_wport"`
	ServerWPort        uint16   `yaml:"server_wport"`
}

var contexts = map[string]base.ApplicationContext{
	"":            base.ApplicationContextLNNoCiphering,
	"ln":          base.ApplicationContextLNNoCiphering,
	"sn":          base.ApplicationContextSNNoCiphering,
	"ln-ciphered": base.ApplicationContextLNCiphering,
	"sn-ciphered": base.ApplicationContextSNCiphering,
}

var authentications = map[string]base.Authentication{
	"":       base.AuthenticationNone,
	"none":   base.AuthenticationNone,
	"low":    base.AuthenticationLow,
	"md5":    base.AuthenticationHighMD5,
	"sha1":   base.AuthenticationHighSHA1,
	"gmac":   base.AuthenticationHighGmac,
	"sha256": base.AuthenticationHighSha256,
	"ecdsa":  base.AuthenticationHighEcdsa,
}

var securities = map[string]base.DlmsSecurity{
	"":                          base.SecurityAuthenticationEncryption,
	"none":                      base.SecurityNone,
	"authentication":            base.SecurityAuthentication,
	"encryption":                base.SecurityEncryption,
	"authentication-encryption": base.SecurityAuthenticationEncryption,
}

func lookup[T any](m map[string]T, name string, what string) (T, error) {
	v, ok := m[strings.ToLower(name)]
	if !ok {
		return v, fmt.Errorf("unknown %s %q: %w", what, name, base.ErrConfiguration)
	}
	return v, nil
}

func loadProfile(path string) (*profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p := &profile{ClientWPort: 1, ServerWPort: 1}
	if err = yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

func (p *profile) cipheringSettings() (*ciphering.Settings, error) {
	auth, err := lookup(authentications, p.Authentication, "authentication")
	if err != nil {
		return nil, err
	}
	security, err := lookup(securities, p.Security, "security")
	if err != nil {
		return nil, err
	}
	return &ciphering.Settings{
		SystemTitle:       p.SystemTitle,
		BlockCipherKey:    p.BlockCipherKey,
		AuthenticationKey: p.AuthenticationKey,
		Suite:             base.SecuritySuite(p.Suite),
		Security:          security,
		FrameCounter:      p.FrameCounter,
		Authentication:    auth,
		Password:          []byte(p.Password),
	}, nil
}

// context creates the ciphering context, peer is taken from the profile unless own is set, which
// deciphers APDUs ciphered with the local title.
func (p *profile) context(own bool) (*ciphering.Context, error) {
	cs, err := p.cipheringSettings()
	if err != nil {
		return nil, err
	}
	c, err := cs.NewContext()
	if err != nil {
		return nil, err
	}
	peer := p.PeerTitle
	if own {
		peer = p.SystemTitle
	}
	if peer != nil {
		if err = c.SetPeerTitle(peer); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (p *profile) dlmsSettings() (*dlmsal.DlmsSettings, error) {
	appctx, err := lookup(contexts, p.ApplicationContext, "application context")
	if err != nil {
		return nil, err
	}
	auth, err := lookup(authentications, p.Authentication, "authentication")
	if err != nil {
		return nil, err
	}
	var s *dlmsal.DlmsSettings
	switch {
	case appctx == base.ApplicationContextLNCiphering:
		cs, err := p.cipheringSettings()
		if err != nil {
			return nil, err
		}
		s, err = dlmsal.NewSettingsWithCipheringLN(cs)
		if err != nil {
			return nil, err
		}
	case appctx.IsCiphered():
		return nil, fmt.Errorf("ciphered short name association: %w", base.ErrConfiguration)
	case auth == base.AuthenticationNone && appctx.IsLN():
		s, err = dlmsal.NewSettingsWithNoAuthenticationLN()
	case auth == base.AuthenticationNone:
		s, err = dlmsal.NewSettingsWithNoAuthenticationSN()
	case auth == base.AuthenticationLow && appctx.IsLN():
		s, err = dlmsal.NewSettingsWithLowAuthenticationLN(p.Password)
	case auth == base.AuthenticationLow:
		s, err = dlmsal.NewSettingsWithLowAuthenticationSN(p.Password)
	default:
		return nil, fmt.Errorf("high level security without a ciphered context: %w", base.ErrConfiguration)
	}
	if err != nil {
		return nil, err
	}
	if p.MaxPduRecvSize != nil {
		s.MaxPduRecvSize = p.MaxPduRecvSize
	}
	return s, s.Validate()
}
