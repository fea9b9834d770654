package gcm

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/cybroslabs/dlmscore-go/base"
)

func decodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

var factories = []struct {
	name string
	f    Factory
}{
	{"table", New},
	{"nist", NewNist},
}

// McGrew and Viega test cases, tags truncated to 12 bytes
func TestSealVectors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		nonce string
		aad   string
		plain string
		crypt string
		tag   string
	}{
		{
			name:  "empty",
			key:   "00000000000000000000000000000000",
			nonce: "000000000000000000000000",
			tag:   "58e2fccefa7e3061367f1d57",
		},
		{
			name:  "single block",
			key:   "00000000000000000000000000000000",
			nonce: "000000000000000000000000",
			plain: "00000000000000000000000000000000",
			crypt: "0388dace60b6a392f328c2b971b2fe78",
			tag:   "ab6e47d42cec13bdf53a67b2",
		},
		{
			name:  "four blocks",
			key:   "feffe9928665731c6d6a8f9467308308",
			nonce: "cafebabefacedbaddecaf888",
			plain: "d9313225f88406e5a55909c5aff5269a86a7a9531534f7da2e4c303d8a318a721c3c0c95956809532fcf0e2449a6b525b16aedf5aa0de657ba637b391aafd255",
			crypt: "42831ec2217774244b7221b784d0d49ce3aa212f2c02a4e035c17e2329aca12e21d514b25466931c7d8f6a5aac84aa051ba30b396a0aac973d58e091473f5985",
			tag:   "4d5c2af327cd64a62cf35abd",
		},
		{
			name:  "dlms authenticated encryption",
			key:   "000102030405060708090a0b0c0d0e0f",
			nonce: "4d4d4d0000bc614e01234567",
			aad:   "30d0d1d2d3d4d5d6d7d8d9dadbdcdddedf",
			plain: "c0010000080000010000ff0200",
			crypt: "411312ff935a47566827c467bc",
			tag:   "7d825c3be4a77c3fcc056b6b",
		},
	}
	for _, f := range factories {
		for _, tt := range tests {
			t.Run(f.name+"/"+tt.name, func(t *testing.T) {
				g, err := f.f(decodeHex(t, tt.key))
				if err != nil {
					t.Fatal(err)
				}
				crypt, tag, err := g.Seal(decodeHex(t, tt.nonce), decodeHex(t, tt.aad), decodeHex(t, tt.plain))
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(crypt, decodeHex(t, tt.crypt)) {
					t.Errorf("ciphertext %x, want %s", crypt, tt.crypt)
				}
				if !bytes.Equal(tag, decodeHex(t, tt.tag)) {
					t.Errorf("tag %x, want %s", tag, tt.tag)
				}
				plain, err := g.Open(decodeHex(t, tt.nonce), decodeHex(t, tt.aad), crypt, tag)
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(plain, decodeHex(t, tt.plain)) {
					t.Errorf("plaintext %x, want %s", plain, tt.plain)
				}
			})
		}
	}
}

func TestImplementationsAgree(t *testing.T) {
	key := decodeHex(t, "000102030405060708090a0b0c0d0e0f")
	nonce := decodeHex(t, "4d4d4d0000bc614e00000001")
	aad := decodeHex(t, "30d0d1d2d3d4d5d6d7d8d9dadbdcdddedf")
	ta, _ := New(key)
	na, _ := NewNist(key)

	for l := 0; l < 70; l++ {
		plain := make([]byte, l)
		for i := range plain {
			plain[i] = byte(i * 7)
		}
		c1, t1, _ := ta.Seal(nonce, aad, plain)
		c2, t2, _ := na.Seal(nonce, aad, plain)
		if !bytes.Equal(c1, c2) || !bytes.Equal(t1, t2) {
			t.Fatalf("seal differs for length %d", l)
		}
		k1, _ := ta.Crypt(nonce, plain)
		k2, _ := na.Crypt(nonce, plain)
		if !bytes.Equal(k1, k2) {
			t.Fatalf("crypt differs for length %d", l)
		}
		if !bytes.Equal(k1, c1) {
			t.Fatalf("keystream differs from sealed ciphertext for length %d", l)
		}
		g1, _ := ta.Tag(nonce, plain)
		g2, _ := na.Tag(nonce, plain)
		if !bytes.Equal(g1, g2) {
			t.Fatalf("gmac differs for length %d", l)
		}
	}
}

func TestOpenTagMismatch(t *testing.T) {
	key := decodeHex(t, "000102030405060708090a0b0c0d0e0f")
	nonce := decodeHex(t, "4d4d4d0000bc614e01234567")
	plain := []byte("block transfer payload")
	for _, f := range factories {
		g, _ := f.f(key)
		crypt, tag, _ := g.Seal(nonce, nil, plain)
		for bit := 0; bit < 8*(len(crypt)+len(tag)); bit++ {
			c := bytes.Clone(crypt)
			tg := bytes.Clone(tag)
			if bit < 8*len(c) {
				c[bit/8] ^= 1 << (bit % 8)
			} else {
				b := bit - 8*len(c)
				tg[b/8] ^= 1 << (b % 8)
			}
			ret, err := g.Open(nonce, nil, c, tg)
			if !errors.Is(err, base.ErrTagMismatch) {
				t.Fatalf("%s: bit %d: expected tag mismatch, got %v", f.name, bit, err)
			}
			if ret != nil {
				t.Fatalf("%s: bit %d: plaintext returned on mismatch", f.name, bit)
			}
		}
	}
}

func TestInvalidParameters(t *testing.T) {
	if _, err := New(make([]byte, 15)); !errors.Is(err, base.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
	if _, err := NewNist(make([]byte, 17)); !errors.Is(err, base.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
	g, _ := New(make([]byte, 16))
	if _, _, err := g.Seal(make([]byte, 8), nil, nil); !errors.Is(err, base.ErrConfiguration) {
		t.Errorf("expected configuration error for short nonce, got %v", err)
	}
	if _, err := g.Open(make([]byte, 12), nil, nil, make([]byte, 16)); !errors.Is(err, base.ErrFormat) {
		t.Errorf("expected format error for long tag, got %v", err)
	}
}

func TestOneShot(t *testing.T) {
	key := decodeHex(t, "000102030405060708090a0b0c0d0e0f")
	nonce := decodeHex(t, "4d4d4d0000bc614e01234567")
	crypt, tag, err := Encrypt(key, nonce, []byte{0x30}, []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	plain, err := Decrypt(key, nonce, []byte{0x30}, crypt, tag)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plain, []byte{1, 2, 3}) {
		t.Fatalf("unexpected plaintext %x", plain)
	}
}
