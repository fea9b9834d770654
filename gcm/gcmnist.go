package gcm

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/cybroslabs/dlmscore-go/base"
)

// AES-GCM from crypto/cipher, keystream mode through plain CTR
type gcmnist struct {
	block cipher.Block
	nist  cipher.AEAD
	ctr   [AES_BLOCK_SIZE]byte
}

// NewNist creates the crypto/cipher backed implementation, hardware accelerated where available.
func NewNist(key []byte) (Aead, error) {
	if err := checkkey(key); err != nil {
		return nil, err
	}
	cr, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	enc, err := cipher.NewGCMWithTagSize(cr, GCM_TAG_LENGTH)
	if err != nil {
		return nil, err
	}
	return &gcmnist{block: cr, nist: enc}, nil
}

func (g *gcmnist) Seal(nonce []byte, aad []byte, plain []byte) ([]byte, []byte, error) {
	if err := checknonce(nonce); err != nil {
		return nil, nil, err
	}
	out := g.nist.Seal(nil, nonce, plain, aad)
	return out[:len(plain)], out[len(plain):], nil
}

func (g *gcmnist) Open(nonce []byte, aad []byte, crypt []byte, tag []byte) ([]byte, error) {
	if err := checktag(tag); err != nil {
		return nil, err
	}
	if err := checknonce(nonce); err != nil {
		return nil, err
	}
	in := make([]byte, 0, len(crypt)+len(tag))
	in = append(in, crypt...)
	in = append(in, tag...)
	ret, err := g.nist.Open(in[:0], nonce, in, aad)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", base.ErrTagMismatch)
	}
	return ret, nil
}

// first keystream block of the payload uses counter 2, counter 1 is reserved for the tag
func (g *gcmnist) Crypt(nonce []byte, src []byte) ([]byte, error) {
	if err := checknonce(nonce); err != nil {
		return nil, err
	}
	copy(g.ctr[:], nonce)
	set32(g.ctr[:], 2)
	ret := make([]byte, len(src))
	cipher.NewCTR(g.block, g.ctr[:]).XORKeyStream(ret, src)
	return ret, nil
}

func (g *gcmnist) Tag(nonce []byte, aad []byte) ([]byte, error) {
	if err := checknonce(nonce); err != nil {
		return nil, err
	}
	return g.nist.Seal(nil, nonce, nil, aad), nil
}
