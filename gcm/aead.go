// Package gcm implements AES-GCM as used by DLMS ciphering: 96 bit nonce and tag truncated to 96 bits.
package gcm

import (
	"fmt"

	"github.com/cybroslabs/dlmscore-go/base"
)

const (
	AES_BLOCK_SIZE     = 16
	AES_BLOCK_SIZE_ROT = 4
	GCM_TAG_LENGTH     = base.GcmTagLength
	GCM_NONCE_LENGTH   = base.GcmNonceLength
)

// Aead is bound to a single key. Implementations are not safe for concurrent use.
type Aead interface {
	// Seal encrypts plain and computes the tag over aad and the ciphertext.
	Seal(nonce []byte, aad []byte, plain []byte) (crypt []byte, tag []byte, err error)
	// Open verifies tag and returns the plaintext, nothing is returned on mismatch.
	Open(nonce []byte, aad []byte, crypt []byte, tag []byte) ([]byte, error)
	// Crypt applies only the counter mode keystream, encryption and decryption are the same operation.
	Crypt(nonce []byte, src []byte) ([]byte, error)
	// Tag is GMAC, the tag over aad with an empty payload.
	Tag(nonce []byte, aad []byte) ([]byte, error)
}

// Factory creates an Aead for a key, New and NewNist both satisfy it.
type Factory func(key []byte) (Aead, error)

func checkkey(key []byte) error {
	switch len(key) {
	case 16, 24, 32:
		return nil
	}
	return fmt.Errorf("key has to be 16, 24 or 32 bytes long, got %d: %w", len(key), base.ErrConfiguration)
}

func checknonce(nonce []byte) error {
	if len(nonce) != GCM_NONCE_LENGTH {
		return fmt.Errorf("nonce has to be %d bytes long, got %d: %w", GCM_NONCE_LENGTH, len(nonce), base.ErrConfiguration)
	}
	return nil
}

func checktag(tag []byte) error {
	if len(tag) != GCM_TAG_LENGTH {
		return fmt.Errorf("tag has to be %d bytes long, got %d: %w", GCM_TAG_LENGTH, len(tag), base.ErrFormat)
	}
	return nil
}

// Encrypt is a one shot Seal with a fresh cipher for key.
func Encrypt(key []byte, nonce []byte, aad []byte, plain []byte) ([]byte, []byte, error) {
	g, err := New(key)
	if err != nil {
		return nil, nil, err
	}
	return g.Seal(nonce, aad, plain)
}

// Decrypt is a one shot Open with a fresh cipher for key.
func Decrypt(key []byte, nonce []byte, aad []byte, crypt []byte, tag []byte) ([]byte, error) {
	g, err := New(key)
	if err != nil {
		return nil, err
	}
	return g.Open(nonce, aad, crypt, tag)
}
