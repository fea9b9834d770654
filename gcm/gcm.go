package gcm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/cybroslabs/dlmscore-go/base"
)

// table driven GHASH, 4 bit tables, no allocation in the hash path
type gcm struct {
	tmp [AES_BLOCK_SIZE * 4]byte
	hl  [16]uint64
	hh  [16]uint64
	aes cipher.Block
}

// no constant arrays in go, but these numbers are black magic
var last4 = [...]uint64{0x0000, 0x1c20, 0x3840, 0x2460, 0x7080, 0x6ca0, 0x48c0, 0x54e0, 0xe100, 0xfd20, 0xd940, 0xc560, 0x9180, 0x8da0, 0xa9c0, 0xb5e0}

// New creates the table driven implementation.
func New(key []byte) (Aead, error) {
	if err := checkkey(key); err != nil {
		return nil, err
	}
	aa, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	g := gcm{
		aes: aa,
	}
	g.make_tables()
	return &g, nil
}

// using first tmp slot, depends on zero initialized arrays
func (g *gcm) make_tables() {
	h := g.tmp[:AES_BLOCK_SIZE]
	g.aes.Encrypt(h, h) // rely on the fact that all bytes in gcm are zero

	vh := binary.BigEndian.Uint64(h)
	vl := binary.BigEndian.Uint64(h[8:])

	g.hl[8] = vl // 8 = 1000 corresponds to 1 in GF(2^128)
	g.hh[8] = vh

	for i := 4; i > 0; i >>= 1 {
		T := uint32(vl&1) * 0xe1000000
		vl = (vh << 63) | (vl >> 1)
		vh = (vh >> 1) ^ (uint64(T) << 32)
		g.hl[i] = vl
		g.hh[i] = vh
	}

	for i := 2; i < 16; i <<= 1 {
		vh = g.hh[i]
		vl = g.hl[i]
		for j := 1; j < i; j++ {
			g.hh[i+j] = vh ^ g.hh[j]
			g.hl[i+j] = vl ^ g.hl[j]
		}
	}
}

// J0 = nonce || 00000001 in the first tmp slot
func (g *gcm) setiv(nonce []byte) error {
	if err := checknonce(nonce); err != nil {
		return err
	}
	iv := g.tmp[:AES_BLOCK_SIZE]
	copy(iv, nonce)
	set32(iv, 1)
	return nil
}

func (g *gcm) Seal(nonce []byte, aad []byte, plain []byte) ([]byte, []byte, error) {
	if err := g.setiv(nonce); err != nil {
		return nil, nil, err
	}
	crypt := make([]byte, len(plain))
	tag := make([]byte, GCM_TAG_LENGTH)
	g.aes_gcm_ae(plain, aad, crypt, tag)
	return crypt, tag, nil
}

func (g *gcm) Open(nonce []byte, aad []byte, crypt []byte, tag []byte) ([]byte, error) {
	if err := checktag(tag); err != nil {
		return nil, err
	}
	if err := g.setiv(nonce); err != nil {
		return nil, err
	}
	plain := make([]byte, len(crypt))
	if err := g.aes_gcm_ad(crypt, aad, plain, tag); err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return plain, nil
}

func (g *gcm) Crypt(nonce []byte, src []byte) ([]byte, error) {
	if err := g.setiv(nonce); err != nil {
		return nil, err
	}
	ret := make([]byte, len(src))
	g.aes_gcm_ae(src, nil, ret, nil)
	return ret, nil
}

func (g *gcm) Tag(nonce []byte, aad []byte) ([]byte, error) {
	if err := g.setiv(nonce); err != nil {
		return nil, err
	}
	tag := make([]byte, GCM_TAG_LENGTH)
	g.aes_gcm_ae(nil, aad, nil, tag)
	return tag, nil
}

// x is not changed, dst is changed, needs 2nd tmp slot
func (g *gcm) ghash(x []byte, dst []byte) {
	tmp := g.tmp[AES_BLOCK_SIZE<<1 : AES_BLOCK_SIZE*3]
	m := len(x) >> AES_BLOCK_SIZE_ROT
	for i := 0; i < m; i++ {
		xor_block2(tmp, dst, x)
		x = x[AES_BLOCK_SIZE:]
		g.gf_mult(tmp, dst)
	}

	if len(x) != 0 {
		copy(tmp, x)
		os_memzero(tmp[len(x):])
		xor_block(dst, tmp)
		g.gf_mult(dst, tmp)
		copy(dst, tmp)
	}
}

// x is not changed, dst is changed, this is really black magic...
func (g *gcm) gf_mult(x []byte, dst []byte) {
	lo := x[15] & 0x0f
	hi := x[15] >> 4

	zh := g.hh[lo]
	zl := g.hl[lo]

	rem := zl & 0x0f
	zl = ((zh << 60) | (zl >> 4)) ^ g.hl[hi]
	zh = (zh >> 4) ^ (last4[rem] << 48) ^ g.hh[hi]

	for i := 14; i >= 0; i-- {
		lo = x[i] & 0x0f
		hi = x[i] >> 4

		rem = zl & 0x0f
		zl = ((zh << 60) | (zl >> 4)) ^ g.hl[lo]
		zh = (zh >> 4) ^ (last4[rem] << 48) ^ g.hh[lo]
		rem = zl & 0x0f
		zl = ((zh << 60) | (zl >> 4)) ^ g.hl[hi]
		zh = (zh >> 4) ^ (last4[rem] << 48) ^ g.hh[hi]
	}
	binary.BigEndian.PutUint64(dst, zh)
	binary.BigEndian.PutUint64(dst[8:], zl)
}

func inc32(block []byte) {
	ctr := block[AES_BLOCK_SIZE-4:]
	binary.BigEndian.PutUint32(ctr, binary.BigEndian.Uint32(ctr)+1)
}

func set32(block []byte, val uint32) {
	binary.BigEndian.PutUint32(block[AES_BLOCK_SIZE-4:], val)
}

// dst is changed, src is not
func xor_block(dst []byte, src []byte) {
	binary.NativeEndian.PutUint64(dst, binary.NativeEndian.Uint64(dst)^binary.NativeEndian.Uint64(src))
	binary.NativeEndian.PutUint64(dst[8:], binary.NativeEndian.Uint64(dst[8:])^binary.NativeEndian.Uint64(src[8:]))
}

func xor_block2(dst []byte, src1 []byte, src2 []byte) {
	binary.NativeEndian.PutUint64(dst, binary.NativeEndian.Uint64(src1)^binary.NativeEndian.Uint64(src2))
	binary.NativeEndian.PutUint64(dst[8:], binary.NativeEndian.Uint64(src1[8:])^binary.NativeEndian.Uint64(src2[8:]))
}

func os_memzero(dst []byte) {
	clear(dst)
}

// icb is not changed, x is not changed, dst is changed
func (g *gcm) aes_gctr(icb []byte, x []byte, dst []byte) {
	g.aes.Encrypt(dst, icb)
	xor_block(dst, x)
}

// J0 is changed, S is changed, plain and crypt are changed according to encrypt, aad is not changed, needs 2,3 tmp slot
func (g *gcm) aes_gcm_gctr_ghash(J0 []byte, S []byte, plain []byte, crypt []byte, aad []byte, encrypt bool) {
	os_memzero(S)
	g.ghash(aad, S)
	if len(plain) != 0 { // fortunately in case of reading whole aad from plain for hash, then this condition is always false as plain is already read
		inc32(J0)
		if encrypt {
			g.aes_gctr_ghash(J0, plain, crypt, S)
		} else {
			g.aes_gctr_ghash_de(J0, crypt, plain, S)
		}
	}

	len_buf := g.tmp[AES_BLOCK_SIZE*3 : AES_BLOCK_SIZE<<2]
	binary.BigEndian.PutUint64(len_buf, uint64(len(aad))<<3)
	binary.BigEndian.PutUint64(len_buf[8:], uint64(len(crypt))<<3)
	g.ghash(len_buf, S)
}

// J0 content is incremented, x is not changed, dst is changed, dsts is changed, needs 2nd tmp slot
func (g *gcm) aes_gctr_ghash(J0 []byte, x []byte, dst []byte, dsthash []byte) {
	tmp := g.tmp[AES_BLOCK_SIZE<<1 : AES_BLOCK_SIZE*3]
	n := len(x) >> AES_BLOCK_SIZE_ROT
	for i := 0; i < n; i++ { // this part should be streamed
		g.aes.Encrypt(tmp, J0)
		xor_block2(dst, tmp, x)
		xor_block2(tmp, dsthash, dst)
		g.gf_mult(tmp, dsthash)

		x = x[AES_BLOCK_SIZE:]
		dst = dst[AES_BLOCK_SIZE:]
		inc32(J0)
	}

	if len(x) != 0 {
		g.aes.Encrypt(tmp, J0)
		for i := 0; i < len(x); i++ {
			dst[i] = x[i] ^ tmp[i]
			dsthash[i] ^= dst[i]
		}

		g.gf_mult(dsthash, tmp)
		copy(dsthash, tmp)
	}
}

// J0 content is incremented, x is not changed, dst is changed, dsts is changed, needs 2nd tmp slot
func (g *gcm) aes_gctr_ghash_de(J0 []byte, x []byte, dst []byte, dsthash []byte) {
	tmp := g.tmp[AES_BLOCK_SIZE<<1 : AES_BLOCK_SIZE*3]
	n := len(x) >> AES_BLOCK_SIZE_ROT
	for i := 0; i < n; i++ { // this part should be streamed
		g.aes.Encrypt(tmp, J0)
		xor_block2(dst, tmp, x)
		xor_block2(tmp, dsthash, x)
		g.gf_mult(tmp, dsthash)

		x = x[AES_BLOCK_SIZE:]
		dst = dst[AES_BLOCK_SIZE:]
		inc32(J0)
	}

	if len(x) != 0 {
		g.aes.Encrypt(tmp, J0)
		for i := 0; i < len(x); i++ {
			dst[i] = x[i] ^ tmp[i]
			dsthash[i] ^= x[i]
		}

		g.gf_mult(dsthash, tmp)
		copy(dsthash, tmp)
	}
}

// crypt is output, needs 0,1,2,3 tmp slots
func (g *gcm) aes_gcm_ae(plain []byte, aad []byte, crypt []byte, tag []byte) {
	J0 := g.tmp[:AES_BLOCK_SIZE] // hardcore, initialized at the start
	S := g.tmp[AES_BLOCK_SIZE : AES_BLOCK_SIZE<<1]

	g.aes_gcm_gctr_ghash(J0, S, plain, crypt, aad, true)

	if tag != nil {
		set32(J0, 1)
		T := g.tmp[AES_BLOCK_SIZE<<1 : AES_BLOCK_SIZE*3]
		g.aes_gctr(J0, S, T)
		copy(tag, T)
	}
}

// plain is output and zeroed on mismatch, needs 0,1,2,3 tmp slots
func (g *gcm) aes_gcm_ad(crypt []byte, aad []byte, plain []byte, tag []byte) error {
	J0 := g.tmp[:AES_BLOCK_SIZE] // hardcore, initialized at the start
	S := g.tmp[AES_BLOCK_SIZE : AES_BLOCK_SIZE<<1]

	g.aes_gcm_gctr_ghash(J0, S, plain, crypt, aad, false)

	set32(J0, 1)
	T := g.tmp[AES_BLOCK_SIZE<<1 : AES_BLOCK_SIZE*3]
	g.aes_gctr(J0, S, T)

	if subtle.ConstantTimeCompare(tag, T[:GCM_TAG_LENGTH]) != 1 {
		os_memzero(plain)
		return base.ErrTagMismatch
	}
	return nil
}
