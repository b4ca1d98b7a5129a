package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// cfb8Stream implements AES-128 in CFB8 (8-bit feedback) mode: one byte of
// keystream per step, fed back into the shift register as ciphertext. This
// is NOT the same as Go's crypto/cipher.NewCFBEncrypter, which only offers
// full-block CFB — the block-world protocol requires the byte-granular
// variant (matching OpenSSL's EVP_aes_128_cfb8) so that encrypted frames can
// be decrypted byte-by-byte as they arrive off the wire, independent of TCP
// chunking.
type cfb8Stream struct {
	block     cipher.Block
	register  []byte // shift register, len == block size
	decrypt   bool
}

// newCFB8 constructs a CFB8 stream cipher keyed and IV'd by secret — the
// block-world protocol reuses the same 16 bytes for both (§9 design note:
// "Cipher IV = key"). secret must be exactly 16 bytes.
func newCFB8(secret []byte, decrypt bool) (*cfb8Stream, error) {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, fmt.Errorf("constructing AES-128 block cipher: %w", err)
	}
	register := make([]byte, block.BlockSize())
	copy(register, secret)
	return &cfb8Stream{block: block, register: register, decrypt: decrypt}, nil
}

// NewCFB8Encrypter returns a stream cipher that encrypts with AES-128/CFB8,
// key = IV = secret.
func NewCFB8Encrypter(secret []byte) (cipher.Stream, error) {
	return newCFB8(secret, false)
}

// NewCFB8Decrypter returns a stream cipher that decrypts with AES-128/CFB8,
// key = IV = secret.
func NewCFB8Decrypter(secret []byte) (cipher.Stream, error) {
	return newCFB8(secret, true)
}

// XORKeyStream implements cipher.Stream. It operates byte-by-byte and
// tolerates dst==src (required for in-place decryption of the connection's
// enc_buf) as long as callers don't also alias overlapping-but-offset
// slices, matching the stdlib Stream contract.
func (s *cfb8Stream) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("crypto/cfb8: output smaller than input")
	}
	blockSize := s.block.BlockSize()
	keystream := make([]byte, blockSize)
	for i := range src {
		s.block.Encrypt(keystream, s.register)
		out := src[i] ^ keystream[0]

		// Shift the register left by one, feeding in the ciphertext byte
		// (the actual wire byte, not the plaintext) on both sides.
		var feedback byte
		if s.decrypt {
			feedback = src[i]
		} else {
			feedback = out
		}
		copy(s.register, s.register[1:])
		s.register[blockSize-1] = feedback

		dst[i] = out
	}
}
