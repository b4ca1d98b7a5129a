package crypto

import (
	"crypto/sha1"
	"math/big"
)

// ServerHash computes the block-world "server hash": SHA-1 of
// serverID||sharedSecret||publicKeyDER, reinterpreted as a signed
// big-endian integer and rendered in lowercase hex with a leading `-` and
// two's-complement negation when the digest's high bit is set.
func ServerHash(serverID string, sharedSecret, publicKeyDER []byte) string {
	h := sha1.New()
	h.Write([]byte(serverID))
	h.Write(sharedSecret)
	h.Write(publicKeyDER)
	digest := h.Sum(nil)
	return formatSignedHex(digest)
}

// formatSignedHex implements the canonical negative-hash formatting: the
// digest is interpreted as a two's-complement signed big-endian integer. If
// the high bit of the first byte is set, the value is negative: negate it
// (two's complement) and prepend '-' to the hex rendering with leading
// zeros stripped; otherwise render as-is with leading zeros stripped.
func formatSignedHex(digest []byte) string {
	n := new(big.Int).SetBytes(digest)
	if len(digest) > 0 && digest[0]&0x80 != 0 {
		// Two's complement negate: n - 2^(8*len)
		max := new(big.Int).Lsh(big.NewInt(1), uint(len(digest)*8))
		n.Sub(n, max)
		n.Neg(n)
		return "-" + n.Text(16)
	}
	return n.Text(16)
}
