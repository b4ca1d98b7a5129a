package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
)

// RSAKeyBits is the modulus size the accept manager generates its keypair
// at, per the login handshake's EncryptionRequest/Response exchange.
const RSAKeyBits = 1024

// RSAKeyPair holds the server's long-lived RSA key pair plus its
// DER-encoded public key, cached once since every connection's
// EncryptionRequest embeds the same bytes.
type RSAKeyPair struct {
	PrivateKey   *rsa.PrivateKey
	PublicKeyDER []byte
}

// GenerateRSAKeyPair generates an RSA-1024 key pair with exponent 65537 (F4)
// and caches the DER-encoded public key for repeated use in
// EncryptionRequest frames.
func GenerateRSAKeyPair() (*RSAKeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}

	// Pre-compute CRT values (Dp, Dq, Qinv) so PKCS1v15 decryption of every
	// EncryptionResponse benefits from the Chinese Remainder Theorem
	// shortcut built into crypto/rsa.
	privateKey.Precompute()

	der, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshalling RSA public key: %w", err)
	}

	return &RSAKeyPair{
		PrivateKey:   privateKey,
		PublicKeyDER: der,
	}, nil
}

// DecryptPKCS1v15 decrypts an RSA-PKCS1v1.5 ciphertext with the server's
// private key, used for both the shared secret and verify-token fields of
// EncryptionResponse.
func DecryptPKCS1v15(privateKey *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	plaintext, err := rsa.DecryptPKCS1v15(rand.Reader, privateKey, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("RSA PKCS1v15 decrypt: %w", err)
	}
	return plaintext, nil
}
