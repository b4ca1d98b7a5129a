// Package login implements the Login/Auth Logic (§4.D): verify-token
// generation, RSA/CFB8 key exchange, server-hash computation, and the
// session-service hand-off the Connection Actor drives during the Login
// phase.
package login

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/google/uuid"

	"github.com/blockworld/server/internal/crypto"
	"github.com/blockworld/server/internal/protocol"
	"github.com/blockworld/server/internal/sessionservice"
)

// Negotiation holds the per-connection login state (§3 "Login Negotiation
// State"): the verify token generated for this handshake and the player
// identity as it's refined across the exchange.
type Negotiation struct {
	VerifyToken []byte
	Player      Player
}

// Player is the identity carried through login, replaced with the
// authoritative session-service response once online-mode auth completes.
type Player struct {
	UUID       uuid.UUID
	Username   string
	Properties []protocol.LoginProperty
}

// NewVerifyToken generates the 16 random bytes sent in EncryptionRequest.
func NewVerifyToken() ([]byte, error) {
	tok := make([]byte, 16)
	if _, err := rand.Read(tok); err != nil {
		return nil, fmt.Errorf("login: generating verify token: %w", err)
	}
	return tok, nil
}

// BuildEncryptionRequest constructs the EncryptionRequest frame for the
// online-mode branch (§4.D.2). serverID is always empty in this protocol
// generation, matching the session-service hash convention.
func BuildEncryptionRequest(pubKeyDER, verifyToken []byte) protocol.EncryptionRequest {
	return protocol.EncryptionRequest{
		ServerID:           "",
		PublicKeyDER:       pubKeyDER,
		VerifyToken:        verifyToken,
		ShouldAuthenticate: true,
	}
}

// ErrVerifyTokenMismatch signals the client echoed the wrong verify token.
var ErrVerifyTokenMismatch = fmt.Errorf("login: verify token mismatch")

// ErrBadSharedSecretLength signals the decrypted shared secret isn't 16
// bytes, a protocol violation.
var ErrBadSharedSecretLength = fmt.Errorf("login: shared secret must be 16 bytes")

// DecryptEncryptionResponse implements §4.D.3: RSA-PKCS1v1.5 decrypt both
// fields, verify the token, and validate the shared secret's length.
func DecryptEncryptionResponse(privKey *rsa.PrivateKey, resp protocol.EncryptionResponse, expectedToken []byte) ([]byte, error) {
	sharedSecret, err := crypto.DecryptPKCS1v15(privKey, resp.SharedSecret)
	if err != nil {
		return nil, fmt.Errorf("login: decrypting shared secret: %w", err)
	}
	token, err := crypto.DecryptPKCS1v15(privKey, resp.VerifyToken)
	if err != nil {
		return nil, fmt.Errorf("login: decrypting verify token: %w", err)
	}
	if !bytes.Equal(token, expectedToken) {
		return nil, ErrVerifyTokenMismatch
	}
	if len(sharedSecret) != 16 {
		return nil, ErrBadSharedSecretLength
	}
	return sharedSecret, nil
}

// ComputeServerHash implements §4.D.4 / §6's server-hash formula.
func ComputeServerHash(sharedSecret, pubKeyDER []byte) string {
	return crypto.ServerHash("", sharedSecret, pubKeyDER)
}

// Authenticate folds a session-service profile into the negotiation's
// player identity; the case-insensitive username echo check has already
// been performed by the session-service client that returned the profile.
func Authenticate(profile sessionservice.Profile) Player {
	props := make([]protocol.LoginProperty, 0, len(profile.Properties))
	for _, p := range profile.Properties {
		props = append(props, protocol.LoginProperty{Name: p.Name, Value: p.Value, Signature: p.Signature, Signed: p.Signed})
	}
	return Player{UUID: profile.UUID, Username: profile.Username, Properties: props}
}
