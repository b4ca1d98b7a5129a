package login

import (
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockworld/server/internal/protocol"
)

func TestEncryptionResponseRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	verifyToken := []byte("0123456789abcdef")
	sharedSecret := []byte("0123456789abcdef")

	encSecret, err := rsa.EncryptPKCS1v15(rand.Reader, &priv.PublicKey, sharedSecret)
	require.NoError(t, err)
	encToken, err := rsa.EncryptPKCS1v15(rand.Reader, &priv.PublicKey, verifyToken)
	require.NoError(t, err)

	resp := protocol.EncryptionResponse{SharedSecret: encSecret, VerifyToken: encToken}

	got, err := DecryptEncryptionResponse(priv, resp, verifyToken)
	require.NoError(t, err)
	assert.Equal(t, sharedSecret, got)
}

func TestEncryptionResponseBadToken(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	sharedSecret := []byte("0123456789abcdef")
	encSecret, err := rsa.EncryptPKCS1v15(rand.Reader, &priv.PublicKey, sharedSecret)
	require.NoError(t, err)
	encToken, err := rsa.EncryptPKCS1v15(rand.Reader, &priv.PublicKey, []byte("wrongwrongwrong!"))
	require.NoError(t, err)

	_, err = DecryptEncryptionResponse(priv, protocol.EncryptionResponse{SharedSecret: encSecret, VerifyToken: encToken}, []byte("0123456789abcdef"))
	assert.ErrorIs(t, err, ErrVerifyTokenMismatch)
}

func TestOnlineRegistryDuplicateLogin(t *testing.T) {
	reg := NewOnlineRegistry()
	id := uuid.New()

	const attempts = 8
	results := make([]bool, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = reg.TryRegister(id)
		}(i)
	}
	wg.Wait()

	successCount := 0
	for _, ok := range results {
		if ok {
			successCount++
		}
	}
	assert.Equal(t, 1, successCount)
}
