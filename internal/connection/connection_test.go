package connection

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockworld/server/internal/actor"
	"github.com/blockworld/server/internal/crypto"
	"github.com/blockworld/server/internal/login"
	"github.com/blockworld/server/internal/protocol"
	"github.com/blockworld/server/internal/sessionservice"
	"github.com/blockworld/server/internal/transport"
)

type fakeStatus struct{ json string }

func (f fakeStatus) StatusJSON() string { return f.json }

type fakeLoginChecker struct {
	allow  bool
	reason string
}

func (f fakeLoginChecker) LoginCheck(ctx context.Context, id uuid.UUID, ip string) (bool, string) {
	return f.allow, f.reason
}

type fakeHasJoiner struct {
	profile sessionservice.Profile
	err     error
}

func (f fakeHasJoiner) HasJoined(ctx context.Context, username, serverHash, clientIP string) (sessionservice.Profile, error) {
	return f.profile, f.err
}

// fakeLogic drains whatever the connection forwards so its goroutines never
// block on a test that doesn't care about the Play phase.
type fakeLogic struct{}

func (fakeLogic) NewPlayerConnect(ctx context.Context, player login.Player, clientIP string, reader <-chan []byte, writer chan<- []byte) (actor.Mailbox, error) {
	mb := actor.NewMailbox()
	go func() {
		for range reader {
		}
		close(writer)
	}()
	return mb, nil
}

func buildHandshake(protocolVersion, nextState int32) []byte {
	return protocol.NewWriter(protocol.OpHandshakeSetProtocol).
		VarInt(protocolVersion).String("localhost").Int16(25565).VarInt(nextState).Bytes()
}

// TestConnectionStatusPingPong covers scenario S1: handshake into status,
// a status request answered with the configured JSON, then a ping echoed
// verbatim.
func TestConnectionStatusPingPong(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	keys, err := crypto.GenerateRSAKeyPair()
	require.NoError(t, err)

	cfg := Config{ProtocolVersion: 772, OnlineMode: false, CompressionThreshold: -1}
	status := fakeStatus{json: `{"version":{"name":"1.21","protocol":772}}`}
	registry := login.NewOnlineRegistry()

	c := NewConnection(serverConn, keys, cfg, status, fakeLoginChecker{allow: true}, fakeHasJoiner{}, registry, fakeLogic{}, nil, nil, nil)
	c.Run()

	client := transport.NewFramedConn(clientConn)
	require.NoError(t, client.WriteFrame(buildHandshake(772, 1)))
	require.NoError(t, client.WriteFrame(protocol.NewWriter(protocol.OpStatusRequest).Bytes()))

	resp, err := client.ReadFrame()
	require.NoError(t, err)
	r := protocol.NewReader(resp)
	opcode, err := r.VarInt()
	require.NoError(t, err)
	assert.Equal(t, int32(protocol.OpStatusResponse), opcode)
	js, err := r.String(1 << 16)
	require.NoError(t, err)
	assert.Equal(t, status.json, js)

	require.NoError(t, client.WriteFrame(protocol.NewWriter(protocol.OpStatusPing).Int64(0xCAFEBABE).Bytes()))
	pong, err := client.ReadFrame()
	require.NoError(t, err)
	pr := protocol.NewReader(pong)
	pop, err := pr.VarInt()
	require.NoError(t, err)
	assert.Equal(t, int32(protocol.OpStatusPong), pop)
	val, err := pr.Int64()
	require.NoError(t, err)
	assert.EqualValues(t, 0xCAFEBABE, val)
}

// TestConnectionOfflineLoginSuccess covers scenario S2: offline mode,
// compression threshold 256, LoginStart through LoginAcknowledged.
func TestConnectionOfflineLoginSuccess(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	keys, err := crypto.GenerateRSAKeyPair()
	require.NoError(t, err)

	cfg := Config{ProtocolVersion: 772, OnlineMode: false, CompressionThreshold: 256}
	registry := login.NewOnlineRegistry()

	c := NewConnection(serverConn, keys, cfg, fakeStatus{}, fakeLoginChecker{allow: true}, fakeHasJoiner{}, registry, fakeLogic{}, nil, nil, nil)
	c.Run()

	client := transport.NewFramedConn(clientConn)
	require.NoError(t, client.WriteFrame(buildHandshake(772, 2)))

	playerID := uuid.New()
	require.NoError(t, client.WriteFrame(protocol.NewWriter(protocol.OpLoginStart).String("Bob").UUID(playerID).Bytes()))

	compFrame, err := client.ReadFrame()
	require.NoError(t, err)
	cr := protocol.NewReader(compFrame)
	op, err := cr.VarInt()
	require.NoError(t, err)
	require.Equal(t, int32(protocol.OpLoginSetCompression), op)
	threshold, err := cr.VarInt()
	require.NoError(t, err)
	assert.EqualValues(t, 256, threshold)
	client.Compression.Enable(256)

	successFrame, err := client.ReadFrame()
	require.NoError(t, err)
	sr := protocol.NewReader(successFrame)
	op, err = sr.VarInt()
	require.NoError(t, err)
	require.Equal(t, int32(protocol.OpLoginSuccess), op)
	gotUUID, err := sr.UUID()
	require.NoError(t, err)
	assert.Equal(t, playerID, gotUUID)
	username, err := sr.String(16)
	require.NoError(t, err)
	assert.Equal(t, "Bob", username)

	require.NoError(t, client.WriteFrame(protocol.NewWriter(protocol.OpLoginAcknowledged).Bytes()))

	require.Eventually(t, func() bool { return registry.IsOnline(playerID) }, time.Second, 5*time.Millisecond)
}

// TestConnectionDuplicateLoginRejected covers invariant #9: a UUID already
// claimed by a live connection is rejected with a Disconnect.
func TestConnectionDuplicateLoginRejected(t *testing.T) {
	registry := login.NewOnlineRegistry()
	playerID := uuid.New()
	require.True(t, registry.TryRegister(playerID))
	defer registry.Unregister(playerID)

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	keys, err := crypto.GenerateRSAKeyPair()
	require.NoError(t, err)

	cfg := Config{ProtocolVersion: 772, OnlineMode: false, CompressionThreshold: -1}
	c := NewConnection(serverConn, keys, cfg, fakeStatus{}, fakeLoginChecker{allow: true}, fakeHasJoiner{}, registry, fakeLogic{}, nil, nil, nil)
	c.Run()

	client := transport.NewFramedConn(clientConn)
	require.NoError(t, client.WriteFrame(buildHandshake(772, 2)))
	require.NoError(t, client.WriteFrame(protocol.NewWriter(protocol.OpLoginStart).String("Bob").UUID(playerID).Bytes()))

	frame, err := client.ReadFrame()
	require.NoError(t, err)
	r := protocol.NewReader(frame)
	op, err := r.VarInt()
	require.NoError(t, err)
	assert.Equal(t, int32(protocol.OpLoginDisconnect), op)
}
