package player

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockworld/server/internal/login"
	"github.com/blockworld/server/internal/protocol"
)

type fakePlayerList struct {
	mu     sync.Mutex
	joined []uuid.UUID
	left   []uuid.UUID
}

func (f *fakePlayerList) Join(id uuid.UUID, username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, id)
}

func (f *fakePlayerList) Leave(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, id)
}

func (f *fakePlayerList) hasLeft(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.left {
		if l == id {
			return true
		}
	}
	return false
}

func recvFrame(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func decodeTestOpcode(t *testing.T, frame []byte) int32 {
	t.Helper()
	op, _, err := decodeOpcode(frame)
	require.NoError(t, err)
	return op
}

// TestPipelineConfigurationToPlayTransition covers §4.F steps 2–3: the
// SelectKnownPacks round trip authorises the Configuration->Play
// transition, after which the initial Play burst is emitted in order and
// the player-list collaborator is notified.
func TestPipelineConfigurationToPlayTransition(t *testing.T) {
	reader := make(chan []byte, 8)
	writer := make(chan []byte, 64)
	registry := login.NewOnlineRegistry()
	playerID := uuid.New()
	require.True(t, registry.TryRegister(playerID))
	roster := &fakePlayerList{}

	mgr := NewManager(Config{
		HeartbeatInterval:  time.Hour,
		HeartbeatTimeout:   time.Hour,
		MaxConsecutiveMiss: 3,
		ViewDistance:       1,
	}, roster, registry, nil)

	_, err := mgr.NewPlayerConnect(context.Background(), login.Player{UUID: playerID, Username: "Steve"}, "127.0.0.1", reader, writer)
	require.NoError(t, err)

	reader <- protocol.NewWriter(protocol.OpConfigSelectKnownPacks).VarInt(0).Bytes()

	known := recvFrame(t, writer)
	assert.Equal(t, int32(protocol.OpConfigKnownPacksOut), decodeTestOpcode(t, known))
	finish := recvFrame(t, writer)
	assert.Equal(t, int32(protocol.OpConfigFinish), decodeTestOpcode(t, finish))

	reader <- protocol.NewWriter(protocol.OpConfigFinishAck).Bytes()

	login := recvFrame(t, writer)
	assert.Equal(t, int32(protocol.OpPlayLogin), decodeTestOpcode(t, login))
	assert.Equal(t, int32(protocol.OpPlayAdvancementSeed), decodeTestOpcode(t, recvFrame(t, writer)))
	assert.Equal(t, int32(protocol.OpPlayGameStateChange), decodeTestOpcode(t, recvFrame(t, writer)))
	assert.Equal(t, int32(protocol.OpPlayViewPosition), decodeTestOpcode(t, recvFrame(t, writer)))
	assert.Equal(t, int32(protocol.OpPlayChunkData), decodeTestOpcode(t, recvFrame(t, writer))) // view distance 1 -> one empty chunk
	assert.Equal(t, int32(protocol.OpPlaySetTitleText), decodeTestOpcode(t, recvFrame(t, writer)))
	assert.Equal(t, int32(protocol.OpPlayWindowItems), decodeTestOpcode(t, recvFrame(t, writer)))
	assert.Equal(t, int32(protocol.OpPlayDeclareRecipes), decodeTestOpcode(t, recvFrame(t, writer)))

	require.Eventually(t, func() bool {
		roster.mu.Lock()
		defer roster.mu.Unlock()
		return len(roster.joined) == 1 && roster.joined[0] == playerID
	}, time.Second, 5*time.Millisecond)

	close(reader)

	require.Eventually(t, func() bool { return roster.hasLeft(playerID) }, time.Second, 5*time.Millisecond)
	assert.False(t, registry.IsOnline(playerID))

	_, ok := <-writer
	assert.False(t, ok, "writer channel should be closed on teardown")
}

// TestPipelineHeartbeatTimeoutTearsDown covers scenario S6 in the pipeline
// integration context: three unanswered keep-alive probes disconnect the
// player and notify the roster before the actor returns terminate.
func TestPipelineHeartbeatTimeoutTearsDown(t *testing.T) {
	reader := make(chan []byte, 8)
	writer := make(chan []byte, 64)
	registry := login.NewOnlineRegistry()
	playerID := uuid.New()
	require.True(t, registry.TryRegister(playerID))
	roster := &fakePlayerList{}

	mgr := NewManager(Config{
		HeartbeatInterval:  time.Millisecond,
		HeartbeatTimeout:   time.Millisecond,
		MaxConsecutiveMiss: 3,
		ViewDistance:       0,
	}, roster, registry, nil)

	_, err := mgr.NewPlayerConnect(context.Background(), login.Player{UUID: playerID, Username: "Alex"}, "127.0.0.1", reader, writer)
	require.NoError(t, err)

	reader <- protocol.NewWriter(protocol.OpConfigSelectKnownPacks).VarInt(0).Bytes()
	recvFrame(t, writer)
	recvFrame(t, writer)
	reader <- protocol.NewWriter(protocol.OpConfigFinishAck).Bytes()

	// Drain the initial Play burst without acking any keep-alive probes,
	// letting the heartbeat's real ticker run past max_consecutive_miss.
	require.Eventually(t, func() bool { return roster.hasLeft(playerID) }, 6*time.Second, 10*time.Millisecond)
	assert.False(t, registry.IsOnline(playerID))
}
