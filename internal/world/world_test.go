package world

import (
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockworld/server/internal/actor"
)

func testFactory(t *testing.T) RegionFactory {
	return func(pos RegionPos, worldID uuid.UUID, parent actor.Mailbox) *RegionManage {
		return NewRegionManage(pos, worldID, parent, newMemLoader(), false, nil)
	}
}

// TestWorldInitSpawnsMapRangeAndViewRegions covers the initialisation
// algorithm: every region intersecting map_range union view_region(join_pos)
// gets a RegionManage, deduplicated.
func TestWorldInitSpawnsMapRangeAndViewRegions(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWorldManage(uuid.New(), dir, MapRange{MinX: 0, MinZ: 0, MaxX: 1, MaxZ: 0}, JoinPos{}, 0, actor.NewMailbox(), testFactory(t), nil)
	require.NoError(t, err)

	w.Init()

	assert.Len(t, w.regions, 2)
	_, ok0 := w.regions[RegionPos{X: 0, Z: 0}]
	_, ok1 := w.regions[RegionPos{X: 1, Z: 0}]
	assert.True(t, ok0)
	assert.True(t, ok1)

	// The two map_range regions are adjacent in X: Init should have wired
	// them into each other's direction map.
	r0 := w.regions[RegionPos{X: 0, Z: 0}]
	mb, ok := r0.adjacent.Get(E)
	assert.True(t, ok)
	assert.Equal(t, w.regions[RegionPos{X: 1, Z: 0}].Mailbox, mb)
}

// TestWorldInitProbesWritableDirectory covers the `.write_test` probe
// requirement (§5).
func TestWorldInitProbesWritableDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := NewWorldManage(uuid.New(), dir, MapRange{}, JoinPos{}, 0, actor.NewMailbox(), testFactory(t), nil)
	require.NoError(t, err)

	for _, sub := range []string{"region", "data"} {
		info, err := os.Stat(dir + "/" + sub)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

// TestGlobalRoutesCrossWorldRequest covers the Global -> World dispatch for
// a GetOtherWorldX request whose target world differs from the requesting
// world.
func TestGlobalRoutesCrossWorldRequest(t *testing.T) {
	g := NewGlobal(nil)

	dirA, dirB := t.TempDir(), t.TempDir()
	worldA, err := NewWorldManage(uuid.New(), dirA, MapRange{MinX: 0, MaxX: 0, MinZ: 0, MaxZ: 0}, JoinPos{}, 0, g.Mailbox, testFactory(t), nil)
	require.NoError(t, err)
	worldB, err := NewWorldManage(uuid.New(), dirB, MapRange{MinX: 0, MaxX: 0, MinZ: 0, MaxZ: 0}, JoinPos{}, 0, g.Mailbox, testFactory(t), nil)
	require.NoError(t, err)
	worldA.Init()
	worldB.Init()
	g.RegisterWorld(worldA)
	g.RegisterWorld(worldB)

	created := actor.NewReq(CreateChunkReq{Pos: ChunkPos{X: 1, Z: 1}, WorldID: worldB.ID}).AwaitReply(worldB.Mailbox)
	require.True(t, created.Created)

	reply := actor.NewReq(GetChunkReq{Pos: ChunkPos{X: 1, Z: 1}, WorldID: worldB.ID}).AwaitReply(g.Mailbox)
	assert.True(t, reply.Found)
	assert.Equal(t, created.Mailbox, reply.Mailbox)
}
