package regionfile

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileName(t *testing.T) {
	rx, rz, err := ParseFileName("r.-3.7.mca")
	require.NoError(t, err)
	assert.Equal(t, int32(-3), rx)
	assert.Equal(t, int32(7), rz)

	_, _, err = ParseFileName("not-a-region-file")
	assert.Error(t, err)
}

// TestRoundTripSmallChunk covers property #5: for an internal (non-spilled)
// chunk, read(write(c)) == c and no sibling .mcc file is created.
func TestRoundTripSmallChunk(t *testing.T) {
	dir := t.TempDir()
	rf, err := Open(dir, 0, 0)
	require.NoError(t, err)
	defer rf.Close()

	payload := bytes.Repeat([]byte("hello world"), 100)
	require.NoError(t, rf.PutChunk(5, 5, payload, CompressionZlib))

	got, ok, err := rf.GetChunk(5, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, got)
	assert.False(t, rf.HasExternal(5, 5))

	ext, found := rf.IsExternal(5, 5)
	require.True(t, found)
	assert.False(t, ext)
}

// TestExternalSpill covers property #5's spill case and scenario S4: a
// chunk whose compressed size pushes the on-disk record past 1020 KiB
// must spill to a sibling MCC file, with the location entry's external
// bit set, and still read back byte-for-byte.
func TestExternalSpill(t *testing.T) {
	dir := t.TempDir()
	rf, err := Open(dir, 0, 0)
	require.NoError(t, err)
	defer rf.Close()

	// Incompressible random data so the 1021 KiB source stays large after
	// "compression" under the uncompressed kind.
	payload := make([]byte, 1021*1024)
	rand.New(rand.NewSource(1)).Read(payload)

	require.NoError(t, rf.PutChunk(5, 5, payload, CompressionUncompressed))

	ext, found := rf.IsExternal(5, 5)
	require.True(t, found)
	assert.True(t, ext)
	assert.True(t, rf.HasExternal(5, 5))

	_, err = os.Stat(filepath.Join(dir, "c.5.5.mcc"))
	require.NoError(t, err)

	got, ok, err := rf.GetChunk(5, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, got)
}

// TestSmallChunkHasNoExternalFile covers the negative half of property #5:
// payloads at or below the 1020 KiB cutoff never create a sibling file.
func TestSmallChunkHasNoExternalFile(t *testing.T) {
	dir := t.TempDir()
	rf, err := Open(dir, 0, 0)
	require.NoError(t, err)
	defer rf.Close()

	payload := make([]byte, 1019*1024)
	require.NoError(t, rf.PutChunk(1, 1, payload, CompressionUncompressed))

	assert.False(t, rf.HasExternal(1, 1))
}

// TestAbsentChunk covers "offset 0 count 0 ⇒ absent".
func TestAbsentChunk(t *testing.T) {
	dir := t.TempDir()
	rf, err := Open(dir, 0, 0)
	require.NoError(t, err)
	defer rf.Close()

	_, ok, err := rf.GetChunk(10, 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestReopenPreservesData covers the Open/Save round trip across process
// boundaries: the header must be persisted verbatim.
func TestReopenPreservesData(t *testing.T) {
	dir := t.TempDir()
	rf, err := Open(dir, 2, -1)
	require.NoError(t, err)
	payload := []byte("persist me across reopen")
	require.NoError(t, rf.PutChunk(64, -32, payload, CompressionGzip))
	require.NoError(t, rf.Close())

	rf2, err := Open(dir, 2, -1)
	require.NoError(t, err)
	defer rf2.Close()

	got, ok, err := rf2.GetChunk(64, -32)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestManagerRoutesByRegion(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, CompressionZlib)
	defer m.Close()

	require.NoError(t, m.SaveChunk(3, 3, []byte("region zero zero")))
	require.NoError(t, m.SaveChunk(33, 3, []byte("region one zero")))

	got0, ok, err := m.LoadChunk(3, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "region zero zero", string(got0))

	got1, ok, err := m.LoadChunk(33, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "region one zero", string(got1))

	_, err = os.Stat(filepath.Join(dir, "r.0.0.mca"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "r.1.0.mca"))
	require.NoError(t, err)
}
