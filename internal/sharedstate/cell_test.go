package sharedstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitBroadcastsToAllMirrorsIncludingCommitter(t *testing.T) {
	root := New(1)
	a := root.Clone()
	b := root.Clone()

	root.Commit(42)

	require.Eventually(t, func() bool { return root.Check() || root.Get() == 42 }, time.Second, time.Millisecond)
	assert.Equal(t, 42, root.Get())

	a.Wait()
	assert.Equal(t, 42, a.Get())

	b.Wait()
	assert.Equal(t, 42, b.Get())
}

func TestDropDeregistersMirror(t *testing.T) {
	root := New("init")
	mirror := root.Clone()
	mirror.Drop()

	root.Commit("changed")
	// mirror's channel was removed; Check should never see the broadcast.
	assert.False(t, mirror.Check())
}
