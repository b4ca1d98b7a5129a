package world

import (
	"log/slog"

	"github.com/blockworld/server/internal/actor"
)

// ChunkCommand is the one-way SendChunkCommand payload (§4.H); the
// chunk-internal data model is out of scope (consumed as an opaque event),
// so the handler here accepts and discards it and is the extension point a
// full implementation would hook block/entity mutation into.
type ChunkCommand struct {
	Event string
}

// chunkCloseMsg requests a graceful close; the chunk replies once
// persisted.
type chunkCloseMsg struct{}

// Chunk is the leaf actor of the world hierarchy (§3 "Chunk"). Its NBT
// payload is an opaque blob here — the codec is an external collaborator
// per §1's Non-goals.
type Chunk struct {
	Pos  ChunkPos
	data []byte

	task    *actor.Task
	Mailbox actor.Mailbox
}

// NewChunk constructs and starts a chunk actor for pos, seeded with its
// on-disk payload (nil if freshly created).
func NewChunk(pos ChunkPos, data []byte, parent actor.Mailbox, log *slog.Logger) *Chunk {
	c := &Chunk{Pos: pos, data: data}
	task, self := actor.NewTask(parent, c, log)
	c.task = task
	c.Mailbox = self
	task.Run()
	return c
}

// HandleEnvelope implements actor.Handler.
func (c *Chunk) HandleEnvelope(self actor.Mailbox, msg any) (bool, error) {
	switch env := msg.(type) {
	case *actor.OneWay[ChunkCommand]:
		_ = env.Payload // opaque event, no in-scope interpretation
		return false, nil
	case *actor.Req[chunkCloseMsg]:
		if r := env.ReplySender(); r != nil {
			r <- chunkCloseMsg{}
		}
		return true, nil
	case actor.Close:
		return false, nil
	}
	return false, nil
}

// Data returns the chunk's current opaque payload, for region-file
// persistence.
func (c *Chunk) Data() []byte { return c.data }
