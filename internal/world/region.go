package world

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/blockworld/server/internal/actor"
)

// GetChunkReq asks for the mailbox of the chunk at Pos, optionally scoped to
// a different world (§4.H "Other-World" variants route up through World
// first). The handler mutates Mailbox/Found in place before replying, since
// a Req's reply channel carries the same type as its request.
type GetChunkReq struct {
	Pos     ChunkPos
	WorldID uuid.UUID

	Mailbox actor.Mailbox
	Found   bool
}

// CreateChunkReq asks the owning region to create (or return) the chunk at
// Pos, seeding it from loader if present.
type CreateChunkReq struct {
	Pos     ChunkPos
	WorldID uuid.UUID

	Mailbox actor.Mailbox
	Created bool
}

// SendChunkCommandMsg is the one-way routed command (§4.H).
type SendChunkCommandMsg struct {
	Pos     ChunkPos
	Event   string
	WorldID uuid.UUID
}

// RegionCloseMsg is sent by an adjacent region that is shutting down; the
// receiver clears the corresponding DirectionMap slot.
type RegionCloseMsg struct {
	Pos RegionPos
}

// RegionCloseCommandMsg triggers graceful region shutdown: every child
// chunk is closed and persisted, then the region itself terminates.
type RegionCloseCommandMsg struct {
	Done bool
}

// ChunkLoader persists/loads chunk payloads; backed by the Region File
// Store (§4.I) in production, an in-memory map in tests.
type ChunkLoader interface {
	LoadChunk(pos ChunkPos) ([]byte, bool, error)
	SaveChunk(pos ChunkPos, data []byte) error
}

// RegionManage is the per-region actor (§3 "RegionManage", §4.H routing
// policy): owns its chunks, forwards to the 8 adjacent regions by
// direction, and falls back to the parent World for anything further out.
type RegionManage struct {
	Pos      RegionPos
	WorldID  uuid.UUID
	log      *slog.Logger
	loader   ChunkLoader
	readOnly bool
	adjacent DirectionMap[actor.Mailbox]

	task    *actor.TaskManage[ChunkPos]
	Parent  actor.Mailbox
	Mailbox actor.Mailbox
	chunks  map[ChunkPos]*Chunk
}

// NewRegionManage constructs and starts a RegionManage actor.
func NewRegionManage(pos RegionPos, worldID uuid.UUID, parent actor.Mailbox, loader ChunkLoader, readOnly bool, log *slog.Logger) *RegionManage {
	if log == nil {
		log = slog.Default()
	}
	r := &RegionManage{
		Pos:      pos,
		WorldID:  worldID,
		log:      log,
		loader:   loader,
		readOnly: readOnly,
		Parent:   parent,
		chunks:   make(map[ChunkPos]*Chunk),
	}
	task, self := actor.NewTaskManage[ChunkPos](parent, r, log)
	r.task = task
	r.Mailbox = self
	task.Run()
	return r
}

// SetAdjacent wires a neighbour region's mailbox into this region's
// direction map, enabling O(1) adjacency forwarding without a World
// round-trip.
func (r *RegionManage) SetAdjacent(d Direction, m actor.Mailbox) {
	r.adjacent.Set(d, m)
}

func (r *RegionManage) owns(pos ChunkPos) bool {
	return pos.RegionOf() == r.Pos
}

// adjacentDirection returns the compass slot if pos's region is one of
// this region's 8 neighbours.
func (r *RegionManage) adjacentDirection(target RegionPos) (Direction, bool) {
	dx := target.X - r.Pos.X
	dz := target.Z - r.Pos.Z
	if dx < -1 || dx > 1 || dz < -1 || dz > 1 || (dx == 0 && dz == 0) {
		return 0, false
	}
	d, err := DirectionOf(dx, dz)
	if err != nil {
		return 0, false
	}
	return d, true
}

// HandleEnvelope implements actor.ManageHandler[ChunkPos].
func (r *RegionManage) HandleEnvelope(self actor.Mailbox, children *actor.Children[ChunkPos], msg any) (bool, error) {
	switch env := msg.(type) {
	case *actor.Req[GetChunkReq]:
		reply := r.routeGetChunk(env.Payload)
		if rs := env.ReplySender(); rs != nil {
			rs <- reply
		}
		return false, nil

	case *actor.Req[CreateChunkReq]:
		reply := r.routeCreateChunk(env.Payload)
		if reply.Created {
			children.Put(reply.Pos, reply.Mailbox)
		}
		if rs := env.ReplySender(); rs != nil {
			rs <- reply
		}
		return false, nil

	case *actor.OneWay[SendChunkCommandMsg]:
		r.routeSendCommand(env.Payload)
		return false, nil

	case *actor.OneWay[RegionCloseMsg]:
		if d, ok := r.adjacentDirection(env.Payload.Pos); ok {
			r.adjacent.Clear(d)
		}
		return false, nil

	case *actor.Req[RegionCloseCommandMsg]:
		r.closeGracefully(children)
		if rs := env.ReplySender(); rs != nil {
			rs <- RegionCloseCommandMsg{Done: true}
		}
		return true, nil

	case actor.Close:
		r.log.Debug("region closing on error", "region", r.Pos)
		return false, nil
	}
	return false, nil
}

func (r *RegionManage) routeGetChunk(req GetChunkReq) GetChunkReq {
	if req.WorldID != uuid.Nil && req.WorldID != r.WorldID {
		return actor.NewReq(req).AwaitReply(r.Parent)
	}

	if r.owns(req.Pos) {
		if c, ok := r.chunks[req.Pos]; ok {
			req.Mailbox, req.Found = c.Mailbox, true
		} else {
			req.Found = false
		}
		return req
	}

	if d, ok := r.adjacentDirection(req.Pos.RegionOf()); ok {
		if neighbour, ok := r.adjacent.Get(d); ok {
			return actor.NewReq(req).AwaitReply(neighbour)
		}
	}

	return actor.NewReq(req).AwaitReply(r.Parent)
}

func (r *RegionManage) routeCreateChunk(req CreateChunkReq) CreateChunkReq {
	if req.WorldID != uuid.Nil && req.WorldID != r.WorldID {
		return actor.NewReq(req).AwaitReply(r.Parent)
	}

	if r.owns(req.Pos) {
		if c, ok := r.chunks[req.Pos]; ok {
			req.Mailbox, req.Created = c.Mailbox, false
			return req
		}
		if r.readOnly {
			req.Mailbox, req.Created = nil, false
			return req
		}
		var data []byte
		if r.loader != nil {
			if loaded, ok, err := r.loader.LoadChunk(req.Pos); err == nil && ok {
				data = loaded
			}
		}
		c := NewChunk(req.Pos, data, r.Mailbox, r.log)
		r.chunks[req.Pos] = c
		req.Mailbox, req.Created = c.Mailbox, true
		return req
	}

	if d, ok := r.adjacentDirection(req.Pos.RegionOf()); ok {
		if neighbour, ok := r.adjacent.Get(d); ok {
			return actor.NewReq(req).AwaitReply(neighbour)
		}
	}

	return actor.NewReq(req).AwaitReply(r.Parent)
}

func (r *RegionManage) routeSendCommand(msg SendChunkCommandMsg) {
	if msg.WorldID != uuid.Nil && msg.WorldID != r.WorldID {
		actor.NewOneWay(msg).Post(r.Parent)
		return
	}

	if r.owns(msg.Pos) {
		if c, ok := r.chunks[msg.Pos]; ok {
			actor.NewOneWay(ChunkCommand{Event: msg.Event}).Post(c.Mailbox)
		}
		return
	}

	if d, ok := r.adjacentDirection(msg.Pos.RegionOf()); ok {
		if neighbour, ok := r.adjacent.Get(d); ok {
			actor.NewOneWay(msg).Post(neighbour)
			return
		}
	}

	actor.NewOneWay(msg).Post(r.Parent)
}

// closeGracefully persists and terminates every owned chunk, then notifies
// adjacent regions so they clear their direction-map slot for this region.
func (r *RegionManage) closeGracefully(children *actor.Children[ChunkPos]) {
	for pos, c := range r.chunks {
		if r.loader != nil {
			if err := r.loader.SaveChunk(pos, c.Data()); err != nil {
				r.log.Error("saving chunk on region close", "pos", pos, "err", err)
			}
		}
		actor.NewReq(chunkCloseMsg{}).AwaitReply(c.Mailbox)
		children.Remove(pos)
	}
	r.chunks = nil

	for _, entry := range r.adjacent.All() {
		actor.NewOneWay(RegionCloseMsg{Pos: r.Pos}).Post(entry.Val)
	}
}
