package world

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/blockworld/server/internal/actor"
)

// JoinPos is the spawn coordinate handed to newly joining players.
type JoinPos struct {
	X, Y, Z float64
}

// MapRange is the rectangular region bound eagerly spawned at world init,
// in region coordinates (inclusive).
type MapRange struct {
	MinX, MinZ, MaxX, MaxZ int32
}

// RegionFactory constructs and starts a RegionManage for pos, wired to
// parent; abstracted so WorldManage doesn't need to know about region file
// storage directly.
type RegionFactory func(pos RegionPos, worldID uuid.UUID, parent actor.Mailbox) *RegionManage

// WorldManage owns one world's region map (§3 "WorldManage Node", §4.H
// "WorldManage routing policy"): it is a TaskManage keyed by RegionPos.
type WorldManage struct {
	ID        uuid.UUID
	Dir       string
	MapRange  MapRange
	JoinPos   JoinPos
	viewDist  int32
	factory   RegionFactory
	log       *slog.Logger

	task    *actor.TaskManage[RegionPos]
	Parent  actor.Mailbox
	Mailbox actor.Mailbox
	regions map[RegionPos]*RegionManage
}

// NewWorldManage constructs and starts a WorldManage actor. dir is the
// world's on-disk directory (`<world-uuid>/{region/,data/}`), verified
// writable via a `.write_test` probe per §5.
func NewWorldManage(id uuid.UUID, dir string, mr MapRange, join JoinPos, viewDist int32, parent actor.Mailbox, factory RegionFactory, log *slog.Logger) (*WorldManage, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := verifyWritable(dir); err != nil {
		return nil, err
	}
	w := &WorldManage{
		ID:       id,
		Dir:      dir,
		MapRange: mr,
		JoinPos:  join,
		viewDist: viewDist,
		factory:  factory,
		Parent:   parent,
		regions:  make(map[RegionPos]*RegionManage),
	}
	task, self := actor.NewTaskManage[RegionPos](parent, w, log)
	w.task = task
	w.Mailbox = self
	w.log = log
	task.Run()
	return w, nil
}

// verifyWritable probes dir (and its region/ and data/ subdirectories) with
// a throwaway file, per §5's "World directory layout" requirement.
func verifyWritable(dir string) error {
	for _, sub := range []string{"region", "data"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return err
		}
		probe := filepath.Join(path, ".write_test")
		if err := os.WriteFile(probe, nil, 0o644); err != nil {
			return err
		}
		_ = os.Remove(probe)
	}
	return nil
}

// Init enumerates every region intersecting MapRange ∪ view_region(JoinPos,
// viewDist) (deduplicated), spawning a RegionManage for each and wiring up
// its 8-direction adjacency slots to any already-spawned neighbours.
func (w *WorldManage) Init() {
	positions := w.initialRegions()
	for pos := range positions {
		w.spawnRegion(pos)
	}
	for pos, r := range w.regions {
		for d := Direction(0); d < directionCount; d++ {
			dx, dz := d.Offset()
			neighbourPos := RegionPos{X: pos.X + dx, Z: pos.Z + dz}
			if neighbour, ok := w.regions[neighbourPos]; ok {
				r.SetAdjacent(d, neighbour.Mailbox)
			}
		}
	}
}

func (w *WorldManage) spawnRegion(pos RegionPos) {
	if _, ok := w.regions[pos]; ok {
		return
	}
	w.regions[pos] = w.factory(pos, w.ID, w.Mailbox)
	w.task.Children.Put(pos, w.regions[pos].Mailbox)
}

func (w *WorldManage) initialRegions() map[RegionPos]struct{} {
	out := make(map[RegionPos]struct{})
	for x := w.MapRange.MinX; x <= w.MapRange.MaxX; x++ {
		for z := w.MapRange.MinZ; z <= w.MapRange.MaxZ; z++ {
			out[RegionPos{X: x, Z: z}] = struct{}{}
		}
	}
	joinChunk := ChunkPos{X: BlockToChunk(int64(w.JoinPos.X)), Z: BlockToChunk(int64(w.JoinPos.Z))}
	joinRegion := joinChunk.RegionOf()
	for dx := -w.viewDist; dx <= w.viewDist; dx++ {
		for dz := -w.viewDist; dz <= w.viewDist; dz++ {
			out[RegionPos{X: joinRegion.X + dx, Z: joinRegion.Z + dz}] = struct{}{}
		}
	}
	return out
}

// HandleEnvelope implements actor.ManageHandler[RegionPos].
func (w *WorldManage) HandleEnvelope(self actor.Mailbox, children *actor.Children[RegionPos], msg any) (bool, error) {
	switch env := msg.(type) {
	case *actor.Req[GetChunkReq]:
		reply := w.routeFromRegion(children, env.Payload)
		if rs := env.ReplySender(); rs != nil {
			rs <- reply
		}
		return false, nil

	case *actor.Req[CreateChunkReq]:
		req := env.Payload
		if req.WorldID != uuid.Nil && req.WorldID != w.ID {
			reply := actor.NewReq(req).AwaitReply(w.Parent)
			if rs := env.ReplySender(); rs != nil {
				rs <- reply
			}
			return false, nil
		}
		if mb, ok := children.Get(req.Pos.RegionOf()); ok {
			reply := actor.NewReq(req).AwaitReply(mb)
			if rs := env.ReplySender(); rs != nil {
				rs <- reply
			}
			return false, nil
		}
		req.Mailbox, req.Created = nil, false
		if rs := env.ReplySender(); rs != nil {
			rs <- req
		}
		return false, nil

	case *actor.OneWay[SendChunkCommandMsg]:
		msg := env.Payload
		if msg.WorldID != uuid.Nil && msg.WorldID != w.ID {
			actor.NewOneWay(msg).Post(w.Parent)
			return false, nil
		}
		if mb, ok := children.Get(msg.Pos.RegionOf()); ok {
			actor.NewOneWay(msg).Post(mb)
		}
		return false, nil

	case actor.Close:
		w.log.Debug("world closing on error", "world", w.ID)
		return false, nil
	}
	return false, nil
}

// routeFromRegion implements "World receives requests from its regions when
// they have exhausted their adjacency map: compute region_pos, look up the
// region map, forward or reply None" (§4.H); it also handles the
// GetOtherWorldX case for a world that turns out to be self.
func (w *WorldManage) routeFromRegion(children *actor.Children[RegionPos], req GetChunkReq) GetChunkReq {
	if req.WorldID != uuid.Nil && req.WorldID != w.ID {
		// Not this world either: the Global parent resolves cross-world.
		return actor.NewReq(req).AwaitReply(w.Parent)
	}
	if mb, ok := children.Get(req.Pos.RegionOf()); ok {
		return actor.NewReq(req).AwaitReply(mb)
	}
	req.Mailbox, req.Found = nil, false
	return req
}
