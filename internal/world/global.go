package world

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/blockworld/server/internal/actor"
)

// Global is the root of the world hierarchy (§3, §4.H): one per server
// process, keyed by world UUID. A Region that exhausts its adjacency map
// forwards to its World; a World that sees a foreign target world id
// forwards here, and Global dispatches to the addressed world directly.
type Global struct {
	log *slog.Logger

	task    *actor.TaskManage[uuid.UUID]
	Mailbox actor.Mailbox
	worlds  map[uuid.UUID]*WorldManage
}

// NewGlobal constructs and starts the Global actor.
func NewGlobal(log *slog.Logger) *Global {
	if log == nil {
		log = slog.Default()
	}
	g := &Global{log: log, worlds: make(map[uuid.UUID]*WorldManage)}
	task, self := actor.NewTaskManage[uuid.UUID](nil, g, log)
	g.task = task
	g.Mailbox = self
	task.Run()
	return g
}

// RegisterWorld adds an already-constructed WorldManage to the registry
// (call after NewWorldManage + Init).
func (g *Global) RegisterWorld(w *WorldManage) {
	g.worlds[w.ID] = w
	g.task.Children.Put(w.ID, w.Mailbox)
}

// World returns a registered world's mailbox, if any.
func (g *Global) World(id uuid.UUID) (actor.Mailbox, bool) {
	mb, ok := g.task.Children.Get(id)
	return mb, ok
}

// HandleEnvelope implements actor.ManageHandler[uuid.UUID].
func (g *Global) HandleEnvelope(self actor.Mailbox, children *actor.Children[uuid.UUID], msg any) (bool, error) {
	switch env := msg.(type) {
	case *actor.Req[GetChunkReq]:
		req := env.Payload
		reply := req
		reply.Mailbox, reply.Found = nil, false
		if mb, ok := children.Get(req.WorldID); ok {
			reply = actor.NewReq(req).AwaitReply(mb)
		}
		if rs := env.ReplySender(); rs != nil {
			rs <- reply
		}
		return false, nil

	case *actor.Req[CreateChunkReq]:
		req := env.Payload
		reply := req
		reply.Mailbox, reply.Created = nil, false
		if mb, ok := children.Get(req.WorldID); ok {
			reply = actor.NewReq(req).AwaitReply(mb)
		}
		if rs := env.ReplySender(); rs != nil {
			rs <- reply
		}
		return false, nil

	case *actor.OneWay[SendChunkCommandMsg]:
		if mb, ok := children.Get(env.Payload.WorldID); ok {
			actor.NewOneWay(env.Payload).Post(mb)
		}
		return false, nil

	case actor.Close:
		return false, nil
	}
	return false, nil
}
