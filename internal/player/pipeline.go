package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/blockworld/server/internal/actor"
	"github.com/blockworld/server/internal/login"
	"github.com/blockworld/server/internal/protocol"
)

// PlayerListService is the collaborator notified of join/departure (§4.F
// step 4 / §3's player-list collaborator).
type PlayerListService interface {
	Join(id uuid.UUID, username string)
	Leave(id uuid.UUID)
}

// Config holds the pipeline's static policy, cloned per connection from
// server configuration.
type Config struct {
	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
	MaxConsecutiveMiss int
	ViewDistance       int32
	WorldSeed          int64
}

// Manager constructs and runs one Player Pipeline per successful login. It
// satisfies connection.LogicManager by structural typing — kept decoupled
// from the connection package the way sharedstate and actor are kept
// decoupled from their callers.
type Manager struct {
	cfg        Config
	playerList PlayerListService
	registry   *login.OnlineRegistry
	log        *slog.Logger
}

// NewManager constructs a pipeline Manager.
func NewManager(cfg Config, playerList PlayerListService, registry *login.OnlineRegistry, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{cfg: cfg, playerList: playerList, registry: registry, log: log}
}

// NewPlayerConnect implements connection.LogicManager: builds, wires, and
// starts the Player Pipeline actor for a freshly authenticated connection,
// per §4.F step 1.
func (m *Manager) NewPlayerConnect(ctx context.Context, p login.Player, clientIP string, reader <-chan []byte, writer chan<- []byte) (actor.Mailbox, error) {
	pipeline := &Pipeline{
		player:     p,
		clientIP:   clientIP,
		reader:     reader,
		writer:     writer,
		cfg:        m.cfg,
		playerList: m.playerList,
		registry:   m.registry,
		log:        m.log,
	}
	task, self := actor.NewTask(nil, pipeline, m.log)
	pipeline.task = task
	pipeline.Mailbox = self
	pipeline.heartbeat = NewHeartbeat(p.UUID, pipeline, pipeline, m.cfg.HeartbeatInterval, m.cfg.HeartbeatTimeout, m.cfg.MaxConsecutiveMiss, self, m.log)

	task.Run()
	pipeline.heartbeat.Run()
	go pipeline.run()

	return self, nil
}

// stopMsg tells the pipeline actor its driving goroutine has ended (either
// the reader closed, a phase errored, or the heartbeat sub-actor gave up)
// and it's time to tear down.
type stopMsg struct{}

var errStopped = errors.New("player: pipeline stopped")

// Pipeline is the per-player logic actor (§4.F): it owns the Heartbeat
// sub-actor, reads the Configuration-phase handshake, emits the initial
// Play-phase frame sequence, then runs the packet-splitter forwarding loop
// for the remainder of the connection's life.
type Pipeline struct {
	player   login.Player
	clientIP string
	reader   <-chan []byte
	writer   chan<- []byte
	cfg      Config

	playerList PlayerListService
	registry   *login.OnlineRegistry
	log        *slog.Logger

	heartbeat *Heartbeat
	joined    bool

	task    *actor.Task
	Mailbox actor.Mailbox
}

// SendKeepAlive implements Sender for the heartbeat sub-actor.
func (p *Pipeline) SendKeepAlive(id int64, phase Phase) error {
	if phase == PhasePlay {
		return p.send(protocol.EncodePlayKeepAlive(id))
	}
	return p.send(protocol.EncodeConfigKeepAlive(id))
}

// Timeout implements TimeoutNotifier for the heartbeat sub-actor (§4.G
// "notify manager with Timeout(uuid, phase)").
func (p *Pipeline) Timeout(player uuid.UUID, phase Phase) {
	p.log.Info("player exceeded heartbeat miss budget, disconnecting", "player", player, "phase", phase)
	actor.NewOneWay(stopMsg{}).Post(p.Mailbox)
}

func (p *Pipeline) send(frame []byte) error {
	p.writer <- frame
	return nil
}

// HandleEnvelope implements actor.Handler. The pipeline's mailbox only
// ever carries stopMsg (from Timeout, or posted by run() when its driving
// goroutine ends) and the generic shutdown/Close signal.
func (p *Pipeline) HandleEnvelope(self actor.Mailbox, msg any) (bool, error) {
	switch msg.(type) {
	case *actor.OneWay[stopMsg]:
		return false, errStopped
	case actor.Close:
		p.teardown()
		return true, nil
	}
	return false, nil
}

func (p *Pipeline) teardown() {
	p.heartbeat.Mailbox <- actor.Close{}
	if p.joined && p.playerList != nil {
		p.playerList.Leave(p.player.UUID)
	}
	if p.registry != nil {
		p.registry.Unregister(p.player.UUID)
	}
	close(p.writer)
}

// run drives the Configuration handshake, the initial Play burst, and the
// packet-splitter loop on its own goroutine, then signals the actor loop
// to tear down (§4.F steps 2–4).
func (p *Pipeline) run() {
	defer actor.NewOneWay(stopMsg{}).Post(p.Mailbox)

	if err := p.configPhase(); err != nil {
		p.log.Debug("configuration phase ended", "player", p.player.UUID, "err", err)
		return
	}
	if err := p.playPhase(); err != nil {
		p.log.Debug("play phase ended", "player", p.player.UUID, "err", err)
		return
	}
	p.splitLoop()
}

// configPhase implements §4.F step 2: dispatch Configuration-phase
// opcodes until FinishConfiguration; the SelectKnownPacks round-trip is
// what authorises the transition to Play (§4.C step 4).
func (p *Pipeline) configPhase() error {
	for frame := range p.reader {
		opcode, rest, err := decodeOpcode(frame)
		if err != nil {
			return err
		}
		switch opcode {
		case protocol.OpConfigClientInformation, protocol.OpConfigCookieResponse,
			protocol.OpConfigPluginMessage, protocol.OpConfigCustomClickAction,
			protocol.OpConfigResourcePackStatus:
			p.log.Debug("configuration frame received", "player", p.player.UUID, "opcode", opcode)

		case protocol.OpConfigKeepAlive:
			id, err := protocol.DecodeConfigKeepAlive(rest)
			if err != nil {
				return err
			}
			p.heartbeat.Ack(id)

		case protocol.OpConfigPong:
			// Response to a server-initiated ping; nothing to track here.

		case protocol.OpConfigSelectKnownPacks:
			if _, err := protocol.DecodeSelectKnownPacks(rest); err != nil {
				return err
			}
			if err := p.send(protocol.EncodeKnownPacks()); err != nil {
				return err
			}
			if err := p.send(protocol.EncodeConfigFinish()); err != nil {
				return err
			}

		case protocol.OpConfigFinishAck:
			return nil

		default:
			p.log.Debug("dropping unknown configuration opcode", "player", p.player.UUID, "opcode", opcode)
		}
	}
	return fmt.Errorf("player: connection closed during configuration")
}

// playPhase implements §4.F step 3: the initial Play-phase frame sequence
// in order, then the player-list join notification.
func (p *Pipeline) playPhase() error {
	p.heartbeat.SetPhase(PhasePlay)

	frames := [][]byte{
		protocol.PlayLogin{EntityID: 1, ViewDistance: p.cfg.ViewDistance}.Encode(),
		protocol.EncodeAdvancementSeed(p.cfg.WorldSeed),
		protocol.EncodeGameStateChange(0),
		protocol.EncodeViewPosition(0, 0),
	}
	for dx := int32(0); dx < p.cfg.ViewDistance; dx++ {
		for dz := int32(0); dz < p.cfg.ViewDistance; dz++ {
			frames = append(frames, protocol.EncodeEmptyChunk(dx, dz))
		}
	}
	frames = append(frames,
		protocol.EncodeTitleText(fmt.Sprintf(`{"text":"Welcome, %s"}`, p.player.Username)),
		protocol.EncodeEmptyWindowItems(),
		protocol.EncodeEmptyDeclareRecipes(),
	)

	for _, frame := range frames {
		if err := p.send(frame); err != nil {
			return err
		}
	}

	if p.playerList != nil {
		p.playerList.Join(p.player.UUID, p.player.Username)
		p.joined = true
	}
	return nil
}

// splitLoop is the packet-splitter sub-actor (§4.F step 3/4): it reads
// each Play-phase frame's opcode and forwards to the appropriate handler,
// preserving per-destination ordering with no cross-destination guarantee.
func (p *Pipeline) splitLoop() {
	for frame := range p.reader {
		opcode, rest, err := decodeOpcode(frame)
		if err != nil {
			p.log.Debug("play: protocol violation, closing", "player", p.player.UUID, "err", err)
			return
		}
		switch opcode {
		case protocol.OpPlayKeepAlive:
			id, err := protocol.DecodePlayKeepAlive(rest)
			if err != nil {
				p.log.Debug("play: malformed keep-alive", "player", p.player.UUID, "err", err)
				return
			}
			p.heartbeat.Ack(id)

		case protocol.OpPlayChatMessage:
			p.log.Info("chat message", "player", p.player.UUID, "username", p.player.Username)

		case protocol.OpPlayChatCommand:
			p.log.Info("chat command", "player", p.player.UUID, "username", p.player.Username)

		default:
			p.log.Debug("dropping unhandled play opcode", "player", p.player.UUID, "opcode", opcode)
		}
	}
}

func decodeOpcode(frame []byte) (opcode int32, rest []byte, err error) {
	r := protocol.NewReader(frame)
	opcode, err = r.VarInt()
	if err != nil {
		return 0, nil, fmt.Errorf("player: protocol violation decoding opcode: %w", err)
	}
	return opcode, r.Rest(), nil
}
