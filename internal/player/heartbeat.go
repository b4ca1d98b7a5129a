// Package player implements the Player Pipeline (§4.F) and its Heartbeat
// sub-actor (§4.G).
package player

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/blockworld/server/internal/actor"
)

// Phase is the heartbeat's notion of which wire phase it's probing in —
// Configuration and Play each have their own keep-alive opcodes, but the
// liveness bookkeeping is identical.
type Phase int

const (
	PhaseConfiguration Phase = iota
	PhasePlay
)

// Sender abstracts "emit a phase-appropriate keep-alive frame with this id"
// so the heartbeat actor doesn't depend on the connection/protocol layer.
type Sender interface {
	SendKeepAlive(id int64, phase Phase) error
}

// TimeoutNotifier is the manager collaborator notified when a connection
// exceeds its consecutive-miss budget.
type TimeoutNotifier interface {
	Timeout(player uuid.UUID, phase Phase)
}

type pendingProbe struct {
	sentAt time.Time
	phase  Phase
}

// tickMsg drives the 1-second-granularity timer.
type tickMsg struct{ now time.Time }

// ackMsg is the client's keep-alive response with echoed id.
type ackMsg struct{ id int64 }

// phaseChangeMsg updates the current phase (Configuration->Play).
type phaseChangeMsg struct{ phase Phase }

// Heartbeat is the per-connection heartbeat actor (§3 "Heartbeat State",
// §4.G).
type Heartbeat struct {
	player   uuid.UUID
	sender   Sender
	notifier TimeoutNotifier
	log      *slog.Logger

	interval           time.Duration
	timeout            time.Duration
	maxConsecutiveMiss int

	lastID            int64
	pending           map[int64]pendingProbe
	consecutiveMisses int
	phase             Phase
	lastSendAt        time.Time

	task    *actor.Task
	Mailbox actor.Mailbox
	stop    chan struct{}
}

// NewHeartbeat constructs and wires a Heartbeat actor for one connection.
func NewHeartbeat(playerID uuid.UUID, sender Sender, notifier TimeoutNotifier, interval, timeout time.Duration, maxConsecutiveMiss int, parent actor.Mailbox, log *slog.Logger) *Heartbeat {
	if log == nil {
		log = slog.Default()
	}
	h := &Heartbeat{
		player:             playerID,
		sender:             sender,
		notifier:           notifier,
		log:                log,
		interval:           interval,
		timeout:            timeout,
		maxConsecutiveMiss: maxConsecutiveMiss,
		pending:            make(map[int64]pendingProbe),
		phase:              PhaseConfiguration,
		stop:               make(chan struct{}),
	}
	task, self := actor.NewTask(parent, h, log)
	h.task = task
	h.Mailbox = self
	return h
}

// Run starts the actor loop and the 1-second ticker goroutine.
func (h *Heartbeat) Run() {
	h.task.Run()
	go h.ticker()
}

func (h *Heartbeat) ticker() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			actor.NewOneWay(tickMsg{now: now}).Post(h.Mailbox)
		case <-h.stop:
			return
		}
	}
}

// Ack delivers a client keep-alive response with the echoed id.
func (h *Heartbeat) Ack(id int64) {
	actor.NewOneWay(ackMsg{id: id}).Post(h.Mailbox)
}

// SetPhase transitions Configuration<->Play; pending probes drain
// naturally (§4.G).
func (h *Heartbeat) SetPhase(phase Phase) {
	actor.NewOneWay(phaseChangeMsg{phase: phase}).Post(h.Mailbox)
}

// HandleEnvelope implements actor.Handler.
func (h *Heartbeat) HandleEnvelope(self actor.Mailbox, msg any) (bool, error) {
	switch env := msg.(type) {
	case *actor.OneWay[tickMsg]:
		return h.onTick(env.Payload.now)
	case *actor.OneWay[ackMsg]:
		h.onAck(env.Payload.id)
		return false, nil
	case *actor.OneWay[phaseChangeMsg]:
		h.phase = env.Payload.phase
		return false, nil
	case actor.Close:
		close(h.stop)
		return false, nil
	}
	return false, nil
}

func (h *Heartbeat) onTick(now time.Time) (bool, error) {
	if h.lastSendAt.IsZero() || now.Sub(h.lastSendAt) >= h.interval {
		h.lastSendAt = now
		h.lastID++
		id := h.lastID
		h.pending[id] = pendingProbe{sentAt: now, phase: h.phase}
		if err := h.sender.SendKeepAlive(id, h.phase); err != nil {
			h.log.Debug("heartbeat send failed", "player", h.player, "err", err)
		}
	}

	for id, probe := range h.pending {
		if now.Sub(probe.sentAt) > h.timeout {
			delete(h.pending, id)
			h.consecutiveMisses++
			if h.consecutiveMisses >= h.maxConsecutiveMiss {
				h.notifier.Timeout(h.player, probe.phase)
				return true, nil
			}
		}
	}
	return false, nil
}

func (h *Heartbeat) onAck(id int64) {
	if _, ok := h.pending[id]; ok {
		delete(h.pending, id)
		h.consecutiveMisses = 0
		return
	}
	h.log.Debug("stale keep-alive ack ignored", "player", h.player, "id", id)
}
