package accept

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/blockworld/server/internal/actor"
	"github.com/blockworld/server/internal/crypto"
)

// BlacklistService is the abstract collaborator consulted for a ban
// reason; nil, nil means not banned.
type BlacklistService interface {
	BanReason(ctx context.Context, id uuid.UUID, ip string) (reason *string, err error)
}

// WhitelistService is the abstract collaborator consulted for a kick
// reason when whitelist enforcement is active; nil, nil means allowed.
type WhitelistService interface {
	KickReason(ctx context.Context, id uuid.UUID) (reason *string, err error)
}

// ConnFactory constructs and starts a Connection Actor for a freshly
// accepted socket, returning its mailbox for the child registry.
type ConnFactory func(conn net.Conn, keys *crypto.RSAKeyPair) actor.Mailbox

// Config holds the manager's static policy knobs.
type Config struct {
	BindAddr           string
	RateLimitWindow    time.Duration
	RateLimitMaxAttempt int
	ProxyMode          bool
}

// loginCheckMsg is the Req payload for LoginCheck; the handler mutates
// CanLogin/Reason in place before replying (Req[P]'s reply channel carries
// the same type P as the request).
type loginCheckMsg struct {
	uuid uuid.UUID
	ip   string

	CanLogin bool
	Reason   string
}

// connCloseMsg is the OneWay payload for ConnClose.
type connCloseMsg struct {
	addr string
}

// shutdownMsg is the OneWay payload for Shutdown.
type shutdownMsg struct {
	reason string
}

// sweepMsg triggers a rate-limiter sweep; sent by the internal ticker.
type sweepMsg struct{}

// Manager is the Accept Manager actor (§4.E): owns the listener, the RSA
// keypair, the rate limiter, and the blacklist/whitelist gate. It is a
// TaskManage keyed by remote address string (one child Connection Actor per
// socket).
type Manager struct {
	cfg        Config
	listener   net.Listener
	keys       *crypto.RSAKeyPair
	limiter    *RateLimiter
	blacklist  BlacklistService
	whitelist  WhitelistService
	connFactory ConnFactory
	log        *slog.Logger

	task     *actor.TaskManage[string]
	Mailbox  actor.Mailbox
}

// NewManager binds the listener and constructs the manager actor but does
// not yet start accepting (call Start).
func NewManager(cfg Config, blacklist BlacklistService, whitelist WhitelistService, connFactory ConnFactory, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	keys, err := crypto.GenerateRSAKeyPair()
	if err != nil {
		return nil, fmt.Errorf("accept: generating RSA keypair: %w", err)
	}
	listener, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("accept: binding %s: %w", cfg.BindAddr, err)
	}

	m := &Manager{
		cfg:         cfg,
		listener:    listener,
		keys:        keys,
		limiter:     NewRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMaxAttempt),
		blacklist:   blacklist,
		whitelist:   whitelist,
		connFactory: connFactory,
		log:         log,
	}
	task, self := actor.NewTaskManage[string](nil, m, log)
	m.task = task
	m.Mailbox = self
	return m, nil
}

// Addr returns the bound listener address.
func (m *Manager) Addr() net.Addr { return m.listener.Addr() }

// Keys returns the manager's RSA keypair, read-only after construction and
// shared by every spawned connection (§5 "Shared resources").
func (m *Manager) Keys() *crypto.RSAKeyPair { return m.keys }

// Start spawns the actor loop, the accept loop, and the periodic sweeper.
func (m *Manager) Start(ctx context.Context) {
	m.task.Run()
	go m.acceptLoop(ctx)
	go m.sweepLoop(ctx)
}

func (m *Manager) acceptLoop(ctx context.Context) {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			m.log.Warn("accept error", "err", err)
			continue
		}
		ip, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		if !m.limiter.Allow(ip) {
			m.log.Warn("rate limited connection rejected", "ip", ip)
			conn.Close()
			continue
		}
		childMailbox := m.connFactory(conn, m.keys)
		actor.NewOneWay(registerChildMsg{addr: conn.RemoteAddr().String(), mailbox: childMailbox}).Post(m.Mailbox)
	}
}

type registerChildMsg struct {
	addr    string
	mailbox actor.Mailbox
}

func (m *Manager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.listener.Close()
			actor.NewOneWay(shutdownMsg{reason: "server shutting down"}).Post(m.Mailbox)
			return
		case <-ticker.C:
			actor.NewOneWay(sweepMsg{}).Post(m.Mailbox)
		}
	}
}

// LoginCheck gates a UUID/IP pair per §4.E: rate limiter (unless proxy
// mode), then the blacklist service, then the whitelist service.
func (m *Manager) LoginCheck(ctx context.Context, id uuid.UUID, ip string) (bool, string) {
	reply := actor.NewReq(loginCheckMsg{uuid: id, ip: ip}).AwaitReply(m.Mailbox)
	_ = ctx
	return reply.CanLogin, reply.Reason
}

// HandleEnvelope implements actor.ManageHandler[string].
func (m *Manager) HandleEnvelope(self actor.Mailbox, children *actor.Children[string], msg any) (bool, error) {
	switch env := msg.(type) {
	case *actor.OneWay[registerChildMsg]:
		children.Put(env.Payload.addr, env.Payload.mailbox)
		return false, nil

	case *actor.OneWay[connCloseMsg]:
		children.Remove(env.Payload.addr)
		return false, nil

	case *actor.OneWay[sweepMsg]:
		m.limiter.Sweep()
		return false, nil

	case *actor.OneWay[shutdownMsg]:
		// Broadcast the generic actor.Close signal rather than this
		// package's private shutdownMsg: children are arbitrary actor
		// types (Connection among them) that can't name an unexported
		// payload from another package, but every Handler recognises
		// actor.Close.
		for _, child := range children.Snapshot() {
			child <- actor.Close{Reason: fmt.Errorf("%s", env.Payload.reason)}
		}
		return true, nil

	case *actor.Req[loginCheckMsg]:
		reply := m.checkLogin(context.Background(), env.Payload)
		if r := env.ReplySender(); r != nil {
			r <- reply
		}
		return false, nil

	case actor.Close:
		m.listener.Close()
		return false, nil
	}
	return false, nil
}

func (m *Manager) checkLogin(ctx context.Context, req loginCheckMsg) loginCheckMsg {
	if !m.cfg.ProxyMode {
		if !m.limiter.Allow(req.ip) {
			req.CanLogin, req.Reason = false, "rate limited"
			return req
		}
	}
	if m.blacklist != nil {
		reason, err := m.blacklist.BanReason(ctx, req.uuid, req.ip)
		if err != nil {
			m.log.Error("blacklist service error", "err", err)
			req.CanLogin, req.Reason = false, "internal error"
			return req
		}
		if reason != nil {
			req.CanLogin, req.Reason = false, *reason
			return req
		}
	}
	if m.whitelist != nil {
		reason, err := m.whitelist.KickReason(ctx, req.uuid)
		if err != nil {
			m.log.Error("whitelist service error", "err", err)
			req.CanLogin, req.Reason = false, "internal error"
			return req
		}
		if reason != nil {
			req.CanLogin, req.Reason = false, *reason
			return req
		}
	}
	req.CanLogin = true
	return req
}

// ConnClose removes the child registered under addr.
func (m *Manager) ConnClose(addr string) {
	actor.NewOneWay(connCloseMsg{addr: addr}).Post(m.Mailbox)
}

// Shutdown broadcasts Shutdown to every child and terminates the manager.
func (m *Manager) Shutdown(reason string) {
	actor.NewOneWay(shutdownMsg{reason: reason}).Post(m.Mailbox)
}
