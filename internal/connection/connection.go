// Package connection implements the Connection Actor (§4.C): the per-socket
// state machine driving handshake, then a branch into the status or login
// path, and past a successful login a pair of forwarding goroutines that
// hand frames to and from the Player Pipeline. Generalized from the
// teacher's internal/login.Client (a plain per-socket struct addressed from
// the accept loop) into the actor runtime's Task shape so the accept
// manager can broadcast shutdown to it like any other child.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/blockworld/server/internal/actor"
	"github.com/blockworld/server/internal/crypto"
	"github.com/blockworld/server/internal/login"
	"github.com/blockworld/server/internal/protocol"
	"github.com/blockworld/server/internal/sessionservice"
	"github.com/blockworld/server/internal/transport"
)

const forwardBufferSize = 64

// Config holds the per-connection policy cloned down from the accept
// manager (§4.E "clone key material and config").
type Config struct {
	ProtocolVersion      int32
	OnlineMode           bool
	CompressionThreshold int32
	StatusIdleTimeout    time.Duration // 0 = no timeout
}

// StatusProvider answers the Status-phase JSON request.
type StatusProvider interface {
	StatusJSON() string
}

// LoginChecker gates a UUID/IP pair, backed by the accept manager (§4.E).
type LoginChecker interface {
	LoginCheck(ctx context.Context, id uuid.UUID, ip string) (bool, string)
}

// HasJoiner performs the session-service identity check (§4.D.4).
type HasJoiner interface {
	HasJoined(ctx context.Context, username, serverHash, clientIP string) (sessionservice.Profile, error)
}

// LogicManager hands a freshly authenticated connection off to its Player
// Pipeline (§4.F), returning the pipeline's mailbox or an error (duplicate
// session, logic service unavailable).
type LogicManager interface {
	NewPlayerConnect(ctx context.Context, player login.Player, clientIP string, reader <-chan []byte, writer chan<- []byte) (actor.Mailbox, error)
}

// CloseNotifier tells the accept manager this connection's child entry can
// be removed.
type CloseNotifier interface {
	ConnClose(addr string)
}

// Connection is the per-socket actor. The blocking read/dispatch work runs
// on its own goroutine (serve); the mailbox only ever carries the shared
// Close/shutdown broadcast, matching §5's "suspension points are I/O
// awaits, mailbox receives" model.
type Connection struct {
	conn *transport.FramedConn
	addr string
	ip   string
	log  *slog.Logger
	cfg  Config
	keys *crypto.RSAKeyPair

	status      StatusProvider
	loginCheck  LoginChecker
	hasJoiner   HasJoiner
	registry    *login.OnlineRegistry
	logic       LogicManager
	closeNotify CloseNotifier

	state  protocol.State
	player uuid.UUID

	task    *actor.Task
	Mailbox actor.Mailbox
}

// NewConnection wraps a freshly accepted socket. The caller must call Run.
func NewConnection(
	conn net.Conn,
	keys *crypto.RSAKeyPair,
	cfg Config,
	status StatusProvider,
	loginCheck LoginChecker,
	hasJoiner HasJoiner,
	registry *login.OnlineRegistry,
	logic LogicManager,
	closeNotify CloseNotifier,
	parent actor.Mailbox,
	log *slog.Logger,
) *Connection {
	if log == nil {
		log = slog.Default()
	}
	ip, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	c := &Connection{
		conn:        transport.NewFramedConn(conn),
		addr:        conn.RemoteAddr().String(),
		ip:          ip,
		log:         log,
		cfg:         cfg,
		keys:        keys,
		status:      status,
		loginCheck:  loginCheck,
		hasJoiner:   hasJoiner,
		registry:    registry,
		logic:       logic,
		closeNotify: closeNotify,
		state:       protocol.StateHandshake,
	}
	task, self := actor.NewTask(parent, c, log)
	c.task = task
	c.Mailbox = self
	return c
}

// Run spawns the actor loop (for the shutdown broadcast) and the blocking
// serve loop.
func (c *Connection) Run() {
	c.task.Run()
	go func() {
		defer c.cleanup()
		c.serve()
	}()
}

// HandleEnvelope implements actor.Handler. The only message a connection
// ever receives on its mailbox is the manager's shutdown broadcast
// (delivered as actor.Close by the generic runtime), since every other
// interaction is driven by the socket itself.
func (c *Connection) HandleEnvelope(self actor.Mailbox, msg any) (bool, error) {
	if _, ok := msg.(actor.Close); ok {
		c.conn.Close()
		return true, nil
	}
	return false, nil
}

func (c *Connection) cleanup() {
	if c.player != uuid.Nil {
		c.registry.Unregister(c.player)
	}
	c.conn.Close()
	if c.closeNotify != nil {
		c.closeNotify.ConnClose(c.addr)
	}
}

// serve implements §4.C's top-level dispatch: one Handshake packet, then a
// branch on next_state.
func (c *Connection) serve() {
	hs, err := c.readHandshake()
	if err != nil {
		c.log.Debug("handshake failed", "addr", c.addr, "err", err)
		return
	}

	switch hs.NextState {
	case 1:
		c.state = protocol.StateStatus
		c.runStatus()
	case 2:
		c.state = protocol.StateLogin
		if hs.ProtocolVersion != c.cfg.ProtocolVersion {
			c.disconnectLogin(fmt.Sprintf("Unsupported protocol version %d, server requires %d", hs.ProtocolVersion, c.cfg.ProtocolVersion))
			return
		}
		c.runLogin()
	default:
		c.log.Debug("unknown next_state in handshake", "addr", c.addr, "next_state", hs.NextState)
	}
}

func (c *Connection) readFrame() (opcode int32, rest []byte, err error) {
	payload, err := c.conn.ReadFrame()
	if err != nil {
		return 0, nil, err
	}
	r := protocol.NewReader(payload)
	opcode, err = r.VarInt()
	if err != nil {
		return 0, nil, fmt.Errorf("connection: protocol violation decoding opcode: %w", err)
	}
	return opcode, r.Rest(), nil
}

func (c *Connection) readHandshake() (protocol.Handshake, error) {
	opcode, rest, err := c.readFrame()
	if err != nil {
		return protocol.Handshake{}, err
	}
	if opcode != protocol.OpHandshakeSetProtocol {
		return protocol.Handshake{}, fmt.Errorf("connection: expected handshake opcode, got 0x%02X", opcode)
	}
	return protocol.DecodeHandshake(rest)
}

// runStatus implements §4.C step 2: request/response JSON, ping echo, idle
// timeout, drop-unknown.
func (c *Connection) runStatus() {
	for {
		if c.cfg.StatusIdleTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.StatusIdleTimeout)); err != nil {
				c.log.Debug("setting status read deadline failed", "addr", c.addr, "err", err)
				return
			}
		}
		opcode, rest, err := c.readFrame()
		if err != nil {
			return
		}
		switch opcode {
		case protocol.OpStatusRequest:
			if err := c.conn.WriteFrame(protocol.EncodeStatusResponse(c.status.StatusJSON())); err != nil {
				return
			}
		case protocol.OpStatusPing:
			ping, err := protocol.DecodeStatusPing(rest)
			if err != nil {
				return
			}
			if err := c.conn.WriteFrame(protocol.EncodeStatusPong(ping.Payload)); err != nil {
				return
			}
		default:
			c.log.Debug("dropping unknown status opcode", "addr", c.addr, "opcode", opcode)
		}
	}
}

// runLogin implements §4.D's sequential message flow.
func (c *Connection) runLogin() {
	opcode, rest, err := c.readFrame()
	if err != nil {
		c.log.Debug("login: reading LoginStart failed", "addr", c.addr, "err", err)
		return
	}
	if opcode != protocol.OpLoginStart {
		c.disconnectLogin("Unexpected login packet")
		return
	}
	ls, err := protocol.DecodeLoginStart(rest)
	if err != nil {
		c.disconnectLogin("Malformed LoginStart")
		return
	}
	player := login.Player{UUID: ls.UUID, Username: ls.Username}

	canLogin, reason := c.loginCheck.LoginCheck(context.Background(), player.UUID, c.ip)
	if !canLogin {
		c.disconnectLogin(reason)
		return
	}
	if c.registry.IsOnline(player.UUID) {
		c.disconnectLogin("You are already connected to this server")
		return
	}

	if c.cfg.CompressionThreshold >= 0 {
		if err := c.conn.WriteFrame(protocol.EncodeSetCompression(c.cfg.CompressionThreshold)); err != nil {
			return
		}
		c.conn.Compression.Enable(c.cfg.CompressionThreshold)
	}

	if c.cfg.OnlineMode {
		if err := c.negotiateEncryption(&player); err != nil {
			c.disconnectLogin(err.Error())
			return
		}
	}

	if !c.registry.TryRegister(player.UUID) {
		c.disconnectLogin("You are already connected to this server")
		return
	}

	reader := make(chan []byte, forwardBufferSize)
	writer := make(chan []byte, forwardBufferSize)

	_, err = c.logic.NewPlayerConnect(context.Background(), player, c.ip, reader, writer)
	if err != nil {
		c.registry.Unregister(player.UUID)
		c.disconnectLogin("Login failed: " + err.Error())
		return
	}
	c.player = player.UUID

	success := protocol.LoginSuccess{UUID: player.UUID, Username: player.Username, Properties: player.Properties}
	if err := c.conn.WriteFrame(success.Encode()); err != nil {
		return
	}

	opcode, _, err = c.readFrame()
	if err != nil {
		return
	}
	if opcode != protocol.OpLoginAcknowledged {
		c.disconnectLogin("Expected LoginAcknowledged")
		return
	}
	c.state = protocol.StateConfiguration

	c.forward(reader, writer)
}

// negotiateEncryption implements §4.D.2–§4.D.4: the online-mode branch,
// RSA/CFB8 key exchange, server-hash computation, and the session-service
// hand-off. player is replaced in place with the authoritative identity.
func (c *Connection) negotiateEncryption(player *login.Player) error {
	token, err := login.NewVerifyToken()
	if err != nil {
		return err
	}
	req := login.BuildEncryptionRequest(c.keys.PublicKeyDER, token)
	if err := c.conn.WriteFrame(req.Encode()); err != nil {
		return err
	}

	opcode, rest, err := c.readFrame()
	if err != nil {
		return err
	}
	if opcode != protocol.OpLoginEncryptionResp {
		return fmt.Errorf("connection: expected EncryptionResponse, got 0x%02X", opcode)
	}
	resp, err := protocol.DecodeEncryptionResponse(rest)
	if err != nil {
		return fmt.Errorf("connection: malformed EncryptionResponse: %w", err)
	}

	sharedSecret, err := login.DecryptEncryptionResponse(c.keys.PrivateKey, resp, token)
	if err != nil {
		return err
	}
	if err := c.conn.EnableEncryption(sharedSecret); err != nil {
		return err
	}

	serverHash := login.ComputeServerHash(sharedSecret, c.keys.PublicKeyDER)
	profile, err := c.hasJoiner.HasJoined(context.Background(), player.Username, serverHash, c.ip)
	if err != nil {
		return fmt.Errorf("session service rejected join: %w", err)
	}
	*player = login.Authenticate(profile)
	return nil
}

// disconnectLogin emits a login-phase Disconnect frame with a JSON reason.
func (c *Connection) disconnectLogin(reason string) {
	body, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: reason})
	if err != nil {
		body = []byte(`{"text":"disconnected"}`)
	}
	_ = c.conn.WriteFrame(protocol.EncodeDisconnect(protocol.OpLoginDisconnect, string(body)))
}

// forward implements the bidirectional shutdown pattern from §4.B: two
// forwarding loops, reader->logic and logic->writer, that collapse on the
// first error since both sides share the same underlying socket.
func (c *Connection) forward(reader chan<- []byte, writer <-chan []byte) {
	done := make(chan struct{})
	go c.writeLoop(writer, done)
	c.readLoop(reader)
	<-done
}

func (c *Connection) readLoop(reader chan<- []byte) {
	defer close(reader)
	for {
		payload, err := c.conn.ReadFrame()
		if err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				c.log.Debug("read failed, closing connection", "addr", c.addr, "err", err)
			}
			c.conn.Close()
			return
		}
		reader <- payload
	}
}

func (c *Connection) writeLoop(writer <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for payload := range writer {
		if err := c.conn.WriteFrame(payload); err != nil {
			c.log.Debug("write failed, closing connection", "addr", c.addr, "err", err)
			break
		}
	}
	// The writer channel only closes when the logic side tears down
	// (normal disconnect, heartbeat timeout, or a write error above);
	// closing the socket here unblocks readLoop's blocking ReadFrame so
	// the whole connection exits promptly rather than leaking a goroutine
	// parked on a socket nobody writes to again.
	c.conn.Close()
}
