// Command server boots the game server process (§4.K): config, database,
// World Hierarchy, Accept Manager, then blocks until a shutdown signal
// drains every connection. Sequenced the same way as the teacher's
// cmd/loginserver/main.go's run(ctx).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/blockworld/server/internal/accept"
	"github.com/blockworld/server/internal/actor"
	"github.com/blockworld/server/internal/config"
	"github.com/blockworld/server/internal/connection"
	"github.com/blockworld/server/internal/crypto"
	"github.com/blockworld/server/internal/db"
	"github.com/blockworld/server/internal/login"
	"github.com/blockworld/server/internal/player"
	"github.com/blockworld/server/internal/regionfile"
	"github.com/blockworld/server/internal/sessionservice"
	"github.com/blockworld/server/internal/world"
)

const configPathEnv = "BLOCKWORLD_CONFIG"
const defaultConfigPath = "config/server.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))
	log := slog.Default()
	log.Info("blockworld server starting")

	cfgPath := defaultConfigPath
	if p := os.Getenv(configPathEnv); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("config loaded", "bind", cfg.BindAddress, "port", cfg.Port, "online_mode", cfg.OnlineMode)

	levels := map[string]slog.Level{"debug": slog.LevelDebug, "warn": slog.LevelWarn, "error": slog.LevelError}
	if level, ok := levels[cfg.LogLevel]; ok {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
		log = slog.Default()
	}

	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()
	log.Info("database connected")

	if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations applied")

	banRepo := db.NewBanRepository(database.Pool())
	whitelistRepo := db.NewWhitelistRepository(database.Pool())
	accountRepo := db.NewPlayerAccountRepository(database.Pool())

	registry := login.NewOnlineRegistry()
	sessionClient := sessionservice.NewClient(cfg.SessionServiceBaseURL, uint64(cfg.SessionServiceRetries))

	global := world.NewGlobal(log)
	overworldID := uuid.New()
	regionStore := regionfile.NewManager(filepath.Join(cfg.WorldDirectory, "region"), regionfile.CompressionZlib)
	chunkLoader := world.NewRegionFileChunkLoader(regionStore)

	regionFactory := func(pos world.RegionPos, worldID uuid.UUID, parent actor.Mailbox) *world.RegionManage {
		return world.NewRegionManage(pos, worldID, parent, chunkLoader, false, log)
	}

	overworld, err := world.NewWorldManage(
		overworldID,
		cfg.WorldDirectory,
		world.MapRange{MinX: -2, MinZ: -2, MaxX: 2, MaxZ: 2},
		world.JoinPos{X: 0, Y: 64, Z: 0},
		cfg.ViewDistance,
		global.Mailbox,
		regionFactory,
		log,
	)
	if err != nil {
		return fmt.Errorf("constructing overworld: %w", err)
	}
	overworld.Init()
	global.RegisterWorld(overworld)

	playerListService := &playerRosterAdapter{}

	playerMgr := player.NewManager(player.Config{
		HeartbeatInterval:  cfg.HeartbeatIntervalDuration(),
		HeartbeatTimeout:   cfg.HeartbeatTimeoutDuration(),
		MaxConsecutiveMiss: cfg.MaxConsecutiveMiss,
		ViewDistance:       cfg.ViewDistance,
		WorldSeed:          cfg.WorldSeed,
	}, playerListService, registry, log)

	status := newStatusProvider(cfg)

	var acceptMgr *accept.Manager
	connFactory := func(conn net.Conn, keys *crypto.RSAKeyPair) actor.Mailbox {
		c := connection.NewConnection(
			conn,
			keys,
			connection.Config{
				ProtocolVersion:      cfg.ProtocolVersion,
				OnlineMode:           cfg.OnlineMode,
				CompressionThreshold: cfg.CompressionThreshold,
				StatusIdleTimeout:    cfg.StatusIdleTimeout(),
			},
			status,
			acceptMgr,
			loginHasJoiner{client: sessionClient, accounts: accountRepo},
			registry,
			playerMgr,
			acceptMgr,
			nil,
			log,
		)
		c.Run()
		return c.Mailbox
	}

	acceptMgr, err = accept.NewManager(accept.Config{
		BindAddr:            fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port),
		RateLimitWindow:     cfg.RateLimitWindowDuration(),
		RateLimitMaxAttempt: cfg.RateLimitMaxConns,
	}, banRepo, whitelistRepo, connFactory, log)
	if err != nil {
		return fmt.Errorf("starting accept manager: %w", err)
	}
	acceptMgr.Start(ctx)
	log.Info("listening", "addr", acceptMgr.Addr())

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-gctx.Done()
		acceptMgr.Shutdown("server shutting down")
		return nil
	})

	return group.Wait()
}

// playerRosterAdapter is the in-memory player-list collaborator (§3's
// player-list); persistence-backed session history lives in
// PlayerAccountRepository instead.
type playerRosterAdapter struct{}

func (playerRosterAdapter) Join(id uuid.UUID, username string) {
	slog.Info("player joined", "uuid", id, "username", username)
}

func (playerRosterAdapter) Leave(id uuid.UUID) {
	slog.Info("player left", "uuid", id)
}

// loginHasJoiner adapts the session-service client plus the player-account
// ledger to connection.HasJoiner: every successful identity check is
// recorded in the ledger before returning the profile.
type loginHasJoiner struct {
	client   *sessionservice.Client
	accounts *db.PlayerAccountRepository
}

func (h loginHasJoiner) HasJoined(ctx context.Context, username, serverHash, clientIP string) (sessionservice.Profile, error) {
	profile, err := h.client.HasJoined(ctx, username, serverHash, clientIP)
	if err != nil {
		return profile, err
	}
	if err := h.accounts.RecordLogin(ctx, profile.UUID, profile.Username, clientIP); err != nil {
		slog.Warn("recording login failed", "uuid", profile.UUID, "err", err)
	}
	return profile, nil
}

// statusProvider renders the static MOTD JSON from config (§4.C's Status
// path).
type statusProvider struct {
	json string
}

func newStatusProvider(cfg config.Server) statusProvider {
	return statusProvider{json: fmt.Sprintf(
		`{"version":{"name":"1.21","protocol":%d},"players":{"max":100,"online":0},"description":{"text":"A blockworld server"}}`,
		cfg.ProtocolVersion,
	)}
}

func (s statusProvider) StatusJSON() string { return s.json }
