package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BanRepository implements accept.BlacklistService against the bans table.
type BanRepository struct {
	pool *pgxpool.Pool
}

// NewBanRepository constructs a Postgres-backed ban list.
func NewBanRepository(pool *pgxpool.Pool) *BanRepository {
	return &BanRepository{pool: pool}
}

// BanReason implements accept.BlacklistService: nil, nil means not banned. A
// row with a past expires_at is treated as expired and ignored.
func (r *BanRepository) BanReason(ctx context.Context, id uuid.UUID, ip string) (*string, error) {
	var reason string
	var expiresAt *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT reason, expires_at FROM bans WHERE uuid = $1 OR ip = $2 ORDER BY banned_at DESC LIMIT 1`,
		id, ip,
	).Scan(&reason, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying ban for %s/%s: %w", id, ip, err)
	}
	if expiresAt != nil && expiresAt.Before(time.Now()) {
		return nil, nil
	}
	return &reason, nil
}

// Ban inserts or replaces a ban record. expiresAt nil means permanent.
func (r *BanRepository) Ban(ctx context.Context, id uuid.UUID, ip, reason string, expiresAt *time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO bans (uuid, ip, reason, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (uuid) DO UPDATE SET ip = $2, reason = $3, expires_at = $4, banned_at = now()`,
		id, ip, reason, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("banning %s: %w", id, err)
	}
	return nil
}

// Unban removes a ban record, if present.
func (r *BanRepository) Unban(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM bans WHERE uuid = $1`, id); err != nil {
		return fmt.Errorf("unbanning %s: %w", id, err)
	}
	return nil
}

// WhitelistRepository implements accept.WhitelistService against the
// whitelist tables.
type WhitelistRepository struct {
	pool *pgxpool.Pool
}

// NewWhitelistRepository constructs a Postgres-backed whitelist.
func NewWhitelistRepository(pool *pgxpool.Pool) *WhitelistRepository {
	return &WhitelistRepository{pool: pool}
}

// KickReason implements accept.WhitelistService: nil, nil means allowed.
// When enforcement is switched off, every UUID is allowed regardless of
// whitelist_entries contents.
func (r *WhitelistRepository) KickReason(ctx context.Context, id uuid.UUID) (*string, error) {
	var enabled bool
	if err := r.pool.QueryRow(ctx, `SELECT enabled FROM whitelist_enabled WHERE id = true`).Scan(&enabled); err != nil {
		return nil, fmt.Errorf("reading whitelist enforcement flag: %w", err)
	}
	if !enabled {
		return nil, nil
	}

	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM whitelist_entries WHERE uuid = $1)`, id).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking whitelist membership for %s: %w", id, err)
	}
	if exists {
		return nil, nil
	}
	reason := "You are not whitelisted on this server"
	return &reason, nil
}

// SetEnabled flips whitelist enforcement on or off.
func (r *WhitelistRepository) SetEnabled(ctx context.Context, enabled bool) error {
	if _, err := r.pool.Exec(ctx, `UPDATE whitelist_enabled SET enabled = $1 WHERE id = true`, enabled); err != nil {
		return fmt.Errorf("setting whitelist enforcement: %w", err)
	}
	return nil
}

// Add inserts a UUID/username pair into the whitelist.
func (r *WhitelistRepository) Add(ctx context.Context, id uuid.UUID, username string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO whitelist_entries (uuid, username) VALUES ($1, $2)
		 ON CONFLICT (uuid) DO UPDATE SET username = $2`,
		id, username,
	)
	if err != nil {
		return fmt.Errorf("whitelisting %s: %w", id, err)
	}
	return nil
}

// Remove deletes a UUID from the whitelist.
func (r *WhitelistRepository) Remove(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM whitelist_entries WHERE uuid = $1`, id); err != nil {
		return fmt.Errorf("removing %s from whitelist: %w", id, err)
	}
	return nil
}

// PlayerAccountRepository is the login ledger: one row per UUID, updated on
// every successful login (§4.D). Generalized from the teacher's
// PostgresAccountRepository GetOrCreate/UpdateLastLogin pattern.
type PlayerAccountRepository struct {
	pool *pgxpool.Pool
}

// NewPlayerAccountRepository constructs the ledger repository.
func NewPlayerAccountRepository(pool *pgxpool.Pool) *PlayerAccountRepository {
	return &PlayerAccountRepository{pool: pool}
}

// RecordLogin upserts a player row with the latest username/IP/timestamp.
// Thread-safe: relies on INSERT ... ON CONFLICT to survive concurrent
// logins for a UUID racing past the duplicate-session gate.
func (r *PlayerAccountRepository) RecordLogin(ctx context.Context, id uuid.UUID, username, ip string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO players (uuid, username, last_ip, last_login) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (uuid) DO UPDATE SET username = $2, last_ip = $3, last_login = $4`,
		id, username, ip, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("recording login for %s: %w", id, err)
	}
	return nil
}
