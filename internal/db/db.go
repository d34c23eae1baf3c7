package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	// prefer prepared statements safely via pgx automatic statement cache
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement

	cfg.MaxConns = 50
	cfg.MinConns = 5
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &DB{Pool: pool}, nil
}

func (d *DB) Close() {
	if d != nil && d.Pool != nil {
		d.Pool.Close()
	}
}

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("db: not found")

// Migrate applies the schema. Cascade deletes are load-bearing: removing a
// user must take their secret and messages with it, and removing a guild
// its channels, members and messages.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			display_name TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			user_id BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			password TEXT NOT NULL,
			is_valid BOOLEAN NOT NULL DEFAULT TRUE,
			last_changed TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS guilds (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			owner_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS channels (
			id BIGINT PRIMARY KEY,
			guild_id BIGINT NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS members (
			guild_id BIGINT NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (guild_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGINT PRIMARY KEY,
			channel_id BIGINT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
			user_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
			content TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel_id ON messages (channel_id, id DESC)`,
		`CREATE TABLE IF NOT EXISTS attachments (
			id BIGINT PRIMARY KEY,
			message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			filename TEXT NOT NULL,
			content_type TEXT NOT NULL,
			storage_key TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
