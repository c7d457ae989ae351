package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aluiziolira/martprice/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS price_snapshots (
	id         TEXT PRIMARY KEY,
	version    BIGINT NOT NULL,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS recipe_usage (
	user_id      TEXT PRIMARY KEY,
	window_start TIMESTAMPTZ NOT NULL,
	count        INTEGER NOT NULL
);`

// PostgresStore keeps documents in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and creates the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (*models.PriceSnapshot, int64, bool, error) {
	var (
		version int64
		data    []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT version, data FROM price_snapshots WHERE id = $1`, models.DocumentID,
	).Scan(&version, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("load snapshot: %w", err)
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, 0, false, err
	}
	return snap, version, true, nil
}

func (s *PostgresStore) Version(ctx context.Context) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT version FROM price_snapshots WHERE id = $1`, models.DocumentID,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("snapshot version: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) Replace(ctx context.Context, snap *models.PriceSnapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO price_snapshots (id, version, data, updated_at)
		VALUES ($1, 1, $2, now())
		ON CONFLICT (id) DO UPDATE
		SET version = price_snapshots.version + 1,
		    data = EXCLUDED.data,
		    updated_at = EXCLUDED.updated_at`,
		models.DocumentID, data,
	)
	if err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Usage(ctx context.Context, userID string) (Usage, error) {
	u := Usage{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT window_start, count FROM recipe_usage WHERE user_id = $1`, userID,
	).Scan(&u.WindowStart, &u.Count)
	if errors.Is(err, pgx.ErrNoRows) {
		return Usage{UserID: userID}, nil
	}
	if err != nil {
		return Usage{}, fmt.Errorf("load usage: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) SaveUsage(ctx context.Context, u Usage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recipe_usage (user_id, window_start, count)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET window_start = EXCLUDED.window_start, count = EXCLUDED.count`,
		u.UserID, u.WindowStart, u.Count,
	)
	if err != nil {
		return fmt.Errorf("save usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
