// Package postgres is the supplemented opportunity ledger: a queryable
// sink standing in for the CSV file for deployments that have outgrown
// it, modeled on the teacher's trades repository (same sqlx/lib-pq
// shape, one INSERT, one duplicate-key recovery path).
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/arbitron/internal/arberr"
	"github.com/sawpanic/arbitron/internal/domain"
)

// Config tunes connection pooling and per-query timeouts.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    5 * time.Second,
	}
}

// Store persists opportunity records to a `opportunities` table.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to Postgres and verifies connectivity with a ping.
func Open(cfg Config) (*Store, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, arberr.New(arberr.Persistence, "postgres.Open", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, arberr.New(arberr.Persistence, "postgres.Open", fmt.Errorf("ping: %w", err))
	}

	return NewStore(db, cfg.QueryTimeout), nil
}

// NewStore wraps an already-open sqlx.DB, letting tests inject a
// sqlmock-backed handle without a live server.
func NewStore(db *sqlx.DB, timeout time.Duration) *Store {
	return &Store{db: db, timeout: timeout}
}

// Save inserts one opportunity record. A duplicate primary key (a
// replayed detection) is treated as a benign no-op rather than an
// error.
func (s *Store) Save(ctx context.Context, opp domain.Opportunity) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if opp.ID == "" {
		opp.ID = uuid.NewString()
	}

	const query = `
		INSERT INTO opportunities
			(id, ts, arb_length, arb_rate, arb_surface,
			 asset_0, asset_1, asset_2, asset_3, asset_4, asset_5, asset_6, asset_7)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.db.ExecContext(ctx, query,
		opp.ID, opp.Timestamp, opp.ArbLength, opp.ArbRate, opp.ArbSurface,
		opp.Assets[0], opp.Assets[1], opp.Assets[2], opp.Assets[3],
		opp.Assets[4], opp.Assets[5], opp.Assets[6], opp.Assets[7])
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil
		}
		return arberr.New(arberr.Persistence, "postgres.Save", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
