// Package postgres stores listing documents in a Postgres JSONB table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "vehicles_initial"

// Config controls the Postgres connection pool used for listing documents.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// DocumentStore keeps one JSONB document per listing id.
type DocumentStore struct {
	pool  pool
	table string
}

// NewDocumentStore connects to Postgres and ensures the table exists.
func NewDocumentStore(ctx context.Context, cfg Config) (*DocumentStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewDocumentStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewDocumentStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewDocumentStoreWithPool(p pool, table string) (*DocumentStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &DocumentStore{pool: p, table: table}, nil
}

// EnsureSchema creates the listing table when missing.
func (s *DocumentStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGINT PRIMARY KEY,
	city_code TEXT NOT NULL DEFAULT '',
	scraped_at TIMESTAMPTZ NOT NULL,
	doc JSONB NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Exists reports whether a document is stored under key.
func (s *DocumentStore) Exists(ctx context.Context, key string) (bool, error) {
	id, err := parseKey(key)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check listing %s: %w", key, err)
	}
	return exists, nil
}

// Put upserts the record under key.
func (s *DocumentStore) Put(ctx context.Context, key string, record marketplace.ListingRecord) error {
	id, err := parseKey(key)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal listing %s: %w", key, err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, city_code, scraped_at, doc)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
	city_code = EXCLUDED.city_code,
	scraped_at = EXCLUDED.scraped_at,
	doc = EXCLUDED.doc`, s.table)
	if _, err := s.pool.Exec(ctx, query, id, record.RegionCode, record.ScrapedAt, doc); err != nil {
		return fmt.Errorf("upsert listing %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *DocumentStore) Close(context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func parseKey(key string) (int64, error) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return 0, errors.Join(marketplace.ErrInvalidItemID, fmt.Errorf("key %q: %w", key, err))
	}
	return id, nil
}

var _ marketplace.DocumentStore = (*DocumentStore)(nil)
