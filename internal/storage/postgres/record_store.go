// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GMartin-Data/imdb-api/internal/crawler"
)

const (
	defaultTable = "artworks"
	// uniqueViolation is the SQLSTATE Postgres raises for a duplicate key.
	uniqueViolation = "23505"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RecordStoreConfig controls the Postgres connection pool used for records.
type RecordStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// RecordStore writes merged title records into Postgres.
type RecordStore struct {
	pool  pool
	table string
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	return &RecordStore{pool: p, table: table}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(p pool, table string) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *RecordStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// CreateSchemaIfAbsent creates the records table when it does not exist yet.
func (s *RecordStore) CreateSchemaIfAbsent(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	kind TEXT,
	title TEXT,
	original_title TEXT,
	genres TEXT,
	duration_s INTEGER,
	release_year INTEGER,
	rating REAL,
	vote_count INTEGER,
	metacritic_score INTEGER,
	audience TEXT,
	countries TEXT,
	casting TEXT,
	synopsis TEXT,
	budget BIGINT,
	worldwide_gross BIGINT,
	poster_link TEXT
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

const recordColumns = `id, kind, title, original_title, genres, duration_s, release_year, rating,
	vote_count, metacritic_score, audience, countries, casting, synopsis, budget,
	worldwide_gross, poster_link`

// Insert stores one record. An existing id yields crawler.ErrDuplicateRecord
// and leaves the stored row untouched.
func (s *RecordStore) Insert(ctx context.Context, record crawler.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	%s
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
)`, s.table, recordColumns)

	args := []any{
		record.ID,
		record.Kind,
		record.Title,
		record.OriginalTitle,
		record.Genres,
		record.DurationS,
		record.ReleaseYear,
		record.Rating,
		record.VoteCount,
		record.MetacriticScore,
		record.Audience,
		record.Countries,
		record.Casting,
		record.Synopsis,
		record.Budget,
		record.WorldwideGross,
		record.PosterLink,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert record %s: %w", record.ID, crawler.ErrDuplicateRecord)
		}
		return fmt.Errorf("insert record %s: %w", record.ID, err)
	}
	return nil
}

// Get loads the record stored under id.
func (s *RecordStore) Get(ctx context.Context, id string) (crawler.Record, error) {
	if s == nil || s.pool == nil {
		return crawler.Record{}, fmt.Errorf("record store is not configured")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, recordColumns, s.table)

	var rec crawler.Record
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.Kind,
		&rec.Title,
		&rec.OriginalTitle,
		&rec.Genres,
		&rec.DurationS,
		&rec.ReleaseYear,
		&rec.Rating,
		&rec.VoteCount,
		&rec.MetacriticScore,
		&rec.Audience,
		&rec.Countries,
		&rec.Casting,
		&rec.Synopsis,
		&rec.Budget,
		&rec.WorldwideGross,
		&rec.PosterLink,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Record{}, fmt.Errorf("get record %s: %w", id, crawler.ErrRecordNotFound)
	}
	if err != nil {
		return crawler.Record{}, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}
