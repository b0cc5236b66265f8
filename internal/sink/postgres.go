package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wegman-software/speedtiles-go/internal/feature"
	"github.com/wegman-software/speedtiles-go/internal/logger"
)

// DefaultTable is the table tile documents are upserted into
const DefaultTable = "speed_tiles"

// Postgres upserts one row per tile into a jsonb document table
type Postgres struct {
	pool      *pgxpool.Pool
	table     string
	upsertSQL string
}

// NewPostgres connects to the database and ensures the table exists
func NewPostgres(ctx context.Context, url, table string) (*Postgres, error) {
	if table == "" {
		table = DefaultTable
	}
	ident := quoteTable(table)

	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if _, err := pool.Exec(ctx, createTableSQL(ident)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	logger.Get().Info("Writing tiles to PostgreSQL", zap.String("table", table))

	return &Postgres{
		pool:      pool,
		table:     table,
		upsertSQL: upsertSQL(ident),
	}, nil
}

// quoteTable quotes a possibly schema-qualified table name
func quoteTable(table string) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}

func createTableSQL(ident string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			z INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			fetched_at TIMESTAMPTZ NOT NULL,
			feature_count INTEGER NOT NULL,
			doc JSONB NOT NULL,
			PRIMARY KEY (z, x, y)
		)
	`, ident)
}

func upsertSQL(ident string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (z, x, y, fetched_at, feature_count, doc)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		ON CONFLICT (z, x, y) DO UPDATE SET
			fetched_at = EXCLUDED.fetched_at,
			feature_count = EXCLUDED.feature_count,
			doc = EXCLUDED.doc
	`, ident)
}

// WriteTile replaces the tile's row
func (p *Postgres) WriteTile(ctx context.Context, doc *feature.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode tile: %w", err)
	}
	_, err = p.pool.Exec(ctx, p.upsertSQL,
		doc.Z, doc.X, doc.Y, doc.FetchedAt, len(doc.Features), string(data))
	if err != nil {
		return fmt.Errorf("failed to upsert tile %s: %w", doc.Key(), err)
	}
	return nil
}

// Close closes the pool
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
