// Package postgres provides a PostgreSQL/pgvector-backed store for the
// shared tied-mixture Gaussian codebook. Component means are stored as
// pgvector vectors and ranked by L2 distance in the database so that,
// for acoustic models with large codebooks, only the components nearest the
// current frame's feature vector need full density evaluation — a coarser,
// data-driven analogue of [am.GmsSelector]'s monophone pre-selection.
//
// This layer is optional: [codebook.Store] works entirely in memory and
// most deployments never need it. It exists for AMs whose codebook is too
// large to re-rank exhaustively every frame.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

const ddlCodebook = `
CREATE TABLE IF NOT EXISTS am_codebook (
    model_id   TEXT    NOT NULL,
    component  INT     NOT NULL,
    mean       vector  NOT NULL,
    log_var    vector  NOT NULL,
    gconst     DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (model_id, component)
);
`

// Store is a durable Gaussian codebook keyed by acoustic-model id. All
// methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a connection pool to dsn, registers pgvector's Go types on
// every connection, and ensures the codebook table exists.
func NewStore(ctx context.Context, dsn string, dims int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("codebook store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("codebook store: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("codebook store: create extension: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlCodebook); err != nil {
		pool.Close()
		return nil, fmt.Errorf("codebook store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Component is a single persisted codebook entry.
type Component struct {
	Index  int32
	Mean   []float32
	LogVar []float32
	GConst float64
}

// Upsert replaces the entire codebook for modelID.
func (s *Store) Upsert(ctx context.Context, modelID string, components []Component) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM am_codebook WHERE model_id = $1`, modelID)
	for _, c := range components {
		batch.Queue(
			`INSERT INTO am_codebook (model_id, component, mean, log_var, gconst)
			 VALUES ($1, $2, $3, $4, $5)`,
			modelID, c.Index, pgvector.NewVector(c.Mean), pgvector.NewVector(c.LogVar), c.GConst,
		)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range components {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("codebook store: upsert: %w", err)
		}
	}
	return nil
}

// NearestMeans returns the k codebook component indices whose means are
// closest (L2 distance) to x, ranked by pgvector's <-> operator in the
// database rather than in process memory. NewStore creates no HNSW/IVFFlat
// index on the mean column, so the query scans every component row of
// modelID.
func (s *Store) NearestMeans(ctx context.Context, modelID string, x []float32, k int) ([]int32, error) {
	const q = `
		SELECT component
		FROM am_codebook
		WHERE model_id = $1
		ORDER BY mean <-> $2
		LIMIT $3`
	rows, err := s.pool.Query(ctx, q, modelID, pgvector.NewVector(x), k)
	if err != nil {
		return nil, fmt.Errorf("codebook store: nearest means: %w", err)
	}
	defer rows.Close()

	var out []int32
	for rows.Next() {
		var idx int32
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("codebook store: scan: %w", err)
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}
