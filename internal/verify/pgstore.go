package verify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

const ddlCallerRecords = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS caller_records (
    tenant_id    TEXT         NOT NULL,
    caller_phone TEXT         NOT NULL,
    caller_name  TEXT         NOT NULL DEFAULT '',
    project_name TEXT         NOT NULL DEFAULT '',
    embedding    vector(%d)   NOT NULL,
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, caller_phone)
);

CREATE INDEX IF NOT EXISTS idx_caller_records_embedding
    ON caller_records USING hnsw (embedding vector_cosine_ops);
`

// PgStore is a [Store] backed by PostgreSQL + pgvector, mirroring the
// connection-pool and HNSW-index pattern of pkg/memory/postgres's semantic
// index: one table, one approximate-nearest-neighbour index, cosine
// distance via the <=> operator.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore wraps an existing pool. Call [Migrate] once at startup before
// using the store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Migrate creates the caller_records table and its vector index. Idempotent;
// safe to call on every process start. embeddingDimensions must match the
// configured embeddings provider's output width.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	_, err := pool.Exec(ctx, fmt.Sprintf(ddlCallerRecords, embeddingDimensions))
	if err != nil {
		return fmt.Errorf("verify: migrate: %w", err)
	}
	return nil
}

// Upsert implements Store.
func (s *PgStore) Upsert(ctx context.Context, rec Record, embedding []float32) error {
	const q = `
		INSERT INTO caller_records (tenant_id, caller_phone, caller_name, project_name, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (tenant_id, caller_phone) DO UPDATE SET
		    caller_name  = EXCLUDED.caller_name,
		    project_name = EXCLUDED.project_name,
		    embedding    = EXCLUDED.embedding,
		    updated_at   = now()`

	_, err := s.pool.Exec(ctx, q, rec.TenantID, rec.CallerPhone, rec.CallerName, rec.ProjectName, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("verify: upsert caller record: %w", err)
	}
	return nil
}

// NearestCandidates implements Store.
func (s *PgStore) NearestCandidates(ctx context.Context, tenantID string, embedding []float32, topK int) ([]Record, error) {
	const q = `
		SELECT tenant_id, caller_phone, caller_name, project_name
		FROM   caller_records
		WHERE  tenant_id = $1
		ORDER  BY embedding <=> $2
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, tenantID, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("verify: nearest candidates: %w", err)
	}
	recs, err := pgx.CollectRows(rows, pgx.RowToStructByName[Record])
	if err != nil {
		return nil, fmt.Errorf("verify: scan candidates: %w", err)
	}
	return recs, nil
}

var _ Store = (*PgStore)(nil)
