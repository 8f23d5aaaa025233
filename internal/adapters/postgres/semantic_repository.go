package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/osqr/memvault/internal/domain/models"
)

const semanticBase = "osqr_semantic"

// SemanticRepository persists semantic memories in one collection table per
// user. Embeddings live in a pgvector column so candidate search can use the
// cosine operator instead of loading every row.
type SemanticRepository struct {
	BaseRepository

	dimensions int

	mu      sync.Mutex
	ensured map[string]bool
}

func NewSemanticRepository(pool *pgxpool.Pool, dimensions int) *SemanticRepository {
	return &SemanticRepository{
		BaseRepository: NewBaseRepository(pool),
		dimensions:     dimensions,
		ensured:        make(map[string]bool),
	}
}

func (r *SemanticRepository) table(userID string) string {
	return quoteIdent(CollectionName(semanticBase, userID))
}

// ensureCollection creates the user's collection table on first touch.
func (r *SemanticRepository) ensureCollection(ctx context.Context, userID string) error {
	table := r.table(userID)

	r.mu.Lock()
	done := r.ensured[table]
	r.mu.Unlock()
	if done {
		return nil
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d),
			category TEXT NOT NULL,
			source JSONB,
			metadata JSONB,
			utility_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			access_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			last_accessed_at TIMESTAMPTZ NOT NULL
		)`, table, r.dimensions)

	if _, err := r.conn(ctx).Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure collection %s: %w", table, err)
	}

	r.mu.Lock()
	r.ensured[table] = true
	r.mu.Unlock()
	return nil
}

func (r *SemanticRepository) Upsert(ctx context.Context, userID string, memory *models.SemanticMemory) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if !vectorDims(memory.Embedding, r.dimensions) {
		return fmt.Errorf("embedding has %d dimensions, collection expects %d", len(memory.Embedding), r.dimensions)
	}

	if err := r.ensureCollection(ctx, userID); err != nil {
		return err
	}

	source, err := marshalJSONField(memory.Source)
	if err != nil {
		return err
	}
	metadata, err := marshalJSONField(memory.Metadata)
	if err != nil {
		return err
	}

	var embedding *pgvector.Vector
	if len(memory.Embedding) > 0 {
		v := pgvector.NewVector(memory.Embedding)
		embedding = &v
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, content, embedding, category, source, metadata,
			utility_score, confidence, access_count, created_at, last_accessed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			category = EXCLUDED.category,
			source = EXCLUDED.source,
			metadata = EXCLUDED.metadata,
			utility_score = EXCLUDED.utility_score,
			confidence = EXCLUDED.confidence,
			access_count = EXCLUDED.access_count,
			last_accessed_at = EXCLUDED.last_accessed_at`, r.table(userID))

	_, err = r.conn(ctx).Exec(ctx, query,
		memory.ID,
		memory.Content,
		embedding,
		string(memory.Category),
		source,
		metadata,
		memory.UtilityScore,
		memory.Confidence,
		memory.AccessCount,
		memory.CreatedAt,
		memory.LastAccessedAt,
	)
	return err
}

func (r *SemanticRepository) Delete(ctx context.Context, userID, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := r.ensureCollection(ctx, userID); err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.table(userID))
	_, err := r.conn(ctx).Exec(ctx, query, id)
	return err
}

func (r *SemanticRepository) LoadAll(ctx context.Context, userID string) ([]*models.SemanticMemory, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := r.ensureCollection(ctx, userID); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, content, embedding, category, source, metadata,
			   utility_score, confidence, access_count, created_at, last_accessed_at
		FROM %s
		ORDER BY created_at`, r.table(userID))

	rows, err := r.conn(ctx).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSemanticMemories(rows)
}

// SearchByEmbedding returns the nearest memories by cosine distance.
func (r *SemanticRepository) SearchByEmbedding(ctx context.Context, userID string, embedding []float32, limit int) ([]*models.SemanticMemory, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}

	if err := r.ensureCollection(ctx, userID); err != nil {
		return nil, err
	}

	vector := pgvector.NewVector(embedding)

	query := fmt.Sprintf(`
		SELECT id, content, embedding, category, source, metadata,
			   utility_score, confidence, access_count, created_at, last_accessed_at
		FROM %s
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`, r.table(userID))

	rows, err := r.conn(ctx).Query(ctx, query, vector, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSemanticMemories(rows)
}

// DeleteUser drops the user's collection table.
func (r *SemanticRepository) DeleteUser(ctx context.Context, userID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	table := r.table(userID)
	if _, err := r.conn(ctx).Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.ensured, table)
	r.mu.Unlock()
	return nil
}

func scanSemanticMemories(rows pgx.Rows) ([]*models.SemanticMemory, error) {
	var memories []*models.SemanticMemory

	for rows.Next() {
		var m models.SemanticMemory
		var embedding *pgvector.Vector
		var category string
		var source, metadata []byte

		err := rows.Scan(
			&m.ID,
			&m.Content,
			&embedding,
			&category,
			&source,
			&metadata,
			&m.UtilityScore,
			&m.Confidence,
			&m.AccessCount,
			&m.CreatedAt,
			&m.LastAccessedAt,
		)
		if err != nil {
			return nil, err
		}

		m.Category = models.MemoryCategory(category)
		if embedding != nil {
			m.Embedding = embedding.Slice()
		}
		if err := unmarshalJSONField(source, &m.Source); err != nil {
			return nil, fmt.Errorf("failed to unmarshal memory source: %w", err)
		}
		if err := unmarshalJSONField(metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal memory metadata: %w", err)
		}

		memories = append(memories, &m)
	}

	return memories, rows.Err()
}
