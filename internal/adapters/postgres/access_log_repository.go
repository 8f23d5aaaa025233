package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/osqr/memvault/internal/domain/models"
)

// AccessLogRepository persists the append-only audit log. There is no update
// path on purpose; entries leave only through retention pruning.
type AccessLogRepository struct {
	BaseRepository

	once    sync.Once
	initErr error
}

func NewAccessLogRepository(pool *pgxpool.Pool) *AccessLogRepository {
	return &AccessLogRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *AccessLogRepository) ensureSchema(ctx context.Context) error {
	r.once.Do(func() {
		statements := []string{
			`CREATE TABLE IF NOT EXISTS osqr_access_log (
				id TEXT PRIMARY KEY,
				requester_id TEXT NOT NULL,
				requester_type TEXT NOT NULL,
				user_id TEXT NOT NULL,
				categories_requested JSONB,
				categories_provided JSONB,
				redactions_applied JSONB,
				ts TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_osqr_access_log_user ON osqr_access_log (user_id, ts)`,
		}
		for _, stmt := range statements {
			if _, err := r.conn(ctx).Exec(ctx, stmt); err != nil {
				r.initErr = fmt.Errorf("failed to ensure access log schema: %w", err)
				return
			}
		}
	})
	return r.initErr
}

func (r *AccessLogRepository) Append(ctx context.Context, entry *models.AccessLogEntry) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := r.ensureSchema(ctx); err != nil {
		return err
	}

	requested, err := marshalJSONField(entry.CategoriesRequested)
	if err != nil {
		return err
	}
	provided, err := marshalJSONField(entry.CategoriesProvided)
	if err != nil {
		return err
	}
	redactions, err := marshalJSONField(entry.RedactionsApplied)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO osqr_access_log (
			id, requester_id, requester_type, user_id,
			categories_requested, categories_provided, redactions_applied, ts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.conn(ctx).Exec(ctx, query,
		entry.ID,
		entry.RequesterID,
		string(entry.RequesterType),
		entry.UserID,
		requested,
		provided,
		redactions,
		entry.Timestamp,
	)
	return err
}

func (r *AccessLogRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.AccessLogEntry, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, requester_id, requester_type, user_id,
			   categories_requested, categories_provided, redactions_applied, ts
		FROM osqr_access_log
		WHERE user_id = $1
		ORDER BY ts DESC
		LIMIT $2`

	rows, err := r.conn(ctx).Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AccessLogEntry
	for rows.Next() {
		var e models.AccessLogEntry
		var requesterType string
		var requested, provided, redactions []byte

		err := rows.Scan(
			&e.ID,
			&e.RequesterID,
			&requesterType,
			&e.UserID,
			&requested,
			&provided,
			&redactions,
			&e.Timestamp,
		)
		if err != nil {
			return nil, err
		}

		e.RequesterType = models.RequesterType(requesterType)
		if err := unmarshalJSONField(requested, &e.CategoriesRequested); err != nil {
			return nil, err
		}
		if err := unmarshalJSONField(provided, &e.CategoriesProvided); err != nil {
			return nil, err
		}
		if err := unmarshalJSONField(redactions, &e.RedactionsApplied); err != nil {
			return nil, err
		}

		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// PruneOlderThan removes entries older than the cutoff and reports how many
// were removed.
func (r *AccessLogRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := r.ensureSchema(ctx); err != nil {
		return 0, err
	}

	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM osqr_access_log WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
