package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/osqr/memvault/internal/domain/models"
)

// EpisodicRepository persists sessions and conversations. Message lists and
// metadata are stored as JSONB documents: the hot path reads whole
// conversations, never individual messages.
type EpisodicRepository struct {
	BaseRepository

	once    sync.Once
	initErr error
}

func NewEpisodicRepository(pool *pgxpool.Pool) *EpisodicRepository {
	return &EpisodicRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *EpisodicRepository) ensureSchema(ctx context.Context) error {
	r.once.Do(func() {
		statements := []string{
			`CREATE TABLE IF NOT EXISTS osqr_sessions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				device_type TEXT,
				started_at TIMESTAMPTZ NOT NULL,
				ended_at TIMESTAMPTZ,
				conversation_ids JSONB
			)`,
			`CREATE INDEX IF NOT EXISTS idx_osqr_sessions_user ON osqr_sessions (user_id)`,
			`CREATE TABLE IF NOT EXISTS osqr_conversations (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				session_id TEXT NOT NULL,
				project_id TEXT,
				started_at TIMESTAMPTZ NOT NULL,
				ended_at TIMESTAMPTZ,
				summary TEXT,
				messages JSONB,
				archived JSONB,
				metadata JSONB
			)`,
			`CREATE INDEX IF NOT EXISTS idx_osqr_conversations_user ON osqr_conversations (user_id)`,
		}
		for _, stmt := range statements {
			if _, err := r.conn(ctx).Exec(ctx, stmt); err != nil {
				r.initErr = fmt.Errorf("failed to ensure episodic schema: %w", err)
				return
			}
		}
	})
	return r.initErr
}

func (r *EpisodicRepository) SaveSession(ctx context.Context, userID string, session *models.Session) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := r.ensureSchema(ctx); err != nil {
		return err
	}

	conversationIDs, err := marshalJSONField(session.ConversationIDs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO osqr_sessions (id, user_id, device_type, started_at, ended_at, conversation_ids)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			device_type = EXCLUDED.device_type,
			ended_at = EXCLUDED.ended_at,
			conversation_ids = EXCLUDED.conversation_ids`

	_, err = r.conn(ctx).Exec(ctx, query,
		session.ID,
		userID,
		nullString(session.DeviceType),
		session.StartedAt,
		nullTime(session.EndedAt),
		conversationIDs,
	)
	return err
}

func (r *EpisodicRepository) SaveConversation(ctx context.Context, userID string, conversation *models.Conversation) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := r.ensureSchema(ctx); err != nil {
		return err
	}

	messages, err := marshalJSONField(conversation.Messages)
	if err != nil {
		return err
	}
	archived, err := marshalJSONField(conversation.Archived)
	if err != nil {
		return err
	}
	metadata, err := marshalJSONField(conversation.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO osqr_conversations (
			id, user_id, session_id, project_id, started_at, ended_at,
			summary, messages, archived, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			summary = EXCLUDED.summary,
			messages = EXCLUDED.messages,
			archived = EXCLUDED.archived,
			metadata = EXCLUDED.metadata`

	_, err = r.conn(ctx).Exec(ctx, query,
		conversation.ID,
		userID,
		conversation.SessionID,
		nullString(conversation.ProjectID),
		conversation.StartedAt,
		nullTime(conversation.EndedAt),
		nullString(conversation.Summary),
		messages,
		archived,
		metadata,
	)
	return err
}

func (r *EpisodicRepository) LoadSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, device_type, started_at, ended_at, conversation_ids
		FROM osqr_sessions
		WHERE user_id = $1
		ORDER BY started_at`

	rows, err := r.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var s models.Session
		var deviceType sql.NullString
		var endedAt sql.NullTime
		var conversationIDs []byte

		if err := rows.Scan(&s.ID, &s.UserID, &deviceType, &s.StartedAt, &endedAt, &conversationIDs); err != nil {
			return nil, err
		}

		s.DeviceType = getString(deviceType)
		s.EndedAt = getTimePtr(endedAt)
		if err := unmarshalJSONField(conversationIDs, &s.ConversationIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation ids: %w", err)
		}

		sessions = append(sessions, &s)
	}

	return sessions, rows.Err()
}

func (r *EpisodicRepository) LoadConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, session_id, project_id, started_at, ended_at, summary, messages, archived, metadata
		FROM osqr_conversations
		WHERE user_id = $1
		ORDER BY started_at`

	rows, err := r.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanConversations(rows)
}

func (r *EpisodicRepository) DeleteUser(ctx context.Context, userID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := r.ensureSchema(ctx); err != nil {
		return err
	}

	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM osqr_conversations WHERE user_id = $1`, userID); err != nil {
		return err
	}
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM osqr_sessions WHERE user_id = $1`, userID)
	return err
}

func scanConversations(rows pgx.Rows) ([]*models.Conversation, error) {
	var conversations []*models.Conversation

	for rows.Next() {
		var c models.Conversation
		var projectID, summary sql.NullString
		var endedAt sql.NullTime
		var messages, archived, metadata []byte

		err := rows.Scan(
			&c.ID,
			&c.SessionID,
			&projectID,
			&c.StartedAt,
			&endedAt,
			&summary,
			&messages,
			&archived,
			&metadata,
		)
		if err != nil {
			return nil, err
		}

		c.ProjectID = getString(projectID)
		c.Summary = getString(summary)
		c.EndedAt = getTimePtr(endedAt)
		if err := unmarshalJSONField(messages, &c.Messages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
		}
		if err := unmarshalJSONField(archived, &c.Archived); err != nil {
			return nil, fmt.Errorf("failed to unmarshal archived messages: %w", err)
		}
		if err := unmarshalJSONField(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}

		conversations = append(conversations, &c)
	}

	return conversations, rows.Err()
}
