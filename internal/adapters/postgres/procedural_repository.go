package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/osqr/memvault/internal/domain/models"
)

// ProceduralRepository persists mentor scripts, briefing scripts and plugin
// rules. Rule lists are JSONB documents, scripts are always read and written
// whole.
type ProceduralRepository struct {
	BaseRepository

	once    sync.Once
	initErr error
}

func NewProceduralRepository(pool *pgxpool.Pool) *ProceduralRepository {
	return &ProceduralRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *ProceduralRepository) ensureSchema(ctx context.Context) error {
	r.once.Do(func() {
		statements := []string{
			`CREATE TABLE IF NOT EXISTS osqr_mentor_scripts (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				project_id TEXT NOT NULL DEFAULT '',
				rules JSONB,
				version INTEGER NOT NULL DEFAULT 1,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				UNIQUE (user_id, project_id)
			)`,
			`CREATE TABLE IF NOT EXISTS osqr_briefing_scripts (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				session_id TEXT NOT NULL,
				instructions JSONB,
				expires_at TIMESTAMPTZ
			)`,
			`CREATE TABLE IF NOT EXISTS osqr_plugin_rules (
				user_id TEXT NOT NULL,
				plugin_id TEXT NOT NULL,
				rules JSONB,
				permissions JSONB,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				PRIMARY KEY (user_id, plugin_id)
			)`,
		}
		for _, stmt := range statements {
			if _, err := r.conn(ctx).Exec(ctx, stmt); err != nil {
				r.initErr = fmt.Errorf("failed to ensure procedural schema: %w", err)
				return
			}
		}
	})
	return r.initErr
}

func (r *ProceduralRepository) SaveMentorScript(ctx context.Context, userID string, script *models.MentorScript) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := r.ensureSchema(ctx); err != nil {
		return err
	}

	rules, err := marshalJSONField(script.Rules)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO osqr_mentor_scripts (id, user_id, project_id, rules, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, project_id) DO UPDATE SET
			rules = EXCLUDED.rules,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at`

	_, err = r.conn(ctx).Exec(ctx, query,
		script.ID,
		userID,
		script.ProjectID,
		rules,
		script.Version,
		script.CreatedAt,
		script.UpdatedAt,
	)
	return err
}

func (r *ProceduralRepository) SaveBriefingScript(ctx context.Context, userID string, script *models.BriefingScript) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := r.ensureSchema(ctx); err != nil {
		return err
	}

	instructions, err := marshalJSONField(script.Instructions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO osqr_briefing_scripts (id, user_id, session_id, instructions, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			instructions = EXCLUDED.instructions,
			expires_at = EXCLUDED.expires_at`

	_, err = r.conn(ctx).Exec(ctx, query,
		script.ID,
		userID,
		script.SessionID,
		instructions,
		nullTime(script.ExpiresAt),
	)
	return err
}

func (r *ProceduralRepository) SavePluginRule(ctx context.Context, userID string, rule *models.PluginRule) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := r.ensureSchema(ctx); err != nil {
		return err
	}

	rules, err := marshalJSONField(rule.Rules)
	if err != nil {
		return err
	}
	permissions, err := marshalJSONField(rule.Permissions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO osqr_plugin_rules (user_id, plugin_id, rules, permissions, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, plugin_id) DO UPDATE SET
			rules = EXCLUDED.rules,
			permissions = EXCLUDED.permissions,
			active = EXCLUDED.active`

	_, err = r.conn(ctx).Exec(ctx, query, userID, rule.PluginID, rules, permissions, rule.Active)
	return err
}

func (r *ProceduralRepository) LoadMentorScripts(ctx context.Context, userID string) ([]*models.MentorScript, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, project_id, rules, version, created_at, updated_at
		FROM osqr_mentor_scripts
		WHERE user_id = $1
		ORDER BY created_at`

	rows, err := r.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scripts []*models.MentorScript
	for rows.Next() {
		var s models.MentorScript
		var rules []byte

		if err := rows.Scan(&s.ID, &s.ProjectID, &rules, &s.Version, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSONField(rules, &s.Rules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal mentor rules: %w", err)
		}

		scripts = append(scripts, &s)
	}

	return scripts, rows.Err()
}

func (r *ProceduralRepository) LoadBriefingScripts(ctx context.Context, userID string) ([]*models.BriefingScript, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, session_id, instructions, expires_at
		FROM osqr_briefing_scripts
		WHERE user_id = $1`

	rows, err := r.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scripts []*models.BriefingScript
	for rows.Next() {
		var s models.BriefingScript
		var instructions []byte
		var expiresAt sql.NullTime

		if err := rows.Scan(&s.ID, &s.SessionID, &instructions, &expiresAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSONField(instructions, &s.Instructions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal briefing instructions: %w", err)
		}
		s.ExpiresAt = getTimePtr(expiresAt)

		scripts = append(scripts, &s)
	}

	return scripts, rows.Err()
}

func (r *ProceduralRepository) LoadPluginRules(ctx context.Context, userID string) ([]*models.PluginRule, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT plugin_id, rules, permissions, active
		FROM osqr_plugin_rules
		WHERE user_id = $1
		ORDER BY plugin_id`

	rows, err := r.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pluginRules []*models.PluginRule
	for rows.Next() {
		var p models.PluginRule
		var rules, permissions []byte

		if err := rows.Scan(&p.PluginID, &rules, &permissions, &p.Active); err != nil {
			return nil, err
		}
		if err := unmarshalJSONField(rules, &p.Rules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plugin rules: %w", err)
		}
		if err := unmarshalJSONField(permissions, &p.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plugin permissions: %w", err)
		}

		pluginRules = append(pluginRules, &p)
	}

	return pluginRules, rows.Err()
}

func (r *ProceduralRepository) DeleteUser(ctx context.Context, userID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := r.ensureSchema(ctx); err != nil {
		return err
	}

	for _, table := range []string{"osqr_mentor_scripts", "osqr_briefing_scripts", "osqr_plugin_rules"} {
		if _, err := r.conn(ctx).Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, table), userID); err != nil {
			return err
		}
	}
	return nil
}
