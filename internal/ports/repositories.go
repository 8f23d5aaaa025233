package ports

import (
	"context"
	"time"

	"github.com/osqr/memvault/internal/domain/models"
)

// SemanticRepository persists the long-term fact tier. The in-memory store
// is the hot read path; every write flushes through here when persistence
// is enabled.
type SemanticRepository interface {
	Upsert(ctx context.Context, userID string, memory *models.SemanticMemory) error
	Delete(ctx context.Context, userID, id string) error
	LoadAll(ctx context.Context, userID string) ([]*models.SemanticMemory, error)

	// SearchByEmbedding performs an approximate-nearest-neighbor query in the
	// user's collection. Implementations without ANN support may return
	// ErrPersistenceDisabled; callers fall back to the in-memory scan.
	SearchByEmbedding(ctx context.Context, userID string, embedding []float32, limit int) ([]*models.SemanticMemory, error)

	DeleteUser(ctx context.Context, userID string) error
}

// EpisodicRepository persists sessions and conversations (with their full
// message history and archived messages).
type EpisodicRepository interface {
	SaveSession(ctx context.Context, userID string, session *models.Session) error
	SaveConversation(ctx context.Context, userID string, conversation *models.Conversation) error
	LoadSessions(ctx context.Context, userID string) ([]*models.Session, error)
	LoadConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
	DeleteUser(ctx context.Context, userID string) error
}

// ProceduralRepository persists mentor scripts, briefing scripts and plugin
// rules.
type ProceduralRepository interface {
	SaveMentorScript(ctx context.Context, userID string, script *models.MentorScript) error
	SaveBriefingScript(ctx context.Context, userID string, script *models.BriefingScript) error
	SavePluginRule(ctx context.Context, userID string, rule *models.PluginRule) error
	LoadMentorScripts(ctx context.Context, userID string) ([]*models.MentorScript, error)
	LoadBriefingScripts(ctx context.Context, userID string) ([]*models.BriefingScript, error)
	LoadPluginRules(ctx context.Context, userID string) ([]*models.PluginRule, error)
	DeleteUser(ctx context.Context, userID string) error
}

// AccessLogRepository persists the append-only audit log. Entries are only
// ever appended or pruned by retention age.
type AccessLogRepository interface {
	Append(ctx context.Context, entry *models.AccessLogEntry) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.AccessLogEntry, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// IDGenerator generates unique IDs for entities
type IDGenerator interface {
	// GenerateSessionID generates a new session ID (ses_xxx)
	GenerateSessionID() string

	// GenerateConversationID generates a new conversation ID (cv_xxx)
	GenerateConversationID() string

	// GenerateMessageID generates a new message ID (msg_xxx)
	GenerateMessageID() string

	// GenerateMemoryID generates a new semantic memory ID (mem_xxx)
	GenerateMemoryID() string

	// GenerateScriptID generates a new mentor script ID (scr_xxx)
	GenerateScriptID() string

	// GenerateRuleID generates a new mentor rule ID (rule_xxx)
	GenerateRuleID() string

	// GenerateBriefingID generates a new briefing script ID (brf_xxx)
	GenerateBriefingID() string

	// GenerateJobID generates a new synthesis job ID (job_xxx)
	GenerateJobID() string

	// GenerateAccessLogID generates a new audit entry ID (log_xxx)
	GenerateAccessLogID() string

	// GenerateRetrievalID generates a new retrieval record ID (ret_xxx)
	GenerateRetrievalID() string

	// GenerateOutcomeID generates a new outcome record ID (out_xxx)
	GenerateOutcomeID() string
}
