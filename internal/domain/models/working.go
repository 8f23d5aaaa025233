package models

// WindowMode selects how the working window is measured.
type WindowMode string

const (
	WindowModeMessages WindowMode = "messages"
	WindowModeTokens   WindowMode = "tokens"
)

// WindowConfig controls the slice of full history shown to the model.
type WindowConfig struct {
	Mode                   WindowMode `json:"mode"`
	Size                   int        `json:"size"`
	PreserveSystemMessages bool       `json:"preserve_system_messages"`
}

// DefaultWindowConfig keeps the last 50 non-system messages plus all
// system messages.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		Mode:                   WindowModeMessages,
		Size:                   50,
		PreserveSystemMessages: true,
	}
}

// WorkingWindow is the derived, model-visible slice of a conversation.
type WorkingWindow struct {
	Window           []*Message `json:"window"`
	TokensUsed       int        `json:"tokens_used"`
	MessagesExcluded int        `json:"messages_excluded"`
}

// WorkingMemoryBuffer is the per-session live state: the append-only full
// history of the active conversation plus the derived window and any
// retrieved context. FullHistory is never compacted or reordered.
type WorkingMemoryBuffer struct {
	SessionID           string             `json:"session_id"`
	FullHistory         []*Message         `json:"full_history"`
	WorkingWindow       []*Message         `json:"working_window"`
	WindowConfig        WindowConfig       `json:"window_config"`
	CurrentConversation string             `json:"current_conversation,omitempty"`
	RetrievedContext    []*RetrievedMemory `json:"retrieved_context,omitempty"`
	PendingCommitments  []Commitment       `json:"pending_commitments,omitempty"`
	TokenBudget         int                `json:"token_budget"`
	TokensUsed          int                `json:"tokens_used"`
	FullHistoryTokens   int                `json:"full_history_tokens"`
}

func NewWorkingMemoryBuffer(sessionID string, config WindowConfig, tokenBudget int) *WorkingMemoryBuffer {
	return &WorkingMemoryBuffer{
		SessionID:    sessionID,
		FullHistory:  []*Message{},
		WindowConfig: config,
		TokenBudget:  tokenBudget,
	}
}
