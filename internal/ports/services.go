package ports

import (
	"context"

	"github.com/osqr/memvault/internal/domain/models"
)

// LLMMessage represents a message in the LLM conversation context
type LLMMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMResponse represents a response from the LLM
type LLMResponse struct {
	Content string `json:"content,omitempty"`
}

// LLMService defines the interface for LLM interactions. The vault treats
// the model as an opaque text→JSON service.
type LLMService interface {
	Chat(ctx context.Context, messages []LLMMessage) (*LLMResponse, error)
}

// EmbeddingResult represents the result of embedding generation
type EmbeddingResult struct {
	Embedding  []float32 `json:"embedding"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	TokensUsed int       `json:"tokens_used,omitempty"`
}

// EmbeddingService defines the interface for generating embeddings.
// Implementations must be deterministic within a process (same text, same
// vector) and return unit-length vectors. Empty text is an error, never a
// zero vector.
type EmbeddingService interface {
	Embed(ctx context.Context, text string) (*EmbeddingResult, error)
	EmbedBatch(ctx context.Context, texts []string) ([]*EmbeddingResult, error)
	GetDimensions() int
}

// FactExtractor turns a finished conversation plus the user's existing
// memories into facts, a summary and contradiction notices. Implementations
// never propagate upstream failures: on final failure they return an empty
// result.
type FactExtractor interface {
	Extract(ctx context.Context, conversation *models.Conversation, existing []*models.SemanticMemory) (*models.ExtractionResult, error)
}

// Encryption purposes partition key derivation per tier.
const (
	PurposeSemanticContent  = "SEMANTIC_CONTENT"
	PurposeEpisodicMessages = "EPISODIC_MESSAGES"
	PurposeProceduralRules  = "PROCEDURAL_RULES"
)

// RecordEncryptor applies the optional at-rest encryption layer. When
// disabled, Encrypt and Decrypt pass values through unchanged.
type RecordEncryptor interface {
	Encrypt(userID, purpose, plaintext string) (string, error)
	Decrypt(userID, purpose, value string) (string, error)
	Enabled() bool
}
