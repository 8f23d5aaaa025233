package domain

import "errors"

// Common domain errors
var (
	// Vault errors
	ErrVaultNotFound       = errors.New("vault not found")
	ErrVaultAlreadyExists  = errors.New("vault already exists")
	ErrFeatureDisabled     = errors.New("feature is disabled")
	ErrPersistenceDisabled = errors.New("persistence is not configured")

	// Session and conversation errors
	ErrSessionNotFound      = errors.New("session not found")
	ErrNoActiveSession      = errors.New("no active session")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrConversationEnded    = errors.New("conversation already ended")
	ErrSummaryAlreadySet    = errors.New("conversation summary already written")

	// Message errors
	ErrMessageNotFound = errors.New("message not found")
	ErrInvalidRole     = errors.New("invalid message role")

	// Memory errors
	ErrMemoryNotFound     = errors.New("memory not found")
	ErrInvalidCategory    = errors.New("invalid memory category")
	ErrSelfReference      = errors.New("memory cannot reference itself")
	ErrSupersessionCycle  = errors.New("supersession edge would create a cycle")
	ErrEmbeddingsFailed   = errors.New("failed to generate embeddings")
	ErrMemorySearchFailed = errors.New("memory search failed")

	// Procedural errors
	ErrScriptNotFound = errors.New("mentor script not found")
	ErrRuleNotFound   = errors.New("mentor rule not found")

	// Synthesis errors
	ErrJobNotFound      = errors.New("synthesis job not found")
	ErrExtractionFailed = errors.New("fact extraction failed")

	// Privacy errors
	ErrCategoryForbidden = errors.New("category not allowed for requester")
	ErrWriteForbidden    = errors.New("write access requires full tier")

	// Encryption errors
	ErrAuthFailed    = errors.New("ciphertext authentication failed")
	ErrKeyNotFound   = errors.New("encryption key not found")
	ErrNotEncrypted  = errors.New("value is not an encrypted record")
	ErrBadCiphertext = errors.New("malformed encrypted record")

	// LLM errors
	ErrLLMUnavailable   = errors.New("LLM service unavailable")
	ErrLLMRequestFailed = errors.New("LLM request failed")

	// Validation errors
	ErrInvalidID    = errors.New("invalid ID format")
	ErrEmptyContent = errors.New("content cannot be empty")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("resource not found")
)

// DomainError wraps a domain error with additional context
type DomainError struct {
	Err     error
	Message string
	Code    string
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func NewDomainError(err error, message string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
	}
}

func NewDomainErrorWithCode(err error, message, code string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}
