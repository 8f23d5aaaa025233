package models

import (
	"time"
)

// JobPriority orders synthesis jobs in the queue.
type JobPriority string

const (
	PriorityHigh   JobPriority = "high"
	PriorityNormal JobPriority = "normal"
	PriorityLow    JobPriority = "low"
)

// JobStatus is the lifecycle state of a synthesis job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// SynthesisJob is one queued request to distill a conversation into
// semantic memories.
type SynthesisJob struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	UserID         string           `json:"user_id"`
	Priority       JobPriority      `json:"priority"`
	Attempts       int              `json:"attempts"`
	MaxAttempts    int              `json:"max_attempts"`
	Status         JobStatus        `json:"status"`
	EnqueuedAt     time.Time        `json:"enqueued_at"`
	LastAttemptAt  *time.Time       `json:"last_attempt_at,omitempty"`
	Error          string           `json:"error,omitempty"`
	Result         *SynthesisResult `json:"result,omitempty"`
}

func NewSynthesisJob(id, conversationID, userID string, priority JobPriority) *SynthesisJob {
	return &SynthesisJob{
		ID:             id,
		ConversationID: conversationID,
		UserID:         userID,
		Priority:       priority,
		MaxAttempts:    3,
		Status:         JobPending,
		EnqueuedAt:     time.Now().UTC(),
	}
}

// ExtractedFact is a candidate semantic memory produced by the extractor.
type ExtractedFact struct {
	Content    string         `json:"content"`
	Category   MemoryCategory `json:"category"`
	Confidence float64        `json:"confidence"`
	Topics     []string       `json:"topics,omitempty"`
	Supersedes []string       `json:"supersedes,omitempty"`
}

// ContradictionResolution says what to do when a new fact conflicts with an
// existing memory.
type ContradictionResolution string

const (
	ResolutionKeepExisting   ContradictionResolution = "keep_existing"
	ResolutionReplaceWithNew ContradictionResolution = "replace_with_new"
	ResolutionKeepBoth       ContradictionResolution = "keep_both"
)

// Contradiction pairs a new fact with the existing memory it conflicts with.
type Contradiction struct {
	ExistingMemoryID string                  `json:"existing_memory_id"`
	NewFactIndex     int                     `json:"new_fact_index"`
	Resolution       ContradictionResolution `json:"resolution"`
	Explanation      string                  `json:"explanation,omitempty"`
}

// ExtractionResult is what the LLM extractor returns for a conversation.
type ExtractionResult struct {
	Facts          []*ExtractedFact `json:"facts"`
	Summary        string           `json:"summary"`
	Contradictions []*Contradiction `json:"contradictions,omitempty"`
}

// SynthesisResult describes what one synthesis run produced.
type SynthesisResult struct {
	ConversationID  string    `json:"conversation_id"`
	MemoriesCreated []string  `json:"memories_created"`
	Summary         string    `json:"summary"`
	Contradictions  int       `json:"contradictions"`
	Superseded      []string  `json:"superseded,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}
