package models

import (
	"strings"
	"time"
)

// MemoryCategory classifies a semantic memory. Category gates plugin access
// in the privacy layer, so unknown categories are rejected at the boundary.
type MemoryCategory string

const (
	CategoryPersonalInfo    MemoryCategory = "personal_info"
	CategoryBusinessInfo    MemoryCategory = "business_info"
	CategoryRelationships   MemoryCategory = "relationships"
	CategoryProjects        MemoryCategory = "projects"
	CategoryPreferences     MemoryCategory = "preferences"
	CategoryDomainKnowledge MemoryCategory = "domain_knowledge"
	CategoryDecisions       MemoryCategory = "decisions"
	CategoryCommitments     MemoryCategory = "commitments"
)

// AllCategories lists every valid category in a stable order.
var AllCategories = []MemoryCategory{
	CategoryPersonalInfo,
	CategoryBusinessInfo,
	CategoryRelationships,
	CategoryProjects,
	CategoryPreferences,
	CategoryDomainKnowledge,
	CategoryDecisions,
	CategoryCommitments,
}

// ValidCategory reports whether c is a known category.
func ValidCategory(c MemoryCategory) bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// MemorySource records where a memory came from.
type MemorySource struct {
	Type       string    `json:"type"`
	SourceID   string    `json:"source_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

const (
	SourceTypeSynthesis = "synthesis"
	SourceTypeManual    = "manual"
	SourceTypeImport    = "import"
)

// MemoryMetadata holds topics and the id-valued edge sets. Edges are ids,
// never pointers; the supersession graph must stay acyclic.
type MemoryMetadata struct {
	Topics           []string `json:"topics,omitempty"`
	RelatedMemoryIDs []string `json:"related_memory_ids,omitempty"`
	Contradicts      []string `json:"contradicts,omitempty"`
	Supersedes       []string `json:"supersedes,omitempty"`
}

// SemanticMemory is a durable fact distilled from conversations.
type SemanticMemory struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	Embedding      []float32      `json:"embedding,omitempty"`
	Category       MemoryCategory `json:"category"`
	Source         MemorySource   `json:"source"`
	CreatedAt      time.Time      `json:"created_at"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
	AccessCount    int            `json:"access_count"`
	UtilityScore   float64        `json:"utility_score"`
	Confidence     float64        `json:"confidence"`
	Metadata       MemoryMetadata `json:"metadata"`
}

func NewSemanticMemory(id, content string, category MemoryCategory, source MemorySource) *SemanticMemory {
	now := time.Now().UTC()
	if source.Timestamp.IsZero() {
		source.Timestamp = now
	}
	return &SemanticMemory{
		ID:             id,
		Content:        content,
		Category:       category,
		Source:         source,
		CreatedAt:      now,
		LastAccessedAt: now,
		UtilityScore:   0.5,
		Confidence:     clamp01(source.Confidence),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SetUtilityScore assigns the utility score, clamped to [0,1].
func (m *SemanticMemory) SetUtilityScore(score float64) {
	m.UtilityScore = clamp01(score)
}

// RecordAccess bumps the access counter and stamps last access strictly
// after the previous value.
func (m *SemanticMemory) RecordAccess() {
	m.AccessCount++
	now := time.Now().UTC()
	if !now.After(m.LastAccessedAt) {
		now = m.LastAccessedAt.Add(time.Nanosecond)
	}
	m.LastAccessedAt = now
}

// HasContradictions reports whether the memory's contradicts set is
// non-empty.
func (m *SemanticMemory) HasContradictions() bool {
	return len(m.Metadata.Contradicts) > 0
}

// AddTopic inserts a lower-cased topic, keeping the set free of duplicates.
func (m *SemanticMemory) AddTopic(topic string) {
	topic = strings.ToLower(strings.TrimSpace(topic))
	if topic == "" {
		return
	}
	for _, t := range m.Metadata.Topics {
		if t == topic {
			return
		}
	}
	m.Metadata.Topics = append(m.Metadata.Topics, topic)
}

// Clone returns a deep copy so readers never observe torn edge lists.
func (m *SemanticMemory) Clone() *SemanticMemory {
	out := *m
	out.Embedding = append([]float32(nil), m.Embedding...)
	out.Metadata = MemoryMetadata{
		Topics:           append([]string(nil), m.Metadata.Topics...),
		RelatedMemoryIDs: append([]string(nil), m.Metadata.RelatedMemoryIDs...),
		Contradicts:      append([]string(nil), m.Metadata.Contradicts...),
		Supersedes:       append([]string(nil), m.Metadata.Supersedes...),
	}
	return &out
}

// RetrievedMemory pairs a memory with its retrieval-time relevance score.
type RetrievedMemory struct {
	Memory         *SemanticMemory `json:"memory"`
	RelevanceScore float64         `json:"relevance_score"`
	Superseded     bool            `json:"superseded,omitempty"`
}

// RetrievalRecord tracks a single retrieval of a memory so retrospective
// utility updates can attribute outcomes.
type RetrievalRecord struct {
	ID         string    `json:"id"`
	MemoryID   string    `json:"memory_id"`
	Query      string    `json:"query"`
	Timestamp  time.Time `json:"timestamp"`
	WasHelpful *bool     `json:"was_helpful,omitempty"`
}

// Outcome labels what happened to a retrieved memory downstream.
type Outcome string

const (
	OutcomeUsed       Outcome = "used"
	OutcomeHelpful    Outcome = "helpful"
	OutcomeNotHelpful Outcome = "not_helpful"
	OutcomeIgnored    Outcome = "ignored"
)

// ValidOutcome reports whether o is a known outcome label.
func ValidOutcome(o Outcome) bool {
	switch o {
	case OutcomeUsed, OutcomeHelpful, OutcomeNotHelpful, OutcomeIgnored:
		return true
	}
	return false
}

// OutcomeRecord is one observed outcome for a memory in a conversation.
type OutcomeRecord struct {
	ID             string    `json:"id"`
	MemoryID       string    `json:"memory_id"`
	ConversationID string    `json:"conversation_id"`
	Outcome        Outcome   `json:"outcome"`
	Context        string    `json:"context,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
