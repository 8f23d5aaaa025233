package models

import (
	"strings"
	"time"
)

// Entity is a named thing mentioned in a conversation. Mentions are merged
// case-insensitively by name.
type Entity struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Mentions int    `json:"mentions"`
}

// Commitment is a promise or task surfaced during a conversation.
type Commitment struct {
	Description string     `json:"description"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	Completed   bool       `json:"completed"`
}

// ConversationMetadata accumulates extracted topics, entities, commitments
// and an overall sentiment label for a conversation.
type ConversationMetadata struct {
	Topics      []string     `json:"topics,omitempty"`
	Entities    []Entity     `json:"entities,omitempty"`
	Commitments []Commitment `json:"commitments,omitempty"`
	Sentiment   string       `json:"sentiment,omitempty"`
}

// AddTopic inserts a lower-cased topic, keeping the set free of duplicates.
func (md *ConversationMetadata) AddTopic(topic string) {
	topic = strings.ToLower(strings.TrimSpace(topic))
	if topic == "" {
		return
	}
	for _, t := range md.Topics {
		if t == topic {
			return
		}
	}
	md.Topics = append(md.Topics, topic)
}

// AddEntity records a mention, merging with an existing entity by
// case-insensitive name.
func (md *ConversationMetadata) AddEntity(name, entityType string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	for i := range md.Entities {
		if strings.EqualFold(md.Entities[i].Name, name) {
			md.Entities[i].Mentions++
			if md.Entities[i].Type == "" {
				md.Entities[i].Type = entityType
			}
			return
		}
	}
	md.Entities = append(md.Entities, Entity{Name: name, Type: entityType, Mentions: 1})
}

// AddCommitment appends a commitment description.
func (md *ConversationMetadata) AddCommitment(description string) {
	description = strings.TrimSpace(description)
	if description == "" {
		return
	}
	md.Commitments = append(md.Commitments, Commitment{Description: description})
}

// Conversation is a bounded exchange inside a session. Its full message
// history is append-only; EndedAt transitions nil → set exactly once and
// Summary is written exactly once, by synthesis.
type Conversation struct {
	ID        string               `json:"id"`
	SessionID string               `json:"session_id"`
	ProjectID string               `json:"project_id,omitempty"`
	Messages  []*Message           `json:"messages"`
	StartedAt time.Time            `json:"started_at"`
	EndedAt   *time.Time           `json:"ended_at,omitempty"`
	Summary   string               `json:"summary,omitempty"`
	Metadata  ConversationMetadata `json:"metadata"`

	// Archived holds messages moved out of the live list by the legacy
	// compaction path. The working-window engine never populates this.
	Archived []*Message `json:"archived,omitempty"`
}

func NewConversation(id, sessionID, projectID string) *Conversation {
	return &Conversation{
		ID:        id,
		SessionID: sessionID,
		ProjectID: projectID,
		Messages:  []*Message{},
		StartedAt: time.Now().UTC(),
	}
}

// Append adds a message at the end of the full history. Messages are never
// inserted in the middle or reordered.
func (c *Conversation) Append(msg *Message) {
	c.Messages = append(c.Messages, msg)
}

func (c *Conversation) IsEnded() bool {
	return c.EndedAt != nil
}

// End stamps EndedAt once; later calls are no-ops so the transition stays
// monotonic.
func (c *Conversation) End() {
	if c.EndedAt != nil {
		return
	}
	now := time.Now().UTC()
	c.EndedAt = &now
}

// LastMessageAt returns the timestamp of the newest message, or StartedAt
// for an empty conversation.
func (c *Conversation) LastMessageAt() time.Time {
	if len(c.Messages) == 0 {
		return c.StartedAt
	}
	return c.Messages[len(c.Messages)-1].Timestamp
}

// Session groups conversations from one device connection. Ending a session
// does not end its conversations.
type Session struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	DeviceType      string     `json:"device_type"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	ConversationIDs []string   `json:"conversation_ids"`
}

func NewSession(id, userID, deviceType string) *Session {
	return &Session{
		ID:         id,
		UserID:     userID,
		DeviceType: deviceType,
		StartedAt:  time.Now().UTC(),
	}
}

func (s *Session) AddConversation(conversationID string) {
	s.ConversationIDs = append(s.ConversationIDs, conversationID)
}

func (s *Session) End() {
	if s.EndedAt != nil {
		return
	}
	now := time.Now().UTC()
	s.EndedAt = &now
}

// EpisodicSummary is the retrievable trace a conversation leaves behind
// after synthesis.
type EpisodicSummary struct {
	ConversationID string    `json:"conversation_id"`
	Summary        string    `json:"summary"`
	Topics         []string  `json:"topics,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
