package models

import (
	"time"
)

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// ValidRole reports whether r is one of the three supported roles.
func ValidRole(r MessageRole) bool {
	switch r {
	case MessageRoleUser, MessageRoleAssistant, MessageRoleSystem:
		return true
	}
	return false
}

// Message is a single turn in a conversation. Messages are immutable once
// stored; only UtilityScore may be set after the fact.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	Timestamp      time.Time   `json:"timestamp"`
	Tokens         int         `json:"tokens"`
	UtilityScore   *float64    `json:"utility_score,omitempty"`
}

// EstimateTokens approximates token usage for content that arrives without
// a caller-supplied count: ceil(len/4).
func EstimateTokens(content string) int {
	return (len(content) + 3) / 4
}

func NewMessage(id, conversationID string, role MessageRole, content string, tokens int) *Message {
	if tokens <= 0 {
		tokens = EstimateTokens(content)
	}
	return &Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      time.Now().UTC(),
		Tokens:         tokens,
	}
}

func (m *Message) IsSystem() bool {
	return m.Role == MessageRoleSystem
}

// SetUtilityScore records retrospective utility for the message, clamped to [0,1].
func (m *Message) SetUtilityScore(score float64) {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	m.UtilityScore = &score
}
