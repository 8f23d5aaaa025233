package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/osqr/memvault/internal/domain"
	"github.com/osqr/memvault/internal/domain/models"
)

// WindowService derives the model-visible working window from a
// conversation's full history. The window is a pure function of history and
// config; nothing here mutates the conversation.
type WindowService struct {
	episodic *EpisodicService
}

func NewWindowService(episodic *EpisodicService) *WindowService {
	return &WindowService{episodic: episodic}
}

// ComputeWindow slices the newest part of the history according to the
// config. In messages mode the window is the last Size messages; in tokens
// mode it is the longest suffix whose token sum fits Size. With
// PreserveSystemMessages set, system messages are always included and their
// cost (a slot in messages mode, tokens in tokens mode) is charged before
// any other message is admitted.
func ComputeWindow(messages []*models.Message, config models.WindowConfig) *models.WorkingWindow {
	if config.Size <= 0 {
		config = models.DefaultWindowConfig()
	}

	switch config.Mode {
	case models.WindowModeTokens:
		return computeTokenWindow(messages, config)
	default:
		return computeMessageWindow(messages, config)
	}
}

func computeMessageWindow(messages []*models.Message, config models.WindowConfig) *models.WorkingWindow {
	included := make(map[int]bool, len(messages))
	remaining := config.Size

	if config.PreserveSystemMessages {
		for i, msg := range messages {
			if msg.IsSystem() {
				included[i] = true
				remaining--
			}
		}
	}

	for i := len(messages) - 1; i >= 0 && remaining > 0; i-- {
		if included[i] {
			continue
		}
		included[i] = true
		remaining--
	}

	return assembleWindow(messages, included)
}

func computeTokenWindow(messages []*models.Message, config models.WindowConfig) *models.WorkingWindow {
	included := make(map[int]bool, len(messages))
	budget := config.Size

	if config.PreserveSystemMessages {
		for i, msg := range messages {
			if msg.IsSystem() {
				included[i] = true
				budget -= msg.Tokens
			}
		}
	}

	// Admit newest-first while the budget holds; stop at the first message
	// that does not fit so the window stays a contiguous suffix.
	for i := len(messages) - 1; i >= 0; i-- {
		if included[i] {
			continue
		}
		if messages[i].Tokens > budget {
			break
		}
		included[i] = true
		budget -= messages[i].Tokens
	}

	return assembleWindow(messages, included)
}

func assembleWindow(messages []*models.Message, included map[int]bool) *models.WorkingWindow {
	window := &models.WorkingWindow{}
	for i, msg := range messages {
		if included[i] {
			window.Window = append(window.Window, msg)
			window.TokensUsed += msg.Tokens
		} else {
			window.MessagesExcluded++
		}
	}
	return window
}

// GetWindow computes the working window for a conversation.
func (s *WindowService) GetWindow(ctx context.Context, userID, conversationID string, config models.WindowConfig) (*models.WorkingWindow, error) {
	conv, err := s.episodic.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	return ComputeWindow(conv.Messages, config), nil
}

// ExcludedSummary describes what the window left out, so callers can tell
// the model that older context exists.
type ExcludedSummary struct {
	Count       int      `json:"count"`
	TokensTotal int      `json:"tokens_total"`
	Roles       []string `json:"roles"`
	OldestFirst string   `json:"oldest_first,omitempty"`
}

// GetExcludedSummary summarizes the messages outside the current window.
func (s *WindowService) GetExcludedSummary(ctx context.Context, userID, conversationID string, config models.WindowConfig) (*ExcludedSummary, error) {
	conv, err := s.episodic.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	window := ComputeWindow(conv.Messages, config)
	inWindow := make(map[string]bool, len(window.Window))
	for _, msg := range window.Window {
		inWindow[msg.ID] = true
	}

	summary := &ExcludedSummary{}
	roles := make(map[string]bool)
	for _, msg := range conv.Messages {
		if inWindow[msg.ID] {
			continue
		}
		summary.Count++
		summary.TokensTotal += msg.Tokens
		roles[string(msg.Role)] = true
		if summary.OldestFirst == "" {
			summary.OldestFirst = truncate(msg.Content, 120)
		}
	}
	for role := range roles {
		summary.Roles = append(summary.Roles, role)
	}
	return summary, nil
}

// Compact is the legacy destructive compaction: it archives everything
// outside the window and replaces the live history with the window plus a
// placeholder summary message. The window engine makes this unnecessary;
// the operation survives for callers that still expect it.
func (s *WindowService) Compact(ctx context.Context, userID, conversationID string, config models.WindowConfig) (int, error) {
	conv, err := s.episodic.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return 0, err
	}

	window := ComputeWindow(conv.Messages, config)
	if window.MessagesExcluded == 0 {
		return 0, nil
	}

	inWindow := make(map[string]bool, len(window.Window))
	for _, msg := range window.Window {
		inWindow[msg.ID] = true
	}

	var excludedIDs []string
	var excludedTexts []string
	for _, msg := range conv.Messages {
		if !inWindow[msg.ID] {
			excludedIDs = append(excludedIDs, msg.ID)
			excludedTexts = append(excludedTexts, string(msg.Role)+": "+truncate(msg.Content, 60))
		}
	}

	if err := s.episodic.ArchiveMessages(ctx, userID, conversationID, excludedIDs); err != nil {
		return 0, err
	}

	conv, err = s.episodic.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return 0, err
	}

	note := fmt.Sprintf("[%d earlier messages archived]\n%s", len(excludedIDs), strings.Join(excludedTexts, "\n"))
	placeholder := models.NewMessage(s.episodic.ids.GenerateMessageID(), conversationID, models.MessageRoleSystem, note, 0)
	replaced := append([]*models.Message{placeholder}, conv.Messages...)

	if err := s.episodic.ReplaceMessages(ctx, userID, conversationID, replaced); err != nil {
		return 0, err
	}
	return len(excludedIDs), nil
}

// ValidateConfig rejects configs the engine cannot honor.
func ValidateConfig(config models.WindowConfig) error {
	if config.Mode != models.WindowModeMessages && config.Mode != models.WindowModeTokens {
		return domain.NewDomainError(domain.ErrInvalidInput, "window mode must be messages or tokens")
	}
	if config.Size <= 0 {
		return domain.NewDomainError(domain.ErrInvalidInput, "window size must be positive")
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
