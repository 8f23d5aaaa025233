package services

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/osqr/memvault/internal/domain"
	"github.com/osqr/memvault/internal/domain/models"
	"github.com/osqr/memvault/internal/ports"
)

// EpisodicService manages sessions, conversations and their message
// history. Conversations are the unit of synthesis: ending one hands it to
// the synthesis queue via the vault facade.
type EpisodicService struct {
	repo      ports.EpisodicRepository
	encryptor ports.RecordEncryptor
	ids       ports.IDGenerator

	mu    sync.RWMutex
	users map[string]*userEpisodes
}

type userEpisodes struct {
	sessions      map[string]*models.Session
	conversations map[string]*models.Conversation
	hydrated      bool
}

func NewEpisodicService(repo ports.EpisodicRepository, encryptor ports.RecordEncryptor, ids ports.IDGenerator) *EpisodicService {
	return &EpisodicService{
		repo:      repo,
		encryptor: encryptor,
		ids:       ids,
		users:     make(map[string]*userEpisodes),
	}
}

func (s *EpisodicService) user(ctx context.Context, userID string) *userEpisodes {
	if u, ok := s.users[userID]; ok {
		return u
	}

	u := &userEpisodes{
		sessions:      make(map[string]*models.Session),
		conversations: make(map[string]*models.Conversation),
	}
	s.users[userID] = u

	if s.repo != nil {
		sessions, err := s.repo.LoadSessions(ctx, userID)
		if err != nil {
			log.Printf("[EpisodicService] warning: failed to hydrate sessions for %s: %v", userID, err)
		} else {
			for _, sess := range sessions {
				u.sessions[sess.ID] = sess
			}
		}

		conversations, err := s.repo.LoadConversations(ctx, userID)
		if err != nil {
			log.Printf("[EpisodicService] warning: failed to hydrate conversations for %s: %v", userID, err)
		} else {
			for _, conv := range conversations {
				s.decryptMessages(userID, conv)
				u.conversations[conv.ID] = conv
			}
		}
	}
	u.hydrated = true

	return u
}

func (s *EpisodicService) decryptMessages(userID string, conv *models.Conversation) {
	if s.encryptor == nil {
		return
	}
	for _, lists := range [][]*models.Message{conv.Messages, conv.Archived} {
		for _, msg := range lists {
			content, err := s.encryptor.Decrypt(userID, ports.PurposeEpisodicMessages, msg.Content)
			if err != nil {
				log.Printf("[EpisodicService] warning: failed to decrypt message %s: %v", msg.ID, err)
				continue
			}
			msg.Content = content
		}
	}
}

func (s *EpisodicService) flushConversation(ctx context.Context, userID string, conv *models.Conversation) {
	if s.repo == nil {
		return
	}

	record := cloneConversation(conv)
	if s.encryptor != nil {
		for _, lists := range [][]*models.Message{record.Messages, record.Archived} {
			for _, msg := range lists {
				content, err := s.encryptor.Encrypt(userID, ports.PurposeEpisodicMessages, msg.Content)
				if err != nil {
					log.Printf("[EpisodicService] warning: failed to encrypt message %s: %v", msg.ID, err)
					continue
				}
				msg.Content = content
			}
		}
	}

	if err := s.repo.SaveConversation(ctx, userID, record); err != nil {
		log.Printf("[EpisodicService] warning: failed to persist conversation %s: %v", conv.ID, err)
	}
}

func (s *EpisodicService) flushSession(ctx context.Context, userID string, sess *models.Session) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveSession(ctx, userID, sess); err != nil {
		log.Printf("[EpisodicService] warning: failed to persist session %s: %v", sess.ID, err)
	}
}

// StartSession opens a new session for a device connection.
func (s *EpisodicService) StartSession(ctx context.Context, userID, deviceType string) (*models.Session, error) {
	if userID == "" {
		return nil, domain.NewDomainError(domain.ErrInvalidID, "user id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	sess := models.NewSession(s.ids.GenerateSessionID(), userID, deviceType)
	u.sessions[sess.ID] = sess
	s.flushSession(ctx, userID, sess)

	return sess, nil
}

// EndSession stamps the session's end time. Its conversations stay open.
func (s *EpisodicService) EndSession(ctx context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	sess, ok := u.sessions[sessionID]
	if !ok {
		return domain.NewDomainError(domain.ErrSessionNotFound, "session not found")
	}

	sess.End()
	s.flushSession(ctx, userID, sess)
	return nil
}

// StartConversation opens a conversation inside a session.
func (s *EpisodicService) StartConversation(ctx context.Context, userID, sessionID, projectID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	sess, ok := u.sessions[sessionID]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrSessionNotFound, "session not found")
	}

	conv := models.NewConversation(s.ids.GenerateConversationID(), sessionID, projectID)
	u.conversations[conv.ID] = conv
	sess.AddConversation(conv.ID)

	s.flushConversation(ctx, userID, conv)
	s.flushSession(ctx, userID, sess)

	return cloneConversation(conv), nil
}

// AddMessage appends a message to an open conversation. Tokens of zero are
// estimated from content length.
func (s *EpisodicService) AddMessage(ctx context.Context, userID, conversationID string, role models.MessageRole, content string, tokens int) (*models.Message, error) {
	if !models.ValidRole(role) {
		return nil, domain.NewDomainError(domain.ErrInvalidRole, "unknown message role")
	}
	if content == "" {
		return nil, domain.NewDomainError(domain.ErrEmptyContent, "message content cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	conv, ok := u.conversations[conversationID]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrConversationNotFound, "conversation not found")
	}
	if conv.IsEnded() {
		return nil, domain.NewDomainError(domain.ErrConversationEnded, "conversation has ended")
	}

	msg := models.NewMessage(s.ids.GenerateMessageID(), conversationID, role, content, tokens)
	conv.Append(msg)
	s.flushConversation(ctx, userID, conv)

	clone := *msg
	return &clone, nil
}

// EndConversation closes a conversation. Ending twice is a no-op; the
// returned bool is true only on the first call, which is when the caller
// should enqueue synthesis.
func (s *EpisodicService) EndConversation(ctx context.Context, userID, conversationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	conv, ok := u.conversations[conversationID]
	if !ok {
		return false, domain.NewDomainError(domain.ErrConversationNotFound, "conversation not found")
	}
	if conv.IsEnded() {
		return false, nil
	}

	conv.End()
	s.flushConversation(ctx, userID, conv)
	return true, nil
}

// GetConversation returns a copy of the conversation.
func (s *EpisodicService) GetConversation(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	conv, ok := u.conversations[conversationID]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrConversationNotFound, "conversation not found")
	}
	return cloneConversation(conv), nil
}

// GetSession returns a copy of the session.
func (s *EpisodicService) GetSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	sess, ok := u.sessions[sessionID]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrSessionNotFound, "session not found")
	}

	clone := *sess
	clone.ConversationIDs = append([]string(nil), sess.ConversationIDs...)
	return &clone, nil
}

// SetSummary writes the synthesis summary exactly once.
func (s *EpisodicService) SetSummary(ctx context.Context, userID, conversationID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	conv, ok := u.conversations[conversationID]
	if !ok {
		return domain.NewDomainError(domain.ErrConversationNotFound, "conversation not found")
	}
	if conv.Summary != "" {
		return domain.NewDomainError(domain.ErrSummaryAlreadySet, "conversation summary already set")
	}

	conv.Summary = summary
	s.flushConversation(ctx, userID, conv)
	return nil
}

// UpdateMetadata merges extracted topics, entities and commitments into the
// conversation's metadata.
func (s *EpisodicService) UpdateMetadata(ctx context.Context, userID, conversationID string, topics []string, entities []models.Entity, commitments []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	conv, ok := u.conversations[conversationID]
	if !ok {
		return domain.NewDomainError(domain.ErrConversationNotFound, "conversation not found")
	}

	for _, t := range topics {
		conv.Metadata.AddTopic(t)
	}
	for _, e := range entities {
		conv.Metadata.AddEntity(e.Name, e.Type)
	}
	for _, c := range commitments {
		conv.Metadata.AddCommitment(c)
	}

	s.flushConversation(ctx, userID, conv)
	return nil
}

// GetRecentSummaries returns summaries of the newest synthesized
// conversations.
func (s *EpisodicService) GetRecentSummaries(ctx context.Context, userID string, limit int) ([]*models.EpisodicSummary, error) {
	if limit <= 0 {
		limit = 10
	}

	s.mu.Lock()
	u := s.user(ctx, userID)
	var summaries []*models.EpisodicSummary
	for _, conv := range u.conversations {
		if conv.Summary == "" {
			continue
		}
		summaries = append(summaries, &models.EpisodicSummary{
			ConversationID: conv.ID,
			Summary:        conv.Summary,
			Topics:         append([]string(nil), conv.Metadata.Topics...),
			Timestamp:      conv.LastMessageAt(),
		})
	}
	s.mu.Unlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Timestamp.After(summaries[j].Timestamp)
	})
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// ListConversations returns copies of a user's conversations, oldest first.
func (s *EpisodicService) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	s.mu.Lock()
	u := s.user(ctx, userID)
	out := make([]*models.Conversation, 0, len(u.conversations))
	for _, conv := range u.conversations {
		out = append(out, cloneConversation(conv))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListSessions returns copies of a user's sessions, oldest first.
func (s *EpisodicService) ListSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	s.mu.Lock()
	u := s.user(ctx, userID)
	out := make([]*models.Session, 0, len(u.sessions))
	for _, sess := range u.sessions {
		clone := *sess
		clone.ConversationIDs = append([]string(nil), sess.ConversationIDs...)
		out = append(out, &clone)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ArchiveMessages moves the given message ids from the live list into the
// archive. Legacy working-memory compaction uses this; order is preserved
// on both sides.
func (s *EpisodicService) ArchiveMessages(ctx context.Context, userID, conversationID string, messageIDs []string) error {
	idSet := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		idSet[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	conv, ok := u.conversations[conversationID]
	if !ok {
		return domain.NewDomainError(domain.ErrConversationNotFound, "conversation not found")
	}

	var kept []*models.Message
	for _, msg := range conv.Messages {
		if idSet[msg.ID] {
			conv.Archived = append(conv.Archived, msg)
		} else {
			kept = append(kept, msg)
		}
	}
	conv.Messages = kept

	s.flushConversation(ctx, userID, conv)
	return nil
}

// ReplaceMessages swaps the live message list wholesale. Only the legacy
// compaction path calls this, to substitute a summary message for archived
// history.
func (s *EpisodicService) ReplaceMessages(ctx context.Context, userID, conversationID string, messages []*models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	conv, ok := u.conversations[conversationID]
	if !ok {
		return domain.NewDomainError(domain.ErrConversationNotFound, "conversation not found")
	}

	conv.Messages = messages
	s.flushConversation(ctx, userID, conv)
	return nil
}

// PendingSynthesis lists ended conversations that have no summary yet.
func (s *EpisodicService) PendingSynthesis(ctx context.Context, userID string) []*models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	var pending []*models.Conversation
	for _, conv := range u.conversations {
		if conv.IsEnded() && conv.Summary == "" {
			pending = append(pending, cloneConversation(conv))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].StartedAt.Before(pending[j].StartedAt)
	})
	return pending
}

// IdleConversations lists open conversations whose last activity predates
// the cutoff. The scheduler auto-ends these.
func (s *EpisodicService) IdleConversations(ctx context.Context, userID string, cutoff time.Time) []*models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	var idle []*models.Conversation
	for _, conv := range u.conversations {
		if conv.IsEnded() {
			continue
		}
		if conv.LastMessageAt().Before(cutoff) {
			idle = append(idle, cloneConversation(conv))
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].StartedAt.Before(idle[j].StartedAt)
	})
	return idle
}

// Users lists every user with in-memory episodic state, sorted.
func (s *EpisodicService) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.users))
	for userID := range s.users {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// DeleteUser drops all episodic state for a user.
func (s *EpisodicService) DeleteUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.DeleteUser(ctx, userID); err != nil {
			return domain.NewDomainError(err, "failed to delete user episodes")
		}
	}
	delete(s.users, userID)
	return nil
}

// LastActivity returns the newest message timestamp across all of a user's
// conversations.
func (s *EpisodicService) LastActivity(ctx context.Context, userID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	var last time.Time
	for _, conv := range u.conversations {
		if t := conv.LastMessageAt(); t.After(last) {
			last = t
		}
	}
	return last
}

func cloneConversation(conv *models.Conversation) *models.Conversation {
	out := *conv
	out.Messages = cloneMessages(conv.Messages)
	out.Archived = cloneMessages(conv.Archived)
	out.Metadata = models.ConversationMetadata{
		Topics:      append([]string(nil), conv.Metadata.Topics...),
		Entities:    append([]models.Entity(nil), conv.Metadata.Entities...),
		Commitments: append([]models.Commitment(nil), conv.Metadata.Commitments...),
		Sentiment:   conv.Metadata.Sentiment,
	}
	return &out
}

func cloneMessages(msgs []*models.Message) []*models.Message {
	if msgs == nil {
		return nil
	}
	out := make([]*models.Message, len(msgs))
	for i, m := range msgs {
		clone := *m
		out[i] = &clone
	}
	return out
}
