package services

import (
	"context"
	"errors"
	"testing"

	"github.com/osqr/memvault/internal/adapters/id"
	"github.com/osqr/memvault/internal/domain"
	"github.com/osqr/memvault/internal/domain/models"
)

func newEpisodicForTest() *EpisodicService {
	return NewEpisodicService(nil, nil, id.New())
}

func TestConversationLifecycle(t *testing.T) {
	s := newEpisodicForTest()
	ctx := context.Background()

	sess, err := s.StartSession(ctx, "user-1", "mobile")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	conv, err := s.StartConversation(ctx, "user-1", sess.ID, "proj-1")
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}

	if _, err := s.AddMessage(ctx, "user-1", conv.ID, models.MessageRoleUser, "hello there", 0); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if _, err := s.AddMessage(ctx, "user-1", conv.ID, models.MessageRoleAssistant, "hi, how can I help?", 0); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	got, err := s.GetConversation(ctx, "user-1", conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got.Messages))
	}
	if got.ProjectID != "proj-1" {
		t.Errorf("expected project id carried, got %q", got.ProjectID)
	}
	// Zero tokens estimate from content length.
	if got.Messages[0].Tokens == 0 {
		t.Error("expected tokens estimated for zero input")
	}

	gotSess, err := s.GetSession(ctx, "user-1", sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if len(gotSess.ConversationIDs) != 1 || gotSess.ConversationIDs[0] != conv.ID {
		t.Errorf("session should track its conversation, got %v", gotSess.ConversationIDs)
	}
}

func TestAddMessageValidation(t *testing.T) {
	s := newEpisodicForTest()
	ctx := context.Background()

	sess, _ := s.StartSession(ctx, "user-1", "desktop")
	conv, _ := s.StartConversation(ctx, "user-1", sess.ID, "")

	if _, err := s.AddMessage(ctx, "user-1", conv.ID, "narrator", "hi", 0); !errors.Is(err, domain.ErrInvalidRole) {
		t.Errorf("expected ErrInvalidRole, got %v", err)
	}
	if _, err := s.AddMessage(ctx, "user-1", conv.ID, models.MessageRoleUser, "", 0); !errors.Is(err, domain.ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
	if _, err := s.AddMessage(ctx, "user-1", "conv-missing", models.MessageRoleUser, "hi", 0); !errors.Is(err, domain.ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestEndConversationOnlyOnce(t *testing.T) {
	s := newEpisodicForTest()
	ctx := context.Background()

	sess, _ := s.StartSession(ctx, "user-1", "desktop")
	conv, _ := s.StartConversation(ctx, "user-1", sess.ID, "")
	s.AddMessage(ctx, "user-1", conv.ID, models.MessageRoleUser, "short chat", 0)

	first, err := s.EndConversation(ctx, "user-1", conv.ID)
	if err != nil {
		t.Fatalf("EndConversation failed: %v", err)
	}
	if !first {
		t.Error("first end should report true")
	}

	again, err := s.EndConversation(ctx, "user-1", conv.ID)
	if err != nil {
		t.Fatalf("second EndConversation failed: %v", err)
	}
	if again {
		t.Error("second end should be a no-op")
	}

	if _, err := s.AddMessage(ctx, "user-1", conv.ID, models.MessageRoleUser, "too late", 0); !errors.Is(err, domain.ErrConversationEnded) {
		t.Errorf("expected ErrConversationEnded, got %v", err)
	}
}

func TestSetSummaryOnlyOnce(t *testing.T) {
	s := newEpisodicForTest()
	ctx := context.Background()

	sess, _ := s.StartSession(ctx, "user-1", "desktop")
	conv, _ := s.StartConversation(ctx, "user-1", sess.ID, "")

	if err := s.SetSummary(ctx, "user-1", conv.ID, "talked about coffee"); err != nil {
		t.Fatalf("SetSummary failed: %v", err)
	}
	if err := s.SetSummary(ctx, "user-1", conv.ID, "revisionist summary"); !errors.Is(err, domain.ErrSummaryAlreadySet) {
		t.Errorf("expected ErrSummaryAlreadySet, got %v", err)
	}

	got, _ := s.GetConversation(ctx, "user-1", conv.ID)
	if got.Summary != "talked about coffee" {
		t.Errorf("summary overwritten: %q", got.Summary)
	}
}

func TestPendingSynthesis(t *testing.T) {
	s := newEpisodicForTest()
	ctx := context.Background()

	sess, _ := s.StartSession(ctx, "user-1", "desktop")

	open, _ := s.StartConversation(ctx, "user-1", sess.ID, "")
	ended, _ := s.StartConversation(ctx, "user-1", sess.ID, "")
	done, _ := s.StartConversation(ctx, "user-1", sess.ID, "")

	s.EndConversation(ctx, "user-1", ended.ID)
	s.EndConversation(ctx, "user-1", done.ID)
	s.SetSummary(ctx, "user-1", done.ID, "already synthesized")

	pending := s.PendingSynthesis(ctx, "user-1")
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending conversation, got %d", len(pending))
	}
	if pending[0].ID != ended.ID {
		t.Errorf("expected %s pending, got %s", ended.ID, pending[0].ID)
	}
	_ = open
}

func TestGetRecentSummaries(t *testing.T) {
	s := newEpisodicForTest()
	ctx := context.Background()

	sess, _ := s.StartSession(ctx, "user-1", "desktop")
	for i := 0; i < 3; i++ {
		conv, _ := s.StartConversation(ctx, "user-1", sess.ID, "")
		s.AddMessage(ctx, "user-1", conv.ID, models.MessageRoleUser, "note", 0)
		s.EndConversation(ctx, "user-1", conv.ID)
		s.SetSummary(ctx, "user-1", conv.ID, "summary")
	}

	summaries, err := s.GetRecentSummaries(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("GetRecentSummaries failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Errorf("expected limit applied, got %d summaries", len(summaries))
	}
}

func TestUpdateMetadataMerges(t *testing.T) {
	s := newEpisodicForTest()
	ctx := context.Background()

	sess, _ := s.StartSession(ctx, "user-1", "desktop")
	conv, _ := s.StartConversation(ctx, "user-1", sess.ID, "")

	if err := s.UpdateMetadata(ctx, "user-1", conv.ID, []string{"coffee", "coffee", "work"}, nil, []string{"send report"}); err != nil {
		t.Fatalf("UpdateMetadata failed: %v", err)
	}

	got, _ := s.GetConversation(ctx, "user-1", conv.ID)
	if len(got.Metadata.Topics) != 2 {
		t.Errorf("expected deduplicated topics, got %v", got.Metadata.Topics)
	}
	if len(got.Metadata.Commitments) != 1 {
		t.Errorf("expected 1 commitment, got %d", len(got.Metadata.Commitments))
	}
}

func TestDeleteUserDropsEpisodes(t *testing.T) {
	s := newEpisodicForTest()
	ctx := context.Background()

	sess, _ := s.StartSession(ctx, "user-1", "desktop")
	conv, _ := s.StartConversation(ctx, "user-1", sess.ID, "")

	if err := s.DeleteUser(ctx, "user-1"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if _, err := s.GetConversation(ctx, "user-1", conv.ID); !errors.Is(err, domain.ErrConversationNotFound) {
		t.Errorf("expected conversation gone, got %v", err)
	}
}
