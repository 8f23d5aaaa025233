package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/osqr/memvault/internal/adapters/id"
	"github.com/osqr/memvault/internal/domain/models"
)

func makeMessages(shapes ...struct {
	role   models.MessageRole
	tokens int
}) []*models.Message {
	out := make([]*models.Message, len(shapes))
	for i, shape := range shapes {
		out[i] = models.NewMessage(
			fmt.Sprintf("msg-%d", i),
			"conv-1",
			shape.role,
			fmt.Sprintf("message %d", i),
			shape.tokens,
		)
	}
	return out
}

func msg(role models.MessageRole, tokens int) struct {
	role   models.MessageRole
	tokens int
} {
	return struct {
		role   models.MessageRole
		tokens int
	}{role, tokens}
}

func TestComputeWindowMessagesMode(t *testing.T) {
	messages := makeMessages(
		msg(models.MessageRoleSystem, 10),
		msg(models.MessageRoleUser, 10),
		msg(models.MessageRoleAssistant, 10),
		msg(models.MessageRoleUser, 10),
		msg(models.MessageRoleAssistant, 10),
		msg(models.MessageRoleUser, 10),
	)

	window := ComputeWindow(messages, models.WindowConfig{
		Mode:                   models.WindowModeMessages,
		Size:                   2,
		PreserveSystemMessages: true,
	})

	// The preserved system message takes one of the two slots, leaving
	// room for only the newest non-system message.
	if len(window.Window) != 2 {
		t.Fatalf("expected 2 messages in window, got %d", len(window.Window))
	}
	if window.Window[0].ID != "msg-0" {
		t.Errorf("expected preserved system message first, got %s", window.Window[0].ID)
	}
	if window.Window[1].ID != "msg-5" {
		t.Errorf("expected the newest message, got %s", window.Window[1].ID)
	}
	if window.MessagesExcluded != 4 {
		t.Errorf("expected 4 excluded, got %d", window.MessagesExcluded)
	}
}

func TestComputeWindowMessagesModeWithoutSystemPreservation(t *testing.T) {
	messages := makeMessages(
		msg(models.MessageRoleSystem, 10),
		msg(models.MessageRoleUser, 10),
		msg(models.MessageRoleAssistant, 10),
		msg(models.MessageRoleUser, 10),
	)

	window := ComputeWindow(messages, models.WindowConfig{
		Mode: models.WindowModeMessages,
		Size: 2,
	})

	// No preservation: the window is just the newest two messages.
	if len(window.Window) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(window.Window))
	}
	if window.Window[0].ID != "msg-2" || window.Window[1].ID != "msg-3" {
		t.Errorf("unexpected window: %s, %s", window.Window[0].ID, window.Window[1].ID)
	}
}

func TestComputeWindowPreservesOrder(t *testing.T) {
	messages := makeMessages(
		msg(models.MessageRoleUser, 5),
		msg(models.MessageRoleAssistant, 5),
		msg(models.MessageRoleUser, 5),
	)

	window := ComputeWindow(messages, models.WindowConfig{
		Mode: models.WindowModeMessages,
		Size: 10,
	})

	if len(window.Window) != 3 {
		t.Fatalf("expected full history, got %d messages", len(window.Window))
	}
	for i, m := range window.Window {
		if m.ID != fmt.Sprintf("msg-%d", i) {
			t.Errorf("window out of order at %d: %s", i, m.ID)
		}
	}
}

func TestComputeWindowTokensMode(t *testing.T) {
	messages := makeMessages(
		msg(models.MessageRoleUser, 100),
		msg(models.MessageRoleUser, 40),
		msg(models.MessageRoleUser, 30),
		msg(models.MessageRoleUser, 20),
	)

	window := ComputeWindow(messages, models.WindowConfig{
		Mode: models.WindowModeTokens,
		Size: 60,
	})

	// 20 + 30 fit; 40 does not, and the scan stops there to keep the
	// window a contiguous suffix.
	if len(window.Window) != 2 {
		t.Fatalf("expected 2 messages within budget, got %d", len(window.Window))
	}
	if window.Window[0].ID != "msg-2" || window.Window[1].ID != "msg-3" {
		t.Errorf("unexpected window: %s, %s", window.Window[0].ID, window.Window[1].ID)
	}
	if window.TokensUsed != 50 {
		t.Errorf("expected 50 tokens used, got %d", window.TokensUsed)
	}
}

func TestComputeWindowTokensModeChargesSystemFirst(t *testing.T) {
	messages := makeMessages(
		msg(models.MessageRoleSystem, 40),
		msg(models.MessageRoleUser, 30),
		msg(models.MessageRoleUser, 25),
	)

	window := ComputeWindow(messages, models.WindowConfig{
		Mode:                   models.WindowModeTokens,
		Size:                   70,
		PreserveSystemMessages: true,
	})

	// System costs 40, leaving 30: only the newest user message fits.
	if len(window.Window) != 2 {
		t.Fatalf("expected system + newest message, got %d", len(window.Window))
	}
	if window.Window[0].ID != "msg-0" || window.Window[1].ID != "msg-2" {
		t.Errorf("unexpected window: %s, %s", window.Window[0].ID, window.Window[1].ID)
	}
}

func TestComputeWindowZeroSizeFallsBackToDefault(t *testing.T) {
	messages := makeMessages(msg(models.MessageRoleUser, 5))

	window := ComputeWindow(messages, models.WindowConfig{})
	if len(window.Window) != 1 {
		t.Fatalf("expected the single message, got %d", len(window.Window))
	}
}

func TestValidateConfig(t *testing.T) {
	if err := ValidateConfig(models.WindowConfig{Mode: models.WindowModeMessages, Size: 10}); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	if err := ValidateConfig(models.WindowConfig{Mode: "bogus", Size: 10}); err == nil {
		t.Error("expected error for unknown mode")
	}
	if err := ValidateConfig(models.WindowConfig{Mode: models.WindowModeTokens, Size: 0}); err == nil {
		t.Error("expected error for zero size")
	}
}

func TestGetExcludedSummary(t *testing.T) {
	episodic := NewEpisodicService(nil, nil, id.New())
	ctx := context.Background()

	sess, err := episodic.StartSession(ctx, "user-1", "desktop")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	conv, err := episodic.StartConversation(ctx, "user-1", sess.ID, "")
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := episodic.AddMessage(ctx, "user-1", conv.ID, models.MessageRoleUser, fmt.Sprintf("note %d", i), 10); err != nil {
			t.Fatalf("AddMessage failed: %v", err)
		}
	}

	window := NewWindowService(episodic)
	summary, err := window.GetExcludedSummary(ctx, "user-1", conv.ID, models.WindowConfig{
		Mode: models.WindowModeMessages,
		Size: 2,
	})
	if err != nil {
		t.Fatalf("GetExcludedSummary failed: %v", err)
	}
	if summary.Count != 3 {
		t.Errorf("expected 3 excluded, got %d", summary.Count)
	}
	if summary.TokensTotal != 30 {
		t.Errorf("expected 30 excluded tokens, got %d", summary.TokensTotal)
	}
	if summary.OldestFirst == "" {
		t.Error("expected a preview of the oldest excluded message")
	}
}

func TestCompactArchivesExcluded(t *testing.T) {
	episodic := NewEpisodicService(nil, nil, id.New())
	ctx := context.Background()

	sess, _ := episodic.StartSession(ctx, "user-1", "desktop")
	conv, _ := episodic.StartConversation(ctx, "user-1", sess.ID, "")
	for i := 0; i < 4; i++ {
		episodic.AddMessage(ctx, "user-1", conv.ID, models.MessageRoleUser, fmt.Sprintf("note %d", i), 10)
	}

	window := NewWindowService(episodic)
	archived, err := window.Compact(ctx, "user-1", conv.ID, models.WindowConfig{
		Mode: models.WindowModeMessages,
		Size: 2,
	})
	if err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if archived != 2 {
		t.Errorf("expected 2 archived, got %d", archived)
	}

	after, err := episodic.GetConversation(ctx, "user-1", conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	// Placeholder summary + the two kept messages.
	if len(after.Messages) != 3 {
		t.Errorf("expected 3 live messages after compaction, got %d", len(after.Messages))
	}
	if len(after.Archived) != 2 {
		t.Errorf("expected 2 archived messages, got %d", len(after.Archived))
	}
	if after.Messages[0].Role != models.MessageRoleSystem {
		t.Errorf("expected a system placeholder first, got %s", after.Messages[0].Role)
	}
}
