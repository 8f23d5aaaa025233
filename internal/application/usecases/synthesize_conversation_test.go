package usecases

import (
	"context"
	"testing"

	"github.com/osqr/memvault/internal/adapters/embedding"
	"github.com/osqr/memvault/internal/adapters/id"
	"github.com/osqr/memvault/internal/application/services"
	"github.com/osqr/memvault/internal/domain/models"
)

type fakeExtractor struct {
	result *models.ExtractionResult
}

func (f *fakeExtractor) Extract(ctx context.Context, conversation *models.Conversation, existing []*models.SemanticMemory) (*models.ExtractionResult, error) {
	return f.result, nil
}

type synthesisFixture struct {
	usecase      *SynthesizeConversation
	episodic     *services.EpisodicService
	semantic     *services.SemanticService
	crossProject *services.CrossProjectService
}

func newSynthesisFixture(extraction *models.ExtractionResult) *synthesisFixture {
	ids := id.New()
	embedder := embedding.NewDeterministic(128)

	episodic := services.NewEpisodicService(nil, nil, ids)
	semantic := services.NewSemanticService(nil, embedder, nil, ids)
	utility := services.NewUtilityService(semantic, ids)
	retrieval := services.NewRetrievalService(semantic, utility, embedder)
	crossProject := services.NewCrossProjectService(semantic, retrieval, embedder)

	return &synthesisFixture{
		usecase:      NewSynthesizeConversation(episodic, semantic, crossProject, &fakeExtractor{result: extraction}),
		episodic:     episodic,
		semantic:     semantic,
		crossProject: crossProject,
	}
}

func (f *synthesisFixture) endedConversation(t *testing.T, projectID string) *models.Conversation {
	t.Helper()
	ctx := context.Background()
	sess, err := f.episodic.StartSession(ctx, "user-1", "desktop")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	conv, err := f.episodic.StartConversation(ctx, "user-1", sess.ID, projectID)
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	f.episodic.AddMessage(ctx, "user-1", conv.ID, models.MessageRoleUser, "I moved the launch to October", 0)
	f.episodic.EndConversation(ctx, "user-1", conv.ID)
	return conv
}

func TestExecuteStoresFactsAndSummary(t *testing.T) {
	fixture := newSynthesisFixture(&models.ExtractionResult{
		Facts: []*models.ExtractedFact{
			{Content: "launch moved to October", Category: models.CategoryProjects, Confidence: 0.85, Topics: []string{"launch", "schedule"}},
		},
		Summary: "Rescheduled the product launch.",
	})
	ctx := context.Background()
	conv := fixture.endedConversation(t, "proj-a")

	result, err := fixture.usecase.Execute(ctx, "user-1", conv.ID)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(result.MemoriesCreated) != 1 {
		t.Fatalf("expected 1 memory created, got %d", len(result.MemoriesCreated))
	}
	if result.Summary != "Rescheduled the product launch." {
		t.Errorf("unexpected summary %q", result.Summary)
	}

	memory, err := fixture.semantic.GetMemory(ctx, "user-1", result.MemoriesCreated[0])
	if err != nil {
		t.Fatalf("stored memory missing: %v", err)
	}
	if memory.Source.Type != models.SourceTypeSynthesis || memory.Source.SourceID != conv.ID {
		t.Error("memory should trace back to the synthesized conversation")
	}
	if len(memory.Metadata.Topics) != 2 {
		t.Errorf("expected topics tagged, got %v", memory.Metadata.Topics)
	}

	// The conversation gets the summary and the merged topics.
	stored, _ := fixture.episodic.GetConversation(ctx, "user-1", conv.ID)
	if stored.Summary != "Rescheduled the product launch." {
		t.Errorf("conversation summary not set: %q", stored.Summary)
	}
	if len(stored.Metadata.Topics) != 2 {
		t.Errorf("expected topics merged into the conversation, got %v", stored.Metadata.Topics)
	}

	// Source context records which project the memory came from.
	source := fixture.crossProject.GetSourceContext("user-1", memory.ID)
	if source == nil || source.ProjectID != "proj-a" || source.ConversationID != conv.ID {
		t.Errorf("unexpected source context %+v", source)
	}
}

func TestExecuteKeepExistingSkipsFact(t *testing.T) {
	extraction := &models.ExtractionResult{
		Facts: []*models.ExtractedFact{
			{Content: "now prefers coffee", Category: models.CategoryPreferences, Confidence: 0.9},
		},
		Summary: "Talked about drinks.",
	}
	fixture := newSynthesisFixture(extraction)
	ctx := context.Background()

	existing, _ := fixture.semantic.CreateMemory(ctx, "user-1", "prefers tea", models.CategoryPreferences, models.MemorySource{
		Type:       models.SourceTypeManual,
		Confidence: 0.9,
	})
	extraction.Contradictions = []*models.Contradiction{
		{ExistingMemoryID: existing.ID, NewFactIndex: 0, Resolution: models.ResolutionKeepExisting},
	}

	conv := fixture.endedConversation(t, "")
	result, err := fixture.usecase.Execute(ctx, "user-1", conv.ID)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(result.MemoriesCreated) != 0 {
		t.Errorf("keep_existing should skip the fact, created %v", result.MemoriesCreated)
	}
	if result.Contradictions != 1 {
		t.Errorf("expected the contradiction counted, got %d", result.Contradictions)
	}
}

func TestExecuteReplaceWithNewSupersedes(t *testing.T) {
	extraction := &models.ExtractionResult{
		Facts: []*models.ExtractedFact{
			{Content: "works at a new startup now", Category: models.CategoryBusinessInfo, Confidence: 0.9},
		},
		Summary: "Changed jobs.",
	}
	fixture := newSynthesisFixture(extraction)
	ctx := context.Background()

	old, _ := fixture.semantic.CreateMemory(ctx, "user-1", "works at a consultancy", models.CategoryBusinessInfo, models.MemorySource{
		Type:       models.SourceTypeManual,
		Confidence: 0.9,
	})
	extraction.Contradictions = []*models.Contradiction{
		{ExistingMemoryID: old.ID, NewFactIndex: 0, Resolution: models.ResolutionReplaceWithNew},
	}

	conv := fixture.endedConversation(t, "")
	result, err := fixture.usecase.Execute(ctx, "user-1", conv.ID)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(result.MemoriesCreated) != 1 {
		t.Fatalf("expected the new memory created, got %d", len(result.MemoriesCreated))
	}
	if len(result.Superseded) != 1 || result.Superseded[0] != old.ID {
		t.Errorf("expected %s superseded, got %v", old.ID, result.Superseded)
	}
	if !fixture.semantic.IsSuperseded(ctx, "user-1", old.ID) {
		t.Error("old memory should be marked superseded")
	}

	newer, _ := fixture.semantic.GetMemory(ctx, "user-1", result.MemoriesCreated[0])
	if len(newer.Metadata.Supersedes) != 1 || newer.Metadata.Supersedes[0] != old.ID {
		t.Errorf("supersedes edge missing: %v", newer.Metadata.Supersedes)
	}
}

func TestExecuteKeepBothMarksContradiction(t *testing.T) {
	extraction := &models.ExtractionResult{
		Facts: []*models.ExtractedFact{
			{Content: "enjoys early morning meetings", Category: models.CategoryPreferences, Confidence: 0.8},
		},
		Summary: "Scheduling preferences.",
	}
	fixture := newSynthesisFixture(extraction)
	ctx := context.Background()

	existing, _ := fixture.semantic.CreateMemory(ctx, "user-1", "dislikes early meetings", models.CategoryPreferences, models.MemorySource{
		Type:       models.SourceTypeManual,
		Confidence: 0.9,
	})
	extraction.Contradictions = []*models.Contradiction{
		{ExistingMemoryID: existing.ID, NewFactIndex: 0, Resolution: models.ResolutionKeepBoth},
	}

	conv := fixture.endedConversation(t, "")
	result, err := fixture.usecase.Execute(ctx, "user-1", conv.ID)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(result.MemoriesCreated) != 1 {
		t.Fatalf("expected the new memory created, got %d", len(result.MemoriesCreated))
	}

	newer, _ := fixture.semantic.GetMemory(ctx, "user-1", result.MemoriesCreated[0])
	older, _ := fixture.semantic.GetMemory(ctx, "user-1", existing.ID)
	if len(newer.Metadata.Contradicts) != 1 || newer.Metadata.Contradicts[0] != existing.ID {
		t.Errorf("new memory should contradict the old one: %v", newer.Metadata.Contradicts)
	}
	if len(older.Metadata.Contradicts) != 1 || older.Metadata.Contradicts[0] != newer.ID {
		t.Errorf("contradiction should be mutual: %v", older.Metadata.Contradicts)
	}
}

func TestExecuteSummaryAlreadySetIsTolerated(t *testing.T) {
	fixture := newSynthesisFixture(&models.ExtractionResult{Summary: "A second pass."})
	ctx := context.Background()

	conv := fixture.endedConversation(t, "")
	fixture.episodic.SetSummary(ctx, "user-1", conv.ID, "the first summary")

	if _, err := fixture.usecase.Execute(ctx, "user-1", conv.ID); err != nil {
		t.Fatalf("Execute should tolerate an existing summary: %v", err)
	}

	stored, _ := fixture.episodic.GetConversation(ctx, "user-1", conv.ID)
	if stored.Summary != "the first summary" {
		t.Errorf("first summary should win, got %q", stored.Summary)
	}
}

func TestExecuteUnknownConversation(t *testing.T) {
	fixture := newSynthesisFixture(&models.ExtractionResult{})

	if _, err := fixture.usecase.Execute(context.Background(), "user-1", "conv-missing"); err == nil {
		t.Error("expected an error for an unknown conversation")
	}
}
