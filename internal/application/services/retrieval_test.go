package services

import (
	"context"
	"testing"

	"github.com/osqr/memvault/internal/adapters/embedding"
	"github.com/osqr/memvault/internal/adapters/id"
	"github.com/osqr/memvault/internal/domain/models"
)

func newRetrievalForTest() (*RetrievalService, *SemanticService, *UtilityService) {
	embedder := embedding.NewDeterministic(256)
	ids := id.New()
	semantic := NewSemanticService(nil, embedder, nil, ids)
	utility := NewUtilityService(semantic, ids)
	return NewRetrievalService(semantic, utility, embedder), semantic, utility
}

func TestRetrieveContextFindsMatchingMemory(t *testing.T) {
	retrieval, semantic, utility := newRetrievalForTest()
	ctx := context.Background()

	target, err := semantic.CreateMemory(ctx, "user-1", "prefers dark roast coffee in the morning", models.CategoryPreferences, manualSource())
	if err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}
	semantic.CreateMemory(ctx, "user-1", "quarterly revenue grew substantially", models.CategoryBusinessInfo, manualSource())

	result, err := retrieval.RetrieveContext(ctx, "user-1", "prefers dark roast coffee in the morning", RetrievalOptions{
		MinRelevance: 0.3,
	})
	if err != nil {
		t.Fatalf("RetrieveContext failed: %v", err)
	}
	if len(result.Memories) == 0 {
		t.Fatal("expected at least one retrieved memory")
	}
	if result.Memories[0].Memory.ID != target.ID {
		t.Errorf("expected the matching memory first, got %s", result.Memories[0].Memory.ID)
	}
	if result.TotalCandidates != 2 {
		t.Errorf("expected 2 candidates, got %d", result.TotalCandidates)
	}

	// A retrieval hit is recorded for utility learning.
	if utility.RetrievalCount("user-1") == 0 {
		t.Error("expected a retrieval record")
	}

	// Access stats bump on the returned memory.
	got, _ := semantic.GetMemory(ctx, "user-1", target.ID)
	if got.AccessCount == 0 {
		t.Error("expected access recorded")
	}
}

func TestRetrieveContextRejectsEmptyQuery(t *testing.T) {
	retrieval, _, _ := newRetrievalForTest()

	if _, err := retrieval.RetrieveContext(context.Background(), "user-1", "", RetrievalOptions{}); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestRetrieveContextThresholdFiltersUnrelated(t *testing.T) {
	retrieval, semantic, _ := newRetrievalForTest()
	ctx := context.Background()

	semantic.CreateMemory(ctx, "user-1", "zebra migration patterns fascinate biologists", models.CategoryDomainKnowledge, manualSource())

	result, err := retrieval.RetrieveContext(ctx, "user-1", "kubernetes deployment rollback strategy", RetrievalOptions{
		MinRelevance: 0.3,
	})
	if err != nil {
		t.Fatalf("RetrieveContext failed: %v", err)
	}
	if len(result.Memories) != 0 {
		t.Errorf("expected no results above threshold, got %d", len(result.Memories))
	}
}

func TestRetrieveContextExcludesIDs(t *testing.T) {
	retrieval, semantic, _ := newRetrievalForTest()
	ctx := context.Background()

	m, _ := semantic.CreateMemory(ctx, "user-1", "prefers herbal tea over coffee", models.CategoryPreferences, manualSource())

	result, err := retrieval.RetrieveContext(ctx, "user-1", "prefers herbal tea over coffee", RetrievalOptions{
		MinRelevance: 0.3,
		ExcludeIDs:   []string{m.ID},
	})
	if err != nil {
		t.Fatalf("RetrieveContext failed: %v", err)
	}
	if len(result.Memories) != 0 {
		t.Error("excluded memory should not be returned")
	}
	if result.TotalCandidates != 0 {
		t.Errorf("excluded memory should not be a candidate, got %d", result.TotalCandidates)
	}
}

func TestRetrieveContextCategoryFilter(t *testing.T) {
	retrieval, semantic, _ := newRetrievalForTest()
	ctx := context.Background()

	semantic.CreateMemory(ctx, "user-1", "weekly planning happens on monday", models.CategoryPreferences, manualSource())
	semantic.CreateMemory(ctx, "user-1", "weekly planning happens on monday", models.CategoryBusinessInfo, manualSource())

	result, err := retrieval.RetrieveContext(ctx, "user-1", "weekly planning happens on monday", RetrievalOptions{
		MinRelevance: 0.3,
		Categories:   []models.MemoryCategory{models.CategoryPreferences},
	})
	if err != nil {
		t.Fatalf("RetrieveContext failed: %v", err)
	}
	for _, rm := range result.Memories {
		if rm.Memory.Category != models.CategoryPreferences {
			t.Errorf("category filter leaked %s", rm.Memory.Category)
		}
	}
	if result.TotalCandidates != 1 {
		t.Errorf("expected 1 candidate after category filter, got %d", result.TotalCandidates)
	}
}

func TestRetrieveContextTokenBudget(t *testing.T) {
	retrieval, semantic, _ := newRetrievalForTest()
	ctx := context.Background()

	long := "prefers detailed weekly reports with extensive appendices covering every metric the team tracks across all ongoing initiatives"
	semantic.CreateMemory(ctx, "user-1", long, models.CategoryPreferences, manualSource())

	result, err := retrieval.RetrieveContext(ctx, "user-1", long, RetrievalOptions{
		MinRelevance: 0.3,
		MaxTokens:    5,
	})
	if err != nil {
		t.Fatalf("RetrieveContext failed: %v", err)
	}
	if len(result.Memories) != 0 {
		t.Error("memory over the token budget should be skipped")
	}
}

func TestRetrieveContextContradictionPenalty(t *testing.T) {
	retrieval, semantic, _ := newRetrievalForTest()
	ctx := context.Background()

	clean, _ := semantic.CreateMemory(ctx, "user-1", "enjoys long walks after lunch", models.CategoryPreferences, manualSource())
	disputed, _ := semantic.CreateMemory(ctx, "user-1", "enjoys long walks after lunch break", models.CategoryPreferences, manualSource())
	other, _ := semantic.CreateMemory(ctx, "user-1", "hates walking anywhere at all", models.CategoryPreferences, manualSource())
	semantic.MarkContradiction(ctx, "user-1", disputed.ID, other.ID)

	result, err := retrieval.RetrieveContext(ctx, "user-1", "enjoys long walks after lunch", RetrievalOptions{
		MinRelevance: 0.1,
		Limit:        3,
	})
	if err != nil {
		t.Fatalf("RetrieveContext failed: %v", err)
	}
	if len(result.Memories) == 0 {
		t.Fatal("expected results")
	}
	if result.Memories[0].Memory.ID != clean.ID {
		t.Errorf("contradicted memory should rank below the clean one, got %s first", result.Memories[0].Memory.ID)
	}
}

func TestRetrieveContextSkipsSupersededByDefault(t *testing.T) {
	retrieval, semantic, _ := newRetrievalForTest()
	ctx := context.Background()

	old, _ := semantic.CreateMemory(ctx, "user-1", "works at the old downtown office", models.CategoryBusinessInfo, manualSource())
	newer, _ := semantic.CreateMemory(ctx, "user-1", "works at the new riverside office", models.CategoryBusinessInfo, manualSource())
	if err := semantic.MarkSupersession(ctx, "user-1", newer.ID, old.ID); err != nil {
		t.Fatalf("MarkSupersession failed: %v", err)
	}

	// The superseded memory is dormant: not even a candidate.
	result, err := retrieval.RetrieveContext(ctx, "user-1", "works at the old downtown office", RetrievalOptions{
		MinRelevance: 0.01,
	})
	if err != nil {
		t.Fatalf("RetrieveContext failed: %v", err)
	}
	if result.TotalCandidates != 1 {
		t.Errorf("expected the superseded memory excluded from candidates, got %d", result.TotalCandidates)
	}
	for _, rm := range result.Memories {
		if rm.Memory.ID == old.ID {
			t.Error("superseded memory retrieved without the explicit flag")
		}
	}

	// The explicit flag surfaces it, marked as superseded.
	flagged, err := retrieval.RetrieveContext(ctx, "user-1", "works at the old downtown office", RetrievalOptions{
		MinRelevance:      0.01,
		IncludeSuperseded: true,
	})
	if err != nil {
		t.Fatalf("RetrieveContext failed: %v", err)
	}
	if flagged.TotalCandidates != 2 {
		t.Errorf("expected both candidates with the flag, got %d", flagged.TotalCandidates)
	}
	found := false
	for _, rm := range flagged.Memories {
		if rm.Memory.ID == old.ID {
			found = true
			if !rm.Superseded {
				t.Error("superseded memory should carry the Superseded marker")
			}
		}
	}
	if !found {
		t.Error("expected the superseded memory with IncludeSuperseded set")
	}
}

func TestSearchMemoriesSubstringBonus(t *testing.T) {
	retrieval, semantic, _ := newRetrievalForTest()
	ctx := context.Background()

	semantic.CreateMemory(ctx, "user-1", "deadline for the Acme proposal is friday", models.CategoryCommitments, manualSource())

	result, err := retrieval.SearchMemories(ctx, "user-1", "acme", RetrievalOptions{
		MinRelevance: 0.01,
	})
	if err != nil {
		t.Fatalf("SearchMemories failed: %v", err)
	}
	if len(result.Memories) == 0 {
		t.Fatal("expected the substring match to surface")
	}
}

func TestLowConfidenceCandidatesAreSkipped(t *testing.T) {
	retrieval, semantic, _ := newRetrievalForTest()
	ctx := context.Background()

	semantic.CreateMemory(ctx, "user-1", "tentative guess about travel plans", models.CategoryProjects, models.MemorySource{
		Type:       models.SourceTypeSynthesis,
		Confidence: 0.2,
	})

	result, err := retrieval.RetrieveContext(ctx, "user-1", "tentative guess about travel plans", RetrievalOptions{
		MinRelevance: 0.1,
	})
	if err != nil {
		t.Fatalf("RetrieveContext failed: %v", err)
	}
	if result.TotalCandidates != 0 {
		t.Errorf("low-confidence memory should not be a candidate, got %d", result.TotalCandidates)
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}

	if sim := cosineSimilarity(a, a); sim < 0.999 {
		t.Errorf("identical vectors should have similarity 1, got %f", sim)
	}
	if sim := cosineSimilarity(a, b); sim != 0 {
		t.Errorf("orthogonal vectors should have similarity 0, got %f", sim)
	}
	if sim := cosineSimilarity(a, []float32{1, 0}); sim != 0 {
		t.Errorf("mismatched lengths should yield 0, got %f", sim)
	}
}

func TestDiversifyKeepsLimit(t *testing.T) {
	var scored []scoredMemory
	for i := 0; i < 5; i++ {
		m := models.NewSemanticMemory("mem", "content", models.CategoryPreferences, models.MemorySource{Confidence: 1})
		m.Embedding = []float32{float32(i), 1, 0}
		scored = append(scored, scoredMemory{memory: m, score: 0.9})
	}

	selected := diversify(scored, 3)
	if len(selected) != 3 {
		t.Errorf("expected 3 selected, got %d", len(selected))
	}
}
