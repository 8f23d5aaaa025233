package usecases

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/osqr/memvault/internal/application/services"
	"github.com/osqr/memvault/internal/domain"
	"github.com/osqr/memvault/internal/domain/models"
	"github.com/osqr/memvault/internal/ports"
)

// SynthesizeConversation distills one ended conversation into semantic
// memories: extract facts, resolve contradictions against what the user
// already knows, store the survivors and stamp the conversation summary.
type SynthesizeConversation struct {
	episodic     *services.EpisodicService
	semantic     *services.SemanticService
	crossProject *services.CrossProjectService
	extractor    ports.FactExtractor
}

func NewSynthesizeConversation(
	episodic *services.EpisodicService,
	semantic *services.SemanticService,
	crossProject *services.CrossProjectService,
	extractor ports.FactExtractor,
) *SynthesizeConversation {
	return &SynthesizeConversation{
		episodic:     episodic,
		semantic:     semantic,
		crossProject: crossProject,
		extractor:    extractor,
	}
}

// Execute runs synthesis for one conversation and returns what it produced.
func (uc *SynthesizeConversation) Execute(ctx context.Context, userID, conversationID string) (*models.SynthesisResult, error) {
	conv, err := uc.episodic.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	existing, err := uc.semantic.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	extraction, err := uc.extractor.Extract(ctx, conv, existing)
	if err != nil {
		return nil, err
	}

	result := &models.SynthesisResult{
		ConversationID: conversationID,
		Summary:        extraction.Summary,
		Contradictions: len(extraction.Contradictions),
		CompletedAt:    time.Now().UTC(),
	}

	// Resolutions by surviving fact index. keep_existing drops the fact;
	// replace_with_new supersedes the old memory; keep_both records a
	// contradiction edge.
	resolutions := make(map[int][]*models.Contradiction)
	for _, c := range extraction.Contradictions {
		resolutions[c.NewFactIndex] = append(resolutions[c.NewFactIndex], c)
	}

	var allTopics []string
	for i, fact := range extraction.Facts {
		skip := false
		for _, c := range resolutions[i] {
			if c.Resolution == models.ResolutionKeepExisting {
				skip = true
				break
			}
		}
		if skip {
			continue
		}

		memory, err := uc.semantic.CreateMemory(ctx, userID, fact.Content, fact.Category, models.MemorySource{
			Type:       models.SourceTypeSynthesis,
			SourceID:   conversationID,
			Confidence: fact.Confidence,
		})
		if err != nil {
			log.Printf("[SynthesizeConversation] warning: failed to store fact: %v", err)
			continue
		}

		if len(fact.Topics) > 0 {
			if _, err := uc.semantic.UpdateMemory(ctx, userID, memory.ID, services.MemoryUpdate{AddTopics: fact.Topics}); err != nil {
				log.Printf("[SynthesizeConversation] warning: failed to tag memory %s: %v", memory.ID, err)
			}
			allTopics = append(allTopics, fact.Topics...)
		}

		for _, olderID := range fact.Supersedes {
			uc.markSupersession(ctx, userID, memory.ID, olderID, result)
		}
		for _, c := range resolutions[i] {
			switch c.Resolution {
			case models.ResolutionReplaceWithNew:
				uc.markSupersession(ctx, userID, memory.ID, c.ExistingMemoryID, result)
			case models.ResolutionKeepBoth:
				if err := uc.semantic.MarkContradiction(ctx, userID, memory.ID, c.ExistingMemoryID); err != nil {
					log.Printf("[SynthesizeConversation] warning: failed to mark contradiction %s/%s: %v", memory.ID, c.ExistingMemoryID, err)
				}
			}
		}

		if uc.crossProject != nil {
			uc.crossProject.SetSourceContext(userID, memory.ID, &models.SourceContext{
				ProjectID:      conv.ProjectID,
				ConversationID: conversationID,
				Interface:      models.InterfaceAPI,
			})
		}

		result.MemoriesCreated = append(result.MemoriesCreated, memory.ID)
	}

	if extraction.Summary != "" {
		if err := uc.episodic.SetSummary(ctx, userID, conversationID, extraction.Summary); err != nil {
			if !errors.Is(err, domain.ErrSummaryAlreadySet) {
				return nil, err
			}
		}
	}
	if len(allTopics) > 0 {
		if err := uc.episodic.UpdateMetadata(ctx, userID, conversationID, allTopics, nil, nil); err != nil {
			log.Printf("[SynthesizeConversation] warning: failed to update conversation metadata: %v", err)
		}
	}

	return result, nil
}

func (uc *SynthesizeConversation) markSupersession(ctx context.Context, userID, newerID, olderID string, result *models.SynthesisResult) {
	if err := uc.semantic.MarkSupersession(ctx, userID, newerID, olderID); err != nil {
		log.Printf("[SynthesizeConversation] warning: failed to mark supersession %s→%s: %v", newerID, olderID, err)
		return
	}
	result.Superseded = append(result.Superseded, olderID)
}
