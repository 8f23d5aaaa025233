package services

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/osqr/memvault/internal/adapters/metrics"
	"github.com/osqr/memvault/internal/domain"
	"github.com/osqr/memvault/internal/domain/models"
	"github.com/osqr/memvault/internal/ports"
)

// Utility learning parameters.
const (
	utilityWindow       = 7 * 24 * time.Hour
	bayesAlpha          = 1.0
	bayesBeta           = 1.0
	utilityMomentum     = 0.7
	utilityDecayRate    = 0.05
	utilityRecencyBoost = 0.1
	utilityMinimumScore = 0.1
	recencyBoostMaxAge  = 7 * 24 * time.Hour
)

// outcomeDeltas are the immediate adjustments applied by RecordOutcome.
var outcomeDeltas = map[models.Outcome]float64{
	models.OutcomeUsed:       0.02,
	models.OutcomeHelpful:    0.10,
	models.OutcomeNotHelpful: -0.05,
	models.OutcomeIgnored:    -0.02,
}

// UtilityService learns which memories earn their place: outcomes feed
// immediate deltas and retrieval records feed the periodic Bayesian batch
// update.
type UtilityService struct {
	semantic *SemanticService
	ids      ports.IDGenerator

	mu         sync.Mutex
	retrievals map[string][]*models.RetrievalRecord // userID → records
	outcomes   map[string][]*models.OutcomeRecord   // userID → history
}

func NewUtilityService(semantic *SemanticService, ids ports.IDGenerator) *UtilityService {
	return &UtilityService{
		semantic:   semantic,
		ids:        ids,
		retrievals: make(map[string][]*models.RetrievalRecord),
		outcomes:   make(map[string][]*models.OutcomeRecord),
	}
}

// RecordRetrieval notes that a memory was surfaced for a query.
func (s *UtilityService) RecordRetrieval(userID, memoryID, query string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.retrievals[userID] = append(s.retrievals[userID], &models.RetrievalRecord{
		ID:        s.ids.GenerateRetrievalID(),
		MemoryID:  memoryID,
		Query:     query,
		Timestamp: time.Now().UTC(),
	})
}

// RecordOutcome applies the immediate delta for an observed outcome and
// marks matching retrieval records helpful or not.
func (s *UtilityService) RecordOutcome(ctx context.Context, userID, memoryID, conversationID string, outcome models.Outcome, note string) error {
	if !models.ValidOutcome(outcome) {
		return domain.NewDomainError(domain.ErrInvalidInput, "unknown outcome")
	}

	memory, err := s.semantic.GetMemory(ctx, userID, memoryID)
	if err != nil {
		return err
	}

	delta := outcomeDeltas[outcome]
	if err := s.semantic.BatchUpdateUtility(ctx, userID, map[string]float64{
		memoryID: memory.UtilityScore + delta,
	}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes[userID] = append(s.outcomes[userID], &models.OutcomeRecord{
		ID:             s.ids.GenerateOutcomeID(),
		MemoryID:       memoryID,
		ConversationID: conversationID,
		Outcome:        outcome,
		Context:        note,
		Timestamp:      time.Now().UTC(),
	})

	if outcome == models.OutcomeHelpful || outcome == models.OutcomeNotHelpful {
		helpful := outcome == models.OutcomeHelpful
		for _, rec := range s.retrievals[userID] {
			if rec.MemoryID == memoryID && rec.WasHelpful == nil {
				v := helpful
				rec.WasHelpful = &v
			}
		}
	}

	return nil
}

// UpdateUtilityScores runs the batch learning pass for one user over the
// last seven days of retrievals.
func (s *UtilityService) UpdateUtilityScores(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	cutoff := now.Add(-utilityWindow)

	type tally struct {
		retrieved int
		helpful   int
	}

	s.mu.Lock()
	tallies := make(map[string]*tally)
	kept := s.retrievals[userID][:0]
	for _, rec := range s.retrievals[userID] {
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, rec)
		t := tallies[rec.MemoryID]
		if t == nil {
			t = &tally{}
			tallies[rec.MemoryID] = t
		}
		t.retrieved++
		if rec.WasHelpful != nil && *rec.WasHelpful {
			t.helpful++
		}
	}
	s.retrievals[userID] = kept
	s.mu.Unlock()

	memories, err := s.semantic.Snapshot(ctx, userID)
	if err != nil {
		return err
	}

	scores := make(map[string]float64, len(memories))
	for _, m := range memories {
		var next float64
		if t, ok := tallies[m.ID]; ok {
			bayesian := (float64(t.helpful) + bayesAlpha) / (float64(t.retrieved) + bayesAlpha + bayesBeta)
			next = utilityMomentum*m.UtilityScore + (1-utilityMomentum)*bayesian
		} else {
			next = m.UtilityScore * (1 - utilityDecayRate)
		}

		age := now.Sub(m.CreatedAt)
		if age <= recencyBoostMaxAge {
			days := age.Hours() / 24
			if days < 0 {
				days = 0
			}
			next += utilityRecencyBoost * math.Exp(-days/7)
		}

		if next < utilityMinimumScore {
			next = utilityMinimumScore
		}
		if next > 1 {
			next = 1
		}
		scores[m.ID] = next
	}

	if err := s.semantic.BatchUpdateUtility(ctx, userID, scores); err != nil {
		return err
	}

	metrics.UtilityUpdatesTotal.Inc()
	return nil
}

// UpdateAllUsers runs the batch pass for every user with in-memory state.
// The scheduler's daily driver calls this.
func (s *UtilityService) UpdateAllUsers(ctx context.Context) error {
	var firstErr error
	for _, userID := range s.semantic.Users() {
		if err := s.UpdateUtilityScores(ctx, userID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OutcomeHistory returns the recorded outcomes for a user, newest last.
func (s *UtilityService) OutcomeHistory(userID string) []*models.OutcomeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.OutcomeRecord, len(s.outcomes[userID]))
	copy(out, s.outcomes[userID])
	return out
}

// RetrievalCount returns how many in-window retrieval records a user has.
func (s *UtilityService) RetrievalCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retrievals[userID])
}

// DeleteUser drops all learning state for a user.
func (s *UtilityService) DeleteUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.retrievals, userID)
	delete(s.outcomes, userID)
}
