package services

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/osqr/memvault/internal/adapters/metrics"
	"github.com/osqr/memvault/internal/domain"
	"github.com/osqr/memvault/internal/domain/models"
	"github.com/osqr/memvault/internal/ports"
)

// Retrieval defaults. Callers can override any of them per request.
const (
	DefaultRetrievalLimit      = 5
	DefaultMinRelevance        = 0.6
	DefaultMaxTokens           = 4000
	DefaultSimilarityWeight    = 0.5
	DefaultRecencyWeight       = 0.2
	DefaultUtilityWeight       = 0.3
	DefaultContradictionFactor = 0.7
	DefaultDecayDays           = 30.0
	diversityFactor            = 0.3
	candidateMinConfidence     = 0.5
	textMatchBonus             = 1.2
)

// RetrievalOptions tunes one retrieval run. Zero values select the
// defaults.
type RetrievalOptions struct {
	Limit      int
	Categories []models.MemoryCategory
	ExcludeIDs []string
	// IncludeSuperseded surfaces dormant memories too. Superseded memories
	// are skipped entirely unless it is set; the flagged path marks them
	// with Superseded on the result.
	IncludeSuperseded   bool
	MinRelevance        float64
	MaxTokens           int
	BoostRecent         bool
	BoostHighUtility    bool
	SimilarityWeight    float64
	RecencyWeight       float64
	UtilityWeight       float64
	ContradictionFactor float64
	DecayDays           float64
}

func (o RetrievalOptions) withDefaults() RetrievalOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultRetrievalLimit
	}
	if o.MinRelevance == 0 {
		o.MinRelevance = DefaultMinRelevance
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.SimilarityWeight == 0 {
		o.SimilarityWeight = DefaultSimilarityWeight
	}
	if o.RecencyWeight == 0 {
		o.RecencyWeight = DefaultRecencyWeight
	}
	if o.UtilityWeight == 0 {
		o.UtilityWeight = DefaultUtilityWeight
	}
	if o.ContradictionFactor == 0 {
		o.ContradictionFactor = DefaultContradictionFactor
	}
	if o.DecayDays == 0 {
		o.DecayDays = DefaultDecayDays
	}
	return o
}

// RetrievalResult is what a retrieval run returns.
type RetrievalResult struct {
	Memories        []*models.RetrievedMemory `json:"memories"`
	TokensUsed      int                       `json:"tokens_used"`
	TotalCandidates int                       `json:"total_candidates"`
	RetrievalTimeMs int64                     `json:"retrieval_time_ms"`
}

// RetrievalService scores, diversifies and budget-selects semantic memories
// for a query.
type RetrievalService struct {
	semantic  *SemanticService
	utility   *UtilityService
	embedding ports.EmbeddingService
}

func NewRetrievalService(semantic *SemanticService, utility *UtilityService, embedding ports.EmbeddingService) *RetrievalService {
	return &RetrievalService{
		semantic:  semantic,
		utility:   utility,
		embedding: embedding,
	}
}

type scoredMemory struct {
	memory     *models.SemanticMemory
	score      float64
	similarity float64
}

// RetrieveContext runs the full pipeline: embed, score, sort, threshold,
// diversify, budget, record.
func (s *RetrievalService) RetrieveContext(ctx context.Context, userID, query string, opts RetrievalOptions) (*RetrievalResult, error) {
	if query == "" {
		return nil, domain.NewDomainError(domain.ErrEmptyContent, "query cannot be empty")
	}
	opts = opts.withDefaults()
	start := time.Now()

	queryResult, err := s.embedding.Embed(ctx, query)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrEmbeddingsFailed, "failed to embed query")
	}

	candidates, err := s.candidates(ctx, userID, opts)
	if err != nil {
		return nil, err
	}

	scored := s.score(queryResult.Embedding, candidates, opts, time.Now().UTC())
	selected := s.selectWithinBudget(scored, opts)

	result := &RetrievalResult{
		TotalCandidates: len(candidates),
	}
	for _, sm := range selected {
		result.Memories = append(result.Memories, &models.RetrievedMemory{
			Memory:         sm.memory,
			RelevanceScore: sm.score,
			Superseded:     s.semantic.IsSuperseded(ctx, userID, sm.memory.ID),
		})
		result.TokensUsed += models.EstimateTokens(sm.memory.Content)

		if err := s.semantic.RecordAccess(ctx, userID, sm.memory.ID); err == nil && s.utility != nil {
			s.utility.RecordRetrieval(userID, sm.memory.ID, query)
		}
	}

	result.RetrievalTimeMs = time.Since(start).Milliseconds()
	metrics.RetrievalsTotal.Inc()
	metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	return result, nil
}

// SearchMemories is the hybrid variant: substring matches get a 20% score
// bonus before the shared threshold, diversification and budget steps.
func (s *RetrievalService) SearchMemories(ctx context.Context, userID, query string, opts RetrievalOptions) (*RetrievalResult, error) {
	if query == "" {
		return nil, domain.NewDomainError(domain.ErrEmptyContent, "query cannot be empty")
	}
	opts = opts.withDefaults()
	start := time.Now()

	queryResult, err := s.embedding.Embed(ctx, query)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrEmbeddingsFailed, "failed to embed query")
	}

	candidates, err := s.candidates(ctx, userID, opts)
	if err != nil {
		return nil, err
	}

	scored := s.score(queryResult.Embedding, candidates, opts, time.Now().UTC())

	needle := strings.ToLower(query)
	for i := range scored {
		if strings.Contains(strings.ToLower(scored[i].memory.Content), needle) {
			scored[i].score = clamp01(scored[i].score * textMatchBonus)
		}
	}
	sortScored(scored)

	selected := s.selectWithinBudget(scored, opts)

	result := &RetrievalResult{
		TotalCandidates: len(candidates),
	}
	for _, sm := range selected {
		result.Memories = append(result.Memories, &models.RetrievedMemory{
			Memory:         sm.memory,
			RelevanceScore: sm.score,
			Superseded:     s.semantic.IsSuperseded(ctx, userID, sm.memory.ID),
		})
		result.TokensUsed += models.EstimateTokens(sm.memory.Content)
	}

	result.RetrievalTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

func (s *RetrievalService) candidates(ctx context.Context, userID string, opts RetrievalOptions) ([]*models.SemanticMemory, error) {
	all, err := s.semantic.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(opts.ExcludeIDs))
	for _, id := range opts.ExcludeIDs {
		excluded[id] = true
	}
	allowed := make(map[models.MemoryCategory]bool, len(opts.Categories))
	for _, c := range opts.Categories {
		allowed[c] = true
	}

	var out []*models.SemanticMemory
	for _, m := range all {
		if excluded[m.ID] {
			continue
		}
		if len(allowed) > 0 && !allowed[m.Category] {
			continue
		}
		if m.Confidence < candidateMinConfidence {
			continue
		}
		if !opts.IncludeSuperseded && s.semantic.IsSuperseded(ctx, userID, m.ID) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RetrievalService) score(query []float32, candidates []*models.SemanticMemory, opts RetrievalOptions, now time.Time) []scoredMemory {
	scored := make([]scoredMemory, 0, len(candidates))
	for _, m := range candidates {
		similarity := cosineSimilarity(query, m.Embedding)

		recencyBoost := 0.0
		if opts.BoostRecent {
			days := now.Sub(m.LastAccessedAt).Hours() / 24
			if days < 0 {
				days = 0
			}
			recencyBoost = math.Exp(-days/opts.DecayDays) * opts.RecencyWeight
		}

		utilityBoost := 0.0
		if opts.BoostHighUtility {
			utilityBoost = m.UtilityScore * opts.UtilityWeight
		}

		contradictionPenalty := 0.0
		if m.HasContradictions() {
			contradictionPenalty = 1 - opts.ContradictionFactor
		}

		score := clamp01((similarity*opts.SimilarityWeight + recencyBoost + utilityBoost) * (1 - contradictionPenalty))
		scored = append(scored, scoredMemory{memory: m, score: score, similarity: similarity})
	}

	sortScored(scored)
	return scored
}

func sortScored(scored []scoredMemory) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if !scored[i].memory.CreatedAt.Equal(scored[j].memory.CreatedAt) {
			return scored[i].memory.CreatedAt.After(scored[j].memory.CreatedAt)
		}
		return scored[i].memory.ID < scored[j].memory.ID
	})
}

// diversify greedily reorders the above-threshold candidates, trading raw
// score against distance from what is already picked.
func diversify(candidates []scoredMemory, limit int) []scoredMemory {
	if len(candidates) <= 1 {
		return candidates
	}

	remaining := append([]scoredMemory(nil), candidates...)
	var selected []scoredMemory

	for len(selected) < limit && len(remaining) > 0 {
		bestIdx := 0
		bestValue := math.Inf(-1)
		for i, cand := range remaining {
			maxSim := 0.0
			for _, sel := range selected {
				if sim := cosineSimilarity(cand.memory.Embedding, sel.memory.Embedding); sim > maxSim {
					maxSim = sim
				}
			}
			value := cand.score*(1-diversityFactor) + (1-maxSim)*diversityFactor
			if value > bestValue {
				bestValue = value
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

// selectWithinBudget applies the relevance threshold, diversification and
// the token budget. After a skip it keeps trying smaller candidates.
func (s *RetrievalService) selectWithinBudget(scored []scoredMemory, opts RetrievalOptions) []scoredMemory {
	var aboveThreshold []scoredMemory
	for _, sm := range scored {
		if sm.score >= opts.MinRelevance {
			aboveThreshold = append(aboveThreshold, sm)
		}
	}

	diversified := diversify(aboveThreshold, opts.Limit)

	var selected []scoredMemory
	tokensUsed := 0
	for _, sm := range diversified {
		cost := models.EstimateTokens(sm.memory.Content)
		if tokensUsed+cost > opts.MaxTokens {
			continue
		}
		selected = append(selected, sm)
		tokensUsed += cost
	}
	return selected
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
