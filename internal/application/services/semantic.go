package services

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/osqr/memvault/internal/adapters/metrics"
	"github.com/osqr/memvault/internal/domain"
	"github.com/osqr/memvault/internal/domain/models"
	"github.com/osqr/memvault/internal/ports"
)

// SemanticService is the long-term fact store. Each user's memories live in
// a hot in-memory map guarded by a lock; when a repository is attached every
// write flushes through it and the map is hydrated from it on first touch.
type SemanticService struct {
	repo      ports.SemanticRepository
	embedding ports.EmbeddingService
	encryptor ports.RecordEncryptor
	ids       ports.IDGenerator

	mu    sync.RWMutex
	users map[string]*userMemories
}

type userMemories struct {
	memories map[string]*models.SemanticMemory
	// supersededBy is the reverse index of the supersedes edge sets: id →
	// ids of memories that supersede it.
	supersededBy map[string]map[string]bool
	hydrated     bool
}

// MemoryFilter narrows ListMemories results. Zero values mean "no
// constraint"; an empty Categories set matches every category and the
// creation window is inclusive on both ends.
type MemoryFilter struct {
	Categories    []models.MemoryCategory
	Topic         string
	MinUtility    float64
	MinConfidence float64
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
}

func (f MemoryFilter) matchesCategory(category models.MemoryCategory) bool {
	if len(f.Categories) == 0 {
		return true
	}
	for _, c := range f.Categories {
		if c == category {
			return true
		}
	}
	return false
}

func NewSemanticService(
	repo ports.SemanticRepository,
	embedding ports.EmbeddingService,
	encryptor ports.RecordEncryptor,
	ids ports.IDGenerator,
) *SemanticService {
	return &SemanticService{
		repo:      repo,
		embedding: embedding,
		encryptor: encryptor,
		ids:       ids,
		users:     make(map[string]*userMemories),
	}
}

// user returns the per-user bucket, hydrating it from the repository the
// first time the user is touched.
func (s *SemanticService) user(ctx context.Context, userID string) (*userMemories, error) {
	if u, ok := s.users[userID]; ok {
		return u, nil
	}

	u := &userMemories{
		memories:     make(map[string]*models.SemanticMemory),
		supersededBy: make(map[string]map[string]bool),
	}
	s.users[userID] = u

	if s.repo != nil && !u.hydrated {
		stored, err := s.repo.LoadAll(ctx, userID)
		if err != nil {
			log.Printf("[SemanticService] warning: failed to hydrate user %s: %v", userID, err)
		} else {
			for _, m := range stored {
				if s.encryptor != nil {
					content, derr := s.encryptor.Decrypt(userID, ports.PurposeSemanticContent, m.Content)
					if derr != nil {
						log.Printf("[SemanticService] warning: failed to decrypt memory %s: %v", m.ID, derr)
						continue
					}
					m.Content = content
				}
				u.memories[m.ID] = m
			}
			u.rebuildSupersededIndex()
		}
	}
	u.hydrated = true

	return u, nil
}

func (u *userMemories) rebuildSupersededIndex() {
	u.supersededBy = make(map[string]map[string]bool)
	for id, m := range u.memories {
		for _, target := range m.Metadata.Supersedes {
			u.addSupersededBy(target, id)
		}
	}
}

func (u *userMemories) addSupersededBy(target, by string) {
	if u.supersededBy[target] == nil {
		u.supersededBy[target] = make(map[string]bool)
	}
	u.supersededBy[target][by] = true
}

// flush writes a memory through to the repository with content encrypted at
// rest.
func (s *SemanticService) flush(ctx context.Context, userID string, memory *models.SemanticMemory) error {
	if s.repo == nil {
		return nil
	}

	record := memory.Clone()
	if s.encryptor != nil {
		content, err := s.encryptor.Encrypt(userID, ports.PurposeSemanticContent, record.Content)
		if err != nil {
			return domain.NewDomainError(err, "failed to encrypt memory content")
		}
		record.Content = content
	}

	if err := s.repo.Upsert(ctx, userID, record); err != nil {
		return domain.NewDomainError(err, "failed to persist memory")
	}
	return nil
}

// CreateMemory stores a new fact, embedding its content first.
func (s *SemanticService) CreateMemory(ctx context.Context, userID, content string, category models.MemoryCategory, source models.MemorySource) (*models.SemanticMemory, error) {
	if content == "" {
		return nil, domain.NewDomainError(domain.ErrEmptyContent, "memory content cannot be empty")
	}
	if !models.ValidCategory(category) {
		return nil, domain.NewDomainError(domain.ErrInvalidCategory, "unknown memory category")
	}

	result, err := s.embedding.Embed(ctx, content)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrEmbeddingsFailed, "failed to generate embeddings")
	}

	memory := models.NewSemanticMemory(s.ids.GenerateMemoryID(), content, category, source)
	memory.Embedding = result.Embedding

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.flush(ctx, userID, memory); err != nil {
		return nil, err
	}
	u.memories[memory.ID] = memory
	metrics.MemoriesStored.WithLabelValues(userID).Set(float64(len(u.memories)))

	return memory.Clone(), nil
}

// GetMemory returns a copy of the memory.
func (s *SemanticService) GetMemory(ctx context.Context, userID, id string) (*models.SemanticMemory, error) {
	s.mu.RLock()
	u, ok := s.users[userID]
	if ok {
		if m, found := u.memories[id]; found {
			clone := m.Clone()
			s.mu.RUnlock()
			return clone, nil
		}
	}
	s.mu.RUnlock()

	if !ok {
		// First touch of this user: hydrate and retry once.
		s.mu.Lock()
		u2, err := s.user(ctx, userID)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		if m, found := u2.memories[id]; found {
			clone := m.Clone()
			s.mu.Unlock()
			return clone, nil
		}
		s.mu.Unlock()
	}

	return nil, domain.NewDomainError(domain.ErrMemoryNotFound, "memory not found")
}

// UpdateMemory applies a partial update. Content changes re-embed; edge
// lists merge as a set union with the existing edges, they never shrink
// here.
func (s *SemanticService) UpdateMemory(ctx context.Context, userID, id string, update MemoryUpdate) (*models.SemanticMemory, error) {
	var embedding []float32
	if update.Content != nil {
		if *update.Content == "" {
			return nil, domain.NewDomainError(domain.ErrEmptyContent, "memory content cannot be empty")
		}
		result, err := s.embedding.Embed(ctx, *update.Content)
		if err != nil {
			return nil, domain.NewDomainError(domain.ErrEmbeddingsFailed, "failed to generate embeddings")
		}
		embedding = result.Embedding
	}
	if update.Category != nil && !models.ValidCategory(*update.Category) {
		return nil, domain.NewDomainError(domain.ErrInvalidCategory, "unknown memory category")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	m, ok := u.memories[id]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrMemoryNotFound, "memory not found")
	}

	if update.Content != nil {
		m.Content = *update.Content
		m.Embedding = embedding
	}
	if update.Category != nil {
		m.Category = *update.Category
	}
	if update.Confidence != nil {
		m.Confidence = clamp01(*update.Confidence)
	}
	for _, t := range update.AddTopics {
		m.AddTopic(t)
	}
	m.Metadata.RelatedMemoryIDs = unionStrings(m.Metadata.RelatedMemoryIDs, update.AddRelated)

	if err := s.flush(ctx, userID, m); err != nil {
		return nil, err
	}

	return m.Clone(), nil
}

// MemoryUpdate is a partial update; nil fields are left untouched.
type MemoryUpdate struct {
	Content    *string
	Category   *models.MemoryCategory
	Confidence *float64
	AddTopics  []string
	AddRelated []string
}

// DeleteMemory removes the memory and every edge pointing at it.
func (s *SemanticService) DeleteMemory(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	if _, ok := u.memories[id]; !ok {
		return domain.NewDomainError(domain.ErrMemoryNotFound, "memory not found")
	}

	if s.repo != nil {
		if err := s.repo.Delete(ctx, userID, id); err != nil {
			return domain.NewDomainError(err, "failed to delete memory")
		}
	}

	delete(u.memories, id)
	delete(u.supersededBy, id)

	// Scrub dangling references from the survivors.
	for _, m := range u.memories {
		changed := removeString(&m.Metadata.RelatedMemoryIDs, id)
		changed = removeString(&m.Metadata.Contradicts, id) || changed
		changed = removeString(&m.Metadata.Supersedes, id) || changed
		if changed {
			if err := s.flush(ctx, userID, m); err != nil {
				log.Printf("[SemanticService] warning: failed to flush edge cleanup for %s: %v", m.ID, err)
			}
		}
	}
	for target, by := range u.supersededBy {
		delete(by, id)
		if len(by) == 0 {
			delete(u.supersededBy, target)
		}
	}
	metrics.MemoriesStored.WithLabelValues(userID).Set(float64(len(u.memories)))

	return nil
}

// RecordAccess bumps access stats in O(1); it is called on every retrieval
// hit.
func (s *SemanticService) RecordAccess(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	m, ok := u.memories[id]
	if !ok {
		return domain.NewDomainError(domain.ErrMemoryNotFound, "memory not found")
	}

	m.RecordAccess()
	// Access stats are not worth a synchronous flush per hit; they reach the
	// repository on the next content-bearing write or decay pass.
	return nil
}

// ListMemories returns copies of all memories matching the filter, newest
// first.
func (s *SemanticService) ListMemories(ctx context.Context, userID string, filter MemoryFilter) ([]*models.SemanticMemory, error) {
	s.mu.Lock()
	u, err := s.user(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	var out []*models.SemanticMemory
	for _, m := range u.memories {
		if !filter.matchesCategory(m.Category) {
			continue
		}
		if filter.Topic != "" && !containsString(m.Metadata.Topics, filter.Topic) {
			continue
		}
		if m.UtilityScore < filter.MinUtility {
			continue
		}
		if m.Confidence < filter.MinConfidence {
			continue
		}
		if !filter.CreatedAfter.IsZero() && m.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		if !filter.CreatedBefore.IsZero() && m.CreatedAt.After(filter.CreatedBefore) {
			continue
		}
		out = append(out, m.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Snapshot returns copies of every memory for a user; retrieval and
// synthesis run against a snapshot so they never observe partial writes.
func (s *SemanticService) Snapshot(ctx context.Context, userID string) ([]*models.SemanticMemory, error) {
	return s.ListMemories(ctx, userID, MemoryFilter{})
}

// IsSuperseded reports whether any memory's supersedes set names this id.
func (s *SemanticService) IsSuperseded(ctx context.Context, userID, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return false
	}
	return len(u.supersededBy[id]) > 0
}

// MarkContradiction records a mutual contradiction edge between two
// memories. Repeated calls are no-ops.
func (s *SemanticService) MarkContradiction(ctx context.Context, userID, idA, idB string) error {
	if idA == idB {
		return domain.NewDomainError(domain.ErrSelfReference, "a memory cannot contradict itself")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	a, okA := u.memories[idA]
	b, okB := u.memories[idB]
	if !okA || !okB {
		return domain.NewDomainError(domain.ErrMemoryNotFound, "memory not found")
	}

	changedA := appendUnique(&a.Metadata.Contradicts, idB)
	changedB := appendUnique(&b.Metadata.Contradicts, idA)

	if changedA {
		if err := s.flush(ctx, userID, a); err != nil {
			return err
		}
	}
	if changedB {
		if err := s.flush(ctx, userID, b); err != nil {
			return err
		}
	}
	return nil
}

// MarkSupersession records that newer supersedes older. Self-edges and
// edges that would close a cycle in the supersession graph are rejected;
// repeated calls are no-ops.
func (s *SemanticService) MarkSupersession(ctx context.Context, userID, newerID, olderID string) error {
	if newerID == olderID {
		return domain.NewDomainError(domain.ErrSelfReference, "a memory cannot supersede itself")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	newer, okN := u.memories[newerID]
	_, okO := u.memories[olderID]
	if !okN || !okO {
		return domain.NewDomainError(domain.ErrMemoryNotFound, "memory not found")
	}

	if containsString(newer.Metadata.Supersedes, olderID) {
		return nil
	}

	// Walking supersedes edges from older must not reach newer, otherwise
	// the edge closes a cycle.
	if u.supersessionReaches(olderID, newerID) {
		return domain.NewDomainError(domain.ErrSupersessionCycle, "supersession edge would create a cycle")
	}

	newer.Metadata.Supersedes = append(newer.Metadata.Supersedes, olderID)
	u.addSupersededBy(olderID, newerID)

	return s.flush(ctx, userID, newer)
}

// supersessionReaches reports whether target is reachable from start via
// supersedes edges.
func (u *userMemories) supersessionReaches(start, target string) bool {
	visited := make(map[string]bool)
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		if m, ok := u.memories[id]; ok {
			stack = append(stack, m.Metadata.Supersedes...)
		}
	}
	return false
}

// LinkMemories records a mutual related-to edge.
func (s *SemanticService) LinkMemories(ctx context.Context, userID, idA, idB string) error {
	if idA == idB {
		return domain.NewDomainError(domain.ErrSelfReference, "a memory cannot relate to itself")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	a, okA := u.memories[idA]
	b, okB := u.memories[idB]
	if !okA || !okB {
		return domain.NewDomainError(domain.ErrMemoryNotFound, "memory not found")
	}

	changedA := appendUnique(&a.Metadata.RelatedMemoryIDs, idB)
	changedB := appendUnique(&b.Metadata.RelatedMemoryIDs, idA)

	if changedA {
		if err := s.flush(ctx, userID, a); err != nil {
			return err
		}
	}
	if changedB {
		if err := s.flush(ctx, userID, b); err != nil {
			return err
		}
	}
	return nil
}

// BatchUpdateUtility applies new utility scores in one pass under a single
// lock hold.
func (s *SemanticService) BatchUpdateUtility(ctx context.Context, userID string, scores map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.user(ctx, userID)
	if err != nil {
		return err
	}

	for id, score := range scores {
		m, ok := u.memories[id]
		if !ok {
			continue
		}
		m.SetUtilityScore(score)
		if err := s.flush(ctx, userID, m); err != nil {
			log.Printf("[SemanticService] warning: failed to flush utility for %s: %v", id, err)
		}
	}
	return nil
}

// ApplyUtilityDecay multiplies every memory's utility score by (1 - rate),
// flooring at the minimum so decayed memories stay rankable. The utility
// engine folds the same decay into its refresh; this is the direct knob.
// Returns the number of memories whose score changed.
func (s *SemanticService) ApplyUtilityDecay(ctx context.Context, userID string, rate float64) (int, error) {
	if rate <= 0 || rate >= 1 {
		return 0, domain.NewDomainError(domain.ErrInvalidInput, "decay rate must be in (0, 1)")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.user(ctx, userID)
	if err != nil {
		return 0, err
	}

	decayed := 0
	for _, m := range u.memories {
		next := m.UtilityScore * (1 - rate)
		if next < utilityMinimumScore {
			next = utilityMinimumScore
		}
		if next == m.UtilityScore {
			continue
		}
		m.SetUtilityScore(next)
		decayed++
		if err := s.flush(ctx, userID, m); err != nil {
			log.Printf("[SemanticService] warning: failed to flush decay for %s: %v", m.ID, err)
		}
	}
	return decayed, nil
}

// CountMemories returns the number of memories held for a user, by category.
func (s *SemanticService) CountMemories(ctx context.Context, userID string) (int, map[models.MemoryCategory]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.user(ctx, userID)
	if err != nil {
		return 0, nil, err
	}

	byCategory := make(map[models.MemoryCategory]int)
	for _, m := range u.memories {
		byCategory[m.Category]++
	}
	return len(u.memories), byCategory, nil
}

// DeleteUser drops every memory the user has.
func (s *SemanticService) DeleteUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.DeleteUser(ctx, userID); err != nil {
			return domain.NewDomainError(err, "failed to delete user memories")
		}
	}
	delete(s.users, userID)
	return nil
}

// RestoreMemory reinstates a memory verbatim, keeping its id and stats.
// Import uses this path.
func (s *SemanticService) RestoreMemory(ctx context.Context, userID string, memory *models.SemanticMemory) error {
	if memory == nil || memory.ID == "" {
		return domain.NewDomainError(domain.ErrInvalidID, "memory id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.user(ctx, userID)
	if err != nil {
		return err
	}

	clone := memory.Clone()
	if err := s.flush(ctx, userID, clone); err != nil {
		return err
	}
	u.memories[clone.ID] = clone
	u.rebuildSupersededIndex()
	return nil
}

// OrphanSweep drops edges pointing at ids that no longer exist. The
// scheduler runs this hourly.
func (s *SemanticService) OrphanSweep(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.user(ctx, userID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, m := range u.memories {
		removed += pruneMissing(&m.Metadata.RelatedMemoryIDs, u.memories)
		removed += pruneMissing(&m.Metadata.Contradicts, u.memories)
		removed += pruneMissing(&m.Metadata.Supersedes, u.memories)
	}
	if removed > 0 {
		u.rebuildSupersededIndex()
	}
	return removed, nil
}

// Users lists the user ids with in-memory state.
func (s *SemanticService) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.users))
	for id := range s.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LastDecayableAccess is used by the utility engine: memories untouched for
// longer than the horizon are decay candidates.
func (s *SemanticService) LastDecayableAccess(ctx context.Context, userID, id string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return time.Time{}, false
	}
	m, ok := u.memories[id]
	if !ok {
		return time.Time{}, false
	}
	return m.LastAccessedAt, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func appendUnique(list *[]string, s string) bool {
	if containsString(*list, s) {
		return false
	}
	*list = append(*list, s)
	return true
}

func removeString(list *[]string, s string) bool {
	for i, v := range *list {
		if v == s {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

func unionStrings(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, s := range b {
		appendUnique(&out, s)
	}
	return out
}

func pruneMissing(list *[]string, existing map[string]*models.SemanticMemory) int {
	kept := (*list)[:0]
	removed := 0
	for _, id := range *list {
		if _, ok := existing[id]; ok {
			kept = append(kept, id)
		} else {
			removed++
		}
	}
	*list = kept
	return removed
}
