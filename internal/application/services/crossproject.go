package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/osqr/memvault/internal/domain"
	"github.com/osqr/memvault/internal/domain/models"
	"github.com/osqr/memvault/internal/ports"
)

const contradictionSimilarity = 0.6

// oppositePairs are keyword pairs that flag two topically-linked memories
// as stating opposite things.
var oppositePairs = [][2]string{
	{"before", "after"},
	{"always", "never"},
	{"like", "dislike"},
	{"prefer", "avoid"},
	{"enable", "disable"},
	{"increase", "decrease"},
}

// CrossProjectQuery describes one cross-project lookup.
type CrossProjectQuery struct {
	Query                string   `json:"query"`
	ProjectIDs           []string `json:"project_ids,omitempty"`
	Limit                int      `json:"limit,omitempty"`
	DetectContradictions bool     `json:"detect_contradictions,omitempty"`
}

// CrossProjectService tracks where memories came from and answers queries
// that span projects. Source contexts and cross-reference edges live in
// maps keyed by memory id.
type CrossProjectService struct {
	semantic  *SemanticService
	retrieval *RetrievalService
	embedding ports.EmbeddingService

	mu      sync.Mutex
	sources map[string]map[string]*models.SourceContext  // userID → memoryID → context
	refs    map[string]map[string][]*models.CrossReference // userID → memoryID → edges
}

func NewCrossProjectService(semantic *SemanticService, retrieval *RetrievalService, embedding ports.EmbeddingService) *CrossProjectService {
	return &CrossProjectService{
		semantic:  semantic,
		retrieval: retrieval,
		embedding: embedding,
		sources:   make(map[string]map[string]*models.SourceContext),
		refs:      make(map[string]map[string][]*models.CrossReference),
	}
}

// SetSourceContext records where a memory was captured.
func (s *CrossProjectService) SetSourceContext(userID, memoryID string, source *models.SourceContext) {
	if source.Timestamp.IsZero() {
		source.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sources[userID] == nil {
		s.sources[userID] = make(map[string]*models.SourceContext)
	}
	s.sources[userID][memoryID] = source
}

// GetSourceContext returns a memory's source context, or nil.
func (s *CrossProjectService) GetSourceContext(userID, memoryID string) *models.SourceContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.sources[userID][memoryID]
	if !ok {
		return nil
	}
	clone := *source
	return &clone
}

// AddCrossReference records an edge from one memory to another.
func (s *CrossProjectService) AddCrossReference(userID, memoryID string, ref *models.CrossReference) error {
	if ref == nil || ref.TargetMemoryID == "" {
		return domain.NewDomainError(domain.ErrInvalidID, "target memory id cannot be empty")
	}
	if ref.TargetMemoryID == memoryID {
		return domain.NewDomainError(domain.ErrSelfReference, "memory cannot cross-reference itself")
	}
	if ref.DiscoveredAt.IsZero() {
		ref.DiscoveredAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs[userID] == nil {
		s.refs[userID] = make(map[string][]*models.CrossReference)
	}
	clone := *ref
	s.refs[userID][memoryID] = append(s.refs[userID][memoryID], &clone)
	return nil
}

// GetCrossReferences returns a memory's outgoing edges.
func (s *CrossProjectService) GetCrossReferences(userID, memoryID string) []*models.CrossReference {
	s.mu.Lock()
	defer s.mu.Unlock()

	edges := s.refs[userID][memoryID]
	out := make([]*models.CrossReference, len(edges))
	for i, e := range edges {
		clone := *e
		out[i] = &clone
	}
	return out
}

// QueryCrossProject ranks memories across projects, groups them by project,
// extracts the themes shared by every group and optionally flags
// cross-project contradictions.
func (s *CrossProjectService) QueryCrossProject(ctx context.Context, userID string, query CrossProjectQuery) (*models.CrossProjectResult, error) {
	if query.Query == "" {
		return nil, domain.NewDomainError(domain.ErrEmptyContent, "query cannot be empty")
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}

	all, err := s.semantic.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(query.ProjectIDs))
	for _, p := range query.ProjectIDs {
		wanted[p] = true
	}

	s.mu.Lock()
	userSources := s.sources[userID]
	projectOf := make(map[string]string, len(userSources))
	for memoryID, source := range userSources {
		projectOf[memoryID] = source.ProjectID
	}
	s.mu.Unlock()

	var candidates []*models.SemanticMemory
	for _, m := range all {
		project, tracked := projectOf[m.ID]
		if !tracked {
			continue
		}
		if len(wanted) > 0 && !wanted[project] {
			continue
		}
		candidates = append(candidates, m)
	}

	result := &models.CrossProjectResult{}
	if len(candidates) == 0 {
		return result, nil
	}

	queryResult, err := s.embedding.Embed(ctx, query.Query)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrEmbeddingsFailed, "failed to embed query")
	}

	opts := RetrievalOptions{
		Limit:            limit,
		BoostRecent:      true,
		BoostHighUtility: true,
	}.withDefaults()
	scored := s.retrieval.score(queryResult.Embedding, candidates, opts, time.Now().UTC())
	if len(scored) > limit {
		scored = scored[:limit]
	}

	groups := make(map[string]*models.ProjectGroup)
	var order []string
	for _, sm := range scored {
		project := projectOf[sm.memory.ID]
		group, ok := groups[project]
		if !ok {
			group = &models.ProjectGroup{ProjectID: project}
			groups[project] = group
			order = append(order, project)
		}
		group.Memories = append(group.Memories, &models.RetrievedMemory{
			Memory:         sm.memory,
			RelevanceScore: sm.score,
		})
	}
	sort.Strings(order)

	for _, project := range order {
		group := groups[project]
		group.Summary = summarizeGroup(group)
		result.Groups = append(result.Groups, group)
	}

	result.CommonThemes = commonThemes(result.Groups)

	if query.DetectContradictions {
		result.Contradictions = detectContradictions(scored, projectOf)
	}
	return result, nil
}

// summarizeGroup describes a project group by its most frequent topics.
func summarizeGroup(group *models.ProjectGroup) string {
	counts := make(map[string]int)
	for _, rm := range group.Memories {
		for _, topic := range rm.Memory.Metadata.Topics {
			counts[topic]++
		}
	}
	if len(counts) == 0 {
		return ""
	}

	topics := make([]string, 0, len(counts))
	for t := range counts {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		if counts[topics[i]] != counts[topics[j]] {
			return counts[topics[i]] > counts[topics[j]]
		}
		return topics[i] < topics[j]
	})
	if len(topics) > 3 {
		topics = topics[:3]
	}
	return strings.Join(topics, ", ")
}

// commonThemes returns the topics that appear in every project group.
func commonThemes(groups []*models.ProjectGroup) []string {
	if len(groups) == 0 {
		return nil
	}

	perGroup := make([]map[string]bool, len(groups))
	for i, group := range groups {
		topics := make(map[string]bool)
		for _, rm := range group.Memories {
			for _, t := range rm.Memory.Metadata.Topics {
				topics[t] = true
			}
		}
		perGroup[i] = topics
	}

	var themes []string
	for topic := range perGroup[0] {
		inAll := true
		for _, topics := range perGroup[1:] {
			if !topics[topic] {
				inAll = false
				break
			}
		}
		if inAll {
			themes = append(themes, topic)
		}
	}
	sort.Strings(themes)
	return themes
}

// detectContradictions flags memory pairs that share a topic, sit close in
// embedding space and use opposite keywords.
func detectContradictions(scored []scoredMemory, projectOf map[string]string) []*models.ContradictionDetection {
	var out []*models.ContradictionDetection
	for i := 0; i < len(scored); i++ {
		for j := i + 1; j < len(scored); j++ {
			a, b := scored[i].memory, scored[j].memory

			shared := sharedTopics(a.Metadata.Topics, b.Metadata.Topics)
			if len(shared) == 0 {
				continue
			}

			sim := cosineSimilarity(a.Embedding, b.Embedding)
			if sim < contradictionSimilarity {
				continue
			}

			pair, ok := oppositeKeywords(a.Content, b.Content)
			if !ok {
				continue
			}

			out = append(out, &models.ContradictionDetection{
				MemoryA:    a.ID,
				MemoryB:    b.ID,
				ProjectA:   projectOf[a.ID],
				ProjectB:   projectOf[b.ID],
				Topics:     shared,
				Similarity: sim,
				Detail:     pair[0] + " vs " + pair[1],
			})
		}
	}
	return out
}

func sharedTopics(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	var shared []string
	for _, t := range b {
		if set[t] {
			shared = append(shared, t)
		}
	}
	sort.Strings(shared)
	return shared
}

// oppositeKeywords reports whether the two texts use opposite sides of a
// known keyword pair, in either direction.
func oppositeKeywords(a, b string) ([2]string, bool) {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	for _, pair := range oppositePairs {
		if containsWord(la, pair[0]) && containsWord(lb, pair[1]) {
			return pair, true
		}
		if containsWord(la, pair[1]) && containsWord(lb, pair[0]) {
			return [2]string{pair[1], pair[0]}, true
		}
	}
	return [2]string{}, false
}

func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordByte(text[start-1])
		afterOK := end == len(text) || !isWordByte(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// DeleteUser drops all cross-project state for a user.
func (s *CrossProjectService) DeleteUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sources, userID)
	delete(s.refs, userID)
}
