package services

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/osqr/memvault/internal/adapters/metrics"
	"github.com/osqr/memvault/internal/domain"
	"github.com/osqr/memvault/internal/domain/models"
)

// tierAllowances maps each access tier to the categories a plugin at that
// tier may read. personal_info appears in no tier on purpose.
var tierAllowances = map[models.AccessTier][]models.MemoryCategory{
	models.TierNone:    {},
	models.TierMinimal: {models.CategoryPreferences},
	models.TierContextual: {
		models.CategoryPreferences,
		models.CategoryBusinessInfo,
		models.CategoryProjects,
		models.CategoryDomainKnowledge,
	},
	models.TierFull: {
		models.CategoryPreferences,
		models.CategoryBusinessInfo,
		models.CategoryProjects,
		models.CategoryDomainKnowledge,
		models.CategoryDecisions,
		models.CategoryCommitments,
		models.CategoryRelationships,
	},
}

// PrivacyService is the gate every external read passes through. It decides
// which categories a requester may see, redacts what leaves, and records
// every plugin request in the audit log.
type PrivacyService struct {
	procedural *ProceduralService
	redaction  *RedactionEngine
	audit      *AuditService

	mu       sync.Mutex
	settings map[string]*models.PrivacySettings
}

func NewPrivacyService(procedural *ProceduralService, redaction *RedactionEngine, audit *AuditService) *PrivacyService {
	return &PrivacyService{
		procedural: procedural,
		redaction:  redaction,
		audit:      audit,
		settings:   make(map[string]*models.PrivacySettings),
	}
}

// Settings returns a user's privacy settings, creating the defaults on
// first access.
func (s *PrivacyService) Settings(userID string) *models.PrivacySettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settingsLocked(userID)
}

func (s *PrivacyService) settingsLocked(userID string) *models.PrivacySettings {
	settings, ok := s.settings[userID]
	if !ok {
		settings = models.DefaultPrivacySettings()
		s.settings[userID] = settings
	}
	return settings
}

// UpdateSettings replaces a user's privacy settings.
func (s *PrivacyService) UpdateSettings(userID string, settings *models.PrivacySettings) error {
	if settings == nil {
		return domain.NewDomainError(domain.ErrInvalidInput, "privacy settings cannot be nil")
	}
	if !models.ValidTier(settings.PluginAccessTier) {
		return domain.NewDomainError(domain.ErrInvalidInput, "unknown access tier")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[userID] = settings
	return nil
}

// EffectiveTier resolves the tier a requester operates at: components
// always work at contextual, users always at full, plugins at whatever the
// user configured.
func (s *PrivacyService) EffectiveTier(userID string, requesterType models.RequesterType) models.AccessTier {
	switch requesterType {
	case models.RequesterComponent:
		return models.TierContextual
	case models.RequesterUser:
		return models.TierFull
	default:
		return s.Settings(userID).PluginAccessTier
	}
}

// AllowedCategories returns the categories readable at a tier by a
// requester type. Plugins never see personal_info.
func (s *PrivacyService) AllowedCategories(requesterType models.RequesterType, tier models.AccessTier) []models.MemoryCategory {
	if requesterType == models.RequesterUser {
		// Owners see everything, including personal_info.
		return append([]models.MemoryCategory(nil), models.AllCategories...)
	}
	return append([]models.MemoryCategory(nil), tierAllowances[tier]...)
}

// CheckReadAccess reports whether the requester may read the category.
func (s *PrivacyService) CheckReadAccess(userID, requesterID string, requesterType models.RequesterType, category models.MemoryCategory) error {
	if requesterType == models.RequesterPlugin && category == models.CategoryPersonalInfo {
		return domain.NewDomainError(domain.ErrCategoryForbidden, "personal_info is never shared with plugins")
	}

	tier := s.EffectiveTier(userID, requesterType)
	for _, allowed := range s.AllowedCategories(requesterType, tier) {
		if allowed == category {
			return nil
		}
	}
	return domain.NewDomainError(domain.ErrCategoryForbidden, "category not allowed at tier "+string(tier))
}

// CheckWriteAccess reports whether the requester may write memories.
// Writes require the full tier.
func (s *PrivacyService) CheckWriteAccess(userID, requesterID string, requesterType models.RequesterType) error {
	if s.EffectiveTier(userID, requesterType) != models.TierFull {
		return domain.NewDomainError(domain.ErrWriteForbidden, "write access requires full tier")
	}
	return nil
}

// ProcessPluginRequest filters the memories to what the plugin may see,
// synthesizes a redacted summary and logs the access. The plugin receives
// the summary, never the memories themselves.
func (s *PrivacyService) ProcessPluginRequest(ctx context.Context, userID string, request *models.PluginDataRequest, memories []*models.SemanticMemory) (*models.SanitizedSummary, error) {
	if request == nil || request.PluginID == "" {
		return nil, domain.NewDomainError(domain.ErrInvalidID, "plugin id cannot be empty")
	}

	settings := s.Settings(userID)
	for _, blocked := range settings.BlockedPlugins {
		if blocked == request.PluginID {
			s.logRequest(ctx, userID, request, nil, nil)
			metrics.PluginRequestsTotal.WithLabelValues("blocked").Inc()
			return nil, domain.NewDomainError(domain.ErrCategoryForbidden, "plugin is blocked")
		}
	}

	tier := settings.PluginAccessTier
	allowed := make(map[models.MemoryCategory]bool)
	for _, c := range tierAllowances[tier] {
		allowed[c] = true
	}

	// A stored plugin rule narrows, never widens, the tier allowance.
	if s.procedural != nil {
		if rule := s.procedural.GetPluginRule(ctx, userID, request.PluginID); rule != nil {
			if !rule.Active {
				s.logRequest(ctx, userID, request, nil, nil)
				metrics.PluginRequestsTotal.WithLabelValues("blocked").Inc()
				return nil, domain.NewDomainError(domain.ErrCategoryForbidden, "plugin rule is inactive")
			}
			if len(rule.Permissions) > 0 {
				for c := range allowed {
					if !rule.CanRead(c) {
						delete(allowed, c)
					}
				}
			}
		}
	}

	requested := request.RequestedCategories
	if len(requested) == 0 {
		requested = tierAllowances[tier]
	}

	granted := make(map[models.MemoryCategory]bool)
	for _, c := range requested {
		if c == models.CategoryPersonalInfo {
			continue
		}
		if allowed[c] {
			granted[c] = true
		}
	}

	var parts []string
	var confidenceSum float64
	var provided []models.MemoryCategory
	seen := make(map[models.MemoryCategory]bool)
	count := 0
	for _, m := range memories {
		if !granted[m.Category] {
			continue
		}
		parts = append(parts, m.Content)
		confidenceSum += m.Confidence
		count++
		if !seen[m.Category] {
			seen[m.Category] = true
			provided = append(provided, m.Category)
		}
	}
	sort.Slice(provided, func(i, j int) bool { return provided[i] < provided[j] })

	rules := s.redaction.RulesForTier(tier, settings.RedactionRules)
	content, applied := s.redaction.Apply(strings.Join(parts, " "), rules)

	summary := &models.SanitizedSummary{
		Content:           content,
		Categories:        provided,
		RedactionsApplied: applied,
	}
	if count > 0 {
		summary.Confidence = confidenceSum / float64(count)
	}

	s.logRequest(ctx, userID, request, provided, applied)
	metrics.PluginRequestsTotal.WithLabelValues("granted").Inc()
	return summary, nil
}

func (s *PrivacyService) logRequest(ctx context.Context, userID string, request *models.PluginDataRequest, provided []models.MemoryCategory, redactions []string) {
	if s.audit == nil {
		return
	}

	requested := make([]string, 0, len(request.RequestedCategories))
	for _, c := range request.RequestedCategories {
		requested = append(requested, string(c))
	}
	providedStrs := make([]string, 0, len(provided))
	for _, c := range provided {
		providedStrs = append(providedStrs, string(c))
	}

	s.audit.LogAccess(ctx, &models.AccessLogEntry{
		RequesterID:         request.PluginID,
		RequesterType:       models.RequesterPlugin,
		UserID:              userID,
		CategoriesRequested: requested,
		CategoriesProvided:  providedStrs,
		RedactionsApplied:   redactions,
	})
}

// DeleteUser drops per-user privacy state.
func (s *PrivacyService) DeleteUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.settings, userID)
}
