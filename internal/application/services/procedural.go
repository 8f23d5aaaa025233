package services

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/osqr/memvault/internal/domain"
	"github.com/osqr/memvault/internal/domain/models"
	"github.com/osqr/memvault/internal/ports"
)

// ProceduralService manages mentor scripts, briefing scripts and plugin
// rules. Mentor scripts are version-aware; briefing scripts expire lazily
// on read.
type ProceduralService struct {
	repo ports.ProceduralRepository
	ids  ports.IDGenerator

	mu    sync.Mutex
	users map[string]*userProcedures
}

type userProcedures struct {
	// mentor scripts keyed by project id; "" is the user-wide script.
	mentor   map[string]*models.MentorScript
	briefing map[string]*models.BriefingScript
	plugins  map[string]*models.PluginRule
	hydrated bool
}

func NewProceduralService(repo ports.ProceduralRepository, ids ports.IDGenerator) *ProceduralService {
	return &ProceduralService{
		repo:  repo,
		ids:   ids,
		users: make(map[string]*userProcedures),
	}
}

func (s *ProceduralService) user(ctx context.Context, userID string) *userProcedures {
	if u, ok := s.users[userID]; ok {
		return u
	}

	u := &userProcedures{
		mentor:   make(map[string]*models.MentorScript),
		briefing: make(map[string]*models.BriefingScript),
		plugins:  make(map[string]*models.PluginRule),
	}
	s.users[userID] = u

	if s.repo != nil {
		scripts, err := s.repo.LoadMentorScripts(ctx, userID)
		if err != nil {
			log.Printf("[ProceduralService] warning: failed to hydrate mentor scripts for %s: %v", userID, err)
		} else {
			for _, script := range scripts {
				u.mentor[script.ProjectID] = script
			}
		}

		briefings, err := s.repo.LoadBriefingScripts(ctx, userID)
		if err != nil {
			log.Printf("[ProceduralService] warning: failed to hydrate briefing scripts for %s: %v", userID, err)
		} else {
			for _, b := range briefings {
				u.briefing[b.ID] = b
			}
		}

		rules, err := s.repo.LoadPluginRules(ctx, userID)
		if err != nil {
			log.Printf("[ProceduralService] warning: failed to hydrate plugin rules for %s: %v", userID, err)
		} else {
			for _, r := range rules {
				u.plugins[r.PluginID] = r
			}
		}
	}
	u.hydrated = true

	return u
}

func (s *ProceduralService) flushMentor(ctx context.Context, userID string, script *models.MentorScript) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveMentorScript(ctx, userID, script); err != nil {
		log.Printf("[ProceduralService] warning: failed to persist mentor script %s: %v", script.ID, err)
	}
}

// GetMentorScript returns the script for a project, creating an empty one
// on first use. ProjectID "" selects the user-wide script.
func (s *ProceduralService) GetMentorScript(ctx context.Context, userID, projectID string) (*models.MentorScript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	script, ok := u.mentor[projectID]
	if !ok {
		script = models.NewMentorScript(s.ids.GenerateScriptID(), projectID)
		u.mentor[projectID] = script
		s.flushMentor(ctx, userID, script)
	}
	return cloneMentorScript(script), nil
}

// AddMentorRule appends a rule to the script and bumps its version.
func (s *ProceduralService) AddMentorRule(ctx context.Context, userID, projectID, text string, source models.RuleSource, priority int) (*models.MentorRule, error) {
	if text == "" {
		return nil, domain.NewDomainError(domain.ErrEmptyContent, "rule text cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	script, ok := u.mentor[projectID]
	if !ok {
		script = models.NewMentorScript(s.ids.GenerateScriptID(), projectID)
		u.mentor[projectID] = script
	}

	rule := models.NewMentorRule(s.ids.GenerateRuleID(), text, source, priority)
	script.AddRule(rule)
	script.IncrementVersion()
	s.flushMentor(ctx, userID, script)

	clone := *rule
	return &clone, nil
}

// RemoveMentorRule deletes a rule by id and bumps the script version.
func (s *ProceduralService) RemoveMentorRule(ctx context.Context, userID, projectID, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	script, ok := u.mentor[projectID]
	if !ok {
		return domain.NewDomainError(domain.ErrScriptNotFound, "mentor script not found")
	}

	for i, rule := range script.Rules {
		if rule.ID == ruleID {
			script.Rules = append(script.Rules[:i], script.Rules[i+1:]...)
			script.IncrementVersion()
			s.flushMentor(ctx, userID, script)
			return nil
		}
	}
	return domain.NewDomainError(domain.ErrRuleNotFound, "mentor rule not found")
}

// RecordRuleApplied bumps a rule's applied counter.
func (s *ProceduralService) RecordRuleApplied(ctx context.Context, userID, projectID, ruleID string) error {
	return s.withRule(ctx, userID, projectID, ruleID, func(rule *models.MentorRule) {
		rule.RecordApplied()
	})
}

// RecordRuleHelpful bumps a rule's helpful counter; it can never pass the
// applied counter.
func (s *ProceduralService) RecordRuleHelpful(ctx context.Context, userID, projectID, ruleID string) error {
	return s.withRule(ctx, userID, projectID, ruleID, func(rule *models.MentorRule) {
		rule.RecordHelpful()
	})
}

func (s *ProceduralService) withRule(ctx context.Context, userID, projectID, ruleID string, fn func(*models.MentorRule)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	script, ok := u.mentor[projectID]
	if !ok {
		return domain.NewDomainError(domain.ErrScriptNotFound, "mentor script not found")
	}
	for _, rule := range script.Rules {
		if rule.ID == ruleID {
			fn(rule)
			script.UpdatedAt = time.Now().UTC()
			s.flushMentor(ctx, userID, script)
			return nil
		}
	}
	return domain.NewDomainError(domain.ErrRuleNotFound, "mentor rule not found")
}

// SetBriefingScript stores per-session instructions with an optional
// expiry.
func (s *ProceduralService) SetBriefingScript(ctx context.Context, userID, sessionID string, instructions []string, expiresAt *time.Time) (*models.BriefingScript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	script := &models.BriefingScript{
		ID:           s.ids.GenerateBriefingID(),
		SessionID:    sessionID,
		Instructions: append([]string(nil), instructions...),
		ExpiresAt:    expiresAt,
	}
	u.briefing[script.ID] = script

	if s.repo != nil {
		if err := s.repo.SaveBriefingScript(ctx, userID, script); err != nil {
			log.Printf("[ProceduralService] warning: failed to persist briefing script %s: %v", script.ID, err)
		}
	}

	clone := *script
	clone.Instructions = append([]string(nil), script.Instructions...)
	return &clone, nil
}

// GetBriefingScripts returns the live briefing scripts for a session,
// dropping expired ones as it goes.
func (s *ProceduralService) GetBriefingScripts(ctx context.Context, userID, sessionID string) []*models.BriefingScript {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	var out []*models.BriefingScript
	for id, script := range u.briefing {
		if script.Expired(now) {
			delete(u.briefing, id)
			continue
		}
		if script.SessionID != sessionID {
			continue
		}
		clone := *script
		clone.Instructions = append([]string(nil), script.Instructions...)
		out = append(out, &clone)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetPluginRule stores a plugin's rules and permissions.
func (s *ProceduralService) SetPluginRule(ctx context.Context, userID string, rule *models.PluginRule) error {
	if rule == nil || rule.PluginID == "" {
		return domain.NewDomainError(domain.ErrInvalidID, "plugin id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	clone := *rule
	clone.Rules = append([]string(nil), rule.Rules...)
	clone.Permissions = append([]models.CategoryPermission(nil), rule.Permissions...)
	u.plugins[rule.PluginID] = &clone

	if s.repo != nil {
		if err := s.repo.SavePluginRule(ctx, userID, &clone); err != nil {
			log.Printf("[ProceduralService] warning: failed to persist plugin rule %s: %v", rule.PluginID, err)
		}
	}
	return nil
}

// GetPluginRule returns the stored rule for a plugin, or nil.
func (s *ProceduralService) GetPluginRule(ctx context.Context, userID, pluginID string) *models.PluginRule {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(ctx, userID)
	rule, ok := u.plugins[pluginID]
	if !ok {
		return nil
	}
	clone := *rule
	clone.Rules = append([]string(nil), rule.Rules...)
	clone.Permissions = append([]models.CategoryPermission(nil), rule.Permissions...)
	return &clone
}

// DeleteUser drops all procedural state for a user.
func (s *ProceduralService) DeleteUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.DeleteUser(ctx, userID); err != nil {
			return domain.NewDomainError(err, "failed to delete user procedures")
		}
	}
	delete(s.users, userID)
	return nil
}

func cloneMentorScript(script *models.MentorScript) *models.MentorScript {
	out := *script
	out.Rules = make([]*models.MentorRule, len(script.Rules))
	for i, rule := range script.Rules {
		clone := *rule
		out.Rules[i] = &clone
	}
	return &out
}
