package models

import (
	"time"
)

// RuleSource identifies where a mentor rule came from.
type RuleSource string

const (
	RuleSourceUserDefined RuleSource = "user_defined"
	RuleSourceInferred    RuleSource = "inferred"
	RuleSourcePlugin      RuleSource = "plugin"
)

// MentorRule is one behavioral instruction inside a mentor script.
// HelpfulCount can never exceed AppliedCount.
type MentorRule struct {
	ID           string     `json:"id"`
	Text         string     `json:"text"`
	Source       RuleSource `json:"source"`
	Priority     int        `json:"priority"`
	AppliedCount int        `json:"applied_count"`
	HelpfulCount int        `json:"helpful_count"`
	CreatedAt    time.Time  `json:"created_at"`
}

func NewMentorRule(id, text string, source RuleSource, priority int) *MentorRule {
	return &MentorRule{
		ID:        id,
		Text:      text,
		Source:    source,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
}

func (r *MentorRule) RecordApplied() {
	r.AppliedCount++
}

// RecordHelpful bumps the helpful counter, never past the applied counter.
func (r *MentorRule) RecordHelpful() {
	if r.HelpfulCount < r.AppliedCount {
		r.HelpfulCount++
	}
}

// MentorScript holds the mentor rules for a user, optionally scoped to one
// project. At most one script exists per (user, project).
type MentorScript struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"project_id,omitempty"`
	Rules     []*MentorRule `json:"rules"`
	Version   int           `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func NewMentorScript(id, projectID string) *MentorScript {
	now := time.Now().UTC()
	return &MentorScript{
		ID:        id,
		ProjectID: projectID,
		Rules:     []*MentorRule{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *MentorScript) AddRule(rule *MentorRule) {
	s.Rules = append(s.Rules, rule)
	s.UpdatedAt = time.Now().UTC()
}

func (s *MentorScript) IncrementVersion() {
	s.Version++
	s.UpdatedAt = time.Now().UTC()
}

// BriefingScript carries per-session instructions that expire on their own.
type BriefingScript struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id"`
	Instructions []string   `json:"instructions"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func (b *BriefingScript) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && now.After(*b.ExpiresAt)
}

// AccessLevel is a plugin's per-category permission.
type AccessLevel string

const (
	AccessRead  AccessLevel = "read"
	AccessWrite AccessLevel = "write"
	AccessNone  AccessLevel = "none"
)

// CategoryPermission grants one access level for one category.
type CategoryPermission struct {
	Category MemoryCategory `json:"category"`
	Access   AccessLevel    `json:"access"`
}

// PluginRule configures a plugin's behavioral rules and permissions.
type PluginRule struct {
	PluginID    string               `json:"plugin_id"`
	Rules       []string             `json:"rules,omitempty"`
	Permissions []CategoryPermission `json:"permissions,omitempty"`
	Active      bool                 `json:"active"`
}

// CanRead reports whether the plugin rule grants read access for the
// category; write implies read.
func (p *PluginRule) CanRead(category MemoryCategory) bool {
	for _, perm := range p.Permissions {
		if perm.Category == category {
			return perm.Access == AccessRead || perm.Access == AccessWrite
		}
	}
	return false
}

// CanWrite reports whether the plugin rule grants write access.
func (p *PluginRule) CanWrite(category MemoryCategory) bool {
	for _, perm := range p.Permissions {
		if perm.Category == category {
			return perm.Access == AccessWrite
		}
	}
	return false
}
