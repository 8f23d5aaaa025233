package models

import (
	"time"
)

// AccessTier orders plugin access from none to full.
type AccessTier string

const (
	TierNone       AccessTier = "none"
	TierMinimal    AccessTier = "minimal"
	TierContextual AccessTier = "contextual"
	TierFull       AccessTier = "full"
)

// ValidTier reports whether t is a known access tier.
func ValidTier(t AccessTier) bool {
	switch t {
	case TierNone, TierMinimal, TierContextual, TierFull:
		return true
	}
	return false
}

// RequesterType identifies who is asking for memories.
type RequesterType string

const (
	RequesterPlugin    RequesterType = "plugin"
	RequesterComponent RequesterType = "component"
	RequesterUser      RequesterType = "user"
)

// PrivacySettings is the per-user privacy configuration.
type PrivacySettings struct {
	PluginAccessTier AccessTier       `json:"plugin_access_tier"`
	BlockedPlugins   []string         `json:"blocked_plugins,omitempty"`
	CategoryOverride map[string]bool  `json:"category_override,omitempty"`
	RedactionRules   []*RedactionRule `json:"redaction_rules,omitempty"`
}

func DefaultPrivacySettings() *PrivacySettings {
	return &PrivacySettings{
		PluginAccessTier: TierContextual,
	}
}

// RedactionAction selects how a matched pattern is rewritten.
type RedactionAction string

const (
	RedactRemove     RedactionAction = "remove"
	RedactGeneralize RedactionAction = "generalize"
	RedactHash       RedactionAction = "hash"
)

// RedactionRule maps a pattern to an action; Replacement is used by the
// generalize action.
type RedactionRule struct {
	Name        string          `json:"name"`
	Pattern     string          `json:"pattern"`
	Action      RedactionAction `json:"action"`
	Replacement string          `json:"replacement,omitempty"`
}

// PluginDataRequest asks for a sanitized view of a user's memories.
type PluginDataRequest struct {
	PluginID            string           `json:"plugin_id"`
	RequestedCategories []MemoryCategory `json:"requested_categories"`
	Purpose             string           `json:"purpose,omitempty"`
}

// SanitizedSummary is what a plugin receives: filtered categories and a
// redacted synthesis, never raw memories.
type SanitizedSummary struct {
	Content           string           `json:"content"`
	Categories        []MemoryCategory `json:"categories"`
	Confidence        float64          `json:"confidence"`
	RedactionsApplied []string         `json:"redactions_applied,omitempty"`
}

// AccessLogEntry is one append-only audit record. Entries are removed only
// by retention pruning.
type AccessLogEntry struct {
	ID                  string        `json:"id"`
	RequesterID         string        `json:"requester_id"`
	RequesterType       RequesterType `json:"requester_type"`
	UserID              string        `json:"user_id"`
	CategoriesRequested []string      `json:"categories_requested"`
	CategoriesProvided  []string      `json:"categories_provided"`
	RedactionsApplied   []string      `json:"redactions_applied,omitempty"`
	Timestamp           time.Time     `json:"timestamp"`
}
