package models

import (
	"time"
)

// InterfaceKind names the surface a memory was captured through.
type InterfaceKind string

const (
	InterfaceWeb    InterfaceKind = "web"
	InterfaceVSCode InterfaceKind = "vscode"
	InterfaceMobile InterfaceKind = "mobile"
	InterfaceVoice  InterfaceKind = "voice"
	InterfaceAPI    InterfaceKind = "api"
)

// SourceContext locates a memory's origin for cross-project queries.
type SourceContext struct {
	ProjectID      string        `json:"project_id,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	DocumentID     string        `json:"document_id,omitempty"`
	Interface      InterfaceKind `json:"interface"`
	Timestamp      time.Time     `json:"timestamp"`
}

// RelationshipType labels a cross-reference edge between memories.
type RelationshipType string

const (
	RelationSupports    RelationshipType = "supports"
	RelationContradicts RelationshipType = "contradicts"
	RelationExtends     RelationshipType = "extends"
	RelationRelated     RelationshipType = "related"
)

// CrossReference links a memory to another, possibly in another project.
type CrossReference struct {
	TargetMemoryID   string           `json:"target_memory_id"`
	TargetProjectID  string           `json:"target_project_id,omitempty"`
	RelationshipType RelationshipType `json:"relationship_type"`
	Strength         float64          `json:"strength"`
	DiscoveredAt     time.Time        `json:"discovered_at"`
	DiscoveredBy     string           `json:"discovered_by"` // "user" or "system"
}

// ContradictionDetection is a cross-project conflict between two memories
// that share a topic but state opposite things.
type ContradictionDetection struct {
	MemoryA    string   `json:"memory_a"`
	MemoryB    string   `json:"memory_b"`
	ProjectA   string   `json:"project_a,omitempty"`
	ProjectB   string   `json:"project_b,omitempty"`
	Topics     []string `json:"topics"`
	Similarity float64  `json:"similarity"`
	Detail     string   `json:"detail,omitempty"`
}

// ProjectGroup is the per-project slice of a cross-project query result.
type ProjectGroup struct {
	ProjectID string             `json:"project_id"`
	Memories  []*RetrievedMemory `json:"memories"`
	Summary   string             `json:"summary,omitempty"`
}

// CrossProjectResult is the full answer to a cross-project query.
type CrossProjectResult struct {
	Groups         []*ProjectGroup           `json:"groups"`
	CommonThemes   []string                  `json:"common_themes,omitempty"`
	Contradictions []*ContradictionDetection `json:"contradictions,omitempty"`
}
