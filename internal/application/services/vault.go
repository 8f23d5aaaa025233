package services

import (
	"context"
	"log"
	"sync"

	"github.com/osqr/memvault/internal/adapters/metrics"
	"github.com/osqr/memvault/internal/domain"
	"github.com/osqr/memvault/internal/domain/models"
)

// FeatureFlags gate vault behavior at operation time. A disabled feature
// makes the corresponding operations return their neutral result instantly.
// Flags whose subsystem lives outside the vault (validation, routing,
// indexing, throttling, surfaces) are recognized and stored so callers can
// read them back; the vault itself has nothing to switch off for those.
type FeatureFlags struct {
	EnableMemoryVault              bool `json:"enable_memory_vault"`
	EnableSynthesis                bool `json:"enable_synthesis"`
	EnableCrossProjectMemory       bool `json:"enable_cross_project_memory"`
	EnableUtilityLearning          bool `json:"enable_utility_learning"`
	EnableConstitutionalValidation bool `json:"enable_constitutional_validation"`
	EnableRouterMRP                bool `json:"enable_router_mrp"`
	EnableDocumentIndexing         bool `json:"enable_document_indexing"`
	EnableThrottle                 bool `json:"enable_throttle"`
	EnableTemporalIntelligence     bool `json:"enable_temporal_intelligence"`
	EnableBubbleInterface          bool `json:"enable_bubble_interface"`
	EnableGuidance                 bool `json:"enable_guidance"`
}

func DefaultFeatureFlags() FeatureFlags {
	return FeatureFlags{
		EnableMemoryVault:              true,
		EnableSynthesis:                true,
		EnableCrossProjectMemory:       true,
		EnableUtilityLearning:          true,
		EnableConstitutionalValidation: true,
		EnableRouterMRP:                true,
		EnableDocumentIndexing:         true,
		EnableThrottle:                 true,
		EnableTemporalIntelligence:     true,
		EnableBubbleInterface:          true,
		EnableGuidance:                 true,
	}
}

// VaultConfig configures one user's vault.
type VaultConfig struct {
	WindowConfig models.WindowConfig `json:"window_config"`
	Flags        FeatureFlags        `json:"flags"`
}

func DefaultVaultConfig() VaultConfig {
	return VaultConfig{
		WindowConfig: models.DefaultWindowConfig(),
		Flags:        DefaultFeatureFlags(),
	}
}

// SynthesizeByID runs synthesis for one conversation of one user.
type SynthesizeByID func(ctx context.Context, userID, conversationID string) (*models.SynthesisResult, error)

// VaultServices bundles the shared services a vault delegates to.
type VaultServices struct {
	Episodic     *EpisodicService
	Semantic     *SemanticService
	Procedural   *ProceduralService
	Window       *WindowService
	Retrieval    *RetrievalService
	Utility      *UtilityService
	Privacy      *PrivacyService
	CrossProject *CrossProjectService
	Audit        *AuditService
	Queue        *SynthesisQueue
	Synthesize   SynthesizeByID
}

// Vault is the per-user facade over the three memory tiers. All state lives
// in the shared services, partitioned by user id; the vault itself only
// tracks the active session and conversation.
type Vault struct {
	userID   string
	services VaultServices

	mu             sync.Mutex
	config         VaultConfig
	sessionID      string
	conversationID string
}

func (v *Vault) UserID() string { return v.userID }

// Config returns the vault's current configuration.
func (v *Vault) Config() VaultConfig {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.config
}

// SetWindowConfig swaps the working-window configuration.
func (v *Vault) SetWindowConfig(config models.WindowConfig) error {
	if err := ValidateConfig(config); err != nil {
		return err
	}
	v.mu.Lock()
	v.config.WindowConfig = config
	v.mu.Unlock()
	return nil
}

func (v *Vault) enabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.config.Flags.EnableMemoryVault
}

// StartSession opens a session and makes it current.
func (v *Vault) StartSession(ctx context.Context, deviceType string) (*models.Session, error) {
	sess, err := v.services.Episodic.StartSession(ctx, v.userID, deviceType)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.sessionID = sess.ID
	v.mu.Unlock()
	return sess, nil
}

// StartConversation opens a conversation in the current session and makes
// it current. A session is opened implicitly when none is active.
func (v *Vault) StartConversation(ctx context.Context, projectID string) (*models.Conversation, error) {
	v.mu.Lock()
	sessionID := v.sessionID
	v.mu.Unlock()

	if sessionID == "" {
		sess, err := v.StartSession(ctx, "api")
		if err != nil {
			return nil, err
		}
		sessionID = sess.ID
	}

	conv, err := v.services.Episodic.StartConversation(ctx, v.userID, sessionID, projectID)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.conversationID = conv.ID
	v.mu.Unlock()
	return conv, nil
}

func (v *Vault) currentConversation() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.conversationID == "" {
		return "", domain.NewDomainError(domain.ErrNoActiveConversation, "no active conversation")
	}
	return v.conversationID, nil
}

// AddMessage appends a message to the current conversation.
func (v *Vault) AddMessage(ctx context.Context, role models.MessageRole, content string, tokens int) (*models.Message, error) {
	conversationID, err := v.currentConversation()
	if err != nil {
		return nil, err
	}
	return v.services.Episodic.AddMessage(ctx, v.userID, conversationID, role, content, tokens)
}

// GetFullHistory returns every message of the current conversation in
// insertion order.
func (v *Vault) GetFullHistory(ctx context.Context) ([]*models.Message, error) {
	conversationID, err := v.currentConversation()
	if err != nil {
		return nil, err
	}
	conv, err := v.services.Episodic.GetConversation(ctx, v.userID, conversationID)
	if err != nil {
		return nil, err
	}
	return conv.Messages, nil
}

// GetWorkingWindow derives the model-visible window over the current
// conversation.
func (v *Vault) GetWorkingWindow(ctx context.Context) (*models.WorkingWindow, error) {
	conversationID, err := v.currentConversation()
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	config := v.config.WindowConfig
	v.mu.Unlock()
	return v.services.Window.GetWindow(ctx, v.userID, conversationID, config)
}

// LoadConversation makes an existing conversation current. It reports false
// when the conversation does not exist.
func (v *Vault) LoadConversation(ctx context.Context, conversationID string) bool {
	conv, err := v.services.Episodic.GetConversation(ctx, v.userID, conversationID)
	if err != nil {
		return false
	}
	v.mu.Lock()
	v.conversationID = conv.ID
	v.sessionID = conv.SessionID
	v.mu.Unlock()
	return true
}

// EndConversationResult says what happened when a conversation ended:
// either a queued job or an immediate synthesis result.
type EndConversationResult struct {
	Job    *models.SynthesisJob    `json:"job,omitempty"`
	Result *models.SynthesisResult `json:"result,omitempty"`
}

// EndConversation closes the current conversation. With
// synthesizeImmediately it runs synthesis inline; otherwise it enqueues a
// normal-priority job. Ending an already-ended conversation does neither.
func (v *Vault) EndConversation(ctx context.Context, synthesizeImmediately bool) (*EndConversationResult, error) {
	conversationID, err := v.currentConversation()
	if err != nil {
		return nil, err
	}

	firstEnd, err := v.services.Episodic.EndConversation(ctx, v.userID, conversationID)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.conversationID = ""
	synthesisEnabled := v.config.Flags.EnableSynthesis
	v.mu.Unlock()

	result := &EndConversationResult{}
	if !firstEnd || !synthesisEnabled {
		return result, nil
	}

	if synthesizeImmediately {
		synthesis, err := v.services.Synthesize(ctx, v.userID, conversationID)
		if err != nil {
			log.Printf("[Vault] warning: immediate synthesis for %s failed: %v", conversationID, err)
			return result, nil
		}
		result.Result = synthesis
		return result, nil
	}

	job, err := v.services.Queue.Enqueue(v.userID, conversationID, models.PriorityNormal)
	if err != nil {
		log.Printf("[Vault] warning: failed to enqueue synthesis for %s: %v", conversationID, err)
		return result, nil
	}
	result.Job = job
	return result, nil
}

// RetrieveContext returns the memories most relevant to a query. An empty
// query or a disabled vault yields an empty result, never an error.
func (v *Vault) RetrieveContext(ctx context.Context, query string, opts RetrievalOptions) (*RetrievalResult, error) {
	if !v.enabled() || query == "" {
		return &RetrievalResult{}, nil
	}
	return v.services.Retrieval.RetrieveContext(ctx, v.userID, query, opts)
}

// SearchMemories runs the hybrid semantic/substring search.
func (v *Vault) SearchMemories(ctx context.Context, query string, opts RetrievalOptions) (*RetrievalResult, error) {
	if !v.enabled() || query == "" {
		return &RetrievalResult{}, nil
	}
	return v.services.Retrieval.SearchMemories(ctx, v.userID, query, opts)
}

// RecordOutcome reports what happened to a retrieved memory downstream.
func (v *Vault) RecordOutcome(ctx context.Context, memoryID, conversationID string, outcome models.Outcome, note string) error {
	v.mu.Lock()
	learning := v.config.Flags.EnableUtilityLearning
	v.mu.Unlock()
	if !learning {
		return nil
	}
	return v.services.Utility.RecordOutcome(ctx, v.userID, memoryID, conversationID, outcome, note)
}

// SynthesizeConversation runs synthesis for one conversation by id.
func (v *Vault) SynthesizeConversation(ctx context.Context, conversationID string) (*models.SynthesisResult, error) {
	return v.services.Synthesize(ctx, v.userID, conversationID)
}

// RunProspectiveReflection synthesizes every ended-but-unsummarized
// conversation the user has.
func (v *Vault) RunProspectiveReflection(ctx context.Context) ([]*models.SynthesisResult, error) {
	var results []*models.SynthesisResult
	for _, conv := range v.services.Episodic.PendingSynthesis(ctx, v.userID) {
		result, err := v.services.Synthesize(ctx, v.userID, conv.ID)
		if err != nil {
			log.Printf("[Vault] warning: reflection synthesis for %s failed: %v", conv.ID, err)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// RunRetrospectiveReflection runs the Bayesian utility batch for this user.
func (v *Vault) RunRetrospectiveReflection(ctx context.Context) error {
	return v.services.Utility.UpdateUtilityScores(ctx, v.userID)
}

// GetMentorScript returns the user's mentor script for a project.
func (v *Vault) GetMentorScript(ctx context.Context, projectID string) (*models.MentorScript, error) {
	return v.services.Procedural.GetMentorScript(ctx, v.userID, projectID)
}

// AddMentorRule adds a behavioral rule to a project's mentor script.
func (v *Vault) AddMentorRule(ctx context.Context, projectID, text string, source models.RuleSource, priority int) (*models.MentorRule, error) {
	return v.services.Procedural.AddMentorRule(ctx, v.userID, projectID, text, source, priority)
}

// GetBriefingScripts returns the live briefing scripts for a session.
func (v *Vault) GetBriefingScripts(ctx context.Context, sessionID string) []*models.BriefingScript {
	return v.services.Procedural.GetBriefingScripts(ctx, v.userID, sessionID)
}

// ProcessPluginDataRequest gates a plugin's view of this user's memories.
func (v *Vault) ProcessPluginDataRequest(ctx context.Context, request *models.PluginDataRequest) (*models.SanitizedSummary, error) {
	memories, err := v.services.Semantic.Snapshot(ctx, v.userID)
	if err != nil {
		return nil, err
	}
	return v.services.Privacy.ProcessPluginRequest(ctx, v.userID, request, memories)
}

// GetPrivacySettings returns the user's privacy settings.
func (v *Vault) GetPrivacySettings() *models.PrivacySettings {
	return v.services.Privacy.Settings(v.userID)
}

// UpdatePrivacySettings replaces the user's privacy settings.
func (v *Vault) UpdatePrivacySettings(settings *models.PrivacySettings) error {
	return v.services.Privacy.UpdateSettings(v.userID, settings)
}

// QueryCrossProject answers a query spanning the user's projects.
func (v *Vault) QueryCrossProject(ctx context.Context, query CrossProjectQuery) (*models.CrossProjectResult, error) {
	v.mu.Lock()
	crossEnabled := v.config.Flags.EnableCrossProjectMemory
	v.mu.Unlock()
	if !crossEnabled {
		return &models.CrossProjectResult{}, nil
	}
	return v.services.CrossProject.QueryCrossProject(ctx, v.userID, query)
}

// VaultStats summarizes a vault's contents.
type VaultStats struct {
	UserID          string         `json:"user_id"`
	MemoryCount     int            `json:"memory_count"`
	ByCategory      map[string]int `json:"by_category"`
	SessionCount    int            `json:"session_count"`
	Conversations   int            `json:"conversations"`
	PendingJobs     int            `json:"pending_jobs"`
	OutcomesTracked int            `json:"outcomes_tracked"`
}

// GetStats counts what the vault currently holds.
func (v *Vault) GetStats(ctx context.Context) (*VaultStats, error) {
	total, byCategory, err := v.services.Semantic.CountMemories(ctx, v.userID)
	if err != nil {
		return nil, err
	}
	sessions, err := v.services.Episodic.ListSessions(ctx, v.userID)
	if err != nil {
		return nil, err
	}
	conversations, err := v.services.Episodic.ListConversations(ctx, v.userID)
	if err != nil {
		return nil, err
	}

	categories := make(map[string]int, len(byCategory))
	for category, count := range byCategory {
		categories[string(category)] = count
	}

	return &VaultStats{
		UserID:          v.userID,
		MemoryCount:     total,
		ByCategory:      categories,
		SessionCount:    len(sessions),
		Conversations:   len(conversations),
		PendingJobs:     len(v.services.Episodic.PendingSynthesis(ctx, v.userID)),
		OutcomesTracked: len(v.services.Utility.OutcomeHistory(v.userID)),
	}, nil
}

// Registry owns the per-user vaults and the shared services behind them.
type Registry struct {
	services VaultServices

	mu     sync.Mutex
	vaults map[string]*Vault
}

func NewRegistry(services VaultServices) *Registry {
	return &Registry{
		services: services,
		vaults:   make(map[string]*Vault),
	}
}

// InitializeVault creates or returns the vault for a user. A nil config
// picks the defaults; passing a config to an existing vault reconfigures it.
func (r *Registry) InitializeVault(userID string, config *VaultConfig) (*Vault, error) {
	if userID == "" {
		return nil, domain.NewDomainError(domain.ErrInvalidID, "user id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	vault, ok := r.vaults[userID]
	if !ok {
		vault = &Vault{
			userID:   userID,
			services: r.services,
			config:   DefaultVaultConfig(),
		}
		r.vaults[userID] = vault
		log.Printf("[Registry] initialized vault for user %s", userID)
	}
	if config != nil {
		if err := ValidateConfig(config.WindowConfig); err != nil {
			return nil, err
		}
		vault.mu.Lock()
		vault.config = *config
		vault.mu.Unlock()
	}
	return vault, nil
}

// GetVault returns an existing vault, or an error when none exists.
func (r *Registry) GetVault(userID string) (*Vault, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	vault, ok := r.vaults[userID]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrVaultNotFound, "no vault for user "+userID)
	}
	return vault, nil
}

// Users lists every user with an initialized vault.
func (r *Registry) Users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.vaults))
	for userID := range r.vaults {
		out = append(out, userID)
	}
	return out
}

// DeleteUserData removes every trace of a user across all tiers. The vault
// itself goes last so a partial failure leaves it addressable.
func (r *Registry) DeleteUserData(ctx context.Context, userID string) error {
	if err := r.services.Semantic.DeleteUser(ctx, userID); err != nil {
		return err
	}
	if err := r.services.Episodic.DeleteUser(ctx, userID); err != nil {
		return err
	}
	if err := r.services.Procedural.DeleteUser(ctx, userID); err != nil {
		return err
	}
	r.services.Utility.DeleteUser(userID)
	r.services.CrossProject.DeleteUser(userID)
	r.services.Privacy.DeleteUser(userID)

	r.mu.Lock()
	delete(r.vaults, userID)
	r.mu.Unlock()

	metrics.MemoriesStored.WithLabelValues(userID).Set(0)
	log.Printf("[Registry] deleted all data for user %s", userID)
	return nil
}

// ClearAllStores wipes every vault. Tests only.
func (r *Registry) ClearAllStores(ctx context.Context) error {
	for _, userID := range r.Users() {
		if err := r.DeleteUserData(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}
