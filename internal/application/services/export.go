package services

import (
	"context"
	"log"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/osqr/memvault/internal/domain"
	"github.com/osqr/memvault/internal/domain/models"
)

const exportFormatVersion = 1

// ExportedVault is the portable snapshot of one user's data. Content is
// exported as plaintext; encryption applies at rest, not in exports the
// user explicitly asked for.
type ExportedVault struct {
	Version       int                              `msgpack:"version"`
	UserID        string                           `msgpack:"user_id"`
	ExportedAt    time.Time                        `msgpack:"exported_at"`
	Memories      []*models.SemanticMemory         `msgpack:"memories"`
	Sessions      []*models.Session                `msgpack:"sessions"`
	Conversations []*models.Conversation           `msgpack:"conversations"`
	MentorScripts []*models.MentorScript           `msgpack:"mentor_scripts,omitempty"`
	Sources       map[string]*models.SourceContext `msgpack:"sources,omitempty"`
	Privacy       *models.PrivacySettings          `msgpack:"privacy,omitempty"`
}

// ExportService handles the GDPR surface: full export and re-import.
type ExportService struct {
	semantic     *SemanticService
	episodic     *EpisodicService
	procedural   *ProceduralService
	privacy      *PrivacyService
	crossProject *CrossProjectService
}

func NewExportService(semantic *SemanticService, episodic *EpisodicService, procedural *ProceduralService, privacy *PrivacyService, crossProject *CrossProjectService) *ExportService {
	return &ExportService{
		semantic:     semantic,
		episodic:     episodic,
		procedural:   procedural,
		privacy:      privacy,
		crossProject: crossProject,
	}
}

// ExportUserData serializes everything the vault holds for a user.
func (s *ExportService) ExportUserData(ctx context.Context, userID string) ([]byte, error) {
	memories, err := s.semantic.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	sessions, err := s.episodic.ListSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	conversations, err := s.episodic.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}

	export := &ExportedVault{
		Version:       exportFormatVersion,
		UserID:        userID,
		ExportedAt:    time.Now().UTC(),
		Memories:      memories,
		Sessions:      sessions,
		Conversations: conversations,
		Sources:       make(map[string]*models.SourceContext),
		Privacy:       s.privacy.Settings(userID),
	}

	for _, m := range memories {
		if source := s.crossProject.GetSourceContext(userID, m.ID); source != nil {
			export.Sources[m.ID] = source
		}
	}

	if script, err := s.procedural.GetMentorScript(ctx, userID, ""); err == nil && len(script.Rules) > 0 {
		export.MentorScripts = append(export.MentorScripts, script)
	}

	payload, err := msgpack.Marshal(export)
	if err != nil {
		return nil, domain.NewDomainError(err, "failed to serialize export")
	}
	log.Printf("[ExportService] exported %d memories, %d conversations for user %s", len(memories), len(conversations), userID)
	return payload, nil
}

// ImportUserData restores a previously exported snapshot into the target
// user's vault. Memories keep their ids so retrieval ranking survives the
// round trip; records that fail to restore are skipped, not fatal.
func (s *ExportService) ImportUserData(ctx context.Context, userID string, payload []byte) (int, error) {
	var export ExportedVault
	if err := msgpack.Unmarshal(payload, &export); err != nil {
		return 0, domain.NewDomainError(domain.ErrInvalidInput, "failed to decode export payload")
	}
	if export.Version != exportFormatVersion {
		return 0, domain.NewDomainError(domain.ErrInvalidInput, "unsupported export version")
	}

	restored := 0
	for _, memory := range export.Memories {
		if err := s.semantic.RestoreMemory(ctx, userID, memory); err != nil {
			log.Printf("[ExportService] warning: skipping memory %s on import: %v", memory.ID, err)
			continue
		}
		if source, ok := export.Sources[memory.ID]; ok {
			s.crossProject.SetSourceContext(userID, memory.ID, source)
		}
		restored++
	}

	if export.Privacy != nil {
		if err := s.privacy.UpdateSettings(userID, export.Privacy); err != nil {
			log.Printf("[ExportService] warning: failed to restore privacy settings: %v", err)
		}
	}

	log.Printf("[ExportService] imported %d memories for user %s", restored, userID)
	return restored, nil
}
