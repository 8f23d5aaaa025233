package services

import (
	"context"
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/osqr/memvault/internal/adapters/embedding"
	"github.com/osqr/memvault/internal/adapters/id"
	"github.com/osqr/memvault/internal/domain"
	"github.com/osqr/memvault/internal/domain/models"
)

type exportFixture struct {
	export       *ExportService
	semantic     *SemanticService
	episodic     *EpisodicService
	procedural   *ProceduralService
	privacy      *PrivacyService
	crossProject *CrossProjectService
}

func newExportForTest() *exportFixture {
	ids := id.New()
	embedder := embedding.NewDeterministic(128)

	semantic := NewSemanticService(nil, embedder, nil, ids)
	episodic := NewEpisodicService(nil, nil, ids)
	procedural := NewProceduralService(nil, ids)
	utility := NewUtilityService(semantic, ids)
	retrieval := NewRetrievalService(semantic, utility, embedder)
	crossProject := NewCrossProjectService(semantic, retrieval, embedder)
	audit := NewAuditService(nil, ids)
	privacy := NewPrivacyService(procedural, NewRedactionEngine(), audit)

	return &exportFixture{
		export:       NewExportService(semantic, episodic, procedural, privacy, crossProject),
		semantic:     semantic,
		episodic:     episodic,
		procedural:   procedural,
		privacy:      privacy,
		crossProject: crossProject,
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	source := newExportForTest()
	ctx := context.Background()

	memory, err := source.semantic.CreateMemory(ctx, "user-1", "prefers direct feedback over praise", models.CategoryPreferences, manualSource())
	if err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}
	source.semantic.CreateMemory(ctx, "user-1", "runs a small design studio", models.CategoryBusinessInfo, manualSource())
	source.crossProject.SetSourceContext("user-1", memory.ID, &models.SourceContext{
		ProjectID: "proj-a",
		Interface: models.InterfaceWeb,
	})
	source.privacy.UpdateSettings("user-1", &models.PrivacySettings{PluginAccessTier: models.TierMinimal})
	source.procedural.AddMentorRule(ctx, "user-1", "", "keep answers short", models.RuleSourceUserDefined, 0)

	sess, _ := source.episodic.StartSession(ctx, "user-1", "desktop")
	conv, _ := source.episodic.StartConversation(ctx, "user-1", sess.ID, "proj-a")
	source.episodic.AddMessage(ctx, "user-1", conv.ID, models.MessageRoleUser, "hello", 0)

	payload, err := source.export.ExportUserData(ctx, "user-1")
	if err != nil {
		t.Fatalf("ExportUserData failed: %v", err)
	}
	if len(payload) == 0 {
		t.Fatal("expected a non-empty export")
	}

	var snapshot ExportedVault
	if err := msgpack.Unmarshal(payload, &snapshot); err != nil {
		t.Fatalf("export payload should decode: %v", err)
	}
	if snapshot.UserID != "user-1" {
		t.Errorf("unexpected user id %s", snapshot.UserID)
	}
	if len(snapshot.Memories) != 2 || len(snapshot.Sessions) != 1 || len(snapshot.Conversations) != 1 {
		t.Errorf("unexpected snapshot shape: %d memories, %d sessions, %d conversations",
			len(snapshot.Memories), len(snapshot.Sessions), len(snapshot.Conversations))
	}
	if len(snapshot.MentorScripts) != 1 {
		t.Errorf("expected the mentor script exported, got %d", len(snapshot.MentorScripts))
	}

	// Restore into a fresh stack.
	target := newExportForTest()
	restored, err := target.export.ImportUserData(ctx, "user-1", payload)
	if err != nil {
		t.Fatalf("ImportUserData failed: %v", err)
	}
	if restored != 2 {
		t.Errorf("expected 2 memories restored, got %d", restored)
	}

	// Memory ids survive the round trip.
	got, err := target.semantic.GetMemory(ctx, "user-1", memory.ID)
	if err != nil {
		t.Fatalf("restored memory missing: %v", err)
	}
	if got.Content != memory.Content {
		t.Errorf("content changed in transit: %q", got.Content)
	}

	if source := target.crossProject.GetSourceContext("user-1", memory.ID); source == nil || source.ProjectID != "proj-a" {
		t.Error("source context should be restored")
	}
	if settings := target.privacy.Settings("user-1"); settings.PluginAccessTier != models.TierMinimal {
		t.Errorf("privacy settings should be restored, got %s", settings.PluginAccessTier)
	}
}

func TestImportRejectsUnknownVersion(t *testing.T) {
	fixture := newExportForTest()

	payload, err := msgpack.Marshal(&ExportedVault{Version: 99, UserID: "user-1"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	if _, err := fixture.export.ImportUserData(context.Background(), "user-1", payload); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unknown version, got %v", err)
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	fixture := newExportForTest()

	if _, err := fixture.export.ImportUserData(context.Background(), "user-1", []byte("not msgpack")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for garbage payload, got %v", err)
	}
}
