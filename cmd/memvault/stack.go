package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/osqr/memvault/internal/adapters/crypto"
	"github.com/osqr/memvault/internal/adapters/embedding"
	"github.com/osqr/memvault/internal/adapters/id"
	"github.com/osqr/memvault/internal/adapters/llm"
	"github.com/osqr/memvault/internal/adapters/postgres"
	"github.com/osqr/memvault/internal/application/services"
	"github.com/osqr/memvault/internal/application/usecases"
	"github.com/osqr/memvault/internal/config"
	"github.com/osqr/memvault/internal/domain/models"
	"github.com/osqr/memvault/internal/ports"
)

// stack is the fully wired application: shared services, the registry of
// per-user vaults, and the background machinery the serve and data commands
// share.
type stack struct {
	registry   *services.Registry
	queue      *services.SynthesisQueue
	scheduler  *services.Scheduler
	audit      *services.AuditService
	procedural *services.ProceduralService
	export     *services.ExportService

	pool *pgxpool.Pool
}

// buildStack assembles every adapter and service from configuration. With no
// PostgreSQL URL the repositories stay nil and the vault runs in-memory.
func buildStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	var (
		pool         *pgxpool.Pool
		semanticRepo ports.SemanticRepository
		episodicRepo ports.EpisodicRepository
		procRepo     ports.ProceduralRepository
		auditRepo    ports.AccessLogRepository
	)

	if cfg.IsPersistenceConfigured() {
		poolConfig, err := pgxpool.ParseConfig(cfg.Database.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("invalid postgres url: %w", err)
		}
		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		log.Println("Connected to PostgreSQL")

		semanticRepo = postgres.NewSemanticRepository(pool, cfg.Embedding.Dimensions)
		episodicRepo = postgres.NewEpisodicRepository(pool)
		procRepo = postgres.NewProceduralRepository(pool)
		auditRepo = postgres.NewAccessLogRepository(pool)
	} else {
		log.Println("No PostgreSQL URL configured, running in-memory")
	}

	ids := id.New()
	encryptor := crypto.NewEncryptor(cfg.Vault.EncryptionKey)
	if encryptor.Enabled() {
		log.Println("At-rest encryption enabled")
	}

	var embedder ports.EmbeddingService
	if cfg.IsRemoteEmbeddingConfigured() {
		embedder = embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	} else {
		log.Println("No embedding URL configured, using deterministic embedder")
		embedder = embedding.NewDeterministic(cfg.Embedding.Dimensions)
	}

	llmClient := llm.NewClient(cfg.LLM.URL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens, cfg.LLM.Temperature)

	semantic := services.NewSemanticService(semanticRepo, embedder, encryptor, ids)
	episodic := services.NewEpisodicService(episodicRepo, encryptor, ids)
	procedural := services.NewProceduralService(procRepo, ids)
	window := services.NewWindowService(episodic)
	utility := services.NewUtilityService(semantic, ids)
	retrieval := services.NewRetrievalService(semantic, utility, embedder)
	crossProject := services.NewCrossProjectService(semantic, retrieval, embedder)

	redaction := services.NewRedactionEngine()
	audit := services.NewAuditService(auditRepo, ids)
	privacy := services.NewPrivacyService(procedural, redaction, audit)

	extractor := usecases.NewLLMFactExtractor(llmClient)
	synthesize := usecases.NewSynthesizeConversation(episodic, semantic, crossProject, extractor)

	queue := services.NewSynthesisQueue(ids, func(ctx context.Context, job *models.SynthesisJob) (*models.SynthesisResult, error) {
		return synthesize.Execute(ctx, job.UserID, job.ConversationID)
	})

	scheduler := services.NewScheduler(queue, utility, episodic, services.SchedulerConfig{
		SynthesisInterval: time.Duration(cfg.Scheduler.SynthesisIntervalSeconds) * time.Second,
		UtilityInterval:   time.Duration(cfg.Scheduler.UtilityIntervalSeconds) * time.Second,
		OrphanInterval:    time.Duration(cfg.Scheduler.OrphanIntervalSeconds) * time.Second,
		InactivityTimeout: time.Duration(cfg.Scheduler.InactivityTimeoutSeconds) * time.Second,
	})

	registry := services.NewRegistry(services.VaultServices{
		Episodic:     episodic,
		Semantic:     semantic,
		Procedural:   procedural,
		Window:       window,
		Retrieval:    retrieval,
		Utility:      utility,
		Privacy:      privacy,
		CrossProject: crossProject,
		Audit:        audit,
		Queue:        queue,
		Synthesize:   synthesize.Execute,
	})

	export := services.NewExportService(semantic, episodic, procedural, privacy, crossProject)

	return &stack{
		registry:   registry,
		queue:      queue,
		scheduler:  scheduler,
		audit:      audit,
		procedural: procedural,
		export:     export,
		pool:       pool,
	}, nil
}

// close releases external resources held by the stack.
func (s *stack) close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
