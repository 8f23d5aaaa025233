package http

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/osqr/memvault/internal/adapters/http/handlers"
	"github.com/osqr/memvault/internal/adapters/http/middleware"
	"github.com/osqr/memvault/internal/application/services"
	"github.com/osqr/memvault/internal/config"
)

// Server exposes the vault over HTTP.
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server

	registry   *services.Registry
	queue      *services.SynthesisQueue
	scheduler  *services.Scheduler
	audit      *services.AuditService
	procedural *services.ProceduralService
	export     *services.ExportService
}

func NewServer(
	cfg *config.Config,
	registry *services.Registry,
	queue *services.SynthesisQueue,
	scheduler *services.Scheduler,
	audit *services.AuditService,
	procedural *services.ProceduralService,
	export *services.ExportService,
) *Server {
	s := &Server{
		config:     cfg,
		registry:   registry,
		queue:      queue,
		scheduler:  scheduler,
		audit:      audit,
		procedural: procedural,
		export:     export,
	}

	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recovery)
	r.Use(middleware.Metrics)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.Handle)
	r.Handle("/metrics", promhttp.Handler())

	vaultsHandler := handlers.NewVaultsHandler(s.registry)
	memoriesHandler := handlers.NewMemoriesHandler(s.registry)
	synthesisHandler := handlers.NewSynthesisHandler(s.registry, s.queue)
	privacyHandler := handlers.NewPrivacyHandler(s.registry, s.audit, s.procedural)
	adminHandler := handlers.NewAdminHandler(s.registry, s.export, s.scheduler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/vaults", vaultsHandler.Create)

		r.Route("/vaults/{userID}", func(r chi.Router) {
			r.Get("/stats", vaultsHandler.Stats)
			r.Delete("/", adminHandler.DeleteUser)
			r.Get("/export", adminHandler.Export)
			r.Post("/import", adminHandler.Import)

			r.Post("/sessions", vaultsHandler.StartSession)
			r.Post("/conversations", vaultsHandler.StartConversation)
			r.Post("/conversations/{conversationID}/load", vaultsHandler.LoadConversation)
			r.Post("/conversations/end", vaultsHandler.EndConversation)
			r.Post("/messages", vaultsHandler.AddMessage)
			r.Get("/history", vaultsHandler.GetFullHistory)
			r.Get("/window", vaultsHandler.GetWorkingWindow)
			r.Put("/window/config", vaultsHandler.SetWindowConfig)

			r.Post("/retrieve", memoriesHandler.Retrieve)
			r.Post("/search", memoriesHandler.Search)
			r.Post("/outcomes", memoriesHandler.RecordOutcome)
			r.Post("/cross-project/query", memoriesHandler.QueryCrossProject)

			r.Post("/synthesize/{conversationID}", synthesisHandler.Synthesize)
			r.Post("/reflection/prospective", synthesisHandler.ProspectiveReflection)
			r.Post("/reflection/retrospective", synthesisHandler.RetrospectiveReflection)

			r.Post("/plugin-data", privacyHandler.PluginDataRequest)
			r.Get("/privacy", privacyHandler.GetSettings)
			r.Put("/privacy", privacyHandler.UpdateSettings)
			r.Get("/access-log", privacyHandler.AccessLog)

			r.Get("/mentor-script", privacyHandler.GetMentorScript)
			r.Post("/mentor-script/rules", privacyHandler.AddMentorRule)
			r.Get("/briefing-scripts", privacyHandler.GetBriefingScripts)
		})

		r.Get("/synthesis/jobs/{jobID}", synthesisHandler.GetJob)
		r.Get("/synthesis/queue", synthesisHandler.QueueStatus)

		r.Get("/scheduler/status", adminHandler.SchedulerStatus)
		r.Post("/scheduler/start", adminHandler.StartScheduler)
		r.Post("/scheduler/stop", adminHandler.StopScheduler)
		r.Post("/scheduler/trigger/synthesis", adminHandler.TriggerSynthesis)
		r.Post("/scheduler/trigger/utility", adminHandler.TriggerUtilityUpdate)
		r.Post("/scheduler/trigger/orphans", adminHandler.TriggerOrphanCheck)
	})

	s.router = r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Starting HTTP server on %s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	log.Println("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *chi.Mux {
	return s.router
}
