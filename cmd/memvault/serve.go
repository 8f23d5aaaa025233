package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpserver "github.com/osqr/memvault/internal/adapters/http"
	"github.com/osqr/memvault/internal/adapters/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MemVault API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	ctx := context.Background()

	shutdownTracer, err := tracing.InitTracer("memvault-api")
	if err != nil {
		log.Printf("warning: failed to initialize tracing: %v", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(shutdownCtx); err != nil {
				log.Printf("warning: failed to shutdown tracer: %v", err)
			}
		}()
	}

	app, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	app.scheduler.Start(schedulerCtx)

	server := httpserver.NewServer(cfg, app.registry, app.queue, app.scheduler, app.audit, app.procedural, app.export)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		log.Printf("Received signal %s, shutting down", sig)
	}

	app.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	log.Println("Shutdown complete")
	return nil
}
