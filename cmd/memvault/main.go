package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/osqr/memvault/internal/config"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var cfg *config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:   "memvault",
		Short: "MemVault - per-user memory vault service",
		Long: `MemVault is a per-user memory vault for conversational assistants.
It keeps episodic, semantic and procedural memory per user, synthesizes
durable facts from finished conversations, and gates plugin access behind
a tiered privacy policy.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		exportCmd(),
		importCmd(),
		deleteUserCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configCmd shows current configuration
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Current configuration:")
			fmt.Println()

			fmt.Println("LLM:")
			fmt.Printf("  URL:         %s\n", cfg.LLM.URL)
			fmt.Printf("  Model:       %s\n", cfg.LLM.Model)
			fmt.Printf("  Max Tokens:  %d\n", cfg.LLM.MaxTokens)
			fmt.Printf("  Temperature: %.2f\n", cfg.LLM.Temperature)
			fmt.Printf("  API Key:     %s\n", maskSecret(cfg.LLM.APIKey))
			fmt.Println()

			fmt.Println("Embedding:")
			fmt.Printf("  URL:        %s\n", cfg.Embedding.URL)
			fmt.Printf("  Model:      %s\n", cfg.Embedding.Model)
			fmt.Printf("  Dimensions: %d\n", cfg.Embedding.Dimensions)
			fmt.Println()

			fmt.Println("Database:")
			fmt.Printf("  PostgreSQL: %s\n", maskSecret(cfg.Database.PostgresURL))
			fmt.Println()

			fmt.Println("Vault:")
			fmt.Printf("  Window:          %s / %d\n", cfg.Vault.WindowMode, cfg.Vault.WindowSize)
			fmt.Printf("  Retrieval limit: %d\n", cfg.Vault.RetrievalLimit)
			fmt.Printf("  Min relevance:   %.2f\n", cfg.Vault.MinRelevance)
			fmt.Printf("  Token budget:    %d\n", cfg.Vault.TokenBudget)
			fmt.Printf("  Encryption:      %s\n", boolStatus(cfg.Vault.EncryptionKey != ""))
			fmt.Println()

			fmt.Println("Environment variables:")
			fmt.Println("  MEMVAULT_LLM_URL, MEMVAULT_LLM_API_KEY, MEMVAULT_LLM_MODEL")
			fmt.Println("  MEMVAULT_EMBEDDING_URL, MEMVAULT_EMBEDDING_MODEL, MEMVAULT_EMBEDDING_DIMENSIONS")
			fmt.Println("  MEMVAULT_POSTGRES_URL, MEMVAULT_SERVER_HOST, MEMVAULT_SERVER_PORT")
			fmt.Println("  MEMVAULT_ENCRYPTION_KEY")

			return nil
		},
	}
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("MemVault %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

func boolStatus(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
