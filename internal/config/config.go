package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all configuration for the memory vault
type Config struct {
	LLM       LLMConfig       `json:"llm"`
	Embedding EmbeddingConfig `json:"embedding"`
	Database  DatabaseConfig  `json:"database"`
	Server    ServerConfig    `json:"server"`
	Vault     VaultConfig     `json:"vault"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Privacy   PrivacyConfig   `json:"privacy"`
}

// LLMConfig holds LLM API configuration for synthesis
type LLMConfig struct {
	URL         string  `json:"url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// EmbeddingConfig holds embedding API configuration. An empty URL selects
// the deterministic local embedder.
type EmbeddingConfig struct {
	URL        string `json:"url"`
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

// DatabaseConfig holds database configuration. An empty PostgresURL keeps
// the vault purely in-memory.
type DatabaseConfig struct {
	PostgresURL string `json:"postgres_url"`
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// VaultConfig holds memory behavior tuning
type VaultConfig struct {
	WindowMode             string  `json:"window_mode"` // "messages" or "tokens"
	WindowSize             int     `json:"window_size"`
	PreserveSystemMessages bool    `json:"preserve_system_messages"`
	RetrievalLimit         int     `json:"retrieval_limit"`
	MinRelevance           float64 `json:"min_relevance"`
	TokenBudget            int     `json:"token_budget"`
	SemanticMemoryEnabled  bool    `json:"semantic_memory_enabled"`
	SynthesisEnabled       bool    `json:"synthesis_enabled"`
	UtilityLearningEnabled bool    `json:"utility_learning_enabled"`
	CrossProjectEnabled    bool    `json:"cross_project_enabled"`
	EncryptionKey          string  `json:"encryption_key"`
}

// SchedulerConfig holds background driver intervals and the conversation
// inactivity timeout, all in seconds
type SchedulerConfig struct {
	SynthesisIntervalSeconds int `json:"synthesis_interval_seconds"`
	UtilityIntervalSeconds   int `json:"utility_interval_seconds"`
	OrphanIntervalSeconds    int `json:"orphan_interval_seconds"`
	InactivityTimeoutSeconds int `json:"inactivity_timeout_seconds"`
}

// PrivacyConfig holds audit retention settings
type PrivacyConfig struct {
	AccessLogRetentionDays int `json:"access_log_retention_days"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			URL:         "http://localhost:8000/v1",
			APIKey:      "",
			Model:       "Qwen/Qwen3-8B-AWQ",
			MaxTokens:   4096,
			Temperature: 0.2,
		},
		Embedding: EmbeddingConfig{
			URL:        "",
			APIKey:     "",
			Model:      "text-embedding-3-small",
			Dimensions: 256,
		},
		Database: DatabaseConfig{
			PostgresURL: "",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Vault: VaultConfig{
			WindowMode:             "messages",
			WindowSize:             50,
			PreserveSystemMessages: true,
			RetrievalLimit:         5,
			MinRelevance:           0.6,
			TokenBudget:            4000,
			SemanticMemoryEnabled:  true,
			SynthesisEnabled:       true,
			UtilityLearningEnabled: true,
			CrossProjectEnabled:    true,
			EncryptionKey:          "",
		},
		Scheduler: SchedulerConfig{
			SynthesisIntervalSeconds: 10,
			UtilityIntervalSeconds:   24 * 60 * 60,
			OrphanIntervalSeconds:    60 * 60,
			InactivityTimeoutSeconds: 30 * 60,
		},
		Privacy: PrivacyConfig{
			AccessLogRetentionDays: 90,
		},
	}
}

// envString loads a string environment variable into the target pointer if set
func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// envInt loads an integer environment variable into the target pointer if set and valid
func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

// envFloat loads a float64 environment variable into the target pointer if set and valid
func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

// envBool loads a boolean environment variable into the target pointer if set and valid
func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPath()
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse config file %s: %v\n", configPath, err)
		}
	}

	envString("MEMVAULT_LLM_URL", &cfg.LLM.URL)
	envString("MEMVAULT_LLM_API_KEY", &cfg.LLM.APIKey)
	envString("MEMVAULT_LLM_MODEL", &cfg.LLM.Model)
	envInt("MEMVAULT_LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	envFloat("MEMVAULT_LLM_TEMPERATURE", &cfg.LLM.Temperature)

	envString("MEMVAULT_EMBEDDING_URL", &cfg.Embedding.URL)
	envString("MEMVAULT_EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	envString("MEMVAULT_EMBEDDING_MODEL", &cfg.Embedding.Model)
	envInt("MEMVAULT_EMBEDDING_DIMENSIONS", &cfg.Embedding.Dimensions)

	envString("MEMVAULT_POSTGRES_URL", &cfg.Database.PostgresURL)

	envString("MEMVAULT_SERVER_HOST", &cfg.Server.Host)
	envInt("MEMVAULT_SERVER_PORT", &cfg.Server.Port)

	envString("MEMVAULT_WINDOW_MODE", &cfg.Vault.WindowMode)
	envInt("MEMVAULT_WINDOW_SIZE", &cfg.Vault.WindowSize)
	envBool("MEMVAULT_PRESERVE_SYSTEM_MESSAGES", &cfg.Vault.PreserveSystemMessages)
	envInt("MEMVAULT_RETRIEVAL_LIMIT", &cfg.Vault.RetrievalLimit)
	envFloat("MEMVAULT_MIN_RELEVANCE", &cfg.Vault.MinRelevance)
	envInt("MEMVAULT_TOKEN_BUDGET", &cfg.Vault.TokenBudget)
	envBool("MEMVAULT_SEMANTIC_MEMORY_ENABLED", &cfg.Vault.SemanticMemoryEnabled)
	envBool("MEMVAULT_SYNTHESIS_ENABLED", &cfg.Vault.SynthesisEnabled)
	envBool("MEMVAULT_UTILITY_LEARNING_ENABLED", &cfg.Vault.UtilityLearningEnabled)
	envBool("MEMVAULT_CROSS_PROJECT_ENABLED", &cfg.Vault.CrossProjectEnabled)
	envString("MEMVAULT_ENCRYPTION_KEY", &cfg.Vault.EncryptionKey)

	envInt("MEMVAULT_SYNTHESIS_INTERVAL_SECONDS", &cfg.Scheduler.SynthesisIntervalSeconds)
	envInt("MEMVAULT_UTILITY_INTERVAL_SECONDS", &cfg.Scheduler.UtilityIntervalSeconds)
	envInt("MEMVAULT_ORPHAN_INTERVAL_SECONDS", &cfg.Scheduler.OrphanIntervalSeconds)
	envInt("MEMVAULT_INACTIVITY_TIMEOUT_SECONDS", &cfg.Scheduler.InactivityTimeoutSeconds)

	envInt("MEMVAULT_ACCESS_LOG_RETENTION_DAYS", &cfg.Privacy.AccessLogRetentionDays)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsPersistenceConfigured returns true if a PostgreSQL backend is configured
func (c *Config) IsPersistenceConfigured() bool {
	return c.Database.PostgresURL != ""
}

// IsRemoteEmbeddingConfigured returns true if an embedding service URL is set
func (c *Config) IsRemoteEmbeddingConfigured() bool {
	return c.Embedding.URL != ""
}

// isValidURL validates that a URL has proper format
func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks that the configuration has valid values
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "LLM temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 1 {
		errs = append(errs, "LLM max_tokens must be positive")
	}
	if c.LLM.URL != "" && !isValidURL(c.LLM.URL) {
		errs = append(errs, "LLM URL must be a valid URL")
	}

	if c.Database.PostgresURL != "" && !isValidURL(c.Database.PostgresURL) {
		errs = append(errs, "PostgreSQL URL must be a valid URL")
	}

	if c.Embedding.URL != "" && !isValidURL(c.Embedding.URL) {
		errs = append(errs, "Embedding URL must be a valid URL")
	}
	if c.Embedding.Dimensions < 1 {
		errs = append(errs, "Embedding dimensions must be positive")
	}

	if c.Vault.WindowMode != "messages" && c.Vault.WindowMode != "tokens" {
		errs = append(errs, "window mode must be 'messages' or 'tokens'")
	}
	if c.Vault.WindowSize < 1 {
		errs = append(errs, "window size must be positive")
	}
	if c.Vault.RetrievalLimit < 1 {
		errs = append(errs, "retrieval limit must be positive")
	}
	if c.Vault.MinRelevance < 0 || c.Vault.MinRelevance > 1 {
		errs = append(errs, "min relevance must be between 0 and 1")
	}
	if c.Vault.TokenBudget < 1 {
		errs = append(errs, "token budget must be positive")
	}

	if c.Scheduler.SynthesisIntervalSeconds < 1 {
		errs = append(errs, "synthesis interval must be positive")
	}
	if c.Scheduler.UtilityIntervalSeconds < 1 {
		errs = append(errs, "utility interval must be positive")
	}
	if c.Scheduler.OrphanIntervalSeconds < 1 {
		errs = append(errs, "orphan interval must be positive")
	}
	if c.Scheduler.InactivityTimeoutSeconds < 1 {
		errs = append(errs, "inactivity timeout must be positive")
	}

	if c.Privacy.AccessLogRetentionDays < 1 {
		errs = append(errs, "access log retention must be at least one day")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// getConfigPath returns the path to the config file
func getConfigPath() string {
	if path := os.Getenv("MEMVAULT_CONFIG"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}

	configDir := filepath.Join(homeDir, ".config", "memvault")
	configPath := filepath.Join(configDir, "config.json")
	if _, err := os.Stat(configPath); err == nil {
		return configPath
	}

	altPath := filepath.Join(homeDir, ".memvault", "config.json")
	if _, err := os.Stat(altPath); err == nil {
		return altPath
	}

	return configPath
}
