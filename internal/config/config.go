// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultConfigDir is the default configuration directory
	DefaultConfigDir = ".briven/configs"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.json"
)

// envBindings maps configuration keys to the environment variables that override them
var envBindings = map[string][]string{
	"embeddings.endpoint":                  {"EMBEDDING_PROVIDER_ENDPOINT"},
	"embeddings.timeout_ms":                {"EMBEDDING_TIMEOUT_MS"},
	"embeddings.provider":                  {"EMBEDDING_PROVIDER"},
	"embeddings.model":                     {"EMBEDDING_MODEL"},
	"search.weight":                        {"HYBRID_WEIGHT_DEFAULT"},
	"lexical.k1":                           {"BM25_K1"},
	"lexical.b":                            {"BM25_B"},
	"lifecycle.dedup_similarity_threshold": {"DEDUP_SIMILARITY_THRESHOLD"},
	"lifecycle.retention_sweep_interval":   {"RETENTION_SWEEP_INTERVAL"},
	"database.type":                        {"DB_TYPE", "BRIVEN_DB_TYPE"},
	"database.sqlite_path":                 {"DB_PATH", "BRIVEN_DB_PATH"},
	"database.postgres_dsn":                {"DB_DSN", "BRIVEN_DB_DSN"},
	"server.port":                          {"PORT", "BRIVEN_PORT"},
	"logging.level":                        {"LOG_LEVEL", "BRIVEN_LOG_LEVEL"},
}

// Load reads configuration from ~/.briven/configs/config.json, then applies
// environment overrides. A missing file is not an error.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, DefaultConfigDir)

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific JSON or YAML file
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	default:
		v.SetConfigType("json")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return unmarshal(v)
}

// DefaultConfig returns the built-in defaults. The environment is not
// consulted; Load and LoadFromPath apply and validate overrides.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: built-in defaults do not decode: %v", err))
	}
	return &cfg
}

// newViper creates a viper instance with defaults and env bindings applied
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)
	return v
}

// unmarshal decodes and validates the configuration held by v
func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// bindEnv binds the enumerated environment variables
func bindEnv(v *viper.Viper) {
	for key, names := range envBindings {
		args := append([]string{key}, names...)
		_ = v.BindEnv(args...)
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()

	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.tls.enabled", false)

	// Database defaults
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.sqlite_path", filepath.Join(homeDir, ".briven/db/briven.db"))

	// Auth defaults
	v.SetDefault("auth.token_ttl_hours", 720)

	// Embedding defaults
	v.SetDefault("embeddings.provider", EmbeddingProviderHTTP)
	v.SetDefault("embeddings.endpoint", "")
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("embeddings.dimensions", 0)
	v.SetDefault("embeddings.timeout_ms", 5000)
	v.SetDefault("embeddings.max_retries", 2)
	v.SetDefault("embeddings.retry_backoff_ms", 200)
	v.SetDefault("embeddings.requests_per_second", 10.0)
	v.SetDefault("embeddings.burst", 5)
	v.SetDefault("embeddings.breaker_max_failures", 3)
	v.SetDefault("embeddings.breaker_timeout", "30s")
	v.SetDefault("embeddings.cache_size", 10000)
	v.SetDefault("embeddings.batch_size", 20)

	// BM25 defaults
	v.SetDefault("lexical.k1", 1.2)
	v.SetDefault("lexical.b", 0.75)

	// Semantic index defaults
	v.SetDefault("semantic.backend", SemanticBackendLinear)

	// Hybrid search defaults
	v.SetDefault("search.weight", 0.5)
	v.SetDefault("search.limit", 5)
	v.SetDefault("search.overfetch", 3)
	v.SetDefault("search.rrf_k", 60.0)
	v.SetDefault("search.timeout_ms", 2000)

	// Lifecycle defaults
	v.SetDefault("lifecycle.workers", 4)
	v.SetDefault("lifecycle.queue_size", 256)
	v.SetDefault("lifecycle.dedup_similarity_threshold", 0.85)
	v.SetDefault("lifecycle.retention_sweep_interval", "24h")
	v.SetDefault("lifecycle.retention", "720h")
	v.SetDefault("lifecycle.reembed_interval", "10m")
	v.SetDefault("lifecycle.verify_interval", "1h")

	// Session log defaults
	v.SetDefault("sessionlog.dir", filepath.Join(homeDir, ".briven/logs"))
	v.SetDefault("sessionlog.scope", "default")
	v.SetDefault("sessionlog.watch", false)
	v.SetDefault("sessionlog.max_chars", 3000)

	// Backup defaults
	v.SetDefault("backup.enabled", false)
	v.SetDefault("backup.dir", filepath.Join(homeDir, ".briven/backup"))
	v.SetDefault("backup.remote", "")
	v.SetDefault("backup.pat_env", "BRIVEN_BACKUP_PAT")
	v.SetDefault("backup.interval", "24h")
	v.SetDefault("backup.seal", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks if the configuration is valid
func Validate(cfg *Config) error {
	// Validate database type
	if cfg.Database.Type != "sqlite" && cfg.Database.Type != "postgres" {
		return fmt.Errorf("database.type must be 'sqlite' or 'postgres', got '%s'", cfg.Database.Type)
	}

	// Validate database connection info
	if cfg.Database.Type == "sqlite" && cfg.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path is required when type is 'sqlite'")
	}
	if cfg.Database.Type == "postgres" && cfg.Database.PostgresDSN == "" {
		return fmt.Errorf("database.postgres_dsn is required when type is 'postgres'")
	}

	// Validate server port
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.Auth.TokenTTL < 1 {
		return fmt.Errorf("auth.token_ttl_hours must be at least 1, got %d", cfg.Auth.TokenTTL)
	}

	if err := validateEmbeddings(&cfg.Embeddings); err != nil {
		return err
	}

	// BM25 parameters
	if cfg.Lexical.K1 < 0 {
		return fmt.Errorf("lexical.k1 must be non-negative, got %v", cfg.Lexical.K1)
	}
	if cfg.Lexical.B < 0 || cfg.Lexical.B > 1 {
		return fmt.Errorf("lexical.b must be between 0 and 1, got %v", cfg.Lexical.B)
	}

	if !IsValidSemanticBackend(cfg.Semantic.Backend) {
		return fmt.Errorf("semantic.backend must be one of %v, got '%s'", ValidSemanticBackends(), cfg.Semantic.Backend)
	}

	// Hybrid search
	if cfg.Search.Weight < 0 || cfg.Search.Weight > 1 {
		return fmt.Errorf("search.weight must be between 0 and 1, got %v", cfg.Search.Weight)
	}
	if cfg.Search.Limit < 1 {
		return fmt.Errorf("search.limit must be at least 1, got %d", cfg.Search.Limit)
	}
	if cfg.Search.Overfetch < 1 {
		return fmt.Errorf("search.overfetch must be at least 1, got %d", cfg.Search.Overfetch)
	}
	if cfg.Search.RRFK <= 0 {
		return fmt.Errorf("search.rrf_k must be positive, got %v", cfg.Search.RRFK)
	}
	if cfg.Search.TimeoutMS < 1 {
		return fmt.Errorf("search.timeout_ms must be at least 1, got %d", cfg.Search.TimeoutMS)
	}

	if err := validateLifecycle(&cfg.Lifecycle); err != nil {
		return err
	}

	if cfg.SessionLog.MaxChars < 0 {
		return fmt.Errorf("sessionlog.max_chars must be non-negative, got %d", cfg.SessionLog.MaxChars)
	}

	if cfg.Backup.Enabled {
		if cfg.Backup.Dir == "" {
			return fmt.Errorf("backup.dir is required when backup is enabled")
		}
		if cfg.Backup.Interval <= 0 {
			return fmt.Errorf("backup.interval must be positive, got %v", cfg.Backup.Interval)
		}
	}

	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got '%s'", cfg.Logging.Format)
	}

	return nil
}

func validateEmbeddings(e *EmbeddingConfig) error {
	if !IsValidEmbeddingProvider(e.Provider) {
		return fmt.Errorf("embeddings.provider must be one of %v, got '%s'", ValidEmbeddingProviders(), e.Provider)
	}
	if e.TimeoutMS < 1 {
		return fmt.Errorf("embeddings.timeout_ms must be at least 1, got %d", e.TimeoutMS)
	}
	if e.MaxRetries < 0 {
		return fmt.Errorf("embeddings.max_retries must be non-negative, got %d", e.MaxRetries)
	}
	if e.RequestsPerSecond <= 0 {
		return fmt.Errorf("embeddings.requests_per_second must be positive, got %v", e.RequestsPerSecond)
	}
	if e.BatchSize < 1 {
		return fmt.Errorf("embeddings.batch_size must be at least 1, got %d", e.BatchSize)
	}
	return nil
}

func validateLifecycle(l *LifecycleConfig) error {
	if l.Workers < 1 {
		return fmt.Errorf("lifecycle.workers must be at least 1, got %d", l.Workers)
	}
	if l.QueueSize < 1 {
		return fmt.Errorf("lifecycle.queue_size must be at least 1, got %d", l.QueueSize)
	}
	if l.DedupSimilarityThreshold <= 0 || l.DedupSimilarityThreshold > 1 {
		return fmt.Errorf("lifecycle.dedup_similarity_threshold must be in (0, 1], got %v", l.DedupSimilarityThreshold)
	}
	if l.RetentionSweepInterval <= 0 {
		return fmt.Errorf("lifecycle.retention_sweep_interval must be positive, got %v", l.RetentionSweepInterval)
	}
	if l.Retention < 0 {
		return fmt.Errorf("lifecycle.retention must be non-negative, got %v", l.Retention)
	}
	if l.ReembedInterval <= 0 {
		return fmt.Errorf("lifecycle.reembed_interval must be positive, got %v", l.ReembedInterval)
	}
	if l.VerifyInterval <= 0 {
		return fmt.Errorf("lifecycle.verify_interval must be positive, got %v", l.VerifyInterval)
	}
	return nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist
func EnsureConfigDir() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, DefaultConfigDir)
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return nil
}
