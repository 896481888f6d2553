// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import "time"

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Embeddings EmbeddingConfig  `mapstructure:"embeddings"`
	Lexical    LexicalConfig    `mapstructure:"lexical"`
	Semantic   SemanticConfig   `mapstructure:"semantic"`
	Search     SearchConfig     `mapstructure:"search"`
	Lifecycle  LifecycleConfig  `mapstructure:"lifecycle"`
	SessionLog SessionLogConfig `mapstructure:"sessionlog"`
	Backup     BackupConfig     `mapstructure:"backup"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string    `mapstructure:"host"`
	Port int       `mapstructure:"port"`
	TLS  TLSConfig `mapstructure:"tls"`
}

// TLSConfig holds TLS settings for HTTP mode
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Type        string `mapstructure:"type"` // "sqlite" or "postgres"
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// AuthConfig holds bearer token settings for HTTP mode
type AuthConfig struct {
	TokenTTL int `mapstructure:"token_ttl_hours"`
}

// EmbeddingConfig holds configuration for the embedding gateway
type EmbeddingConfig struct {
	Provider           string        `mapstructure:"provider"`   // "http", "openai", "google", "ollama"
	Endpoint           string        `mapstructure:"endpoint"`   // Provider endpoint; empty disables embeddings
	Model              string        `mapstructure:"model"`      // Model name (e.g., "text-embedding-3-small")
	APIKeyEnv          string        `mapstructure:"api_key_env"` // Environment variable holding the API key
	Dimensions         int           `mapstructure:"dimensions"`
	TimeoutMS          int           `mapstructure:"timeout_ms"`
	MaxRetries         int           `mapstructure:"max_retries"` // Additional attempts after the first
	RetryBackoffMS     int           `mapstructure:"retry_backoff_ms"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second"`
	Burst              int           `mapstructure:"burst"`
	BreakerMaxFailures uint32        `mapstructure:"breaker_max_failures"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
	CacheSize          int64         `mapstructure:"cache_size"`
	BatchSize          int           `mapstructure:"batch_size"` // Records per retry sweep
}

// Timeout returns the per-call embedding timeout
func (e EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMS) * time.Millisecond
}

// RetryBackoff returns the initial delay between embedding attempts
func (e EmbeddingConfig) RetryBackoff() time.Duration {
	return time.Duration(e.RetryBackoffMS) * time.Millisecond
}

// Enabled reports whether an embedding provider is configured
func (e EmbeddingConfig) Enabled() bool {
	return e.Endpoint != "" || e.Provider == EmbeddingProviderGoogle
}

// LexicalConfig holds BM25 parameters
type LexicalConfig struct {
	K1 float64 `mapstructure:"k1"`
	B  float64 `mapstructure:"b"`
}

// SemanticConfig selects the vector index backend
type SemanticConfig struct {
	Backend string `mapstructure:"backend"` // "linear" or "chromem"
}

// SearchConfig holds hybrid ranking defaults
type SearchConfig struct {
	Weight    float64 `mapstructure:"weight"`
	Limit     int     `mapstructure:"limit"`
	Overfetch int     `mapstructure:"overfetch"`
	RRFK      float64 `mapstructure:"rrf_k"`
	TimeoutMS int     `mapstructure:"timeout_ms"`
}

// Timeout returns the default semantic query timeout
func (s SearchConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// LifecycleConfig holds write-path and maintenance settings
type LifecycleConfig struct {
	Workers                  int           `mapstructure:"workers"`
	QueueSize                int           `mapstructure:"queue_size"`
	DedupSimilarityThreshold float64       `mapstructure:"dedup_similarity_threshold"`
	RetentionSweepInterval   time.Duration `mapstructure:"retention_sweep_interval"`
	Retention                time.Duration `mapstructure:"retention"` // How long tombstones are kept
	ReembedInterval          time.Duration `mapstructure:"reembed_interval"`
	VerifyInterval           time.Duration `mapstructure:"verify_interval"`
}

// SessionLogConfig holds daily session log ingestion settings
type SessionLogConfig struct {
	Dir      string `mapstructure:"dir"`
	Scope    string `mapstructure:"scope"`
	Watch    bool   `mapstructure:"watch"`
	MaxChars int    `mapstructure:"max_chars"`
}

// BackupConfig holds git-versioned snapshot backup settings
type BackupConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Dir      string        `mapstructure:"dir"`
	Remote   string        `mapstructure:"remote"`  // Pushed to after each commit when set
	PATEnv   string        `mapstructure:"pat_env"` // Env var holding the push token
	Interval time.Duration `mapstructure:"interval"`
	Seal     bool          `mapstructure:"seal"` // Encrypt with BRIVEN_SNAPSHOT_KEY
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// Embedding providers
const (
	EmbeddingProviderHTTP   = "http"
	EmbeddingProviderOpenAI = "openai"
	EmbeddingProviderGoogle = "google"
	EmbeddingProviderOllama = "ollama"
)

// Semantic index backends
const (
	SemanticBackendLinear  = "linear"
	SemanticBackendChromem = "chromem"
)

// ValidEmbeddingProviders returns all valid embedding provider values
func ValidEmbeddingProviders() []string {
	return []string{
		EmbeddingProviderHTTP,
		EmbeddingProviderOpenAI,
		EmbeddingProviderGoogle,
		EmbeddingProviderOllama,
	}
}

// ValidSemanticBackends returns all valid semantic backend values
func ValidSemanticBackends() []string {
	return []string{
		SemanticBackendLinear,
		SemanticBackendChromem,
	}
}

// isValidType is a generic helper to check if a type is in a list of valid types
func isValidType(aType string, validTypes []string) bool {
	for _, valid := range validTypes {
		if aType == valid {
			return true
		}
	}
	return false
}

// IsValidEmbeddingProvider checks if a provider is valid
func IsValidEmbeddingProvider(provider string) bool {
	return isValidType(provider, ValidEmbeddingProviders())
}

// IsValidSemanticBackend checks if a backend is valid
func IsValidSemanticBackend(backend string) bool {
	return isValidType(backend, ValidSemanticBackends())
}
