// Package config assembles chatplane's runtime configuration: environment
// variables (optionally loaded from a local .env via godotenv) layered
// over an optional YAML file, which carries settings that don't belong in
// the process environment, such as per-provider quota tuning; a set
// environment variable overrides the YAML value. Validation runs
// once at startup and reports every problem found, not just the first.
package config

import (
	"time"

	"github.com/kestrel-ai/chatplane/internal/llm/anthropic"
	"github.com/kestrel-ai/chatplane/internal/llm/local"
	"github.com/kestrel-ai/chatplane/internal/llm/openai"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	Env  string `yaml:"env"`
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	// Backend is "postgres" or "memory". "memory" is for local dev and
	// tests; production deployments use "postgres".
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

// RedisConfig configures the shared Redis connection used by both
// internal/kv and, when Queue.Backend is "redis", internal/queue.
type RedisConfig struct {
	Addr                  string `yaml:"addr"`
	Password              string `yaml:"password"`
	DB                    int    `yaml:"db"`
	TLSInsecureSkipVerify bool   `yaml:"tls_insecure_skip_verify"`
}

// QueueConfig selects the background job queue backend.
type QueueConfig struct {
	// Backend is "memory", "redis", or "kafka".
	Backend      string   `yaml:"backend"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
}

// VectorstoreConfig selects and configures the vector index.
type VectorstoreConfig struct {
	// Backend is "memory" or "qdrant".
	Backend    string `yaml:"backend"`
	QdrantDSN  string `yaml:"qdrant_dsn"`
	Collection string `yaml:"collection"`
}

// S3SSEConfig configures server-side encryption for objects written to S3.
type S3SSEConfig struct {
	// Mode is "" (no server-side encryption), "sse-s3", or "sse-kms"; any
	// other value also applies no encryption.
	Mode     string `yaml:"mode"`
	KMSKeyID string `yaml:"kms_key_id"`
}

// S3Config configures internal/objectstore's S3-compatible backend (AWS S3
// or MinIO).
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	// Prefix namespaces every object key under this bucket, so one bucket
	// can be shared across environments (e.g. "production", "staging")
	// without key collisions.
	Prefix                string      `yaml:"prefix"`
	UsePathStyle          bool        `yaml:"use_path_style"`
	TLSInsecureSkipVerify bool        `yaml:"tls_insecure_skip_verify"`
	SSE                   S3SSEConfig `yaml:"sse"`
}

// ObjectstoreConfig selects the blob storage backend for uploaded documents.
type ObjectstoreConfig struct {
	// Backend is "memory" or "s3".
	Backend string   `yaml:"backend"`
	S3      S3Config `yaml:"s3"`
}

// LLMConfig selects providers and carries their credentials.
type LLMConfig struct {
	Primary   string           `yaml:"primary"`
	Fallback  string           `yaml:"fallback"`
	Local     local.Config     `yaml:"local"`
	OpenAI    openai.Config    `yaml:"openai"`
	Anthropic anthropic.Config `yaml:"anthropic"`
}

// QuotaConfig tunes the per-organization token-bucket rate limiter.
// Fields left unset keep Load's built-in defaults; Validate rejects a zero
// or negative Capacity or RefillRate.
type QuotaConfig struct {
	Capacity   float64       `yaml:"capacity"`
	RefillRate float64       `yaml:"refill_rate"`
	TTL        time.Duration `yaml:"ttl"`
}

// MemoryConfig tunes conversational memory window/summarization behavior.
type MemoryConfig struct {
	MaxContextTokens          int           `yaml:"max_context_tokens"`
	SummaryBudget             int           `yaml:"summary_budget"`
	MessageCountThreshold     int           `yaml:"message_count_threshold"`
	TokenThreshold            int           `yaml:"token_threshold"`
	ReSummarizeDeltaThreshold int           `yaml:"resummarize_delta_threshold"`
	ReSummarizeSuppressWindow time.Duration `yaml:"resummarize_suppress_window"`
}

// IngestionConfig tunes document upload and background parsing.
type IngestionConfig struct {
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	Concurrency    int   `yaml:"concurrency"`
}

// ObsConfig configures zerolog output and the OTLP tracing/metrics
// pipeline. Consumed directly by internal/observability.
type ObsConfig struct {
	LogPath        string `yaml:"log_path"`
	LogLevel       string `yaml:"log_level"`
	OTLP           string `yaml:"otlp_endpoint"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
	// LogPrompts enables debug-level logging of redacted LLM request/response
	// payloads (internal/llm's ConfigureLogging). Off by default since
	// prompts/completions routinely carry a tenant's own document content.
	LogPrompts bool `yaml:"log_prompts"`
	// LogTruncateBytes caps a logged prompt/response payload's size; 0 means
	// unbounded.
	LogTruncateBytes int `yaml:"log_truncate_bytes"`
}

// KVConfig selects the backend for internal/kv, independent of the job
// queue's own backend selection (both may share the same Redis instance).
type KVConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend"`
}

// Config is the fully assembled runtime configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	KV          KVConfig          `yaml:"kv"`
	Queue       QueueConfig       `yaml:"queue"`
	Vectorstore VectorstoreConfig `yaml:"vectorstore"`
	Objectstore ObjectstoreConfig `yaml:"objectstore"`
	LLM         LLMConfig         `yaml:"llm"`
	Quota       QuotaConfig       `yaml:"quota"`
	Memory      MemoryConfig      `yaml:"memory"`
	Ingestion   IngestionConfig   `yaml:"ingestion"`
	Obs         ObsConfig         `yaml:"observability"`
}
