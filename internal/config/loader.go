package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Load assembles Config from, in increasing precedence: built-in defaults,
// an optional YAML file (CONFIG_FILE, default "config.yaml" if present),
// then environment variables (optionally loaded from a local .env via
// godotenv.Overload). It returns an error only if the env/YAML layers
// themselves fail to parse; call Validate separately once the caller has
// finished layering in any programmatic overrides.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := defaults()

	yamlPath := firstNonEmpty(strings.TrimSpace(os.Getenv("CONFIG_FILE")), "config.yaml")
	if data, err := os.ReadFile(yamlPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", yamlPath, err)
		}
		log.Info().Str("path", yamlPath).Msg("config_yaml_loaded")
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read %s: %w", yamlPath, err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func defaults() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080", Env: "development"},
		Database: DatabaseConfig{Backend: "memory"},
		KV:       KVConfig{Backend: "memory"},
		Queue:    QueueConfig{Backend: "memory"},
		Vectorstore: VectorstoreConfig{
			Backend:    "memory",
			Collection: "chatplane_documents",
		},
		Objectstore: ObjectstoreConfig{Backend: "memory"},
		LLM:         LLMConfig{Primary: "local"},
		Quota: QuotaConfig{
			Capacity:   20,
			RefillRate: 1,
			TTL:        60 * time.Second,
		},
		Memory: MemoryConfig{
			MaxContextTokens:          8000,
			SummaryBudget:             500,
			MessageCountThreshold:     20,
			TokenThreshold:            8000,
			ReSummarizeDeltaThreshold: 10,
			ReSummarizeSuppressWindow: 24 * time.Hour,
		},
		Ingestion: IngestionConfig{
			MaxUploadBytes: 10 * 1024 * 1024,
			Concurrency:    2,
		},
		Obs: ObsConfig{
			LogLevel:    "info",
			ServiceName: "chatplane",
			Environment: "development",
		},
	}
}

// applyEnv overlays environment variables onto cfg. Only variables that are
// actually set are applied, so earlier (default/YAML) values survive
// otherwise.
func applyEnv(cfg *Config) {
	if v := trimmed("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := trimmed("ENV"); v != "" {
		cfg.Server.Env = v
		cfg.Obs.Environment = v
	}

	if v := trimmed("DATABASE_BACKEND"); v != "" {
		cfg.Database.Backend = v
	}
	if v := firstNonEmpty(trimmed("DATABASE_URL"), trimmed("DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}

	if v := trimmed("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := trimmed("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := intFromEnv("REDIS_DB", cfg.Redis.DB); v != cfg.Redis.DB {
		cfg.Redis.DB = v
	}
	if v := trimmed("REDIS_TLS_INSECURE_SKIP_VERIFY"); v != "" {
		cfg.Redis.TLSInsecureSkipVerify = parseBool(v)
	}

	if v := trimmed("KV_BACKEND"); v != "" {
		cfg.KV.Backend = v
	}

	if v := trimmed("QUEUE_BACKEND"); v != "" {
		cfg.Queue.Backend = v
	}
	if v := trimmed("KAFKA_BROKERS"); v != "" {
		cfg.Queue.KafkaBrokers = parseCommaSeparatedList(v)
	}

	if v := trimmed("VECTORSTORE_BACKEND"); v != "" {
		cfg.Vectorstore.Backend = v
	}
	if v := trimmed("QDRANT_DSN"); v != "" {
		cfg.Vectorstore.QdrantDSN = v
	}
	if v := trimmed("VECTORSTORE_COLLECTION"); v != "" {
		cfg.Vectorstore.Collection = v
	}

	if v := trimmed("OBJECTSTORE_BACKEND"); v != "" {
		cfg.Objectstore.Backend = v
	}
	if v := trimmed("S3_BUCKET"); v != "" {
		cfg.Objectstore.S3.Bucket = v
	}
	if v := trimmed("S3_REGION"); v != "" {
		cfg.Objectstore.S3.Region = v
	}
	if v := trimmed("S3_ENDPOINT"); v != "" {
		cfg.Objectstore.S3.Endpoint = v
	}
	if v := trimmed("S3_PREFIX"); v != "" {
		cfg.Objectstore.S3.Prefix = v
	}
	if v := trimmed("S3_ACCESS_KEY"); v != "" {
		cfg.Objectstore.S3.AccessKey = v
	}
	if v := trimmed("S3_SECRET_KEY"); v != "" {
		cfg.Objectstore.S3.SecretKey = v
	}
	if v := trimmed("S3_USE_PATH_STYLE"); v != "" {
		cfg.Objectstore.S3.UsePathStyle = parseBool(v)
	}
	if v := trimmed("S3_SSE_MODE"); v != "" {
		cfg.Objectstore.S3.SSE.Mode = v
	}
	if v := trimmed("S3_SSE_KMS_KEY_ID"); v != "" {
		cfg.Objectstore.S3.SSE.KMSKeyID = v
	}

	if v := trimmed("LLM_PRIMARY"); v != "" {
		cfg.LLM.Primary = v
	}
	if v := trimmed("LLM_FALLBACK"); v != "" {
		cfg.LLM.Fallback = v
	}
	if v := trimmed("OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAI.APIKey = v
	}
	if v := trimmed("OPENAI_MODEL"); v != "" {
		cfg.LLM.OpenAI.Model = v
	}
	if v := firstNonEmpty(trimmed("OPENAI_BASE_URL"), trimmed("OPENAI_API_BASE_URL")); v != "" {
		cfg.LLM.OpenAI.BaseURL = v
	}
	if v := trimmed("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.Anthropic.APIKey = v
	}
	if v := trimmed("ANTHROPIC_MODEL"); v != "" {
		cfg.LLM.Anthropic.Model = v
	}
	if v := trimmed("ANTHROPIC_BASE_URL"); v != "" {
		cfg.LLM.Anthropic.BaseURL = v
	}
	if v := trimmed("LOCAL_LLM_BASE_URL"); v != "" {
		cfg.LLM.Local.BaseURL = v
	}
	if v := trimmed("LOCAL_LLM_CHAT_MODEL"); v != "" {
		cfg.LLM.Local.ChatModel = v
	}
	if v := trimmed("LOCAL_LLM_EMBEDDING_MODEL"); v != "" {
		cfg.LLM.Local.EmbeddingModel = v
	}

	if v := floatFromEnv("QUOTA_CAPACITY", cfg.Quota.Capacity); v != cfg.Quota.Capacity {
		cfg.Quota.Capacity = v
	}
	if v := floatFromEnv("QUOTA_REFILL_RATE", cfg.Quota.RefillRate); v != cfg.Quota.RefillRate {
		cfg.Quota.RefillRate = v
	}
	if v := durationFromEnv("QUOTA_TTL", cfg.Quota.TTL); v != cfg.Quota.TTL {
		cfg.Quota.TTL = v
	}

	if v := intFromEnv("INGESTION_MAX_UPLOAD_BYTES", int(cfg.Ingestion.MaxUploadBytes)); int64(v) != cfg.Ingestion.MaxUploadBytes {
		cfg.Ingestion.MaxUploadBytes = int64(v)
	}
	if v := intFromEnv("INGESTION_CONCURRENCY", cfg.Ingestion.Concurrency); v != cfg.Ingestion.Concurrency {
		cfg.Ingestion.Concurrency = v
	}

	if v := trimmed("LOG_PATH"); v != "" {
		cfg.Obs.LogPath = v
	}
	if v := trimmed("LOG_LEVEL"); v != "" {
		cfg.Obs.LogLevel = v
	}
	if v := trimmed("OTLP_ENDPOINT"); v != "" {
		cfg.Obs.OTLP = v
	}
	if v := trimmed("SERVICE_NAME"); v != "" {
		cfg.Obs.ServiceName = v
	}
	if v := trimmed("SERVICE_VERSION"); v != "" {
		cfg.Obs.ServiceVersion = v
	}
	if v := trimmed("LOG_PROMPTS"); v != "" {
		cfg.Obs.LogPrompts = parseBool(v)
	}
	if v := intFromEnv("LOG_TRUNCATE_BYTES", cfg.Obs.LogTruncateBytes); v != cfg.Obs.LogTruncateBytes {
		cfg.Obs.LogTruncateBytes = v
	}
}

// Validate checks cfg for problems that would only surface later, deep
// inside a service constructor, and reports all of them at once rather
// than failing on the first.
func (cfg Config) Validate() error {
	var errs []error

	switch cfg.Database.Backend {
	case "memory":
	case "postgres":
		if cfg.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required when database.backend is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("database.backend: unknown value %q", cfg.Database.Backend))
	}

	switch cfg.KV.Backend {
	case "memory":
	case "redis":
		if cfg.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required when kv.backend is \"redis\""))
		}
	default:
		errs = append(errs, fmt.Errorf("kv.backend: unknown value %q", cfg.KV.Backend))
	}

	switch cfg.Queue.Backend {
	case "memory":
	case "redis":
		if cfg.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required when queue.backend is \"redis\""))
		}
	case "kafka":
		if len(cfg.Queue.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("queue.kafka_brokers is required when queue.backend is \"kafka\""))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.backend: unknown value %q", cfg.Queue.Backend))
	}

	switch cfg.Vectorstore.Backend {
	case "memory":
	case "qdrant":
		if cfg.Vectorstore.QdrantDSN == "" {
			errs = append(errs, errors.New("vectorstore.qdrant_dsn is required when vectorstore.backend is \"qdrant\""))
		}
	default:
		errs = append(errs, fmt.Errorf("vectorstore.backend: unknown value %q", cfg.Vectorstore.Backend))
	}

	switch cfg.Objectstore.Backend {
	case "memory":
	case "s3":
		if cfg.Objectstore.S3.Bucket == "" {
			errs = append(errs, errors.New("objectstore.s3.bucket is required when objectstore.backend is \"s3\""))
		}
	default:
		errs = append(errs, fmt.Errorf("objectstore.backend: unknown value %q", cfg.Objectstore.Backend))
	}

	switch strings.ToLower(cfg.LLM.Primary) {
	case "", "local":
	case "openai":
		if cfg.LLM.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("llm.openai.api_key is required when llm.primary is \"openai\""))
		}
	case "anthropic", "claude":
		if cfg.LLM.Anthropic.APIKey == "" {
			errs = append(errs, errors.New("llm.anthropic.api_key is required when llm.primary is \"anthropic\""))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.primary: unknown value %q", cfg.LLM.Primary))
	}

	if cfg.Quota.Capacity <= 0 {
		errs = append(errs, errors.New("quota.capacity must be positive"))
	}
	if cfg.Quota.RefillRate <= 0 {
		errs = append(errs, errors.New("quota.refill_rate must be positive"))
	}
	if cfg.Ingestion.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("ingestion.max_upload_bytes must be positive"))
	}
	if cfg.Ingestion.Concurrency <= 0 {
		errs = append(errs, errors.New("ingestion.concurrency must be positive"))
	}

	return errors.Join(errs...)
}

func trimmed(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseCommaSeparatedList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(s string) bool {
	return strings.EqualFold(s, "true") || s == "1" || strings.EqualFold(s, "yes")
}

func intFromEnv(key string, def int) int {
	v := trimmed(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("config_env_int_parse_failed")
		return def
	}
	return n
}

func floatFromEnv(key string, def float64) float64 {
	v := trimmed(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("config_env_float_parse_failed")
		return def
	}
	return f
}

func durationFromEnv(key string, def time.Duration) time.Duration {
	v := trimmed(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("config_env_duration_parse_failed")
		return def
	}
	return d
}
