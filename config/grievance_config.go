package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"grievance_server/pkg/apperr"
)

// History backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// DefaultEmbeddingModel is served by an OpenAI-compatible endpoint at
// EMBEDDING_BASE_URL. The default SIMILARITY_THRESHOLD of 0.88 is calibrated
// for this model; OpenAI text-embedding-* scores sit in a higher, narrower
// band and need a higher threshold.
const DefaultEmbeddingModel = "all-MiniLM-L6-v2"

// generateWorkerID creates a unique consumer name using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "grievance"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// History storage
	HistoryBackend string
	DatabaseURL    string
	SQLitePath     string
	MongoDBURL     string
	MongoDBName    string
	RedisURL       string

	// Neo4j thread graph
	Neo4jURL      string
	Neo4jUsername string
	Neo4jPassword string

	// Attachment object store
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	// Embeddings and similarity
	OpenAIAPIKey        string
	EmbeddingBaseURL    string
	EmbeddingModel      string
	EmbeddingTimeout    time.Duration
	EmbeddingCacheSize  int
	SimilarityThreshold float64
	SimilarityWindow    int
	SimilarityRequired  bool

	// Classification
	CategoryFile string

	// Batch processing
	MailDir            string
	BatchWorkers       int
	MaxAttachmentBytes int64

	// Gmail ingestion
	GmailClientID     string
	GmailClientSecret string
	GmailRefreshToken string
	GmailQuery        string

	// Admin auth
	AdminJWTSecret string

	// Worker
	WorkerID      string
	StreamGroup   string
	IngestWorkers int

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		HistoryBackend: getEnv("HISTORY_BACKEND", BackendSQLite),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		SQLitePath:     getEnv("SQLITE_PATH", "./data/grievances.db"),
		MongoDBURL:     getEnv("MONGODB_URL", ""),
		MongoDBName:    getEnv("MONGODB_DATABASE", "grievance"),
		RedisURL:       getEnv("REDIS_URL", ""),

		Neo4jURL:      getEnv("NEO4J_URL", ""),
		Neo4jUsername: getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", ""),

		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3Bucket:    getEnv("S3_BUCKET", "grievance-attachments"),
		S3UseSSL:    getEnvBool("S3_USE_SSL", true),

		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		EmbeddingBaseURL:    getEnv("EMBEDDING_BASE_URL", ""),
		EmbeddingModel:      getEnv("EMBEDDING_MODEL", DefaultEmbeddingModel),
		EmbeddingTimeout:    time.Duration(getEnvInt("EMBEDDING_TIMEOUT_SEC", 15)) * time.Second,
		EmbeddingCacheSize:  getEnvInt("EMBEDDING_CACHE_SIZE", 10000),
		SimilarityThreshold: getEnvFloat("SIMILARITY_THRESHOLD", 0.88),
		SimilarityWindow:    getEnvInt("SIMILARITY_WINDOW", 10),
		SimilarityRequired:  getEnvBool("SIMILARITY_REQUIRED", false),

		CategoryFile: getEnv("CATEGORY_FILE", ""),

		MailDir:            getEnv("MAIL_DIR", "./files"),
		BatchWorkers:       getEnvInt("BATCH_WORKERS", 4),
		MaxAttachmentBytes: int64(getEnvInt("MAX_ATTACHMENT_BYTES", 5*1024*1024)),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),
		GmailQuery:        getEnv("GMAIL_QUERY", "has:attachment OR subject:grievance"),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		WorkerID:      getEnv("WORKER_ID", generateWorkerID()),
		StreamGroup:   getEnv("STREAM_GROUP", "grievance-workers"),
		IngestWorkers: getEnvInt("INGEST_WORKERS", 4),

		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return apperr.ConfigError(fmt.Sprintf("SIMILARITY_THRESHOLD must be in (0,1], got %v", c.SimilarityThreshold))
	}
	if c.SimilarityWindow < 1 {
		return apperr.ConfigError(fmt.Sprintf("SIMILARITY_WINDOW must be at least 1, got %d", c.SimilarityWindow))
	}
	if c.BatchWorkers < 1 {
		return apperr.ConfigError(fmt.Sprintf("BATCH_WORKERS must be at least 1, got %d", c.BatchWorkers))
	}
	switch c.HistoryBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return apperr.ConfigError("DATABASE_URL is required for the postgres history backend")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return apperr.ConfigError("SQLITE_PATH is required for the sqlite history backend")
		}
	case BackendMemory:
	default:
		return apperr.ConfigError(fmt.Sprintf("unknown HISTORY_BACKEND %q", c.HistoryBackend))
	}
	if c.SimilarityRequired && !c.SimilarityConfigured() {
		return apperr.ConfigError("SIMILARITY_REQUIRED is set but neither EMBEDDING_BASE_URL nor OPENAI_API_KEY is")
	}
	if c.OpenAIAPIKey != "" && c.EmbeddingBaseURL == "" && !strings.HasPrefix(c.EmbeddingModel, "text-embedding-") {
		return apperr.ConfigError(fmt.Sprintf("EMBEDDING_MODEL %q is not an OpenAI model; set EMBEDDING_BASE_URL to the server that hosts it", c.EmbeddingModel))
	}
	return nil
}

// SimilarityConfigured reports whether an embedding endpoint is set up.
func (c *Config) SimilarityConfigured() bool {
	return c.EmbeddingBaseURL != "" || c.OpenAIAPIKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
