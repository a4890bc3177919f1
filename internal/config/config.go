package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	GinMode     string
	CORSOrigins []string
	MaxFileSize int64

	// Providers
	EmbeddingsProvider    string // "google" (default), "openai", "local"
	GenerationProvider    string // "google" (default), "openai"
	GeminiAPIKey          string
	GeminiModel           string
	GoogleEmbeddingsModel string // e.g., "text-embedding-004"
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIModel           string
	OpenAIEmbeddingsModel string
	LocalEmbeddingsDim    int
	Temperature           float64
	MaxOutputTokens       int
	ProviderTimeout       time.Duration
	ProviderRPM           int

	// Retrieval pipeline
	ChunkSize          int
	ChunkOverlap       int
	RetrievalK         int
	CitationPreviewLen int
	MaxContextChars    int

	// Web extraction
	WebTimeout       time.Duration
	WebUserAgent     string
	WebRenderJS      bool
	WebRenderTimeout time.Duration

	// Workspace persistence
	WorkspaceID        string
	PersistenceEnabled bool
	MongoURI           string
	DBName             string
	SnapshotInterval   time.Duration

	// Redis Configuration
	RedisEnabled    bool
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RateLimitReqs   int
	RateLimitWindow int

	// Background ingestion
	QueueConcurrency int
	FileStorageDir   string
	InboxDir         string

	// Optional bearer auth; empty secret disables it
	JWTSecret    string
	JWTExpiresIn time.Duration

	// Telemetry
	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64
	ServiceName     string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),
		MaxFileSize: getEnvInt64("MAX_FILE_SIZE", 104857600),

		EmbeddingsProvider:    strings.ToLower(getEnv("EMBEDDINGS_PROVIDER", "google")),
		GenerationProvider:    strings.ToLower(getEnv("GENERATION_PROVIDER", "google")),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:           getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIEmbeddingsModel: getEnv("OPENAI_EMBEDDINGS_MODEL", "text-embedding-3-small"),
		LocalEmbeddingsDim:    getEnvInt("LOCAL_EMBEDDINGS_DIM", 256),
		Temperature:           getEnvFloat64("GENERATION_TEMPERATURE", 0.1),
		MaxOutputTokens:       getEnvInt("GENERATION_MAX_TOKENS", 1024),
		ProviderTimeout:       getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),
		ProviderRPM:           getEnvInt("PROVIDER_RPM", 60),

		ChunkSize:          getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:       getEnvInt("CHUNK_OVERLAP", 100),
		RetrievalK:         getEnvInt("RETRIEVAL_K", 5),
		CitationPreviewLen: getEnvInt("CITATION_PREVIEW_CHARS", 200),
		MaxContextChars:    getEnvInt("MAX_CONTEXT_CHARS", 12000),

		WebTimeout:       getEnvDuration("WEB_TIMEOUT", 10*time.Second),
		WebUserAgent:     getEnv("WEB_USER_AGENT", "IQBot/1.0 (Document Q&A Assistant)"),
		WebRenderJS:      getEnvBool("WEB_RENDER_JS", false),
		WebRenderTimeout: getEnvDuration("WEB_RENDER_TIMEOUT", 20*time.Second),

		WorkspaceID:        getEnv("WORKSPACE_ID", "default"),
		PersistenceEnabled: getEnvBool("PERSISTENCE_ENABLED", false),
		MongoURI:           getEnv("MONGO_URI", "mongodb://localhost:27017/iqbot"),
		DBName:             getEnv("DB_NAME", "iqbot"),
		SnapshotInterval:   getEnvDuration("SNAPSHOT_INTERVAL", 5*time.Minute),

		RedisEnabled:    getEnvBool("REDIS_ENABLED", false),
		RedisURL:        getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		QueueConcurrency: getEnvInt("QUEUE_CONCURRENCY", 1),
		FileStorageDir:   getEnv("FILE_STORAGE_DIR", "./storage"),
		InboxDir:         getEnv("INBOX_DIR", ""),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		JWTExpiresIn: getEnvDuration("JWT_EXPIRES_IN", 24*time.Hour),

		OTelEnabled:     getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelSampleRatio: getEnvFloat64("OTEL_SAMPLE_RATIO", 0.1),
		ServiceName:     getEnv("SERVICE_NAME", "iqbot"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the provider selection and pipeline parameters.
func (c *Config) Validate() error {
	switch c.EmbeddingsProvider {
	case "google", "":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required - set it in .env file")
		}
	case "local":
		if c.LocalEmbeddingsDim <= 0 {
			return fmt.Errorf("LOCAL_EMBEDDINGS_DIM must be positive")
		}
	default:
		return fmt.Errorf("unknown EMBEDDINGS_PROVIDER %q", c.EmbeddingsProvider)
	}

	switch c.GenerationProvider {
	case "google", "":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required - set it in .env file")
		}
	default:
		return fmt.Errorf("unknown GENERATION_PROVIDER %q", c.GenerationProvider)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be between 0 and CHUNK_SIZE")
	}
	if c.RetrievalK <= 0 {
		return fmt.Errorf("RETRIEVAL_K must be positive")
	}
	if c.PersistenceEnabled && c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required - set it in .env file")
	}

	return nil
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
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

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("10s") or plain seconds ("10").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
