package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	GinMode     string
	CORSOrigins []string
	MaxFileSize int64

	// Gemini API
	GeminiAPIKey    string
	GeminiModel     string
	EmbeddingsModel string
	MaxOutputTokens int
	Temperature     float64
	GeminiTier      string

	// Vector store
	CollectionName string
	PersistPath    string
	Similarity     string // "cosine" or "l2"

	// Document processing
	MaxChunkSize int
	ChunkOverlap int

	// Retrieval
	DefaultSearchK int
	MaxSearchK     int
	MinConfidence  float64
	MinResults     int

	// Redis (rate limiting, answer cache, email queue)
	RedisURL       string
	RedisPassword  string
	RedisDB        int
	AnswerCacheTTL int // seconds, 0 disables the cache

	// Rate limiting
	RateLimitReqs   int
	RateLimitWindow int

	// SMTP / contact alerts
	SMTPHost        string
	SMTPPort        string
	SMTPUser        string
	SMTPPass        string
	SMTPFrom        string
	AlertRecipients []string
	EmailAlerts     bool

	// Operational
	StatsLogMinutes int
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		Port:        getEnv("PORT", "4000"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: splitAndTrim(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:4000")),
		MaxFileSize: getEnvInt64("MAX_FILE_SIZE", 33554432), // 32MB

		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		EmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		MaxOutputTokens: getEnvInt("MAX_OUTPUT_TOKENS", 2048),
		Temperature:     getEnvFloat64("TEMPERATURE", 0.7),
		GeminiTier:      getEnv("GEMINI_TIER", "free"),

		CollectionName: getEnv("COLLECTION_NAME", "document_store"),
		PersistPath:    getEnv("PERSIST_PATH", "./data/vectors.db"),
		Similarity:     getEnv("SIMILARITY", "cosine"),

		MaxChunkSize: getEnvInt("MAX_CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),

		DefaultSearchK: getEnvInt("DEFAULT_SEARCH_K", 5),
		MaxSearchK:     getEnvInt("MAX_SEARCH_K", 20),
		MinConfidence:  getEnvFloat64("MIN_CONFIDENCE", 0.35),
		MinResults:     getEnvInt("MIN_RESULTS", 1),

		RedisURL:       getEnv("REDIS_URL", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		AnswerCacheTTL: getEnvInt("ANSWER_CACHE_TTL", 0),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		SMTPHost:        getEnv("SMTP_HOST", ""),
		SMTPPort:        getEnv("SMTP_PORT", "587"),
		SMTPUser:        getEnv("SMTP_USER", ""),
		SMTPPass:        getEnv("SMTP_PASS", ""),
		SMTPFrom:        getEnv("SMTP_FROM", ""),
		AlertRecipients: splitAndTrim(getEnv("ALERT_RECIPIENTS", "")),
		EmailAlerts:     getEnvBool("EMAIL_ALERTS", false),

		StatsLogMinutes: getEnvInt("STATS_LOG_MINUTES", 15),
	}

	// Validate required fields
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if cfg.MaxChunkSize <= cfg.ChunkOverlap || cfg.ChunkOverlap < 0 {
		return nil, fmt.Errorf("MAX_CHUNK_SIZE (%d) must be greater than CHUNK_OVERLAP (%d)",
			cfg.MaxChunkSize, cfg.ChunkOverlap)
	}

	if cfg.Similarity != "cosine" && cfg.Similarity != "l2" {
		return nil, fmt.Errorf("SIMILARITY must be \"cosine\" or \"l2\", got %q", cfg.Similarity)
	}

	if cfg.EmailAlerts && cfg.SMTPHost == "" {
		return nil, fmt.Errorf("EMAIL_ALERTS is enabled but SMTP_HOST is not set")
	}

	return cfg, nil
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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
