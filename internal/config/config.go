package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App     AppConfig
	Keys    APIKeys
	Ai      AIConfig
	Session SessionConfig
	Otel    OtelConfig
}

type AppConfig struct {
	Port               string
	BaseURL            string
	Environment        string
	LogFilePath        string
	WsLogFilePath      string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
}

type APIKeys struct {
	GoogleGemini      string // query generation
	GoogleGeminiImage string // room visualization
	SerpAPI           string
}

type AIConfig struct {
	TextModel           string
	ImageModel          string
	Temperature         float64
	MaxOutputTokens     int
	ImageRequestsPerMin int
	ProductFetchTimeout time.Duration
	CompositeCacheSize  int
	SearchConcurrency   int
}

type SessionConfig struct {
	TTL               time.Duration
	RecommendationTTL time.Duration
	DegradedDelay     time.Duration
	MaxUploadBytes    int
}

type OtelConfig struct {
	Enabled  bool
	Endpoint string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "8000"),
			BaseURL:            getEnv("APP_BASE_URL", "http://localhost:8000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			WsLogFilePath:      getEnv("WS_LOG_FILE_PATH", "logs/websocket.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", ""),
		},
		Keys: APIKeys{
			GoogleGemini:      getEnv("GEMINI_API_KEY", ""),
			GoogleGeminiImage: getEnv("GEMINI_API_KEY_2", getEnv("GEMINI_API_KEY", "")),
			SerpAPI:           getEnv("SERPAPI_API_KEY", ""),
		},
		Ai: AIConfig{
			TextModel:           getEnv("GEMINI_TEXT_MODEL", "gemini-2.5-flash-lite"),
			ImageModel:          getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image-preview"),
			Temperature:         getEnvAsFloat("GEMINI_TEMPERATURE", 0.8),
			MaxOutputTokens:     getEnvAsInt("GEMINI_MAX_OUTPUT_TOKENS", 800),
			ImageRequestsPerMin: getEnvAsInt("IMAGE_REQUESTS_PER_MINUTE", 10),
			ProductFetchTimeout: getEnvAsDuration("PRODUCT_FETCH_TIMEOUT", 10*time.Second),
			CompositeCacheSize:  getEnvAsInt("COMPOSITE_CACHE_SIZE", 20),
			SearchConcurrency:   getEnvAsInt("SEARCH_CONCURRENCY", 4),
		},
		Session: SessionConfig{
			TTL:               getEnvAsDuration("SESSION_TTL", time.Hour),
			RecommendationTTL: getEnvAsDuration("RECOMMENDATION_TTL", time.Hour),
			DegradedDelay:     getEnvAsDuration("DEGRADED_DELAY", 2*time.Second),
			MaxUploadBytes:    getEnvAsInt("MAX_UPLOAD_BYTES", 20*1024*1024),
		},
		Otel: OtelConfig{
			Enabled:  getEnvAsBool("OTEL_ENABLED", false),
			Endpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		},
	}
}

// IsProduction reports whether GO_ENV selects production logging.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, "production")
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
