package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	JWTSecret   string
	MongoURI    string
	DBName      string
	SkipAuth    bool
	Environment string
	AppId       string
	SentryDSN   string

	AnalyzerURL     string        // Base URL of the external image-analysis service
	AnalyzerTimeout time.Duration // Per-call timeout for the analyzer
	AnalyzerRetry   bool          // Retry the analyzer once before giving up

	MaxImageBytes int64  // Submissions with a larger image part are rejected
	UploadDir     string // Physical directory for submitted images

	AggregateInterval time.Duration // Full-scan reconciliation period for the dashboard feed
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	} else {
		log.Println("Loaded .env file successfully")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		JWTSecret:   getEnv("JWT_SECRET", "secret"),
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:      getEnv("DB_NAME", "roadwatch"),
		SkipAuth:    getEnv("SKIP_AUTH", "false") == "true",
		Environment: getEnv("ENVIRONMENT", "development"),
		AppId:       getEnv("APP_ID", "roadwatch"),
		SentryDSN:   getEnv("SENTRY_DSN", ""),

		AnalyzerURL:     getEnv("ANALYZER_URL", "http://127.0.0.1:5001"),
		AnalyzerTimeout: getEnvSeconds("ANALYZER_TIMEOUT_SECONDS", 5),
		AnalyzerRetry:   getEnv("ANALYZER_RETRY", "false") == "true",

		MaxImageBytes: getEnvInt64("MAX_IMAGE_BYTES", 10<<20),
		UploadDir:     getEnv("UPLOAD_DIR", "./uploads"),

		AggregateInterval: getEnvSeconds("AGGREGATE_INTERVAL_SECONDS", 30),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
			return n
		}
		log.Printf("Invalid %s=%q, using default %d", key, value, fallback)
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
		log.Printf("Invalid %s=%q, using default %ds", key, value, fallback)
	}
	return time.Duration(fallback) * time.Second
}
