package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds the application configuration.
type Config struct {
	ServerPort   int
	DatabasePath string
	UploadDir    string // Base path for uploaded files (disk blob store)

	JWTSecret string
	TokenTTL  time.Duration

	// Redis-backed token blacklist. An empty address selects the
	// in-process blacklist instead.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// S3 blob store. A non-empty bucket selects S3 over the disk store.
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	AppEnv string
}

// Load loads configuration from a .env file if present, then the
// environment, with defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, relying on environment variables")
	}

	portStr := getEnv("PORT", "8080")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}

	return &Config{
		ServerPort:    port,
		DatabasePath:  getEnv("DATABASE_PATH", "./crm-auth.db"),
		UploadDir:     getEnv("UPLOAD_DIR", "./uploads"),
		JWTSecret:     getEnv("JWT_SECRET", "devsecret"),
		TokenTTL:      time.Duration(getEnvAsInt("JWT_TTL_HOURS", 24)) * time.Hour,
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		S3Bucket:      getEnv("S3_BUCKET", ""),
		S3Region:      getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:    getEnv("S3_ENDPOINT", ""),
		S3AccessKey:   getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:   getEnv("S3_SECRET_KEY", ""),
		AppEnv:        getEnv("APP_ENV", "development"),
	}, nil
}

// Helper to get an environment variable with a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}
