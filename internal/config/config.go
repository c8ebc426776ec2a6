package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the process-level settings read from the environment.
type Config struct {
	// Server
	ServerPort string
	Debug      bool

	// Database. A postgres:// URL selects the Postgres driver, anything else
	// is a SQLite file path.
	DatabaseURL string

	// Data
	DataRoot         string
	FeatureStoreDir  string
	ModelRegistryDir string
	ExtractionConfig string

	// Pipeline
	BatchSize int

	// S3 mirror (optional; empty bucket disables it)
	S3Bucket string
	S3Prefix string
	S3Region string
}

// Load reads configuration from the environment, with an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:       getEnv("PORT", "8000"),
		Debug:            getEnvBool("DEBUG", false),
		DatabaseURL:      getEnv("DATABASE_URL", "flexbatt.db"),
		DataRoot:         getEnv("DATA_ROOT", "data"),
		FeatureStoreDir:  getEnv("FEATURE_STORE_DIR", "feature_store"),
		ModelRegistryDir: getEnv("MODEL_REGISTRY_DIR", "model_registry"),
		ExtractionConfig: getEnv("EXTRACTION_CONFIG", ""),
		BatchSize:        getEnvInt("PIPELINE_BATCH_SIZE", 50),
		S3Bucket:         getEnv("S3_BUCKET", ""),
		S3Prefix:         getEnv("S3_PREFIX", ""),
		S3Region:         getEnv("S3_REGION", "eu-central-1"),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		n, err := strconv.Atoi(value)
		if err == nil {
			return n
		}
	}
	return defaultValue
}
