package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every environment-derived setting the render pipeline needs,
// loaded the way the teacher loads its config: godotenv.Load() followed by
// os.Getenv with typed defaults.
type Config struct {
	// Redis (queue, progress bus, ephemeral KV locks/counters)
	RedisURL string

	// Postgres (document store)
	DatabaseURL string

	// Blob store (S3-compatible object store)
	BlobBaseURL string
	BlobBucket  string
	BlobToken   string

	// External collaborators
	OpenAIKey     string
	LMModel       string
	TranscriptURL string

	// Queue stream names
	RenderStreamName string
	NeuralStreamName string
	ConsumerGroup    string
	MaxRetries       int

	// Permit pools (spec.md §5)
	MaxConcurrentJobs   int
	MaxNeuralConcurrent int
	MaxFFmpegProcesses  int
	EncoderTimeoutS     int

	// Local working storage
	WorkDir   string
	FFmpegBin string

	// Health endpoint
	HealthPort string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		BlobBaseURL:         getEnv("BLOB_BASE_URL", ""),
		BlobBucket:          getEnv("BLOB_BUCKET", "vclip-render"),
		BlobToken:           getEnv("BLOB_SERVICE_TOKEN", ""),
		OpenAIKey:           getEnv("OPENAI_API_KEY", ""),
		LMModel:             getEnv("LM_MODEL", "gpt-5-mini"),
		TranscriptURL:       getEnv("TRANSCRIPT_SERVICE_URL", ""),
		RenderStreamName:    getEnv("RENDER_STREAM_NAME", "vclip:stream:render"),
		NeuralStreamName:    getEnv("NEURAL_STREAM_NAME", "vclip:stream:neural"),
		ConsumerGroup:       getEnv("CONSUMER_GROUP", "vclip-workers"),
		MaxRetries:          getEnvInt("MAX_RETRIES", 3),
		MaxConcurrentJobs:   getEnvInt("MAX_CONCURRENT_JOBS", 4),
		MaxNeuralConcurrent: getEnvInt("MAX_NEURAL_CONCURRENT", 3),
		MaxFFmpegProcesses:  getEnvInt("MAX_FFMPEG_PROCESSES", 2),
		EncoderTimeoutS:     getEnvInt("ENCODER_TIMEOUT_S", 600),
		WorkDir:             getEnv("WORK_DIR", "/tmp/vclip-render"),
		FFmpegBin:           getEnv("FFMPEG_BIN", "ffmpeg"),
		HealthPort:          getEnv("HEALTH_PORT", "8080"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.BlobBaseURL == "" || cfg.BlobToken == "" {
		return nil, fmt.Errorf("BLOB_BASE_URL and BLOB_SERVICE_TOKEN are required")
	}
	if cfg.TranscriptURL == "" {
		return nil, fmt.Errorf("TRANSCRIPT_SERVICE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}
