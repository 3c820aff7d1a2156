package bootstrap

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerAddr string
	LogLevel   string

	HMACKey string

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Realtime transcription provider.
	STTRealtimeURL string
	STTSessionURL  string
	STTBatchURL    string
	STTAPIKey      string
	STTModel       string

	ScratchDir   string
	PollInterval time.Duration

	// Question generation backend. Empty URL means fallback questions only.
	GeneratorURL    string
	GeneratorAPIKey string
}

func LoadConfig() *Config {
	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		HMACKey: getEnv("HMAC_KEY", "change-me-in-production"),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		STTRealtimeURL: getEnv("STT_REALTIME_URL", "wss://api.openai.com/v1/realtime?intent=transcription"),
		STTSessionURL:  getEnv("STT_SESSION_URL", "https://api.openai.com/v1/realtime/transcription_sessions"),
		STTBatchURL:    getEnv("STT_BATCH_URL", "https://api.openai.com/v1/audio/transcriptions"),
		STTAPIKey:      getEnv("STT_API_KEY", ""),
		STTModel:       getEnv("STT_MODEL", "whisper-1"),

		ScratchDir:   getEnv("SCRATCH_DIR", os.TempDir()),
		PollInterval: getEnvDuration("POLL_INTERVAL", 0),

		GeneratorURL:    getEnv("GENERATOR_URL", ""),
		GeneratorAPIKey: getEnv("GENERATOR_API_KEY", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
