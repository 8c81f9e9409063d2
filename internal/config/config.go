package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	App    AppConfig
	Ai     AIConfig
	Policy PolicyConfig
}

type AppConfig struct {
	Port               string
	BaseURL            string
	ClientURL          string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	// Provider selects the event-channel backend: "nats" or "inproc".
	Provider string
}

type AIConfig struct {
	LLMProvider   string // "ollama"
	LLMModel      string // e.g. "llama3", "qwen2.5"
	OllamaBaseURL string
}

// PolicyConfig holds the company-scoped escalation defaults. These are
// policy data, adjustable per deployment.
type PolicyConfig struct {
	MaxDiscountPercent      float64
	EscalationMarginPercent float64
	MaxTermMonths           int
	MaxConversationLength   int
	FrustrationThreshold    float64
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			BaseURL:            getEnv("APP_BASE_URL", "http://localhost:3000"),
			ClientURL:          getEnv("CLIENT_URL", "http://localhost:5173"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			Provider:           getEnv("SYNC_PROVIDER", "nats"),
		},
		Ai: AIConfig{
			LLMProvider:   getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:      getEnv("LLM_MODEL", "llama3"),
			OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		},
		Policy: PolicyConfig{
			MaxDiscountPercent:      getEnvAsFloat("POLICY_MAX_DISCOUNT_PERCENT", 15),
			EscalationMarginPercent: getEnvAsFloat("POLICY_ESCALATION_MARGIN_PERCENT", 5),
			MaxTermMonths:           getEnvAsInt("POLICY_MAX_TERM_MONTHS", 12),
			MaxConversationLength:   getEnvAsInt("POLICY_MAX_CONVERSATION_LENGTH", 20),
			FrustrationThreshold:    getEnvAsFloat("POLICY_FRUSTRATION_THRESHOLD", 0.7),
		},
	}
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
