package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Session-window policy for free-form replies.
	SessionWindow     time.Duration
	GuardrailLookback time.Duration

	// Trigger-event dedupe retention.
	EventDedupeTTL time.Duration

	// Model chain, tried in order. Comma-separated Bedrock model ids; an
	// optional Gemini model appended when GEMINI_API_KEY is set.
	BedrockModelIDs []string
	GeminiAPIKey    string
	GeminiModelID   string
	LLMCallTimeout  time.Duration
	LLMTotalBudget  time.Duration

	AWSRegion           string
	AWSEndpointOverride string

	AdminEmail     string
	NotifyFrom     string
	NotifyFromName string

	WhatsAppToken         string
	WhatsAppPhoneNumberID string
	WhatsAppBaseURL       string
	WhatsAppTemplateLang  string

	AgentName        string
	TranscriptWindow int
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		SessionWindow:     getEnvAsDuration("SESSION_WINDOW", 24*time.Hour),
		GuardrailLookback: getEnvAsDuration("GUARDRAIL_LOOKBACK", 2*time.Minute),

		EventDedupeTTL: getEnvAsDuration("EVENT_DEDUPE_TTL", 24*time.Hour),

		BedrockModelIDs: splitCSV(getEnv("BEDROCK_MODEL_IDS", "")),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:   getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		LLMCallTimeout:  getEnvAsDuration("LLM_CALL_TIMEOUT", 30*time.Second),
		LLMTotalBudget:  getEnvAsDuration("LLM_TOTAL_BUDGET", 2*time.Minute),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		AdminEmail:     getEnv("ADMIN_EMAIL", ""),
		NotifyFrom:     getEnv("NOTIFY_FROM_EMAIL", ""),
		NotifyFromName: getEnv("NOTIFY_FROM_NAME", "Hirewire Agent"),

		WhatsAppToken:         getEnv("WHATSAPP_TOKEN", ""),
		WhatsAppPhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppBaseURL:       getEnv("WHATSAPP_BASE_URL", ""),
		WhatsAppTemplateLang:  getEnv("WHATSAPP_TEMPLATE_LANGUAGE", "es"),

		AgentName:        getEnv("AGENT_NAME", "hirewire"),
		TranscriptWindow: getEnvAsInt("TRANSCRIPT_WINDOW", 20),
	}
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
