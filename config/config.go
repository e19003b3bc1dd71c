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
	Environment  string
	HTTPPort     string
	HTTPSPort    string
	Domains      []string
	CertCacheDir string

	// AIProvider selects which LLM service backs the agents ("openai" or "anthropic").
	AIProvider      string
	OpenAIAPIURL    string
	OpenAIAPIKey    string
	OpenAIModel     string
	AnthropicAPIURL string
	AnthropicAPIKey string
	AnthropicModel  string

	// APIKeys maps bearer tokens to user identifiers ("token:user,token:user").
	APIKeys map[string]string

	PdftoppmPath        string
	RasterDPI           int
	MaxOCRPages         int
	TierTimeout         time.Duration
	DigitalTextMinLines int
	MaxUploadBytes      int64

	TemplatesPath         string
	UsableMatchConfidence float64

	RunRetention       time.Duration
	RunCleanupInterval time.Duration
	SSEGraceDelay      time.Duration
}

var isTest bool

func init() {
	isTest = os.Getenv("GO_ENVIRONMENT") == "test"
	if !isTest {
		err := godotenv.Load()
		if err != nil {
			log.Println("Warning: Error loading .env file:", err)
		}
	}
}

func Load() Config {
	return Config{
		Environment:  getEnv("ENVIRONMENT", "development"),
		HTTPPort:     getEnv("HTTP_PORT", "8087"),
		HTTPSPort:    getEnv("HTTPS_PORT", "443"),
		Domains:      []string{getEnv("DOMAIN", "example.com")},
		CertCacheDir: getEnv("CERT_CACHE_DIR", "/etc/letsencrypt/live/example.com"),

		AIProvider:      getEnv("AI_PROVIDER", "openai"),
		OpenAIAPIURL:    getEnv("OPENAI_API_URL", "https://api.openai.com/v1/chat/completions"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AnthropicAPIURL: getEnv("ANTHROPIC_API_URL", "https://api.anthropic.com/v1/messages"),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),

		APIKeys: parseAPIKeys(getEnv("API_KEYS", "")),

		PdftoppmPath:        getEnv("PDFTOPPM_PATH", "pdftoppm"),
		RasterDPI:           getEnvAsInt("RASTER_DPI", 300),
		MaxOCRPages:         getEnvAsInt("MAX_OCR_PAGES", 20),
		TierTimeout:         time.Duration(getEnvAsInt("TIER_TIMEOUT_SECONDS", 120)) * time.Second,
		DigitalTextMinLines: getEnvAsInt("DIGITAL_TEXT_MIN_LINES", 3),
		MaxUploadBytes:      int64(getEnvAsInt("MAX_UPLOAD_MB", 10)) << 20,

		TemplatesPath:         getEnv("TEMPLATES_PATH", ""),
		UsableMatchConfidence: getEnvAsFloat("USABLE_MATCH_CONFIDENCE", 70),

		RunRetention:       time.Duration(getEnvAsInt("RUN_RETENTION_HOURS", 24)) * time.Hour,
		RunCleanupInterval: time.Duration(getEnvAsInt("RUN_CLEANUP_MINUTES", 60)) * time.Minute,
		SSEGraceDelay:      time.Duration(getEnvAsInt("SSE_GRACE_SECONDS", 1)) * time.Second,
	}
}

// parseAPIKeys parses "token:user,token:user" pairs. A token without an
// explicit user maps to itself.
func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) == 2 {
			keys[parts[0]] = parts[1]
		} else {
			keys[parts[0]] = parts[0]
		}
	}
	return keys
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
