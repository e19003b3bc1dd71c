package llm_service

import (
	"context"
	"strconv"
)

type LLMService interface {
	CallLLM(ctx context.Context, config map[string]interface{}, prompt string) (string, error)
}

// Helper to safely parse float values coming from loosely typed service config.
func safeParseFloat(value interface{}, defaultValue float64) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case string:
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return defaultValue
}

func stringFromConfig(config map[string]interface{}, key string) (string, bool) {
	value, ok := config[key].(string)
	return value, ok && value != ""
}
