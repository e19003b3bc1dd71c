package llm_service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

type AnthropicService struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func NewAnthropicService(logger *slog.Logger) *AnthropicService {
	return &AnthropicService{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
	}
}

func (s *AnthropicService) CallLLM(ctx context.Context, config map[string]interface{}, prompt string) (string, error) {
	maxRetries := 3
	retryDelay := 5 * time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		response, err := s.callAnthropic(ctx, config, prompt)
		if err == nil {
			return response, nil
		}

		if attempt == maxRetries {
			s.logger.Error("Error calling Anthropic API after multiple attempts",
				slog.Int("attempts", maxRetries),
				slog.String("error", err.Error()))
			return "", fmt.Errorf("failed to call Anthropic API after %d attempts: %w", maxRetries, err)
		}

		s.logger.Warn("Attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("retry_delay", retryDelay),
			slog.String("error", err.Error()))
		time.Sleep(retryDelay)
	}

	return "", fmt.Errorf("failed to call Anthropic API after exhausting all retry attempts")
}

func (s *AnthropicService) callAnthropic(ctx context.Context, config map[string]interface{}, prompt string) (string, error) {
	apiURL, ok := stringFromConfig(config, "api_url")
	if !ok {
		return "", fmt.Errorf("api_url not found in config")
	}

	apiKey, ok := stringFromConfig(config, "api_key")
	if !ok {
		return "", fmt.Errorf("api_key not found in config")
	}

	modelName, ok := stringFromConfig(config, "model_name")
	if !ok {
		return "", fmt.Errorf("model_name not found in config")
	}

	payload := map[string]interface{}{
		"model":      modelName,
		"max_tokens": 4096,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	if systemPrompt, ok := stringFromConfig(config, "system_prompt"); ok {
		payload["system"] = systemPrompt
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("error marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", apiURL, bytes.NewBuffer(requestBody))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Anthropic API error (HTTP %d): %s", resp.StatusCode, string(body))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("error unmarshaling response: %w", err)
	}

	content, ok := result["content"].([]interface{})
	if !ok || len(content) == 0 {
		return "", fmt.Errorf("unexpected response format from Anthropic API")
	}

	firstBlock, ok := content[0].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("unexpected content block format in Anthropic API response")
	}

	text, ok := firstBlock["text"].(string)
	if !ok {
		return "", fmt.Errorf("text not found in Anthropic API response")
	}

	return text, nil
}
