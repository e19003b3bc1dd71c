package llm_service

import (
	"context"
)

type MockLLMService struct {
	CallLLMFunc func(ctx context.Context, config map[string]interface{}, prompt string) (string, error)
	Calls       []string
}

func (m *MockLLMService) CallLLM(ctx context.Context, config map[string]interface{}, prompt string) (string, error) {
	m.Calls = append(m.Calls, prompt)
	if m.CallLLMFunc != nil {
		return m.CallLLMFunc(ctx, config, prompt)
	}
	return "mock response", nil
}
