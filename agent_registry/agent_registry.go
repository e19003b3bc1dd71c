package agent_registry

import (
	"fmt"

	"github.com/serisow/docapture/agent"
	"github.com/serisow/docapture/services/llm_service"
)

// OperationInput carries the per-request parameters an operation factory
// needs to build a runnable agent.Operation.
type OperationInput struct {
	FileData       []byte
	FileName       string
	MimeType       string
	Prompt         string
	RequiredFields []string
	Format         string
	// RawJSON carries the decoded request body for agents that take a JSON
	// payload instead of a multipart document.
	RawJSON []byte
}

type AgentRegistry struct {
	operations  map[string]func(input OperationInput) (agent.Operation, error)
	llmServices map[string]llm_service.LLMService
}

func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{
		operations:  make(map[string]func(input OperationInput) (agent.Operation, error)),
		llmServices: make(map[string]llm_service.LLMService),
	}
}

// RegisterOperation registers a new agent operation type
func (ar *AgentRegistry) RegisterOperation(agentType string, factory func(input OperationInput) (agent.Operation, error)) {
	ar.operations[agentType] = factory
}

// GetOperation builds a new operation instance for the given agent type
func (ar *AgentRegistry) GetOperation(agentType string, input OperationInput) (agent.Operation, error) {
	factory, ok := ar.operations[agentType]
	if !ok {
		return nil, fmt.Errorf("unknown agent type: %s", agentType)
	}
	return factory(input)
}

// HasOperation reports whether the agent type is registered
func (ar *AgentRegistry) HasOperation(agentType string) bool {
	_, ok := ar.operations[agentType]
	return ok
}

// RegisterLLMService registers a new LLM service
func (ar *AgentRegistry) RegisterLLMService(name string, service llm_service.LLMService) {
	ar.llmServices[name] = service
}

// GetLLMService returns an LLM service by name
func (ar *AgentRegistry) GetLLMService(name string) (llm_service.LLMService, bool) {
	service, ok := ar.llmServices[name]
	return service, ok
}
