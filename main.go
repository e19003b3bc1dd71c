package main

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/serisow/docapture/agent"
	"github.com/serisow/docapture/agent_registry"
	"github.com/serisow/docapture/agents"
	"github.com/serisow/docapture/config"
	"github.com/serisow/docapture/logging"
	"github.com/serisow/docapture/server"
	"github.com/serisow/docapture/services/extraction_service"
	"github.com/serisow/docapture/services/history_service"
	"github.com/serisow/docapture/services/language_service"
	"github.com/serisow/docapture/services/llm_service"
	"github.com/serisow/docapture/services/subscription_service"
	"github.com/serisow/docapture/services/template_service"
	"github.com/urfave/negroni"
)

func main() {
	cfg := config.Load()

	// Initialize the logger
	logger, err := initLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Initialize AgentRegistry
	registry := agent_registry.NewAgentRegistry()
	llm, llmConfig, err := selectLLMService(cfg, registry, logger)
	if err != nil {
		log.Fatalf("Failed to configure LLM service: %v", err)
	}
	registerAgents(registry, cfg, llm, llmConfig, logger)

	// Run store and event broker, with background cleanup
	store := agent.NewRunStore(logger)
	store.StartCleanup(cfg.RunRetention, cfg.RunCleanupInterval)
	broker := agent.NewEventBroker(logger)
	broker.StartCleanup(cfg.RunRetention, cfg.RunCleanupInterval)

	runner := agent.NewRunner(store, broker, logger)

	deps := server.Deps{
		Config:        cfg,
		Registry:      registry,
		Runner:        runner,
		Broker:        broker,
		Store:         store,
		Subscriptions: subscription_service.NewInMemoryService(0, 0),
		History:       history_service.NewLogRecorder(logger),
		WordExtractor: extraction_service.NewWordExtractor(logger),
		Logger:        logger,
	}

	// Initialize server
	r := server.SetupRoutes(deps)
	n := setupNegroni(r)

	if cfg.Environment == "production" {
		server.ServeProduction(n, cfg)
	} else {
		srv := &http.Server{
			Addr:        ":" + cfg.HTTPPort,
			Handler:     n,
			IdleTimeout: time.Minute,
			ReadTimeout: 5 * time.Second,
			// No write timeout: SSE streams stay open for the run's lifetime.
		}
		server.ServeDevelopment(srv)
	}
}

func setupNegroni(r *mux.Router) *negroni.Negroni {
	n := negroni.New()

	// Add middleware here
	n.Use(negroni.NewRecovery())
	n.Use(negroni.NewLogger())

	n.UseHandler(r)
	return n
}

// selectLLMService registers the available LLM services and returns the one
// chosen by configuration together with its call config.
func selectLLMService(cfg config.Config, registry *agent_registry.AgentRegistry, logger *slog.Logger) (llm_service.LLMService, map[string]interface{}, error) {
	registry.RegisterLLMService("openai", llm_service.NewOpenAIService(logger))
	registry.RegisterLLMService("anthropic", llm_service.NewAnthropicService(logger))

	llm, ok := registry.GetLLMService(cfg.AIProvider)
	if !ok {
		return nil, nil, fmt.Errorf("unknown AI provider %q", cfg.AIProvider)
	}

	var llmConfig map[string]interface{}
	switch cfg.AIProvider {
	case "anthropic":
		llmConfig = map[string]interface{}{
			"api_url":    cfg.AnthropicAPIURL,
			"api_key":    cfg.AnthropicAPIKey,
			"model_name": cfg.AnthropicModel,
		}
	default:
		llmConfig = map[string]interface{}{
			"api_url":    cfg.OpenAIAPIURL,
			"api_key":    cfg.OpenAIAPIKey,
			"model_name": cfg.OpenAIModel,
		}
	}
	return llm, llmConfig, nil
}

func registerAgents(registry *agent_registry.AgentRegistry, cfg config.Config, llm llm_service.LLMService, llmConfig map[string]interface{}, logger *slog.Logger) {
	detector := language_service.NewDetector(logger)
	rasterizer := extraction_service.NewPdftoppmRasterizer(cfg.PdftoppmPath, cfg.RasterDPI, cfg.MaxOCRPages)
	ocrEngine := extraction_service.NewTesseractEngine()
	pipeline := extraction_service.NewPipeline(logger, detector, ocrEngine, rasterizer, llm, llmConfig, extraction_service.Config{
		DigitalTextMinLines: cfg.DigitalTextMinLines,
		TierTimeout:         cfg.TierTimeout,
	})

	templateStore, err := template_service.LoadStore(cfg.TemplatesPath)
	if err != nil {
		logger.Warn("Failed to load template corpus, using builtin defaults",
			slog.String("path", cfg.TemplatesPath),
			slog.String("error", err.Error()))
		templateStore = template_service.NewStore(template_service.DefaultTemplates())
	}
	matcher := template_service.NewMatcher(templateStore, cfg.UsableMatchConfidence, logger)

	registry.RegisterOperation("field-extractor", func(input agent_registry.OperationInput) (agent.Operation, error) {
		return agents.NewFieldExtractor(pipeline, matcher, llm, llmConfig, logger,
			input.FileData, input.FileName, input.MimeType, input.Prompt, input.RequiredFields), nil
	})

	registry.RegisterOperation("document-summarizer", func(input agent_registry.OperationInput) (agent.Operation, error) {
		return agents.NewSummarizer(pipeline, llm, llmConfig, logger,
			input.FileData, input.FileName, input.MimeType, input.Prompt, input.Format), nil
	})

	registry.RegisterOperation("rfp-creator", func(input agent_registry.OperationInput) (agent.Operation, error) {
		rfpInput, err := agents.ParseRFPInput(input.RawJSON)
		if err != nil {
			return nil, err
		}
		return agents.NewRFPCreator(llm, llmConfig, logger, rfpInput), nil
	})
}

func initLogger() (*slog.Logger, error) {
	// Configure log directory - you might want to make this configurable
	logDir := filepath.Join("logs", "docapture")

	// Create daily file handler
	fileHandler, err := logging.NewDailyFileHandler(logDir, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	if err != nil {
		return nil, err
	}

	// Create logger with the custom handler
	logger := slog.New(fileHandler)

	return logger, nil
}
