package agents

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/serisow/docapture/agent"
	"github.com/serisow/docapture/services/extraction_service"
	"github.com/serisow/docapture/services/llm_service"
	"github.com/serisow/docapture/services/template_service"
)

const extractionSystemPrompt = "You are an advanced document parser and contextual extractor. " +
	"You deeply understand document structures and can extract both explicit and implicit information. " +
	"Respond ONLY with valid JSON."

// FieldExtractionResult is the structured outcome of one field extraction run.
// Extracted is either the parsed model JSON or, when the reply could not be
// parsed, a map with "error" and "rawResponse" keys.
type FieldExtractionResult struct {
	Extracted      interface{} `json:"extracted"`
	TemplateID     string      `json:"templateId,omitempty"`
	UsedTemplate   bool        `json:"usedTemplate"`
	Confidence     float64     `json:"confidence,omitempty"`
	ProcessingTime int64       `json:"processingTime"`
	Language       string      `json:"language,omitempty"`
}

// FieldExtractor pulls structured fields out of an uploaded document:
// text extraction, template matching, then an LLM extraction pass whose
// prompt is driven by the best available guidance.
type FieldExtractor struct {
	pipeline  *extraction_service.Pipeline
	matcher   *template_service.Matcher
	llm       llm_service.LLMService
	llmConfig map[string]interface{}
	logger    *slog.Logger

	fileData       []byte
	fileName       string
	mimeType       string
	prompt         string
	requiredFields []string
}

func NewFieldExtractor(
	pipeline *extraction_service.Pipeline,
	matcher *template_service.Matcher,
	llm llm_service.LLMService,
	llmConfig map[string]interface{},
	logger *slog.Logger,
	fileData []byte,
	fileName, mimeType, prompt string,
	requiredFields []string,
) *FieldExtractor {
	return &FieldExtractor{
		pipeline:       pipeline,
		matcher:        matcher,
		llm:            llm,
		llmConfig:      llmConfig,
		logger:         logger,
		fileData:       fileData,
		fileName:       fileName,
		mimeType:       mimeType,
		prompt:         prompt,
		requiredFields: requiredFields,
	}
}

func (a *FieldExtractor) Name() string { return "field-extractor" }

func (a *FieldExtractor) Execute(ctx context.Context, run *agent.RunContext) (interface{}, error) {
	run.Progress(10, "Starting document processing...")

	run.Progress(20, "Extracting document text...")
	outcome, err := a.pipeline.Extract(ctx, a.fileData, a.fileName, a.mimeType)
	if err != nil {
		return nil, err
	}

	run.Progress(40, "Analyzing document structure...")

	match := a.matcher.Match(outcome.Text)
	useTemplate := a.matcher.Usable(match)

	run.Progress(60, "Matching document template...")
	run.Progress(70, "Generating extraction prompt...")

	extractionPrompt := a.buildPrompt(outcome.Text, match, useTemplate)

	run.Progress(80, "Processing with AI...")

	cfg := withSystemPrompt(a.llmConfig, extractionSystemPrompt)
	response, err := a.llm.CallLLM(ctx, cfg, extractionPrompt)
	if err != nil {
		return nil, err
	}

	run.Progress(90, "Parsing extraction results...")

	result := &FieldExtractionResult{
		Extracted:      parseModelJSON(response, a.logger),
		UsedTemplate:   useTemplate && match != nil,
		ProcessingTime: run.Elapsed().Milliseconds(),
		Language:       outcome.Language,
	}
	if match != nil {
		result.TemplateID = match.TemplateID
		result.Confidence = match.Confidence
	}

	run.Progress(100, "Extraction completed successfully")
	return result, nil
}

// buildPrompt picks the strongest available guidance: a usable template's
// field list, then caller-required fields, then the free-form user prompt,
// then a generic extract-everything instruction.
func (a *FieldExtractor) buildPrompt(text string, match *template_service.Match, useTemplate bool) string {
	const jsonContract = "Respond ONLY with valid JSON. Do not include explanations, comments, or extra text. " +
		"The response MUST start with '{' and end with '}'. If you cannot find a field, use null as its value."

	switch {
	case useTemplate && match != nil:
		return "Extract the following fields from the document: " + strings.Join(match.Fields, ", ") +
			". " + jsonContract + " Document: " + text
	case len(a.requiredFields) > 0:
		return "Extract the following fields from the document: " + strings.Join(a.requiredFields, ", ") +
			". " + jsonContract + " Document: " + text
	case strings.TrimSpace(a.prompt) != "":
		return "Extract the information described by the user from the document: \"" + a.prompt +
			"\" Respond ONLY with valid JSON. Document: " + text
	default:
		return "Extract all key-value pairs, dates, names, organizations, and any other structured " +
			"information from the following document. Respond ONLY with valid JSON. Document: " + text
	}
}

// parseModelJSON takes the substring between the first '{' and the last '}'
// of the reply. A reply that cannot be parsed degrades to an error-shaped map
// rather than failing the run.
func parseModelJSON(response string, logger *slog.Logger) interface{} {
	first := strings.Index(response, "{")
	last := strings.LastIndex(response, "}")
	if first != -1 && last > first {
		var extracted interface{}
		err := json.Unmarshal([]byte(response[first:last+1]), &extracted)
		if err == nil {
			return extracted
		}
		logger.Error("Failed to parse extraction result", slog.String("error", err.Error()))
	}
	return map[string]interface{}{
		"error":       "Failed to parse extraction result",
		"rawResponse": response,
	}
}

func withSystemPrompt(base map[string]interface{}, systemPrompt string) map[string]interface{} {
	cfg := make(map[string]interface{}, len(base)+1)
	for k, v := range base {
		cfg[k] = v
	}
	cfg["system_prompt"] = systemPrompt
	return cfg
}
