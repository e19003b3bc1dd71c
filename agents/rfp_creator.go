package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/serisow/docapture/agent"
	"github.com/serisow/docapture/services/llm_service"
)

const rfpSystemPrompt = "You are an expert procurement writer. You draft clear, formal Request for " +
	"Proposal sections. Respond with the section content only, no preamble."

// RFPSection is one titled block of a generated RFP document.
type RFPSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// RFPCreationInput is the JSON body of an rfp-creator request. Title,
// Organization, and Deadline are all required.
type RFPCreationInput struct {
	Title        string       `json:"title"`
	Organization string       `json:"organization"`
	Deadline     string       `json:"deadline"`
	Sections     []RFPSection `json:"sections,omitempty"`
	Format       string       `json:"format,omitempty"`
}

// ParseRFPInput decodes the JSON request body of an rfp-creator run.
func ParseRFPInput(raw []byte) (RFPCreationInput, error) {
	var input RFPCreationInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return RFPCreationInput{}, fmt.Errorf("invalid RFP input: %w", err)
	}
	return input, nil
}

// RFPCreationResult is the outcome of one RFP creation run.
type RFPCreationResult struct {
	Content        string `json:"content"`
	Format         string `json:"format"`
	ProcessingTime int64  `json:"processingTime"`
	SectionsCount  int    `json:"sectionsCount"`
}

// RFPCreator assembles a Request for Proposal document from caller-provided
// sections or a standard outline, drafting missing section content with the
// model when one is configured.
type RFPCreator struct {
	llm       llm_service.LLMService
	llmConfig map[string]interface{}
	logger    *slog.Logger
	input     RFPCreationInput
}

func NewRFPCreator(llm llm_service.LLMService, llmConfig map[string]interface{}, logger *slog.Logger, input RFPCreationInput) *RFPCreator {
	if input.Format == "" {
		input.Format = FormatText
	}
	return &RFPCreator{
		llm:       llm,
		llmConfig: llmConfig,
		logger:    logger,
		input:     input,
	}
}

func (a *RFPCreator) Name() string { return "rfp-creator" }

var standardRFPSections = []string{
	"Introduction",
	"Project Overview",
	"Scope of Work",
	"Proposal Requirements",
	"Evaluation Criteria",
	"Timeline and Deadline",
	"Terms and Conditions",
}

func (a *RFPCreator) Execute(ctx context.Context, run *agent.RunContext) (interface{}, error) {
	run.Progress(10, "Starting RFP creation...")

	if a.input.Title == "" || a.input.Organization == "" || a.input.Deadline == "" {
		return nil, fmt.Errorf("missing required fields: title, organization, and deadline are required")
	}

	run.Progress(20, "Validating input parameters...")
	run.Progress(30, "Generating RFP content...")

	var sections []RFPSection
	if len(a.input.Sections) > 0 {
		run.Progress(40, "Creating custom RFP with provided sections...")
		sections = a.input.Sections
	} else {
		run.Progress(40, "Creating standard RFP with default sections...")
		sections = a.standardSections(ctx)
	}

	run.Progress(60, "Validating RFP content...")

	if len(sections) == 0 {
		sections = []RFPSection{{
			Title:   "Untitled Section",
			Content: "Please provide detailed information for this section.",
		}}
	}
	for i := range sections {
		if strings.TrimSpace(sections[i].Content) == "" {
			sections[i].Content = a.draftSection(ctx, sections[i].Title)
		}
	}

	run.Progress(70, "Processing RFP format...")
	run.Progress(80, "Generating document content...")

	result := &RFPCreationResult{
		Content:        a.render(sections),
		Format:         a.input.Format,
		ProcessingTime: run.Elapsed().Milliseconds(),
		SectionsCount:  len(sections),
	}

	run.Progress(100, "RFP creation completed successfully")
	return result, nil
}

func (a *RFPCreator) standardSections(ctx context.Context) []RFPSection {
	sections := make([]RFPSection, len(standardRFPSections))
	for i, title := range standardRFPSections {
		sections[i] = RFPSection{
			Title:   title,
			Content: a.draftSection(ctx, title),
		}
	}
	return sections
}

// draftSection asks the model for the section body. Without a configured
// model, or on model failure, a placeholder keeps the document complete.
func (a *RFPCreator) draftSection(ctx context.Context, title string) string {
	placeholder := "Please provide detailed information for this section."
	if a.llm == nil {
		return placeholder
	}

	prompt := fmt.Sprintf(
		"Draft the %q section of a Request for Proposal titled %q issued by %s with a submission deadline of %s. "+
			"Keep it to two or three formal paragraphs.",
		title, a.input.Title, a.input.Organization, a.input.Deadline)

	cfg := withSystemPrompt(a.llmConfig, rfpSystemPrompt)
	content, err := a.llm.CallLLM(ctx, cfg, prompt)
	if err != nil {
		a.logger.Warn("RFP section drafting failed, using placeholder",
			slog.String("section", title),
			slog.String("error", err.Error()))
		return placeholder
	}
	if content = strings.TrimSpace(content); content == "" {
		return placeholder
	}
	return content
}

func (a *RFPCreator) render(sections []RFPSection) string {
	var b strings.Builder
	b.WriteString(a.input.Title)
	b.WriteString("\n\nOrganization: ")
	b.WriteString(a.input.Organization)
	b.WriteString("\nDeadline: ")
	b.WriteString(a.input.Deadline)
	b.WriteString("\n\n")
	for i, section := range sections {
		fmt.Fprintf(&b, "%d. %s\n%s\n\n", i+1, section.Title, section.Content)
	}
	return strings.TrimSpace(b.String())
}
