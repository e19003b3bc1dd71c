package agents

import (
	"context"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/serisow/docapture/agent"
	"github.com/serisow/docapture/services/extraction_service"
	"github.com/serisow/docapture/services/llm_service"
)

const summarizerSystemPrompt = "You are an advanced document summarizer. You can understand complex " +
	"documents and create concise, accurate summaries. Focus on the most important information and " +
	"maintain the document's key meaning."

const (
	FormatHTML     = "html"
	FormatText     = "text"
	FormatMarkdown = "markdown"
)

// SummarizationResult is the outcome of one summarization run. KeyPoints is
// populated only for the html format, from the summary's list items.
type SummarizationResult struct {
	Summary        string   `json:"summary"`
	Format         string   `json:"format"`
	ProcessingTime int64    `json:"processingTime"`
	WordCount      int      `json:"wordCount"`
	KeyPoints      []string `json:"keyPoints,omitempty"`
}

// Summarizer condenses an uploaded document into a summary in the requested
// output format.
type Summarizer struct {
	pipeline  *extraction_service.Pipeline
	llm       llm_service.LLMService
	llmConfig map[string]interface{}
	logger    *slog.Logger

	fileData []byte
	fileName string
	mimeType string
	prompt   string
	format   string
}

func NewSummarizer(
	pipeline *extraction_service.Pipeline,
	llm llm_service.LLMService,
	llmConfig map[string]interface{},
	logger *slog.Logger,
	fileData []byte,
	fileName, mimeType, prompt, format string,
) *Summarizer {
	if format == "" {
		format = FormatHTML
	}
	return &Summarizer{
		pipeline:  pipeline,
		llm:       llm,
		llmConfig: llmConfig,
		logger:    logger,
		fileData:  fileData,
		fileName:  fileName,
		mimeType:  mimeType,
		prompt:    prompt,
		format:    format,
	}
}

func (a *Summarizer) Name() string { return "document-summarizer" }

func (a *Summarizer) Execute(ctx context.Context, run *agent.RunContext) (interface{}, error) {
	run.Progress(10, "Starting document summarization...")

	run.Progress(20, "Extracting document text...")
	outcome, err := a.pipeline.Extract(ctx, a.fileData, a.fileName, a.mimeType)
	if err != nil {
		return nil, err
	}

	run.Progress(40, "Analyzing document content...")

	summarizationPrompt := a.buildPrompt(outcome.Text)

	run.Progress(60, "Generating summary...")

	cfg := withSystemPrompt(a.llmConfig, summarizerSystemPrompt)
	summary, err := a.llm.CallLLM(ctx, cfg, summarizationPrompt)
	if err != nil {
		return nil, err
	}
	summary = strings.TrimSpace(summary)

	run.Progress(90, "Processing summary...")

	result := &SummarizationResult{
		Summary:        summary,
		Format:         a.format,
		ProcessingTime: run.Elapsed().Milliseconds(),
		WordCount:      countWords(summary),
	}
	if a.format == FormatHTML {
		result.KeyPoints = extractKeyPoints(summary, a.logger)
	}

	run.Progress(100, "Summarization completed successfully")
	return result, nil
}

func (a *Summarizer) buildPrompt(text string) string {
	base := "Provide a comprehensive summary of the following document. Include key points, main ideas, and important details."
	if strings.TrimSpace(a.prompt) != "" {
		base = "Summarize the following document focusing on: " + a.prompt + "."
	}

	var formatInstruction string
	switch a.format {
	case FormatText:
		formatInstruction = "Respond in plain text with no markup."
	case FormatMarkdown:
		formatInstruction = "Format the summary as Markdown with headings and bullet lists."
	default:
		formatInstruction = "Format the summary as clean HTML using <h3> headings and <ul><li> items for key points."
	}

	return base + " " + formatInstruction + "\n\nDocument: " + text
}

// extractKeyPoints pulls the text of every <li> item out of an HTML summary.
func extractKeyPoints(htmlSummary string, logger *slog.Logger) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlSummary))
	if err != nil {
		logger.Warn("Failed to parse summary HTML for key points", slog.String("error", err.Error()))
		return nil
	}

	var keyPoints []string
	doc.Find("li").Each(func(_ int, sel *goquery.Selection) {
		if point := strings.TrimSpace(sel.Text()); point != "" {
			keyPoints = append(keyPoints, point)
		}
	})
	return keyPoints
}

func countWords(text string) int {
	stripped := stripTags(text)
	count := 0
	for _, word := range strings.Fields(stripped) {
		if word != "" {
			count++
		}
	}
	return count
}

func stripTags(text string) string {
	var b strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
