package extraction_service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/serisow/docapture/services/language_service"
	"github.com/serisow/docapture/services/llm_service"
)

// Tier identifies which extraction strategy produced the text, in order of
// preference: direct text layer, rasterization + OCR, binary-to-model fallback.
type Tier string

const (
	TierDirect         Tier = "direct"
	TierOCR            Tier = "ocr"
	TierFallbackBinary Tier = "fallback-binary"
)

// ErrExtractionFailed is returned only when every applicable tier yielded
// empty output for the document.
var ErrExtractionFailed = errors.New("failed to extract any text from the document")

// Outcome is the result of one pipeline invocation.
type Outcome struct {
	Text          string  `json:"text"`
	SourceTier    Tier    `json:"sourceTier"`
	Language      string  `json:"language"`
	LanguageScore float64 `json:"languageScore"`
	CharCount     int     `json:"charCount"`
}

type Config struct {
	// DigitalTextMinLines is the "fully digital" heuristic: direct PDF text
	// spanning more than this many lines skips OCR entirely.
	DigitalTextMinLines int
	// Base64PrefixLen bounds how much of an opaque file is handed to the
	// model fallback.
	Base64PrefixLen int
	// TierTimeout is the wall-clock budget applied to each I/O tier; expiry
	// is treated as a tier failure.
	TierTimeout time.Duration
}

const (
	defaultDigitalTextMinLines = 3
	defaultBase64PrefixLen     = 4000
)

// Pipeline recovers text from uploaded documents through a layered fallback
// strategy. Each run owns its own buffers; the pipeline itself is stateless
// and safe for concurrent use.
type Pipeline struct {
	logger    *slog.Logger
	detector  *language_service.Detector
	ocr       OCREngine
	raster    Rasterizer
	llm       llm_service.LLMService
	llmConfig map[string]interface{}
	cfg       Config

	// directText is injectable so tests can exercise tier decisions without
	// crafting real PDF bytes.
	directText func(data []byte) (string, error)
}

func NewPipeline(logger *slog.Logger, detector *language_service.Detector, ocr OCREngine, raster Rasterizer, llm llm_service.LLMService, llmConfig map[string]interface{}, cfg Config) *Pipeline {
	if cfg.DigitalTextMinLines <= 0 {
		cfg.DigitalTextMinLines = defaultDigitalTextMinLines
	}
	if cfg.Base64PrefixLen <= 0 {
		cfg.Base64PrefixLen = defaultBase64PrefixLen
	}
	p := &Pipeline{
		logger:    logger,
		detector:  detector,
		ocr:       ocr,
		raster:    raster,
		llm:       llm,
		llmConfig: llmConfig,
		cfg:       cfg,
	}
	p.directText = p.pdfDirectText
	return p
}

// Extract resolves the document's text. It fails with ErrExtractionFailed
// only when all applicable tiers produced empty output; single-page OCR
// failures are absorbed and logged, never escalated.
func (p *Pipeline) Extract(ctx context.Context, data []byte, fileName, mimeType string) (*Outcome, error) {
	lang := p.detector.Detect(data)
	ext, declared := documentType(fileName, mimeType)

	p.logger.Debug("Starting text extraction",
		slog.String("file_name", fileName),
		slog.String("mime_type", declared),
		slog.String("language", lang.Language),
		slog.Int("size", len(data)))

	var (
		text string
		tier Tier
		err  error
	)
	switch {
	case isPDF(ext, declared):
		text, tier, err = p.extractPDF(ctx, data, lang)
	case isImage(ext, declared):
		text, tier, err = p.extractImage(ctx, data, lang)
	default:
		text, tier, err = p.extractBinaryFallback(ctx, data, lang)
	}
	if err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrExtractionFailed
	}

	p.logger.Info("Text extraction complete",
		slog.String("file_name", fileName),
		slog.String("source_tier", string(tier)),
		slog.Int("char_count", len(text)))

	return &Outcome{
		Text:          text,
		SourceTier:    tier,
		Language:      lang.Language,
		LanguageScore: lang.Score,
		CharCount:     len(text),
	}, nil
}

func (p *Pipeline) extractPDF(ctx context.Context, data []byte, lang language_service.Result) (string, Tier, error) {
	direct, err := p.directText(data)
	if err != nil {
		p.logger.Warn("Direct text extraction failed", slog.String("error", err.Error()))
		direct = ""
	}
	direct = strings.TrimSpace(direct)

	if p.isFullyDigital(direct) {
		p.logger.Debug("PDF judged fully digital, skipping OCR",
			slog.Int("char_count", len(direct)))
		return direct, TierDirect, nil
	}

	ocrText := p.ocrPDFPages(ctx, data, lang)
	switch {
	case ocrText != "" && direct != "":
		// Direct-text block always leads an incomplete OCR pass.
		return direct + "\n\n" + ocrText, TierOCR, nil
	case ocrText != "":
		return ocrText, TierOCR, nil
	case direct != "":
		return direct, TierDirect, nil
	default:
		return "", "", ErrExtractionFailed
	}
}

func (p *Pipeline) ocrPDFPages(ctx context.Context, data []byte, lang language_service.Result) string {
	tierCtx, cancel := p.tierContext(ctx)
	defer cancel()

	pages, err := p.raster.Rasterize(tierCtx, data)
	if err != nil {
		p.logger.Warn("PDF rasterization failed", slog.String("error", err.Error()))
		return ""
	}

	hint := language_service.TesseractLang(lang.Code)
	var parts []string
	for i, page := range pages {
		pageNum := i + 1
		text, err := p.ocr.Recognize(tierCtx, page, hint)
		if err != nil {
			// One bad page must not abort the document.
			p.logger.Warn("OCR failed for page, skipping",
				slog.Int("page_number", pageNum),
				slog.String("error", err.Error()))
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("=== Page %d ===\n%s", pageNum, text))
	}
	return strings.Join(parts, "\n\n")
}

func (p *Pipeline) extractImage(ctx context.Context, data []byte, lang language_service.Result) (string, Tier, error) {
	tierCtx, cancel := p.tierContext(ctx)
	defer cancel()

	text, err := p.ocr.Recognize(tierCtx, data, language_service.TesseractLang(lang.Code))
	if err != nil {
		p.logger.Error("Image OCR failed", slog.String("error", err.Error()))
		return "", "", ErrExtractionFailed
	}
	if strings.TrimSpace(text) == "" {
		return "", "", ErrExtractionFailed
	}
	return text, TierOCR, nil
}

// extractBinaryFallback asks the model to reconstruct text from a truncated
// base64 prefix of the raw file. This is a deliberately degraded path for
// opaque formats, not a parser.
func (p *Pipeline) extractBinaryFallback(ctx context.Context, data []byte, lang language_service.Result) (string, Tier, error) {
	if p.llm == nil {
		return "", "", fmt.Errorf("no language model configured for binary fallback: %w", ErrExtractionFailed)
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	if len(encoded) > p.cfg.Base64PrefixLen {
		encoded = encoded[:p.cfg.Base64PrefixLen]
	}

	prompt := fmt.Sprintf(
		"You are an intelligent document parsing agent specialized in %s language documents. "+
			"Extract EVERYTHING from this document, including all text, formatting, metadata, and structural elements.\n\n"+
			"Document binary (base64):\n%s...\n\n"+
			"Extract ALL content exactly as it appears, preserving all details and formatting.",
		lang.Language, encoded)

	tierCtx, cancel := p.tierContext(ctx)
	defer cancel()

	text, err := p.llm.CallLLM(tierCtx, p.llmConfig, prompt)
	if err != nil {
		p.logger.Error("Binary fallback extraction failed", slog.String("error", err.Error()))
		return "", "", fmt.Errorf("binary fallback failed: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", "", ErrExtractionFailed
	}
	return text, TierFallbackBinary, nil
}

// isFullyDigital judges whether direct text alone is good enough to skip OCR:
// non-empty and spanning more than DigitalTextMinLines lines.
func (p *Pipeline) isFullyDigital(text string) bool {
	if text == "" {
		return false
	}
	return strings.Count(text, "\n")+1 > p.cfg.DigitalTextMinLines
}

func (p *Pipeline) tierContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.TierTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.cfg.TierTimeout)
}

func documentType(fileName, mimeType string) (ext, declared string) {
	ext = strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	declared = strings.ToLower(mimeType)
	return ext, declared
}

func isPDF(ext, mimeType string) bool {
	return mimeType == "application/pdf" || ext == "pdf"
}

var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "bmp": true, "gif": true, "tiff": true,
}

func isImage(ext, mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/") || imageExtensions[ext]
}
