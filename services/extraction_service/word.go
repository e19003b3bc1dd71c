package extraction_service

import (
	"bytes"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv/v2"
)

var wordMimeTypes = map[string]string{
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// WordExtractor converts Word documents to plain text. It backs the
// synchronous /extract-word endpoint and runs no agent lifecycle.
type WordExtractor struct {
	logger *slog.Logger
}

func NewWordExtractor(logger *slog.Logger) *WordExtractor {
	return &WordExtractor{logger: logger}
}

func (e *WordExtractor) Extract(data []byte, fileName string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	mimeType, ok := wordMimeTypes[ext]
	if !ok {
		return "", fmt.Errorf("unsupported file type %q: expected .doc or .docx", ext)
	}

	e.logger.Debug("Starting Word document text extraction",
		slog.String("file_name", fileName),
		slog.Int("data_size", len(data)))

	result, err := docconv.Convert(bytes.NewReader(data), mimeType, false)
	if err != nil {
		e.logger.Error("Failed to convert Word document",
			slog.String("error", err.Error()),
			slog.Int("data_size", len(data)))
		return "", fmt.Errorf("failed to convert Word document: %w", err)
	}

	if len(result.Body) == 0 {
		return "", fmt.Errorf("no text content extracted from Word document")
	}

	e.logger.Info("Successfully extracted text from Word document",
		slog.Int("text_length", len(result.Body)))

	return result.Body, nil
}
