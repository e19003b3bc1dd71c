package extraction_service

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/ledongthuc/pdf"
)

// pdfDirectText pulls the embedded text layer page by page. Null pages and
// per-page extraction errors are absorbed: a partially digital PDF should
// still contribute whatever text it has before OCR is consulted.
func (p *Pipeline) pdfDirectText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to create PDF reader: %w", err)
	}

	totalPages := reader.NumPage()
	p.logger.Debug("Starting direct PDF text extraction", slog.Int("total_pages", totalPages))

	var buf bytes.Buffer
	for pageIndex := 1; pageIndex <= totalPages; pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			p.logger.Warn("Null page encountered", slog.Int("page_number", pageIndex))
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			p.logger.Warn("Failed to extract text from page",
				slog.Int("page_number", pageIndex),
				slog.String("error", err.Error()))
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}

	return buf.String(), nil
}
