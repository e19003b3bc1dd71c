package extraction_service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/serisow/docapture/services/language_service"
	"github.com/serisow/docapture/services/llm_service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type spyOCR struct {
	calls  int
	result func(page []byte) (string, error)
}

func (s *spyOCR) Recognize(ctx context.Context, image []byte, language string) (string, error) {
	s.calls++
	if s.result != nil {
		return s.result(image)
	}
	return "", errors.New("no ocr result configured")
}

type fakeRasterizer struct {
	pages [][]byte
	err   error
}

func (f *fakeRasterizer) Rasterize(ctx context.Context, pdfData []byte) ([][]byte, error) {
	return f.pages, f.err
}

func newTestPipeline(ocr *spyOCR, raster Rasterizer, llm llm_service.LLMService, directText func([]byte) (string, error)) *Pipeline {
	p := NewPipeline(testLogger(), language_service.NewDetector(testLogger()), ocr, raster, llm, nil, Config{})
	if directText != nil {
		p.directText = directText
	}
	return p
}

// A digital PDF with a multi-line text layer must be served from the direct
// tier without a single OCR call.
func TestDigitalPDFSkipsOCR(t *testing.T) {
	digitalText := "Invoice #123\nVendor: Acme\nTotal: $50\nDue: 2025-07-01\nThank you"
	ocr := &spyOCR{}
	p := newTestPipeline(ocr, &fakeRasterizer{}, nil, func([]byte) (string, error) {
		return digitalText, nil
	})

	outcome, err := p.Extract(context.Background(), []byte("%PDF-fake"), "invoice.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.SourceTier != TierDirect {
		t.Errorf("got tier %s, want %s", outcome.SourceTier, TierDirect)
	}
	if outcome.Text != digitalText {
		t.Errorf("direct text altered: %q", outcome.Text)
	}
	if ocr.calls != 0 {
		t.Errorf("OCR invoked %d times for a fully digital PDF", ocr.calls)
	}
	if outcome.CharCount != len(digitalText) {
		t.Errorf("got charCount %d, want %d", outcome.CharCount, len(digitalText))
	}
}

// A scanned PDF with no text layer goes through rasterization and per-page
// OCR with page markers.
func TestScannedPDFUsesOCRWithPageMarkers(t *testing.T) {
	pages := [][]byte{[]byte("img1"), []byte("img2")}
	ocr := &spyOCR{result: func(page []byte) (string, error) {
		return "text from " + string(page), nil
	}}
	p := newTestPipeline(ocr, &fakeRasterizer{pages: pages}, nil, func([]byte) (string, error) {
		return "", nil
	})

	outcome, err := p.Extract(context.Background(), []byte("%PDF-fake"), "scan.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.SourceTier != TierOCR {
		t.Errorf("got tier %s, want %s", outcome.SourceTier, TierOCR)
	}
	if ocr.calls != 2 {
		t.Errorf("got %d OCR calls, want 2", ocr.calls)
	}
	for i := 1; i <= 2; i++ {
		marker := fmt.Sprintf("=== Page %d ===", i)
		if !strings.Contains(outcome.Text, marker) {
			t.Errorf("missing page marker %q in %q", marker, outcome.Text)
		}
	}
}

// A short direct-text block leads the OCR output when the text layer was
// incomplete.
func TestIncompleteTextLayerPrependsDirectBlock(t *testing.T) {
	ocr := &spyOCR{result: func([]byte) (string, error) { return "ocr body", nil }}
	p := newTestPipeline(ocr, &fakeRasterizer{pages: [][]byte{[]byte("img")}}, nil, func([]byte) (string, error) {
		return "Header only", nil
	})

	outcome, err := p.Extract(context.Background(), []byte("%PDF-fake"), "partial.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.SourceTier != TierOCR {
		t.Errorf("got tier %s, want %s", outcome.SourceTier, TierOCR)
	}
	if !strings.HasPrefix(outcome.Text, "Header only\n\n") {
		t.Errorf("direct block not prepended: %q", outcome.Text)
	}
}

func TestSinglePageOCRFailureIsAbsorbed(t *testing.T) {
	ocr := &spyOCR{result: func(page []byte) (string, error) {
		if string(page) == "bad" {
			return "", errors.New("tesseract choked")
		}
		return "good page", nil
	}}
	p := newTestPipeline(ocr, &fakeRasterizer{pages: [][]byte{[]byte("bad"), []byte("ok")}}, nil, func([]byte) (string, error) {
		return "", nil
	})

	outcome, err := p.Extract(context.Background(), []byte("%PDF-fake"), "flaky.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("one bad page aborted the document: %v", err)
	}
	if !strings.Contains(outcome.Text, "=== Page 2 ===") {
		t.Errorf("surviving page missing from output: %q", outcome.Text)
	}
	if strings.Contains(outcome.Text, "=== Page 1 ===") {
		t.Errorf("failed page leaked into output: %q", outcome.Text)
	}
}

func TestImageUsesSingleOCRPass(t *testing.T) {
	ocr := &spyOCR{result: func([]byte) (string, error) { return "receipt text", nil }}
	p := newTestPipeline(ocr, &fakeRasterizer{}, nil, nil)

	outcome, err := p.Extract(context.Background(), []byte("png-bytes"), "receipt.png", "image/png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.SourceTier != TierOCR {
		t.Errorf("got tier %s, want %s", outcome.SourceTier, TierOCR)
	}
	if ocr.calls != 1 {
		t.Errorf("got %d OCR calls, want 1", ocr.calls)
	}
}

// Word documents never go through OCR or the direct tier: they hit the
// binary-to-model fallback.
func TestDocxTakesBinaryFallback(t *testing.T) {
	ocr := &spyOCR{}
	mock := &llm_service.MockLLMService{
		CallLLMFunc: func(ctx context.Context, config map[string]interface{}, prompt string) (string, error) {
			if !strings.Contains(prompt, "base64") {
				t.Errorf("fallback prompt missing base64 block: %q", prompt)
			}
			return "reconstructed document text", nil
		},
	}
	p := newTestPipeline(ocr, &fakeRasterizer{}, mock, nil)

	outcome, err := p.Extract(context.Background(), []byte("PK\x03\x04docx-bytes"), "contract.docx",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.SourceTier != TierFallbackBinary {
		t.Errorf("got tier %s, want %s", outcome.SourceTier, TierFallbackBinary)
	}
	if ocr.calls != 0 {
		t.Errorf("OCR invoked %d times for a Word document", ocr.calls)
	}
	if outcome.Text != "reconstructed document text" {
		t.Errorf("unexpected text %q", outcome.Text)
	}
}

func TestBinaryFallbackTruncatesBase64Prefix(t *testing.T) {
	var seenPrompt string
	mock := &llm_service.MockLLMService{
		CallLLMFunc: func(ctx context.Context, config map[string]interface{}, prompt string) (string, error) {
			seenPrompt = prompt
			return "ok", nil
		},
	}
	p := newTestPipeline(&spyOCR{}, &fakeRasterizer{}, mock, nil)

	big := make([]byte, 100_000)
	if _, err := p.Extract(context.Background(), big, "blob.bin", "application/octet-stream"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seenPrompt) > defaultBase64PrefixLen+500 {
		t.Errorf("prompt length %d suggests the base64 payload was not truncated", len(seenPrompt))
	}
}

func TestAllTiersEmptyYieldsExtractionFailed(t *testing.T) {
	ocr := &spyOCR{result: func([]byte) (string, error) { return "   ", nil }}
	p := newTestPipeline(ocr, &fakeRasterizer{pages: [][]byte{[]byte("img")}}, nil, func([]byte) (string, error) {
		return "", nil
	})

	_, err := p.Extract(context.Background(), []byte("%PDF-fake"), "empty.pdf", "application/pdf")
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("got %v, want ErrExtractionFailed", err)
	}
}

func TestIsFullyDigitalThreshold(t *testing.T) {
	p := newTestPipeline(&spyOCR{}, &fakeRasterizer{}, nil, nil)

	cases := []struct {
		name string
		text string
		want bool
	}{
		{"empty", "", false},
		{"single line", "hello world", false},
		{"three lines", "a\nb\nc", false},
		{"four lines", "a\nb\nc\nd", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.isFullyDigital(tc.text); got != tc.want {
				t.Errorf("isFullyDigital(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}
