package extraction_service

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// OCREngine recognizes text in a single raster image. The language hint is a
// tesseract traineddata name; implementations may ignore it.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte, language string) (string, error)
}

// TesseractEngine backs OCREngine with the gosseract client. A fresh client
// per call keeps the engine safe for concurrent runs.
type TesseractEngine struct {
	clientFactory func() *gosseract.Client
}

func NewTesseractEngine() *TesseractEngine {
	return &TesseractEngine{clientFactory: gosseract.NewClient}
}

func (e *TesseractEngine) Recognize(ctx context.Context, image []byte, language string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	client := e.clientFactory()
	defer client.Close()

	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	if language != "" {
		if err := client.SetLanguage(language); err != nil {
			return "", fmt.Errorf("set language %q: %w", language, err)
		}
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}
