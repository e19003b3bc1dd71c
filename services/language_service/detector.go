package language_service

import (
	"log/slog"
	"strings"

	"github.com/abadojack/whatlanggo"
)

// Result is a best-guess language tag with a 0-1 confidence score. Code is
// the ISO 639-3 tag used as the OCR hint; Language is the human-readable name
// used in model prompts.
type Result struct {
	Language string  `json:"language"`
	Code     string  `json:"code"`
	Score    float64 `json:"score"`
}

var unknownResult = Result{Language: "unknown", Code: "", Score: 0}

type Detector struct {
	logger *slog.Logger
}

func NewDetector(logger *slog.Logger) *Detector {
	return &Detector{logger: logger}
}

// Detect inspects raw document bytes and returns the most likely language.
// It never fails: binary or undetectable input yields {"unknown", 0}. A low
// score only affects prompt wording downstream, never blocks extraction.
func (d *Detector) Detect(data []byte) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Warn("Language detection recovered", slog.Any("panic", rec))
			result = unknownResult
		}
	}()

	text := strings.TrimSpace(strings.ToValidUTF8(string(data), ""))
	if text == "" {
		return unknownResult
	}

	info := whatlanggo.Detect(text)
	name := info.Lang.String()
	if name == "" || info.Confidence <= 0 {
		return unknownResult
	}

	return Result{
		Language: name,
		Code:     whatlanggo.LangToString(info.Lang),
		Score:    info.Confidence,
	}
}

// tesseractLangs holds the detection codes that map directly onto installed
// tesseract traineddata names. Anything else falls back to English.
var tesseractLangs = map[string]bool{
	"eng": true, "fra": true, "deu": true, "spa": true, "por": true,
	"ita": true, "nld": true, "rus": true, "ukr": true, "pol": true,
	"tur": true, "swe": true, "dan": true, "fin": true, "ces": true,
	"ron": true, "jpn": true, "kor": true, "ara": true, "hin": true,
}

// TesseractLang converts a detection code into an OCR language hint.
func TesseractLang(code string) string {
	if tesseractLangs[code] {
		return code
	}
	return "eng"
}
