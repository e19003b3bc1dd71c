package template_service

import (
	"log/slog"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

const (
	// UsableMatchConfidence is the policy threshold a match must clear before
	// its field list may drive extraction. Below it, a match is informational
	// only and never substitutes for caller-declared required fields.
	UsableMatchConfidence = 70.0

	// minMatchConfidence is the similarity floor below which Match reports no
	// candidate at all.
	minMatchConfidence = 40.0

	// fuzzyTokenThreshold is the Jaro-Winkler similarity at which a document
	// token counts as evidence for a template keyword.
	fuzzyTokenThreshold = 0.92
)

// Match is the outcome of matching extracted text against the corpus.
type Match struct {
	TemplateID string   `json:"templateId"`
	Fields     []string `json:"fields"`
	Confidence float64  `json:"confidence"`
}

type Matcher struct {
	store            *Store
	usableConfidence float64
	similarity       *metrics.JaroWinkler
	logger           *slog.Logger
}

// NewMatcher builds a matcher over the given corpus. A non-positive
// usableConfidence falls back to the default policy threshold.
func NewMatcher(store *Store, usableConfidence float64, logger *slog.Logger) *Matcher {
	if usableConfidence <= 0 {
		usableConfidence = UsableMatchConfidence
	}
	return &Matcher{
		store:            store,
		usableConfidence: usableConfidence,
		similarity:       metrics.NewJaroWinkler(),
		logger:           logger,
	}
}

// Match scores every template against the text and returns the best candidate
// above the similarity floor, or nil when nothing qualifies. The result is
// deterministic for a fixed corpus: ties keep the earlier template.
func (m *Matcher) Match(text string) *Match {
	normalized := strings.ToLower(text)
	tokens := tokenize(normalized)
	if len(tokens) == 0 {
		return nil
	}

	var best *Match
	for _, tpl := range m.store.Templates() {
		confidence := m.score(tpl, normalized, tokens)
		if confidence < minMatchConfidence {
			continue
		}
		if best == nil || confidence > best.Confidence {
			best = &Match{
				TemplateID: tpl.ID,
				Fields:     tpl.Fields,
				Confidence: confidence,
			}
		}
	}

	if best != nil {
		m.logger.Debug("Template matched",
			slog.String("template_id", best.TemplateID),
			slog.Float64("confidence", best.Confidence))
	}
	return best
}

// Usable reports whether the match clears the acceptance threshold.
func (m *Matcher) Usable(match *Match) bool {
	return match != nil && match.Confidence >= m.usableConfidence
}

// score weighs keyword evidence over field-name evidence: keywords describe
// what the document says, field names describe what we hope to pull out.
func (m *Matcher) score(tpl Template, normalized string, tokens []string) float64 {
	keywordRatio := m.evidenceRatio(tpl.Keywords, normalized, tokens)
	fieldRatio := m.evidenceRatio(fieldPhrases(tpl.Fields), normalized, tokens)
	return 100 * (0.65*keywordRatio + 0.35*fieldRatio)
}

func (m *Matcher) evidenceRatio(phrases []string, normalized string, tokens []string) float64 {
	if len(phrases) == 0 {
		return 0
	}
	hits := 0
	for _, phrase := range phrases {
		if m.phrasePresent(phrase, normalized, tokens) {
			hits++
		}
	}
	return float64(hits) / float64(len(phrases))
}

func (m *Matcher) phrasePresent(phrase, normalized string, tokens []string) bool {
	phrase = strings.ToLower(phrase)
	if strings.Contains(normalized, phrase) {
		return true
	}
	// Multi-word phrases must match verbatim; single words may match fuzzily.
	if strings.ContainsRune(phrase, ' ') {
		return false
	}
	for _, token := range tokens {
		if strutil.Similarity(phrase, token, m.similarity) >= fuzzyTokenThreshold {
			return true
		}
	}
	return false
}

func fieldPhrases(fields []string) []string {
	phrases := make([]string, len(fields))
	for i, field := range fields {
		phrases[i] = strings.ReplaceAll(field, "_", " ")
	}
	return phrases
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		default:
			return r < 0x80
		}
	})
}
