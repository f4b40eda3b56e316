// Package language detects language sections in multilingual manuals and
// chooses the page range worth extracting.
package language

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/spherical/manual-processor/internal/domain"
)

// DefaultMinTextLength is the shortest cleaned sample, in runes, that gets classified.
const DefaultMinTextLength = 20

// Noise that skews n-gram detection on technical pages.
var detectionNoise = []*regexp.Regexp{
	regexp.MustCompile(`(?i)https?://\S+|www\.\S+`),
	regexp.MustCompile(`\S+@\S+`),
	regexp.MustCompile(`\b\d+[x×]\d+\b`),
	regexp.MustCompile(`\b\d+°\s*[CF]\b`),
	regexp.MustCompile(`\b\d+\s*[VWAh]\b`),
	regexp.MustCompile(`\b\d{4,}\b`),
}

// CleanForDetection strips URLs, e-mail addresses, dimensions, ratings and
// long digit runs so that only prose is left for classification.
func CleanForDetection(text string) string {
	for _, re := range detectionNoise {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// WhatlangClassifier identifies languages with trigram statistics.
type WhatlangClassifier struct {
	minTextLength int
}

// NewWhatlangClassifier creates a classifier that ignores samples shorter than minTextLength runes
func NewWhatlangClassifier(minTextLength int) *WhatlangClassifier {
	if minTextLength <= 0 {
		minTextLength = DefaultMinTextLength
	}
	return &WhatlangClassifier{minTextLength: minTextLength}
}

// Identify returns an ISO 639-1 code or domain.LanguageUnknown
func (c *WhatlangClassifier) Identify(text string) string {
	cleaned := CleanForDetection(text)
	if utf8.RuneCountInString(cleaned) < c.minTextLength {
		return domain.LanguageUnknown
	}

	info := whatlanggo.Detect(cleaned)
	if info.Confidence <= 0 {
		return domain.LanguageUnknown
	}

	return NormalizeCode(info.Lang.Iso6391())
}

// NormalizeCode lower-cases a language code and folds Norwegian variants.
// Empty input maps to domain.LanguageUnknown.
func NormalizeCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	switch code {
	case "":
		return domain.LanguageUnknown
	case "nb", "nn":
		return "no"
	case "english":
		return domain.LanguageEnglish
	}
	return code
}

// IsEnglish reports whether a code or name denotes English
func IsEnglish(code string) bool {
	return NormalizeCode(code) == domain.LanguageEnglish
}

// DisplayName returns the English name of a language code, e.g. "de" -> "German"
func DisplayName(code string) string {
	code = NormalizeCode(code)
	if code == domain.LanguageUnknown {
		return "Unknown"
	}

	tag, err := language.Parse(code)
	if err != nil {
		return strings.ToUpper(code)
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return strings.ToUpper(code)
}
