package translate

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	preamblePatterns = compileAll(
		`(?im)^\s*here is the english translation of your text, preserving markdown formatting:.*$`,
		`(?im)^\s*here is the english translation of your text:.*$`,
		`(?im)^\s*here is the translated text in english:.*$`,
		`(?im)^\s*here is the translated text with preserved markdown formatting:.*$`,
		`(?im)^\s*here is the english translation:.*$`,
		`(?im)^\s*english translation:.*$`,
		`(?im)^\s*the translated markdown is as follows:.*$`,
		`(?im)^\s*the translated markdown is:.*$`,
		// table explanations
		`(?im)^\s*this text is a table with two rows.*$`,
		`(?im)^\s*this table contains information about.*$`,
		`(?im)^\s*each row corresponds to a specific dish.*$`,
		`(?im)^\s*the instructions are provided in both english and spanish.*$`,
	)

	fenceLine = regexp.MustCompile("(?m)^```[a-zA-Z]*[ \t]*$")

	translatedTextLeak = regexp.MustCompile(`TRANSLATED TEXT:\s*`)
	rulesLeak          = regexp.MustCompile(`(?s)CRITICAL RULES:.*?(\n\n|\z)`)
	sourceLeak         = regexp.MustCompile(`(?s)\ATEXT TO TRANSLATE:.*?(\n\n|\z)`)
	extraBlankLines    = regexp.MustCompile(`\n{3,}`)
)

// junkMarkers identify hallucinated blocks unrelated to any manual
var junkMarkers = []string{
	"physics work",
	"chemistry report",
	"mathematics project",
	"tarefas pendentes",
	"completed tasks",
	"descrição da tarefa",
	"limpeza geral do escritório",
	"negociação de preços",
	"relatório mensal de vendas",
	"sistema de contabilidade",
}

var englishStopwords = []string{" the ", " and ", " to ", " of ", " in ", " for ", " with ", " on "}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// StripPreambleAndFences removes model chatter around a translation: known
// preamble lines, a code fence wrapping the whole response and any standalone
// fence lines left inside it.
func StripPreambleAndFences(text string) string {
	cleaned := text
	for _, re := range preamblePatterns {
		cleaned = re.ReplaceAllString(cleaned, "")
	}
	cleaned = strings.TrimLeftFunc(cleaned, unicode.IsSpace)

	if strings.HasPrefix(cleaned, "```") {
		inner := ""
		if i := strings.Index(cleaned, "\n"); i != -1 {
			inner = cleaned[i+1:]
		}
		if trimmed := strings.TrimRightFunc(inner, unicode.IsSpace); strings.HasSuffix(trimmed, "```") {
			inner = strings.TrimSuffix(trimmed, "```")
		}
		cleaned = strings.Trim(inner, "\n")
	}

	return fenceLine.ReplaceAllString(cleaned, "")
}

// cleanResponse applies every post-processing step to a raw engine response
func cleanResponse(raw string) string {
	cleaned := StripPreambleAndFences(strings.TrimSpace(raw))

	cleaned = translatedTextLeak.ReplaceAllString(cleaned, "")
	cleaned = rulesLeak.ReplaceAllString(cleaned, "$1")
	cleaned = sourceLeak.ReplaceAllString(cleaned, "$1")
	cleaned = extraBlankLines.ReplaceAllString(cleaned, "\n\n")

	return strings.TrimSpace(cleaned)
}

// IsJunk reports whether a paragraph matches a known hallucination marker
func IsJunk(para string) bool {
	lower := strings.ToLower(para)
	for _, m := range junkMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// LooksNonEnglish flags paragraphs with several non-ASCII letters, or long
// paragraphs with almost no English stop words.
func LooksNonEnglish(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	nonASCII := 0
	for _, r := range text {
		if r > unicode.MaxASCII && unicode.IsLetter(r) {
			nonASCII++
			if nonASCII >= 2 {
				return true
			}
		}
	}

	lower := strings.ToLower(text)
	hits := 0
	for _, w := range englishStopwords {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	return utf8.RuneCountInString(text) > 120 && hits <= 1
}
