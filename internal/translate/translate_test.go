package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/spherical/manual-processor/internal/domain"
	"github.com/spherical/manual-processor/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedEngine answers prompts with a function and records them
type scriptedEngine struct {
	mu      sync.Mutex
	prompts []string
	answer  func(call int, prompt string) (string, error)
}

func (e *scriptedEngine) Generate(ctx context.Context, prompt string, image []byte) (string, error) {
	e.mu.Lock()
	e.prompts = append(e.prompts, prompt)
	call := len(e.prompts)
	e.mu.Unlock()
	return e.answer(call, prompt)
}

// upperEngine "translates" by upper-casing the text after the instructions
func upperEngine() *scriptedEngine {
	return &scriptedEngine{answer: func(_ int, prompt string) (string, error) {
		return strings.ToUpper(textOf(prompt)), nil
	}}
}

func textOf(prompt string) string {
	_, text, _ := strings.Cut(prompt, instructions+"\n\n")
	return text
}

type fixedClassifier string

func (c fixedClassifier) Identify(string) string { return string(c) }

func newTranslator(engine domain.InferenceEngine, chunkSize int) *Translator {
	return New(engine, fixedClassifier("DE"), Config{ChunkSize: chunkSize, Retries: 1}, observability.Nop())
}

func TestSplitChunks(t *testing.T) {
	para := strings.Repeat("a", 30)
	text := strings.Join([]string{para, para, para, para}, "\n\n")

	chunks := SplitChunks(text, 70)
	require.Len(t, chunks, 2)
	assert.Equal(t, para+"\n\n"+para, chunks[0])
	assert.Equal(t, text, strings.Join(chunks, "\n\n"))

	assert.Equal(t, []string{"short"}, SplitChunks("short", 4000))
}

func TestSplitChunksKeepsFencesAndTables(t *testing.T) {
	fence := "```\ncode line one\n\ncode line two\n```"
	table := "| a | b |\n|---|---|\n| 1 | 2 |\n\n| 3 | 4 |"
	intro := strings.Repeat("x", 20)
	text := strings.Join([]string{intro, fence, intro, table, intro}, "\n\n")

	chunks := SplitChunks(text, 25)
	assert.Contains(t, chunks, fence)
	assert.Contains(t, chunks, table)
	assert.Equal(t, text, strings.Join(chunks, "\n\n"))
}

func TestSplitChunksOversizedBlock(t *testing.T) {
	big := strings.Repeat("b", 100)
	chunks := SplitChunks("tiny\n\n"+big+"\n\ntiny", 20)
	assert.Equal(t, []string{"tiny", big, "tiny"}, chunks)
}

func TestStripPreambleAndFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "preamble line",
			in:   "Here is the English translation of your text:\n\n# Safety\n\nKeep away.",
			want: "# Safety\n\nKeep away.",
		},
		{
			name: "whole response fenced",
			in:   "```markdown\n# Safety\n\nKeep away.\n```",
			want: "# Safety\n\nKeep away.",
		},
		{
			name: "stray fence line",
			in:   "# Safety\n```makrdown\nKeep away.",
			want: "# Safety\n\nKeep away.",
		},
		{
			name: "table explanation",
			in:   "| a |\n|---|\nThis table contains information about the cycles.",
			want: "| a |\n|---|\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripPreambleAndFences(tt.in))
		})
	}
}

func TestCleanResponseRemovesPromptLeaks(t *testing.T) {
	raw := "TEXT TO TRANSLATE: Sicherheit\n\nTRANSLATED TEXT: Safety first.\n\nCRITICAL RULES: keep markdown\nno commentary\n\nEnd."
	assert.Equal(t, "Safety first.\n\nEnd.", cleanResponse(raw))
}

func TestLooksNonEnglish(t *testing.T) {
	assert.True(t, LooksNonEnglish("Gerät überhitzt"))
	assert.False(t, LooksNonEnglish("Café opens at nine"))
	assert.False(t, LooksNonEnglish("Press the start button and wait for the beep."))
	assert.False(t, LooksNonEnglish("   "))

	longNoStopwords := strings.Repeat("Lavare sempre il filtro dopo ogni ciclo ", 4)
	assert.True(t, LooksNonEnglish(longNoStopwords))
}

func TestIsJunk(t *testing.T) {
	assert.True(t, IsJunk("## Completed Tasks\n- review"))
	assert.False(t, IsJunk("Clean the filter monthly."))
}

func TestTranslate(t *testing.T) {
	engine := upperEngine()
	tr := newTranslator(engine, 4000)

	res, err := tr.Translate(context.Background(), "# Sicherheit\n\nNicht berühren.", "de")
	require.NoError(t, err)

	assert.Equal(t, "# SICHERHEIT\n\nNICHT BERÜHREN.", res.Text)
	assert.Equal(t, 1, res.Chunks)
	assert.Empty(t, res.FailedChunks)
	require.Len(t, engine.prompts, 1)
	assert.True(t, strings.HasPrefix(engine.prompts[0], "Translate this text from German to English. Translate ALL content"))
}

func TestTranslateUnknownSourceOmitsLanguage(t *testing.T) {
	engine := upperEngine()
	_, err := newTranslator(engine, 4000).Translate(context.Background(), "texte", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(engine.prompts[0], "Translate this text to English. "))
}

func TestTranslateChunksInOrder(t *testing.T) {
	engine := upperEngine()
	para := strings.Repeat("z", 40)
	text := strings.Join([]string{para + "1", para + "2", para + "3"}, "\n\n")

	res, err := newTranslator(engine, 50).Translate(context.Background(), text, "de")
	require.NoError(t, err)

	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, strings.ToUpper(text), res.Text)
}

func TestTranslateRetriesOnceThenPassesThrough(t *testing.T) {
	para := strings.Repeat("y", 40)
	text := para + "1\n\n" + para + "2"

	engine := &scriptedEngine{answer: func(call int, prompt string) (string, error) {
		if strings.HasSuffix(prompt, "1") {
			return "", errors.New("model unavailable")
		}
		return "translated", nil
	}}

	res, err := newTranslator(engine, 50).Translate(context.Background(), text, "fr")
	require.NoError(t, err)

	assert.Equal(t, []int{1}, res.FailedChunks)
	assert.Equal(t, para+"1\n\ntranslated", res.Text)
	assert.Len(t, engine.prompts, 3)
}

func TestTranslateRecoversOnRetry(t *testing.T) {
	engine := &scriptedEngine{answer: func(call int, _ string) (string, error) {
		if call == 1 {
			return "", domain.TimeoutError("inference call exceeded 3m0s", context.DeadlineExceeded)
		}
		return "```\nok\n```", nil
	}}

	res, err := newTranslator(engine, 4000).Translate(context.Background(), "bitte", "de")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Empty(t, res.FailedChunks)
}

func TestTranslateEmptyResponseCountsAsFailure(t *testing.T) {
	engine := &scriptedEngine{answer: func(int, string) (string, error) {
		return "Here is the English translation:\n", nil
	}}

	res, err := newTranslator(engine, 4000).Translate(context.Background(), "bitte", "de")
	require.NoError(t, err)
	assert.Equal(t, "bitte", res.Text)
	assert.Equal(t, []int{1}, res.FailedChunks)
}

func TestTranslateStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	engine := &scriptedEngine{answer: func(int, string) (string, error) {
		cancel()
		return "", ctx.Err()
	}}

	_, err := newTranslator(engine, 4000).Translate(ctx, "bitte", "de")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, engine.prompts, 1)
}

func TestTranslateBlankText(t *testing.T) {
	engine := upperEngine()
	res, err := newTranslator(engine, 4000).Translate(context.Background(), "  \n", "de")
	require.NoError(t, err)
	assert.Equal(t, "  \n", res.Text)
	assert.Empty(t, engine.prompts)
}

func TestCleanPass(t *testing.T) {
	engine := &scriptedEngine{answer: func(call int, prompt string) (string, error) {
		return fmt.Sprintf("retranslated %d", call), nil
	}}

	text := strings.Join([]string{
		"```markdown",
		"# Cleaning",
		"",
		"Wipe the door with a soft cloth and dry it.",
		"",
		"Physics work: chapter 3 homework",
		"",
		"Nettoyez la porte régulièrement.",
		"```",
	}, "\n")

	res, err := newTranslator(engine, 4000).CleanPass(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, "# Cleaning\n\nWipe the door with a soft cloth and dry it.\n\nretranslated 1", res.Text)
	assert.Equal(t, 1, res.Chunks)
	require.Len(t, engine.prompts, 1)
	assert.True(t, strings.HasPrefix(engine.prompts[0], "Translate this text to English."))
}

func TestDetectLanguage(t *testing.T) {
	tr := New(upperEngine(), fixedClassifier("NB"), Config{}, observability.Nop())
	assert.Equal(t, "no", tr.DetectLanguage("Vask filteret"))

	tr = New(upperEngine(), fixedClassifier(""), Config{}, observability.Nop())
	assert.Equal(t, domain.LanguageUnknown, tr.DetectLanguage("?"))
}
