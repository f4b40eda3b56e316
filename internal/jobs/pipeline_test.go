package jobs

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spherical/manual-processor/internal/config"
	"github.com/spherical/manual-processor/internal/domain"
	"github.com/spherical/manual-processor/internal/language"
	"github.com/spherical/manual-processor/internal/observability"
	"github.com/spherical/manual-processor/internal/ocr"
	"github.com/spherical/manual-processor/internal/pdf"
	"github.com/spherical/manual-processor/internal/testutil"
	"github.com/spherical/manual-processor/internal/translate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pageLine = regexp.MustCompile(`^\[(OK|WARN)\] Page \d+/\d+ `)

// langSampler returns "<code>: ..." for each page, per a fixed layout
type langSampler []string

func (s langSampler) SampleText(ctx context.Context, pdfPath string, pageIndex int) string {
	if pageIndex >= len(s) || s[pageIndex] == "" {
		return ""
	}
	return s[pageIndex] + ": sampled text"
}

// prefixClassifier reads the language code before the first colon
type prefixClassifier struct{}

func (prefixClassifier) Identify(text string) string {
	code, _, ok := strings.Cut(text, ":")
	if !ok {
		return domain.LanguageUnknown
	}
	return code
}

// pageRasterizer renders blank pages and remembers the last page rendered
type pageRasterizer struct {
	last atomic.Int64
}

func (r *pageRasterizer) Render(ctx context.Context, pdfPath string, pageIndex int, scale float64) (image.Image, error) {
	r.last.Store(int64(pageIndex))
	return image.NewRGBA(image.Rect(0, 0, 200, 300)), nil
}

// visionEngine answers with a per-page text built from format
type visionEngine struct {
	raster *pageRasterizer
	format string
	calls  atomic.Int64
	hook   func(call int)
}

func (e *visionEngine) Generate(ctx context.Context, prompt string, img []byte) (string, error) {
	call := int(e.calls.Add(1))
	if e.hook != nil {
		e.hook(call)
	}
	return fmt.Sprintf(e.format, e.raster.last.Load()+1), nil
}

// textEngine translates "Seite N Inhalt" into "Page N content"
type textEngine struct {
	mu    sync.Mutex
	texts []string
}

func (e *textEngine) Generate(ctx context.Context, prompt string, img []byte) (string, error) {
	text := prompt[strings.LastIndex(prompt, "\n\n")+2:]
	e.mu.Lock()
	e.texts = append(e.texts, text)
	e.mu.Unlock()
	return strings.NewReplacer("Seite", "Page", "Inhalt", "content").Replace(text), nil
}

func (e *textEngine) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.texts)
}

type harness struct {
	mgr    *Manager
	raster *pageRasterizer
	vision *visionEngine
	text   *textEngine
	dir    string
}

func newHarness(t *testing.T, layout []string, visionFormat string, opts ...Option) *harness {
	t.Helper()
	logger := observability.Nop()

	raster := &pageRasterizer{}
	vision := &visionEngine{raster: raster, format: visionFormat}
	text := &textEngine{}

	validator := pdf.NewValidator(0)
	detector := language.NewDetector(langSampler(layout), prefixClassifier{}, validator,
		language.DefaultPolicy(config.DefaultRanking()), logger)
	extractor, err := ocr.NewExtractor(raster, vision, ocr.Config{RenderScale: 1, ModelSize: 1000}, logger)
	require.NoError(t, err)
	translator := translate.New(text, prefixClassifier{}, translate.Config{ChunkSize: 4000, Retries: 1}, logger)

	dir := t.TempDir()
	mgr := NewManager(Config{WorkDir: dir, Retention: time.Hour}, &Pipeline{
		Detector:   detector,
		Extractor:  extractor,
		Translator: translator,
		CleanPass:  true,
	}, validator, logger, opts...)
	t.Cleanup(func() { mgr.Close() })

	return &harness{mgr: mgr, raster: raster, vision: vision, text: text, dir: dir}
}

func (h *harness) submit(t *testing.T, name string, pages int) string {
	t.Helper()
	token, err := h.mgr.Submit(context.Background(), name, bytes.NewReader(testutil.BuildPDF(make([]string, pages))))
	require.NoError(t, err)
	return token
}

func waitDone(t *testing.T, mgr *Manager, token string) Snapshot {
	t.Helper()
	done, err := mgr.Done(token)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("job did not finish")
	}

	snap, err := mgr.Poll(token)
	require.NoError(t, err)
	return snap
}

func pageLines(logs []string) int {
	n := 0
	for _, l := range logs {
		if pageLine.MatchString(l) {
			n++
		}
	}
	return n
}

func repeat(code string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = code
	}
	return out
}

func TestEnglishManualEndToEnd(t *testing.T) {
	h := newHarness(t, repeat("en", 10), "English page %d")
	token := h.submit(t, "Oven Manual.pdf", 10)

	snap := waitDone(t, h.mgr, token)
	require.Equal(t, StatusComplete, snap.Status, "%v", snap.Logs)
	assert.Equal(t, StageComplete, snap.Stage)
	assert.Equal(t, "en", snap.DetectedLanguage)
	require.NotNil(t, snap.Translated)
	assert.False(t, *snap.Translated)
	assert.Equal(t, "Oven_Manual_reference.md", snap.OutputFilename)
	assert.Equal(t, 10, pageLines(snap.Logs))
	assert.Contains(t, snap.Logs, "[INFO] Text already in English, generating reference markdown...")
	assert.Equal(t, 0, h.text.calls())

	path, err := h.mgr.ReferencePath(token)
	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	md := string(content)

	assert.NotContains(t, md, "**Language:**")
	last := -1
	for i := 1; i <= 10; i++ {
		at := strings.Index(md, fmt.Sprintf("English page %d\n", i))
		require.Greater(t, at, last, "page %d out of order", i)
		last = at
	}

	entries, err := os.ReadDir(filepath.Join(h.dir, token, "images"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGermanSectionTranslatesOnlyItsPages(t *testing.T) {
	layout := []string{"fr", "fr", "fr", "fr", "de", "de", "de", "it", "it"}
	h := newHarness(t, layout, "Seite %d Inhalt")
	token := h.submit(t, "manual.pdf", 9)

	snap := waitDone(t, h.mgr, token)
	require.Equal(t, StatusComplete, snap.Status, "%v", snap.Logs)
	assert.Equal(t, "de", snap.DetectedLanguage)
	require.NotNil(t, snap.Translated)
	assert.True(t, *snap.Translated)

	assert.Contains(t, snap.Logs, "[OK] Found German section (pages 5-7)")
	assert.Contains(t, snap.Logs, "[INFO] Will extract 3 pages instead of entire PDF")
	assert.Contains(t, snap.Logs, "[INFO] Using pre-scanned language: German")
	assert.Contains(t, snap.Logs, "[INFO] Translating from German to English...")

	assert.EqualValues(t, 3, h.vision.calls.Load())
	assert.Equal(t, []string{"Seite 5 Inhalt", "Seite 6 Inhalt", "Seite 7 Inhalt"}, h.text.texts)

	path, err := h.mgr.ReferencePath(token)
	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	md := string(content)

	assert.Contains(t, md, "**Language:** English (translated)")
	assert.Contains(t, md, "Page 5 content\n\nPage 6 content\n\nPage 7 content\n")
	assert.NotContains(t, md, "Seite")
}

func TestLanguageDetectedAfterOCRWhenScanFindsNothing(t *testing.T) {
	h := newHarness(t, nil, "de: Seite %d Inhalt")
	token := h.submit(t, "scan.pdf", 2)

	snap := waitDone(t, h.mgr, token)
	require.Equal(t, StatusComplete, snap.Status, "%v", snap.Logs)

	assert.Contains(t, snap.Logs, "[INFO] No clear language sections detected, will extract all pages")
	assert.Contains(t, snap.Logs, "[INFO] Detecting language from extracted content...")
	assert.Contains(t, snap.Logs, "[OK] Detected language: German")
	assert.Equal(t, "de", snap.DetectedLanguage)
	assert.Equal(t, 2, h.text.calls())
}

func TestFiguresAreCroppedAndLinked(t *testing.T) {
	h := newHarness(t, repeat("en", 2), "<|ref|>image<|/ref|><|det|>[[100, 100, 500, 400]]<|/det|>\nEnglish page %d")
	token := h.submit(t, "manual.pdf", 2)

	snap := waitDone(t, h.mgr, token)
	require.Equal(t, StatusComplete, snap.Status, "%v", snap.Logs)

	path, err := h.mgr.ReferencePath(token)
	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Contains(t, string(content), "![Figure 1](images/page_001_image_1.png)")
	assert.Contains(t, string(content), "![Figure 2](images/page_002_image_1.png)")

	img, err := h.mgr.ImagePath(token, "page_002_image_1.png")
	require.NoError(t, err)
	assert.FileExists(t, img)
}
