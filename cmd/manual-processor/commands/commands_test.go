package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/manual-processor/internal/domain"
	"github.com/spherical/manual-processor/internal/jobs"
	"github.com/spherical/manual-processor/internal/language"
)

func TestPageProgress(t *testing.T) {
	tests := []struct {
		line    string
		current int
		total   int
		ok      bool
	}{
		{"[OK] Page 3/12 processed", 3, 12, true},
		{"[WARN] Page 4/12 (PDF page 9) OCR failed, left empty: timeout", 4, 12, true},
		{"[INFO] Will extract 12 pages instead of entire PDF", 0, 0, false},
		{"[OK] Found German section (pages 5-7)", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			current, total, ok := pageProgress(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.current, current)
			assert.Equal(t, tt.total, total)
		})
	}
}

func TestStageMessage(t *testing.T) {
	assert.Equal(t, "Scanning for language sections...", stageMessage(jobs.StageLanguageScan))
	assert.Equal(t, "Translating to English...", stageMessage(jobs.StageTranslating))
	assert.Empty(t, stageMessage(jobs.StageComplete))
}

func TestSectionRowsMarksSelection(t *testing.T) {
	sel := language.Selection{
		Language:  "de",
		StartPage: 4,
		EndPage:   6,
		Sections: []domain.LanguageSection{
			{Language: "fr", StartPage: 0, EndPage: 3},
			{Language: "de", StartPage: 4, EndPage: 6},
			{Language: "it", StartPage: 7, EndPage: 8},
		},
	}

	rows := sectionRows(sel)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"German (de)", "5-7", "3", "*"}, rows[1])
	assert.Equal(t, "", rows[0][3])
	assert.Equal(t, "", rows[2][3])
}

func TestCopyArtifacts(t *testing.T) {
	src := t.TempDir()
	ref := filepath.Join(src, "manual_reference.md")
	require.NoError(t, os.WriteFile(ref, []byte("# Manual\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "images"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "images", "page_001_image_1.png"), []byte("png"), 0o644))

	out := filepath.Join(t.TempDir(), "out")
	path, err := copyArtifacts(ref, out)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, "manual_reference.md"), path)
	assert.FileExists(t, path)
	assert.FileExists(t, filepath.Join(out, "images", "page_001_image_1.png"))
}
