package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/manual-processor/internal/config"
	"github.com/spherical/manual-processor/internal/jobs"
	"github.com/spherical/manual-processor/internal/observability"
	"github.com/spherical/manual-processor/internal/pdf"
	"github.com/spherical/manual-processor/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Jobs.WorkDir = t.TempDir()
	return cfg
}

func TestNewDetectorPageRange(t *testing.T) {
	cfg := testConfig(t)
	cfg.Language.PageRange = "2-3"

	detector, err := NewDetector(cfg, pdf.NewValidator(0), observability.Nop())
	require.NoError(t, err)

	path := testutil.WritePDF(t, t.TempDir(), "manual.pdf", []string{"one", "two", "three", "four"})

	sel, err := detector.Detect(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, sel.Override)
	assert.Equal(t, 1, sel.StartPage)
	assert.Equal(t, 2, sel.EndPage)
}

func TestNewDetectorRejectsBadRange(t *testing.T) {
	cfg := testConfig(t)
	cfg.Language.PageRange = "9-2"

	_, err := NewDetector(cfg, pdf.NewValidator(0), observability.Nop())
	assert.Error(t, err)
}

func TestNewWiresManager(t *testing.T) {
	services, err := New(context.Background(), testConfig(t), observability.Nop())
	require.NoError(t, err)
	defer services.Manager.Close()

	assert.NotNil(t, services.Detector)
	assert.NotNil(t, services.Extractor)
	assert.NotNil(t, services.Translator)

	_, err = services.Manager.Submit(context.Background(), "notes.txt", strings.NewReader("hello"))
	assert.Error(t, err)
}

func TestNewFailsWithoutEventBroker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Events.Enabled = true
	cfg.Events.Redis.Addr = "127.0.0.1:1"

	_, err := New(context.Background(), cfg, observability.Nop())
	assert.Error(t, err)
}

// TestProcessLiveManual runs a real manual through a real inference server.
// Set MANUAL_PROCESSOR_LIVE_PDF to a PDF path to enable it.
func TestProcessLiveManual(t *testing.T) {
	_ = godotenv.Load("../../.env")

	pdfPath := os.Getenv("MANUAL_PROCESSOR_LIVE_PDF")
	if pdfPath == "" {
		t.Skip("MANUAL_PROCESSOR_LIVE_PDF not set")
	}
	if _, err := os.Stat(pdfPath); os.IsNotExist(err) {
		t.Skipf("Sample PDF not found at %s", pdfPath)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	require.NoError(t, err)
	cfg.Jobs.WorkDir = t.TempDir()

	services, err := New(context.Background(), cfg, observability.DefaultLogger())
	require.NoError(t, err)
	defer services.Manager.Close()

	data, err := os.ReadFile(pdfPath)
	require.NoError(t, err)

	token, err := services.Manager.Submit(context.Background(), filepath.Base(pdfPath), bytes.NewReader(data))
	require.NoError(t, err)

	done, err := services.Manager.Done(token)
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(30 * time.Minute):
		t.Fatal("processing did not finish")
	}

	snap, err := services.Manager.Poll(token)
	require.NoError(t, err)
	for _, line := range snap.Logs {
		t.Log(line)
	}
	require.Equal(t, jobs.StatusComplete, snap.Status)

	path, err := services.Manager.ReferencePath(token)
	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "# "))
}
