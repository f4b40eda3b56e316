package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/manual-processor/internal/domain"
	"github.com/spherical/manual-processor/internal/jobs"
	"github.com/spherical/manual-processor/internal/observability"
)

type fakeJobs struct {
	submitted []byte
	filename  string
	submitErr error

	snapshots map[string]jobs.Snapshot
	outcome   jobs.CancelOutcome
	refPath   string
	refErr    error
	imagePath string
}

func (f *fakeJobs) Submit(ctx context.Context, filename string, r io.Reader) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.submitted = data
	f.filename = filename
	return "0123456789abcdef0123456789abcdef", nil
}

func (f *fakeJobs) Poll(token string) (jobs.Snapshot, error) {
	snap, ok := f.snapshots[token]
	if !ok {
		return jobs.Snapshot{}, domain.NotFoundError("job "+token, domain.ErrJobNotFound)
	}
	return snap, nil
}

func (f *fakeJobs) Cancel(token string) (jobs.CancelOutcome, error) {
	if _, ok := f.snapshots[token]; !ok {
		return 0, domain.NotFoundError("job "+token, domain.ErrJobNotFound)
	}
	return f.outcome, nil
}

func (f *fakeJobs) ReferencePath(token string) (string, error) {
	return f.refPath, f.refErr
}

func (f *fakeJobs) ImagePath(token, name string) (string, error) {
	if name != "page_001_image_1.png" {
		return "", domain.ValidationError("invalid image name", nil)
	}
	return f.imagePath, nil
}

func newTestRouter(f *fakeJobs) http.Handler {
	return NewRouter(observability.Nop(), f, RouterConfig{MaxUploadBytes: 1 << 20})
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/manuals/process", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(&fakeJobs{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"manual-processor"}`, rec.Body.String())
}

func TestSubmit(t *testing.T) {
	f := &fakeJobs{}
	rec := httptest.NewRecorder()
	newTestRouter(f).ServeHTTP(rec, uploadRequest(t, "file", "My Manual.pdf", []byte("%PDF-1.4 body")))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "0123456789abcdef0123456789abcdef", decode(t, rec)["token"])
	assert.Equal(t, "My Manual.pdf", f.filename)
	assert.Equal(t, "%PDF-1.4 body", string(f.submitted))
}

func TestRequestIDInLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json", Output: &buf})

	send := func(f *fakeJobs) int {
		req := uploadRequest(t, "file", "manual.pdf", []byte("%PDF-1.4"))
		req.Header.Set("X-Request-Id", "req-42")
		rec := httptest.NewRecorder()
		NewRouter(logger, f, RouterConfig{}).ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusAccepted, send(&fakeJobs{}))
	require.Equal(t, http.StatusInternalServerError, send(&fakeJobs{submitErr: errors.New("disk full")}))

	var entries []map[string]any
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var entry map[string]any
		require.NoError(t, dec.Decode(&entry))
		entries = append(entries, entry)
	}

	require.Len(t, entries, 2)
	assert.Equal(t, "Processing job accepted", entries[0]["message"])
	assert.Equal(t, "Request failed", entries[1]["message"])
	for _, e := range entries {
		assert.Equal(t, "req-42", e["request_id"])
	}
}

func TestSubmitRejections(t *testing.T) {
	t.Run("missing file field", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestRouter(&fakeJobs{}).ServeHTTP(rec, uploadRequest(t, "document", "a.pdf", []byte("x")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("validation error", func(t *testing.T) {
		f := &fakeJobs{submitErr: domain.ValidationError("only PDF files are supported", nil)}
		rec := httptest.NewRecorder()
		newTestRouter(f).ServeHTTP(rec, uploadRequest(t, "file", "notes.txt", []byte("x")))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode(t, rec)["detail"], "only PDF files")
	})

	t.Run("shutting down", func(t *testing.T) {
		f := &fakeJobs{submitErr: jobs.ErrClosed}
		rec := httptest.NewRecorder()
		newTestRouter(f).ServeHTTP(rec, uploadRequest(t, "file", "a.pdf", []byte("x")))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("too large", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestRouter(&fakeJobs{}).ServeHTTP(rec, uploadRequest(t, "file", "a.pdf", make([]byte, 3<<20)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestStatus(t *testing.T) {
	translated := true
	f := &fakeJobs{snapshots: map[string]jobs.Snapshot{
		"abc": {
			Token:            "abc",
			Status:           jobs.StatusComplete,
			Stage:            jobs.StageComplete,
			Logs:             []string{"[INFO] Upload received, starting processing..."},
			DetectedLanguage: "de",
			Translated:       &translated,
			OutputFilename:   "manual_reference.md",
		},
		"run": {Token: "run", Status: jobs.StatusProcessing, Stage: jobs.StageOCRExtraction, Logs: []string{}},
	}}
	router := newTestRouter(f)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/manuals/process/abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "complete", body["status"])
	assert.Equal(t, "de", body["detected_language"])
	assert.Equal(t, true, body["translated"])
	assert.Equal(t, "manual_reference.md", body["output_filename"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/manuals/process/run", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "ocr_extraction", body["stage"])
	assert.NotContains(t, body, "translated")
	assert.NotContains(t, body, "output_filename")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/manuals/process/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancel(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		outcome jobs.CancelOutcome
		code    int
		status  string
	}{
		{"running job", "abc", jobs.CancelRequested, http.StatusAccepted, "cancelling"},
		{"finished job", "abc", jobs.CancelAlreadyFinished, http.StatusOK, "already_finished"},
		{"unknown job", "nope", jobs.CancelRequested, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeJobs{
				snapshots: map[string]jobs.Snapshot{"abc": {Token: "abc"}},
				outcome:   tt.outcome,
			}
			rec := httptest.NewRecorder()
			newTestRouter(f).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/manuals/process/"+tt.token+"/cancel", nil))

			assert.Equal(t, tt.code, rec.Code)
			if tt.status != "" {
				assert.Equal(t, tt.status, decode(t, rec)["status"])
			}
		})
	}
}

func TestReferenceAndImages(t *testing.T) {
	dir := t.TempDir()
	ref := filepath.Join(dir, "manual_reference.md")
	require.NoError(t, os.WriteFile(ref, []byte("# Manual\n"), 0o644))
	img := filepath.Join(dir, "page_001_image_1.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG"), 0o644))

	router := newTestRouter(&fakeJobs{refPath: ref, imagePath: img})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/manuals/process/abc/reference", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# Manual\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/manuals/process/abc/images/page_001_image_1.png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/manuals/process/abc/images/other.png", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	newTestRouter(&fakeJobs{refErr: jobs.ErrNotReady}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/manuals/process/abc/reference", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}
