// Package jobs runs manual processing jobs in the background and tracks their
// progress for polling clients.
package jobs

import (
	"fmt"
	"sync"
	"time"
)

// Status is the coarse job state
type Status string

const (
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions can happen
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

// Stage is the fine-grained pipeline position
type Stage string

const (
	StageStarting            Stage = "starting"
	StageLanguageScan        Stage = "language_scan"
	StageOCRExtraction       Stage = "ocr_extraction"
	StageOCRComplete         Stage = "ocr_complete"
	StageLanguageDetection   Stage = "language_detection"
	StageTranslating         Stage = "translating"
	StageGeneratingReference Stage = "generating_reference"
	StageComplete            Stage = "complete"
	StageCancelled           Stage = "cancelled"
	StageError               Stage = "error"
)

// CancelOutcome is the result of a cancellation request on a known job
type CancelOutcome int

const (
	CancelRequested CancelOutcome = iota
	CancelAlreadyFinished
)

func (o CancelOutcome) String() string {
	if o == CancelAlreadyFinished {
		return "already_finished"
	}
	return "cancelling"
}

// Log line prefixes shown to users
const (
	prefixInfo  = "[INFO]"
	prefixOK    = "[OK]"
	prefixWarn  = "[WARN]"
	prefixError = "[ERROR]"
)

// Result is set only when a job completes
type Result struct {
	DetectedLanguage string
	Translated       bool
	OutputFilename   string
}

// Snapshot is a point-in-time copy of a job, safe to hand to callers
type Snapshot struct {
	Token            string    `json:"token"`
	Status           Status    `json:"status"`
	Stage            Stage     `json:"stage"`
	Logs             []string  `json:"logs"`
	DetectedLanguage string    `json:"detected_language,omitempty"`
	Translated       *bool     `json:"translated,omitempty"`
	OutputFilename   string    `json:"output_filename,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// job is the mutable record behind a token. Every field below mu is guarded by it.
type job struct {
	token     string
	filename  string
	dir       string
	pdfPath   string
	createdAt time.Time

	cancelCh   chan struct{}
	cancelOnce sync.Once
	done       chan struct{}

	mu     sync.Mutex
	status Status
	stage  Stage
	logs   []string
	result *Result
}

func newJob(token, filename, dir, pdfPath string, createdAt time.Time) *job {
	return &job{
		token:     token,
		filename:  filename,
		dir:       dir,
		pdfPath:   pdfPath,
		createdAt: createdAt,
		cancelCh:  make(chan struct{}),
		done:      make(chan struct{}),
		status:    StatusProcessing,
		stage:     StageStarting,
	}
}

func (j *job) logf(prefix, format string, args ...interface{}) {
	line := prefix + " " + fmt.Sprintf(format, args...)
	j.mu.Lock()
	j.logs = append(j.logs, line)
	j.mu.Unlock()
}

func (j *job) info(format string, args ...interface{}) { j.logf(prefixInfo, format, args...) }
func (j *job) ok(format string, args ...interface{}) { j.logf(prefixOK, format, args...) }
func (j *job) warn(format string, args ...interface{}) { j.logf(prefixWarn, format, args...) }
func (j *job) errorf(format string, args ...interface{}) { j.logf(prefixError, format, args...) }

// setStage moves a running job to a new stage. It is a no-op once terminal.
func (j *job) setStage(stage Stage) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.stage = stage
	return true
}

// finish moves the job to a terminal state exactly once
func (j *job) finish(status Status, stage Stage, result *Result) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = status
	j.stage = stage
	j.result = result
	return true
}

// requestCancel signals the worker. Safe to call any number of times.
func (j *job) requestCancel() {
	j.cancelOnce.Do(func() { close(j.cancelCh) })
}

func (j *job) cancelled() bool {
	select {
	case <-j.cancelCh:
		return true
	default:
		return false
	}
}

func (j *job) currentStatus() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Snapshot{
		Token:     j.token,
		Status:    j.status,
		Stage:     j.stage,
		Logs:      append([]string(nil), j.logs...),
		CreatedAt: j.createdAt,
	}
	if j.result != nil {
		translated := j.result.Translated
		s.DetectedLanguage = j.result.DetectedLanguage
		s.Translated = &translated
		s.OutputFilename = j.result.OutputFilename
	}
	return s
}
