package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/manual-processor/internal/domain"
	"github.com/spherical/manual-processor/internal/observability"
	"github.com/spherical/manual-processor/internal/pdf"
	"github.com/spherical/manual-processor/internal/reference"
)

const (
	DefaultRetention = time.Hour
	DefaultWorkDir   = "data/_uploads"
)

var (
	// ErrNotReady is returned for artifacts of jobs that have not completed
	ErrNotReady = errors.New("job has not completed")
	// ErrClosed is returned by Submit after Close
	ErrClosed = errors.New("job manager is closed")
)

// Config holds job manager settings
type Config struct {
	Retention      time.Duration
	WorkDir        string
	MaxUploadBytes int64
	PurgeArtifacts bool
}

// Manager owns the job table and the background workers
type Manager struct {
	cfg       Config
	pipeline  *Pipeline
	validator *pdf.Validator
	publisher Publisher
	logger    *observability.Logger
	now       func() time.Time

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.RWMutex
	jobs   map[string]*job
	closed bool
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces the clock used for creation times and retention
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithPublisher sends job events to p
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// NewManager creates a job manager
func NewManager(cfg Config, pipeline *Pipeline, validator *pdf.Validator, logger *observability.Logger, opts ...Option) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = DefaultWorkDir
	}
	if validator == nil {
		validator = pdf.NewValidator(cfg.MaxUploadBytes)
	}

	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		pipeline:  pipeline,
		validator: validator,
		publisher: nopPublisher{},
		logger:    logger.WithOperation("jobs"),
		now:       time.Now,
		ctx:       ctx,
		stop:      stop,
		jobs:      make(map[string]*job),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit stores and validates an upload, then starts processing it in the
// background. It returns as soon as the job is registered.
func (m *Manager) Submit(ctx context.Context, filename string, r io.Reader) (string, error) {
	m.sweep()

	if err := m.validator.ValidateFilename(filename); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	name := pdf.SanitizeFilename(filename)
	dir := filepath.Join(m.cfg.WorkDir, token)

	pdfPath, err := m.store(dir, name, r)
	if err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	pages, err := m.validator.PageCount(pdfPath)
	if err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	j := newJob(token, name, dir, pdfPath, m.now())
	j.info("Upload received, starting processing...")

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		os.RemoveAll(dir)
		return "", ErrClosed
	}
	m.jobs[token] = j
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info().
		Str("job", token).
		Str("filename", name).
		Int("pages", pages).
		Msg("Job submitted")

	m.publish(j)
	go m.process(j)

	return token, nil
}

func (m *Manager) store(dir, name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", domain.IOError("create job directory", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", domain.IOError("create upload file", err)
	}

	src := r
	if m.cfg.MaxUploadBytes > 0 {
		src = io.LimitReader(r, m.cfg.MaxUploadBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", domain.IOError("store upload", err)
	}
	if m.cfg.MaxUploadBytes > 0 && n > m.cfg.MaxUploadBytes {
		return "", domain.ValidationError(fmt.Sprintf("file is too large (limit %d MB)", m.cfg.MaxUploadBytes>>20), nil)
	}

	if err := m.validator.ValidatePDFPath(path); err != nil {
		return "", err
	}
	return path, nil
}

// Poll returns a snapshot of a job. Unknown and expired tokens both yield
// domain.ErrJobNotFound.
func (m *Manager) Poll(token string) (Snapshot, error) {
	m.sweep()

	j, err := m.get(token)
	if err != nil {
		return Snapshot{}, err
	}
	return j.snapshot(), nil
}

// Cancel asks a running job to stop at its next boundary. The job's status
// is left unchanged; the worker records the cancellation when it observes it.
func (m *Manager) Cancel(token string) (CancelOutcome, error) {
	m.sweep()

	j, err := m.get(token)
	if err != nil {
		return 0, err
	}

	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return CancelAlreadyFinished, nil
	}
	first := !j.cancelled()
	if first {
		j.logs = append(j.logs, prefixInfo+" Cancellation requested...")
	}
	j.requestCancel()
	j.mu.Unlock()

	if first {
		m.logger.Info().Str("job", token).Msg("Cancellation requested")
	}
	return CancelRequested, nil
}

// Done returns a channel closed when the job's worker has exited
func (m *Manager) Done(token string) (<-chan struct{}, error) {
	j, err := m.get(token)
	if err != nil {
		return nil, err
	}
	return j.done, nil
}

// ReferencePath returns the reference markdown of a completed job
func (m *Manager) ReferencePath(token string) (string, error) {
	snap, err := m.Poll(token)
	if err != nil {
		return "", err
	}
	if snap.Status != StatusComplete {
		return "", ErrNotReady
	}

	j, err := m.get(token)
	if err != nil {
		return "", err
	}
	return filepath.Join(j.dir, snap.OutputFilename), nil
}

// ImagePath returns the path of a cropped figure of a job
func (m *Manager) ImagePath(token, name string) (string, error) {
	m.sweep()

	j, err := m.get(token)
	if err != nil {
		return "", err
	}
	if name == "" || filepath.Base(name) != name || !strings.EqualFold(filepath.Ext(name), ".png") {
		return "", domain.ValidationError(fmt.Sprintf("invalid image name %q", name), nil)
	}

	path := filepath.Join(j.dir, reference.ImagesDir, name)
	if _, err := os.Stat(path); err != nil {
		return "", domain.NotFoundError(fmt.Sprintf("image %s", name), err)
	}
	return path, nil
}

// Close stops accepting jobs, interrupts running ones and waits for them
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.stop()
	m.wg.Wait()
	return m.publisher.Close()
}

func (m *Manager) get(token string) (*job, error) {
	m.mu.RLock()
	j, ok := m.jobs[token]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.NotFoundError(fmt.Sprintf("job %s", token), domain.ErrJobNotFound)
	}
	return j, nil
}

// sweep forgets jobs older than the retention window. Expired jobs that are
// still running are told to stop.
func (m *Manager) sweep() {
	now := m.now()

	var expired []*job
	m.mu.Lock()
	for token, j := range m.jobs {
		if now.Sub(j.createdAt) > m.cfg.Retention {
			delete(m.jobs, token)
			expired = append(expired, j)
		}
	}
	purge := m.cfg.PurgeArtifacts && !m.closed
	if purge {
		m.wg.Add(len(expired))
	}
	m.mu.Unlock()

	for _, j := range expired {
		j.requestCancel()
		m.logger.Debug().Str("job", j.token).Msg("Job expired")

		if purge {
			go func(j *job) {
				defer m.wg.Done()
				<-j.done
				if err := os.RemoveAll(j.dir); err != nil {
					m.logger.Warn().Err(err).Str("job", j.token).Msg("Failed to purge job artifacts")
				}
			}(j)
		}
	}
}

func (m *Manager) process(j *job) {
	defer m.wg.Done()
	defer close(j.done)

	log := m.logger.WithJob(j.token)
	start := m.now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Msg("Job worker panicked")
			j.errorf("Internal error: %v", r)
			j.finish(StatusError, StageError, nil)
			m.publish(j)
		}
	}()

	stage := func(s Stage) {
		if j.setStage(s) {
			log.Debug().Str("stage", string(s)).Msg("Stage changed")
			m.publish(j)
		}
	}

	result, err := m.pipeline.run(m.ctx, j, stage, log)
	switch {
	case errors.Is(err, errCancelled):
		j.info("Processing cancelled by user")
		j.finish(StatusCancelled, StageCancelled, nil)
		log.Info().Msg("Job cancelled")
	case err != nil && m.ctx.Err() != nil && errors.Is(err, context.Canceled):
		j.errorf("Processing interrupted by shutdown")
		j.finish(StatusError, StageError, nil)
		log.Warn().Msg("Job interrupted by shutdown")
	case err != nil:
		j.errorf("%v", err)
		j.finish(StatusError, StageError, nil)
		log.Error().Err(err).Msg("Job failed")
	default:
		j.finish(StatusComplete, StageComplete, result)
		log.Info().
			Str("language", result.DetectedLanguage).
			Bool("translated", result.Translated).
			Dur("duration", m.now().Sub(start)).
			Msg("Job complete")
	}

	m.publish(j)
}

func (m *Manager) publish(j *job) {
	snap := j.snapshot()
	event := Event{
		Token:            snap.Token,
		Status:           snap.Status,
		Stage:            snap.Stage,
		DetectedLanguage: snap.DetectedLanguage,
		Translated:       snap.Translated,
		OutputFilename:   snap.OutputFilename,
		Time:             m.now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Warn().Err(err).Str("job", j.token).Msg("Failed to publish job event")
	}
}
