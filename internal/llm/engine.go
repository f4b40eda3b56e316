package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spherical/manual-processor/internal/config"
	"github.com/spherical/manual-processor/internal/domain"
	"github.com/spherical/manual-processor/internal/observability"
)

// Engines bundles the two models the pipeline talks to
type Engines struct {
	Vision domain.InferenceEngine
	Text   domain.InferenceEngine
}

// NewEngines builds the vision and text engines for the configured provider,
// each bounded by the per-call timeout. Only the vision engine retries at the
// transport level: the translator already retries each chunk itself.
func NewEngines(ctx context.Context, cfg config.InferenceConfig, logger *observability.Logger) (*Engines, error) {
	build := func(model string, retries int) (domain.InferenceEngine, error) {
		switch cfg.Provider {
		case "ollama":
			retry := DefaultRetryConfig()
			retry.MaxRetries = retries
			return NewOllamaClient(cfg.BaseURL, model, cfg.Temperature, logger, WithRetryConfig(retry)), nil
		case "openai":
			return NewEinoClient(ctx, cfg.BaseURL, cfg.APIKey, model, cfg.Temperature)
		default:
			return nil, domain.ConfigError(fmt.Sprintf("unknown inference provider %q", cfg.Provider), nil)
		}
	}

	vision, err := build(cfg.VisionModel, cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	text, err := build(cfg.TextModel, 0)
	if err != nil {
		return nil, err
	}

	return &Engines{
		Vision: WithTimeout(vision, cfg.Timeout),
		Text:   WithTimeout(text, cfg.Timeout),
	}, nil
}

type timeoutEngine struct {
	next    domain.InferenceEngine
	timeout time.Duration
}

// WithTimeout bounds every Generate call. The wrapped call runs in its own
// goroutine so engines that ignore their context still return on time.
func WithTimeout(next domain.InferenceEngine, timeout time.Duration) domain.InferenceEngine {
	if timeout <= 0 {
		return next
	}
	return &timeoutEngine{next: next, timeout: timeout}
}

type generateResult struct {
	text string
	err  error
}

func (e *timeoutEngine) Generate(ctx context.Context, prompt string, image []byte) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan generateResult, 1)
	go func() {
		text, err := e.next.Generate(callCtx, prompt, image)
		done <- generateResult{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", e.timeoutErr(r.err)
		}
		return r.text, r.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", e.timeoutErr(callCtx.Err())
	}
}

func (e *timeoutEngine) timeoutErr(err error) error {
	return domain.TimeoutError(fmt.Sprintf("inference call exceeded %s", e.timeout), err)
}
