// Package app wires configuration into a ready-to-use processing pipeline.
package app

import (
	"context"
	"fmt"

	"github.com/spherical/manual-processor/internal/config"
	"github.com/spherical/manual-processor/internal/jobs"
	"github.com/spherical/manual-processor/internal/language"
	"github.com/spherical/manual-processor/internal/llm"
	"github.com/spherical/manual-processor/internal/observability"
	"github.com/spherical/manual-processor/internal/ocr"
	"github.com/spherical/manual-processor/internal/pdf"
	"github.com/spherical/manual-processor/internal/translate"
)

// Services holds the components built from a Config
type Services struct {
	Validator  *pdf.Validator
	Detector   *language.Detector
	Extractor  *ocr.Extractor
	Translator *translate.Translator
	Manager    *jobs.Manager
}

// NewDetector builds the language section detector from config
func NewDetector(cfg *config.Config, validator *pdf.Validator, logger *observability.Logger) (*language.Detector, error) {
	policy := language.Policy{
		FirstPages:     cfg.Language.FirstPages,
		SampleInterval: cfg.Language.SampleInterval,
		Ranking:        cfg.Language.Ranking,
	}
	if len(policy.Ranking) == 0 {
		policy.Ranking = config.DefaultRanking()
	}

	detector := language.NewDetector(
		pdf.NewTextSampler(logger),
		language.NewWhatlangClassifier(cfg.Language.MinTextLength),
		validator,
		policy,
		logger,
	)

	if cfg.Language.PageRange != "" {
		start, end, err := config.ParsePageRange(cfg.Language.PageRange)
		if err != nil {
			return nil, err
		}
		detector.WithPageRange(&language.PageRange{Start: start, End: end})
	}
	return detector, nil
}

// New builds every service and the job manager. Close the returned
// manager to stop background work.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Services, error) {
	engines, err := llm.NewEngines(ctx, cfg.Inference, logger)
	if err != nil {
		return nil, fmt.Errorf("create inference engines: %w", err)
	}

	validator := pdf.NewValidator(cfg.Jobs.MaxUploadMB << 20)

	detector, err := NewDetector(cfg, validator, logger)
	if err != nil {
		return nil, err
	}

	extractor, err := ocr.NewExtractor(pdf.NewRasterizer(), engines.Vision, ocr.Config{
		RenderScale: cfg.OCR.RenderScale,
		ModelSize:   cfg.OCR.ModelSize,
		Prompt:      cfg.OCR.Prompt,
		Calibrate:   cfg.OCR.Calibrate,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create extractor: %w", err)
	}

	translator := translate.New(engines.Text, language.NewWhatlangClassifier(cfg.Language.MinTextLength), translate.Config{
		ChunkSize:   cfg.Translation.ChunkSize,
		Retries:     cfg.Translation.Retries,
		TargetLabel: cfg.Translation.TargetLabel,
	}, logger)

	var opts []jobs.Option
	if cfg.Events.Enabled {
		pub, err := jobs.NewRedisPublisher(jobs.RedisConfig{
			Addr:     cfg.Events.Redis.Addr,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			PoolSize: cfg.Events.Redis.PoolSize,
			Prefix:   cfg.Events.Redis.Prefix,
			Channel:  cfg.Events.Channel,
			TTL:      cfg.Jobs.Retention,
		})
		if err != nil {
			return nil, fmt.Errorf("connect event publisher: %w", err)
		}
		logger.Info().Str("channel", pub.Channel()).Msg("Publishing job events to Redis")
		opts = append(opts, jobs.WithPublisher(pub))
	}

	manager := jobs.NewManager(jobs.Config{
		Retention:      cfg.Jobs.Retention,
		WorkDir:        cfg.Jobs.WorkDir,
		MaxUploadBytes: cfg.Jobs.MaxUploadMB << 20,
		PurgeArtifacts: cfg.Jobs.PurgeArtifacts,
	}, &jobs.Pipeline{
		Detector:   detector,
		Extractor:  extractor,
		Translator: translator,
		CleanPass:  cfg.Translation.CleanPass,
	}, validator, logger, opts...)

	return &Services{
		Validator:  validator,
		Detector:   detector,
		Extractor:  extractor,
		Translator: translator,
		Manager:    manager,
	}, nil
}
