// Package config provides unified configuration loading for the manual processor.
// Supports YAML files, .env files, environment variables and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the manual processor.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Inference     InferenceConfig     `yaml:"inference"`
	OCR           OCRConfig           `yaml:"ocr"`
	Language      LanguageConfig      `yaml:"language"`
	Translation   TranslationConfig   `yaml:"translation"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Events        EventsConfig        `yaml:"events"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// InferenceConfig selects and parameterizes the inference engine.
type InferenceConfig struct {
	Provider    string        `yaml:"provider"` // ollama or openai
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	VisionModel string        `yaml:"vision_model"`
	TextModel   string        `yaml:"text_model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"` // per call, including retries
	MaxRetries  int           `yaml:"max_retries"`
}

// OCRConfig holds page rendering and grounding settings.
type OCRConfig struct {
	RenderScale float64 `yaml:"render_scale"`
	ModelSize   int     `yaml:"model_size"`
	Prompt      string  `yaml:"prompt"`
	Calibrate   bool    `yaml:"calibrate"` // verify model_size against the engine on a reference page
}

// LanguageConfig holds language section detection settings.
type LanguageConfig struct {
	SampleInterval int      `yaml:"sample_interval"`
	FirstPages     int      `yaml:"first_pages"`
	MinTextLength  int      `yaml:"min_text_length"`
	Ranking        []string `yaml:"ranking"`
	PageRange      string   `yaml:"page_range"` // optional "start-end", 1-based inclusive
}

// TranslationConfig holds translator settings.
type TranslationConfig struct {
	ChunkSize   int    `yaml:"chunk_size"`
	Retries     int    `yaml:"retries"`
	CleanPass   bool   `yaml:"clean_pass"`
	TargetLabel string `yaml:"target_label"`
}

// JobsConfig holds processing job settings.
type JobsConfig struct {
	Retention      time.Duration `yaml:"retention"`
	WorkDir        string        `yaml:"work_dir"`
	MaxUploadMB    int64         `yaml:"max_upload_mb"`
	PurgeArtifacts bool          `yaml:"purge_artifacts"`
}

// EventsConfig holds job status event publishing settings.
type EventsConfig struct {
	Enabled bool        `yaml:"enabled"`
	Channel string      `yaml:"channel"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultRanking is the ease-of-translation ordering used when no English
// section exists. Earlier entries are preferred.
func DefaultRanking() []string {
	return []string{
		"nl", "de", "da", "sv", "no",
		"fr", "es", "pt", "it", "ro",
		"pl", "cs", "ru",
		"tr", "ar", "zh", "ja", "ko",
	}
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 15 * time.Second,
		},
		Inference: InferenceConfig{
			Provider:    "ollama",
			BaseURL:     "http://localhost:11434",
			VisionModel: "deepseek-ocr",
			TextModel:   "mistral:instruct",
			Temperature: 0.1,
			Timeout:     3 * time.Minute,
			MaxRetries:  2,
		},
		OCR: OCRConfig{
			RenderScale: 2.0,
			ModelSize:   1000,
			Prompt:      "<|grounding|>Convert the document to markdown.",
			Calibrate:   true,
		},
		Language: LanguageConfig{
			SampleInterval: 2,
			FirstPages:     5,
			MinTextLength:  20,
			Ranking:        DefaultRanking(),
		},
		Translation: TranslationConfig{
			ChunkSize:   4000,
			Retries:     1,
			CleanPass:   true,
			TargetLabel: "English",
		},
		Jobs: JobsConfig{
			Retention:      time.Hour,
			WorkDir:        "data/_uploads",
			MaxUploadMB:    200,
			PurgeArtifacts: false,
		},
		Events: EventsConfig{
			Enabled: false,
			Channel: "jobs.status",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "mp:",
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "console",
			ServiceName: "manual-processor",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Inference.Provider != "ollama" && c.Inference.Provider != "openai" {
		return fmt.Errorf("invalid inference provider: %s", c.Inference.Provider)
	}

	if c.Inference.Provider == "openai" && c.Inference.APIKey == "" {
		return fmt.Errorf("inference.api_key is required for the openai provider")
	}

	if c.Inference.Timeout <= 0 {
		return fmt.Errorf("inference timeout must be positive")
	}

	if c.OCR.ModelSize <= 0 {
		return fmt.Errorf("ocr model_size must be positive")
	}

	if c.OCR.RenderScale <= 0 {
		return fmt.Errorf("ocr render_scale must be positive")
	}

	if c.Language.SampleInterval < 1 {
		return fmt.Errorf("sample_interval must be at least 1")
	}

	if c.Language.PageRange != "" {
		if _, _, err := ParsePageRange(c.Language.PageRange); err != nil {
			return err
		}
	}

	if c.Translation.ChunkSize < 256 {
		return fmt.Errorf("translation chunk_size must be at least 256")
	}

	if c.Jobs.Retention <= 0 {
		return fmt.Errorf("job retention must be positive")
	}

	if c.Jobs.WorkDir == "" {
		return fmt.Errorf("jobs work_dir is required")
	}

	return nil
}

// ParsePageRange parses a 1-based inclusive "start-end" range (or a single page)
// and returns 0-based page indexes.
func ParsePageRange(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	startStr, endStr, found := strings.Cut(s, "-")
	if !found {
		endStr = startStr
	}

	start, err := strconv.Atoi(strings.TrimSpace(startStr))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid page_range %q: %w", s, err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(endStr))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid page_range %q: %w", s, err)
	}

	if start < 1 || end < start {
		return 0, 0, fmt.Errorf("invalid page_range %q", s)
	}

	return start - 1, end - 1, nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("INFERENCE_PROVIDER"); v != "" {
		cfg.Inference.Provider = v
	}

	if v := os.Getenv("INFERENCE_BASE_URL"); v != "" {
		cfg.Inference.BaseURL = v
	}

	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.Inference.APIKey = v
	}

	if v := os.Getenv("INFERENCE_API_KEY"); v != "" {
		cfg.Inference.APIKey = v
	}

	if v := os.Getenv("VISION_MODEL"); v != "" {
		cfg.Inference.VisionModel = v
	}

	if v := os.Getenv("TEXT_MODEL"); v != "" {
		cfg.Inference.TextModel = v
	}

	if v := os.Getenv("INFERENCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Inference.Timeout = d
		}
	}

	if v := os.Getenv("SAMPLE_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Language.SampleInterval = n
		}
	}

	if v := os.Getenv("PAGE_RANGE"); v != "" {
		cfg.Language.PageRange = v
	}

	if v := os.Getenv("TRANSLATION_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Translation.ChunkSize = n
		}
	}

	if v := os.Getenv("JOB_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Jobs.Retention = d
		}
	}

	if v := os.Getenv("WORK_DIR"); v != "" {
		cfg.Jobs.WorkDir = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Events.Enabled = true
		cfg.Events.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
