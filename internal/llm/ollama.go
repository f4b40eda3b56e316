// Package llm provides inference engine clients for page OCR and translation.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spherical/manual-processor/internal/domain"
	"github.com/spherical/manual-processor/internal/observability"
)

const (
	defaultOllamaURL = "http://localhost:11434"
	defaultNumCtx    = 8192
)

// OllamaClient talks to a local Ollama server through its /api/chat endpoint
type OllamaClient struct {
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
	retry       *RetryConfig
	logger      *observability.Logger
}

// OllamaOption customizes an OllamaClient
type OllamaOption func(*OllamaClient)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(o *OllamaClient) { o.httpClient = c }
}

// WithRetryConfig replaces the default retry policy
func WithRetryConfig(cfg *RetryConfig) OllamaOption {
	return func(o *OllamaClient) { o.retry = cfg }
}

// chatMessage is a single message in an Ollama chat request
type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// chatRequest represents the /api/chat request body
type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

// chatResponse represents a non-streaming /api/chat response
type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// NewOllamaClient creates a new Ollama client for one model
func NewOllamaClient(baseURL, model string, temperature float64, logger *observability.Logger, opts ...OllamaOption) *OllamaClient {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}

	c := &OllamaClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
		httpClient:  &http.Client{},
		retry:       DefaultRetryConfig(),
		logger:      logger.With().Str("engine", "ollama").Str("model", model).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate sends one prompt (and optional PNG image) and returns the reply text
func (c *OllamaClient) Generate(ctx context.Context, prompt string, image []byte) (string, error) {
	body, err := json.Marshal(c.buildRequest(prompt, image))
	if err != nil {
		return "", domain.APIError("Failed to marshal request", err)
	}

	resp, err := retryWithBackoff(ctx, c.retry, c.logger, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(req)
	})
	if err != nil {
		return "", domain.APIError("Failed to send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", domain.APIError(fmt.Sprintf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes))), nil)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.APIError("Failed to decode response", err)
	}
	if out.Error != "" {
		return "", domain.APIError(out.Error, nil)
	}

	text := strings.TrimSpace(out.Message.Content)
	if text == "" {
		return "", domain.APIError("model returned no content", domain.ErrEmptyResponse)
	}
	return text, nil
}

// buildRequest constructs the chat request with the image attached inline
func (c *OllamaClient) buildRequest(prompt string, image []byte) *chatRequest {
	msg := chatMessage{
		Role:    "user",
		Content: prompt,
	}
	if len(image) > 0 {
		msg.Images = []string{base64.StdEncoding.EncodeToString(image)}
	}

	return &chatRequest{
		Model:    c.model,
		Messages: []chatMessage{msg},
		Stream:   false,
		Options: map[string]any{
			"temperature": c.temperature,
			"num_ctx":     defaultNumCtx,
		},
	}
}
