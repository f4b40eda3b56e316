package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/spherical/manual-processor/internal/domain"
)

// chatGenerator is the subset of an eino chat model the client needs
type chatGenerator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error)
}

// EinoClient serves any OpenAI-compatible endpoint (OpenAI, OpenRouter, vLLM)
// through the eino chat model abstraction.
type EinoClient struct {
	model       string
	temperature float32
	chat        chatGenerator
}

// NewEinoClient creates a chat model for one model name
func NewEinoClient(ctx context.Context, baseURL, apiKey, model string, temperature float64) (*EinoClient, error) {
	if apiKey == "" {
		return nil, domain.ConfigError("API key is required for OpenAI-compatible inference", nil)
	}

	temp := float32(temperature)
	cfg := &openai.ChatModelConfig{
		Model:       model,
		APIKey:      apiKey,
		Temperature: &temp,
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	chat, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, domain.ConfigError("failed to create chat model", err)
	}

	return &EinoClient{model: model, temperature: temp, chat: chat}, nil
}

// Generate sends one prompt (and optional PNG image) and returns the reply text
func (c *EinoClient) Generate(ctx context.Context, prompt string, image []byte) (string, error) {
	resp, err := c.chat.Generate(ctx, []*schema.Message{buildMessage(prompt, image)},
		einomodel.WithTemperature(c.temperature))
	if err != nil {
		return "", domain.APIError(fmt.Sprintf("%s generation failed", c.model), err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", domain.APIError("model returned no content", domain.ErrEmptyResponse)
	}
	return strings.TrimSpace(resp.Content), nil
}

func buildMessage(prompt string, image []byte) *schema.Message {
	if len(image) == 0 {
		return schema.UserMessage(prompt)
	}

	return &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{
				Type: schema.ChatMessagePartTypeText,
				Text: prompt,
			},
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
				},
			},
		},
	}
}
