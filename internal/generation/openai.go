package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultSystemPrompt frames every text completion.
const DefaultSystemPrompt = "Ты - мудрый психолог и специалист по архетипам. " +
	"Твоя задача - создавать глубокие, метафорические интерпретации состояний человека через архетипические образы. " +
	"Отвечай на русском языке, используй поэтический и образный язык."

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	TextModel    string
	ImageModel   string
	ImageSize    string
	ImageQuality string
	Temperature  float32
	SystemPrompt string
	HTTPClient   *http.Client
}

// OpenAIProvider implements Provider with chat completions and image
// generation.
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIProvider creates a provider. The API key is required.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is empty")
	}
	if cfg.TextModel == "" {
		cfg.TextModel = openai.GPT4
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = openai.CreateImageModelDallE3
	}
	if cfg.ImageSize == "" {
		cfg.ImageSize = openai.CreateImageSize1024x1024
	}
	if cfg.ImageQuality == "" {
		cfg.ImageQuality = openai.CreateImageQualityStandard
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIProvider{client: openai.NewClientWithConfig(oc), cfg: cfg}, nil
}

// GenerateText runs a chat completion with the system prompt and prompt.
func (p *OpenAIProvider) GenerateText(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.cfg.TextModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.cfg.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: p.cfg.Temperature,
	})
	if err != nil {
		return "", classifyOpenAIError(KindText, err)
	}
	if len(resp.Choices) == 0 {
		return "", TransientError(KindText, 0, errors.New("completion has no choices"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// GenerateImage creates one image and returns its URL.
func (p *OpenAIProvider) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          p.cfg.ImageModel,
		N:              1,
		Size:           p.cfg.ImageSize,
		Quality:        p.cfg.ImageQuality,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", classifyOpenAIError(KindImage, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", TransientError(KindImage, 0, errors.New("image response has no url"))
	}
	return resp.Data[0].URL, nil
}

// classifyOpenAIError maps SDK errors onto ProviderError. An exhausted
// quota is reported as 429 by the API but will not recover on retry.
func classifyOpenAIError(kind Kind, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := fmt.Sprint(apiErr.Code)
		if code == "insufficient_quota" || apiErr.Type == "insufficient_quota" {
			return FatalError(kind, apiErr.HTTPStatusCode, err)
		}
		if RetryableStatus(apiErr.HTTPStatusCode) {
			return TransientError(kind, apiErr.HTTPStatusCode, err)
		}
		return FatalError(kind, apiErr.HTTPStatusCode, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if RetryableStatus(reqErr.HTTPStatusCode) {
			return TransientError(kind, reqErr.HTTPStatusCode, err)
		}
		return FatalError(kind, reqErr.HTTPStatusCode, err)
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	if IsTransient(err) {
		return TransientError(kind, 0, err)
	}
	return FatalError(kind, 0, err)
}
