package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when the selected provider lacks credentials.
var ErrNotConfigured = errors.New("LLM provider not configured")

// Provider is the interface for LLM providers. Generate makes exactly one
// request; callers decide what a failure means.
type Provider interface {
	Generate(ctx context.Context, system, prompt string, maxTokens int) (string, error)
	IsConfigured() bool
	Name() string
}

// Options selects and configures a provider.
type Options struct {
	Provider    string // "openai" or "ollama"
	Model       string
	APIKey      string
	BaseURL     string // OpenAI-compatible endpoint; empty uses api.openai.com
	OllamaURL   string
	Temperature float32
	Timeout     time.Duration
}

// OpenAIProvider talks to the OpenAI chat completions API or any
// OpenAI-compatible endpoint.
type OpenAIProvider struct {
	Model       string
	Temperature float32
	apiKey      string
	client      *openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(model, apiKey, baseURL string, temperature float32) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		Model:       model,
		Temperature: temperature,
		apiKey:      apiKey,
		client:      openai.NewClientWithConfig(cfg),
	}
}

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.apiKey != ""
}

func (o *OpenAIProvider) Name() string { return "openai/" + o.Model }

// Generate sends a system and user message and returns the first choice.
func (o *OpenAIProvider) Generate(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	if !o.IsConfigured() {
		return "", fmt.Errorf("%w: OpenAI API key missing", ErrNotConfigured)
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}
	completion, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.Model,
		Messages:    messages,
		Temperature: o.Temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response")
	}
	return completion.Choices[0].Message.Content, nil
}

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model       string
	BaseURL     string
	Temperature float32
	client      *resty.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string, temperature float32, timeout time.Duration) *OllamaProvider {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &OllamaProvider{
		Model:       model,
		BaseURL:     baseURL,
		Temperature: temperature,
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// IsConfigured reports whether a base URL and model are set. It does not
// contact the server; an unreachable Ollama surfaces as a Generate error.
func (o *OllamaProvider) IsConfigured() bool {
	return o.BaseURL != "" && o.Model != ""
}

func (o *OllamaProvider) Name() string { return "ollama/" + o.Model }

// Generate sends a prompt to Ollama and returns the response.
func (o *OllamaProvider) Generate(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	body := map[string]any{
		"model": o.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": prompt},
		},
		"stream": false,
		"options": map[string]any{
			"num_predict": maxTokens,
			"temperature": o.Temperature,
		},
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post("/api/chat")
	if err != nil {
		return "", fmt.Errorf("ollama API error: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("ollama API returned %d: %s", resp.StatusCode(), resp.String())
	}

	return result.Message.Content, nil
}

// CreateProvider creates the LLM provider named in opts. There is no
// fallback between providers.
func CreateProvider(opts Options, logger *zap.Logger) (Provider, error) {
	var p Provider
	switch strings.ToLower(opts.Provider) {
	case "openai":
		p = NewOpenAIProvider(opts.Model, opts.APIKey, opts.BaseURL, opts.Temperature)
	case "ollama":
		p = NewOllamaProvider(opts.Model, opts.OllamaURL, opts.Temperature, opts.Timeout)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", opts.Provider)
	}

	if !p.IsConfigured() {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, p.Name())
	}
	logger.Info("Using LLM provider", zap.String("provider", p.Name()))
	return p, nil
}
