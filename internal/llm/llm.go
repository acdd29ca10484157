// ABOUTME: Language-model proxy over any OpenAI-compatible chat completion API
// ABOUTME: Proxy.Query sends one user message and returns the trimmed reply text

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// DefaultBaseURL is Groq's OpenAI-compatible endpoint
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// DefaultTimeout bounds a single upstream call
const DefaultTimeout = 60 * time.Second

var (
	// ErrEmptyMessage is returned when the query is blank
	ErrEmptyMessage = errors.New("message is required")

	// ErrUpstream is returned when the model API fails or returns no usable reply
	ErrUpstream = errors.New("upstream model error")
)

// Client is the subset of openai.Client used by the proxy; it is easy to mock in tests.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config holds proxy settings
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
	Timeout      time.Duration
}

// NewClient creates an OpenAI-compatible client pointed at cfg.BaseURL
func NewClient(cfg Config) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	if clientCfg.BaseURL == "" {
		clientCfg.BaseURL = DefaultBaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

// Proxy forwards single-message queries to the model
type Proxy struct {
	client Client
	cfg    Config
	logger *slog.Logger
}

// NewProxy creates a Proxy. If logger is nil, slog.Default() is used.
func NewProxy(client Client, cfg Config, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Proxy{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "llm"),
	}
}

// Query sends message to the model and returns the reply.
// A blank message returns ErrEmptyMessage without calling upstream.
func (p *Proxy) Query(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Messages:    p.buildMessages(message),
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		p.logger.Warn("chat completion failed", "model", p.cfg.Model, "error", err, "elapsed", time.Since(start))
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrUpstream)
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", ErrUpstream)
	}

	p.logger.Debug("chat completion",
		"model", p.cfg.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"elapsed", time.Since(start),
	)
	return reply, nil
}

func (p *Proxy) buildMessages(message string) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if p.cfg.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: p.cfg.SystemPrompt,
		})
	}
	return append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})
}
