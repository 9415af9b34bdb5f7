// Package openaicompat implements llm.Provider for any endpoint that speaks
// the OpenAI chat-completions protocol.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iWaraxe/L3StructuredOutput-sub000/internal/ctxkeys"
	"github.com/iWaraxe/L3StructuredOutput-sub000/internal/tlsutil"
	"github.com/iWaraxe/L3StructuredOutput-sub000/llm"
	"github.com/iWaraxe/L3StructuredOutput-sub000/llm/providers"
)

// Correlation headers sent with every call made on behalf of a conversion.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderAttempt   = "X-Structconv-Attempt"
)

// Config holds the configuration for an OpenAI-compatible provider.
type Config struct {
	// ProviderName identifies the provider in errors, logs and metrics.
	ProviderName string `json:"name" yaml:"name"`

	APIKey  string `json:"-" yaml:"api_key"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`

	// SystemPrompt is sent as the first message when non-empty.
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt"`

	Temperature float32 `json:"temperature,omitempty" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens"`

	// JSONMode asks the endpoint for response_format {"type":"json_object"}.
	JSONMode bool `json:"json_mode,omitempty" yaml:"json_mode"`

	// Timeout is the HTTP client timeout. Defaults to 60s.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout"`

	// EndpointPath defaults to "/v1/chat/completions".
	EndpointPath string `json:"endpoint_path,omitempty" yaml:"endpoint_path"`

	// Headers are added to every request.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float32         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason"`
	Message      message `json:"message"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// Provider calls an OpenAI-compatible chat-completions endpoint.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// Option customizes a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default hardened HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates a Provider.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("provider", cfg.ProviderName)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.cfg.ProviderName }

func (p *Provider) endpoint() string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.EndpointPath
}

// Call implements llm.Provider.
func (p *Provider) Call(ctx context.Context, prompt string) (string, error) {
	body := chatRequest{
		Model:       p.cfg.Model,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	}
	if model, ok := ctxkeys.LLMModel(ctx); ok {
		body.Model = model
	}
	if p.cfg.SystemPrompt != "" {
		body.Messages = append(body.Messages, message{Role: "system", Content: p.cfg.SystemPrompt})
	}
	body.Messages = append(body.Messages, message{Role: "user", Content: prompt})
	if p.cfg.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", p.fatal(llm.CodeInvalidRequest, "marshal request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return "", p.fatal(llm.CodeInvalidRequest, "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	if id, ok := ctxkeys.RequestID(ctx); ok {
		req.Header.Set(HeaderRequestID, id)
	}
	if n, ok := ctxkeys.Attempt(ctx); ok {
		req.Header.Set(HeaderAttempt, strconv.Itoa(n))
	}
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return "", p.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		e := providers.MapHTTPError(resp, p.Name())
		p.logger.Debug("provider returned error status",
			zap.Int("status", resp.StatusCode),
			zap.String("kind", string(e.Kind)),
			zap.Duration("latency", time.Since(start)),
		)
		return "", e
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		e := llm.Transient(llm.CodeUpstreamError, "decode response")
		e.Provider, e.HTTPStatus, e.Cause = p.Name(), resp.StatusCode, err
		return "", e
	}
	if len(out.Choices) == 0 {
		e := llm.Transient(llm.CodeEmptyResponse, "response has no choices")
		e.Provider, e.HTTPStatus = p.Name(), resp.StatusCode
		return "", e
	}

	choice := out.Choices[0]
	if choice.FinishReason == "content_filter" {
		e := llm.ContentFiltered("completion stopped by content filter")
		e.Provider, e.HTTPStatus = p.Name(), resp.StatusCode
		return "", e
	}

	fields := []zap.Field{
		zap.String("model", out.Model),
		zap.String("finish_reason", choice.FinishReason),
		zap.Duration("latency", time.Since(start)),
	}
	if out.Usage != nil {
		fields = append(fields, zap.Int("total_tokens", out.Usage.TotalTokens))
	}
	p.logger.Debug("completion received", fields...)
	return choice.Message.Content, nil
}

// transportError classifies a failed round trip. A deadline on the
// request is a transient upstream timeout; cancellation is passed through
// so callers can tell it apart from provider failures.
func (p *Provider) transportError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		e := llm.Transient(llm.CodeUpstreamTimeout, "request timed out")
		e.Provider, e.Cause = p.Name(), err
		return e
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		e := llm.Transient(llm.CodeUpstreamTimeout, "request timed out")
		e.Provider, e.Cause = p.Name(), err
		return e
	}
	e := llm.Transient(llm.CodeTransport, "request failed")
	e.Provider, e.Cause = p.Name(), err
	return e
}

func (p *Provider) fatal(code, msg string, cause error) error {
	e := llm.Fatal(code, fmt.Sprintf("%s: %v", msg, cause))
	e.Provider = p.Name()
	return e
}
