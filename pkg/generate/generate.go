// Package generate calls an external chat-completion API to answer gpt-mode
// prompts, falling back across the providers configured for the model.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pario-ai/linecompute/pkg/config"
	"github.com/pario-ai/linecompute/pkg/models"
)

// anthropicVersion is sent on every Anthropic request.
const anthropicVersion = "2023-06-01"

// maxErrorBody bounds how much of a failed response ends up in an error.
const maxErrorBody = 512

var (
	// ErrBackend matches every failure to obtain a completion.
	ErrBackend = errors.New("backend error")
	// ErrMissingCredential is reported when a provider has no API key.
	ErrMissingCredential = errors.New("missing API key")
	// ErrEmptyCompletion is reported when a provider answers without any text.
	ErrEmptyCompletion = errors.New("empty completion")
)

// Generator turns a prompt into generated text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Error describes a failed completion attempt against one provider.
type Error struct {
	Provider string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is ErrBackend.
func (e *Error) Is(target error) bool { return target == ErrBackend }

// Client is a Generator backed by OpenAI- or Anthropic-compatible HTTP APIs.
type Client struct {
	cfg      config.GeneratorConfig
	targets  []target
	chainErr error
	http     *http.Client
}

// New creates a Client for cfg's model and sampling parameters. The fallback
// chain is resolved once from providers and routes; a chain that cannot be
// built is reported by Ready and by every Generate call.
func New(cfg config.GeneratorConfig, providers []config.ProviderConfig, routes []config.RouteConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	targets, err := chain(cfg.Model, providers, routes)
	return &Client{
		cfg:      cfg,
		targets:  targets,
		chainErr: err,
		http:     &http.Client{Timeout: timeout},
	}
}

// Ready reports whether any provider can serve the configured model.
func (c *Client) Ready() error {
	if c.chainErr != nil {
		return fmt.Errorf("model %s: %w", c.cfg.Model, c.chainErr)
	}
	return nil
}

// Generate sends prompt as a single user message and returns the first
// completion with surrounding whitespace trimmed. Transport failures and 5xx
// responses move on to the next target; any other failure is returned as is.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.chainErr != nil {
		return "", &Error{Provider: "none", Err: c.Ready()}
	}

	log := zerolog.Ctx(ctx)
	var lastErr error
	for i, t := range c.targets {
		text, err := c.try(ctx, t, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !fallback(err) || i == len(c.targets)-1 {
			break
		}
		log.Warn().Err(err).Str("target", t.String()).Msg("generator upstream failed, trying next")
	}
	return "", lastErr
}

func (c *Client) try(ctx context.Context, t target, prompt string) (string, error) {
	p := t.provider
	if p.APIKey == "" {
		return "", &Error{Provider: p.Name, Err: ErrMissingCredential}
	}

	messages := []models.ChatMessage{{Role: "user", Content: prompt}}
	temperature := c.cfg.Temperature
	maxTokens := c.cfg.MaxTokens

	var (
		path    string
		headers map[string]string
		body    any
	)
	switch p.Type {
	case "anthropic":
		path = "/v1/messages"
		headers = map[string]string{
			"x-api-key":         p.APIKey,
			"anthropic-version": anthropicVersion,
		}
		body = models.AnthropicRequest{
			Model:       t.model,
			Messages:    messages,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
		}
	default:
		path = "/v1/chat/completions"
		headers = map[string]string{"Authorization": "Bearer " + p.APIKey}
		body = models.ChatCompletionRequest{
			Model:       t.model,
			Messages:    messages,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		}
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return "", &Error{Provider: p.Name, Err: fmt.Errorf("encode request: %w", err)}
	}

	status, respBody, err := c.do(ctx, p.URL+path, headers, reqBody)
	if err != nil {
		return "", &Error{Provider: p.Name, Err: err}
	}
	if status != http.StatusOK {
		return "", &Error{Provider: p.Name, Status: status, Err: errors.New(errorMessage(respBody))}
	}

	text, err := extractText(p.Type, respBody)
	if err != nil {
		return "", &Error{Provider: p.Name, Err: err}
	}
	return text, nil
}

func (c *Client) do(ctx context.Context, url string, headers map[string]string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func extractText(providerType string, body []byte) (string, error) {
	if providerType == "anthropic" {
		var resp models.AnthropicResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		for _, c := range resp.Content {
			if c.Type == "text" {
				return strings.TrimSpace(c.Text), nil
			}
		}
		return "", ErrEmptyCompletion
	}

	var resp models.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// errorMessage pulls the provider's error message out of a failed response,
// falling back to the raw body.
func errorMessage(body []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	if s == "" {
		return "no response body"
	}
	return s
}
