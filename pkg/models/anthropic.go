package models

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const anthropicVersion = "2023-06-01"

type AnthropicConfig struct {
	// Name is the registry key. Defaults to "claude".
	Name   string
	APIKey string
	// BaseURL defaults to the public API endpoint.
	BaseURL string
	// Model is the upstream model id, e.g. "claude-sonnet-4-5".
	Model string
	// MaxTokens bounds the response length. Defaults to 1024.
	MaxTokens  int
	HTTPClient *http.Client
}

// Anthropic adapts the Anthropic Messages API over plain HTTP, including the
// SSE streaming variant.
type Anthropic struct {
	name      string
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
}

var _ Streamer = (*Anthropic)(nil)

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	name := cfg.Name
	if name == "" {
		name = "claude"
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &Anthropic{
		name:      name,
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		model:     cfg.Model,
		maxTokens: maxTokens,
		client:    client,
	}
}

func (a *Anthropic) Name() string { return a.name }

func (a *Anthropic) Available() bool { return a != nil && a.apiKey != "" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Error   *anthropicError         `json:"error,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (a *Anthropic) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := a.send(ctx, prompt, false)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrapf(err, "anthropic %s read body", a.name)
	}
	var wire anthropicResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return "", errors.Wrapf(err, "anthropic %s decode", a.name)
	}
	if wire.Error != nil {
		return "", errors.Errorf("anthropic %s: %s: %s", a.name, wire.Error.Type, wire.Error.Message)
	}
	var sb strings.Builder
	for _, block := range wire.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func (a *Anthropic) GenerateStream(ctx context.Context, prompt string) (*Stream, error) {
	resp, err := a.send(ctx, prompt, true)
	if err != nil {
		return nil, err
	}

	scanner := newSSEScanner(resp.Body)
	next := func() (string, error) {
		for {
			if !scanner.Next() {
				if err := scanner.Err(); err != nil {
					return "", errors.Wrapf(err, "anthropic %s stream", a.name)
				}
				return "", io.EOF
			}
			ev := scanner.Event()
			switch ev.Type {
			case "content_block_delta":
				var envelope struct {
					Delta struct {
						Type string `json:"type"`
						Text string `json:"text"`
					} `json:"delta"`
				}
				if err := json.Unmarshal([]byte(ev.Data), &envelope); err != nil {
					return "", errors.Wrapf(err, "anthropic %s parse delta", a.name)
				}
				if envelope.Delta.Type != "text_delta" || envelope.Delta.Text == "" {
					continue
				}
				return envelope.Delta.Text, nil
			case "message_stop":
				return "", io.EOF
			case "error":
				var envelope struct {
					Error anthropicError `json:"error"`
				}
				if json.Unmarshal([]byte(ev.Data), &envelope) == nil && envelope.Error.Message != "" {
					return "", errors.Errorf("anthropic %s stream: %s: %s", a.name, envelope.Error.Type, envelope.Error.Message)
				}
				return "", errors.Errorf("anthropic %s stream: %s", a.name, ev.Data)
			default:
				// message_start, content_block_start/stop, ping, message_delta
				continue
			}
		}
	}
	return NewStream(next, resp.Body.Close), nil
}

func (a *Anthropic) send(ctx context.Context, prompt string, stream bool) (*http.Response, error) {
	if !a.Available() {
		return nil, errors.Errorf("adapter %s is not configured", a.name)
	}
	wire := anthropicRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
		Stream:    stream,
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, errors.Wrapf(err, "anthropic %s marshal", a.name)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, "anthropic %s request", a.name)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", a.apiKey)
	req.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "anthropic %s call", a.name)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var wireErr anthropicResponse
		if json.Unmarshal(data, &wireErr) == nil && wireErr.Error != nil {
			return nil, errors.Errorf("anthropic %s: %s: %s", a.name, wireErr.Error.Type, wireErr.Error.Message)
		}
		return nil, errors.Errorf("anthropic %s: unexpected status %d", a.name, resp.StatusCode)
	}
	return resp, nil
}
