package models

import (
	"context"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

type OpenAIConfig struct {
	// Name is the registry key. Defaults to "gpt".
	Name   string
	APIKey string
	// BaseURL overrides the API endpoint, for OpenAI-compatible servers.
	BaseURL string
	// Model is the upstream model id, e.g. "gpt-4o-mini".
	Model string
}

// OpenAI adapts the OpenAI chat completion API, including its streaming
// variant.
type OpenAI struct {
	name   string
	model  string
	client *openai.Client
}

var _ Streamer = (*OpenAI)(nil)

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	name := cfg.Name
	if name == "" {
		name = "gpt"
	}
	a := &OpenAI{name: name, model: cfg.Model}
	if cfg.APIKey == "" {
		return a
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	a.client = openai.NewClientWithConfig(clientCfg)
	return a
}

func (a *OpenAI) Name() string { return a.name }

func (a *OpenAI) Available() bool { return a != nil && a.client != nil }

func (a *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	if !a.Available() {
		return "", errors.Errorf("adapter %s is not configured", a.name)
	}
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "openai %s", a.name)
	}
	if len(resp.Choices) == 0 {
		return "", errors.Errorf("openai %s returned no choices", a.name)
	}
	return resp.Choices[0].Message.Content, nil
}

func (a *OpenAI) GenerateStream(ctx context.Context, prompt string) (*Stream, error) {
	if !a.Available() {
		return nil, errors.Errorf("adapter %s is not configured", a.name)
	}
	upstream, err := a.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "openai %s stream", a.name)
	}

	next := func() (string, error) {
		for {
			resp, err := upstream.Recv()
			if err != nil {
				// io.EOF passes through as the end-of-stream marker
				return "", err
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			return delta, nil
		}
	}
	return NewStream(next, upstream.Close), nil
}
