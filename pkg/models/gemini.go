package models

import (
	"context"
	"io"
	"iter"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/genai"
)

type GeminiConfig struct {
	// Name is the registry key. Defaults to "gemini".
	Name   string
	APIKey string
	// Model must not start with "models/", e.g. "gemini-2.0-flash".
	Model string
}

// Gemini adapts the Google GenAI API.
type Gemini struct {
	name   string
	model  string
	client *genai.Client
}

var _ Streamer = (*Gemini)(nil)

func NewGemini(cfg GeminiConfig) (*Gemini, error) {
	name := cfg.Name
	if name == "" {
		name = "gemini"
	}
	a := &Gemini{name: name, model: cfg.Model}
	if cfg.APIKey == "" {
		return a, nil
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, errors.Wrap(err, "genai client")
	}
	a.client = client
	return a, nil
}

func (a *Gemini) Name() string { return a.name }

func (a *Gemini) Available() bool { return a != nil && a.client != nil }

func (a *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	if !a.Available() {
		return "", errors.Errorf("adapter %s is not configured", a.name)
	}
	resp, err := a.client.Models.GenerateContent(ctx, a.model, promptContents(prompt), nil)
	if err != nil {
		return "", errors.Wrapf(err, "gemini %s", a.name)
	}
	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

func (a *Gemini) GenerateStream(ctx context.Context, prompt string) (*Stream, error) {
	if !a.Available() {
		return nil, errors.Errorf("adapter %s is not configured", a.name)
	}
	next, stop := iter.Pull2(a.client.Models.GenerateContentStream(ctx, a.model, promptContents(prompt), nil))

	pull := func() (string, error) {
		for {
			chunk, err, ok := next()
			if !ok {
				return "", io.EOF
			}
			if err != nil {
				return "", errors.Wrapf(err, "gemini %s stream", a.name)
			}
			text := chunkText(chunk)
			if text == "" {
				continue
			}
			return text, nil
		}
	}
	return NewStream(pull, func() error {
		stop()
		return nil
	}), nil
}

func promptContents(prompt string) []*genai.Content {
	return []*genai.Content{
		{Parts: []*genai.Part{{Text: prompt}}, Role: "user"},
	}
}

func chunkText(chunk *genai.GenerateContentResponse) string {
	if chunk == nil || len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range chunk.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}
