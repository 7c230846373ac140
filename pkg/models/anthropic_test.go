package models

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestAnthropic_UnavailableWithoutKey(t *testing.T) {
	a := NewAnthropic(AnthropicConfig{})
	require.False(t, a.Available())
	_, err := a.Generate(context.Background(), "hi")
	require.ErrorContains(t, err, "not configured")
}

func TestAnthropic_GenerateJoinsTextBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		require.Equal(t, anthropicVersion, r.Header.Get("Anthropic-Version"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Hello"},{"type":"text","text":" world"}]}`))
	}))
	defer srv.Close()

	a := NewAnthropic(AnthropicConfig{APIKey: "secret", BaseURL: srv.URL, Model: "claude-test"})
	got, err := a.Generate(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, "Hello world", got)
}

func TestAnthropic_GenerateSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	a := NewAnthropic(AnthropicConfig{APIKey: "bad", BaseURL: srv.URL})
	_, err := a.Generate(context.Background(), "hi")
	require.ErrorContains(t, err, "authentication_error")
}

func TestAnthropic_GenerateStreamDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: message_start\ndata: {\"message\":{}}\n\n")
		_, _ = io.WriteString(w, "event: content_block_delta\ndata: {\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n")
		_, _ = io.WriteString(w, "event: ping\ndata: {}\n\n")
		_, _ = io.WriteString(w, "event: content_block_delta\ndata: {\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n")
		_, _ = io.WriteString(w, "event: message_stop\ndata: {}\n\n")
	}))
	defer srv.Close()

	a := NewAnthropic(AnthropicConfig{APIKey: "secret", BaseURL: srv.URL, Model: "claude-test"})
	stream, err := a.GenerateStream(context.Background(), "hi")
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	var got []string
	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, frag)
	}
	require.Equal(t, []string{"Hel", "lo"}, got)
}

func TestAnthropic_GenerateStreamErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: content_block_delta\ndata: {\"delta\":{\"type\":\"text_delta\",\"text\":\"par\"}}\n\n")
		_, _ = io.WriteString(w, "event: error\ndata: {\"error\":{\"type\":\"overloaded_error\",\"message\":\"try later\"}}\n\n")
	}))
	defer srv.Close()

	a := NewAnthropic(AnthropicConfig{APIKey: "secret", BaseURL: srv.URL})
	stream, err := a.GenerateStream(context.Background(), "hi")
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	frag, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "par", frag)

	_, err = stream.Recv()
	require.ErrorContains(t, err, "overloaded_error")
}
