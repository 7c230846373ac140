package transport

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chorus/pkg/streaming"
)

const (
	DefaultHeartbeatInterval = 10 * time.Second
	defaultClientBuffer      = 64
)

type SSEHubConfig struct {
	Registry *streaming.Registry
	// HeartbeatInterval paces the keepalive comment. Defaults to 10s.
	HeartbeatInterval time.Duration
	// ClientBuffer is the per-client queue depth; a full queue drops events
	// for that client only.
	ClientBuffer int
}

type sseClient struct {
	id string
	// conv filters delivery to one conversation; empty receives everything.
	conv string
	ch   chan []byte
}

// SSEHub streams events as server-sent events. Each client gets a buffered
// queue; the HTTP handler drains it onto the wire and heartbeats while idle.
type SSEHub struct {
	registry  *streaming.Registry
	heartbeat time.Duration
	buffer    int

	mu      sync.Mutex
	clients map[*sseClient]struct{}

	dropped atomic.Uint64
}

func NewSSEHub(cfg SSEHubConfig) (*SSEHub, error) {
	if cfg.Registry == nil {
		return nil, errors.New("sse hub registry is nil")
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	buffer := cfg.ClientBuffer
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	return &SSEHub{
		registry:  cfg.Registry,
		heartbeat: heartbeat,
		buffer:    buffer,
		clients:   map[*sseClient]struct{}{},
	}, nil
}

func (h *SSEHub) Name() string { return "sse" }

// Deliver queues the payload for every client watching the conversation.
// Clients that cannot keep up lose events, not their connection.
func (h *SSEHub) Deliver(conversationID string, payload []byte) {
	if h == nil || len(payload) == 0 {
		return
	}
	h.mu.Lock()
	for client := range h.clients {
		if client.conv != "" && client.conv != conversationID {
			continue
		}
		select {
		case client.ch <- payload:
		default:
			h.dropped.Add(1)
			log.Debug().
				Str("component", "transport").
				Str("conv_id", conversationID).
				Str("client_id", client.id).
				Msg("sse client queue full, dropping event")
		}
	}
	h.mu.Unlock()
}

// CloseConversation is a no-op for SSE: clients outlive conversations and
// their request context ends the connection.
func (h *SSEHub) CloseConversation(string) {}

// Dropped reports events dropped on full client queues.
func (h *SSEHub) Dropped() uint64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// ServeHTTP attaches the caller as an SSE client until its request context
// ends. `?conv=<id>` narrows delivery to one conversation.
func (h *SSEHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	client := &sseClient{
		id:   uuid.NewString(),
		conv: strings.TrimSpace(r.URL.Query().Get("conv")),
		ch:   make(chan []byte, h.buffer),
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.registry.RegisterClient(h.Name(), client.id)
	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		h.registry.UnregisterClient(h.Name(), client.id)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	log.Debug().
		Str("component", "transport").
		Str("transport", h.Name()).
		Str("client_id", client.id).
		Str("conv_id", client.conv).
		Msg("sse client attached")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-client.ch:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
