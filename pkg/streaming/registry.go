package streaming

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chorus/pkg/events"
)

const DefaultStreamType = "multi-model"

type RegistryConfig struct {
	BaseCtx context.Context
	Events  *events.Router
	Config  Config
}

// Registry owns the session table: admission against the concurrency
// ceiling, client bookkeeping per transport, the event counter, and removal
// of finished sessions after a grace window.
type Registry struct {
	baseCtx context.Context
	events  *events.Router
	cfg     Config

	mu           sync.Mutex
	sessions     map[string]*Session
	clients      map[string]map[string]struct{}
	sweepRunning bool

	totalEvents atomic.Uint64
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.BaseCtx == nil {
		return nil, errors.New("registry base context is nil")
	}
	if cfg.Events == nil {
		return nil, errors.New("registry event router is nil")
	}
	return &Registry{
		baseCtx:  cfg.BaseCtx,
		events:   cfg.Events,
		cfg:      cfg.Config.withDefaults(),
		sessions: map[string]*Session{},
		clients:  map[string]map[string]struct{}{},
	}, nil
}

func (r *Registry) Config() Config { return r.cfg }

// InitializeStream admits a new session and returns it together with its
// work context. The context is canceled when the stream completes, times
// out, or is force-completed, so adapter calls hang off it.
//
// An active session for the same conversation is rejected; a terminal one
// still inside its removal grace window is replaced.
func (r *Registry) InitializeStream(convID, streamType string) (*Session, context.Context, error) {
	if r == nil {
		return nil, nil, errors.New("registry is nil")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return nil, nil, errors.New("missing conversation id")
	}
	if streamType == "" {
		streamType = DefaultStreamType
	}

	r.mu.Lock()
	if existing := r.sessions[convID]; existing != nil {
		if existing.Active() {
			r.mu.Unlock()
			return nil, nil, ErrStreamActive
		}
		existing.stopRemovalTimer()
		delete(r.sessions, convID)
	}
	active := 0
	for _, s := range r.sessions {
		if s.Active() {
			active++
		}
	}
	if active >= r.cfg.MaxConcurrentStreams {
		r.mu.Unlock()
		log.Warn().
			Str("component", "streaming").
			Str("conv_id", convID).
			Int("active", active).
			Msg("stream rejected at capacity ceiling")
		return nil, nil, ErrCapacityExceeded
	}
	ctx, cancel := context.WithCancel(r.baseCtx)
	session := newSession(convID, streamType, cancel)
	r.sessions[convID] = session
	r.mu.Unlock()

	log.Info().
		Str("component", "streaming").
		Str("conv_id", convID).
		Str("stream_type", streamType).
		Msg("stream initialized")
	return session, ctx, nil
}

func (r *Registry) Get(convID string) (*Session, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[convID]
	return s, ok
}

// Sessions returns ordered-by-nothing snapshots of every tracked session,
// including terminal ones inside their grace window.
func (r *Registry) Sessions() []SessionView {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()
	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.Snapshot())
	}
	return views
}

// CompleteStream finalizes the conversation's session: marks it inactive,
// emits stream_completed, and schedules removal after the grace window.
// Safe to call more than once; only the first completion emits.
func (r *Registry) CompleteStream(convID string) error {
	if r == nil {
		return errors.New("registry is nil")
	}
	r.mu.Lock()
	session := r.sessions[convID]
	r.mu.Unlock()
	if session == nil {
		return ErrSessionNotFound
	}
	r.completeSession(session, "")
	return nil
}

func (r *Registry) completeSession(session *Session, reason string) {
	duration, totalChunks, wasActive := session.complete()
	if !wasActive {
		return
	}
	session.Cancel()

	convID := session.ConversationID()
	r.emit(events.NewStreamCompleted(convID, duration, totalChunks))

	evt := log.Info().
		Str("component", "streaming").
		Str("conv_id", convID).
		Dur("duration", duration).
		Int("total_chunks", totalChunks)
	if reason != "" {
		evt = evt.Str("reason", reason)
	}
	evt.Msg("stream completed")

	session.scheduleRemoval(r.cfg.RemovalGrace, func() {
		r.removeSession(session)
	})
}

func (r *Registry) removeSession(session *Session) {
	convID := session.ConversationID()
	r.mu.Lock()
	current, ok := r.sessions[convID]
	if !ok || current != session {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, convID)
	r.mu.Unlock()

	r.events.StopForwarder(convID)
	log.Debug().Str("component", "streaming").Str("conv_id", convID).Msg("session removed after grace")
}

// BroadcastEvent publishes the event to every transport via the spine.
// Delivery downstream is fire-and-forget; the returned error only covers
// publishing itself.
func (r *Registry) BroadcastEvent(ev events.Event) error {
	if r == nil {
		return errors.New("registry is nil")
	}
	if err := r.events.Publish(r.baseCtx, ev); err != nil {
		return err
	}
	r.totalEvents.Add(1)
	return nil
}

// emit is BroadcastEvent for internal paths where a publish failure is only
// worth a log line.
func (r *Registry) emit(ev events.Event) {
	if err := r.BroadcastEvent(ev); err != nil {
		log.Warn().Err(err).
			Str("component", "streaming").
			Str("conv_id", ev.ConversationID).
			Str("event_type", ev.Type).
			Msg("event publish failed")
	}
}

func (r *Registry) RegisterClient(transport, clientID string) {
	if r == nil || transport == "" || clientID == "" {
		return
	}
	r.mu.Lock()
	set, ok := r.clients[transport]
	if !ok {
		set = map[string]struct{}{}
		r.clients[transport] = set
	}
	set[clientID] = struct{}{}
	r.mu.Unlock()
	log.Debug().Str("component", "streaming").Str("transport", transport).Str("client_id", clientID).Msg("client registered")
}

func (r *Registry) UnregisterClient(transport, clientID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if set, ok := r.clients[transport]; ok {
		delete(set, clientID)
	}
	r.mu.Unlock()
	log.Debug().Str("component", "streaming").Str("transport", transport).Str("client_id", clientID).Msg("client unregistered")
}

type Stats struct {
	ActiveStreams       int            `json:"activeStreams"`
	ClientsPerTransport map[string]int `json:"clientsPerTransport"`
	TotalEventsEmitted  uint64         `json:"totalEventsEmitted"`
}

func (r *Registry) Stats() Stats {
	if r == nil {
		return Stats{ClientsPerTransport: map[string]int{}}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := Stats{
		ClientsPerTransport: make(map[string]int, len(r.clients)),
		TotalEventsEmitted:  r.totalEvents.Load(),
	}
	for _, s := range r.sessions {
		if s.Active() {
			stats.ActiveStreams++
		}
	}
	for transport, set := range r.clients {
		stats.ClientsPerTransport[transport] = len(set)
	}
	return stats
}
