package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// ModelProgress is the per-model slice of a session. Progress is in [0,1]
// and never decreases; Status only ever moves pending -> streaming ->
// completed or error.
type ModelProgress struct {
	Status    Status  `json:"status"`
	Progress  float64 `json:"progress"`
	Completed bool    `json:"completed"`
	Err       string  `json:"error,omitempty"`
}

// Session tracks one streaming run for a conversation. All state behind the
// mutex; chunk accounting stores counts and sizes only, never chunk text, so
// a session's footprint does not grow with response length.
type Session struct {
	conversationID string
	streamType     string
	startTime      time.Time
	cancel         context.CancelFunc

	mu          sync.Mutex
	endTime     time.Time
	active      bool
	modelOrder  []string
	progress    map[string]*ModelProgress
	chunkCount  int
	chunkBytes  int64
	removeTimer *time.Timer
}

func newSession(convID, streamType string, cancel context.CancelFunc) *Session {
	return &Session{
		conversationID: convID,
		streamType:     streamType,
		startTime:      time.Now(),
		cancel:         cancel,
		active:         true,
		progress:       map[string]*ModelProgress{},
	}
}

func (s *Session) ConversationID() string { return s.conversationID }

func (s *Session) StreamType() string { return s.streamType }

func (s *Session) StartTime() time.Time { return s.startTime }

func (s *Session) Active() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Cancel aborts the session's work context. In-flight model units observe
// the cancellation and stop.
func (s *Session) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// InitModels creates pending progress entries in the given order. The order
// is preserved for every later iteration.
func (s *Session) InitModels(names []string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if _, ok := s.progress[name]; ok {
			continue
		}
		s.modelOrder = append(s.modelOrder, name)
		s.progress[name] = &ModelProgress{Status: StatusPending}
	}
}

func (s *Session) MarkStreaming(model string) error {
	if s == nil {
		return errors.New("session is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[model]
	if !ok {
		return errors.Errorf("model %s not tracked", model)
	}
	if p.Status != StatusPending {
		return errors.Errorf("model %s cannot stream from %s", model, p.Status)
	}
	p.Status = StatusStreaming
	return nil
}

// SetProgress raises the model's progress. Decreases and out-of-range values
// are clamped away; terminal models ignore updates.
func (s *Session) SetProgress(model string, progress float64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[model]
	if !ok {
		return
	}
	if p.Status == StatusCompleted || p.Status == StatusError {
		return
	}
	if progress > 1 {
		progress = 1
	}
	if progress > p.Progress {
		p.Progress = progress
	}
}

func (s *Session) MarkCompleted(model string) error {
	if s == nil {
		return errors.New("session is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[model]
	if !ok {
		return errors.Errorf("model %s not tracked", model)
	}
	if p.Status != StatusStreaming {
		return errors.Errorf("model %s cannot complete from %s", model, p.Status)
	}
	p.Status = StatusCompleted
	p.Progress = 1
	p.Completed = true
	return nil
}

func (s *Session) MarkError(model string, cause error) error {
	if s == nil {
		return errors.New("session is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[model]
	if !ok {
		return errors.Errorf("model %s not tracked", model)
	}
	if p.Status != StatusStreaming {
		return errors.Errorf("model %s cannot fail from %s", model, p.Status)
	}
	p.Status = StatusError
	if cause != nil {
		p.Err = cause.Error()
	}
	return nil
}

// AddChunk records one emitted chunk of the given byte size.
func (s *Session) AddChunk(size int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.chunkCount++
	s.chunkBytes += int64(size)
	s.mu.Unlock()
}

func (s *Session) TotalChunks() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkCount
}

// complete transitions the session to its terminal state. Idempotent: only
// the first call reports wasActive.
func (s *Session) complete() (duration time.Duration, totalChunks int, wasActive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return s.endTime.Sub(s.startTime), s.chunkCount, false
	}
	s.active = false
	s.endTime = time.Now()
	return s.endTime.Sub(s.startTime), s.chunkCount, true
}

func (s *Session) scheduleRemoval(grace time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeTimer != nil {
		return
	}
	s.removeTimer = time.AfterFunc(grace, fn)
}

func (s *Session) stopRemovalTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeTimer != nil {
		s.removeTimer.Stop()
		s.removeTimer = nil
	}
}

// ModelState pairs a model name with its progress for ordered snapshots.
type ModelState struct {
	Model string `json:"model"`
	ModelProgress
}

// SessionView is a point-in-time copy of a session, safe to serialize.
type SessionView struct {
	ConversationID  string       `json:"conversationId"`
	StreamType      string       `json:"streamType"`
	StartTime       time.Time    `json:"startTime"`
	EndTime         *time.Time   `json:"endTime,omitempty"`
	Active          bool         `json:"isActive"`
	Models          []ModelState `json:"models"`
	TotalChunks     int          `json:"totalChunks"`
	TotalChunkBytes int64        `json:"totalChunkBytes"`
}

func (s *Session) Snapshot() SessionView {
	if s == nil {
		return SessionView{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	view := SessionView{
		ConversationID:  s.conversationID,
		StreamType:      s.streamType,
		StartTime:       s.startTime,
		Active:          s.active,
		TotalChunks:     s.chunkCount,
		TotalChunkBytes: s.chunkBytes,
	}
	if !s.endTime.IsZero() {
		end := s.endTime
		view.EndTime = &end
	}
	view.Models = make([]ModelState, 0, len(s.modelOrder))
	for _, name := range s.modelOrder {
		p := s.progress[name]
		view.Models = append(view.Models, ModelState{Model: name, ModelProgress: *p})
	}
	return view
}
