package events

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Event type strings as they appear on the wire. Clients key off these, so
// they are part of the public contract and never change casing.
const (
	TypeStreamStarted      = "stream_started"
	TypeModelStreamStarted = "model_stream_started"
	TypeModelChunk         = "model_chunk"
	TypeSynthesisStarted   = "synthesis_started"
	TypeSynthesisChunk     = "synthesis_chunk"
	TypeSynthesisCompleted = "synthesis_completed"
	TypeStreamCompleted    = "stream_completed"
	TypeStreamError        = "stream_error"
	TypeSynthesisError     = "synthesis_error"
)

// Event is a single immutable notification scoped to one conversation.
// Delivery is fire-and-forget; consumers must not mutate Data.
type Event struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversationId"`
	Data           map[string]any `json:"data"`
	Timestamp      time.Time      `json:"timestamp"`
}

func New(typ, convID string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		Type:           typ,
		ConversationID: convID,
		Data:           data,
		Timestamp:      time.Now(),
	}
}

func (e Event) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "marshal event")
	}
	return b, nil
}

func FromJSON(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, errors.Wrap(err, "decode event")
	}
	if e.Type == "" {
		return Event{}, errors.New("event missing type")
	}
	return e, nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func NewStreamStarted(convID string, models []string) Event {
	return New(TypeStreamStarted, convID, map[string]any{
		"models":      models,
		"totalModels": len(models),
	})
}

func NewModelStreamStarted(convID, model string) Event {
	return New(TypeModelStreamStarted, convID, map[string]any{
		"model":     model,
		"timestamp": nowMillis(),
	})
}

func NewModelChunk(convID, model, chunk string, progress float64) Event {
	return New(TypeModelChunk, convID, map[string]any{
		"model":     model,
		"chunk":     chunk,
		"progress":  progress,
		"timestamp": nowMillis(),
	})
}

func NewSynthesisStarted(convID string, models []string) Event {
	return New(TypeSynthesisStarted, convID, map[string]any{
		"models":    models,
		"timestamp": nowMillis(),
	})
}

func NewSynthesisChunk(convID, chunk string, progress float64) Event {
	return New(TypeSynthesisChunk, convID, map[string]any{
		"chunk":     chunk,
		"progress":  progress,
		"timestamp": nowMillis(),
	})
}

func NewSynthesisCompleted(convID, finalResponse string) Event {
	return New(TypeSynthesisCompleted, convID, map[string]any{
		"finalResponse": finalResponse,
		"timestamp":     nowMillis(),
	})
}

func NewStreamCompleted(convID string, duration time.Duration, totalChunks int) Event {
	return New(TypeStreamCompleted, convID, map[string]any{
		"duration":    duration.Milliseconds(),
		"totalChunks": totalChunks,
	})
}

func NewStreamError(convID string, err error) Event {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return New(TypeStreamError, convID, map[string]any{
		"error":     msg,
		"timestamp": nowMillis(),
	})
}

func NewSynthesisError(convID string, err error) Event {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return New(TypeSynthesisError, convID, map[string]any{
		"error":     msg,
		"timestamp": nowMillis(),
	})
}
