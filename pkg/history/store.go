package history

import (
	"context"
	"time"
)

// Record is one finished stream: the prompt that started it, the synthesized
// answer, and the raw per-model responses that fed the synthesis.
type Record struct {
	ID             int64             `json:"id,omitempty"`
	ConversationID string            `json:"conversationId"`
	Prompt         string            `json:"prompt"`
	FinalResponse  string            `json:"finalResponse"`
	ModelResponses map[string]string `json:"modelResponses,omitempty"`
	ModelsUsed     []string          `json:"modelsUsed,omitempty"`
	TokenCount     int               `json:"tokenCount"`
	StartedAt      time.Time         `json:"startedAt"`
	CompletedAt    time.Time         `json:"completedAt"`
}

// Store persists stream records per conversation.
type Store interface {
	SaveRecord(ctx context.Context, rec Record) error
	// Records returns the records for one conversation, oldest first.
	Records(ctx context.Context, conversationID string) ([]Record, error)
	Close() error
}
