package models

import "context"

// Adapter produces a complete response for a prompt. Implementations wrap one
// upstream model behind a vendor-neutral surface.
type Adapter interface {
	// Name is the registry key, e.g. "gpt" or "claude".
	Name() string
	// Available reports whether the adapter is usable right now,
	// typically whether credentials are configured.
	Available() bool
	Generate(ctx context.Context, prompt string) (string, error)
}

// Streamer is implemented by adapters that can deliver partial output as it
// is produced. Callers drain the stream with Recv until io.EOF and must
// Close it.
type Streamer interface {
	GenerateStream(ctx context.Context, prompt string) (*Stream, error)
}

// CanStream reports whether the adapter supports incremental output.
func CanStream(a Adapter) bool {
	_, ok := a.(Streamer)
	return ok
}
