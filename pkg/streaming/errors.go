package streaming

import "github.com/pkg/errors"

var (
	// ErrCapacityExceeded rejects new streams at the concurrency ceiling.
	// There is no queueing: callers retry or give up.
	ErrCapacityExceeded = errors.New("stream capacity exceeded")
	// ErrStreamActive rejects a second stream for a conversation whose
	// current stream has not finished.
	ErrStreamActive    = errors.New("stream already active for conversation")
	ErrNoModelsEnabled = errors.New("no models enabled")
	ErrAllModelsFailed = errors.New("all models failed")
	ErrSessionNotFound = errors.New("session not found")
)
