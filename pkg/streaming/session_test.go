package streaming

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestSession_ModelLifecycle(t *testing.T) {
	s := newSession("conv", DefaultStreamType, func() {})
	s.InitModels([]string{"gpt", "claude"})
	s.InitModels([]string{"gpt", "gemini"}) // gpt already tracked

	view := s.Snapshot()
	require.Len(t, view.Models, 3)
	require.Equal(t, "gpt", view.Models[0].Model)
	require.Equal(t, "claude", view.Models[1].Model)
	require.Equal(t, "gemini", view.Models[2].Model)
	require.Equal(t, StatusPending, view.Models[0].Status)

	// completion without streaming first is a broken transition
	require.Error(t, s.MarkCompleted("gpt"))

	require.NoError(t, s.MarkStreaming("gpt"))
	require.Error(t, s.MarkStreaming("gpt"))

	s.SetProgress("gpt", 0.4)
	s.SetProgress("gpt", 0.2) // decreases are dropped
	require.Equal(t, 0.4, s.Snapshot().Models[0].Progress)
	s.SetProgress("gpt", 2.5) // clamped to 1
	require.Equal(t, 1.0, s.Snapshot().Models[0].Progress)

	require.NoError(t, s.MarkCompleted("gpt"))
	require.Error(t, s.MarkError("gpt", errors.New("late")))
	s.SetProgress("gpt", 0.1) // terminal models ignore updates
	got := s.Snapshot().Models[0]
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, 1.0, got.Progress)
	require.True(t, got.Completed)

	require.NoError(t, s.MarkStreaming("claude"))
	require.NoError(t, s.MarkError("claude", errors.New("upstream 500")))
	got = s.Snapshot().Models[1]
	require.Equal(t, StatusError, got.Status)
	require.Equal(t, "upstream 500", got.Err)
	require.False(t, got.Completed)
	require.Error(t, s.MarkStreaming("claude"))
}

func TestSession_UnknownModel(t *testing.T) {
	s := newSession("conv", DefaultStreamType, func() {})
	require.Error(t, s.MarkStreaming("ghost"))
	require.Error(t, s.MarkCompleted("ghost"))
	require.Error(t, s.MarkError("ghost", errors.New("x")))
	s.SetProgress("ghost", 0.5)
}

func TestSession_CompleteIsIdempotent(t *testing.T) {
	canceled := false
	s := newSession("conv", DefaultStreamType, func() { canceled = true })
	s.AddChunk(5)
	s.AddChunk(3)

	duration, chunks, wasActive := s.complete()
	require.True(t, wasActive)
	require.Equal(t, 2, chunks)
	require.GreaterOrEqual(t, duration, time.Duration(0))
	require.False(t, s.Active())

	_, _, again := s.complete()
	require.False(t, again)

	s.Cancel()
	require.True(t, canceled)

	view := s.Snapshot()
	require.False(t, view.Active)
	require.NotNil(t, view.EndTime)
	require.Equal(t, 2, view.TotalChunks)
	require.EqualValues(t, 8, view.TotalChunkBytes)
}
