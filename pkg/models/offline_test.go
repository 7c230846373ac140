package models

import (
	"context"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestOffline_GenerateDefaultsToEcho(t *testing.T) {
	o := NewOffline(OfflineConfig{Name: "alpha"})
	got, err := o.Generate(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "alpha offline response: hello", got)
}

func TestOffline_GenerateScriptedResponseAndError(t *testing.T) {
	o := NewOffline(OfflineConfig{Name: "alpha", Response: "canned"})
	got, err := o.Generate(context.Background(), "ignored")
	require.NoError(t, err)
	require.Equal(t, "canned", got)

	boom := errors.New("quota exhausted")
	o = NewOffline(OfflineConfig{Name: "alpha", Err: boom})
	_, err = o.Generate(context.Background(), "x")
	require.ErrorIs(t, err, boom)
}

func TestOffline_StreamerIsDetectedByCapability(t *testing.T) {
	require.False(t, CanStream(NewOffline(OfflineConfig{Name: "a"})))
	require.True(t, CanStream(NewOfflineStreamer(OfflineConfig{Name: "b"})))
}

func TestOfflineStreamer_PlaysFragmentsThenEOF(t *testing.T) {
	o := NewOfflineStreamer(OfflineConfig{Name: "b", Fragments: []string{"be", "ta"}})
	stream, err := o.GenerateStream(context.Background(), "x")
	require.NoError(t, err)
	defer func() { require.NoError(t, stream.Close()) }()

	var got []string
	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, frag)
	}
	require.Equal(t, []string{"be", "ta"}, got)
}

func TestOfflineStreamer_TrailingErrorAfterFragments(t *testing.T) {
	boom := errors.New("connection reset")
	o := NewOfflineStreamer(OfflineConfig{Name: "b", Fragments: []string{"partial"}, Err: boom})
	stream, err := o.GenerateStream(context.Background(), "x")
	require.NoError(t, err)

	frag, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "partial", frag)

	_, err = stream.Recv()
	require.ErrorIs(t, err, boom)

	// the error is sticky
	_, err = stream.Recv()
	require.ErrorIs(t, err, boom)
}

func TestOfflineStreamer_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := NewOfflineStreamer(OfflineConfig{Name: "b", Fragments: []string{"one", "two"}})
	stream, err := o.GenerateStream(ctx, "x")
	require.NoError(t, err)

	_, err = stream.Recv()
	require.NoError(t, err)

	cancel()
	_, err = stream.Recv()
	require.ErrorIs(t, err, context.Canceled)
}

func TestStreamFromFragments(t *testing.T) {
	s := StreamFromFragments([]string{"a", "b"})
	frag, err := s.Recv()
	require.NoError(t, err)
	require.Equal(t, "a", frag)
	frag, err = s.Recv()
	require.NoError(t, err)
	require.Equal(t, "b", frag)
	_, err = s.Recv()
	require.ErrorIs(t, err, io.EOF)
}
