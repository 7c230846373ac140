package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_SaveAndQuery(t *testing.T) {
	dir := t.TempDir()
	dsn, err := SQLiteDSNForFile(filepath.Join(dir, "history.db"))
	require.NoError(t, err)

	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	started := time.Now().Add(-2 * time.Second)

	err = s.SaveRecord(ctx, Record{
		ConversationID: "conv-1",
		Prompt:         "what is the capital of France",
		FinalResponse:  "Paris.",
		ModelResponses: map[string]string{"gpt": "Paris.", "claude": "The capital is Paris."},
		ModelsUsed:     []string{"gpt", "claude"},
		TokenCount:     3,
		StartedAt:      started,
		CompletedAt:    time.Now(),
	})
	require.NoError(t, err)

	err = s.SaveRecord(ctx, Record{
		ConversationID: "conv-1",
		Prompt:         "and of Germany",
		FinalResponse:  "Berlin.",
		ModelsUsed:     []string{"gpt"},
		StartedAt:      started,
		CompletedAt:    time.Now(),
	})
	require.NoError(t, err)

	err = s.SaveRecord(ctx, Record{
		ConversationID: "conv-2",
		Prompt:         "unrelated",
		FinalResponse:  "also unrelated",
		StartedAt:      started,
		CompletedAt:    time.Now(),
	})
	require.NoError(t, err)

	records, err := s.Records(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "Paris.", records[0].FinalResponse)
	require.Equal(t, "The capital is Paris.", records[0].ModelResponses["claude"])
	require.Equal(t, []string{"gpt", "claude"}, records[0].ModelsUsed)
	require.Equal(t, 3, records[0].TokenCount)
	require.Equal(t, started.UnixMilli(), records[0].StartedAt.UnixMilli())
	require.Equal(t, "Berlin.", records[1].FinalResponse)
	require.Greater(t, records[1].ID, records[0].ID)

	other, err := s.Records(ctx, "conv-2")
	require.NoError(t, err)
	require.Len(t, other, 1)
}

func TestSQLiteStore_RejectsEmptyConversationID(t *testing.T) {
	dir := t.TempDir()
	dsn, err := SQLiteDSNForFile(filepath.Join(dir, "history.db"))
	require.NoError(t, err)

	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	err = s.SaveRecord(context.Background(), Record{Prompt: "p"})
	require.Error(t, err)

	_, err = s.Records(context.Background(), "   ")
	require.Error(t, err)
}

func TestSQLiteStore_EmptyConversationHasNoRecords(t *testing.T) {
	dir := t.TempDir()
	dsn, err := SQLiteDSNForFile(filepath.Join(dir, "history.db"))
	require.NoError(t, err)

	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	records, err := s.Records(context.Background(), "nobody")
	require.NoError(t, err)
	require.Empty(t, records)
}
