package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err, "an explicit path must exist")

	cfg, err = Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "console", cfg.Logging.Format)
	require.Equal(t, "memory", cfg.History.Driver)
	require.Equal(t, "chorus", cfg.Telemetry.ServiceName)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.False(t, cfg.Redis.Enabled)
}

func TestLoad_FileWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chorus.yaml")
	data := `
server:
  host: 127.0.0.1
  port: 9000
streaming:
  max_concurrent_streams: 4
  max_stream_duration: 45s
  model_chunk_delay_min: 5ms
sse:
  heartbeat_interval: 2s
adapters:
  openai:
    api_key: ${CHORUS_TEST_OPENAI_KEY}
    model: gpt-4o-mini
history:
  driver: sqlite
  path: chorus.db
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	t.Setenv("CHORUS_TEST_OPENAI_KEY", "sk-test-123")
	t.Setenv("CHORUS_SERVER__PORT", "9090")
	t.Setenv("CHORUS_LOGGING__LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())
	require.Equal(t, 4, cfg.Streaming.MaxConcurrentStreams)
	require.Equal(t, 45*time.Second, cfg.Streaming.MaxStreamDuration)
	require.Equal(t, 5*time.Millisecond, cfg.Streaming.ModelChunkDelayMin)
	require.Equal(t, 2*time.Second, cfg.SSE.HeartbeatInterval)
	require.Equal(t, "sk-test-123", cfg.Adapters.OpenAI.APIKey)
	require.Equal(t, "gpt-4o-mini", cfg.Adapters.OpenAI.Model)
	require.Equal(t, "sqlite", cfg.History.Driver)
	require.Equal(t, "chorus.db", cfg.History.Path)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "console", cfg.Logging.Format)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("CHORUS_TEST_SUB", "resolved")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "bare variable", input: "${CHORUS_TEST_SUB}", want: "resolved"},
		{name: "inside a string", input: "pre-${CHORUS_TEST_SUB}-post", want: "pre-resolved-post"},
		{name: "no variable", input: "plain", want: "plain"},
		{name: "unset variable", input: "${CHORUS_TEST_UNSET_VAR}", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, substituteEnvVars(tt.input))
		})
	}
}
