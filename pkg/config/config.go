package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// DefaultFile is the config file Load falls back to when no path is given.
const DefaultFile = "chorus.yaml"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Streaming StreamingConfig `koanf:"streaming"`
	SSE       SSEConfig       `koanf:"sse"`
	Adapters  AdaptersConfig  `koanf:"adapters"`
	Redis     RedisConfig     `koanf:"redis"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	History   HistoryConfig   `koanf:"history"`
	Profiles  ProfilesConfig  `koanf:"profiles"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StreamingConfig mirrors the engine tunables. Zero values fall back to the
// engine's own defaults, so an empty file is a working file.
type StreamingConfig struct {
	MaxConcurrentStreams   int           `koanf:"max_concurrent_streams"`
	MaxStreamDuration      time.Duration `koanf:"max_stream_duration"`
	SweepInterval          time.Duration `koanf:"sweep_interval"`
	RemovalGrace           time.Duration `koanf:"removal_grace"`
	StreamTargetLength     int           `koanf:"stream_target_length"`
	ModelChunkCount        int           `koanf:"model_chunk_count"`
	ModelChunkDelayMin     time.Duration `koanf:"model_chunk_delay_min"`
	ModelChunkDelayMax     time.Duration `koanf:"model_chunk_delay_max"`
	SynthesisChunkCount    int           `koanf:"synthesis_chunk_count"`
	SynthesisChunkDelayMin time.Duration `koanf:"synthesis_chunk_delay_min"`
	SynthesisChunkDelayMax time.Duration `koanf:"synthesis_chunk_delay_max"`
}

type SSEConfig struct {
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	ClientBuffer      int           `koanf:"client_buffer"`
}

type AdaptersConfig struct {
	OpenAI    OpenAIAdapterConfig    `koanf:"openai"`
	Gemini    GeminiAdapterConfig    `koanf:"gemini"`
	Anthropic AnthropicAdapterConfig `koanf:"anthropic"`
	Offline   OfflineAdapterConfig   `koanf:"offline"`
}

type OpenAIAdapterConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
}

type GeminiAdapterConfig struct {
	APIKey string `koanf:"api_key"`
	Model  string `koanf:"model"`
}

type AnthropicAdapterConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
}

// OfflineAdapterConfig registers the canned adapter, mostly for local
// development without API keys.
type OfflineAdapterConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Response string `koanf:"response"`
}

type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Group    string `koanf:"group"`
	Consumer string `koanf:"consumer"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

type HistoryConfig struct {
	// Driver is sqlite, memory, or none.
	Driver string `koanf:"driver"`
	// Path is the sqlite database file.
	Path string `koanf:"path"`
}

type ProfilesConfig struct {
	Path string `koanf:"path"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the YAML file (optional when path is empty), then CHORUS_
// environment overrides with `__` as the nesting separator, e.g.
// CHORUS_SERVER__PORT=9090, CHORUS_ADAPTERS__OPENAI__API_KEY=sk-...
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	optional := path == ""
	if optional {
		path = DefaultFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !optional || !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "load config file %s", path)
		}
	}

	if err := k.Load(env.Provider("CHORUS_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "CHORUS_")), "__", ".")
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load environment")
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	cfg.Adapters.OpenAI.APIKey = substituteEnvVars(cfg.Adapters.OpenAI.APIKey)
	cfg.Adapters.Gemini.APIKey = substituteEnvVars(cfg.Adapters.Gemini.APIKey)
	cfg.Adapters.Anthropic.APIKey = substituteEnvVars(cfg.Adapters.Anthropic.APIKey)

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":            8080,
		"logging.level":          "info",
		"logging.format":         "console",
		"history.driver":         "memory",
		"telemetry.service_name": "chorus",
		"redis.addr":             "localhost:6379",
		"redis.group":            "chorus",
		"redis.consumer":         "chorus-1",
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			_ = k.Set(key, value)
		}
	}
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
