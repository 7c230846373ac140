package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chorus/pkg/config"
	"github.com/go-go-golems/chorus/pkg/events"
	"github.com/go-go-golems/chorus/pkg/history"
	"github.com/go-go-golems/chorus/pkg/models"
	"github.com/go-go-golems/chorus/pkg/profiles"
	"github.com/go-go-golems/chorus/pkg/redisbridge"
	"github.com/go-go-golems/chorus/pkg/server"
	"github.com/go-go-golems/chorus/pkg/streaming"
	"github.com/go-go-golems/chorus/pkg/synthesis"
	"github.com/go-go-golems/chorus/pkg/telemetry"
	"github.com/go-go-golems/chorus/pkg/tokens"
	"github.com/go-go-golems/chorus/pkg/transport"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming server with every transport mounted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(cfg.Telemetry.ServiceName)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				log.Warn().Err(err).Msg("tracer shutdown failed")
			}
		}()
	}

	router, err := events.NewRouter(events.RouterConfig{BaseCtx: ctx})
	if err != nil {
		return err
	}
	defer func() { _ = router.Close() }()

	registry, err := streaming.NewRegistry(streaming.RegistryConfig{
		BaseCtx: ctx,
		Events:  router,
		Config:  engineConfig(cfg.Streaming),
	})
	if err != nil {
		return err
	}

	modelReg, err := buildModels(cfg.Adapters)
	if err != nil {
		return err
	}
	if len(modelReg.Names()) == 0 {
		log.Warn().Msg("no model adapters configured; chat requests will fail until one is")
	} else {
		log.Info().Strs("models", modelReg.Names()).Msg("model adapters registered")
	}

	synth := synthesis.NewSynthesizer(synthesis.Config{})

	store, err := buildHistory(cfg.History)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	var profileStore *profiles.Store
	if cfg.Profiles.Path != "" {
		profileStore, err = profiles.Load(cfg.Profiles.Path)
		if err != nil {
			return err
		}
		log.Info().
			Int("profiles", profileStore.Len()).
			Str("path", cfg.Profiles.Path).
			Msg("model profiles loaded")
	}

	orch, err := streaming.NewOrchestrator(streaming.OrchestratorConfig{
		Registry: registry,
		Models:   modelReg,
		Synth:    synth,
		History:  store,
		Tokens:   tokens.NewCounter(),
	})
	if err != nil {
		return err
	}

	wsHub, err := transport.NewWSHub(transport.WSHubConfig{Registry: registry})
	if err != nil {
		return err
	}
	sseHub, err := transport.NewSSEHub(transport.SSEHubConfig{
		Registry:          registry,
		HeartbeatInterval: cfg.SSE.HeartbeatInterval,
		ClientBuffer:      cfg.SSE.ClientBuffer,
	})
	if err != nil {
		return err
	}
	roomsHub, err := transport.NewRoomsHub(transport.RoomsHubConfig{Registry: registry})
	if err != nil {
		return err
	}
	router.AddDeliverer(wsHub)
	router.AddDeliverer(sseHub)
	router.AddDeliverer(roomsHub)

	if cfg.Redis.Enabled {
		mirror, err := redisbridge.NewMirror(redisbridge.Settings{
			Enabled:  true,
			Addr:     cfg.Redis.Addr,
			Group:    cfg.Redis.Group,
			Consumer: cfg.Redis.Consumer,
		})
		if err != nil {
			return err
		}
		defer func() { _ = mirror.Close() }()
		router.AddDeliverer(mirror)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis event mirror enabled")
	}

	registry.StartSweepLoop(ctx)

	srv, err := server.New(server.Config{
		Addr:         cfg.Server.Addr(),
		ServiceName:  cfg.Telemetry.ServiceName,
		Orchestrator: orch,
		Registry:     registry,
		Models:       modelReg,
		Synth:        synth,
		History:      store,
		Profiles:     profileStore,
		WS:           wsHub,
		SSE:          sseHub,
		Rooms:        roomsHub,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func buildModels(cfg config.AdaptersConfig) (*models.Registry, error) {
	reg := models.NewRegistry()
	if cfg.OpenAI.APIKey != "" {
		adapter := models.NewOpenAI(models.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		})
		if err := reg.Register(adapter); err != nil {
			return nil, err
		}
	}
	if cfg.Gemini.APIKey != "" {
		adapter, err := models.NewGemini(models.GeminiConfig{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Gemini.Model,
		})
		if err != nil {
			return nil, err
		}
		if err := reg.Register(adapter); err != nil {
			return nil, err
		}
	}
	if cfg.Anthropic.APIKey != "" {
		adapter := models.NewAnthropic(models.AnthropicConfig{
			APIKey:  cfg.Anthropic.APIKey,
			BaseURL: cfg.Anthropic.BaseURL,
			Model:   cfg.Anthropic.Model,
		})
		if err := reg.Register(adapter); err != nil {
			return nil, err
		}
	}
	if cfg.Offline.Enabled {
		adapter := models.NewOffline(models.OfflineConfig{
			Name:     "offline",
			Response: cfg.Offline.Response,
		})
		if err := reg.Register(adapter); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildHistory(cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return history.NewMemoryStore(), nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = "chorus.db"
		}
		dsn, err := history.SQLiteDSNForFile(path)
		if err != nil {
			return nil, err
		}
		return history.NewSQLiteStore(dsn)
	case "none":
		return nil, nil
	default:
		return nil, errors.Errorf("unknown history driver %q", cfg.Driver)
	}
}

func engineConfig(cfg config.StreamingConfig) streaming.Config {
	return streaming.Config{
		MaxConcurrentStreams:   cfg.MaxConcurrentStreams,
		MaxStreamDuration:      cfg.MaxStreamDuration,
		SweepInterval:          cfg.SweepInterval,
		RemovalGrace:           cfg.RemovalGrace,
		StreamTargetLength:     cfg.StreamTargetLength,
		ModelChunkCount:        cfg.ModelChunkCount,
		ModelChunkDelayMin:     cfg.ModelChunkDelayMin,
		ModelChunkDelayMax:     cfg.ModelChunkDelayMax,
		SynthesisChunkCount:    cfg.SynthesisChunkCount,
		SynthesisChunkDelayMin: cfg.SynthesisChunkDelayMin,
		SynthesisChunkDelayMax: cfg.SynthesisChunkDelayMax,
	}
}
