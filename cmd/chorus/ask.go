package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chorus/pkg/config"
	"github.com/go-go-golems/chorus/pkg/events"
	"github.com/go-go-golems/chorus/pkg/models"
	"github.com/go-go-golems/chorus/pkg/profiles"
	"github.com/go-go-golems/chorus/pkg/streaming"
	"github.com/go-go-golems/chorus/pkg/synthesis"
)

type askOptions struct {
	prompt     string
	offline    bool
	jsonEvents bool
	profile    string
	models     []string
}

func newAskCmd() *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Run one prompt through the engine and stream the answer to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts.prompt = strings.Join(args, " ")
			return runAsk(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "use the canned offline adapter instead of real APIs")
	cmd.Flags().BoolVar(&opts.jsonEvents, "json", false, "print raw event JSON, one object per line")
	cmd.Flags().StringVar(&opts.profile, "profile", "", "model profile to apply")
	cmd.Flags().StringSliceVar(&opts.models, "models", nil, "restrict the run to these adapter names")
	return cmd
}

func runAsk(ctx context.Context, cfg *config.Config, opts askOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	modelReg, err := askModels(cfg, opts.offline)
	if err != nil {
		return err
	}
	if len(modelReg.Names()) == 0 {
		return errors.New("no model adapters configured; set API keys or pass --offline")
	}

	router, err := events.NewRouter(events.RouterConfig{BaseCtx: ctx})
	if err != nil {
		return err
	}
	defer func() { _ = router.Close() }()

	convID := uuid.NewString()
	printer := newEventPrinter(os.Stdout, convID, opts.jsonEvents)
	router.AddDeliverer(printer)

	registry, err := streaming.NewRegistry(streaming.RegistryConfig{
		BaseCtx: ctx,
		Events:  router,
		Config:  engineConfig(cfg.Streaming),
	})
	if err != nil {
		return err
	}

	orch, err := streaming.NewOrchestrator(streaming.OrchestratorConfig{
		Registry: registry,
		Models:   modelReg,
		Synth:    synthesis.NewSynthesizer(synthesis.Config{}),
	})
	if err != nil {
		return err
	}

	req := streaming.Request{Prompt: opts.prompt, ConversationID: convID}
	if opts.profile != "" {
		prof, err := lookupProfile(cfg, opts.profile)
		if err != nil {
			return err
		}
		req.ModelConfig = prof.Models
		req.CustomWeights = prof.Weights
	}
	if len(opts.models) > 0 {
		picked := make(map[string]bool, len(opts.models))
		for _, name := range opts.models {
			picked[name] = true
		}
		req.ModelConfig = picked
	}

	runErr := orch.Run(req)
	// let the tail of the event stream drain to the console
	printer.Wait(2 * time.Second)
	return runErr
}

func askModels(cfg *config.Config, offline bool) (*models.Registry, error) {
	if !offline {
		return buildModels(cfg.Adapters)
	}
	reg := models.NewRegistry()
	response := cfg.Adapters.Offline.Response
	if response == "" {
		response = "This is the offline adapter speaking. Set API keys for real answers."
	}
	adapter := models.NewOffline(models.OfflineConfig{Name: "offline", Response: response})
	if err := reg.Register(adapter); err != nil {
		return nil, err
	}
	return reg, nil
}

func lookupProfile(cfg *config.Config, name string) (profiles.Profile, error) {
	path := cfg.Profiles.Path
	if path == "" {
		defaultPath, err := profiles.DefaultPath()
		if err != nil {
			return profiles.Profile{}, err
		}
		path = defaultPath
	}
	store, err := profiles.Load(path)
	if err != nil {
		return profiles.Profile{}, err
	}
	prof, ok := store.Get(name)
	if !ok {
		return profiles.Profile{}, errors.Errorf("unknown profile %q in %s", name, path)
	}
	return prof, nil
}

// eventPrinter is the stdout sink behind ask: either raw event JSON or a
// human view that streams the synthesized answer as it arrives.
type eventPrinter struct {
	out    io.Writer
	convID string
	raw    bool
	done   chan struct{}
	once   sync.Once
}

func newEventPrinter(out io.Writer, convID string, raw bool) *eventPrinter {
	return &eventPrinter{out: out, convID: convID, raw: raw, done: make(chan struct{})}
}

func (p *eventPrinter) Name() string { return "console" }

func (p *eventPrinter) Deliver(conversationID string, payload []byte) {
	if conversationID != p.convID {
		return
	}
	ev, err := events.FromJSON(payload)
	if err != nil {
		return
	}
	if p.raw {
		fmt.Fprintln(p.out, string(payload))
	} else {
		p.render(ev)
	}
	if ev.Type == events.TypeStreamCompleted {
		p.once.Do(func() { close(p.done) })
	}
}

func (p *eventPrinter) render(ev events.Event) {
	switch ev.Type {
	case events.TypeStreamStarted:
		log.Info().Interface("models", ev.Data["models"]).Msg("models answering")
	case events.TypeModelStreamStarted:
		model, _ := ev.Data["model"].(string)
		log.Debug().Str("model", model).Msg("model streaming")
	case events.TypeSynthesisChunk:
		// word groups carry their separators, plain concatenation is exact
		chunk, _ := ev.Data["chunk"].(string)
		fmt.Fprint(p.out, chunk)
	case events.TypeSynthesisCompleted:
		fmt.Fprintln(p.out)
	case events.TypeStreamError, events.TypeSynthesisError:
		msg, _ := ev.Data["error"].(string)
		log.Error().Str("reason", msg).Msg("stream failed")
	}
}

func (p *eventPrinter) CloseConversation(string) {}

// Wait blocks until the terminal event is printed or the timeout passes.
func (p *eventPrinter) Wait(timeout time.Duration) {
	select {
	case <-p.done:
	case <-time.After(timeout):
	}
}
