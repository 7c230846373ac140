package streaming

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-go-golems/chorus/pkg/events"
	"github.com/go-go-golems/chorus/pkg/history"
	"github.com/go-go-golems/chorus/pkg/models"
	"github.com/go-go-golems/chorus/pkg/synthesis"
	"github.com/go-go-golems/chorus/pkg/tokens"
)

// Request is one incoming chat turn.
type Request struct {
	Prompt         string `json:"prompt"`
	ConversationID string `json:"conversationId,omitempty"`
	// ModelConfig picks models by name. Nil enables every registered model.
	ModelConfig   map[string]bool    `json:"modelConfig,omitempty"`
	CustomWeights map[string]float64 `json:"customWeights,omitempty"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("prompt is required")
	}
	return nil
}

type OrchestratorConfig struct {
	Registry *Registry
	Models   *models.Registry
	Synth    *synthesis.Synthesizer

	// History receives a record per finished stream. Optional.
	History history.Store
	// Tokens counts the synthesized answer for the history record. Optional.
	Tokens *tokens.Counter
	// TokenModel picks the codec for Tokens. Defaults to gpt-4.
	TokenModel string

	// Tracer defaults to the global provider.
	Tracer trace.Tracer
}

// Orchestrator drives a stream end to end: fan out the prompt to every
// enabled model, collect what survives, synthesize one answer, and stream
// the synthesis back out. Session lifecycle stays in the Registry.
type Orchestrator struct {
	registry   *Registry
	models     *models.Registry
	synth      *synthesis.Synthesizer
	history    history.Store
	tokens     *tokens.Counter
	tokenModel string
	tracer     trace.Tracer
	cfg        Config
}

func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, errors.New("orchestrator registry is nil")
	}
	if cfg.Models == nil {
		return nil, errors.New("orchestrator model registry is nil")
	}
	if cfg.Synth == nil {
		return nil, errors.New("orchestrator synthesizer is nil")
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/go-go-golems/chorus/pkg/streaming")
	}
	tokenModel := cfg.TokenModel
	if tokenModel == "" {
		tokenModel = "gpt-4"
	}
	return &Orchestrator{
		registry:   cfg.Registry,
		models:     cfg.Models,
		synth:      cfg.Synth,
		history:    cfg.History,
		tokens:     cfg.Tokens,
		tokenModel: tokenModel,
		tracer:     tracer,
		cfg:        cfg.Registry.Config(),
	}, nil
}

// StartStream validates the request and admits a session for it. Callers
// that need an answer before streaming begins (the HTTP front door) call
// this first and then run ProcessStreamingRequest on its own goroutine with
// the returned work context.
func (o *Orchestrator) StartStream(req Request) (*Session, context.Context, error) {
	if o == nil {
		return nil, nil, errors.New("orchestrator is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	convID := strings.TrimSpace(req.ConversationID)
	if convID == "" {
		convID = uuid.NewString()
	}
	return o.registry.InitializeStream(convID, DefaultStreamType)
}

// Run admits a session and processes it to completion on the calling
// goroutine.
func (o *Orchestrator) Run(req Request) error {
	session, ctx, err := o.StartStream(req)
	if err != nil {
		return err
	}
	return o.ProcessStreamingRequest(ctx, session, req)
}

// ProcessStreamingRequest runs the whole lifecycle for an admitted session
// and blocks until it finishes. The session is always completed on return,
// whatever happened in between.
func (o *Orchestrator) ProcessStreamingRequest(ctx context.Context, session *Session, req Request) error {
	if o == nil {
		return errors.New("orchestrator is nil")
	}
	if session == nil {
		return errors.New("session is nil")
	}
	convID := session.ConversationID()
	defer func() { _ = o.registry.CompleteStream(convID) }()

	ctx, span := o.tracer.Start(ctx, "stream.process",
		trace.WithAttributes(attribute.String("conversation_id", convID)))
	defer span.End()

	logger := log.With().
		Str("component", "streaming").
		Str("conv_id", convID).
		Logger()

	enabled := o.models.Enabled(req.ModelConfig)
	if len(enabled) == 0 {
		logger.Warn().Msg("no models enabled for request")
		o.registry.emit(events.NewStreamError(convID, ErrNoModelsEnabled))
		span.RecordError(ErrNoModelsEnabled)
		return ErrNoModelsEnabled
	}

	names := make([]string, 0, len(enabled))
	for _, adapter := range enabled {
		names = append(names, adapter.Name())
	}
	session.InitModels(names)
	span.SetAttributes(attribute.Int("model_count", len(names)))
	logger.Info().Strs("models", names).Msg("stream started")
	o.registry.emit(events.NewStreamStarted(convID, names))

	results := o.fanOut(ctx, session, enabled, req.Prompt)

	responses := make(map[string]string, len(results))
	contributors := make([]string, 0, len(results))
	for _, res := range results {
		if res.err != nil {
			continue
		}
		responses[res.model] = res.response
		contributors = append(contributors, res.model)
	}

	if ctx.Err() != nil || !session.Active() {
		// force-completed under us; the terminal event is already out
		return ctx.Err()
	}

	if len(responses) == 0 {
		logger.Warn().Int("models", len(enabled)).Msg("every model failed")
		o.registry.emit(events.NewStreamError(convID, ErrAllModelsFailed))
		span.RecordError(ErrAllModelsFailed)
		return ErrAllModelsFailed
	}

	final, err := o.streamSynthesis(ctx, session, req, contributors, responses)
	if err != nil {
		return err
	}

	o.saveHistory(session, req, final, responses, contributors)
	logger.Info().
		Int("models", len(contributors)).
		Int("chars", len(final)).
		Msg("stream produced a synthesized answer")
	return nil
}

type unitResult struct {
	model    string
	response string
	err      error
}

// fanOut runs one unit per adapter in parallel and waits for all of them.
// A failing unit never takes the stream down with it.
func (o *Orchestrator) fanOut(ctx context.Context, session *Session, adapters []models.Adapter, prompt string) []unitResult {
	results := make([]unitResult, len(adapters))
	var wg sync.WaitGroup
	for i, adapter := range adapters {
		wg.Add(1)
		go func(i int, adapter models.Adapter) {
			defer wg.Done()
			results[i] = o.runModelUnit(ctx, session, adapter, prompt)
		}(i, adapter)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) runModelUnit(ctx context.Context, session *Session, adapter models.Adapter, prompt string) (res unitResult) {
	model := adapter.Name()
	res.model = model
	convID := session.ConversationID()
	defer func() {
		if rec := recover(); rec != nil {
			res.err = errors.Errorf("model %s panicked: %v", model, rec)
			_ = session.MarkError(model, res.err)
			log.Error().
				Str("component", "streaming").
				Str("conv_id", convID).
				Str("model", model).
				Interface("panic", rec).
				Msg("model unit panicked")
		}
	}()

	ctx, span := o.tracer.Start(ctx, "stream.model",
		trace.WithAttributes(attribute.String("model", model)))
	defer span.End()

	if err := session.MarkStreaming(model); err != nil {
		res.err = err
		return res
	}
	o.registry.emit(events.NewModelStreamStarted(convID, model))

	if streamer, ok := adapter.(models.Streamer); ok {
		res.response, res.err = o.streamUnit(ctx, session, streamer, model, prompt)
	} else {
		res.response, res.err = o.oneShotUnit(ctx, session, adapter, model, prompt)
	}

	logger := log.With().
		Str("component", "streaming").
		Str("conv_id", convID).
		Str("model", model).
		Logger()
	if res.err != nil {
		_ = session.MarkError(model, res.err)
		span.RecordError(res.err)
		logger.Warn().Err(res.err).Msg("model unit failed")
		return res
	}
	_ = session.MarkCompleted(model)
	logger.Debug().Int("chars", len(res.response)).Msg("model unit completed")
	return res
}

// streamUnit relays fragments from a model that streams natively. Progress
// is the share of the target length the buffer has reached.
func (o *Orchestrator) streamUnit(ctx context.Context, session *Session, streamer models.Streamer, model, prompt string) (string, error) {
	stream, err := streamer.GenerateStream(ctx, prompt)
	if err != nil {
		return "", err
	}
	defer func() { _ = stream.Close() }()

	convID := session.ConversationID()
	var buf strings.Builder
	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if frag == "" {
			continue
		}
		buf.WriteString(frag)
		progress := float64(buf.Len()) / float64(o.cfg.StreamTargetLength)
		if progress > 1 {
			progress = 1
		}
		session.SetProgress(model, progress)
		session.AddChunk(len(frag))
		o.registry.emit(events.NewModelChunk(convID, model, frag, progress))
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// oneShotUnit generates the full response, then replays it as paced word
// groups so every model looks live on the wire.
func (o *Orchestrator) oneShotUnit(ctx context.Context, session *Session, adapter models.Adapter, model, prompt string) (string, error) {
	response, err := adapter.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}

	convID := session.ConversationID()
	groups := splitWordGroups(response, o.cfg.ModelChunkCount)
	for i, group := range groups {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		progress := float64(i+1) / float64(len(groups))
		session.SetProgress(model, progress)
		session.AddChunk(len(group))
		o.registry.emit(events.NewModelChunk(convID, model, group, progress))
		if i < len(groups)-1 {
			if err := sleepCtx(ctx, pacing(o.cfg.ModelChunkDelayMin, o.cfg.ModelChunkDelayMax)); err != nil {
				return "", err
			}
		}
	}
	return response, nil
}

// streamSynthesis combines the surviving responses and streams the result
// as paced word groups. A synthesis failure is terminal for the stream.
func (o *Orchestrator) streamSynthesis(ctx context.Context, session *Session, req Request, contributors []string, responses map[string]string) (string, error) {
	convID := session.ConversationID()
	ctx, span := o.tracer.Start(ctx, "stream.synthesize",
		trace.WithAttributes(attribute.Int("responses", len(responses))))
	defer span.End()

	o.registry.emit(events.NewSynthesisStarted(convID, contributors))

	final, err := o.synth.Synthesize(responses, contributors, req.CustomWeights)
	if err != nil {
		o.registry.emit(events.NewSynthesisError(convID, err))
		span.RecordError(err)
		return "", errors.Wrap(err, "synthesis failed")
	}

	groups := splitWordGroups(final, o.cfg.SynthesisChunkCount)
	for i, group := range groups {
		if cerr := ctx.Err(); cerr != nil {
			return "", cerr
		}
		progress := float64(i+1) / float64(len(groups))
		session.AddChunk(len(group))
		o.registry.emit(events.NewSynthesisChunk(convID, group, progress))
		if i < len(groups)-1 {
			if serr := sleepCtx(ctx, pacing(o.cfg.SynthesisChunkDelayMin, o.cfg.SynthesisChunkDelayMax)); serr != nil {
				return "", serr
			}
		}
	}

	o.registry.emit(events.NewSynthesisCompleted(convID, final))
	return final, nil
}

func (o *Orchestrator) saveHistory(session *Session, req Request, final string, responses map[string]string, contributors []string) {
	if o.history == nil {
		return
	}
	rec := history.Record{
		ConversationID: session.ConversationID(),
		Prompt:         req.Prompt,
		FinalResponse:  final,
		ModelResponses: responses,
		ModelsUsed:     contributors,
		StartedAt:      session.StartTime(),
		CompletedAt:    time.Now(),
	}
	if o.tokens != nil {
		if n, err := o.tokens.Count(o.tokenModel, final); err == nil {
			rec.TokenCount = n
		}
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.history.SaveRecord(sctx, rec); err != nil {
		log.Warn().
			Str("component", "streaming").
			Str("conv_id", rec.ConversationID).
			Err(err).
			Msg("failed to persist stream record")
	}
}
