package synthesis

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrNoResponses = errors.New("no responses to synthesize")

const (
	// DefaultWeight is the baseline for models without a stored weight.
	DefaultWeight = 1.0
	// WeightCeiling caps any weight at three times the baseline.
	WeightCeiling = 3.0
	// WeightFloor keeps an adjusted model from vanishing entirely.
	WeightFloor = 0.1
)

type Config struct {
	// Ceiling and Floor bound stored weights. Zero values take the package
	// defaults.
	Ceiling float64
	Floor   float64
}

// Synthesizer combines multiple model responses into one weighted answer and
// owns the per-model weight table shared across requests.
type Synthesizer struct {
	ceiling float64
	floor   float64

	mu      sync.RWMutex
	weights map[string]float64
}

func NewSynthesizer(cfg Config) *Synthesizer {
	ceiling := cfg.Ceiling
	if ceiling <= 0 {
		ceiling = WeightCeiling
	}
	floor := cfg.Floor
	if floor <= 0 {
		floor = WeightFloor
	}
	return &Synthesizer{
		ceiling: ceiling,
		floor:   floor,
		weights: map[string]float64{},
	}
}

// Synthesize merges the responses into one text. A single response passes
// through verbatim. With several responses, each model keeps a share of its
// own sentences proportional to its resolved weight relative to the heaviest
// model, and models contribute in descending weight order. The combination
// is fully deterministic.
//
// Weight resolution per model: custom override, then the stored table, then
// the baseline.
func (s *Synthesizer) Synthesize(responses map[string]string, order []string, custom map[string]float64) (string, error) {
	if s == nil {
		return "", errors.New("synthesizer is nil")
	}
	contributors := make([]string, 0, len(responses))
	for _, model := range order {
		if _, ok := responses[model]; ok {
			contributors = append(contributors, model)
		}
	}
	// responses outside the given order still count, appended stably
	known := make(map[string]struct{}, len(contributors))
	for _, m := range contributors {
		known[m] = struct{}{}
	}
	extra := make([]string, 0)
	for model := range responses {
		if _, ok := known[model]; !ok {
			extra = append(extra, model)
		}
	}
	sort.Strings(extra)
	contributors = append(contributors, extra...)

	if len(contributors) == 0 {
		return "", ErrNoResponses
	}
	if len(contributors) == 1 {
		return responses[contributors[0]], nil
	}

	type part struct {
		model     string
		weight    float64
		orderIdx  int
		sentences []string
	}
	parts := make([]part, 0, len(contributors))
	maxWeight := 0.0
	for i, model := range contributors {
		w := s.resolveWeight(model, custom)
		if w > maxWeight {
			maxWeight = w
		}
		parts = append(parts, part{
			model:     model,
			weight:    w,
			orderIdx:  i,
			sentences: splitSentences(responses[model]),
		})
	}
	if maxWeight <= 0 {
		maxWeight = DefaultWeight
	}

	// heavier models speak first; enablement order breaks ties
	sort.SliceStable(parts, func(i, j int) bool {
		if parts[i].weight != parts[j].weight {
			return parts[i].weight > parts[j].weight
		}
		return parts[i].orderIdx < parts[j].orderIdx
	})

	var out []string
	for _, p := range parts {
		if len(p.sentences) == 0 {
			continue
		}
		keep := int(math.Round(float64(len(p.sentences)) * p.weight / maxWeight))
		if keep < 1 {
			keep = 1
		}
		if keep > len(p.sentences) {
			keep = len(p.sentences)
		}
		out = append(out, p.sentences[:keep]...)
	}
	log.Debug().
		Str("component", "synthesis").
		Int("models", len(contributors)).
		Int("sentences", len(out)).
		Msg("synthesized responses")
	return strings.Join(out, " "), nil
}

func (s *Synthesizer) resolveWeight(model string, custom map[string]float64) float64 {
	if custom != nil {
		if w, ok := custom[model]; ok {
			return s.clamp(w)
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, ok := s.weights[model]; ok {
		return w
	}
	return DefaultWeight
}

// UpdateWeight adjusts the stored weight for a model by delta, clamped into
// [floor, ceiling]. The new weight is returned.
func (s *Synthesizer) UpdateWeight(model string, delta float64) (float64, error) {
	if s == nil {
		return 0, errors.New("synthesizer is nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return 0, errors.New("model name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.weights[model]
	if !ok {
		current = DefaultWeight
	}
	next := s.clamp(current + delta)
	s.weights[model] = next
	return next, nil
}

// ResetWeights drops every stored weight back to the baseline.
func (s *Synthesizer) ResetWeights() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.weights = map[string]float64{}
	s.mu.Unlock()
}

// Weights returns a snapshot of the stored table. Models never adjusted are
// absent; callers treat absence as the baseline.
func (s *Synthesizer) Weights() map[string]float64 {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.weights))
	for k, v := range s.weights {
		out[k] = v
	}
	return out
}

func (s *Synthesizer) clamp(w float64) float64 {
	if w > s.ceiling {
		return s.ceiling
	}
	if w < s.floor {
		return s.floor
	}
	return w
}
