package synthesis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSynthesize_SingleResponsePassesThroughVerbatim(t *testing.T) {
	s := NewSynthesizer(Config{})
	raw := "  exact bytes, spacing included.  "
	got, err := s.Synthesize(map[string]string{"gpt": raw}, []string{"gpt"}, nil)
	require.NoError(t, err)
	require.Equal(t, raw, got)
}

func TestSynthesize_NoResponses(t *testing.T) {
	s := NewSynthesizer(Config{})
	_, err := s.Synthesize(map[string]string{}, nil, nil)
	require.ErrorIs(t, err, ErrNoResponses)
}

func TestSynthesize_IsDeterministic(t *testing.T) {
	s := NewSynthesizer(Config{})
	responses := map[string]string{
		"gpt":    "Alpha one. Alpha two. Alpha three.",
		"claude": "Beta one. Beta two.",
		"gemini": "Gamma only.",
	}
	order := []string{"gpt", "claude", "gemini"}

	first, err := s.Synthesize(responses, order, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.Synthesize(responses, order, nil)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestSynthesize_EqualWeightsKeepEverySentence(t *testing.T) {
	s := NewSynthesizer(Config{})
	got, err := s.Synthesize(map[string]string{
		"gpt":    "A one. A two.",
		"claude": "B one.",
	}, []string{"gpt", "claude"}, nil)
	require.NoError(t, err)
	require.Equal(t, "A one. A two. B one.", got)
}

func TestSynthesize_HeavierModelLeadsAndKeepsMore(t *testing.T) {
	s := NewSynthesizer(Config{})
	_, err := s.UpdateWeight("claude", 2.0) // claude at 3.0, gpt at baseline
	require.NoError(t, err)

	got, err := s.Synthesize(map[string]string{
		"gpt":    "G one. G two. G three.",
		"claude": "C one. C two. C three.",
	}, []string{"gpt", "claude"}, nil)
	require.NoError(t, err)

	// claude speaks first at full length; gpt keeps 1/3 of its sentences
	require.True(t, strings.HasPrefix(got, "C one."), got)
	require.Contains(t, got, "C three.")
	require.Contains(t, got, "G one.")
	require.NotContains(t, got, "G two.")
}

func TestSynthesize_WeightIncreaseNeverShrinksPresence(t *testing.T) {
	s := NewSynthesizer(Config{})
	responses := map[string]string{
		"gpt":    "G one. G two. G three. G four.",
		"claude": "C one. C two. C three. C four.",
	}
	order := []string{"gpt", "claude"}

	countGPT := func(out string) int { return strings.Count(out, "G ") }

	before, err := s.Synthesize(responses, order, nil)
	require.NoError(t, err)

	prev := countGPT(before)
	for i := 0; i < 4; i++ {
		_, err := s.UpdateWeight("gpt", 0.5)
		require.NoError(t, err)
		out, err := s.Synthesize(responses, order, nil)
		require.NoError(t, err)
		cur := countGPT(out)
		require.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestSynthesize_CustomWeightsOverrideStored(t *testing.T) {
	s := NewSynthesizer(Config{})
	_, err := s.UpdateWeight("gpt", 2.0)
	require.NoError(t, err)

	responses := map[string]string{
		"gpt":    "G one. G two.",
		"claude": "C one. C two.",
	}
	order := []string{"gpt", "claude"}

	// stored table favors gpt
	got, err := s.Synthesize(responses, order, nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(got, "G one."), got)

	// per-request override flips it
	got, err = s.Synthesize(responses, order, map[string]float64{"claude": 3.0, "gpt": 0.5})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(got, "C one."), got)
}

func TestUpdateWeight_ClampsToBounds(t *testing.T) {
	s := NewSynthesizer(Config{})

	w, err := s.UpdateWeight("gpt", 10)
	require.NoError(t, err)
	require.Equal(t, WeightCeiling, w)

	w, err = s.UpdateWeight("gpt", -100)
	require.NoError(t, err)
	require.Equal(t, WeightFloor, w)

	_, err = s.UpdateWeight("  ", 1)
	require.ErrorContains(t, err, "model name is empty")
}

func TestResetWeights(t *testing.T) {
	s := NewSynthesizer(Config{})
	_, err := s.UpdateWeight("gpt", 1.5)
	require.NoError(t, err)
	_, err = s.UpdateWeight("claude", -0.5)
	require.NoError(t, err)
	require.Len(t, s.Weights(), 2)

	s.ResetWeights()
	require.Empty(t, s.Weights())

	// snapshot is a copy, not the live table
	snap := s.Weights()
	snap["gpt"] = 99
	require.Empty(t, s.Weights())
}
