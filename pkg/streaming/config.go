package streaming

import "time"

const (
	DefaultMaxConcurrentStreams = 10
	DefaultMaxStreamDuration    = 30 * time.Second
	DefaultSweepInterval        = 60 * time.Second
	DefaultRemovalGrace         = 5 * time.Second
	DefaultStreamTargetLength   = 1000
)

// Config carries every engine tunable. Zero values take the defaults, so the
// zero Config is usable.
type Config struct {
	// MaxConcurrentStreams is the hard ceiling on simultaneously active
	// sessions.
	MaxConcurrentStreams int
	// MaxStreamDuration is the age at which the sweep loop force-completes
	// a session as timed out.
	MaxStreamDuration time.Duration
	// SweepInterval is how often the sweep loop runs.
	SweepInterval time.Duration
	// RemovalGrace keeps a completed session readable before removal.
	RemovalGrace time.Duration

	// StreamTargetLength is the buffered-character count treated as 100%
	// progress while a model streams.
	StreamTargetLength int

	// ModelChunkCount is the approximate number of word groups a one-shot
	// model response is fragmented into.
	ModelChunkCount    int
	ModelChunkDelayMin time.Duration
	ModelChunkDelayMax time.Duration

	// SynthesisChunkCount is the approximate number of word groups the
	// synthesized answer is fragmented into.
	SynthesisChunkCount    int
	SynthesisChunkDelayMin time.Duration
	SynthesisChunkDelayMax time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentStreams <= 0 {
		c.MaxConcurrentStreams = DefaultMaxConcurrentStreams
	}
	if c.MaxStreamDuration <= 0 {
		c.MaxStreamDuration = DefaultMaxStreamDuration
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.RemovalGrace <= 0 {
		c.RemovalGrace = DefaultRemovalGrace
	}
	if c.StreamTargetLength <= 0 {
		c.StreamTargetLength = DefaultStreamTargetLength
	}
	if c.ModelChunkCount <= 0 {
		c.ModelChunkCount = 10
	}
	if c.ModelChunkDelayMin <= 0 {
		c.ModelChunkDelayMin = 100 * time.Millisecond
	}
	if c.ModelChunkDelayMax <= c.ModelChunkDelayMin {
		c.ModelChunkDelayMax = c.ModelChunkDelayMin + 200*time.Millisecond
	}
	if c.SynthesisChunkCount <= 0 {
		c.SynthesisChunkCount = 15
	}
	if c.SynthesisChunkDelayMin <= 0 {
		c.SynthesisChunkDelayMin = 150 * time.Millisecond
	}
	if c.SynthesisChunkDelayMax <= c.SynthesisChunkDelayMin {
		c.SynthesisChunkDelayMax = c.SynthesisChunkDelayMin + 300*time.Millisecond
	}
	return c
}
