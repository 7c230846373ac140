package models

import (
	"context"
	"fmt"
	"io"
	"time"
)

// OfflineConfig scripts a deterministic adapter for development and tests.
type OfflineConfig struct {
	Name string
	// Response is returned by Generate. Defaults to an echo of the prompt.
	Response string
	// Fragments are played back one Recv at a time by OfflineStreamer.
	// Defaults to the single full response.
	Fragments []string
	// Latency is applied before Generate returns and between fragments.
	Latency time.Duration
	// Err, when set, makes Generate fail immediately and makes a stream
	// fail after its fragments are exhausted.
	Err         error
	Unavailable bool
}

// Offline is a canned one-shot adapter. It never talks to the network.
type Offline struct {
	name        string
	response    string
	latency     time.Duration
	err         error
	unavailable bool
}

func NewOffline(cfg OfflineConfig) *Offline {
	name := cfg.Name
	if name == "" {
		name = "offline"
	}
	return &Offline{
		name:        name,
		response:    cfg.Response,
		latency:     cfg.Latency,
		err:         cfg.Err,
		unavailable: cfg.Unavailable,
	}
}

func (o *Offline) Name() string { return o.name }

func (o *Offline) Available() bool { return o != nil && !o.unavailable }

func (o *Offline) Generate(ctx context.Context, prompt string) (string, error) {
	if o.err != nil {
		return "", o.err
	}
	if o.latency > 0 {
		select {
		case <-time.After(o.latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if o.response != "" {
		return o.response, nil
	}
	return fmt.Sprintf("%s offline response: %s", o.name, prompt), nil
}

// OfflineStreamer is the streaming variant of Offline. It exists as a
// separate type so capability detection can distinguish one-shot from
// streaming scripted adapters.
type OfflineStreamer struct {
	Offline
	fragments []string
}

var _ Streamer = (*OfflineStreamer)(nil)

func NewOfflineStreamer(cfg OfflineConfig) *OfflineStreamer {
	base := NewOffline(cfg)
	frags := cfg.Fragments
	if len(frags) == 0 && base.response != "" {
		frags = []string{base.response}
	}
	return &OfflineStreamer{Offline: *base, fragments: frags}
}

func (o *OfflineStreamer) GenerateStream(ctx context.Context, prompt string) (*Stream, error) {
	i := 0
	next := func() (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if i >= len(o.fragments) {
			if o.err != nil {
				return "", o.err
			}
			return "", io.EOF
		}
		if o.latency > 0 {
			select {
			case <-time.After(o.latency):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		f := o.fragments[i]
		i++
		return f, nil
	}
	return NewStream(next, nil), nil
}
