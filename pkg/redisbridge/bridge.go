// Package redisbridge mirrors the event spine onto Redis Streams so
// consumers outside the process can follow conversations with XREADGROUP.
// The in-process spine stays authoritative; the mirror is fire-and-forget.
package redisbridge

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chorus/pkg/events"
)

// Settings holds Redis Streams mirror configuration.
type Settings struct {
	Enabled  bool
	Addr     string
	Group    string
	Consumer string
}

func (s Settings) withDefaults() Settings {
	if s.Addr == "" {
		s.Addr = "localhost:6379"
	}
	if s.Group == "" {
		s.Group = "chorus"
	}
	if s.Consumer == "" {
		s.Consumer = "chorus-1"
	}
	return s
}

// StreamForConversation maps a conversation id to its Redis stream key.
func StreamForConversation(convID string) string {
	return "chorus:events:" + convID
}

// Mirror is an event deliverer that XADDs every payload onto the
// conversation's Redis stream.
type Mirror struct {
	pub     message.Publisher
	dropped atomic.Uint64
}

var _ events.Deliverer = (*Mirror)(nil)

func NewMirror(s Settings) (*Mirror, error) {
	s = s.withDefaults()
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	logger := events.NewWatermillLogger(log.With().Str("component", "redis").Logger())

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "create redis stream publisher")
	}
	return &Mirror{pub: pub}, nil
}

func (m *Mirror) Name() string { return "redis" }

func (m *Mirror) Deliver(conversationID string, payload []byte) {
	if m == nil || len(payload) == 0 {
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := m.pub.Publish(StreamForConversation(conversationID), msg); err != nil {
		m.dropped.Add(1)
		log.Debug().
			Str("component", "redis").
			Str("conv_id", conversationID).
			Err(err).
			Msg("redis mirror publish failed, event dropped")
	}
}

// CloseConversation keeps the stream: external consumers read at their own
// pace and Redis trimming is their concern.
func (m *Mirror) CloseConversation(string) {}

// Dropped reports events lost to failed publishes.
func (m *Mirror) Dropped() uint64 {
	if m == nil {
		return 0
	}
	return m.dropped.Load()
}

func (m *Mirror) Close() error {
	if m == nil || m.pub == nil {
		return nil
	}
	return m.pub.Close()
}

// BuildGroupSubscriber returns a Redis Streams subscriber bound to the
// consumer group, for external readers that want watermill semantics.
func BuildGroupSubscriber(s Settings) (message.Subscriber, error) {
	s = s.withDefaults()
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	logger := events.NewWatermillLogger(log.With().Str("component", "redis").Logger())
	return rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
}

// EnsureGroupAtTail creates the conversation's consumer group at the stream
// tail ($) so a first subscribe does not replay history. Existing groups are
// left alone.
func EnsureGroupAtTail(ctx context.Context, s Settings, convID string) error {
	s = s.withDefaults()
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	defer func() { _ = client.Close() }()

	stream := StreamForConversation(convID)
	err := client.XGroupCreateMkStream(ctx, stream, s.Group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", s.Group, stream)
	}
	log.Info().
		Str("component", "redis").
		Str("stream", stream).
		Str("group", s.Group).
		Msg("created redis consumer group at tail")
	return nil
}
