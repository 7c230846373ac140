package redisbridge

import (
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type stubPublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads []string
	fail     bool
	closed   bool
}

func (p *stubPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("redis down")
	}
	for _, msg := range messages {
		p.topics = append(p.topics, topic)
		p.payloads = append(p.payloads, string(msg.Payload))
	}
	return nil
}

func (p *stubPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestMirror_DeliverPublishesToConversationStream(t *testing.T) {
	pub := &stubPublisher{}
	mirror := &Mirror{pub: pub}

	mirror.Deliver("conv-1", []byte(`{"type":"model_chunk"}`))
	mirror.Deliver("conv-2", []byte(`{"type":"stream_completed"}`))
	mirror.Deliver("conv-1", nil)

	require.Equal(t, []string{"chorus:events:conv-1", "chorus:events:conv-2"}, pub.topics)
	require.Equal(t, []string{`{"type":"model_chunk"}`, `{"type":"stream_completed"}`}, pub.payloads)
	require.EqualValues(t, 0, mirror.Dropped())

	require.NoError(t, mirror.Close())
	require.True(t, pub.closed)
}

func TestMirror_PublishFailureCountsDrop(t *testing.T) {
	pub := &stubPublisher{fail: true}
	mirror := &Mirror{pub: pub}

	mirror.Deliver("conv-1", []byte("payload"))
	mirror.Deliver("conv-1", []byte("payload"))

	require.EqualValues(t, 2, mirror.Dropped())
	require.Empty(t, pub.payloads)
}

func TestSettings_Defaults(t *testing.T) {
	s := Settings{}.withDefaults()
	require.Equal(t, "localhost:6379", s.Addr)
	require.Equal(t, "chorus", s.Group)
	require.Equal(t, "chorus-1", s.Consumer)
	require.False(t, s.Enabled)

	custom := Settings{Addr: "redis:7000", Group: "g", Consumer: "c"}.withDefaults()
	require.Equal(t, "redis:7000", custom.Addr)
	require.Equal(t, "g", custom.Group)
	require.Equal(t, "c", custom.Consumer)
}

func TestStreamForConversation(t *testing.T) {
	require.Equal(t, "chorus:events:abc", StreamForConversation("abc"))
}
