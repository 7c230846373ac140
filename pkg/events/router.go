package events

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Deliverer is a transport-side sink for serialized events. Implementations
// must treat Deliver as fire-and-forget: log and drop on failure, never block
// the caller on a slow client.
type Deliverer interface {
	Name() string
	Deliver(conversationID string, payload []byte)
	CloseConversation(conversationID string)
}

// TopicForConversation maps a conversation id to its pub/sub topic.
func TopicForConversation(convID string) string {
	return "stream:" + convID
}

type RouterConfig struct {
	BaseCtx context.Context
	// Publisher/Subscriber override the default in-process pub/sub, e.g. with
	// a Redis Streams pair. Both must be set together.
	Publisher  message.Publisher
	Subscriber message.Subscriber
	// Logger for watermill internals. Defaults to a zerolog-backed adapter.
	Logger watermill.LoggerAdapter
	// BufferSize is the per-subscriber channel buffer of the in-process
	// pub/sub. Ignored when an external Publisher/Subscriber is supplied.
	BufferSize int64
}

// Router is the event spine: publishers push serialized events onto a
// per-conversation topic, and one forwarder goroutine per conversation fans
// every message out to the registered deliverers.
type Router struct {
	baseCtx context.Context
	pub     message.Publisher
	sub     message.Subscriber
	// gch is set when the router owns an in-process pub/sub and must close it.
	gch *gochannel.GoChannel

	mu         sync.Mutex
	deliverers []Deliverer
	forwarders map[string]*forwarder
	closed     bool
}

type forwarder struct {
	convID string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.BaseCtx == nil {
		return nil, errors.New("event router base context is nil")
	}
	if (cfg.Publisher == nil) != (cfg.Subscriber == nil) {
		return nil, errors.New("event router needs publisher and subscriber together")
	}
	r := &Router{
		baseCtx:    cfg.BaseCtx,
		pub:        cfg.Publisher,
		sub:        cfg.Subscriber,
		forwarders: map[string]*forwarder{},
	}
	if r.pub == nil {
		logger := cfg.Logger
		if logger == nil {
			logger = NewWatermillLogger(log.With().Str("component", "events").Logger())
		}
		buf := cfg.BufferSize
		if buf <= 0 {
			buf = 64
		}
		gch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: buf}, logger)
		r.gch = gch
		r.pub = gch
		r.sub = gch
	}
	return r, nil
}

// AddDeliverer registers a transport sink. Safe to call while forwarders run;
// the new deliverer picks up from the next message.
func (r *Router) AddDeliverer(d Deliverer) {
	if r == nil || d == nil {
		return
	}
	r.mu.Lock()
	r.deliverers = append(r.deliverers, d)
	r.mu.Unlock()
}

// Publish serializes the event and pushes it onto the conversation topic,
// starting the conversation's forwarder if it is not running yet.
func (r *Router) Publish(ctx context.Context, ev Event) error {
	if r == nil {
		return errors.New("event router is nil")
	}
	if ev.ConversationID == "" {
		return errors.New("event missing conversation id")
	}
	if err := r.EnsureForwarder(ev.ConversationID); err != nil {
		return err
	}
	payload, err := ev.Marshal()
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := r.pub.Publish(TopicForConversation(ev.ConversationID), msg); err != nil {
		return errors.Wrapf(err, "publish %s", ev.Type)
	}
	return nil
}

// EnsureForwarder subscribes the conversation topic and starts the consume
// loop, once per conversation. The subscription happens synchronously so an
// immediately following Publish is observed.
func (r *Router) EnsureForwarder(convID string) error {
	if r == nil {
		return errors.New("event router is nil")
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New("event router is closed")
	}
	if _, ok := r.forwarders[convID]; ok {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(r.baseCtx)
	fw := &forwarder{convID: convID, cancel: cancel, done: make(chan struct{})}
	r.forwarders[convID] = fw
	r.mu.Unlock()

	ch, err := r.sub.Subscribe(runCtx, TopicForConversation(convID))
	if err != nil {
		cancel()
		r.mu.Lock()
		delete(r.forwarders, convID)
		r.mu.Unlock()
		close(fw.done)
		return errors.Wrapf(err, "subscribe conversation %s", convID)
	}

	go r.forward(fw, ch)
	return nil
}

func (r *Router) forward(fw *forwarder, ch <-chan *message.Message) {
	defer close(fw.done)
	fwLog := log.With().Str("component", "events").Str("conv_id", fw.convID).Logger()
	fwLog.Debug().Msg("forwarder started")
	for msg := range ch {
		r.mu.Lock()
		sinks := make([]Deliverer, len(r.deliverers))
		copy(sinks, r.deliverers)
		r.mu.Unlock()

		for _, d := range sinks {
			d.Deliver(fw.convID, msg.Payload)
		}
		msg.Ack()
	}
	fwLog.Debug().Msg("forwarder stopped")
}

// StopForwarder stops the conversation's forwarder goroutine without
// touching transport state. A later Publish starts a fresh one, so this is
// the right call when a stream ends but clients may come back.
func (r *Router) StopForwarder(convID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	fw := r.forwarders[convID]
	delete(r.forwarders, convID)
	r.mu.Unlock()

	if fw != nil {
		fw.cancel()
		<-fw.done
	}
}

// CloseConversation stops the conversation's forwarder, waits for it to
// drain, and tells every deliverer to drop conversation-scoped state.
func (r *Router) CloseConversation(convID string) {
	if r == nil {
		return
	}
	r.StopForwarder(convID)

	r.mu.Lock()
	sinks := make([]Deliverer, len(r.deliverers))
	copy(sinks, r.deliverers)
	r.mu.Unlock()

	for _, d := range sinks {
		d.CloseConversation(convID)
	}
}

func (r *Router) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	fws := make([]*forwarder, 0, len(r.forwarders))
	for _, fw := range r.forwarders {
		fws = append(fws, fw)
	}
	r.forwarders = map[string]*forwarder{}
	r.mu.Unlock()

	for _, fw := range fws {
		fw.cancel()
		<-fw.done
	}
	if r.gch != nil {
		if err := r.gch.Close(); err != nil {
			return errors.Wrap(err, "close pubsub")
		}
	}
	return nil
}
