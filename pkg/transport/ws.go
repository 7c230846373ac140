package transport

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chorus/pkg/streaming"
)

// Conn is the slice of *websocket.Conn the hubs use. Tests substitute
// in-memory stubs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

const writeWait = 10 * time.Second

type WSHubConfig struct {
	Registry *streaming.Registry
}

// WSHub fans stream events out over websockets, one connection pool per
// conversation. Writes are serialized through the hub mutex; a failed write
// drops that connection and nothing else.
type WSHub struct {
	registry *streaming.Registry

	mu    sync.Mutex
	pools map[string]map[Conn]string

	dropped atomic.Uint64
}

func NewWSHub(cfg WSHubConfig) (*WSHub, error) {
	if cfg.Registry == nil {
		return nil, errors.New("ws hub registry is nil")
	}
	return &WSHub{
		registry: cfg.Registry,
		pools:    map[string]map[Conn]string{},
	}, nil
}

func (h *WSHub) Name() string { return "websocket" }

// Attach adds the connection to the conversation's pool and starts its read
// loop. The loop only watches for client pings and disconnection; everything
// else inbound is ignored.
func (h *WSHub) Attach(conversationID string, conn Conn) (string, error) {
	if h == nil {
		return "", errors.New("ws hub is nil")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return "", errors.New("missing conversation id")
	}
	if conn == nil {
		return "", errors.New("websocket connection is nil")
	}

	clientID := uuid.NewString()
	h.mu.Lock()
	pool, ok := h.pools[conversationID]
	if !ok {
		pool = map[Conn]string{}
		h.pools[conversationID] = pool
	}
	pool[conn] = clientID
	h.mu.Unlock()
	h.registry.RegisterClient(h.Name(), clientID)

	log.Debug().
		Str("component", "transport").
		Str("transport", h.Name()).
		Str("conv_id", conversationID).
		Str("client_id", clientID).
		Msg("ws client attached")

	go h.readLoop(conversationID, conn, clientID)
	return clientID, nil
}

func (h *WSHub) readLoop(conversationID string, conn Conn, clientID string) {
	defer h.detach(conversationID, conn, clientID)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().
				Str("component", "transport").
				Str("conv_id", conversationID).
				Str("client_id", clientID).
				Err(err).
				Msg("ws read loop end")
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(string(data)), "ping") {
			h.writeTo(conversationID, conn, []byte("pong"))
		}
	}
}

func (h *WSHub) detach(conversationID string, conn Conn, clientID string) {
	h.mu.Lock()
	if pool, ok := h.pools[conversationID]; ok {
		delete(pool, conn)
		if len(pool) == 0 {
			delete(h.pools, conversationID)
		}
	}
	h.mu.Unlock()
	_ = conn.Close()
	h.registry.UnregisterClient(h.Name(), clientID)
}

// Deliver broadcasts the payload to every connection on the conversation.
func (h *WSHub) Deliver(conversationID string, payload []byte) {
	if h == nil || len(payload) == 0 {
		return
	}
	type droppedConn struct {
		conn Conn
		id   string
	}
	var drops []droppedConn

	h.mu.Lock()
	pool := h.pools[conversationID]
	for conn, id := range pool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Debug().
				Str("component", "transport").
				Str("conv_id", conversationID).
				Str("client_id", id).
				Err(err).
				Msg("ws delivery failed, dropping connection")
			delete(pool, conn)
			drops = append(drops, droppedConn{conn: conn, id: id})
		}
	}
	if pool != nil && len(pool) == 0 {
		delete(h.pools, conversationID)
	}
	h.mu.Unlock()

	for _, d := range drops {
		h.dropped.Add(1)
		_ = d.conn.Close()
		h.registry.UnregisterClient(h.Name(), d.id)
	}
}

// CloseConversation closes every connection in the conversation's pool.
func (h *WSHub) CloseConversation(conversationID string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	pool := h.pools[conversationID]
	delete(h.pools, conversationID)
	h.mu.Unlock()

	for conn, id := range pool {
		_ = conn.Close()
		h.registry.UnregisterClient(h.Name(), id)
	}
	if len(pool) > 0 {
		log.Debug().
			Str("component", "transport").
			Str("conv_id", conversationID).
			Int("connections", len(pool)).
			Msg("ws conversation closed")
	}
}

// Dropped reports connections dropped on failed writes.
func (h *WSHub) Dropped() uint64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

func (h *WSHub) writeTo(conversationID string, conn Conn, data []byte) {
	h.mu.Lock()
	pool, ok := h.pools[conversationID]
	if !ok {
		h.mu.Unlock()
		return
	}
	id, ok := pool[conn]
	if !ok {
		h.mu.Unlock()
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteMessage(websocket.TextMessage, data)
	if err != nil {
		delete(pool, conn)
		if len(pool) == 0 {
			delete(h.pools, conversationID)
		}
	}
	h.mu.Unlock()

	if err != nil {
		h.dropped.Add(1)
		_ = conn.Close()
		h.registry.UnregisterClient(h.Name(), id)
	}
}
