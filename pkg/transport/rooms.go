package transport

import (
	"encoding/json"
	"sort"
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

type RoomsHubConfig struct {
	Registry *streaming.Registry
}

type roomsClient struct {
	id   string
	conn Conn
}

// roomCommand is one inbound control frame.
type roomCommand struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversationId,omitempty"`
}

// RoomsHub is the websocket transport with an explicit room protocol:
// clients join conversation rooms and only receive events for rooms they
// are in. Control frames (join/leave/ping/status) are answered on the same
// socket; stream event payloads pass through untouched.
type RoomsHub struct {
	registry *streaming.Registry

	mu sync.Mutex
	// rooms maps conversation id to members; membership mirrors rooms.
	rooms      map[string]map[*roomsClient]struct{}
	membership map[*roomsClient]map[string]struct{}

	dropped atomic.Uint64
}

func NewRoomsHub(cfg RoomsHubConfig) (*RoomsHub, error) {
	if cfg.Registry == nil {
		return nil, errors.New("rooms hub registry is nil")
	}
	return &RoomsHub{
		registry:   cfg.Registry,
		rooms:      map[string]map[*roomsClient]struct{}{},
		membership: map[*roomsClient]map[string]struct{}{},
	}, nil
}

func (h *RoomsHub) Name() string { return "rooms" }

// Attach registers the connection and starts its control loop. The client
// is in no room until it sends a join frame.
func (h *RoomsHub) Attach(conn Conn) (string, error) {
	if h == nil {
		return "", errors.New("rooms hub is nil")
	}
	if conn == nil {
		return "", errors.New("websocket connection is nil")
	}

	client := &roomsClient{id: uuid.NewString(), conn: conn}
	h.mu.Lock()
	h.membership[client] = map[string]struct{}{}
	h.mu.Unlock()
	h.registry.RegisterClient(h.Name(), client.id)

	log.Debug().
		Str("component", "transport").
		Str("transport", h.Name()).
		Str("client_id", client.id).
		Msg("rooms client attached")

	go h.controlLoop(client)
	return client.id, nil
}

func (h *RoomsHub) controlLoop(client *roomsClient) {
	defer h.detach(client)
	for {
		msgType, data, err := client.conn.ReadMessage()
		if err != nil {
			log.Debug().
				Str("component", "transport").
				Str("client_id", client.id).
				Err(err).
				Msg("rooms control loop end")
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var cmd roomCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Debug().
				Str("component", "transport").
				Str("client_id", client.id).
				Err(err).
				Msg("rooms: unreadable control frame")
			continue
		}
		h.handleCommand(client, cmd)
	}
}

func (h *RoomsHub) handleCommand(client *roomsClient, cmd roomCommand) {
	switch strings.ToLower(strings.TrimSpace(cmd.Action)) {
	case "join":
		conv := strings.TrimSpace(cmd.ConversationID)
		if conv == "" {
			return
		}
		h.mu.Lock()
		room, ok := h.rooms[conv]
		if !ok {
			room = map[*roomsClient]struct{}{}
			h.rooms[conv] = room
		}
		room[client] = struct{}{}
		if joined, ok := h.membership[client]; ok {
			joined[conv] = struct{}{}
		}
		h.mu.Unlock()
		h.send(client, controlFrame("joined", conv))
	case "leave":
		conv := strings.TrimSpace(cmd.ConversationID)
		if conv == "" {
			return
		}
		h.mu.Lock()
		h.leaveLocked(client, conv)
		h.mu.Unlock()
		h.send(client, controlFrame("left", conv))
	case "ping":
		h.send(client, controlFrame("pong", ""))
	case "status":
		h.send(client, h.statusFrame(client))
	default:
		log.Debug().
			Str("component", "transport").
			Str("client_id", client.id).
			Str("action", cmd.Action).
			Msg("rooms: unknown action ignored")
	}
}

// Deliver broadcasts the payload to every member of the conversation's room.
func (h *RoomsHub) Deliver(conversationID string, payload []byte) {
	if h == nil || len(payload) == 0 {
		return
	}
	var drops []*roomsClient

	h.mu.Lock()
	for client := range h.rooms[conversationID] {
		_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Debug().
				Str("component", "transport").
				Str("conv_id", conversationID).
				Str("client_id", client.id).
				Err(err).
				Msg("rooms delivery failed, dropping client")
			h.removeLocked(client)
			drops = append(drops, client)
		}
	}
	h.mu.Unlock()

	for _, client := range drops {
		h.dropped.Add(1)
		_ = client.conn.Close()
		h.registry.UnregisterClient(h.Name(), client.id)
	}
}

// CloseConversation tells members the room is gone and removes it.
func (h *RoomsHub) CloseConversation(conversationID string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	room := h.rooms[conversationID]
	delete(h.rooms, conversationID)
	members := make([]*roomsClient, 0, len(room))
	for client := range room {
		if joined, ok := h.membership[client]; ok {
			delete(joined, conversationID)
		}
		members = append(members, client)
	}
	h.mu.Unlock()

	frame := controlFrame("room_closed", conversationID)
	for _, client := range members {
		h.send(client, frame)
	}
}

// Dropped reports clients dropped on failed writes.
func (h *RoomsHub) Dropped() uint64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

func (h *RoomsHub) detach(client *roomsClient) {
	h.mu.Lock()
	h.removeLocked(client)
	h.mu.Unlock()
	_ = client.conn.Close()
	h.registry.UnregisterClient(h.Name(), client.id)
}

func (h *RoomsHub) removeLocked(client *roomsClient) {
	for conv := range h.membership[client] {
		h.leaveLocked(client, conv)
	}
	delete(h.membership, client)
}

func (h *RoomsHub) leaveLocked(client *roomsClient, conv string) {
	if room, ok := h.rooms[conv]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, conv)
		}
	}
	if joined, ok := h.membership[client]; ok {
		delete(joined, conv)
	}
}

// send writes a control frame if the client is still attached.
func (h *RoomsHub) send(client *roomsClient, data []byte) {
	h.mu.Lock()
	_, attached := h.membership[client]
	var err error
	if attached {
		_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err = client.conn.WriteMessage(websocket.TextMessage, data)
		if err != nil {
			h.removeLocked(client)
		}
	}
	h.mu.Unlock()

	if err != nil {
		h.dropped.Add(1)
		_ = client.conn.Close()
		h.registry.UnregisterClient(h.Name(), client.id)
	}
}

func (h *RoomsHub) statusFrame(client *roomsClient) []byte {
	stats := h.registry.Stats()

	h.mu.Lock()
	joined := make([]string, 0, len(h.membership[client]))
	for conv := range h.membership[client] {
		joined = append(joined, conv)
	}
	h.mu.Unlock()
	sort.Strings(joined)

	frame := map[string]any{
		"type":          "status",
		"rooms":         joined,
		"activeStreams": stats.ActiveStreams,
		"timestamp":     time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(frame)
	return b
}

func controlFrame(typ, conversationID string) []byte {
	frame := map[string]any{
		"type":      typ,
		"timestamp": time.Now().UnixMilli(),
	}
	if conversationID != "" {
		frame["conversationId"] = conversationID
	}
	b, _ := json.Marshal(frame)
	return b
}
