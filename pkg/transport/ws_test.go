package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chorus/pkg/events"
	"github.com/go-go-golems/chorus/pkg/streaming"
)

// stubConn is an in-memory Conn: text frames pushed into inbox come out of
// ReadMessage, writes are recorded, Close unblocks the reader.
type stubConn struct {
	inbox  chan []byte
	closed chan struct{}

	mu         sync.Mutex
	writes     [][]byte
	failWrites bool

	closeOnce sync.Once
}

func newStubConn() *stubConn {
	return &stubConn{
		inbox:  make(chan []byte, 8),
		closed: make(chan struct{}),
	}
}

func (c *stubConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbox:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *stubConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return errors.New("write failed")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *stubConn) SetWriteDeadline(time.Time) error { return nil }

func (c *stubConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *stubConn) push(t *testing.T, data string) {
	t.Helper()
	select {
	case c.inbox <- []byte(data):
	case <-time.After(time.Second):
		t.Fatal("stub inbox full")
	}
}

func (c *stubConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.writes))
	for _, w := range c.writes {
		out = append(out, string(w))
	}
	return out
}

func (c *stubConn) failAllWrites() {
	c.mu.Lock()
	c.failWrites = true
	c.mu.Unlock()
}

func (c *stubConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func newTransportRegistry(t *testing.T) *streaming.Registry {
	t.Helper()
	router, err := events.NewRouter(events.RouterConfig{BaseCtx: context.Background()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Close() })
	registry, err := streaming.NewRegistry(streaming.RegistryConfig{
		BaseCtx: context.Background(),
		Events:  router,
	})
	require.NoError(t, err)
	return registry
}

func clientCount(registry *streaming.Registry, transport string) int {
	return registry.Stats().ClientsPerTransport[transport]
}

func TestWSHub_DeliverRoutesByConversation(t *testing.T) {
	registry := newTransportRegistry(t)
	hub, err := NewWSHub(WSHubConfig{Registry: registry})
	require.NoError(t, err)

	connA := newStubConn()
	connB := newStubConn()
	_, err = hub.Attach("conv-a", connA)
	require.NoError(t, err)
	_, err = hub.Attach("conv-b", connB)
	require.NoError(t, err)
	require.Equal(t, 2, clientCount(registry, "websocket"))

	hub.Deliver("conv-a", []byte(`{"type":"chunk"}`))

	require.Equal(t, []string{`{"type":"chunk"}`}, connA.written())
	require.Empty(t, connB.written())
}

func TestWSHub_PingAnsweredWithPong(t *testing.T) {
	registry := newTransportRegistry(t)
	hub, err := NewWSHub(WSHubConfig{Registry: registry})
	require.NoError(t, err)

	conn := newStubConn()
	_, err = hub.Attach("conv-1", conn)
	require.NoError(t, err)

	conn.push(t, "ping")
	require.Eventually(t, func() bool {
		for _, w := range conn.written() {
			if w == "pong" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWSHub_FailedWriteDropsConnection(t *testing.T) {
	registry := newTransportRegistry(t)
	hub, err := NewWSHub(WSHubConfig{Registry: registry})
	require.NoError(t, err)

	healthy := newStubConn()
	broken := newStubConn()
	_, err = hub.Attach("conv-1", healthy)
	require.NoError(t, err)
	_, err = hub.Attach("conv-1", broken)
	require.NoError(t, err)
	broken.failAllWrites()

	hub.Deliver("conv-1", []byte("one"))

	require.Equal(t, []string{"one"}, healthy.written())
	require.EqualValues(t, 1, hub.Dropped())
	require.True(t, broken.isClosed())
	require.Equal(t, 1, clientCount(registry, "websocket"))

	// The dropped connection is out of the pool for good.
	hub.Deliver("conv-1", []byte("two"))
	require.Equal(t, []string{"one", "two"}, healthy.written())
	require.EqualValues(t, 1, hub.Dropped())
}

func TestWSHub_DisconnectUnregistersClient(t *testing.T) {
	registry := newTransportRegistry(t)
	hub, err := NewWSHub(WSHubConfig{Registry: registry})
	require.NoError(t, err)

	conn := newStubConn()
	_, err = hub.Attach("conv-1", conn)
	require.NoError(t, err)
	require.Equal(t, 1, clientCount(registry, "websocket"))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return clientCount(registry, "websocket") == 0
	}, 2*time.Second, 5*time.Millisecond)

	hub.Deliver("conv-1", []byte("late"))
	require.Empty(t, conn.written())
}

func TestWSHub_CloseConversation(t *testing.T) {
	registry := newTransportRegistry(t)
	hub, err := NewWSHub(WSHubConfig{Registry: registry})
	require.NoError(t, err)

	connA := newStubConn()
	connB := newStubConn()
	_, err = hub.Attach("conv-1", connA)
	require.NoError(t, err)
	_, err = hub.Attach("conv-1", connB)
	require.NoError(t, err)

	hub.CloseConversation("conv-1")

	require.True(t, connA.isClosed())
	require.True(t, connB.isClosed())
	require.Equal(t, 0, clientCount(registry, "websocket"))

	hub.Deliver("conv-1", []byte("late"))
	require.Empty(t, connA.written())
	require.Empty(t, connB.written())
}

func TestWSHub_AttachValidation(t *testing.T) {
	registry := newTransportRegistry(t)
	hub, err := NewWSHub(WSHubConfig{Registry: registry})
	require.NoError(t, err)

	_, err = hub.Attach("  ", newStubConn())
	require.Error(t, err)
	_, err = hub.Attach("conv-1", nil)
	require.Error(t, err)

	_, err = NewWSHub(WSHubConfig{})
	require.Error(t, err)
}
