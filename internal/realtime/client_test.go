package realtime

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivecal/internal/protocol"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func next(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no realtime event")
		return Event{}
	}
}

// echoServer answers every join with a reservation.changed and hangs up
// the first connection after that.
func echoServer(t *testing.T, conns *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		n := conns.Add(1)
		go func(conn net.Conn) {
			defer conn.Close()
			for {
				data, _, err := wsutil.ReadClientData(conn)
				if err != nil {
					return
				}
				m, err := protocol.Decode(data)
				if err != nil || m.Type != protocol.TypeJoin {
					continue
				}
				out, _ := protocol.Encode(protocol.Message{
					Type:          protocol.TypeChanged,
					ReservationID: m.ReservationID,
					Event:         "reservation.updated",
				})
				if err := wsutil.WriteServerMessage(conn, ws.OpText, out); err != nil {
					return
				}
				if n == 1 {
					return
				}
			}
		}(conn)
	}))
}

func TestClientReceivesAndReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := echoServer(t, &conns)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(wsURL(srv), 10*time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Equal(t, Connected, next(t, c).Kind)
	require.True(t, c.Connected())
	require.NoError(t, c.Send(ctx, protocol.Message{Type: protocol.TypeJoin, UserID: "u1", ReservationID: "r1"}))

	ev := next(t, c)
	require.Equal(t, Received, ev.Kind)
	assert.Equal(t, protocol.TypeChanged, ev.Message.Type)
	assert.Equal(t, "r1", ev.Message.ReservationID)

	assert.Equal(t, Disconnected, next(t, c).Kind)
	assert.Equal(t, Connected, next(t, c).Kind)
	assert.EqualValues(t, 2, conns.Load())

	require.NoError(t, c.Send(ctx, protocol.Message{Type: protocol.TypeJoin, UserID: "u1", ReservationID: "r2"}))
	ev = next(t, c)
	assert.Equal(t, "r2", ev.Message.ReservationID)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws", time.Millisecond)
	err := c.Send(context.Background(), protocol.Message{Type: protocol.TypeLeave})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, c.Connected())
}

func TestBackoffDoublesToCap(t *testing.T) {
	d := time.Second
	var seen []time.Duration
	for i := 0; i < 7; i++ {
		d = grow(d)
		seen = append(seen, d)
	}
	assert.Equal(t, 2*time.Second, seen[0])
	assert.Equal(t, 16*time.Second, seen[3])
	assert.Equal(t, MaxBackoff, seen[6])
}
