// Package realtime is the WebSocket client of the collaboration channel.
// It keeps one connection open, reconnecting with backoff, and turns
// frames into Events for the session loop.
package realtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	appLog "drivecal/internal/log"
	"drivecal/internal/protocol"
)

// MaxBackoff caps the reconnect delay.
const MaxBackoff = 30 * time.Second

// ErrNotConnected is returned by Send while the channel is down.
var ErrNotConnected = errors.New("realtime: not connected")

type EventKind int

const (
	Connected EventKind = iota
	Disconnected
	Received
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "message"
	}
}

// Event is delivered on Client.Events.
type Event struct {
	Kind    EventKind
	Message protocol.Message
	Err     error
}

// Client implements presence.Sender over a WebSocket.
type Client struct {
	url     string
	backoff time.Duration
	events  chan Event

	mu   sync.Mutex
	conn net.Conn
}

// New creates a client for url. reconnect is the first retry delay.
func New(url string, reconnect time.Duration) *Client {
	if reconnect <= 0 {
		reconnect = time.Second
	}
	return &Client{
		url:     url,
		backoff: reconnect,
		events:  make(chan Event, 64),
	}
}

func (c *Client) Events() <-chan Event {
	return c.events
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run connects and reads until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	delay := c.backoff
	for {
		conn, br, _, err := ws.Dial(ctx, c.url)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			appLog.Warn("realtime dial failed", "url", c.url, "retry_in", delay.String(), "err", err)
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			delay = grow(delay)
			continue
		}
		delay = c.backoff

		err = c.serve(ctx, conn, br)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		appLog.Info("realtime disconnected", "err", err)
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

func (c *Client) serve(ctx context.Context, conn net.Conn, br *bufio.Reader) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	appLog.Info("realtime connected", "url", c.url)
	c.emit(ctx, Event{Kind: Connected})

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
		defer ws.PutReader(br)
	}
	rw := struct {
		io.Reader
		io.Writer
	}{r, &lockedWriter{c: c, w: conn}}

	var err error
	for {
		var data []byte
		data, _, err = wsutil.ReadServerData(rw)
		if err != nil {
			break
		}
		m, derr := protocol.Decode(data)
		if derr != nil {
			appLog.Warn("realtime frame ignored", "err", derr)
			continue
		}
		c.emit(ctx, Event{Kind: Received, Message: m})
	}

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	conn.Close()
	c.emit(ctx, Event{Kind: Disconnected, Err: err})
	return err
}

// Send writes one message as a text frame.
func (c *Client) Send(ctx context.Context, m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(dl)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if err := wsutil.WriteClientMessage(c.conn, ws.OpText, data); err != nil {
		return fmt.Errorf("realtime send %s: %w", m.Type, err)
	}
	return nil
}

func (c *Client) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

// lockedWriter serializes control-frame replies from the reader with Send.
type lockedWriter struct {
	c *Client
	w io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	return l.w.Write(p)
}

func grow(d time.Duration) time.Duration {
	d *= 2
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
