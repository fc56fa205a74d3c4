package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tunr/backend/internal/engine"
	"github.com/tunr/backend/internal/models"
)

const wsWriteWait = 5 * time.Second

// Dial opens the room websocket. An expired token is refreshed once.
func (c *Client) Dial(ctx context.Context, room string) (engine.Channel, error) {
	code, err := engine.NormalizeRoomCode(room)
	if err != nil {
		return nil, err
	}
	conn, err := c.dial(ctx, code)
	if errors.Is(err, ErrUnauthorized) && c.canRefresh() {
		if rerr := c.refresh(ctx); rerr != nil {
			return nil, errors.Join(err, rerr)
		}
		conn, err = c.dial(ctx, code)
	}
	if err != nil {
		return nil, err
	}

	ch := &wsChannel{
		conn:   conn,
		room:   code,
		log:    c.log.With(slog.String("room", code)),
		events: make(chan engine.Event, 8),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		ready:  true,
	}
	go ch.readPump()
	return ch, nil
}

func (c *Client) dial(ctx context.Context, code string) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL + "/api/rooms/" + code + "/ws")
	if err != nil {
		return nil, fmt.Errorf("room channel url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	hdr := make(http.Header)
	if token := c.token(); token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), hdr)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, fmt.Errorf("dial room %s: %w", code, statusError(resp))
		}
		return nil, fmt.Errorf("dial room %s: %w", code, err)
	}
	return conn, nil
}

// wsChannel is one open room websocket.
type wsChannel struct {
	conn   *websocket.Conn
	room   string
	log    *slog.Logger
	events chan engine.Event
	quit   chan struct{}
	done   chan struct{}

	writeMu sync.Mutex

	mu     sync.Mutex
	ready  bool
	closed bool
}

// readPump turns frames into events until the connection fails or the
// channel is closed.
func (ch *wsChannel) readPump() {
	defer close(ch.done)
	defer close(ch.events)
	defer ch.markDown()

	for {
		var msg models.SyncMessage
		if err := ch.conn.ReadJSON(&msg); err != nil {
			if !ch.isClosed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ch.log.Warn("room channel dropped", slog.Any("error", err))
			}
			return
		}

		var ev engine.Event
		switch msg.Type {
		case models.MessageQueueChanged:
			ev = engine.Event{Kind: engine.EventQueueChanged}
		case models.MessageSync:
			if msg.Payload == nil {
				continue
			}
			ev = engine.Event{Kind: engine.EventPulse, Pulse: *msg.Payload}
		case models.MessageError:
			ch.log.Warn("room channel refused a message", slog.String("reason", msg.Error))
			continue
		default:
			ch.log.Debug("unknown room channel frame", slog.String("type", msg.Type))
			continue
		}

		select {
		case ch.events <- ev:
		case <-ch.quit:
			return
		}
	}
}

func (ch *wsChannel) Events() <-chan engine.Event { return ch.events }

// Send writes a sync frame. It fails once the connection is down.
func (ch *wsChannel) Send(p engine.Pulse) error {
	if !ch.Ready() {
		return fmt.Errorf("room %s channel is not connected", ch.room)
	}
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	ch.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := ch.conn.WriteJSON(models.SyncMessage{Type: models.MessageSync, Payload: &p}); err != nil {
		ch.markDown()
		return fmt.Errorf("send pulse to room %s: %w", ch.room, err)
	}
	return nil
}

func (ch *wsChannel) Ready() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.ready && !ch.closed
}

func (ch *wsChannel) markDown() {
	ch.mu.Lock()
	ch.ready = false
	ch.mu.Unlock()
}

func (ch *wsChannel) isClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

// Close sends a close frame, drops the connection and waits for the read
// pump to exit.
func (ch *wsChannel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	ch.mu.Unlock()

	close(ch.quit)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = ch.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	err := ch.conn.Close()
	<-ch.done
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
