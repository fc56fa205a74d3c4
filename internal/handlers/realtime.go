package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tunr/backend/internal/broker"
	"github.com/tunr/backend/internal/engine"
	"github.com/tunr/backend/internal/logging"
	"github.com/tunr/backend/internal/middleware"
	"github.com/tunr/backend/internal/models"
	"github.com/tunr/backend/internal/store"
)

const (
	wsWriteWait      = 5 * time.Second
	wsPongWait       = 30 * time.Second
	wsPingPeriod     = wsPongWait * 9 / 10
	wsMaxMessageSize = 4096
)

// RealtimeHandler serves the room sync channel over a websocket: queue change
// signals and host pulses go out, the owner's pulses come in.
type RealtimeHandler struct {
	store     *store.Store
	pulseRate rate.Limit
	burst     int
	upgrader  websocket.Upgrader
}

// NewRealtimeHandler limits each connection to pulsesPerSecond inbound
// pulses and checks handshakes against origins.
func NewRealtimeHandler(s *store.Store, pulsesPerSecond int, origins middleware.Origins) *RealtimeHandler {
	if pulsesPerSecond <= 0 {
		pulsesPerSecond = 1
	}
	return &RealtimeHandler{
		store:     s,
		pulseRate: rate.Limit(pulsesPerSecond),
		burst:     pulsesPerSecond,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.CheckOrigin,
		},
	}
}

// Serve upgrades the request and runs the channel until either side closes.
func (h *RealtimeHandler) Serve(w http.ResponseWriter, r *http.Request) {
	code, ok := roomParam(w, r)
	if !ok {
		return
	}
	ctx := logging.WithRoom(r.Context(), code)
	if _, err := h.store.RoomOwner(ctx, code); err != nil {
		writeStoreError(ctx, w, "room "+code, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.DebugContext(ctx, "websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	sub := h.store.Subscribe(code)
	defer h.store.Unsubscribe(code, sub)

	identity := middleware.IdentityID(ctx)
	rejections := make(chan string, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		h.readPulses(ctx, conn, identity, code, sub, rejections)
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		var msg models.SyncMessage
		select {
		case <-ctx.Done():
			return
		case <-readerDone:
			return
		case <-sub.Changes:
			msg = models.SyncMessage{Type: models.MessageQueueChanged}
		case p := <-sub.Pulses:
			msg = models.SyncMessage{Type: models.MessageSync, Payload: &p}
		case reason := <-rejections:
			msg = models.SyncMessage{Type: models.MessageError, Error: reason}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			slog.DebugContext(ctx, "websocket write failed", slog.Any("error", err))
			return
		}
	}
}

// readPulses relays inbound sync frames until the connection fails. Refused
// pulses are reported back on rejections without blocking.
func (h *RealtimeHandler) readPulses(ctx context.Context, conn *websocket.Conn, identity, room string, sub *broker.Subscriber, rejections chan<- string) {
	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	limiter := rate.NewLimiter(h.pulseRate, h.burst)
	reject := func(reason string) {
		select {
		case rejections <- reason:
		default:
		}
	}

	for {
		var msg models.SyncMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.DebugContext(ctx, "websocket read failed", slog.Any("error", err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if msg.Type != models.MessageSync || msg.Payload == nil {
			continue
		}
		if !limiter.Allow() {
			h.store.PulseDropped("rate_limited")
			continue
		}

		_, err := h.store.RelayPulse(ctx, identity, room, sub, *msg.Payload)
		switch {
		case err == nil:
		case errors.Is(err, engine.ErrPermission):
			logging.LogSecurityEvent(ctx, logging.SecurityEventPulseRejected, "pulse from non-owner dropped")
			reject("not the room owner")
		case errors.Is(err, store.ErrInvalid):
			reject(err.Error())
		default:
			slog.WarnContext(ctx, "pulse relay failed", slog.Any("error", err))
		}
	}
}
