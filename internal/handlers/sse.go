package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tunr/backend/internal/logging"
	"github.com/tunr/backend/internal/store"
)

const (
	sseKeepAlive = 30 * time.Second
	sseRetryMs   = 3000
)

// SSEHandler serves a read-only event stream of a room for followers that
// cannot hold a websocket. Pulses are relayed but never accepted here.
type SSEHandler struct {
	store *store.Store
}

func NewSSEHandler(s *store.Store) *SSEHandler {
	return &SSEHandler{store: s}
}

// eventWriter numbers and flushes each event it writes.
type eventWriter struct {
	w     io.Writer
	flush func()
	seq   int
}

func (e *eventWriter) event(name, data string) error {
	e.seq++
	if _, err := fmt.Fprintf(e.w, "id: %d\nevent: %s\ndata: %s\n\n", e.seq, name, data); err != nil {
		return err
	}
	e.flush()
	return nil
}

func (e *eventWriter) comment(text string) error {
	if _, err := fmt.Fprintf(e.w, ": %s\n\n", text); err != nil {
		return err
	}
	e.flush()
	return nil
}

// Stream sends "connected" with the room code, then "queue_changed" whenever
// the queue changes and "sync" with each host pulse as JSON. Comments keep
// idle connections open through proxies.
func (h *SSEHandler) Stream(w http.ResponseWriter, r *http.Request) {
	code, ok := roomParam(w, r)
	if !ok {
		return
	}
	ctx := logging.WithRoom(r.Context(), code)
	if _, err := h.store.RoomOwner(ctx, code); err != nil {
		writeStoreError(ctx, w, "room "+code, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")

	sub := h.store.Subscribe(code)
	defer h.store.Unsubscribe(code, sub)

	out := &eventWriter{w: w, flush: flusher.Flush}
	fmt.Fprintf(w, "retry: %d\n", sseRetryMs)
	if err := out.event("connected", code); err != nil {
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case <-sub.Changes:
			err = out.event("queue_changed", "refresh")
		case p := <-sub.Pulses:
			data, merr := json.Marshal(p)
			if merr != nil {
				continue
			}
			err = out.event("sync", string(data))
		case <-keepAlive.C:
			err = out.comment("keep-alive")
		}
		if err != nil {
			slog.DebugContext(ctx, "event stream closed", append(logging.RequestFields(ctx), slog.Any("error", err))...)
			return
		}
	}
}
