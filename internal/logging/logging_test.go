package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tunr/backend/internal/engine"
)

func TestDecodeLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := decodeLogLevel(tt.in); got != tt.want {
			t.Errorf("decodeLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRequestFields(t *testing.T) {
	ctx := WithRequestAttrs(context.Background(), &RequestAttrs{RequestID: "host/abc-000001", Method: "PATCH", Path: "/api/queue/1", IP: "10.0.0.1"})
	ctx = WithIdentity(ctx, "id-1")
	roomCtx := WithRoom(ctx, "ABCD")

	got := map[string]string{}
	for _, f := range RequestFields(roomCtx) {
		a := f.(slog.Attr)
		got[a.Key] = a.Value.String()
	}
	want := map[string]string{"request_id": "host/abc-000001", "method": "PATCH", "path": "/api/queue/1", "ip": "10.0.0.1", "identity_id": "id-1", "room": "ABCD"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("field %s = %q, want %q", k, got[k], v)
		}
	}
	if GetRequestAttrs(ctx).Room != "" {
		t.Error("WithRoom modified the parent context's attributes")
	}
	if RequestFields(context.Background()) != nil {
		t.Error("RequestFields without attrs should be nil")
	}
}

func TestWrapErrorKeepsCause(t *testing.T) {
	if WrapError(nil, "x") != nil {
		t.Fatal("WrapError(nil) should be nil")
	}
	cause := errors.New("disk full")
	err := WrapError(cause, "save queue")
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(WrapError(cause), cause) = false")
	}
	if !strings.HasPrefix(err.Error(), "save queue: ") {
		t.Errorf("Error() = %q, want save queue prefix", err.Error())
	}
	if v := errorValue(err); v.Kind() != slog.KindGroup {
		t.Fatalf("errorValue kind = %v, want group", v.Kind())
	}
}

func TestErrorsRenderEngineOperation(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelInfo, "json"))

	err := &engine.OpError{Op: "advance", Kind: engine.ErrGhostControl, Err: errors.New("0 rows")}
	log.Error("control lost", slog.Any("error", err))

	var line struct {
		Error struct {
			Msg  string `json:"msg"`
			Op   string `json:"op"`
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line %q: %v", buf.String(), err)
	}
	if line.Error.Op != "advance" || line.Error.Kind != engine.ErrGhostControl.Error() || line.Error.Msg == "" {
		t.Errorf("error attr = %+v, want op advance with ghost control kind", line.Error)
	}
}

func TestNewHandlerFormats(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, slog.LevelInfo, "text")).Info("hello", "room", "ABCD")
	if out := buf.String(); !strings.Contains(out, "room=ABCD") {
		t.Errorf("text output = %q, want room=ABCD", out)
	}

	buf.Reset()
	slog.New(NewHandler(&buf, slog.LevelWarn, "")).Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info logged below warn level: %q", buf.String())
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	if got := ClientIP(r); got != "203.0.113.9" {
		t.Errorf("ClientIP() = %q, want remote host", got)
	}

	r.Header.Set("X-Forwarded-For", "1.1.1.1")
	if got := ClientIP(r); got != "203.0.113.9" {
		t.Errorf("ClientIP() = %q, forwarded header must not be trusted here", got)
	}

	r.Header.Set("X-Real-IP", "198.51.100.4")
	if got := ClientIP(r); got != "198.51.100.4" {
		t.Errorf("ClientIP() = %q, want X-Real-IP", got)
	}
}
