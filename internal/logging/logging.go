// Package logging configures the process-wide slog logger and the request
// fields, security events and error rendering shared by the HTTP layer.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mdobak/go-xerrors"

	"github.com/tunr/backend/internal/engine"
)

// SecurityEvent names a security-relevant event in the logs.
type SecurityEvent string

const (
	SecurityEventMissingAuth       SecurityEvent = "missing_auth"
	SecurityEventInvalidAuthFmt    SecurityEvent = "invalid_auth_format"
	SecurityEventInvalidJWT        SecurityEvent = "invalid_jwt"
	SecurityEventRateLimited       SecurityEvent = "rate_limited"
	SecurityEventNotOwner          SecurityEvent = "not_owner"
	SecurityEventCodeTaken         SecurityEvent = "code_taken"
	SecurityEventGhostControl      SecurityEvent = "ghost_control"
	SecurityEventPulseRejected     SecurityEvent = "pulse_rejected"
	SecurityEventBadIdentitySecret SecurityEvent = "bad_identity_secret"
)

// FormatText selects the logfmt-style handler; anything else logs JSON.
const FormatText = "text"

// Initialize installs the default logger. LOGGING_LEVEL is one of debug,
// info, warn or error (default info); LOGGING_FORMAT is json or text.
func Initialize() {
	h := NewHandler(os.Stdout, decodeLogLevel(os.Getenv("LOGGING_LEVEL")), os.Getenv("LOGGING_FORMAT"))
	slog.SetDefault(slog.New(h))
}

// NewHandler returns a handler that renders errors with their engine
// operation and stack trace.
func NewHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceAttr}
	if strings.EqualFold(strings.TrimSpace(format), FormatText) {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func decodeLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindAny {
		return a
	}
	if err, ok := a.Value.Any().(error); ok {
		a.Value = errorValue(err)
	}
	return a
}

type stackFrame struct {
	Func   string `json:"func"`
	Source string `json:"source"`
	Line   int    `json:"line"`
}

// errorValue groups the message, the failed engine operation and its error
// class when err carries one, and any stack trace captured by WrapError.
func errorValue(err error) slog.Value {
	attrs := []slog.Attr{slog.String("msg", err.Error())}

	var opErr *engine.OpError
	if errors.As(err, &opErr) {
		attrs = append(attrs, slog.String("op", opErr.Op))
		if opErr.Kind != nil {
			attrs = append(attrs, slog.String("kind", opErr.Kind.Error()))
		}
	}
	if frames := stackFrames(err); len(frames) > 0 {
		attrs = append(attrs, slog.Any("trace", frames))
	}
	return slog.GroupValue(attrs...)
}

func stackFrames(err error) []stackFrame {
	trace := xerrors.StackTrace(err)
	if len(trace) == 0 {
		return nil
	}
	var out []stackFrame
	for _, f := range trace.Frames() {
		out = append(out, stackFrame{
			Func:   filepath.Base(f.Function),
			Source: filepath.Join(filepath.Base(filepath.Dir(f.File)), filepath.Base(f.File)),
			Line:   f.Line,
		})
	}
	return out
}

// WrapError prefixes err with msg and records the caller's stack. The
// result still matches err with errors.Is.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, xerrors.WithStackTrace(err, 1))
}

// RequestAttrs are the request details attached to every log line of a
// request.
type RequestAttrs struct {
	RequestID  string
	Method     string
	Path       string
	IP         string
	IdentityID string
	Room       string
}

type contextKey struct{}

func WithRequestAttrs(ctx context.Context, attrs *RequestAttrs) context.Context {
	return context.WithValue(ctx, contextKey{}, attrs)
}

func GetRequestAttrs(ctx context.Context) *RequestAttrs {
	attrs, _ := ctx.Value(contextKey{}).(*RequestAttrs)
	return attrs
}

// WithIdentity records the authenticated caller.
func WithIdentity(ctx context.Context, identityID string) context.Context {
	return withAttr(ctx, func(a *RequestAttrs) { a.IdentityID = identityID })
}

// WithRoom records the room a request operates on.
func WithRoom(ctx context.Context, room string) context.Context {
	return withAttr(ctx, func(a *RequestAttrs) { a.Room = room })
}

// withAttr stores a modified copy so contexts derived earlier are unaffected.
func withAttr(ctx context.Context, set func(*RequestAttrs)) context.Context {
	var next RequestAttrs
	if cur := GetRequestAttrs(ctx); cur != nil {
		next = *cur
	}
	set(&next)
	return WithRequestAttrs(ctx, &next)
}

// RequestFields returns the request attributes as slog fields, or nil
// outside a request.
func RequestFields(ctx context.Context) []any {
	a := GetRequestAttrs(ctx)
	if a == nil {
		return nil
	}
	fields := []any{
		slog.String("method", a.Method),
		slog.String("path", a.Path),
		slog.String("ip", a.IP),
	}
	if a.RequestID != "" {
		fields = append(fields, slog.String("request_id", a.RequestID))
	}
	if a.IdentityID != "" {
		fields = append(fields, slog.String("identity_id", a.IdentityID))
	}
	if a.Room != "" {
		fields = append(fields, slog.String("room", a.Room))
	}
	return fields
}

// ClientIP returns the address resolved by the RealIP middleware, or the
// connection's remote host when that middleware did not run.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// LogSecurityEvent logs a warning tagged with event and the request fields.
func LogSecurityEvent(ctx context.Context, event SecurityEvent, msg string, attrs ...any) {
	fields := append(RequestFields(ctx), slog.String("security_event", string(event)))
	slog.WarnContext(ctx, msg, append(fields, attrs...)...)
}

// LogErrorWithStatus logs a failed request at error level.
func LogErrorWithStatus(ctx context.Context, status int, msg string, err error) {
	fields := append(RequestFields(ctx), slog.Int("status", status))
	if err != nil {
		fields = append(fields, slog.Any("error", err))
	}
	slog.ErrorContext(ctx, msg, fields...)
}
