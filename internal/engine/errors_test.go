package engine

import (
	"errors"
	"strings"
	"testing"
)

func TestOpErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("timeout")
	err := opErr("enqueue", ErrInsert, cause)

	if !errors.Is(err, ErrInsert) {
		t.Error("errors.Is(err, ErrInsert) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	if got, want := err.Error(), "enqueue: queue insert failed: timeout"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "permission", err: opErr("dequeue", ErrPermission, ErrPermission), want: "don't own this room"},
		{name: "not owner", err: opErr("claim room", ErrNotOwner, nil), want: "don't own this room"},
		{name: "ghost", err: opErr("advance", ErrGhostControl, nil), want: "Session control lost"},
		{name: "generic", err: opErr("reorder", nil, errors.New("boom")), want: "reorder failed: boom"},
		{name: "kind only", err: opErr("reorder", ErrNotFound, nil), want: "reorder failed: not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UserMessage(tt.err)
			if tt.want == "" {
				if got != "" {
					t.Errorf("UserMessage() = %q, want empty", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("UserMessage() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}
