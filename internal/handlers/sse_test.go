package handlers

import (
	"bufio"
	"net/http"
	"strings"
	"testing"

	"github.com/tunr/backend/internal/engine"
)

// readEvent returns the next "event:" name and its "data:" line.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && name != "":
			return name, data
		}
	}
}

func TestSSEStream(t *testing.T) {
	env := newTestEnv(t)
	songID, _ := env.seedRoom(t)

	resp := env.do(t, http.MethodGet, "/rooms/abcd/events?access_token="+env.guestToken, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	events := bufio.NewReader(resp.Body)

	if name, data := readEvent(t, events); name != "connected" || data != "ABCD" {
		t.Fatalf("first event = %s %q, want connected ABCD", name, data)
	}

	if _, err := env.store.InsertEntry(t.Context(), "host", engine.NewEntry{SongID: songID, SingerName: "Sam", Status: engine.StatusQueued, RoomCode: "ABCD"}); err != nil {
		t.Fatalf("InsertEntry() error: %v", err)
	}

	if name, data := readEvent(t, events); name != "queue_changed" || data != "refresh" {
		t.Errorf("event = %s %q, want queue_changed refresh", name, data)
	}
}

func TestSSEUnknownRoom(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/rooms/ZZZZ/events", env.guestToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
