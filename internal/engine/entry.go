// Package engine is the room-scoped playback core: the queue coordinator, the
// playback clock, the ownership guard and the connection manager that keeps a
// client subscribed to exactly one room.
//
// The engine never talks to a database or a socket directly. It consumes the
// ports declared in ports.go, which are implemented by internal/store (in
// process) and internal/client (HTTP + websocket).
package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusPlaying   Status = "playing"
	StatusHistory   Status = "history"
	StatusCancelled Status = "cancelled" // terminal
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusPlaying, StatusHistory, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an entry may move from s to next.
// history and cancelled are terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusPlaying || next == StatusCancelled
	case StatusPlaying:
		return next == StatusHistory || next == StatusQueued || next == StatusCancelled
	}
	return false
}

// CatalogItem is a registered, playable song.
type CatalogItem struct {
	Number          int    `json:"number"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	MediaRef        string `json:"mediaRef"`
	DurationSeconds int    `json:"durationSeconds"`
	ThumbnailURL    string `json:"thumbnailUrl,omitempty"`
}

// QueueEntry is one scheduled or historical performance in a room.
type QueueEntry struct {
	ID                int64       `json:"id"`
	Song              CatalogItem `json:"song"`
	SingerName        string      `json:"singerName"`
	Status            Status      `json:"status"`
	RoomCode          string      `json:"roomCode"`
	IsPlaying         bool        `json:"isPlaying"`
	PositionSeconds   int         `json:"positionSeconds"`
	ResetTriggerCount int         `json:"resetTriggerCount"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// Before reports whether e sorts ahead of other in queue order.
func (e QueueEntry) Before(other QueueEntry) bool {
	if !e.CreatedAt.Equal(other.CreatedAt) {
		return e.CreatedAt.Before(other.CreatedAt)
	}
	return e.ID < other.ID
}

// Row is a queue row as a QueueStore returns it. The catalog join is nullable
// and nothing has been validated yet; DecodeEntry turns it into a QueueEntry.
type Row struct {
	ID                int64        `json:"id"`
	Song              *CatalogItem `json:"song"`
	SingerName        string       `json:"singerName"`
	Status            string       `json:"status"`
	RoomCode          string       `json:"roomCode"`
	IsPlaying         bool         `json:"isPlaying"`
	PositionSeconds   int          `json:"positionSeconds"`
	ResetTriggerCount int          `json:"resetTriggerCount"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// DecodeEntry validates a store row. Rows with a missing catalog join, an
// unknown status, an empty singer or a malformed room code are rejected with
// ErrDecode rather than patched up.
func DecodeEntry(r Row) (QueueEntry, error) {
	if r.Song == nil {
		return QueueEntry{}, fmt.Errorf("%w: entry %d has no catalog item", ErrDecode, r.ID)
	}
	status := Status(r.Status)
	if !status.Valid() {
		return QueueEntry{}, fmt.Errorf("%w: entry %d has status %q", ErrDecode, r.ID, r.Status)
	}
	if strings.TrimSpace(r.SingerName) == "" {
		return QueueEntry{}, fmt.Errorf("%w: entry %d has no singer", ErrDecode, r.ID)
	}
	code, err := NormalizeRoomCode(r.RoomCode)
	if err != nil {
		return QueueEntry{}, fmt.Errorf("%w: entry %d: %v", ErrDecode, r.ID, err)
	}
	if r.PositionSeconds < 0 {
		r.PositionSeconds = 0
	}
	return QueueEntry{
		ID:                r.ID,
		Song:              *r.Song,
		SingerName:        r.SingerName,
		Status:            status,
		RoomCode:          code,
		IsPlaying:         r.IsPlaying,
		PositionSeconds:   r.PositionSeconds,
		ResetTriggerCount: r.ResetTriggerCount,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}, nil
}

const (
	minRoomCodeLen = 3
	maxRoomCodeLen = 6
)

// NormalizeRoomCode trims and uppercases a human-entered room code and checks
// that it is 3 to 6 characters of A-Z and 0-9.
func NormalizeRoomCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) < minRoomCodeLen || len(code) > maxRoomCodeLen {
		return "", fmt.Errorf("room code must be %d-%d characters, got %q", minRoomCodeLen, maxRoomCodeLen, code)
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("room code %q contains %q", code, r)
		}
	}
	return code, nil
}

// Snapshot is the derived view of a room: what is playing and what is next.
type Snapshot struct {
	Current   *QueueEntry  `json:"current"`
	IsPlaying bool         `json:"isPlaying"`
	Queue     []QueueEntry `json:"queue"`
	Rejected  int          `json:"rejected,omitempty"`
}

// DeriveSnapshot builds a snapshot from decoded queued and playing entries.
// If the store briefly holds several playing rows, the last one in queue
// order wins; if it holds none, nothing is current.
func DeriveSnapshot(entries []QueueEntry) Snapshot {
	sorted := make([]QueueEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	var snap Snapshot
	snap.Queue = make([]QueueEntry, 0, len(sorted))
	for i := range sorted {
		switch sorted[i].Status {
		case StatusPlaying:
			e := sorted[i]
			snap.Current = &e
		case StatusQueued:
			snap.Queue = append(snap.Queue, sorted[i])
		}
	}
	if snap.Current != nil {
		snap.IsPlaying = snap.Current.IsPlaying
	}
	return snap
}

// clone returns a copy that shares nothing mutable with s.
func (s Snapshot) clone() Snapshot {
	out := Snapshot{IsPlaying: s.IsPlaying, Rejected: s.Rejected}
	if s.Current != nil {
		c := *s.Current
		out.Current = &c
	}
	out.Queue = make([]QueueEntry, len(s.Queue))
	copy(out.Queue, s.Queue)
	return out
}

// ParseClockDuration parses "M:SS" or "H:MM:SS" catalog durations into
// seconds. Anything unparseable is treated as unknown (0).
func ParseClockDuration(s string) int {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	total := 0
	for _, p := range parts {
		var n int
		if _, err := fmt.Sscanf(p, "%d", &n); err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}
