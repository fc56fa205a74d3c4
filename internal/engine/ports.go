package engine

import (
	"context"
	"time"
)

// NewEntry is the insert payload for a queue row.
type NewEntry struct {
	SongID     int64  `json:"songId"`
	SingerName string `json:"singerName"`
	Status     Status `json:"status"`
	IsPlaying  bool   `json:"isPlaying"`
	RoomCode   string `json:"roomCode"`
}

// EntryPatch is a partial update of a queue row. Nil fields are left alone.
// StampSync records the write as a position checkpoint.
type EntryPatch struct {
	Status            *Status    `json:"status,omitempty"`
	IsPlaying         *bool      `json:"isPlaying,omitempty"`
	PositionSeconds   *int       `json:"positionSeconds,omitempty"`
	ResetTriggerCount *int       `json:"resetTriggerCount,omitempty"`
	CreatedAt         *time.Time `json:"createdAt,omitempty"`
	StampSync         bool       `json:"stampSync,omitempty"`
}

// QueueStore is the durable, room-partitioned queue. Reads are ordered by
// (CreatedAt, ID). Authorization is the store's business: single-row writes
// the caller may not perform fail with ErrPermission, while room-scoped bulk
// writes silently skip rows the caller does not own and report 0 affected.
type QueueStore interface {
	ListEntries(ctx context.Context, room string, statuses ...Status) ([]Row, error)
	EntriesByID(ctx context.Context, ids ...int64) ([]Row, error)
	// LatestUpdated returns the most recently updated row with status, or nil.
	LatestUpdated(ctx context.Context, room string, status Status) (*Row, error)
	InsertEntry(ctx context.Context, e NewEntry) (int64, error)
	UpdateEntry(ctx context.Context, id int64, p EntryPatch) (int64, error)
	UpdateRoomEntries(ctx context.Context, room string, status Status, p EntryPatch) (int64, error)
	DeleteEntry(ctx context.Context, id int64) error
	DeleteRoomEntries(ctx context.Context, room string) (int64, error)
}

// Catalog resolves songs by their human-entered number.
type Catalog interface {
	// FindSong returns the store id of a registered song, or ErrNotFound.
	FindSong(ctx context.Context, number int) (int64, error)
	RegisterSong(ctx context.Context, item CatalogItem) (int64, error)
}

// RoomRegistry maps room codes to their owning identity.
type RoomRegistry interface {
	// RegisterRoom fails with ErrConflict when the code is already registered.
	RegisterRoom(ctx context.Context, code, ownerID string) error
	// RoomOwner returns the owner id, or ErrNotFound.
	RoomOwner(ctx context.Context, code string) (string, error)
}

// IdentityProvider holds the caller's credential.
type IdentityProvider interface {
	// Identity returns the current identity id, or "" when none is held.
	Identity() string
	SignInAnonymously(ctx context.Context) (string, error)
}

// Pulse is the ephemeral heartbeat broadcast by the host. Timestamp is the
// sender's wall clock in Unix milliseconds; 0 means absent.
type Pulse struct {
	Seconds   float64 `json:"seconds"`
	Playing   *bool   `json:"playing,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// EventKind discriminates channel events.
type EventKind int

const (
	EventQueueChanged EventKind = iota + 1
	EventPulse
)

func (k EventKind) String() string {
	switch k {
	case EventQueueChanged:
		return "queue_changed"
	case EventPulse:
		return "sync"
	}
	return "unknown"
}

// Event is one item of a room channel's stream.
type Event struct {
	Kind  EventKind
	Pulse Pulse
}

// Channel is one open, room-scoped subscription. Events is closed when the
// channel shuts down.
type Channel interface {
	Events() <-chan Event
	Send(p Pulse) error
	Ready() bool
	Close() error
}

// Dialer opens room channels.
type Dialer interface {
	Dial(ctx context.Context, room string) (Channel, error)
}

// Renderer is the media output the clock steers. Implementations must be safe
// for concurrent use.
type Renderer interface {
	CurrentTime() float64
	SeekTo(seconds float64)
	SetPlaying(playing bool)
}
