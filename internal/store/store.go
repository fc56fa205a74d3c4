// Package store is the authorization-aware repository over internal/db. It
// enforces the room ownership policy, publishes change signals on the broker
// and records metrics. HTTP handlers and in-process clients both go through
// it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/tunr/backend/internal/broker"
	"github.com/tunr/backend/internal/db"
	"github.com/tunr/backend/internal/engine"
	"github.com/tunr/backend/internal/metrics"
)

// ErrInvalid marks a request the store refuses to run as given.
var ErrInvalid = errors.New("invalid argument")

// Queries is the subset of *db.Queries the store uses.
type Queries interface {
	CreateIdentity(ctx context.Context, arg db.CreateIdentityParams) (db.Identity, error)
	GetIdentityByID(ctx context.Context, id string) (db.Identity, error)
	DisplayNameExists(ctx context.Context, displayName string) (bool, error)
	CreateRoom(ctx context.Context, arg db.CreateRoomParams) (db.Room, error)
	GetRoomByCode(ctx context.Context, code string) (db.Room, error)
	GetSongByNumber(ctx context.Context, number int64) (db.Song, error)
	CreateSong(ctx context.Context, arg db.CreateSongParams) (db.Song, error)
	NextSongNumber(ctx context.Context) (int64, error)
	ListQueueEntries(ctx context.Context, arg db.ListQueueEntriesParams) ([]db.QueueEntry, error)
	GetQueueEntriesByIDs(ctx context.Context, ids []int64) ([]db.QueueEntry, error)
	GetQueueEntry(ctx context.Context, id int64) (db.QueueEntry, error)
	GetLatestUpdatedEntry(ctx context.Context, arg db.GetLatestUpdatedEntryParams) (db.QueueEntry, error)
	CreateQueueEntry(ctx context.Context, arg db.CreateQueueEntryParams) (int64, error)
	UpdateQueueEntry(ctx context.Context, arg db.UpdateQueueEntryParams) (int64, error)
	UpdateRoomQueueEntries(ctx context.Context, arg db.UpdateRoomQueueEntriesParams) (int64, error)
	DeleteQueueEntry(ctx context.Context, arg db.DeleteQueueEntryParams) (int64, error)
	DeleteRoomQueueEntries(ctx context.Context, arg db.DeleteRoomQueueEntriesParams) (int64, error)
}

// Store is safe for concurrent use.
type Store struct {
	q       Queries
	broker  *broker.Broker
	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(q Queries, b *broker.Broker, m *metrics.Metrics) *Store {
	return &Store{q: q, broker: b, metrics: m, log: slog.Default()}
}

// Identities

func (s *Store) CreateIdentity(ctx context.Context, id, displayName, secretHash string) (db.Identity, error) {
	return s.q.CreateIdentity(ctx, db.CreateIdentityParams{ID: id, DisplayName: displayName, SecretHash: secretHash})
}

func (s *Store) Identity(ctx context.Context, id string) (db.Identity, error) {
	ident, err := s.q.GetIdentityByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return db.Identity{}, fmt.Errorf("identity %s: %w", id, engine.ErrNotFound)
	}
	return ident, err
}

func (s *Store) DisplayNameExists(ctx context.Context, name string) (bool, error) {
	return s.q.DisplayNameExists(ctx, name)
}

// Rooms

// RegisterRoom records owner as the owner of code.
func (s *Store) RegisterRoom(ctx context.Context, code, owner string) error {
	code, err := engine.NormalizeRoomCode(code)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	_, err = s.q.CreateRoom(ctx, db.CreateRoomParams{Code: code, OwnerID: owner})
	switch {
	case db.IsUniqueViolation(err):
		return fmt.Errorf("room %s: %w", code, engine.ErrConflict)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("identity %s: %w", owner, engine.ErrNotFound)
	case err != nil:
		return fmt.Errorf("create room %s: %w", code, err)
	}
	return nil
}

func (s *Store) RoomOwner(ctx context.Context, code string) (string, error) {
	room, err := s.q.GetRoomByCode(ctx, strings.ToUpper(code))
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("room %s: %w", code, engine.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return room.OwnerID, nil
}

// Songs

// Song returns the registered song with number and its store id.
func (s *Store) Song(ctx context.Context, number int) (int64, engine.CatalogItem, error) {
	song, err := s.q.GetSongByNumber(ctx, int64(number))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, engine.CatalogItem{}, fmt.Errorf("song %d: %w", number, engine.ErrNotFound)
	}
	if err != nil {
		return 0, engine.CatalogItem{}, err
	}
	return song.ID, songToItem(song), nil
}

func (s *Store) RegisterSong(ctx context.Context, item engine.CatalogItem) (int64, error) {
	if item.Number <= 0 || strings.TrimSpace(item.Title) == "" || strings.TrimSpace(item.MediaRef) == "" {
		return 0, fmt.Errorf("%w: song needs a number, title and media reference", ErrInvalid)
	}
	song, err := s.q.CreateSong(ctx, db.CreateSongParams{
		Number:          int64(item.Number),
		Title:           item.Title,
		Artist:          item.Artist,
		MediaRef:        item.MediaRef,
		DurationSeconds: int64(max(item.DurationSeconds, 0)),
		ThumbnailUrl:    item.ThumbnailURL,
	})
	if err != nil {
		return 0, fmt.Errorf("register song %d: %w", item.Number, err)
	}
	return song.ID, nil
}

// AddSong registers item under the next free song number when it has none.
func (s *Store) AddSong(ctx context.Context, item engine.CatalogItem) (int64, engine.CatalogItem, error) {
	if item.Number <= 0 {
		n, err := s.q.NextSongNumber(ctx)
		if err != nil {
			return 0, item, fmt.Errorf("next song number: %w", err)
		}
		item.Number = int(n)
	}
	id, err := s.RegisterSong(ctx, item)
	return id, item, err
}

func songToItem(s db.Song) engine.CatalogItem {
	return engine.CatalogItem{
		Number:          int(s.Number),
		Title:           s.Title,
		Artist:          s.Artist,
		MediaRef:        s.MediaRef,
		DurationSeconds: int(s.DurationSeconds),
		ThumbnailURL:    s.ThumbnailUrl,
	}
}

// Queue reads

func (s *Store) ListEntries(ctx context.Context, room string, statuses ...engine.Status) ([]engine.Row, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	entries, err := s.q.ListQueueEntries(ctx, db.ListQueueEntriesParams{RoomCode: strings.ToUpper(room), Statuses: names})
	if err != nil {
		return nil, fmt.Errorf("list queue for room %s: %w", room, err)
	}
	return toRows(entries)
}

func (s *Store) EntriesByID(ctx context.Context, ids ...int64) ([]engine.Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	entries, err := s.q.GetQueueEntriesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get queue entries: %w", err)
	}
	return toRows(entries)
}

func (s *Store) LatestUpdated(ctx context.Context, room string, status engine.Status) (*engine.Row, error) {
	entry, err := s.q.GetLatestUpdatedEntry(ctx, db.GetLatestUpdatedEntryParams{RoomCode: strings.ToUpper(room), Status: string(status)})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest %s entry for room %s: %w", status, room, err)
	}
	row, err := toRow(entry)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func toRows(entries []db.QueueEntry) ([]engine.Row, error) {
	rows := make([]engine.Row, 0, len(entries))
	for _, e := range entries {
		r, err := toRow(e)
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func toRow(e db.QueueEntry) (engine.Row, error) {
	created, err := db.ParseTime(e.CreatedAt)
	if err != nil {
		return engine.Row{}, fmt.Errorf("entry %d created_at: %w", e.ID, err)
	}
	updated, err := db.ParseTime(e.UpdatedAt)
	if err != nil {
		return engine.Row{}, fmt.Errorf("entry %d updated_at: %w", e.ID, err)
	}
	r := engine.Row{
		ID:                e.ID,
		SingerName:        e.SingerName,
		Status:            e.Status,
		RoomCode:          e.RoomCode,
		IsPlaying:         e.IsPlaying,
		PositionSeconds:   int(e.PositionSeconds),
		ResetTriggerCount: int(e.ResetTriggerCount),
		CreatedAt:         created,
		UpdatedAt:         updated,
	}
	if e.SongID.Valid && e.SongNumber.Valid {
		r.Song = &engine.CatalogItem{
			Number:          int(e.SongNumber.Int64),
			Title:           e.SongTitle.String,
			Artist:          e.SongArtist.String,
			MediaRef:        e.SongMediaRef.String,
			DurationSeconds: int(e.SongDurationSeconds.Int64),
			ThumbnailURL:    e.SongThumbnailUrl.String,
		}
	}
	return r, nil
}

// Queue writes

// InsertEntry adds an entry to a room. Anyone with an identity may insert.
func (s *Store) InsertEntry(ctx context.Context, actor string, e engine.NewEntry) (id int64, err error) {
	defer func() { s.metrics.QueueMutation("insert", err) }()

	if strings.TrimSpace(e.SingerName) == "" {
		return 0, fmt.Errorf("%w: singer name is required", ErrInvalid)
	}
	if e.Status != engine.StatusQueued && e.Status != engine.StatusPlaying {
		return 0, fmt.Errorf("%w: new entries must be queued or playing, got %q", ErrInvalid, e.Status)
	}
	room, err := engine.NormalizeRoomCode(e.RoomCode)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	id, err = s.q.CreateQueueEntry(ctx, db.CreateQueueEntryParams{
		SongID:     e.SongID,
		SingerName: strings.TrimSpace(e.SingerName),
		Status:     string(e.Status),
		RoomCode:   room,
		IsPlaying:  e.IsPlaying,
	})
	if db.IsForeignKeyViolation(err) {
		return 0, fmt.Errorf("room %s or song %d: %w", room, e.SongID, engine.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("insert queue entry: %w", err)
	}
	s.log.Debug("queue entry inserted", slog.Int64("entry_id", id), slog.String("room", room), slog.String("identity_id", actor))
	s.broker.PublishChange(room)
	return id, nil
}

// UpdateEntry patches one entry. Only the room owner may do so; anyone else
// gets engine.ErrPermission.
func (s *Store) UpdateEntry(ctx context.Context, actor string, id int64, p engine.EntryPatch) (n int64, err error) {
	defer func() { s.metrics.QueueMutation("update", err) }()

	patch, err := toPatch(p)
	if err != nil {
		return 0, err
	}
	existing, err := s.q.GetQueueEntry(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("entry %d: %w", id, engine.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("get entry %d: %w", id, err)
	}
	n, err = s.q.UpdateQueueEntry(ctx, db.UpdateQueueEntryParams{QueuePatch: patch, ID: id, OwnerID: actor})
	if err != nil {
		return 0, fmt.Errorf("update entry %d: %w", id, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("update entry %d in room %s: %w", id, existing.RoomCode, engine.ErrPermission)
	}
	// Position checkpoints are not queue changes.
	if !onlyCheckpoint(p) {
		s.broker.PublishChange(existing.RoomCode)
	}
	return n, nil
}

// UpdateRoomEntries patches every entry of room in status. Rows the actor
// does not own are skipped silently, so a non-owner sees 0 affected.
func (s *Store) UpdateRoomEntries(ctx context.Context, actor, room string, status engine.Status, p engine.EntryPatch) (n int64, err error) {
	defer func() { s.metrics.QueueMutation("update_room", err) }()

	patch, err := toPatch(p)
	if err != nil {
		return 0, err
	}
	room = strings.ToUpper(room)
	n, err = s.q.UpdateRoomQueueEntries(ctx, db.UpdateRoomQueueEntriesParams{
		QueuePatch:  patch,
		RoomCode:    room,
		WhereStatus: string(status),
		OwnerID:     actor,
	})
	if err != nil {
		return 0, fmt.Errorf("update %s entries in room %s: %w", status, room, err)
	}
	if n == 0 {
		s.metrics.ZeroRowBulkWrite("update_room")
		return 0, nil
	}
	s.broker.PublishChange(room)
	return n, nil
}

// DeleteEntry removes one entry. Only the room owner may do so.
func (s *Store) DeleteEntry(ctx context.Context, actor string, id int64) (err error) {
	defer func() { s.metrics.QueueMutation("delete", err) }()

	existing, err := s.q.GetQueueEntry(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("entry %d: %w", id, engine.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get entry %d: %w", id, err)
	}
	n, err := s.q.DeleteQueueEntry(ctx, db.DeleteQueueEntryParams{ID: id, OwnerID: actor})
	if err != nil {
		return fmt.Errorf("delete entry %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete entry %d in room %s: %w", id, existing.RoomCode, engine.ErrPermission)
	}
	s.broker.PublishChange(existing.RoomCode)
	return nil
}

// DeleteRoomEntries removes every entry of room the actor owns.
func (s *Store) DeleteRoomEntries(ctx context.Context, actor, room string) (n int64, err error) {
	defer func() { s.metrics.QueueMutation("delete_room", err) }()

	room = strings.ToUpper(room)
	n, err = s.q.DeleteRoomQueueEntries(ctx, db.DeleteRoomQueueEntriesParams{RoomCode: room, OwnerID: actor})
	if err != nil {
		return 0, fmt.Errorf("clear room %s: %w", room, err)
	}
	if n == 0 {
		s.metrics.ZeroRowBulkWrite("delete_room")
		return 0, nil
	}
	s.broker.PublishChange(room)
	return n, nil
}

func toPatch(p engine.EntryPatch) (db.QueuePatch, error) {
	var out db.QueuePatch
	if p.Status != nil {
		if !p.Status.Valid() {
			return out, fmt.Errorf("%w: unknown status %q", ErrInvalid, *p.Status)
		}
		out.Status = sql.NullString{String: string(*p.Status), Valid: true}
	}
	if p.IsPlaying != nil {
		out.IsPlaying = sql.NullBool{Bool: *p.IsPlaying, Valid: true}
	}
	if p.PositionSeconds != nil {
		if *p.PositionSeconds < 0 {
			return out, fmt.Errorf("%w: negative position", ErrInvalid)
		}
		out.PositionSeconds = sql.NullInt64{Int64: int64(*p.PositionSeconds), Valid: true}
	}
	if p.ResetTriggerCount != nil {
		out.ResetTriggerCount = sql.NullInt64{Int64: int64(*p.ResetTriggerCount), Valid: true}
	}
	if p.CreatedAt != nil {
		out.CreatedAt = sql.NullString{String: db.FormatTime(*p.CreatedAt), Valid: true}
	}
	out.StampSync = p.StampSync
	return out, nil
}

func onlyCheckpoint(p engine.EntryPatch) bool {
	return p.StampSync && p.Status == nil && p.IsPlaying == nil && p.ResetTriggerCount == nil && p.CreatedAt == nil
}

// Sync channel

// Subscribe opens a broker mailbox for room.
func (s *Store) Subscribe(room string) *broker.Subscriber {
	s.metrics.ChannelOpened()
	return s.broker.Subscribe(strings.ToUpper(room))
}

func (s *Store) Unsubscribe(room string, sub *broker.Subscriber) {
	s.broker.Unsubscribe(strings.ToUpper(room), sub)
	s.metrics.ChannelClosed()
}

// RelayPulse forwards a pulse from the actor's channel to the rest of the
// room. Only the room owner may drive playback.
func (s *Store) RelayPulse(ctx context.Context, actor, room string, from *broker.Subscriber, p engine.Pulse) (int, error) {
	if math.IsNaN(p.Seconds) || math.IsInf(p.Seconds, 0) || p.Seconds < 0 {
		s.metrics.PulseDropped("invalid")
		return 0, fmt.Errorf("%w: pulse position %v", ErrInvalid, p.Seconds)
	}
	owner, err := s.RoomOwner(ctx, room)
	if err != nil {
		s.metrics.PulseDropped("unknown_room")
		return 0, err
	}
	if owner != actor {
		s.metrics.PulseDropped("not_owner")
		return 0, fmt.Errorf("pulse for room %s: %w", room, engine.ErrPermission)
	}
	n := s.broker.PublishPulse(strings.ToUpper(room), from, p)
	s.metrics.PulseRelayed(n)
	return n, nil
}

// PulseDropped records a pulse the transport refused before it reached the store.
func (s *Store) PulseDropped(reason string) {
	s.metrics.PulseDropped(reason)
}
