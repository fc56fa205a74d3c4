package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Direction moves an entry one slot through the queue.
type Direction int

const (
	Up Direction = iota + 1
	Down
)

// Coordinator owns queue mutations for the active room and keeps the local
// snapshot in step with the store.
type Coordinator struct {
	store   QueueStore
	catalog Catalog
	state   *State
	log     *slog.Logger

	// onChange is called after every applied snapshot.
	onChange func(SnapshotChange)
}

func NewCoordinator(store QueueStore, catalog Catalog, state *State, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{store: store, catalog: catalog, state: state, log: log}
}

// Enqueue adds item to the active room for singer. When nothing is current
// the entry starts playing immediately.
func (c *Coordinator) Enqueue(ctx context.Context, item CatalogItem, singer string) error {
	const op = "enqueue"
	singer = strings.TrimSpace(singer)
	if singer == "" {
		return opErr(op, ErrInsert, errors.New("singer name is required"))
	}
	room := c.state.Room()
	if room == "" {
		return opErr(op, ErrNoActiveRoom, nil)
	}

	songID, err := c.catalog.FindSong(ctx, item.Number)
	if errors.Is(err, ErrNotFound) {
		songID, err = c.catalog.RegisterSong(ctx, item)
	}
	if err != nil {
		return opErr(op, ErrLookup, err)
	}

	autoPlay := c.state.Current() == nil
	entry := NewEntry{
		SongID:     songID,
		SingerName: singer,
		Status:     StatusQueued,
		RoomCode:   room,
	}
	if autoPlay {
		entry.Status = StatusPlaying
		entry.IsPlaying = true
	}
	id, err := c.store.InsertEntry(ctx, entry)
	if err != nil {
		return opErr(op, ErrInsert, err)
	}
	c.log.Debug("entry queued", slog.Int64("entry_id", id), slog.String("room", room), slog.Bool("auto_play", autoPlay))

	c.refresh(ctx)
	return nil
}

// Dequeue removes an entry. The snapshot is refreshed whatever the outcome.
func (c *Coordinator) Dequeue(ctx context.Context, id int64) error {
	err := c.store.DeleteEntry(ctx, id)
	c.refresh(ctx)
	if err != nil {
		return opErr("dequeue", storeKind(err), err)
	}
	return nil
}

// Reorder swaps an entry with its neighbour in dir. Moving past either end
// of the queue does nothing.
func (c *Coordinator) Reorder(ctx context.Context, id int64, dir Direction) error {
	const op = "reorder"
	queue := c.state.Queue()
	idx := -1
	for i := range queue {
		if queue[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return opErr(op, ErrNotFound, nil)
	}
	target := idx - 1
	if dir == Down {
		target = idx + 1
	}
	if target < 0 || target >= len(queue) {
		return nil
	}
	otherID := queue[target].ID

	// Local timestamps may be stale; re-read both rows before swapping.
	rows, err := c.store.EntriesByID(ctx, id, otherID)
	if err != nil {
		return opErr(op, storeKind(err), err)
	}
	var moved, other *Row
	for i := range rows {
		switch rows[i].ID {
		case id:
			moved = &rows[i]
		case otherID:
			other = &rows[i]
		}
	}
	if moved == nil || other == nil {
		return opErr(op, ErrNotFound, nil)
	}

	movedAt, otherAt := moved.CreatedAt, other.CreatedAt
	if movedAt.Equal(otherAt) {
		stamps, err := c.untie(ctx, queue, movedAt)
		if err != nil {
			return opErr(op, storeKind(err), err)
		}
		movedAt, otherAt = stamps[id], stamps[otherID]
	}
	if _, err := c.store.UpdateEntry(ctx, id, EntryPatch{CreatedAt: &otherAt}); err != nil {
		return opErr(op, storeKind(err), err)
	}
	if _, err := c.store.UpdateEntry(ctx, otherID, EntryPatch{CreatedAt: &movedAt}); err != nil {
		return opErr(op, storeKind(err), err)
	}

	c.refresh(ctx)
	return nil
}

// untie gives the queued entries stamped at distinct consecutive
// milliseconds in (CreatedAt, ID) order, pushing later entries back where
// needed so the order is unchanged. It returns the stamps of the run by id.
func (c *Coordinator) untie(ctx context.Context, queue []QueueEntry, at time.Time) (map[int64]time.Time, error) {
	ids := make([]int64, len(queue))
	for i := range queue {
		ids[i] = queue[i].ID
	}
	rows, err := c.store.EntriesByID(ctx, ids...)
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].ID < rows[j].ID
	})

	stamps := make(map[int64]time.Time, len(rows))
	var prev time.Time
	for _, r := range rows {
		if len(stamps) == 0 {
			if r.CreatedAt.Equal(at) {
				prev = at
				stamps[r.ID] = at
			}
			continue
		}
		if r.CreatedAt.After(prev) {
			break
		}
		prev = prev.Add(time.Millisecond)
		stamp := prev
		if _, err := c.store.UpdateEntry(ctx, r.ID, EntryPatch{CreatedAt: &stamp}); err != nil {
			return nil, err
		}
		stamps[r.ID] = stamp
	}
	return stamps, nil
}

// ClearAll deletes every entry of the active room.
func (c *Coordinator) ClearAll(ctx context.Context) error {
	const op = "clear queue"
	room := c.state.Room()
	if room == "" {
		return opErr(op, ErrNoActiveRoom, nil)
	}
	n, err := c.store.DeleteRoomEntries(ctx, room)
	c.refresh(ctx)
	if err != nil {
		return opErr(op, storeKind(err), err)
	}
	// The store deletes nothing for a caller that does not own the room.
	if n == 0 && (len(c.state.Queue()) > 0 || c.state.Current() != nil) {
		c.log.Warn("queue clear deleted nothing", slog.String("room", room))
		return opErr(op, ErrPermission, errors.New("no entries deleted"))
	}
	c.log.Debug("queue cleared", slog.String("room", room), slog.Int64("deleted", n))
	return nil
}

// FetchSnapshot reads the room's queued and playing entries and replaces the
// local snapshot. On failure the previous snapshot is kept and returned.
func (c *Coordinator) FetchSnapshot(ctx context.Context) (Snapshot, error) {
	const op = "fetch snapshot"
	room := c.state.Room()
	if room == "" {
		return Snapshot{}, opErr(op, ErrNoActiveRoom, nil)
	}

	rows, err := c.store.ListEntries(ctx, room, StatusQueued, StatusPlaying)
	if err != nil {
		c.log.Warn("failed to fetch queue snapshot", slog.String("room", room), slog.Any("error", err))
		return c.state.Snapshot(), opErr(op, storeKind(err), err)
	}

	entries := make([]QueueEntry, 0, len(rows))
	rejected := 0
	for _, r := range rows {
		e, err := DecodeEntry(r)
		if err != nil {
			rejected++
			c.log.Warn("dropping malformed queue row", slog.String("room", room), slog.Any("error", err))
			continue
		}
		entries = append(entries, e)
	}
	snap := DeriveSnapshot(entries)
	snap.Rejected = rejected

	// The room may have been switched while the read was in flight.
	if c.state.Room() != room {
		return snap, nil
	}
	change := c.state.apply(snap)
	if c.onChange != nil {
		c.onChange(change)
	}
	return snap, nil
}

func (c *Coordinator) refresh(ctx context.Context) {
	if c.state.Room() == "" {
		return
	}
	_, _ = c.FetchSnapshot(ctx)
}
