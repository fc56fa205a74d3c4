package store

import (
	"context"
	"errors"
	"sync"

	"github.com/tunr/backend/internal/broker"
	"github.com/tunr/backend/internal/engine"
)

// Local binds the store to one identity so it satisfies the engine ports in
// process, without HTTP in between.
type Local struct {
	store *Store
	actor string
}

var (
	_ engine.QueueStore       = (*Local)(nil)
	_ engine.Catalog          = (*Local)(nil)
	_ engine.RoomRegistry     = (*Local)(nil)
	_ engine.IdentityProvider = (*Local)(nil)
	_ engine.Dialer           = (*Local)(nil)
)

// As returns a Local acting as identity id.
func (s *Store) As(id string) *Local {
	return &Local{store: s, actor: id}
}

func (l *Local) Identity() string { return l.actor }

// SignInAnonymously returns the bound identity; Local identities are
// provisioned up front.
func (l *Local) SignInAnonymously(ctx context.Context) (string, error) {
	if l.actor == "" {
		return "", errors.New("local store has no identity bound")
	}
	if _, err := l.store.Identity(ctx, l.actor); err != nil {
		return "", err
	}
	return l.actor, nil
}

func (l *Local) ListEntries(ctx context.Context, room string, statuses ...engine.Status) ([]engine.Row, error) {
	return l.store.ListEntries(ctx, room, statuses...)
}

func (l *Local) EntriesByID(ctx context.Context, ids ...int64) ([]engine.Row, error) {
	return l.store.EntriesByID(ctx, ids...)
}

func (l *Local) LatestUpdated(ctx context.Context, room string, status engine.Status) (*engine.Row, error) {
	return l.store.LatestUpdated(ctx, room, status)
}

func (l *Local) InsertEntry(ctx context.Context, e engine.NewEntry) (int64, error) {
	return l.store.InsertEntry(ctx, l.actor, e)
}

func (l *Local) UpdateEntry(ctx context.Context, id int64, p engine.EntryPatch) (int64, error) {
	return l.store.UpdateEntry(ctx, l.actor, id, p)
}

func (l *Local) UpdateRoomEntries(ctx context.Context, room string, status engine.Status, p engine.EntryPatch) (int64, error) {
	return l.store.UpdateRoomEntries(ctx, l.actor, room, status, p)
}

func (l *Local) DeleteEntry(ctx context.Context, id int64) error {
	return l.store.DeleteEntry(ctx, l.actor, id)
}

func (l *Local) DeleteRoomEntries(ctx context.Context, room string) (int64, error) {
	return l.store.DeleteRoomEntries(ctx, l.actor, room)
}

func (l *Local) FindSong(ctx context.Context, number int) (int64, error) {
	id, _, err := l.store.Song(ctx, number)
	return id, err
}

func (l *Local) RegisterSong(ctx context.Context, item engine.CatalogItem) (int64, error) {
	return l.store.RegisterSong(ctx, item)
}

func (l *Local) RegisterRoom(ctx context.Context, code, owner string) error {
	return l.store.RegisterRoom(ctx, code, owner)
}

func (l *Local) RoomOwner(ctx context.Context, code string) (string, error) {
	return l.store.RoomOwner(ctx, code)
}

// Dial opens an in-process room channel backed by the broker.
func (l *Local) Dial(ctx context.Context, room string) (engine.Channel, error) {
	code, err := engine.NormalizeRoomCode(room)
	if err != nil {
		return nil, err
	}
	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch := &localChannel{
		local:  l,
		room:   code,
		sub:    l.store.Subscribe(code),
		events: make(chan engine.Event, 8),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go ch.pump(pumpCtx)
	return ch, nil
}

type localChannel struct {
	local  *Local
	room   string
	sub    *broker.Subscriber
	events chan engine.Event
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func (c *localChannel) pump(ctx context.Context) {
	defer close(c.done)
	defer close(c.events)
	for {
		var ev engine.Event
		select {
		case <-ctx.Done():
			return
		case <-c.sub.Changes:
			ev = engine.Event{Kind: engine.EventQueueChanged}
		case p := <-c.sub.Pulses:
			ev = engine.Event{Kind: engine.EventPulse, Pulse: p}
		}
		select {
		case c.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (c *localChannel) Events() <-chan engine.Event { return c.events }

func (c *localChannel) Send(p engine.Pulse) error {
	_, err := c.local.store.RelayPulse(context.Background(), c.local.actor, c.room, c.sub, p)
	return err
}

func (c *localChannel) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *localChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	<-c.done
	c.local.store.Unsubscribe(c.room, c.sub)
	return nil
}
