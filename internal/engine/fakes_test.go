package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var base = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory QueueStore. When foreign is set the caller does
// not own the room: single-row writes fail with ErrPermission and bulk
// writes affect nothing.
type memStore struct {
	mu      sync.Mutex
	rows    map[int64]*Row
	songs   map[int64]CatalogItem
	nextID  int64
	tick    time.Duration
	foreign bool

	listErr   error
	updateErr error
	insertErr error
	// listOverride, when set, replaces the queued rows ListEntries returns.
	listOverride []Row

	updates int
	synced  int
}

func newMemStore() *memStore {
	return &memStore{rows: map[int64]*Row{}, songs: map[int64]CatalogItem{}}
}

func (s *memStore) now() time.Time {
	s.tick += time.Second
	return base.Add(s.tick)
}

func (s *memStore) seed(room string, song CatalogItem, singer string, status Status, playing bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	at := s.now()
	item := song
	s.rows[s.nextID] = &Row{
		ID: s.nextID, Song: &item, SingerName: singer, Status: string(status),
		RoomCode: room, IsPlaying: playing, CreatedAt: at, UpdatedAt: at,
	}
	return s.nextID
}

func (s *memStore) row(id int64) Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

func (s *memStore) sorted(filter func(*Row) bool) []Row {
	var out []Row
	for _, r := range s.rows {
		if filter(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memStore) ListEntries(_ context.Context, room string, statuses ...Status) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	if s.listOverride != nil && len(statuses) == 1 && statuses[0] == StatusQueued {
		return s.listOverride, nil
	}
	want := map[string]bool{}
	for _, st := range statuses {
		want[string(st)] = true
	}
	return s.sorted(func(r *Row) bool { return r.RoomCode == room && want[r.Status] }), nil
}

func (s *memStore) EntriesByID(_ context.Context, ids ...int64) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	return s.sorted(func(r *Row) bool { return want[r.ID] }), nil
}

func (s *memStore) LatestUpdated(_ context.Context, room string, status Status) (*Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Row
	for _, r := range s.rows {
		if r.RoomCode != room || r.Status != string(status) {
			continue
		}
		if latest == nil || r.UpdatedAt.After(latest.UpdatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

func (s *memStore) InsertEntry(_ context.Context, e NewEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	song, ok := s.songs[e.SongID]
	if !ok {
		return 0, errors.New("unknown song")
	}
	s.nextID++
	at := s.now()
	s.rows[s.nextID] = &Row{
		ID: s.nextID, Song: &song, SingerName: e.SingerName, Status: string(e.Status),
		RoomCode: e.RoomCode, IsPlaying: e.IsPlaying, CreatedAt: at, UpdatedAt: at,
	}
	return s.nextID, nil
}

func (s *memStore) patch(r *Row, p EntryPatch) {
	if p.Status != nil {
		r.Status = string(*p.Status)
	}
	if p.IsPlaying != nil {
		r.IsPlaying = *p.IsPlaying
	}
	if p.PositionSeconds != nil {
		r.PositionSeconds = *p.PositionSeconds
	}
	if p.ResetTriggerCount != nil {
		r.ResetTriggerCount = *p.ResetTriggerCount
	}
	if p.CreatedAt != nil {
		r.CreatedAt = *p.CreatedAt
	}
	if p.StampSync {
		s.synced++
	}
	r.UpdatedAt = s.now()
}

func (s *memStore) UpdateEntry(_ context.Context, id int64, p EntryPatch) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	r, ok := s.rows[id]
	if !ok {
		return 0, ErrNotFound
	}
	if s.foreign {
		return 0, ErrPermission
	}
	s.patch(r, p)
	return 1, nil
}

func (s *memStore) UpdateRoomEntries(_ context.Context, room string, status Status, p EntryPatch) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.foreign {
		return 0, nil
	}
	var n int64
	for _, r := range s.rows {
		if r.RoomCode == room && r.Status == string(status) {
			s.patch(r, p)
			n++
		}
	}
	return n, nil
}

func (s *memStore) DeleteEntry(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return ErrNotFound
	}
	if s.foreign {
		return ErrPermission
	}
	delete(s.rows, id)
	return nil
}

func (s *memStore) DeleteRoomEntries(_ context.Context, room string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.foreign {
		return 0, nil
	}
	var n int64
	for id, r := range s.rows {
		if r.RoomCode == room {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

// FindSong and RegisterSong make memStore its own Catalog.
func (s *memStore) FindSong(_ context.Context, number int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, song := range s.songs {
		if song.Number == number {
			return id, nil
		}
	}
	return 0, ErrNotFound
}

func (s *memStore) RegisterSong(_ context.Context, item CatalogItem) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := int64(len(s.songs) + 1000)
	s.songs[id] = item
	return id, nil
}

type memRooms struct {
	mu     sync.Mutex
	owners map[string]string
}

func newMemRooms() *memRooms { return &memRooms{owners: map[string]string{}} }

func (r *memRooms) RegisterRoom(_ context.Context, code, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owners[code]; ok {
		return ErrConflict
	}
	r.owners[code] = owner
	return nil
}

func (r *memRooms) RoomOwner(_ context.Context, code string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[code]
	if !ok {
		return "", ErrNotFound
	}
	return owner, nil
}

type staticIdentity struct {
	mu      sync.Mutex
	id      string
	next    string
	signIns int
}

func (i *staticIdentity) Identity() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.id
}

func (i *staticIdentity) SignInAnonymously(context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.signIns++
	i.id = i.next
	return i.id, nil
}

type fakeChannel struct {
	mu     sync.Mutex
	events chan Event
	sent   []Pulse
	ready  bool
	closed bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan Event, 16), ready: true}
}

func (c *fakeChannel) Events() <-chan Event { return c.events }

func (c *fakeChannel) Send(p Pulse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, p)
	return nil
}

func (c *fakeChannel) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready && !c.closed
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) Sent() []Pulse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Pulse(nil), c.sent...)
}

type fakeDialer struct {
	mu       sync.Mutex
	channels map[string][]*fakeChannel
	err      error
}

func newFakeDialer() *fakeDialer { return &fakeDialer{channels: map[string][]*fakeChannel{}} }

func (d *fakeDialer) Dial(_ context.Context, room string) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	ch := newFakeChannel()
	d.channels[room] = append(d.channels[room], ch)
	return ch, nil
}

func (d *fakeDialer) last(room string) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	chs := d.channels[room]
	if len(chs) == 0 {
		return nil
	}
	return chs[len(chs)-1]
}

type fakeRenderer struct {
	mu      sync.Mutex
	pos     float64
	playing bool
	seeks   []float64
}

func (r *fakeRenderer) CurrentTime() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

func (r *fakeRenderer) SeekTo(sec float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = sec
	r.seeks = append(r.seeks, sec)
}

func (r *fakeRenderer) SetPlaying(p bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = p
}

func (r *fakeRenderer) Seeks() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.seeks...)
}

type harness struct {
	store    *memStore
	rooms    *memRooms
	identity *staticIdentity
	dialer   *fakeDialer
	renderer *fakeRenderer
	session  *Session
	now      time.Time
}

func newHarness(role Role) *harness {
	h := &harness{
		store:    newMemStore(),
		rooms:    newMemRooms(),
		identity: &staticIdentity{next: "owner-1"},
		dialer:   newFakeDialer(),
		renderer: &fakeRenderer{},
		now:      base,
	}
	h.session = NewSession(Options{
		Store:     h.store,
		Catalog:   h.store,
		Rooms:     h.rooms,
		Identity:  h.identity,
		Dialer:    h.dialer,
		Renderer:  h.renderer,
		Role:      role,
		Logger:    quietLogger(),
		Now:       func() time.Time { return h.now },
		RoomCodes: func() string { return "ABCD" },
	})
	return h
}

func song(n int) CatalogItem {
	return CatalogItem{Number: n, Title: "Song", Artist: "Artist", MediaRef: "vid", DurationSeconds: 180}
}
