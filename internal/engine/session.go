package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Role is how a session takes part in a room.
type Role int

const (
	// RoleHost owns the room: it runs the heartbeat and the overrun watchdog.
	RoleHost Role = iota + 1
	// RoleFollower only reconciles pulses and mirrors the snapshot.
	RoleFollower
)

const maxCreateAttempts = 5

// Options configures a Session. Store, Catalog, Rooms, Identity and Dialer
// are required; Renderer may be nil for a headless queue client.
type Options struct {
	Store    QueueStore
	Catalog  Catalog
	Rooms    RoomRegistry
	Identity IdentityProvider
	Dialer   Dialer
	Renderer Renderer
	Role     Role
	Logger   *slog.Logger

	// Now overrides the wall clock used for pulse timestamps.
	Now func() time.Time
	// RoomCodes overrides random room code generation.
	RoomCodes func() string
	// OnError receives failures from background loops.
	OnError func(error)
	// OnRecovery is called after control of a room was lost.
	OnRecovery func(oldRoom string)
}

// Session is one client's context: the shared local state and the four
// components operating on it.
type Session struct {
	State *State
	Queue *Coordinator
	Clock *Clock
	Guard *Guard
	Conn  *ConnectionManager

	role       Role
	renderer   Renderer
	log        *slog.Logger
	onError    func(error)
	onRecovery func(string)

	mu         sync.Mutex
	loopCancel context.CancelFunc
	loops      sync.WaitGroup
}

func NewSession(opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	role := opts.Role
	if role == 0 {
		role = RoleFollower
	}

	state := &State{}
	conn := NewConnectionManager(opts.Dialer, log)
	queue := NewCoordinator(opts.Store, opts.Catalog, state, log)
	guard := NewGuard(opts.Identity, opts.Rooms, state, conn, log)
	if opts.RoomCodes != nil {
		guard.codes = func() (string, error) { return opts.RoomCodes(), nil }
	}
	clock := NewClock(opts.Store, state, queue, guard, conn, opts.Renderer, log)
	if opts.Now != nil {
		clock.now = opts.Now
	}

	s := &Session{
		State:      state,
		Queue:      queue,
		Clock:      clock,
		Guard:      guard,
		Conn:       conn,
		role:       role,
		renderer:   opts.Renderer,
		log:        log,
		onError:    opts.OnError,
		onRecovery: opts.OnRecovery,
	}
	queue.onChange = s.snapshotChanged
	guard.onRecovery = s.controlLost
	conn.Handle(
		func(ctx context.Context) { _, _ = queue.FetchSnapshot(ctx) },
		func(p Pulse) { clock.ReconcilePulse(p) },
	)
	return s
}

func (s *Session) Role() Role { return s.role }

// Join makes code the active room: it subscribes to the room channel and
// loads the first snapshot. A channel that cannot be opened is logged and
// the session continues without live updates.
func (s *Session) Join(ctx context.Context, code string) error {
	code, err := NormalizeRoomCode(code)
	if err != nil {
		return opErr("join room", nil, err)
	}
	s.stopLoops()
	s.State.SetRoom(code)
	if err := s.Conn.Subscribe(ctx, code); err != nil {
		s.log.Warn("room channel unavailable", slog.String("room", code), slog.Any("error", err))
	}
	if _, err := s.Queue.FetchSnapshot(ctx); err != nil {
		return err
	}
	return nil
}

// Host takes control of code, or of a freshly created room when code is
// empty, and joins it. It returns the active room code.
func (s *Session) Host(ctx context.Context, code string) (string, error) {
	if code == "" {
		var err error
		for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
			code, err = s.Guard.CreateRoom(ctx)
			if err == nil || !errors.Is(err, ErrCodeTaken) {
				break
			}
			s.log.Debug("room code taken, retrying", slog.Int("attempt", attempt))
		}
		if err != nil {
			return "", err
		}
	} else {
		normalized, err := NormalizeRoomCode(code)
		if err != nil {
			return "", opErr("host room", nil, err)
		}
		if err := s.Guard.ClaimOrAdopt(ctx, normalized); err != nil {
			return "", err
		}
		code = normalized
	}
	s.State.clearRecovery()
	if err := s.Join(ctx, code); err != nil {
		return code, err
	}
	return code, nil
}

// Recover starts a fresh room after control of the previous one was lost.
func (s *Session) Recover(ctx context.Context) (string, error) {
	return s.Host(ctx, "")
}

// Leave drops the active room.
func (s *Session) Leave() {
	s.stopLoops()
	s.Conn.Unsubscribe()
	s.State.SetRoom("")
}

// Close leaves the room and waits for every background goroutine.
func (s *Session) Close() {
	s.Leave()
	s.loops.Wait()
	s.Clock.Wait()
}

// NudgeBy shifts the local sync offset by steps of NudgeStep milliseconds
// and returns the new offset.
func (s *Session) NudgeBy(steps int) int64 {
	return s.State.addNudge(int64(steps * NudgeStep))
}

// ResetNudge clears the local sync offset.
func (s *Session) ResetNudge() {
	s.State.setNudge(0)
}

func (s *Session) snapshotChanged(ch SnapshotChange) {
	if ch.ResetTriggered && s.renderer != nil {
		s.renderer.SeekTo(0)
	}
	if ch.PlayingChanged && s.renderer != nil {
		s.renderer.SetPlaying(ch.IsPlaying)
	}
	if ch.EntryChanged {
		if s.renderer != nil && ch.Current != nil {
			s.renderer.SeekTo(float64(ch.Current.PositionSeconds))
		}
		s.restartLoops(ch.Current)
	} else if ch.PlayingChanged {
		s.Clock.Kick()
	}
}

func (s *Session) restartLoops(current *QueueEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopCancel != nil {
		s.loopCancel()
		s.loopCancel = nil
	}
	if current == nil || s.role != RoleHost {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel
	entry := *current
	s.loops.Add(2)
	go func() {
		defer s.loops.Done()
		s.Clock.RunHeartbeat(ctx)
	}()
	go func() {
		defer s.loops.Done()
		s.Clock.RunWatchdog(ctx, entry, s.onError)
	}()
}

// stopLoops cancels the running loops without waiting, since it may be
// called from one of them.
func (s *Session) stopLoops() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopCancel != nil {
		s.loopCancel()
		s.loopCancel = nil
	}
}

func (s *Session) controlLost(oldRoom string) {
	s.stopLoops()
	if s.onRecovery != nil {
		s.onRecovery(oldRoom)
	}
}
