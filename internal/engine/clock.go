package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Playback cadences and tolerances.
const (
	PlayingPulseInterval = 333 * time.Millisecond
	PausedPulseInterval  = time.Second
	WatchdogInterval     = time.Second
	OverrunGrace         = 5 * time.Second
	DriftTolerance       = 0.1 // seconds
	StartupThreshold     = 0.2 // seconds
	LatencyWindow        = 5 * time.Second
	NudgeStep            = 50 // milliseconds

	checkpointTimeout = 5 * time.Second
)

// Clock drives playback: it advances and rewinds the room, toggles play,
// checkpoints position and steers the local renderer from host pulses.
type Clock struct {
	store    QueueStore
	state    *State
	queue    *Coordinator
	guard    *Guard
	conn     *ConnectionManager
	renderer Renderer
	log      *slog.Logger
	now      func() time.Time

	kick       chan struct{}
	background sync.WaitGroup
}

func NewClock(store QueueStore, state *State, queue *Coordinator, guard *Guard, conn *ConnectionManager, renderer Renderer, log *slog.Logger) *Clock {
	if log == nil {
		log = slog.Default()
	}
	return &Clock{
		store:    store,
		state:    state,
		queue:    queue,
		guard:    guard,
		conn:     conn,
		renderer: renderer,
		log:      log,
		now:      time.Now,
		kick:     make(chan struct{}, 1),
	}
}

// Advance stops whatever is playing and promotes the oldest queued entry.
func (c *Clock) Advance(ctx context.Context) error {
	const op = "advance"
	room := c.state.Room()
	if room == "" {
		return opErr(op, ErrNoActiveRoom, nil)
	}
	wasPlaying := c.state.IsPlaying()
	prev := c.state.Current()

	history, stopped := StatusHistory, false
	affected, err := c.store.UpdateRoomEntries(ctx, room, StatusPlaying, EntryPatch{Status: &history, IsPlaying: &stopped})
	if err != nil {
		if errors.Is(err, ErrPermission) {
			return c.guard.Ghost(op, err)
		}
		c.state.settleIdle()
		return opErr(op, storeKind(err), err)
	}
	if affected == 0 && wasPlaying {
		return c.guard.Ghost(op, nil)
	}

	rows, err := c.store.ListEntries(ctx, room, StatusQueued)
	if err != nil {
		c.state.settleIdle()
		return opErr(op, storeKind(err), err)
	}
	if len(rows) == 0 {
		c.state.settleIdle()
		c.queue.refresh(ctx)
		return nil
	}
	next := rows[0]
	if prev != nil && next.ID == prev.ID {
		c.state.settleIdle()
		c.log.Error("queue did not move past the stopped entry", slog.String("room", room), slog.Int64("entry_id", next.ID))
		return opErr(op, ErrStuckQueue, nil)
	}

	playing, started := StatusPlaying, true
	affected, err = c.store.UpdateEntry(ctx, next.ID, EntryPatch{Status: &playing, IsPlaying: &started})
	if err != nil {
		if errors.Is(err, ErrPermission) {
			return c.guard.Ghost(op, err)
		}
		c.state.settleIdle()
		return opErr(op, storeKind(err), err)
	}
	if affected == 0 {
		return c.guard.Ghost(op, nil)
	}

	c.log.Debug("queue advanced", slog.String("room", room), slog.Int64("entry_id", next.ID))
	c.queue.refresh(ctx)
	return nil
}

// Rewind puts the current entry back at the head of the queue and replays the
// most recently finished one. Without history it does nothing.
func (c *Clock) Rewind(ctx context.Context) error {
	const op = "rewind"
	room := c.state.Room()
	if room == "" {
		return opErr(op, ErrNoActiveRoom, nil)
	}

	last, err := c.store.LatestUpdated(ctx, room, StatusHistory)
	if err != nil {
		return opErr(op, storeKind(err), err)
	}
	if last == nil {
		return nil
	}

	zero := 0
	if cur := c.state.Current(); cur != nil {
		queued, stopped := StatusQueued, false
		if _, err := c.store.UpdateEntry(ctx, cur.ID, EntryPatch{Status: &queued, IsPlaying: &stopped, PositionSeconds: &zero}); err != nil {
			return opErr(op, storeKind(err), err)
		}
	}
	playing, started := StatusPlaying, true
	if _, err := c.store.UpdateEntry(ctx, last.ID, EntryPatch{Status: &playing, IsPlaying: &started, PositionSeconds: &zero}); err != nil {
		return opErr(op, storeKind(err), err)
	}

	c.queue.refresh(ctx)
	return nil
}

// TogglePlay flips the local play state and persists it.
func (c *Clock) TogglePlay(ctx context.Context) error {
	return c.SetPlaying(ctx, !c.state.IsPlaying())
}

// SetPlaying applies active locally at once and persists it on the current
// entry. If the write fails the local change is rolled back.
func (c *Clock) SetPlaying(ctx context.Context, active bool) error {
	if c.state.IsPlaying() == active {
		return nil
	}
	pending := Apply(func() func() {
		undo := c.state.setPlaying(active)
		c.render(active)
		return func() {
			undo()
			c.render(!active)
		}
	})

	if cur := c.state.Current(); cur != nil {
		if _, err := c.store.UpdateEntry(ctx, cur.ID, EntryPatch{IsPlaying: &active}); err != nil {
			pending.Rollback()
			c.log.Warn("failed to persist play state", slog.Int64("entry_id", cur.ID), slog.Any("error", err))
			return opErr("set playing", ErrSyncWrite, err)
		}
	}
	pending.Commit()
	c.Kick()
	return nil
}

func (c *Clock) render(playing bool) {
	if c.renderer != nil {
		c.renderer.SetPlaying(playing)
	}
}

// Kick makes the heartbeat emit a pulse now instead of waiting for its next
// tick.
func (c *Clock) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// ForceReset bumps the current entry's reset counter so every follower seeks
// back to the start.
func (c *Clock) ForceReset(ctx context.Context) error {
	const op = "force reset"
	cur := c.state.Current()
	if cur == nil {
		return nil
	}
	rows, err := c.store.EntriesByID(ctx, cur.ID)
	if err != nil {
		return opErr(op, storeKind(err), err)
	}
	if len(rows) == 0 {
		return opErr(op, ErrNotFound, nil)
	}
	next := rows[0].ResetTriggerCount + 1
	if _, err := c.store.UpdateEntry(ctx, cur.ID, EntryPatch{ResetTriggerCount: &next}); err != nil {
		return opErr(op, storeKind(err), err)
	}
	if c.renderer != nil {
		c.renderer.SeekTo(0)
	}
	return nil
}

// Checkpoint records elapsed on the current entry in the background and
// broadcasts a pulse, which is also reconciled locally.
func (c *Clock) Checkpoint(ctx context.Context, elapsed float64) {
	cur := c.state.Current()
	if cur == nil {
		return
	}

	pos := int(math.Max(0, elapsed))
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointTimeout)
		defer cancel()
		if _, err := c.store.UpdateEntry(wctx, cur.ID, EntryPatch{PositionSeconds: &pos, StampSync: true}); err != nil {
			c.log.Debug("position checkpoint failed", slog.Int64("entry_id", cur.ID), slog.Any("error", err))
		}
	}()

	playing := c.state.IsPlaying()
	p := Pulse{Seconds: elapsed, Playing: &playing, Timestamp: c.now().UnixMilli()}
	if c.conn != nil {
		c.conn.PublishPulse(p)
	}
	c.ReconcilePulse(p)
}

// Reconciliation is the outcome of one reconciled pulse.
type Reconciliation struct {
	Seconds   float64
	LatencyMs int64
	Seeked    bool
}

// ReconcilePulse converts a pulse into a local position and corrects the
// renderer when it has drifted.
func (c *Clock) ReconcilePulse(p Pulse) Reconciliation {
	if p.Timestamp != 0 {
		latency := c.now().UnixMilli() - p.Timestamp
		if window := LatencyWindow.Milliseconds(); latency > -window && latency < window {
			c.state.setLatency(latency)
		}
	}
	latency := c.state.LatencyMs()
	nudge := c.state.NudgeMs()

	out := Reconciliation{
		Seconds:   p.Seconds + float64(latency)/1000 + float64(nudge)/1000,
		LatencyMs: latency,
	}
	c.state.setElapsed(out.Seconds)

	if p.Playing != nil && *p.Playing != c.state.IsPlaying() {
		c.state.setPlaying(*p.Playing)
		c.render(*p.Playing)
	}

	if c.renderer != nil {
		pos := c.renderer.CurrentTime()
		if math.Abs(pos-out.Seconds) > DriftTolerance || pos < StartupThreshold {
			c.renderer.SeekTo(out.Seconds)
			out.Seeked = true
		}
	}
	return out
}

// Wait blocks until background checkpoint writes have finished.
func (c *Clock) Wait() {
	c.background.Wait()
}
