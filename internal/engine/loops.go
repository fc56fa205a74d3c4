package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RunHeartbeat checkpoints the renderer position until ctx is done: every
// PlayingPulseInterval while playing, every PausedPulseInterval otherwise.
// A Kick emits early.
func (c *Clock) RunHeartbeat(ctx context.Context) {
	for {
		c.Checkpoint(ctx, c.position())

		interval := PausedPulseInterval
		if c.state.IsPlaying() {
			interval = PlayingPulseInterval
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-c.kick:
			t.Stop()
		case <-t.C:
		}
	}
}

func (c *Clock) position() float64 {
	if c.renderer != nil {
		return c.renderer.CurrentTime()
	}
	return c.state.Elapsed()
}

// RunWatchdog advances the room once entry has played longer than its
// duration plus OverrunGrace. Entries with an unknown duration never overrun.
func (c *Clock) RunWatchdog(ctx context.Context, entry QueueEntry, onError func(error)) {
	limit := float64(entry.Song.DurationSeconds) + OverrunGrace.Seconds()
	ticker := time.NewTicker(WatchdogInterval)
	defer ticker.Stop()

	elapsed := 0.0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !c.state.IsPlaying() {
			continue
		}
		elapsed += WatchdogInterval.Seconds()
		if c.renderer != nil {
			if pos := c.renderer.CurrentTime(); pos > elapsed {
				elapsed = pos
			}
		}
		if entry.Song.DurationSeconds <= 0 || elapsed <= limit {
			continue
		}

		c.log.Info("entry overran its duration, advancing",
			slog.Int64("entry_id", entry.ID),
			slog.Int("duration_seconds", entry.Song.DurationSeconds),
			slog.Float64("elapsed_seconds", elapsed),
		)
		elapsed = 0
		err := c.Advance(ctx)
		if err != nil && onError != nil && (ctx.Err() == nil || errors.Is(err, ErrGhostControl)) {
			onError(err)
		}
	}
}
