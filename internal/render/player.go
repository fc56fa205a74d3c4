// Package render provides a simulated media player that the playback clock
// can steer when no real media output is attached.
package render

import (
	"log/slog"
	"sync"
	"time"
)

// Player tracks a playhead that advances with the wall clock while playing.
type Player struct {
	mu       sync.RWMutex
	position float64
	playing  bool
	anchor   time.Time
	duration float64
	seeks    int

	now func() time.Time
	log *slog.Logger
}

// NewPlayer returns a paused player at position 0.
func NewPlayer(log *slog.Logger) *Player {
	if log == nil {
		log = slog.Default()
	}
	return &Player{now: time.Now, log: log}
}

// SetDuration bounds the playhead to the loaded item's length in seconds.
// Zero means unbounded.
func (p *Player) SetDuration(duration float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = p.currentLocked()
	p.anchor = p.now()
	p.duration = duration
}

// CurrentTime returns the playhead in seconds.
func (p *Player) CurrentTime() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentLocked()
}

func (p *Player) currentLocked() float64 {
	pos := p.position
	if p.playing {
		pos += p.now().Sub(p.anchor).Seconds()
	}
	if p.duration > 0 && pos > p.duration {
		pos = p.duration
	}
	return pos
}

func (p *Player) SeekTo(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = seconds
	p.anchor = p.now()
	p.seeks++
	p.log.Debug("player seek", slog.Float64("seconds", seconds))
}

func (p *Player) SetPlaying(playing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing == playing {
		return
	}
	p.position = p.currentLocked()
	p.anchor = p.now()
	p.playing = playing
	p.log.Debug("player state", slog.Bool("playing", playing), slog.Float64("position", p.position))
}

func (p *Player) Playing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.playing
}

// Seeks returns how many times the player was repositioned.
func (p *Player) Seeks() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.seeks
}
