package engine

import "sync"

// State is the client-local view of the active room. All access goes through
// its methods; the zero value is an idle client with no room.
type State struct {
	mu sync.RWMutex

	room       string
	snap       Snapshot
	isPlaying  bool
	elapsed    float64
	latencyMs  int64
	nudgeMs    int64
	lastReset  int
	recovering bool
}

// SnapshotChange describes what a freshly applied snapshot changed.
type SnapshotChange struct {
	Current        *QueueEntry
	IsPlaying      bool
	EntryChanged   bool
	PlayingChanged bool
	ResetTriggered bool
}

func (s *State) Room() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

// SetRoom switches the active room and drops everything derived from the
// previous one.
func (s *State) SetRoom(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == code {
		return
	}
	s.room = code
	s.resetLocked()
}

func (s *State) resetLocked() {
	s.snap = Snapshot{}
	s.isPlaying = false
	s.elapsed = 0
	s.lastReset = 0
}

// Snapshot returns a copy of the last applied snapshot with the local
// playing belief folded in.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap.clone()
	snap.IsPlaying = s.isPlaying
	return snap
}

func (s *State) Current() *QueueEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap.Current == nil {
		return nil
	}
	c := *s.snap.Current
	return &c
}

func (s *State) Queue() []QueueEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]QueueEntry, len(s.snap.Queue))
	copy(out, s.snap.Queue)
	return out
}

func (s *State) IsPlaying() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isPlaying
}

// setPlaying records a local belief and returns a func that restores the
// previous one.
func (s *State) setPlaying(playing bool) (undo func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.isPlaying
	var prevFlag *bool
	if s.snap.Current != nil {
		f := s.snap.Current.IsPlaying
		prevFlag = &f
		s.snap.Current.IsPlaying = playing
	}
	s.isPlaying = playing
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.isPlaying = prev
		if prevFlag != nil && s.snap.Current != nil {
			s.snap.Current.IsPlaying = *prevFlag
		}
	}
}

// settleIdle clears the current entry and stops local playback.
func (s *State) settleIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Current = nil
	s.snap.IsPlaying = false
	s.isPlaying = false
	s.elapsed = 0
}

func (s *State) apply(snap Snapshot) SnapshotChange {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ch SnapshotChange
	prevID, nextID := entryID(s.snap.Current), entryID(snap.Current)
	ch.EntryChanged = prevID != nextID
	switch {
	case snap.Current == nil:
		s.lastReset = 0
	case ch.EntryChanged:
		s.lastReset = snap.Current.ResetTriggerCount
	case snap.Current.ResetTriggerCount > s.lastReset:
		s.lastReset = snap.Current.ResetTriggerCount
		ch.ResetTriggered = true
	}
	ch.PlayingChanged = s.isPlaying != snap.IsPlaying
	if ch.EntryChanged {
		s.elapsed = 0
	}

	s.snap = snap.clone()
	s.isPlaying = snap.IsPlaying
	ch.IsPlaying = snap.IsPlaying
	if snap.Current != nil {
		c := *snap.Current
		ch.Current = &c
	}
	return ch
}

func entryID(e *QueueEntry) int64 {
	if e == nil {
		return 0
	}
	return e.ID
}

// Elapsed is the displayed playback position in seconds.
func (s *State) Elapsed() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.elapsed
}

func (s *State) setElapsed(sec float64) {
	s.mu.Lock()
	s.elapsed = sec
	s.mu.Unlock()
}

// LatencyMs is the last accepted pulse latency.
func (s *State) LatencyMs() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latencyMs
}

func (s *State) setLatency(ms int64) {
	s.mu.Lock()
	s.latencyMs = ms
	s.mu.Unlock()
}

// NudgeMs is the local manual offset applied to every reconciled pulse.
func (s *State) NudgeMs() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nudgeMs
}

func (s *State) addNudge(delta int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nudgeMs += delta
	return s.nudgeMs
}

func (s *State) setNudge(ms int64) {
	s.mu.Lock()
	s.nudgeMs = ms
	s.mu.Unlock()
}

// Recovering reports whether the client lost control of its room and is
// waiting for a new session.
func (s *State) Recovering() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recovering
}

// enterRecovery clears the room and returns the code that was active.
func (s *State) enterRecovery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.room
	s.room = ""
	s.recovering = true
	s.resetLocked()
	return old
}

func (s *State) clearRecovery() {
	s.mu.Lock()
	s.recovering = false
	s.mu.Unlock()
}
