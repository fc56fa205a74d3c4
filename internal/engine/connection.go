package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Redial delays after a channel drops on its own.
const (
	defaultRedialBase = 500 * time.Millisecond
	defaultRedialMax  = 30 * time.Second
)

// ConnectionManager holds at most one room channel at a time. Subscribing to
// a room closes whatever channel was held before. A channel that drops
// without being closed is redialled with exponential backoff.
type ConnectionManager struct {
	dialer Dialer
	log    *slog.Logger

	redialBase time.Duration
	redialMax  time.Duration

	mu       sync.Mutex
	active   *subscription
	onChange func(context.Context)
	onPulse  func(Pulse)
}

type subscription struct {
	room   string
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	ch     Channel
	closed bool
}

func (s *subscription) channel() Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// swap installs ch unless the subscription was closed meanwhile.
func (s *subscription) swap(ch Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ch = ch
	return true
}

func NewConnectionManager(d Dialer, log *slog.Logger) *ConnectionManager {
	if log == nil {
		log = slog.Default()
	}
	return &ConnectionManager{dialer: d, log: log, redialBase: defaultRedialBase, redialMax: defaultRedialMax}
}

// Handle registers the event handlers used by subsequent subscriptions.
func (m *ConnectionManager) Handle(onChange func(context.Context), onPulse func(Pulse)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = onChange
	m.onPulse = onPulse
}

// Subscribe opens the channel for room, replacing the held one.
func (m *ConnectionManager) Subscribe(ctx context.Context, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeLocked()

	ch, err := m.dialer.Dial(ctx, room)
	if err != nil {
		return fmt.Errorf("subscribe to room %s: %w", room, err)
	}
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{room: room, ch: ch, cancel: cancel, done: make(chan struct{})}
	m.active = sub
	go m.dispatch(subCtx, sub, m.onChange, m.onPulse)

	m.log.Debug("subscribed to room channel", slog.String("room", room))
	return nil
}

func (m *ConnectionManager) dispatch(ctx context.Context, sub *subscription, onChange func(context.Context), onPulse func(Pulse)) {
	defer close(sub.done)
	for {
		m.pump(ctx, sub.channel().Events(), onChange, onPulse)
		if ctx.Err() != nil {
			return
		}
		m.log.Warn("room channel dropped, redialling", slog.String("room", sub.room))
		if !m.redial(ctx, sub) {
			return
		}
		// Changes made while the channel was down produced no events.
		if onChange != nil {
			onChange(ctx)
		}
	}
}

// pump delivers events until the channel closes or ctx ends.
func (m *ConnectionManager) pump(ctx context.Context, events <-chan Event, onChange func(context.Context), onPulse func(Pulse)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case EventQueueChanged:
				if onChange != nil {
					onChange(ctx)
				}
			case EventPulse:
				if onPulse != nil {
					onPulse(ev.Pulse)
				}
			}
		}
	}
}

// redial replaces the dropped channel, doubling the wait between failed
// attempts. It reports false once ctx ends or the subscription is closed.
func (m *ConnectionManager) redial(ctx context.Context, sub *subscription) bool {
	if err := sub.channel().Close(); err != nil {
		m.log.Debug("failed to close dropped channel", slog.String("room", sub.room), slog.Any("error", err))
	}
	delay := m.redialBase
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		ch, err := m.dialer.Dial(ctx, sub.room)
		if err != nil {
			m.log.Debug("redial failed", slog.String("room", sub.room), slog.Int("attempt", attempt), slog.Any("error", err))
			delay = min(delay*2, m.redialMax)
			continue
		}
		if !sub.swap(ch) {
			_ = ch.Close()
			return false
		}
		m.log.Info("room channel restored", slog.String("room", sub.room), slog.Int("attempts", attempt))
		return true
	}
}

// Unsubscribe closes the held channel, if any.
func (m *ConnectionManager) Unsubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

func (m *ConnectionManager) closeLocked() {
	sub := m.active
	if sub == nil {
		return
	}
	m.active = nil
	sub.cancel()
	sub.mu.Lock()
	sub.closed = true
	ch := sub.ch
	sub.mu.Unlock()
	if err := ch.Close(); err != nil {
		m.log.Debug("failed to close room channel", slog.String("room", sub.room), slog.Any("error", err))
	}
	<-sub.done
}

// Room returns the code of the held channel, or "".
func (m *ConnectionManager) Room() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ""
	}
	return m.active.room
}

// PublishPulse sends p on the held channel when it is ready. It reports
// whether the pulse went out; a missing or unready channel drops it.
func (m *ConnectionManager) PublishPulse(p Pulse) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return false
	}
	ch := m.active.channel()
	if !ch.Ready() {
		return false
	}
	if err := ch.Send(p); err != nil {
		m.log.Debug("failed to send pulse", slog.String("room", m.active.room), slog.Any("error", err))
		return false
	}
	return true
}
