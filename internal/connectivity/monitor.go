// Package connectivity tracks whether the contacts store is reachable. A
// Monitor owns the boolean state, refreshes it by probing on an interval
// and tells subscribers about every transition.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is a reachability transition.
type Event int

const (
	BecameOnline Event = iota + 1
	BecameOffline
)

func (e Event) String() string {
	switch e {
	case BecameOnline:
		return "became-online"
	case BecameOffline:
		return "became-offline"
	}
	return "unknown"
}

// Prober checks reachability once. A nil error means reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Ping(ctx context.Context) error { return f(ctx) }

const subscriberBuffer = 8

// Monitor holds the current reachability and fans transitions out to
// subscribers. Sends never block: a subscriber whose buffer is full misses
// the event.
type Monitor struct {
	prober   Prober
	interval time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	online bool
	subs   []chan Event
}

// New builds a Monitor and reads the initial state with one probe. Nothing
// is published for the initial state.
func New(ctx context.Context, prober Prober, interval time.Duration, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	m := &Monitor{prober: prober, interval: interval, log: log}
	m.online = m.ping(ctx)
	m.log.Info().Bool("online", m.online).Msg("initial connectivity")
	return m
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe returns a channel receiving every later transition. The channel
// is closed when Run returns.
func (m *Monitor) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// SetOnline records a reachability observation. Subscribers are notified
// only when it changes the state.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online

	ev := BecameOffline
	if online {
		ev = BecameOnline
	}
	m.log.Info().Str("event", ev.String()).Msg("connectivity changed")
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.log.Warn().Str("event", ev.String()).Msg("subscriber buffer full, event dropped")
		}
	}
}

// Probe checks reachability now and records the result. A probe cut short
// by ctx records nothing.
func (m *Monitor) Probe(ctx context.Context) bool {
	ok := m.ping(ctx)
	if ctx.Err() != nil {
		return m.Online()
	}
	m.SetOnline(ok)
	return ok
}

// Run probes every interval until ctx is done, then closes all subscriber
// channels.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.closeSubscribers()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

func (m *Monitor) ping(ctx context.Context) bool {
	if m.prober == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	if err := m.prober.Ping(ctx); err != nil {
		m.log.Debug().Err(err).Msg("probe failed")
		return false
	}
	return true
}

func (m *Monitor) closeSubscribers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
}
