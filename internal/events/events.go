// Package events fans out pipeline verdicts, progress and log lines to any
// number of observers, such as a debug console or a toast renderer.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Maphikza/vexis-market/internal/logger"
)

// Kind discriminates event payloads.
type Kind string

const (
	KindLog      Kind = "log"
	KindProgress Kind = "progress"
	KindVerdict  Kind = "verdict"
	KindStage    Kind = "stage"
)

// Event is one notification. Subject is the asset id for verification events
// and the escrow id for purchase events.
type Event struct {
	Kind     Kind
	Pipeline string
	Subject  string
	Stage    string
	Message  string
	Progress int
	Passed   bool
	Flags    []string
	At       time.Time
}

// Publisher is what the stores and pipelines depend on.
type Publisher interface {
	Publish(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

type subscriber struct {
	ch chan Event
}

// Bus is an in-process Publisher. Slow subscribers lose events rather than
// stalling a pipeline.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
	log  *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(log *zap.Logger) *Bus {
	return &Bus{subs: make(map[*subscriber]struct{}), log: logger.OrNop(log)}
}

// Subscribe registers an observer with the given channel buffer. The returned
// function unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

// Publish delivers e to every subscriber without blocking.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
			b.log.Warn("dropping event for slow subscriber",
				zap.String("kind", string(e.Kind)),
				zap.String("subject", e.Subject))
		}
	}
}

// OrNop returns p, or a discarding publisher when p is nil.
func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop{}
	}
	return p
}
