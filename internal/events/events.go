// Package events carries the outward notifications of the request engine.
//
// The executor emits an Event on every request, success, error, retry,
// rate-limit signal, challenge and login-required condition. Observers
// (metrics, dashboards, plugins) subscribe hooks on a Bus. Hooks run
// synchronously on the emitting goroutine and must not block.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mpython77/instaapi-sub001/internal/apierr"
)

// Type is the event type.
type Type string

// Event types.
const (
	TypeRequest       Type = "request"
	TypeSuccess       Type = "success"
	TypeError         Type = "error"
	TypeRetry         Type = "retry"
	TypeRateLimit     Type = "rate_limit"
	TypeChallenge     Type = "challenge"
	TypeLoginRequired Type = "login_required"
)

// Event is one notification.
type Event struct {
	ID        string
	Type      Type
	Time      time.Time
	RequestID string
	Category  string
	Account   string
	Proxy     string
	Attempt   int
	Status    int
	Kind      apierr.Kind
	Latency   time.Duration
	// Delay is the wait before the next attempt, for retry events.
	Delay time.Duration
	Err   error
}

// Hook receives events.
type Hook func(Event)

// Bus fans events out to subscribed hooks.
type Bus struct {
	mu     sync.RWMutex
	hooks  map[int]Hook
	nextID int
	logger *slog.Logger
}

// NewBus creates an empty bus. A nil logger uses slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{hooks: make(map[int]Hook), logger: logger}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Hook) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.hooks[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.hooks, id)
	}
}

// Emit fills the event's ID and Time when empty and delivers it to every
// hook. A panicking hook is logged and does not affect the others. A nil
// Bus discards events.
func (b *Bus) Emit(e Event) {
	if b == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	hooks := make([]Hook, 0, len(b.hooks))
	for _, h := range b.hooks {
		hooks = append(hooks, h)
	}
	b.mu.RUnlock()

	for _, h := range hooks {
		b.call(h, e)
	}
}

func (b *Bus) call(h Hook, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event hook panicked", "type", string(e.Type), "panic", r)
		}
	}()
	h(e)
}
