package events

import (
	"sync"
	"time"
)

// Type distinguishes the kinds of event published on a Bus
type Type string

const (
	TypeState  Type = "state"
	TypeNotice Type = "notice"
	TypeResult Type = "result"
)

// Level is the severity of a user-visible notice
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice is a transient message shown to the user
type Notice struct {
	Level       Level  `json:"level"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Event is a single entry on the bus. Exactly one of State, Notice or
// Result is meaningful, depending on Type.
type Event struct {
	Type   Type      `json:"type"`
	State  string    `json:"state,omitempty"`
	Notice *Notice   `json:"notice,omitempty"`
	Result any       `json:"result,omitempty"`
	Time   time.Time `json:"time"`
}

// Bus fans events out to any number of subscribers
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer. The
// returned function unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber without blocking. Subscribers
// whose buffer is full miss the event.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Notify publishes a notice event
func (b *Bus) Notify(level Level, title, description string) {
	b.Publish(Event{
		Type:   TypeNotice,
		Notice: &Notice{Level: level, Title: title, Description: description},
	})
}

// Close closes every subscriber channel; later publishes are dropped
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
