package node

import "sync"

// EventType marks what happened to a record.
type EventType string

const (
	EventWrite  EventType = "write"
	EventDelete EventType = "delete"
)

// Event is published after a message is accepted and indexed.
type Event struct {
	Type         EventType `json:"type"`
	RecordID     string    `json:"recordId"`
	ContextID    string    `json:"contextId,omitempty"`
	Protocol     string    `json:"protocol,omitempty"`
	ProtocolPath string    `json:"protocolPath,omitempty"`
	MessageCID   string    `json:"messageCid"`
	Author       string    `json:"author"`
}

// EventBus fans record events out to subscribers. Publishing never blocks;
// a subscriber that falls behind loses events rather than stalling writes.
type EventBus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewEventBus() *EventBus {
	return &EventBus{subs: map[int]chan Event{}}
}

// Subscribe returns a channel of events and a cancel function.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, 16)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

func (b *EventBus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
