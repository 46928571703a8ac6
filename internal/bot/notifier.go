package bot

import (
	"sync"
	"time"
)

// EventKind classifies supervisor events pushed to live subscribers.
type EventKind string

const (
	KindLog          EventKind = "log"
	KindStatus       EventKind = "status"
	KindCommand      EventKind = "command"
	KindEvent        EventKind = "event"
	KindAnnouncement EventKind = "announcement"
)

// Event is one item on a bot's live activity feed.
type Event struct {
	BotID   string    `json:"botId"`
	Kind    EventKind `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier fans supervisor events out to per-bot subscribers. Publishing
// never blocks; a subscriber that falls behind loses events rather than
// stalling the supervisor.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Event
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]map[int]chan Event)}
}

// Subscribe returns a channel of events for one bot and a cancel func that
// detaches the subscription and closes the channel.
func (n *Notifier) Subscribe(botID string) (<-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan Event, 64)
	id := n.nextID
	n.nextID++

	if n.subs[botID] == nil {
		n.subs[botID] = make(map[int]chan Event)
	}
	n.subs[botID][id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if subs, ok := n.subs[botID]; ok {
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
			if len(subs) == 0 {
				delete(n.subs, botID)
			}
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of its bot.
func (n *Notifier) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs[evt.BotID] {
		select {
		case ch <- evt:
		default:
		}
	}
}
