// Package health aggregates runtime counters in memory so hot dispatch
// paths never touch the database.
package health

import (
	"sync/atomic"
	"time"
)

// Aggregator counts dispatched commands, event rule firings and
// scheduler announcements since process start.
type Aggregator struct {
	startedAt     time.Time
	commands      atomic.Uint64
	events        atomic.Uint64
	announcements atomic.Uint64
}

func NewAggregator() *Aggregator {
	return &Aggregator{startedAt: time.Now()}
}

// RecordCommand increments the command counter. Non-blocking and fast.
func (a *Aggregator) RecordCommand() { a.commands.Add(1) }

// RecordEvent increments the event rule counter.
func (a *Aggregator) RecordEvent() { a.events.Add(1) }

// RecordAnnouncement increments the announcement counter.
func (a *Aggregator) RecordAnnouncement() { a.announcements.Add(1) }

// Snapshot is a point-in-time view of the counters for health reporting.
type Snapshot struct {
	Uptime        time.Duration `json:"uptime"`
	Commands      uint64        `json:"commands"`
	Events        uint64        `json:"events"`
	Announcements uint64        `json:"announcements"`
}

func (a *Aggregator) Snapshot() Snapshot {
	return Snapshot{
		Uptime:        time.Since(a.startedAt),
		Commands:      a.commands.Load(),
		Events:        a.events.Load(),
		Announcements: a.announcements.Load(),
	}
}
