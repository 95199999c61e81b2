package session

import (
	"time"

	"github.com/shehryarbajwa/sweetlink/pkg/models"
)

// DefaultConsoleLimit is the number of console events kept per session
const DefaultConsoleLimit = 200

// ConsoleBuffer keeps the most recent console events of a session in
// arrival order. Overflow silently drops the oldest events; the client is
// never told. It is not safe for concurrent use; Session guards it.
type ConsoleBuffer struct {
	limit       int
	events      []models.ConsoleEvent
	lastEventAt *time.Time
}

func NewConsoleBuffer(limit int) *ConsoleBuffer {
	if limit <= 0 {
		limit = DefaultConsoleLimit
	}
	return &ConsoleBuffer{limit: limit}
}

// Append adds events and trims the front until the buffer fits. The last
// appended event's timestamp (or now) becomes LastEventAt.
func (b *ConsoleBuffer) Append(events []models.ConsoleEvent, now time.Time) {
	if len(events) == 0 {
		return
	}

	b.events = append(b.events, events...)
	if over := len(b.events) - b.limit; over > 0 {
		kept := make([]models.ConsoleEvent, b.limit)
		copy(kept, b.events[over:])
		b.events = kept
	}

	last := events[len(events)-1].Time(now)
	b.lastEventAt = &last
}

// Snapshot returns a copy of the buffered events
func (b *ConsoleBuffer) Snapshot() []models.ConsoleEvent {
	out := make([]models.ConsoleEvent, len(b.events))
	copy(out, b.events)
	return out
}

func (b *ConsoleBuffer) Len() int {
	return len(b.events)
}

// ErrorCount returns how many buffered events are console errors
func (b *ConsoleBuffer) ErrorCount() int {
	n := 0
	for _, e := range b.events {
		if e.Level == models.ConsoleError {
			n++
		}
	}
	return n
}

func (b *ConsoleBuffer) LastEventAt() *time.Time {
	if b.lastEventAt == nil {
		return nil
	}
	t := *b.lastEventAt
	return &t
}
