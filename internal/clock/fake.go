package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock. Callbacks registered with
// AfterFunc run synchronously inside Advance, in deadline order, on the
// goroutine that called Advance.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	entries []*fakeEntry
	changed *sync.Cond
}

type fakeEntry struct {
	at       time.Time
	fn       func()
	ch       chan time.Time
	every    time.Duration
	canceled bool
	done     bool
}

// Fake returns a FakeClock reading start.
func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.changed = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to run once the clock has been advanced by d.
// A non-positive d still waits for the next Advance call.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &fakeEntry{at: c.now.Add(d), fn: f}
	c.entries = append(c.entries, e)
	c.changed.Broadcast()

	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if e.canceled || e.done {
			return false
		}
		e.canceled = true
		c.changed.Broadcast()
		return true
	}}
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	e := &fakeEntry{at: c.now.Add(d), ch: ch, every: d}
	c.entries = append(c.entries, e)
	c.changed.Broadcast()

	return &Ticker{C: ch, stop: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		e.canceled = true
		c.changed.Broadcast()
	}}
}

// Advance moves the clock forward by d and fires everything that became
// due. Tickers fire once per elapsed interval; ticks that do not fit in
// the channel are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.takeDue(target)
		if len(due) == 0 {
			return
		}
		for _, e := range due {
			if e.fn != nil {
				e.fn()
				continue
			}
			select {
			case e.ch <- target:
			default:
			}
		}
	}
}

func (c *FakeClock) takeDue(target time.Time) []*fakeEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, keep []*fakeEntry
	for _, e := range c.entries {
		switch {
		case e.canceled:
		case e.at.After(target):
			keep = append(keep, e)
		default:
			due = append(due, e)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })

	for _, e := range due {
		if e.every > 0 {
			e.at = e.at.Add(e.every)
			keep = append(keep, e)
		} else {
			e.done = true
		}
	}
	c.entries = keep
	c.changed.Broadcast()
	return due
}

// Pending returns the number of live timers and tickers.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

// WaitForTimers blocks until at least n timers or tickers are pending.
// It closes the gap between a goroutine arming a timer and the test
// advancing past it.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

func (c *FakeClock) pendingLocked() int {
	n := 0
	for _, e := range c.entries {
		if !e.canceled && !e.done {
			n++
		}
	}
	return n
}
