package main

import (
	"log"
	"sync"
	"time"
)

// Clock is the boundary to the real-time-clock collaborator. The time app
// reads it on demand and writes back on edit-commit. No sub-second
// guarantees are required.
type Clock interface {
	Now() time.Time
	Set(hour, minute int)
}

// offsetClock is the production clock: the host's monotonic wall time plus a
// volatile offset applied when the user edits the time. Persisting across
// power cycles is the hardware RTC's job, outside this core.
type offsetClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func newOffsetClock() *offsetClock {
	return &offsetClock{}
}

func (c *offsetClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *offsetClock) Set(hour, minute int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().Add(c.offset)
	want := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	c.offset += want.Sub(now)
	log.Printf("clock set to %02d:%02d", hour, minute)
}
