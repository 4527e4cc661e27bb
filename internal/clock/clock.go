// Package clock provides the time capability consumed by time-locked and rate-based
// components. Time is read once per call as a unix timestamp in seconds.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock returns the current unix time in seconds.
type Clock interface {
	Now() int64
}

// System reads the wall clock.
type System struct{}

func (System) Now() int64 { return time.Now().Unix() }

// Manual is a settable clock for tests and replay tooling.
type Manual struct {
	now atomic.Int64
}

// NewManual returns a clock fixed at start.
func NewManual(start int64) *Manual {
	m := &Manual{}
	m.now.Store(start)
	return m
}

func (m *Manual) Now() int64 { return m.now.Load() }

// Set moves the clock to t.
func (m *Manual) Set(t int64) { m.now.Store(t) }

// Advance moves the clock forward by d seconds.
func (m *Manual) Advance(d int64) { m.now.Add(d) }
