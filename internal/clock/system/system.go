// Package system provides the wall clock used to stamp harvest runs.
package system

import "time"

// Clock implements crawler.Clock. Times are UTC and truncated to microseconds,
// the resolution of Postgres timestamptz, so run timestamps round-trip through
// the book index unchanged.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
