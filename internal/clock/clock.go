// Package clock abstracts wall-clock time so engine timestamps are
// reproducible in tests.
//
// Wall time is only used for the human-facing createdAt/startedAt/completedAt
// fields. Ordering never depends on it; the store's logical sequence and
// record versions carry ordering.
package clock

import "time"

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock, truncated to UTC microseconds so values
// round-trip through JSON and SQL unchanged.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Func adapts a function to the Clock interface.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time {
	return f()
}
