package session

import "time"

// Clock supplies wall time for presence timestamps and idle tracking.
// Ordering never depends on it; history order is the document sequence.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
