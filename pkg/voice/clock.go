package voice

import "time"

// Clock abstracts wall-clock time and timer scheduling so the playback
// scheduler can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop cancels the timer. It reports whether the callback was
	// prevented from running.
	Stop() bool
}

type realClock struct{}

// RealClock returns the system clock.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
