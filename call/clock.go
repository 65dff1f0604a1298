package call

import "time"

// Clock supplies time and timers, allowing deterministic tests to drive the
// watchdog without real sleeps.
type Clock interface {
	Now() time.Time

	// AfterFunc schedules fn after d on the clock's own goroutine and
	// returns a handle that can cancel it.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancelable scheduled callback.
type Timer interface {
	// Stop cancels the timer; it reports whether the call prevented the
	// timer from firing.
	Stop() bool
}

// SystemClock is the production Clock backed by the time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
