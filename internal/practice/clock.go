package practice

import "time"

// Timer is a cancelable pending callback.
type Timer interface {
	Stop() bool
}

// Clock supplies wall time and timers for the break countdown and tap tempo.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
