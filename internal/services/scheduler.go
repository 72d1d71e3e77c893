package services

import "time"

// Scheduler abstracts timer arming so dispatch tests can drive virtual time.
// Callbacks run on their own goroutine (time.AfterFunc semantics) and must be
// safe to fire after the thing they were armed for has already resolved.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	Now() time.Time
}

type Timer interface {
	Stop() bool
}

type realScheduler struct{}

// NewScheduler returns the wall-clock Scheduler used in production.
func NewScheduler() Scheduler {
	return realScheduler{}
}

func (realScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

func (realScheduler) Now() time.Time {
	return time.Now()
}
