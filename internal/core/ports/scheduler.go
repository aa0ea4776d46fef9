package ports

import "time"

type Timer interface {
	Stop()
}

// Scheduler runs periodic and delayed callbacks. Callbacks may fire after
// Stop returned if they were already dispatched; owners guard with their
// own liveness checks.
type Scheduler interface {
	Every(interval time.Duration, fn func()) Timer
	After(delay time.Duration, fn func()) Timer
	Now() time.Time
}
