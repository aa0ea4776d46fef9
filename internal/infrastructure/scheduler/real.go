package scheduler

import (
	"sync"
	"time"

	"dubsync/internal/core/ports"
)

// Real schedules callbacks on wall-clock time. Each periodic task runs on
// its own goroutine until stopped.
type Real struct{}

func NewReal() *Real {
	return &Real{}
}

type tickerTimer struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *tickerTimer) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}

func (r *Real) Every(interval time.Duration, fn func()) ports.Timer {
	t := &tickerTimer{
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-t.done:
				return
			case <-t.ticker.C:
				select {
				case <-t.done:
					return
				default:
				}
				fn()
			}
		}
	}()
	return t
}

type afterTimer struct {
	timer *time.Timer
}

func (t *afterTimer) Stop() {
	t.timer.Stop()
}

func (r *Real) After(delay time.Duration, fn func()) ports.Timer {
	return &afterTimer{timer: time.AfterFunc(delay, fn)}
}

func (r *Real) Now() time.Time {
	return time.Now()
}
