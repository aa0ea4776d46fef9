package scheduler

import (
	"sort"
	"sync"
	"time"

	"dubsync/internal/core/ports"
)

// Manual is a virtual-time scheduler. Time only moves through Advance, and
// due callbacks run synchronously on the caller's goroutine in deadline
// order.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	nextID uint64
	tasks  map[uint64]*manualTask
}

type manualTask struct {
	id       uint64
	due      time.Time
	interval time.Duration
	fn       func()
}

type manualTimer struct {
	s  *Manual
	id uint64
}

func (t manualTimer) Stop() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	delete(t.s.tasks, t.id)
}

func NewManual(start time.Time) *Manual {
	if start.IsZero() {
		start = time.Unix(0, 0).UTC()
	}
	return &Manual{now: start, tasks: make(map[uint64]*manualTask)}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Every(interval time.Duration, fn func()) ports.Timer {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return m.schedule(interval, interval, fn)
}

func (m *Manual) After(delay time.Duration, fn func()) ports.Timer {
	if delay < 0 {
		delay = 0
	}
	return m.schedule(delay, 0, fn)
}

func (m *Manual) schedule(delay, interval time.Duration, fn func()) ports.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.tasks[id] = &manualTask{id: id, due: m.now.Add(delay), interval: interval, fn: fn}
	return manualTimer{s: m, id: id}
}

// Pending returns the number of scheduled tasks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Advance moves virtual time forward by d, firing every callback that
// becomes due. Callbacks scheduled by callbacks fire too if they fall
// within the window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		task := m.nextDue(target)
		if task == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		if task.due.After(m.now) {
			m.now = task.due
		}
		if task.interval > 0 {
			task.due = task.due.Add(task.interval)
		} else {
			delete(m.tasks, task.id)
		}
		fn := task.fn
		m.mu.Unlock()

		fn()
	}
}

// AdvanceUntil steps time by step until cond holds or max elapses. It
// reports whether cond became true.
func (m *Manual) AdvanceUntil(cond func() bool, step, max time.Duration) bool {
	var elapsed time.Duration
	for !cond() {
		if elapsed >= max {
			return false
		}
		m.Advance(step)
		elapsed += step
	}
	return true
}

func (m *Manual) nextDue(target time.Time) *manualTask {
	var due []*manualTask
	for _, t := range m.tasks {
		if !t.due.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].id < due[j].id
		}
		return due[i].due.Before(due[j].due)
	})
	return due[0]
}
