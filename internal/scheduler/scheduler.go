package scheduler

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Scheduler runs deferred work. Production code uses TimerScheduler;
// tests use ManualScheduler to fire tasks deterministically.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// TimerScheduler runs each task on its own time.AfterFunc timer
type TimerScheduler struct {
	mu      sync.Mutex
	timers  map[uint64]*time.Timer
	nextID  uint64
	stopped bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewTimerScheduler creates a timer-backed scheduler
func NewTimerScheduler(logger *slog.Logger) *TimerScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimerScheduler{
		timers: make(map[uint64]*time.Timer),
		logger: logger.With("component", "scheduler"),
	}
}

// After schedules fn to run once d has elapsed. Tasks scheduled after
// Stop are dropped.
func (s *TimerScheduler) After(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.logger.Debug("dropping task scheduled after stop")
		return
	}
	id := s.nextID
	s.nextID++
	s.wg.Add(1)
	s.timers[id] = time.AfterFunc(d, func() {
		defer s.wg.Done()
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduled task panicked", "panic", r)
			}
		}()
		fn()
	})
}

// Pending returns the number of tasks that have not fired yet
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Wait blocks until every scheduled task has finished
func (s *TimerScheduler) Wait() {
	s.wg.Wait()
}

// Stop cancels all pending timers and waits for running tasks to return
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.timers {
		if t.Stop() {
			// Timer never fired, so its task will not call Done
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

type manualTask struct {
	due time.Duration
	seq uint64
	fn  func()
}

// ManualScheduler queues tasks until the test advances its clock.
// Tasks fire in due-time order, ties broken by scheduling order.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	seq   uint64
	tasks []manualTask
}

// NewManualScheduler creates an empty manual scheduler
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// After queues fn relative to the scheduler's virtual clock
func (m *ManualScheduler) After(d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, manualTask{due: m.now + d, seq: m.seq, fn: fn})
	m.seq++
}

// Pending returns the number of queued tasks
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Advance moves the virtual clock forward by d and runs every task due by
// then, including tasks those tasks schedule. Returns the number run.
func (m *ManualScheduler) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	ran := 0
	for {
		task, ok := m.popDue(target)
		if !ok {
			break
		}
		task.fn()
		ran++
	}

	m.mu.Lock()
	if m.now < target {
		m.now = target
	}
	m.mu.Unlock()
	return ran
}

// RunAll runs queued tasks until the queue is empty, regardless of delay
func (m *ManualScheduler) RunAll() int {
	ran := 0
	for {
		task, ok := m.popDue(-1)
		if !ok {
			return ran
		}
		task.fn()
		ran++
	}
}

// popDue removes the earliest task due at or before limit; a negative
// limit accepts any task. The clock is moved to the task's due time.
func (m *ManualScheduler) popDue(limit time.Duration) (manualTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tasks) == 0 {
		return manualTask{}, false
	}
	sort.SliceStable(m.tasks, func(i, j int) bool {
		if m.tasks[i].due != m.tasks[j].due {
			return m.tasks[i].due < m.tasks[j].due
		}
		return m.tasks[i].seq < m.tasks[j].seq
	})
	next := m.tasks[0]
	if limit >= 0 && next.due > limit {
		return manualTask{}, false
	}
	m.tasks = m.tasks[1:]
	if next.due > m.now {
		m.now = next.due
	}
	return next, true
}
