package cycle

import (
	"sync"
	"time"
)

// #region scheduler
// Scheduler is a cancellable registry of delayed tasks keyed by circuit id.
// Arming an id that already has a pending task replaces it.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]*task
	fire  func(id string)
	gen   uint64
}

type task struct {
	timer *time.Timer
	gen   uint64
}

// NewScheduler creates a registry that calls fire(id) when a task comes due.
// fire runs on the timer goroutine and should only hand work to the owner.
func NewScheduler(fire func(id string)) *Scheduler {
	return &Scheduler{tasks: make(map[string]*task), fire: fire}
}

// Arm schedules id to fire after delay, replacing any pending task for id.
func (s *Scheduler) Arm(id string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tasks[id]; ok {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	t := &task{gen: gen}
	t.timer = time.AfterFunc(delay, func() { s.run(id, gen) })
	s.tasks[id] = t
}

func (s *Scheduler) run(id string, gen uint64) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok || t.gen != gen {
		// Replaced or cancelled after the timer had already fired.
		s.mu.Unlock()
		return
	}
	delete(s.tasks, id)
	s.mu.Unlock()
	s.fire(id)
}

// Cancel drops the pending task for id. It reports whether one was pending.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, id)
	return true
}

// Pending reports whether id has a task waiting.
func (s *Scheduler) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// Stop cancels every pending task.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, id)
	}
}

// #endregion scheduler
