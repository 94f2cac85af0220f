package proc

import "time"

// tickYield is the diagnostic comfort sleep the Python source inserts every
// other root tick so a tight polling loop doesn't peg a CPU core. It has no
// bearing on correctness.
const tickYield = 2 * time.Millisecond

// Scheduler owns the process-wide root pointer and drives root ticks. The
// first task ever passed to RootTick becomes the root; a task that is
// neither the root nor has a parent has never been started and is inert.
type Scheduler struct {
	root    *Task
	tickCnt int
}

// NewScheduler returns a scheduler with no root yet assigned.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// RootTick walks t's subtree and advances t itself. Call this repeatedly
// (e.g. every 10ms) from the process's main loop.
func (s *Scheduler) RootTick(t *Task) {
	if s.root == nil {
		s.root = t
	}

	if t.parent == nil && t != s.root {
		return
	}

	t.treeTick()

	s.tickCnt++
	if s.tickCnt > 1 {
		time.Sleep(tickYield)
		s.tickCnt = 0
	}
}

// Root returns the task that became root on this scheduler's first tick,
// or nil if RootTick has never been called.
func (s *Scheduler) Root() *Task {
	return s.root
}
