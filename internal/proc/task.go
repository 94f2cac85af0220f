// Package proc implements the cooperative hierarchical task scheduler that
// drives the rest of wiredbg. Tasks are long-lived state objects with
// explicit initialize/step/finish phases; a root tick walks the tree
// depth-first and advances each task exactly once. No task may block.
package proc

import (
	"runtime/debug"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
)

// Outcome is the tri-state a task's lifecycle methods return.
// Pending means "still running". Positive means success. Any other
// (negative) value is a small failure code.
type Outcome int

const (
	Pending  Outcome = 0
	Positive Outcome = 1
)

// Negative reports whether o is a failure code (anything but Pending/Positive).
func (o Outcome) Negative() bool {
	return o != Pending && o != Positive
}

// DriverMode controls whether the scheduler's tree walk ticks a child itself.
type DriverMode int

const (
	// InParentsDriverContext is the only mode this scheduler ticks directly:
	// the parent's tree walk advances the child.
	InParentsDriverContext DriverMode = iota
	// InNewDriverContext marks a child as driven by another, out-of-band
	// driver running its own tick loop. Reserved: no such driver ships here.
	InNewDriverContext
	// InExternalDriverContext marks a child driven entirely outside this
	// process's scheduler (e.g. another thread or process). Reserved.
	InExternalDriverContext
)

// Lifecycle is implemented by every concrete task. Initialize runs once,
// before the first Process call; Process runs on every subsequent tick
// until it returns something other than Pending.
type Lifecycle interface {
	Initialize() Outcome
	Process() Outcome
}

// Closer is an optional interface a Lifecycle may implement to release
// file descriptors, sockets, or other resources when its Task is removed
// from the tree via DelProc.
type Closer interface {
	Close()
}

var taskSeq uint64

// Task is the embeddable base every concrete task composes. Concrete types
// embed *Task and pass themselves as `self` to NewTask so the scheduler can
// invoke their Initialize/Process through the Lifecycle interface.
type Task struct {
	self Lifecycle
	id   uint64
	name string

	logger hclog.Logger

	parent   *Task
	children []*Task

	success           Outcome
	driverMode        DriverMode
	initExecuted      bool
	finished          bool
	exceptionOccurred bool

	level              int
	driverContextLevel int
}

// NewTask constructs the scheduler base for a concrete task. name is used
// only for diagnostics (procId equivalent); logger is the task's own
// component logger, inherited sub-named by children started under it.
func NewTask(self Lifecycle, name string, logger hclog.Logger) *Task {
	id := atomic.AddUint64(&taskSeq, 1)
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	t := &Task{
		self:    self,
		id:      id,
		name:    name,
		logger:  logger.Named(name),
		success: Pending,
	}
	t.logger.Trace("task created")
	return t
}

// ID returns a diagnostic identifier, analogous to the Python source's procId().
func (t *Task) ID() uint64 { return t.id }

// Name is the concrete task's declared name (its Go type, by convention).
func (t *Task) Name() string { return t.name }

// Logger returns the task's component logger.
func (t *Task) Logger() hclog.Logger { return t.logger }

// Success returns the task's current tri-state result.
func (t *Task) Success() Outcome { return t.success }

// Finished reports whether the task is terminal; a finished task never
// ticks again.
func (t *Task) Finished() bool { return t.finished }

// ExceptionOccurred reports whether an unrecoverable failure was caught at
// a tick boundary for this task.
func (t *Task) ExceptionOccurred() bool { return t.exceptionOccurred }

// Level is this task's depth in the tree.
func (t *Task) Level() int { return t.level }

// DriverMode reports how this task is driven.
func (t *Task) DriverMode() DriverMode { return t.driverMode }

// Parent is a non-owning lookup handle; never use it to manage lifetime.
func (t *Task) Parent() *Task { return t.parent }

// Children returns a copy of the current, ordered child list. Later Start
// and DelProc calls are not reflected in a copy already returned.
func (t *Task) Children() []*Task {
	out := make([]*Task, len(t.children))
	copy(out, t.children)
	return out
}

// Start adds child to t's child list in InParentsDriverContext, the mode
// this scheduler ticks. Use StartWithMode to reserve a child for an
// out-of-band driver.
func (t *Task) Start(child *Task) *Task {
	return t.StartWithMode(child, InParentsDriverContext)
}

// StartWithMode adds child to t's child list under the given driver mode.
// Insertion order is tick order for children sharing InParentsDriverContext.
func (t *Task) StartWithMode(child *Task, mode DriverMode) *Task {
	if child == nil {
		t.logger.Debug("pointer to child is nil, not started")
		return nil
	}

	child.success = Pending
	child.level = t.level + 1
	child.driverContextLevel = t.driverContextLevel
	child.driverMode = mode
	child.parent = t
	child.logger = t.logger.Named(child.name)

	t.children = append(t.children, child)
	t.logger.Trace("started child", "child", child.name, "childId", child.id)

	return child
}

// DelProc removes child from t's child list and recursively, bottom-up,
// tears down its subtree, releasing any resources concrete tasks expose
// via Closer. Calling DelProc on a task that is not actually t's child is
// a CRITICAL DESIGN ERROR: it is logged and otherwise ignored, and handles
// to the (non-)removed subtree must not be used afterward regardless.
func (t *Task) DelProc(child *Task) {
	if child == nil {
		return
	}
	if child.parent != t {
		t.logger.Error("CRITICAL DESIGN ERROR: process is not my child, not deleting it",
			"child", child.name, "childId", child.id)
		return
	}

	idx := -1
	for i, c := range t.children {
		if c == child {
			idx = i
			break
		}
	}
	if idx >= 0 {
		t.children = append(t.children[:idx:idx], t.children[idx+1:]...)
	}

	for len(child.children) > 0 {
		child.DelProc(child.children[0])
	}

	if closer, ok := child.self.(Closer); ok {
		closer.Close()
	}

	child.parent = nil
	t.logger.Trace("removed child", "child", child.name, "childId", child.id)
}

// treeTick walks this task's subtree depth-first, then advances this task.
// Children are snapshotted before iteration so a child started during a
// sibling's Process this tick is not ticked again within the same root tick.
func (t *Task) treeTick() {
	snapshot := t.children
	for _, c := range snapshot {
		if c.driverMode != InParentsDriverContext {
			continue
		}
		if c.finished || c.exceptionOccurred {
			continue
		}
		c.treeTick()
	}

	if t.finished || t.exceptionOccurred {
		return
	}

	outcome := t.callSelf()

	if t.exceptionOccurred {
		return
	}
	if outcome == Pending {
		return
	}

	if !t.initExecuted {
		if outcome == Positive {
			t.initExecuted = true
			t.logger.Trace("initialized")
			return
		}
		t.finish(outcome)
		return
	}

	t.finish(outcome)
}

// callSelf invokes Initialize or Process, recovering a panic the way the
// Python source's bare `except:` clause catches any unexpected failure:
// the task is marked exceptionOccurred and becomes inert, but the failure
// is never propagated to the parent's tick.
func (t *Task) callSelf() (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic recovered in task lifecycle method",
				"err", r, "stack", string(debug.Stack()))
			t.exceptionOccurred = true
			outcome = Pending
		}
	}()

	if t.initExecuted {
		return t.self.Process()
	}
	t.logger.Trace("initializing")
	return t.self.Initialize()
}

func (t *Task) finish(o Outcome) {
	if t.finished {
		return
	}
	t.success = o
	t.finished = true
	t.logger.Debug("finished", "success", int(o))
}
