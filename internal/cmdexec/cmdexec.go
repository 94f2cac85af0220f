// Package cmdexec implements the one-shot request/response task that
// queues a command on the environment bus and waits for the device's
// correlated reply.
package cmdexec

import (
	"time"

	"wiredbg/internal/env"
	"wiredbg/internal/proc"
)

const (
	slotAcquireTimeout = 500 * time.Millisecond
	executionTimeout   = 3000 * time.Millisecond
)

type state int

const (
	stateBuffOutCmdValidWait state = iota
	stateBuffInCmdValidWait
)

// Negative completion codes, per spec.md §4.3.
const (
	ErrSlotTimeout      proc.Outcome = -1
	ErrExecutionTimeout proc.Outcome = -2
)

// CmdExecuting is a one-shot task: the creator must call CmdSet before
// Start. It claims the bus's single outbound command slot, waits for the
// correlated response, and finishes Positive with Resp populated, or
// Negative on timeout.
type CmdExecuting struct {
	*proc.Task

	bus *env.Bus
	cmd string

	state   state
	cmdID   uint64
	resp    string
	msStart time.Time
}

// New constructs a CmdExecuting task against the given bus.
func New(bus *env.Bus) *CmdExecuting {
	c := &CmdExecuting{bus: bus}
	c.Task = proc.NewTask(c, "CmdExecuting", bus.Logger)
	return c
}

// CmdSet sets the command text to send. Must be called before Start.
func (c *CmdExecuting) CmdSet(cmd string) {
	c.cmd = cmd
}

// Resp returns the device's response once the task has finished Positive.
func (c *CmdExecuting) Resp() string {
	return c.resp
}

func (c *CmdExecuting) Initialize() proc.Outcome {
	c.state = stateBuffOutCmdValidWait
	c.resp = ""
	c.msStart = time.Now()
	return proc.Positive
}

func (c *CmdExecuting) Process() proc.Outcome {
	switch c.state {
	case stateBuffOutCmdValidWait:
		return c.buffOutCmdValidWait()
	case stateBuffInCmdValidWait:
		return c.buffInCmdValidWait()
	}
	return proc.Pending
}

func (c *CmdExecuting) buffOutCmdValidWait() proc.Outcome {
	if time.Since(c.msStart) > slotAcquireTimeout {
		c.Logger().Debug("timeout reached while starting command")
		return ErrSlotTimeout
	}

	id, ok := c.bus.TryAcquireCmdSlot(c.cmd)
	if !ok {
		return proc.Pending
	}

	c.cmdID = id
	c.msStart = time.Now()
	c.state = stateBuffInCmdValidWait
	return proc.Pending
}

func (c *CmdExecuting) buffInCmdValidWait() proc.Outcome {
	if time.Since(c.msStart) > executionTimeout {
		c.Logger().Debug("timeout reached for command execution")
		c.bus.ReleaseCmdSlot()
		return ErrExecutionTimeout
	}

	in := c.bus.CmdIn()
	if in.ID != c.cmdID {
		return proc.Pending
	}

	c.resp = in.Resp
	c.bus.ReleaseCmdSlot()
	return proc.Positive
}
