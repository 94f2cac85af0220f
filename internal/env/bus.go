// Package env models the process-wide shared state ("aEnv" in the original
// Python source) every task reads and writes across its suspension points.
// It is a plain struct passed by reference into each task at construction,
// not package-global state. The scheduler is single-threaded, but the HTTP
// debug endpoint and the websocket log mirror use the bus from their own
// goroutines, so every Bus accessor takes the bus mutex.
package env

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Channel names the byte transport WireTransfer opens.
type Channel string

const (
	ChannelTTY    Channel = "tty"
	ChannelSocket Channel = "socket"
)

// maxQueueDepth bounds each per-content-ID FIFO so a stalled consumer can't
// grow the process without bound; oldest entries are dropped first.
const maxQueueDepth = 256

// CmdIn is the distinguished dataIn["cmd"] record: the device's response to
// the most recently answered command, paired by ID with dataOut["cmd"].
type CmdIn struct {
	ID   uint64
	Resp string
}

// CmdOut is the distinguished dataOut["cmd"] slot. Name == "" is the
// handshake meaning "slot free"; a non-empty Name means a CmdExecuting
// holds the slot, from before WireTransfer emits the command until the
// holder releases it.
type CmdOut struct {
	ID   uint64
	Name string
}

// Bus is the environment every task shares.
type Bus struct {
	// Immutable after startup.
	DbgChannel Channel
	DbgPort    int

	Logger hclog.Logger

	mu        sync.Mutex
	devOnline bool
	queues    map[byte]map[string]*stringQueue
	cmdIn     CmdIn
	cmdOut    CmdOut
}

// NewBus constructs an environment bus for the given channel/port.
func NewBus(channel Channel, port int, logger hclog.Logger) *Bus {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Bus{
		DbgChannel: channel,
		DbgPort:    port,
		Logger:     logger,
		queues:     make(map[byte]map[string]*stringQueue),
	}
}

// DevOnline reports the device link's liveness, as last observed by
// WireTransfer.
func (b *Bus) DevOnline() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devOnline
}

// SetDevOnline is written only by WireTransfer.
func (b *Bus) SetDevOnline(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devOnline = v
}

// CmdIn returns a copy of the current command-response record.
func (b *Bus) CmdIn() CmdIn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cmdIn
}

// SetCmdIn overwrites the command-response record. Written only by
// WireTransfer, after it has verified the response correlates with the
// command it last sent.
func (b *Bus) SetCmdIn(v CmdIn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cmdIn = v
}

// CmdOut returns a copy of the outbound command slot.
func (b *Bus) CmdOut() CmdOut {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cmdOut
}

// SetCmdOut overwrites the outbound command slot.
func (b *Bus) SetCmdOut(v CmdOut) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cmdOut = v
}

// TryAcquireCmdSlot claims the outbound command slot for cmd if it is free
// (Name == ""), assigning it the next monotonic ID. It reports the
// acquired ID and whether the slot was actually free. dataOut["cmd"].id is
// monotonic non-decreasing across the whole run, satisfying the only
// cross-task ordering guarantee this bus makes.
func (b *Bus) TryAcquireCmdSlot(cmd string) (id uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmdOut.Name != "" {
		return 0, false
	}
	b.cmdOut.ID++
	b.cmdOut.Name = cmd
	return b.cmdOut.ID, true
}

// ReleaseCmdSlot clears the outbound command slot, the handshake that lets
// the next CmdExecuting queue its command.
func (b *Bus) ReleaseCmdSlot() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cmdOut.Name = ""
}

// Subscribe registers consumer as an independent reader of contentID,
// giving it its own queue so one consumer popping a message never starves
// another (App's TCP fan-out and wslog's websocket mirror both read the
// log stream this way). Must be called before any PushContent the
// consumer expects to observe; safe to call more than once.
func (b *Bus) Subscribe(contentID byte, consumer string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.queues[contentID]
	if !ok {
		m = make(map[string]*stringQueue)
		b.queues[contentID] = m
	}
	if _, ok := m[consumer]; !ok {
		m[consumer] = newStringQueue(maxQueueDepth)
	}
}

// PushContent enqueues a fully reassembled message for contentID onto every
// subscriber's queue. Unknown content-IDs with no subscribers are dropped:
// nothing is reading them.
func (b *Bus) PushContent(contentID byte, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.queues[contentID] {
		q.push(msg)
	}
}

// PopContent dequeues the oldest message for contentID on consumer's own
// queue, if any.
func (b *Bus) PopContent(contentID byte, consumer string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.queues[contentID]
	if !ok {
		return "", false
	}
	q, ok := m[consumer]
	if !ok {
		return "", false
	}
	return q.pop()
}

// stringQueue is a bounded FIFO of strings.
type stringQueue struct {
	items []string
	cap   int
}

func newStringQueue(capacity int) *stringQueue {
	return &stringQueue{cap: capacity}
}

func (q *stringQueue) push(s string) {
	q.items = append(q.items, s)
	if len(q.items) > q.cap {
		q.items = q.items[len(q.items)-q.cap:]
	}
}

func (q *stringQueue) pop() (string, bool) {
	if len(q.items) == 0 {
		return "", false
	}
	s := q.items[0]
	q.items = q.items[1:]
	return s, true
}
