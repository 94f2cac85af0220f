package wire

import (
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"wiredbg/internal/env"
	"wiredbg/internal/proc"
)

// Tuning constants, named after spec.md §4.2/§7.
const (
	responseTimeout = 500 * time.Millisecond
	reinitBackoff   = 1500 * time.Millisecond
)

// cmdInConsumer is WireTransfer's own subscriber name on ContentInCmd: it
// both pushes the reassembled response and immediately pops it back off to
// correlate it, so it never contends with App's or wslog's subscriptions.
const cmdInConsumer = "wire-cmd-in"

type txState int

const (
	txDbgIfInit txState = iota
	txNextFlowDetermine
	txResponseWait
	txReInitWait
)

type rxState int

const (
	rxFlowControlByteRcv rxState = iota
	rxDataIgnore
	rxContentByteRcv
	rxDataRcv
)

// WireTransfer owns the single byte channel to the device and advances its
// TX and RX state machines on every tick, TX first, then all currently
// buffered RX bytes one at a time. It is a single-instance task: the
// channel is owned exclusively by this task for its lifetime.
type WireTransfer struct {
	*proc.Task

	bus *env.Bus
	log hclog.Logger

	transport Transport

	firstRxState rxState
	stateSend    txState
	stateRcv     rxState

	msStart        time.Time
	msLastReceived time.Time
	frameDone      bool
	cmdIDOld       uint64
	curContentID   byte
	fragments      map[byte]*strings.Builder
}

// New constructs a WireTransfer task against the given environment bus.
func New(bus *env.Bus) *proc.Task {
	w := &WireTransfer{bus: bus, log: bus.Logger.Named("wire")}
	w.Task = proc.NewTask(w, "WireTransfer", bus.Logger)
	return w.Task
}

func (w *WireTransfer) Initialize() proc.Outcome {
	if w.bus.DbgChannel == env.ChannelSocket {
		w.firstRxState = rxContentByteRcv
	} else {
		w.firstRxState = rxFlowControlByteRcv
	}

	w.stateSend = txDbgIfInit
	w.stateRcv = w.firstRxState
	w.fragments = make(map[byte]*strings.Builder)
	w.bus.SetCmdIn(env.CmdIn{})
	w.bus.SetDevOnline(false)
	w.bus.Subscribe(ContentInCmd, cmdInConsumer)

	var transport Transport
	var err error
	if w.bus.DbgChannel == env.ChannelSocket {
		transport, err = newSocketTransport(w.bus.DbgPort)
	} else {
		transport, err = newTTYTransport()
	}
	if err != nil {
		w.log.Error("failed to open byte transport", "err", err)
		return proc.Outcome(-1)
	}
	w.transport = transport

	return proc.Positive
}

// Close releases the byte transport. Invoked by the scheduler via the
// Closer interface when this task is removed from the tree.
func (w *WireTransfer) Close() {
	if w.transport != nil {
		_ = w.transport.Close()
	}
}

func (w *WireTransfer) Process() proc.Outcome {
	w.txStep()

	data, err := w.transport.ReadNonBlocking()
	if err != nil {
		if err != ErrWouldBlock {
			w.log.Debug("read error", "err", err)
		}
		return proc.Pending
	}

	for _, b := range data {
		w.rxStep(b)
	}

	return proc.Pending
}

// --- TX state machine ---

func (w *WireTransfer) txStep() {
	switch w.stateSend {
	case txDbgIfInit:
		w.dbgIfInit()
	case txNextFlowDetermine:
		w.nextFlowDetermine()
	case txResponseWait:
		w.responseWait()
	case txReInitWait:
		w.reInitWait()
	}
}

func (w *WireTransfer) dbgIfInit() {
	w.log.Debug("initializing debug interface")
	w.cmdSend(initString)
	w.stateSend = txNextFlowDetermine
}

func (w *WireTransfer) nextFlowDetermine() {
	out := w.bus.CmdOut()
	if out.Name != "" && out.ID != w.cmdIDOld {
		w.log.Trace("command received from peer, sending")
		w.cmdSend(out.Name)
		w.cmdIDOld = out.ID
		return
	}

	if err := w.transport.Write([]byte{FlowSlaveMaster}); err != nil {
		w.log.Debug("write error sending yield", "err", err)
	}
	w.msLastReceived = time.Now()
	w.frameDone = false
	w.stateSend = txResponseWait
}

func (w *WireTransfer) responseWait() {
	if time.Since(w.msLastReceived) > responseTimeout {
		w.log.Info("timeout reached for single wire transfer, device offline")
		w.bus.SetDevOnline(false)
		w.stateRcv = w.firstRxState
		w.msStart = time.Now()
		w.stateSend = txReInitWait
		return
	}

	if !w.frameDone {
		return
	}

	w.bus.SetDevOnline(true)
	w.stateSend = txNextFlowDetermine
}

func (w *WireTransfer) reInitWait() {
	if time.Since(w.msStart) < reinitBackoff {
		return
	}
	w.log.Debug("re-init backoff elapsed")
	w.stateSend = txDbgIfInit
}

// cmdSend emits exactly: flow byte 0xF0, content-ID 0xC0, the raw command
// bytes, and the 0x00 terminator.
func (w *WireTransfer) cmdSend(cmd string) {
	frame := make([]byte, 0, len(cmd)+3)
	frame = append(frame, FlowMasterSlave, ContentOutCmd)
	frame = append(frame, cmd...)
	frame = append(frame, DataEnd)
	if err := w.transport.Write(frame); err != nil {
		w.log.Debug("write error sending command frame", "err", err)
	}
}

// --- RX state machine ---

func (w *WireTransfer) rxStep(b byte) {
	switch w.stateRcv {
	case rxFlowControlByteRcv:
		w.flowControlByteRcv(b)
	case rxDataIgnore:
		w.dataIgnore(b)
	case rxContentByteRcv:
		w.contentByteRcv(b)
	case rxDataRcv:
		w.dataRcv(b)
	}
}

func (w *WireTransfer) flowControlByteRcv(b byte) {
	switch b {
	case FlowMasterSlave:
		w.stateRcv = rxDataIgnore
	case FlowSlaveMaster:
		w.stateRcv = rxContentByteRcv
	}
}

func (w *WireTransfer) dataIgnore(b byte) {
	if b == DataEnd || b == DataCut {
		w.stateRcv = w.firstRxState
	}
}

// contentByteRcv captures b as the in-progress frame's content-ID
// (w.curContentID), valid until the frame completes.
func (w *WireTransfer) contentByteRcv(b byte) {
	w.msLastReceived = time.Now()
	w.curContentID = b

	if b == ContentNone {
		w.frameDone = true
		w.stateRcv = w.firstRxState
		return
	}

	w.stateRcv = rxDataRcv
}

func (w *WireTransfer) dataRcv(b byte) {
	w.msLastReceived = time.Now()

	switch b {
	case DataEnd:
		w.finalize(w.curContentID)
		w.frameDone = true
		w.stateRcv = w.firstRxState
	case DataCut:
		w.frameDone = true
		w.stateRcv = w.firstRxState
	default:
		sb, ok := w.fragments[w.curContentID]
		if !ok {
			sb = &strings.Builder{}
			w.fragments[w.curContentID] = sb
		}
		sb.WriteByte(b)
	}
}

// finalize completes reassembly of contentID's message: it is pushed onto
// the bus queue, and for ContentInCmd it is immediately popped back out and
// correlated against the command WireTransfer last sent.
func (w *WireTransfer) finalize(contentID byte) {
	sb, ok := w.fragments[contentID]
	if !ok {
		w.log.Debug("got empty message", "contentId", contentID)
		return
	}
	payload := sb.String()
	delete(w.fragments, contentID)

	w.bus.PushContent(contentID, payload)

	if contentID == ContentInCmd {
		resp, _ := w.bus.PopContent(contentID, cmdInConsumer)
		cur := w.bus.CmdIn()
		if w.cmdIDOld != cur.ID {
			w.bus.SetCmdIn(env.CmdIn{ID: w.cmdIDOld, Resp: resp})
		} else {
			w.log.Trace("ignored duplicate command response")
		}
	}
}
