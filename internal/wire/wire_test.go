package wire

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wiredbg/internal/env"
)

type fakeTransport struct {
	writes [][]byte
}

func (f *fakeTransport) ReadNonBlocking() ([]byte, error) { return nil, ErrWouldBlock }
func (f *fakeTransport) Write(p []byte) error {
	cp := make([]byte, len(p))
	copy(cp, p)
	f.writes = append(f.writes, cp)
	return nil
}
func (f *fakeTransport) Close() error { return nil }

func newTestWireTransfer(t *testing.T) (*WireTransfer, *fakeTransport) {
	t.Helper()
	bus := env.NewBus(env.ChannelSocket, 2000, nil)
	bus.Subscribe(ContentLog, "test")
	bus.Subscribe(ContentProc, "test")
	bus.Subscribe(ContentInCmd, cmdInConsumer)

	transport := &fakeTransport{}
	w := &WireTransfer{
		bus:          bus,
		log:          bus.Logger.Named("wire"),
		transport:    transport,
		firstRxState: rxContentByteRcv,
		stateRcv:     rxContentByteRcv,
		fragments:    make(map[byte]*strings.Builder),
	}
	return w, transport
}

func feed(w *WireTransfer, bytes ...byte) {
	for _, b := range bytes {
		w.rxStep(b)
	}
}

func TestRx_SimpleLogFrame(t *testing.T) {
	w, _ := newTestWireTransfer(t)

	feed(w, ContentLog, 'h', 'i', DataEnd)

	msg, ok := w.bus.PopContent(ContentLog, "test")
	require.True(t, ok)
	assert.Equal(t, "hi", msg)
	assert.True(t, w.frameDone)
	assert.Equal(t, w.firstRxState, w.stateRcv)
}

func TestRx_ContentNone_MarksFrameDoneWithoutPush(t *testing.T) {
	w, _ := newTestWireTransfer(t)

	feed(w, ContentNone)

	assert.True(t, w.frameDone)
	_, ok := w.bus.PopContent(ContentLog, "test")
	assert.False(t, ok)
}

func TestRx_FragmentedFrame_CutThenContinuation(t *testing.T) {
	w, _ := newTestWireTransfer(t)

	// First turn: content id, partial payload, cut.
	feed(w, ContentLog, 'a', 'b', DataCut)
	assert.True(t, w.frameDone, "a cut still completes this turn's receive step")
	_, ok := w.bus.PopContent(ContentLog, "test")
	assert.False(t, ok, "nothing finalized yet, payload still assembling")

	// Next turn resumes mid-message at the content byte, continuing the
	// same fragment builder.
	feed(w, ContentLog, 'c', 'd', DataEnd)

	msg, ok := w.bus.PopContent(ContentLog, "test")
	require.True(t, ok)
	assert.Equal(t, "abcd", msg)
}

func TestRx_CommandResponseCorrelatesWithLastSentID(t *testing.T) {
	w, _ := newTestWireTransfer(t)
	w.cmdIDOld = 42

	feed(w, ContentInCmd, 'o', 'k', DataEnd)

	in := w.bus.CmdIn()
	assert.Equal(t, uint64(42), in.ID)
	assert.Equal(t, "ok", in.Resp)
}

func TestRx_DuplicateCommandResponseIgnored(t *testing.T) {
	w, _ := newTestWireTransfer(t)
	w.cmdIDOld = 1
	w.bus.SetCmdIn(env.CmdIn{ID: 1, Resp: "first"})

	feed(w, ContentInCmd, 's', 'e', 'c', DataEnd)

	in := w.bus.CmdIn()
	assert.Equal(t, "first", in.Resp, "a response already correlated to this id is not overwritten")
}

func TestRx_FlowControlByte_MasterSlaveIgnoresFrame(t *testing.T) {
	w, _ := newTestWireTransfer(t)
	w.firstRxState = rxFlowControlByteRcv
	w.stateRcv = rxFlowControlByteRcv

	feed(w, FlowMasterSlave, ContentLog, 'x', DataEnd)

	_, ok := w.bus.PopContent(ContentLog, "test")
	assert.False(t, ok, "frames tagged master->slave are not this side's to parse")
	assert.Equal(t, rxFlowControlByteRcv, w.stateRcv)
}

func TestRx_FlowControlByte_SlaveMasterParsesFrame(t *testing.T) {
	w, _ := newTestWireTransfer(t)
	w.firstRxState = rxFlowControlByteRcv
	w.stateRcv = rxFlowControlByteRcv

	feed(w, FlowSlaveMaster, ContentLog, 'y', DataEnd)

	msg, ok := w.bus.PopContent(ContentLog, "test")
	require.True(t, ok)
	assert.Equal(t, "y", msg)
}

func TestCmdSend_EmitsFlowContentPayloadTerminator(t *testing.T) {
	w, transport := newTestWireTransfer(t)

	w.cmdSend("help")

	require.Len(t, transport.writes, 1)
	assert.Equal(t, append([]byte{FlowMasterSlave, ContentOutCmd}, append([]byte("help"), DataEnd)...), transport.writes[0])
}

func TestNextFlowDetermine_PendingCommandIsSent(t *testing.T) {
	w, transport := newTestWireTransfer(t)
	w.stateSend = txNextFlowDetermine

	w.bus.TryAcquireCmdSlot("status")

	w.txStep()

	require.Len(t, transport.writes, 1)
	assert.Contains(t, string(transport.writes[0]), "status")
	assert.Equal(t, w.bus.CmdOut().ID, w.cmdIDOld)
	assert.Equal(t, txNextFlowDetermine, w.stateSend)
}

func TestNextFlowDetermine_NoCommandYieldsTurn(t *testing.T) {
	w, transport := newTestWireTransfer(t)
	w.stateSend = txNextFlowDetermine

	w.txStep()

	require.Len(t, transport.writes, 1)
	assert.Equal(t, []byte{FlowSlaveMaster}, transport.writes[0])
	assert.Equal(t, txResponseWait, w.stateSend)
}

func TestResponseWait_TimeoutTransitionsToReInit(t *testing.T) {
	w, _ := newTestWireTransfer(t)
	w.stateSend = txResponseWait
	w.msLastReceived = time.Now().Add(-2 * responseTimeout)

	w.txStep()

	assert.Equal(t, txReInitWait, w.stateSend)
	assert.False(t, w.bus.DevOnline())
	assert.Equal(t, w.firstRxState, w.stateRcv)
}

func TestResponseWait_FrameDoneGoesBackToNextFlowDetermine(t *testing.T) {
	w, _ := newTestWireTransfer(t)
	w.stateSend = txResponseWait
	w.msLastReceived = time.Now()
	w.frameDone = true

	w.txStep()

	assert.Equal(t, txNextFlowDetermine, w.stateSend)
	assert.True(t, w.bus.DevOnline())
}

func TestReInitWait_BackoffElapsedReInitializes(t *testing.T) {
	w, transport := newTestWireTransfer(t)
	w.stateSend = txReInitWait
	w.msStart = time.Now().Add(-2 * reinitBackoff)

	w.txStep()
	assert.Equal(t, txDbgIfInit, w.stateSend, "backoff elapsed, re-init scheduled for next tick")

	w.txStep()
	assert.Equal(t, txNextFlowDetermine, w.stateSend)
	require.Len(t, transport.writes, 1)
	assert.Contains(t, string(transport.writes[0]), initString)
}
