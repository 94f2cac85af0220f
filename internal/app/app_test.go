package app

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wiredbg/internal/env"
	"wiredbg/internal/proc"
	"wiredbg/internal/wire"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestApp_LogFanOutReachesConnectedPeer(t *testing.T) {
	bus := env.NewBus(env.ChannelSocket, freePort(t), nil)

	root := New(bus, Ports{Log: freePort(t), Proc: freePort(t), Cmd: freePort(t)}, Factories{})
	sched := proc.NewScheduler()

	sched.RootTick(root.Task) // Initialize: starts WireTransfer + 3 listeners
	sched.RootTick(root.Task) // WireTransfer Initialize; App.Process runs

	addr := root.logListener.Addr()
	client, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer client.Close()

	// Give the listener's accept goroutine and a few App.Process ticks time
	// to register the connection as a log peer.
	for i := 0; i < 20; i++ {
		sched.RootTick(root.Task)
		time.Sleep(2 * time.Millisecond)
	}

	bus.PushContent(wire.ContentLog, "hello device")

	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	reader := bufio.NewReader(client)

	var line string
	require.Eventually(t, func() bool {
		sched.RootTick(root.Task)
		_ = client.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
		s, rerr := reader.ReadString('\n')
		if rerr == nil {
			line = s
			return true
		}
		return false
	}, time.Second, 2*time.Millisecond)

	assert.Equal(t, "hello device\n", line)
}

func TestApp_CmdListenerSpawnsPeerCmdCommunicating(t *testing.T) {
	bus := env.NewBus(env.ChannelSocket, freePort(t), nil)

	root := New(bus, Ports{Log: freePort(t), Proc: freePort(t), Cmd: freePort(t)}, Factories{})
	sched := proc.NewScheduler()

	sched.RootTick(root.Task)
	sched.RootTick(root.Task)

	client, err := net.Dial("tcp", root.cmdListener.Addr())
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool {
		sched.RootTick(root.Task)
		for _, c := range root.Children() {
			if c.Name() == "PeerCmdCommunicating" {
				return true
			}
		}
		return false
	}, time.Second, 2*time.Millisecond)
}
