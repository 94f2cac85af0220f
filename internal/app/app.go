// Package app wires together the WireTransfer link and the three TCP
// listening ports (log, process-tree, command) into the single root task the
// scheduler drives. The HTTP and websocket side servers are started by the
// entrypoint, not by this package.
package app

import (
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/go-hclog"

	"wiredbg/internal/env"
	"wiredbg/internal/peercmd"
	"wiredbg/internal/proc"
	"wiredbg/internal/tcplisten"
	"wiredbg/internal/wire"
)

// Ports is the set of TCP ports the App listens on. Zero means "use the
// package default", matching the Python source's argparse defaults.
type Ports struct {
	Log  int
	Proc int
	Cmd  int
}

func (p Ports) withDefaults() Ports {
	if p.Log == 0 {
		p.Log = 3000
	}
	if p.Proc == 0 {
		p.Proc = 3001
	}
	if p.Cmd == 0 {
		p.Cmd = 3002
	}
	return p
}

// Factories lets the entrypoint swap in a graceful-restart-aware or
// systemd-activation-aware net.Listener for any of the three ports; a nil
// entry falls back to a plain net.Listen on the corresponding port.
type Factories struct {
	Log  tcplisten.ListenerFactory
	Proc tcplisten.ListenerFactory
	Cmd  tcplisten.ListenerFactory
}

// procTreeStaleWindowMs is the minimum gap between two process-tree
// broadcasts: a snapshot popped sooner than this after the last broadcast is
// dropped, whether or not it differs.
const procTreeStaleWindowMs = 50

type procPeer struct {
	conn net.Conn
}

type logPeer struct {
	conn net.Conn
}

// App is the root task: one WireTransfer child and three TcpListening
// children, fanning device-origin log/proc-tree content out to connected
// peers and spawning a PeerCmdCommunicating per command-port connection.
type App struct {
	*proc.Task

	bus *env.Bus
	log hclog.Logger

	ports     Ports
	factories Factories

	logListener  *tcplisten.TcpListening
	procListener *tcplisten.TcpListening
	cmdListener  *tcplisten.TcpListening

	logPeers  []logPeer
	procPeers []procPeer

	procTree            string
	procTreeUpdated     bool
	procTreeChangedAtMs int64
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// New constructs the root App task against bus, listening on ports (zero
// fields fall back to the package defaults). A zero Factories uses a plain
// net.Listen for all three ports.
func New(bus *env.Bus, ports Ports, factories Factories) *App {
	a := &App{bus: bus, log: bus.Logger.Named("App"), ports: ports.withDefaults(), factories: factories}
	a.Task = proc.NewTask(a, "App", bus.Logger)
	return a
}

// logConsumer/procConsumer name App's own subscriptions on the bus's
// content queues, distinct from wslog's so both fan-outs see every message.
const (
	logConsumer  = "app-log"
	procConsumer = "app-proc"
)

func (a *App) Initialize() proc.Outcome {
	a.bus.Subscribe(wire.ContentLog, logConsumer)
	a.bus.Subscribe(wire.ContentProc, procConsumer)

	a.Start(wire.New(a.bus))

	logFactory := a.factories.Log
	if logFactory == nil {
		logFactory = tcplisten.PlainFactory(addr(a.ports.Log))
	}
	a.logListener = tcplisten.New("LogListener", a.bus.Logger, logFactory)
	a.Start(a.logListener.Task)

	procFactory := a.factories.Proc
	if procFactory == nil {
		procFactory = tcplisten.PlainFactory(addr(a.ports.Proc))
	}
	a.procListener = tcplisten.New("ProcListener", a.bus.Logger, procFactory)
	a.Start(a.procListener.Task)

	cmdFactory := a.factories.Cmd
	if cmdFactory == nil {
		cmdFactory = tcplisten.PlainFactory(addr(a.ports.Cmd))
	}
	a.cmdListener = tcplisten.New("CmdListener", a.bus.Logger, cmdFactory)
	a.Start(a.cmdListener.Task)

	return proc.Positive
}

func (a *App) Process() proc.Outcome {
	a.logPeersCommunicate()
	a.procPeersCommunicate()

	if conn, ok := a.cmdListener.PeerGet(); ok {
		communicator := peercmd.New(a.bus)
		communicator.PeerSet(conn)
		a.Start(communicator.Task)
	}

	return proc.Pending
}

func (a *App) logPeersCommunicate() {
	if conn, ok := a.logListener.PeerGet(); ok {
		a.log.Debug("adding log peer")
		a.logPeers = append(a.logPeers, logPeer{conn: conn})
	}

	msg, ok := a.bus.PopContent(wire.ContentLog, logConsumer)
	if !ok {
		return
	}
	msg += "\n"

	kept := a.logPeers[:0]
	for _, peer := range a.logPeers {
		if _, err := peer.conn.Write([]byte(msg)); err != nil {
			a.log.Debug("removing log peer", "err", err)
			_ = peer.conn.Close()
			continue
		}
		kept = append(kept, peer)
	}
	a.logPeers = kept
}

func (a *App) procPeersCommunicate() {
	if conn, ok := a.procListener.PeerGet(); ok {
		a.log.Debug("adding proc peer")
		if len(a.procTree) > 0 {
			_, _ = conn.Write([]byte("\033[2J\033[H\n" + a.procTree))
		}
		a.procPeers = append(a.procPeers, procPeer{conn: conn})
	}

	data, ok := a.bus.PopContent(wire.ContentProc, procConsumer)
	if !ok {
		return
	}

	msg := fmt.Sprintf("\033[2J\033[HProcess tree size: %d\n\n%s", len(data), data)
	nowMs := nowMillis()

	if a.procTreeUpdated {
		if nowMs-a.procTreeChangedAtMs < procTreeStaleWindowMs {
			return
		}
		a.procTreeUpdated = false
	}

	if a.procTree == msg {
		return
	}

	kept := a.procPeers[:0]
	for _, peer := range a.procPeers {
		if _, err := peer.conn.Write([]byte(msg)); err != nil {
			a.log.Debug("removing proc peer", "err", err)
			_ = peer.conn.Close()
			continue
		}
		kept = append(kept, peer)
	}
	a.procPeers = kept

	a.procTree = msg
	a.procTreeUpdated = true
	a.procTreeChangedAtMs = nowMs
}

func addr(port int) string {
	return fmt.Sprintf("0.0.0.0:%d", port)
}
