// Package peercmd implements PeerCmdCommunicating: one instance per
// connected TCP client, relaying lines typed at the prompt to a
// CmdExecuting child and the device's reply back to the socket.
package peercmd

import (
	"net"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"wiredbg/internal/cmdexec"
	"wiredbg/internal/env"
	"wiredbg/internal/proc"
)

const prompt = "# "

type state int

const (
	stateCmdReceive state = iota
	stateCmdWait
)

// PeerCmdCommunicating is started once per accepted command-port
// connection. PeerSet must be called before Start.
type PeerCmdCommunicating struct {
	*proc.Task

	bus *env.Bus
	log hclog.Logger

	conn net.Conn

	state       state
	lastCmd     string
	proxyProbed bool
	executor    *cmdexec.CmdExecuting
}

// New constructs a PeerCmdCommunicating task against the given bus.
func New(bus *env.Bus) *PeerCmdCommunicating {
	p := &PeerCmdCommunicating{bus: bus, log: bus.Logger.Named("PeerCmdCommunicating")}
	p.Task = proc.NewTask(p, "PeerCmdCommunicating", bus.Logger)
	return p
}

// PeerSet assigns the accepted connection this task serves. Must be called
// before Start.
func (p *PeerCmdCommunicating) PeerSet(conn net.Conn) {
	p.conn = conn
}

func (p *PeerCmdCommunicating) Initialize() proc.Outcome {
	p.log.Debug("peer added", "addr", p.conn.RemoteAddr())
	p.state = stateCmdReceive
	p.write(prompt)
	return proc.Positive
}

// Close closes the peer connection. Invoked by the scheduler via the
// Closer interface when this task is removed from the tree.
func (p *PeerCmdCommunicating) Close() {
	_ = p.conn.Close()
}

func (p *PeerCmdCommunicating) Process() proc.Outcome {
	switch p.state {
	case stateCmdReceive:
		return p.cmdReceive()
	case stateCmdWait:
		return p.cmdWait()
	}
	return proc.Pending
}

func (p *PeerCmdCommunicating) cmdReceive() proc.Outcome {
	data, ok := p.readNonBlocking()
	if !ok {
		return proc.Pending
	}
	if data == nil {
		p.log.Debug("peer removed", "addr", p.conn.RemoteAddr())
		return proc.Positive
	}

	line := strings.TrimRight(string(data), "\r\n")

	if !p.proxyProbed {
		p.proxyProbed = true
		if hdr, ok := parsePPv1Header(line); ok {
			p.log.Info("proxy protocol header received", "srcIP", hdr.srcIP, "srcPort", hdr.srcPort)
			p.write(prompt)
			return proc.Pending
		}
	}

	p.log.Trace("received", "line", line, "len", len(line))

	if line == "" {
		line = p.lastCmd
	}
	if line == "" {
		p.write(prompt)
		return proc.Pending
	}
	p.lastCmd = line

	p.log.Debug("creating executor")
	p.executor = cmdexec.New(p.bus)
	p.executor.CmdSet(line)
	p.Start(p.executor.Task)

	p.state = stateCmdWait
	return proc.Pending
}

func (p *PeerCmdCommunicating) cmdWait() proc.Outcome {
	if p.executor.Success() == proc.Pending {
		return proc.Pending
	}

	p.log.Debug("executor finished, sending response")

	if p.executor.Success() == proc.Positive {
		p.write(p.executor.Resp() + "\n")
	} else {
		p.write("Error executing command\n")
	}
	p.write(prompt)

	p.log.Trace("deleting executor")
	p.DelProc(p.executor.Task)
	p.executor = nil

	p.state = stateCmdReceive
	return proc.Pending
}

// readNonBlocking reports (nil, true) on orderly peer close, (data, true)
// on a received line, and (nil, false) when nothing is available yet.
func (p *PeerCmdCommunicating) readNonBlocking() ([]byte, bool) {
	buf := make([]byte, 1024)
	if err := p.conn.SetReadDeadline(time.Now()); err != nil {
		return nil, false
	}
	n, err := p.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, false
		}
		return nil, true
	}
	if n == 0 {
		return nil, true
	}
	return buf[:n], true
}

func (p *PeerCmdCommunicating) write(s string) {
	if _, err := p.conn.Write([]byte(s)); err != nil {
		p.log.Debug("write error", "err", err)
	}
}
