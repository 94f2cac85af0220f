// Package tcplisten implements the TcpListening task: it owns one listening
// socket and hands accepted connections to its parent through a queue,
// polled non-blocking on every tick.
package tcplisten

import (
	"errors"
	"net"

	"github.com/hashicorp/go-hclog"

	"wiredbg/internal/proc"
)

// ListenerFactory constructs the net.Listener TcpListening will accept on.
// Distinct strategies (plain net.Listen, cloudflare/tableflip-managed,
// systemd socket activation) are modeled as distinct factories, so
// TcpListening itself never needs to know which one is in play.
type ListenerFactory func() (net.Listener, error)

const acceptQueueDepth = 32

// TcpListening accepts inbound connections on a listener built once at
// Initialize time, queueing them for PeerGet. The actual Accept() call
// blocks, so it runs on its own goroutine; the task's own tick, like every
// other task's, never blocks.
type TcpListening struct {
	*proc.Task

	log     hclog.Logger
	factory ListenerFactory

	listener net.Listener
	accepted chan net.Conn
	done     chan struct{}
}

// New constructs a TcpListening task. name distinguishes this listener's
// logger from others (wiredbg runs three: log, proc-tree, command).
func New(name string, logger hclog.Logger, factory ListenerFactory) *TcpListening {
	l := &TcpListening{
		log:     logger.Named(name),
		factory: factory,
		done:    make(chan struct{}),
	}
	l.Task = proc.NewTask(l, name, logger)
	return l
}

func (l *TcpListening) Initialize() proc.Outcome {
	listener, err := l.factory()
	if err != nil {
		l.log.Error("failed to open listener", "err", err)
		return proc.Outcome(-1)
	}

	l.listener = listener
	l.accepted = make(chan net.Conn, acceptQueueDepth)

	l.log.Info("listening", "addr", listener.Addr().String())

	go l.acceptLoop()

	return proc.Positive
}

// Close stops accepting and closes the listener. Invoked by the scheduler
// via the Closer interface when this task is removed from the tree.
func (l *TcpListening) Close() {
	close(l.done)
	if l.listener != nil {
		_ = l.listener.Close()
	}
}

func (l *TcpListening) acceptLoop() {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Debug("accept error", "err", err)
			continue
		}

		select {
		case l.accepted <- conn:
		case <-l.done:
			_ = conn.Close()
			return
		}
	}
}

func (l *TcpListening) Process() proc.Outcome {
	return proc.Pending
}

// Addr reports the bound listener's address. Valid only after Initialize.
func (l *TcpListening) Addr() string {
	return l.listener.Addr().String()
}

// PeerGet dequeues the oldest pending connection, or reports none waiting.
func (l *TcpListening) PeerGet() (net.Conn, bool) {
	select {
	case conn := <-l.accepted:
		return conn, true
	default:
		return nil, false
	}
}

// PlainFactory builds the simplest ListenerFactory: net.Listen("tcp", addr).
func PlainFactory(addr string) ListenerFactory {
	return func() (net.Listener, error) {
		return net.Listen("tcp", addr)
	}
}
