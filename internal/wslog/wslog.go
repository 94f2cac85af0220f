// Package wslog mirrors the device's log stream to websocket clients, as an
// alternative to the plain-TCP log port for browser-based consumers. Like
// httpdebug, it runs outside the scheduler's cooperative tree: the upgrade
// handshake, the per-connection read loop and the broadcast writes all block.
package wslog

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"wiredbg/internal/env"
	"wiredbg/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Mirror fans out the bus's log content to every connected websocket client.
type Mirror struct {
	bus *env.Bus
	log hclog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// wsLogConsumer names this package's own subscription on the bus's log
// content queue, distinct from App's so both fan-outs see every message.
const wsLogConsumer = "wslog"

// New constructs a log mirror reading from bus. It subscribes to the log
// content stream immediately, so no messages pushed after New returns are
// missed even before Run starts polling.
func New(bus *env.Bus, logger hclog.Logger) *Mirror {
	bus.Subscribe(wire.ContentLog, wsLogConsumer)
	return &Mirror{
		bus:     bus,
		log:     logger.Named("wslog"),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Handler upgrades a request to a websocket and registers the connection
// for the fan-out loop, matching gin's http.Handler-compatible signature.
func (m *Mirror) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Debug("upgrade failed", "err", err)
		return
	}

	m.mu.Lock()
	m.clients[conn] = struct{}{}
	m.mu.Unlock()

	go m.drain(conn)
}

// drain discards anything the client sends (this stream is write-only) and
// deregisters the connection once it closes.
func (m *Mirror) drain(conn *websocket.Conn) {
	defer func() {
		m.mu.Lock()
		delete(m.clients, conn)
		m.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Run polls the bus's log content queue on every tick and broadcasts new
// lines to all connected clients, until stop is closed. Intended to run on
// its own goroutine, alongside the cooperative scheduler loop rather than
// inside it.
func (m *Mirror) Run(stop <-chan struct{}, tick <-chan time.Time) {
	for {
		select {
		case <-stop:
			return
		case <-tick:
			m.broadcastPending()
		}
	}
}

func (m *Mirror) broadcastPending() {
	for {
		msg, ok := m.bus.PopContent(wire.ContentLog, wsLogConsumer)
		if !ok {
			return
		}
		m.broadcast(msg)
	}
}

func (m *Mirror) broadcast(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for conn := range m.clients {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			m.log.Debug("write failed, dropping client", "err", err)
			_ = conn.Close()
			delete(m.clients, conn)
		}
	}
}
