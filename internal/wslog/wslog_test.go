package wslog

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"wiredbg/internal/env"
	"wiredbg/internal/wire"
)

func TestMirror_BroadcastsPushedLogLinesToClients(t *testing.T) {
	bus := env.NewBus(env.ChannelTTY, 2000, nil)
	mirror := New(bus, hclog.NewNullLogger())

	srv := httptest.NewServer(http.HandlerFunc(mirror.Handler))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	tick := make(chan time.Time, 1)
	stop := make(chan struct{})
	defer close(stop)
	go mirror.Run(stop, tick)

	require.Eventually(t, func() bool {
		mirror.mu.Lock()
		n := len(mirror.clients)
		mirror.mu.Unlock()
		return n == 1
	}, time.Second, time.Millisecond)

	bus.PushContent(wire.ContentLog, "boot complete")
	tick <- time.Now()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "boot complete", string(data))
}

func TestMirror_DisconnectedClientIsDropped(t *testing.T) {
	bus := env.NewBus(env.ChannelTTY, 2000, nil)
	mirror := New(bus, hclog.NewNullLogger())

	srv := httptest.NewServer(http.HandlerFunc(mirror.Handler))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mirror.mu.Lock()
		n := len(mirror.clients)
		mirror.mu.Unlock()
		return n == 1
	}, time.Second, time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		mirror.mu.Lock()
		n := len(mirror.clients)
		mirror.mu.Unlock()
		return n == 0
	}, time.Second, time.Millisecond)
}
