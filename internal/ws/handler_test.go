package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restock_bot/internal/logbus"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHandlerReplaysBacklogWithFilter(t *testing.T) {
	bus := logbus.New(10)
	bus.Log("info", "state transition", map[string]any{"state": "login"})
	bus.Publish("session_state", map[string]any{"state": "login"})

	srv := httptest.NewServer(NewHandler(bus, nil))
	defer srv.Close()

	conn := dial(t, srv, "?types=session_state")
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var msg logbus.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "session_state", msg.Type)
}

func TestHandlerStreamsLiveMessages(t *testing.T) {
	bus := logbus.New(10)
	srv := httptest.NewServer(NewHandler(bus, nil))
	defer srv.Close()

	conn := dial(t, srv, "?types=log")
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				bus.Publish("progress", nil)
				bus.Log("info", "tick", nil)
			}
		}
	}()

	var msg logbus.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "log", msg.Type)
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(logbus.New(1), []string{"http://localhost:5173"})
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	assert.True(t, h.checkOrigin(req("")))
	assert.True(t, h.checkOrigin(req("http://LOCALHOST:5173")))
	assert.False(t, h.checkOrigin(req("http://evil.test")))

	open := NewHandler(logbus.New(1), []string{"*"})
	assert.True(t, open.checkOrigin(req("http://evil.test")))
}

func TestParseTypes(t *testing.T) {
	assert.Nil(t, parseTypes(""))
	f := parseTypes("log, session_state,,")
	assert.True(t, f.match("log"))
	assert.True(t, f.match("session_state"))
	assert.False(t, f.match("progress"))
	assert.True(t, typeFilter(nil).match("anything"))
}

func TestHandlerSendsBacklogThenLiveOnce(t *testing.T) {
	bus := logbus.New(10)
	bus.Publish("session_state", "login")

	srv := httptest.NewServer(NewHandler(bus, nil))
	defer srv.Close()

	conn := dial(t, srv, "?types=session_state")
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first logbus.Message
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "login", first.Data)

	bus.Publish("session_state", "checkout")
	var second logbus.Message
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "checkout", second.Data)
}
