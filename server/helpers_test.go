package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/demonid/chatline/model"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	config := NewConfig(filepath.Join(t.TempDir(), "server.yaml"))
	config.LogDir = t.TempDir()
	config.WriteTimeout = 2 * time.Second
	config.PongWait = 10 * time.Second
	config.LoginTimeout = 2 * time.Second
	return config
}

// receive reads one value from ch within timeout or fails the test.
func receive[T any](t *testing.T, ch <-chan T, msgAndArgs ...any) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, msgAndArgs...)
		return v
	case <-time.After(testTimeout):
		require.FailNow(t, "timed out waiting for value", msgAndArgs...)
	}
	panic("unreachable")
}

// testServer runs a Server on a loopback listener for the duration of the test.
type testServer struct {
	*Server
	url    string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func startServer(t *testing.T, config *Config, accounts *AccountBook) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(config, accounts, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{
		Server: srv,
		url:    "ws://" + ln.Addr().String() + "/ws",
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(ts.done)
		ts.err = srv.Serve(ctx, ln)
	}()
	t.Cleanup(ts.stop)
	return ts
}

func (ts *testServer) stop() {
	ts.cancel()
	select {
	case <-ts.done:
	case <-time.After(testTimeout):
	}
}

// wait blocks until Serve returns and reports its error.
func (ts *testServer) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-ts.done:
		return ts.err
	case <-time.After(testTimeout):
		require.FailNow(t, "server did not stop")
		return nil
	}
}

func (ts *testServer) httpURL(path string) string {
	return "http://" + strings.TrimSuffix(strings.TrimPrefix(ts.url, "ws://"), "/ws") + path
}

// testClient is a raw websocket peer. A reader goroutine feeds events so
// tests can also assert that nothing arrives.
type testClient struct {
	t      *testing.T
	conn   *websocket.Conn
	events chan model.Event
	closed chan struct{}
}

func dial(t *testing.T, url string) *testClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	c := &testClient{
		t:      t,
		conn:   conn,
		events: make(chan model.Event, 64),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(func() { conn.Close() })
	return c
}

func (c *testClient) readLoop() {
	defer close(c.closed)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := model.DecodeEvent(data)
		if err != nil {
			continue
		}
		c.events <- ev
	}
}

func (c *testClient) sendEvent(t model.EventType, payload any) {
	c.t.Helper()
	frame, err := model.EncodeEvent(t, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
}

func (c *testClient) sendRaw(data string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

func (c *testClient) say(text string) {
	c.t.Helper()
	c.sendEvent(model.EventMessage, model.Message{Text: text})
}

func (c *testClient) next() model.Event {
	c.t.Helper()
	return receive[model.Event](c.t, c.events, "waiting for frame")
}

func (c *testClient) nextMessage() model.Message {
	c.t.Helper()
	ev := c.next()
	require.Equal(c.t, model.EventMessage, ev.Type, "payload %s", ev.Payload)
	var msg model.Message
	require.NoError(c.t, ev.Decode(&msg))
	return msg
}

func (c *testClient) nextError() model.ErrorPayload {
	c.t.Helper()
	ev := c.next()
	require.Equal(c.t, model.EventError, ev.Type, "payload %s", ev.Payload)
	var payload model.ErrorPayload
	require.NoError(c.t, ev.Decode(&payload))
	return payload
}

// expectNothing asserts no frame arrives within a short window.
func (c *testClient) expectNothing() {
	c.t.Helper()
	select {
	case ev := <-c.events:
		require.FailNow(c.t, "unexpected frame", "%s %s", ev.Type, ev.Payload)
	case <-time.After(200 * time.Millisecond):
	}
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	select {
	case <-c.closed:
	case <-time.After(testTimeout):
		require.FailNow(c.t, "server did not close the connection")
	}
}

// login connects and logs in, failing the test unless the server welcomes us.
func login(t *testing.T, ts *testServer, name string) *testClient {
	t.Helper()
	c := dial(t, ts.url)
	c.sendEvent(model.EventLogin, model.LoginPayload{Name: name, Password: "pw-" + name})
	ev := c.next()
	require.Equal(t, model.EventWelcome, ev.Type, "payload %s", ev.Payload)
	var welcome model.WelcomePayload
	require.NoError(t, ev.Decode(&welcome))
	require.Equal(t, name, welcome.Name)
	return c
}

// waitOffline waits until name is no longer registered.
func waitOffline(t *testing.T, ts *testServer, name string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := ts.registry.Lookup(name)
		return !ok
	}, testTimeout, 10*time.Millisecond, "%s still registered", name)
}
