package handlers

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fasthttp/router"
	ws "github.com/fasthttp/websocket"
	"github.com/maximhq/bifrost-live/core/schemas"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

const waitFor = 3 * time.Second

// mockLogger satisfies schemas.Logger and discards everything.
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any)                     {}
func (m *mockLogger) Info(msg string, args ...any)                      {}
func (m *mockLogger) Warn(msg string, args ...any)                      {}
func (m *mockLogger) Error(msg string, args ...any)                     {}
func (m *mockLogger) Fatal(msg string, args ...any)                     {}
func (m *mockLogger) SetLevel(level schemas.LogLevel)                   {}
func (m *mockLogger) SetOutputType(outputType schemas.LoggerOutputType) {}

// testServer serves a handler on an in-memory listener.
type testServer struct {
	ln     *fasthttputil.InmemoryListener
	server *fasthttp.Server
}

func startTestServer(t *testing.T, handler fasthttp.RequestHandler) *testServer {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	s := &testServer{ln: ln, server: &fasthttp.Server{Handler: handler}}
	go s.server.Serve(ln)
	t.Cleanup(func() {
		_ = s.server.Shutdown()
		_ = ln.Close()
	})
	return s
}

func startRouterServer(t *testing.T, r *router.Router) *testServer {
	t.Helper()
	return startTestServer(t, r.Handler)
}

func (s *testServer) dialer() *ws.Dialer {
	return &ws.Dialer{
		NetDial:          func(network, addr string) (net.Conn, error) { return s.ln.Dial() },
		HandshakeTimeout: waitFor,
	}
}

// dialLive opens a client WebSocket on /v1/live with the given query string.
func (s *testServer) dialLive(t *testing.T, query string) *liveClient {
	t.Helper()
	url := "ws://live.test/v1/live"
	if query != "" {
		url += "?" + query
	}
	conn, _, err := s.dialer().Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &liveClient{conn: conn}
}

func (s *testServer) get(t *testing.T, path string) *fasthttp.Response {
	t.Helper()
	client := &fasthttp.Client{Dial: func(addr string) (net.Conn, error) { return s.ln.Dial() }}
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI("http://live.test" + path)
	resp := &fasthttp.Response{}
	require.NoError(t, client.DoTimeout(req, resp, waitFor))
	return resp
}

type liveClient struct {
	conn *ws.Conn
}

func (c *liveClient) send(t *testing.T, frame string) {
	t.Helper()
	require.NoError(t, c.conn.WriteMessage(ws.TextMessage, []byte(frame)))
}

// read returns the next event, failing the test on timeout or close.
func (c *liveClient) read(t *testing.T) map[string]any {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(t, err)
	var event map[string]any
	require.NoError(t, sonic.Unmarshal(data, &event))
	return event
}

// readUntil reads events until one has the given type, returning every event seen.
func (c *liveClient) readUntil(t *testing.T, typ schemas.LiveEventType) []map[string]any {
	t.Helper()
	var seen []map[string]any
	for {
		event := c.read(t)
		seen = append(seen, event)
		if event["type"] == string(typ) {
			return seen
		}
	}
}

func typesOf(events []map[string]any) []string {
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e["type"].(string))
	}
	return types
}

// fakeUpstream is a minimal live upstream that records frames and lets the
// test reply on the latest connection.
type fakeUpstream struct {
	server   *httptest.Server
	mu       sync.Mutex
	conn     *ws.Conn
	received chan []byte
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{received: make(chan []byte, 64)}
	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f.received <- msg
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeUpstream) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeUpstream) next(t *testing.T) []byte {
	t.Helper()
	select {
	case msg := <-f.received:
		return msg
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for an upstream frame")
		return nil
	}
}

func (f *fakeUpstream) send(t *testing.T, frame string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotNil(t, f.conn)
	require.NoError(t, f.conn.WriteMessage(ws.TextMessage, []byte(frame)))
}
