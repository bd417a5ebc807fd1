package live

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/fasthttp/websocket"
	"github.com/maximhq/bifrost-live/core/clock"
	"github.com/maximhq/bifrost-live/core/schemas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const waitFor = 3 * time.Second

// recordingSink keeps every event for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []*schemas.LiveEvent
}

func (r *recordingSink) Emit(ev *schemas.LiveEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) all() []*schemas.LiveEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*schemas.LiveEvent(nil), r.events...)
}

func (r *recordingSink) ofType(typ schemas.LiveEventType) []*schemas.LiveEvent {
	return eventsOfType(r.all(), typ)
}

func (r *recordingSink) waitFor(t *testing.T, typ schemas.LiveEventType, n int) []*schemas.LiveEvent {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.ofType(typ)) >= n }, waitFor, 5*time.Millisecond,
		"waiting for %d %s event(s)", n, typ)
	return r.ofType(typ)
}

// fakeUpstream is a live upstream that can refuse its first connections and
// records every frame it receives.
type fakeUpstream struct {
	server *httptest.Server
	reject int

	mu       sync.Mutex
	attempts []*http.Request
	conn     *ws.Conn
	writeMu  sync.Mutex
	received chan []byte
}

func newFakeUpstream(t *testing.T, reject int) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{reject: reject, received: make(chan []byte, 256)}
	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.attempts = append(f.attempts, r)
		refuse := len(f.attempts) <= f.reject
		f.mu.Unlock()
		if refuse {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}

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

func (f *fakeUpstream) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

func (f *fakeUpstream) attempt(i int) *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[i]
}

// send writes a frame on the most recent upstream connection.
func (f *fakeUpstream) send(t *testing.T, frame string) {
	t.Helper()
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	require.NotNil(t, conn)
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte(frame)))
}

// next returns the next received frame that is not a setup message.
func (f *fakeUpstream) next(t *testing.T) []byte {
	t.Helper()
	for {
		select {
		case msg := <-f.received:
			if gjson.GetBytes(msg, "setup").Exists() {
				continue
			}
			return msg
		case <-time.After(waitFor):
			t.Fatal("timed out waiting for an upstream frame")
			return nil
		}
	}
}

func (f *fakeUpstream) assertNothingReceived(t *testing.T) {
	t.Helper()
	select {
	case msg := <-f.received:
		t.Fatalf("unexpected upstream frame %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func testConfig(url string) *schemas.LiveConfig {
	return &schemas.LiveConfig{
		Enabled:           true,
		UpstreamURL:       url,
		Protocol:          schemas.LiveProtocolGemini,
		Model:             "m0",
		APIKey:            "key-p0",
		ConnectTimeout:    2 * time.Second,
		ConnectRetryDelay: time.Millisecond,
	}
}

func newTestBridge(t *testing.T, cfg *schemas.LiveConfig, opts ...Option) (*Bridge, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	b, err := New(cfg, nil, append([]Option{WithSink(sink), WithSessionID("session-1")}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b, sink
}

func clientEvent(typ schemas.ClientEventType, payload string) *schemas.ClientEvent {
	ev := &schemas.ClientEvent{Type: typ}
	if payload != "" {
		ev.Payload = json.RawMessage(payload)
	}
	return ev
}

func TestBridge_UnavailableWhenNotConfigured(t *testing.T) {
	for name, cfg := range map[string]*schemas.LiveConfig{
		"disabled":  {Enabled: false, UpstreamURL: "ws://127.0.0.1:1"},
		"no target": {Enabled: true},
	} {
		t.Run(name, func(t *testing.T) {
			b, sink := newTestBridge(t, cfg)
			assert.False(t, b.IsConfigured())

			err := b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventText, `{"text":"hi"}`))
			require.NoError(t, err)
			got := sink.ofType(schemas.LiveEventUnavailable)
			require.Len(t, got, 1)
			assert.NotEmpty(t, got[0].Reason)
			assert.False(t, b.Connected())
		})
	}
}

// Scenario A
func TestBridge_DropsStaleAudioChunk(t *testing.T) {
	up := newFakeUpstream(t, 0)
	cfg := testConfig(up.url())
	cfg.MaxStaleChunkAge = 2500 * time.Millisecond
	b, sink := newTestBridge(t, cfg)

	sentAt := time.Now().Add(-10 * time.Minute).UnixMilli()
	stale := clientEvent(schemas.ClientEventAudio, fmt.Sprintf(`{"data":"AAAA","clientSentAt":%d}`, sentAt))

	for i := 0; i < 2; i++ {
		require.NoError(t, b.ForwardFromClient(context.Background(), stale))
	}

	dropped := sink.ofType(schemas.LiveEventChunkDropped)
	require.Len(t, dropped, 2)
	assert.Equal(t, schemas.ModalityAudio, dropped[0].Modality)
	assert.Equal(t, int64(2500), *dropped[0].ThresholdMs)
	assert.GreaterOrEqual(t, *dropped[0].AgeMs, int64(10*time.Minute/time.Millisecond))
	assert.Equal(t, 0, up.attemptCount())
	up.assertNothingReceived(t)

	fresh := clientEvent(schemas.ClientEventAudio, fmt.Sprintf(`{"data":"BBBB","clientSentAt":%d}`, time.Now().UnixMilli()))
	require.NoError(t, b.ForwardFromClient(context.Background(), fresh))
	assert.Equal(t, "BBBB", gjson.GetBytes(up.next(t), "realtimeInput.mediaChunks.0.data").String())
}

// Scenario B
func TestBridge_FailsOverAcrossModelsThenProfiles(t *testing.T) {
	up := newFakeUpstream(t, 3)
	cfg := testConfig(up.url())
	cfg.FallbackModels = []string{"m1"}
	cfg.FallbackAPIKey = "key-p1"
	cfg.MaxConnectAttempts = 4
	b, sink := newTestBridge(t, cfg)

	require.NoError(t, b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventText, `{"text":"hi"}`)))

	var path []string
	for _, ev := range sink.ofType(schemas.LiveEventFailover) {
		path = append(path, fmt.Sprintf("(%s,%s)->(%s,%s)", ev.From.Model, ev.From.AuthProfile, ev.To.Model, ev.To.AuthProfile))
	}
	assert.Equal(t, []string{
		"(m0,primary)->(m1,primary)",
		"(m1,primary)->(m0,fallback)",
		"(m0,fallback)->(m1,fallback)",
	}, path)

	assert.Len(t, sink.ofType(schemas.LiveEventAuthProfileFailed), 3)
	var attempts []int
	for _, ev := range sink.ofType(schemas.LiveEventReconnectAttempt) {
		attempts = append(attempts, ev.Attempt)
		assert.Equal(t, 4, ev.MaxAttempts)
	}
	assert.Equal(t, []int{2, 3, 4}, attempts)

	connected := sink.ofType(schemas.LiveEventConnected)
	require.Len(t, connected, 1)
	assert.Equal(t, "m1", connected[0].Model)
	assert.Equal(t, "fallback", connected[0].AuthProfile)

	require.Equal(t, 4, up.attemptCount())
	assert.Equal(t, "key-p0", up.attempt(0).URL.Query().Get("key"))
	assert.Equal(t, "key-p1", up.attempt(3).URL.Query().Get("key"))

	setup := <-up.received
	assert.Equal(t, "models/m1", gjson.GetBytes(setup, "setup.model").String())
	assert.Equal(t, "hi", gjson.GetBytes(up.next(t), "clientContent.turns.0.parts.0.text").String())
}

func TestBridge_ConnectExhaustionSurfacesError(t *testing.T) {
	up := newFakeUpstream(t, 100)
	cfg := testConfig(up.url())
	cfg.MaxConnectAttempts = 2
	b, sink := newTestBridge(t, cfg)

	err := b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventText, `{"text":"hi"}`))
	require.ErrorIs(t, err, ErrConnectExhausted)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, 2, up.attemptCount())
	assert.Len(t, sink.ofType(schemas.LiveEventReconnectAttempt), 1)
	assert.Len(t, sink.ofType(schemas.LiveEventFailover), 2)
}

// Scenario C
func TestBridge_InterruptLatencyThenInterrupted(t *testing.T) {
	up := newFakeUpstream(t, 0)
	b, sink := newTestBridge(t, testConfig(up.url()))

	require.NoError(t, b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventInterrupt, `{"reason":"x"}`)))
	assert.JSONEq(t, `{"realtimeInput":{"activityEnd":true}}`, string(up.next(t)))
	require.Len(t, sink.ofType(schemas.LiveEventInterruptRequested), 1)

	up.send(t, `{"serverContent":{"interrupted":true}}`)
	sink.waitFor(t, schemas.LiveEventInterrupted, 1)

	var order []schemas.LiveEventType
	for _, ev := range sink.all() {
		switch ev.Type {
		case schemas.LiveEventInterruptRequested, schemas.LiveEventInterruptLatency, schemas.LiveEventInterrupted:
			order = append(order, ev.Type)
		}
	}
	assert.Equal(t, []schemas.LiveEventType{
		schemas.LiveEventInterruptRequested,
		schemas.LiveEventInterruptLatency,
		schemas.LiveEventInterrupted,
	}, order)

	latency := sink.ofType(schemas.LiveEventInterruptLatency)[0]
	assert.GreaterOrEqual(t, *latency.LatencyMs, int64(0))
	assert.Equal(t, "x", sink.ofType(schemas.LiveEventInterrupted)[0].Reason)
}

func TestBridge_UnpromptedInterruptWithoutOutputIsSuppressed(t *testing.T) {
	up := newFakeUpstream(t, 0)
	b, sink := newTestBridge(t, testConfig(up.url()))

	require.NoError(t, b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventTurnEnd, "")))
	up.next(t)
	up.send(t, `{"interrupted":true}`)
	up.send(t, `{"setupComplete":{}}`)

	sink.waitFor(t, schemas.LiveEventOutput, 2)
	assert.Empty(t, sink.ofType(schemas.LiveEventInterrupted))
	assert.Empty(t, sink.ofType(schemas.LiveEventInterruptLatency))
}

// Scenario D
func TestBridge_TurnCompletedAggregatesText(t *testing.T) {
	up := newFakeUpstream(t, 0)
	b, sink := newTestBridge(t, testConfig(up.url()))

	require.NoError(t, b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventText, `{"text":"greet me"}`)))
	up.next(t)

	up.send(t, `{"serverContent":{"modelTurn":{"parts":[{"text":"Hello"}]}}}`)
	up.send(t, `{"serverContent":{"modelTurn":{"parts":[{"text":"World"}]}}}`)
	up.send(t, `{"serverContent":{"turnComplete":true}}`)

	done := sink.waitFor(t, schemas.LiveEventTurnCompleted, 1)
	require.Len(t, done, 1)
	assert.Equal(t, "Hello\nWorld", *done[0].Text)
	assert.Equal(t, 11, *done[0].TextChars)
	assert.Len(t, sink.ofType(schemas.LiveEventRoundTrip), 1)
	assert.Equal(t, schemas.ModalityText, sink.ofType(schemas.LiveEventRoundTrip)[0].Modality)

	outputs := sink.ofType(schemas.LiveEventOutput)
	require.Len(t, outputs, 3)
	assert.Equal(t, schemas.UpstreamFrameStructured, outputs[0].FrameKind)
	assert.Equal(t, "Hello", outputs[0].Output.Text)
	assert.JSONEq(t, `{"serverContent":{"modelTurn":{"parts":[{"text":"Hello"}]}}}`, string(outputs[0].Raw))
}

func TestBridge_UnparseableFrameIsReemitted(t *testing.T) {
	up := newFakeUpstream(t, 0)
	b, sink := newTestBridge(t, testConfig(up.url()))

	require.NoError(t, b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventTurnEnd, "")))
	up.next(t)
	up.send(t, `garbage {`)

	out := sink.waitFor(t, schemas.LiveEventOutput, 1)[0]
	assert.Equal(t, schemas.UpstreamFrameUnparseable, out.FrameKind)
	assert.Equal(t, "garbage {", out.RawText)
	assert.Nil(t, out.Raw)
	assert.True(t, b.Connected())
}

// Scenario E
func TestBridge_WatchdogResetsSilentUpstreamAndReconnects(t *testing.T) {
	up := newFakeUpstream(t, 0)
	clk := clock.Fake(time.Now())
	cfg := testConfig(up.url())
	cfg.HealthCheckInterval = time.Second
	cfg.HealthSilenceThreshold = 5 * time.Second
	b, sink := newTestBridge(t, cfg, WithClock(clk))

	require.NoError(t, b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventText, `{"text":"hello?"}`)))
	up.next(t)

	clk.Advance(6 * time.Second)
	degraded := sink.waitFor(t, schemas.LiveEventHealthDegraded, 1)
	assert.Equal(t, int64(6000), *degraded[0].SilenceMs)
	assert.Equal(t, "m0", degraded[0].Model)
	require.Eventually(t, func() bool { return !b.Connected() }, waitFor, 5*time.Millisecond)

	require.NoError(t, b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventText, `{"text":"still there?"}`)))
	assert.Equal(t, "still there?", gjson.GetBytes(up.next(t), "clientContent.turns.0.parts.0.text").String())
	assert.Len(t, sink.ofType(schemas.LiveEventConnected), 2)
	assert.Equal(t, 2, up.attemptCount())

	up.send(t, `{"serverContent":{"modelTurn":{"parts":[{"text":"yes"}]}}}`)
	sink.waitFor(t, schemas.LiveEventHealthRecovered, 1)
	assert.Len(t, sink.ofType(schemas.LiveEventHealthDegraded), 1)
}

func TestBridge_IdleConnectionIsNeverDegraded(t *testing.T) {
	up := newFakeUpstream(t, 0)
	clk := clock.Fake(time.Now())
	cfg := testConfig(up.url())
	cfg.HealthCheckInterval = time.Second
	cfg.HealthSilenceThreshold = 5 * time.Second
	b, sink := newTestBridge(t, cfg, WithClock(clk))

	require.NoError(t, b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventTurnEnd, "")))
	up.next(t)

	for i := 0; i < 3; i++ {
		clk.Advance(10 * time.Second)
		time.Sleep(20 * time.Millisecond)
	}
	assert.Empty(t, sink.ofType(schemas.LiveEventHealthDegraded))
	assert.True(t, b.Connected())
}

func TestBridge_PassthroughQuietAfterReplyIsNotDegraded(t *testing.T) {
	up := newFakeUpstream(t, 0)
	clk := clock.Fake(time.Now())
	cfg := testConfig(up.url())
	cfg.Protocol = schemas.LiveProtocolPassthrough
	cfg.HealthCheckInterval = time.Second
	cfg.HealthSilenceThreshold = 5 * time.Second
	b, sink := newTestBridge(t, cfg, WithClock(clk))

	require.NoError(t, b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventText, `{"text":"hi"}`)))
	assert.JSONEq(t, `{"text":"hi"}`, string(up.next(t)))
	up.send(t, `{"reply":"hello"}`)
	sink.waitFor(t, schemas.LiveEventOutput, 1)

	for i := 0; i < 3; i++ {
		clk.Advance(10 * time.Second)
		time.Sleep(20 * time.Millisecond)
	}
	assert.Empty(t, sink.ofType(schemas.LiveEventHealthDegraded))
	assert.Empty(t, sink.ofType(schemas.LiveEventRoundTrip))
	assert.True(t, b.Connected())
}

func TestBridge_SetupOverrideUsedByAutoHandshake(t *testing.T) {
	up := newFakeUpstream(t, 0)
	b, sink := newTestBridge(t, testConfig(up.url()))

	require.NoError(t, b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventSetup, `{"generationConfig":{"temperature":0.3}}`)))

	setup := <-up.received
	assert.Equal(t, 0.3, gjson.GetBytes(setup, "setup.generationConfig.temperature").Float())
	assert.Len(t, sink.ofType(schemas.LiveEventSetupSent), 1)

	// A second setup on the same connection is stored but not resent.
	require.NoError(t, b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventSetup, `{"generationConfig":{"temperature":0.9}}`)))
	up.assertNothingReceived(t)
	assert.Len(t, sink.ofType(schemas.LiveEventSetupSent), 1)
}

func TestBridge_ManualHandshakeSentOnSetupEvent(t *testing.T) {
	up := newFakeUpstream(t, 0)
	cfg := testConfig(up.url())
	cfg.AutoHandshake = schemas.Ptr(false)
	b, sink := newTestBridge(t, cfg)

	require.NoError(t, b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventSetup, `{"setup":{"model":"models/custom"}}`)))

	setup := <-up.received
	assert.Equal(t, "models/custom", gjson.GetBytes(setup, "setup.model").String())
	assert.Len(t, sink.ofType(schemas.LiveEventSetupSent), 1)
}

func TestBridge_SendFailureRetriesOnce(t *testing.T) {
	up := newFakeUpstream(t, 0)
	cfg := testConfig(up.url())
	cfg.FallbackAPIKey = "key-p1"
	b, sink := newTestBridge(t, cfg)

	require.NoError(t, b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventTurnEnd, "")))
	up.next(t)

	// Break the live socket without the bridge noticing: the read loop's
	// close callback belongs to an older generation and is ignored.
	b.mu.Lock()
	b.generation++
	require.NoError(t, b.conn.conn.Close())
	b.mu.Unlock()

	require.NoError(t, b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventText, `{"text":"again"}`)))
	assert.Equal(t, "again", gjson.GetBytes(up.next(t), "clientContent.turns.0.parts.0.text").String())

	retries := sink.ofType(schemas.LiveEventForwardRetry)
	require.Len(t, retries, 1)
	assert.Equal(t, "text", retries[0].Reason)
	failovers := sink.ofType(schemas.LiveEventFailover)
	require.NotEmpty(t, failovers)
	assert.Equal(t, "fallback", failovers[len(failovers)-1].To.AuthProfile)
}

func TestBridge_ConcurrentForwardsShareOneConnect(t *testing.T) {
	up := newFakeUpstream(t, 0)
	b, _ := newTestBridge(t, testConfig(up.url()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventTurnEnd, "")))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, up.attemptCount())
}

func TestBridge_CloseIsIdempotent(t *testing.T) {
	up := newFakeUpstream(t, 0)
	b, _ := newTestBridge(t, testConfig(up.url()))

	require.NoError(t, b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventTurnEnd, "")))
	b.Close()
	b.Close()

	assert.False(t, b.Connected())
	err := b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventTurnEnd, ""))
	assert.ErrorIs(t, err, ErrBridgeClosed)
}

func TestBridge_EventsCarryCorrelationIDs(t *testing.T) {
	b, sink := newTestBridge(t, &schemas.LiveConfig{}, WithUserID("u1"))

	b.UpdateContext(ContextUpdate{RunID: schemas.Ptr("run-7")})
	require.NoError(t, b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventText, `{"text":"x"}`)))

	ev := sink.ofType(schemas.LiveEventUnavailable)[0]
	assert.Equal(t, "session-1", ev.SessionID)
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, "run-7", ev.RunID)
	assert.NotEmpty(t, ev.EventID)
	assert.NotZero(t, ev.Timestamp)
}

func TestBridge_InvalidClientEventReportsError(t *testing.T) {
	up := newFakeUpstream(t, 0)
	b, sink := newTestBridge(t, testConfig(up.url()))

	require.NoError(t, b.ForwardFromClient(context.Background(), clientEvent(schemas.ClientEventAudio, `{}`)))
	errs := sink.ofType(schemas.LiveEventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "invalid_client_event", errs[0].Reason)
	assert.Equal(t, 0, up.attemptCount())
}

func TestAdapterFor(t *testing.T) {
	a, err := AdapterFor(schemas.LiveProtocolPassthrough)
	require.NoError(t, err)
	assert.Equal(t, schemas.LiveProtocolPassthrough, a.Protocol())

	_, err = AdapterFor("carrier-pigeon")
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}
