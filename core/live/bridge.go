// Package live bridges one client realtime session to an upstream live
// multimodal API.
//
// A Bridge owns at most one upstream WebSocket at a time. It connects lazily on
// the first forwarded event, walks a failover candidate set when connects or
// sends fail, and reports everything it does as schemas.LiveEvent values on an
// EventSink. Connection, turn, interrupt and health state live behind a single
// mutex shared by the caller, the upstream read loop and the health watchdog.
package live

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ws "github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/maximhq/bifrost-live/core/clock"
	"github.com/maximhq/bifrost-live/core/failover"
	"github.com/maximhq/bifrost-live/core/providers/gemini"
	"github.com/maximhq/bifrost-live/core/providers/passthrough"
	"github.com/maximhq/bifrost-live/core/schemas"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

// Bridge is the per-session link between a client and the live upstream.
type Bridge struct {
	cfg       schemas.LiveConfig
	adapter   schemas.LiveProtocolAdapter
	clock     clock.Clock
	logger    schemas.Logger
	sink      EventSink
	dialer    *ws.Dialer
	sessionID string

	connectGroup singleflight.Group

	mu             sync.Mutex
	userID         string
	runID          string
	candidates     *failover.CandidateSet
	conn           *UpstreamConn
	generation     uint64
	handshakeSent  bool
	connectedAt    time.Time
	lastActivityAt time.Time
	setupOverride  []byte
	turn           turnState
	interrupt      interruptState
	degraded       bool
	watchdog       *watchdog
	closed         bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.Clock) Option {
	return func(b *Bridge) { b.clock = clk }
}

// WithLogger sets the bridge logger. Defaults to a no-op logger.
func WithLogger(logger schemas.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithSink sets where events are delivered. Without one events are discarded.
func WithSink(sink EventSink) Option {
	return func(b *Bridge) { b.sink = sink }
}

// WithSessionID sets the session id stamped on every event. Defaults to a UUID.
func WithSessionID(id string) Option {
	return func(b *Bridge) { b.sessionID = id }
}

// WithUserID sets the initial user id stamped on events.
func WithUserID(id string) Option {
	return func(b *Bridge) { b.userID = id }
}

// WithRunID sets the initial run id stamped on events.
func WithRunID(id string) Option {
	return func(b *Bridge) { b.runID = id }
}

// WithDialer overrides the WebSocket dialer used for upstream connections.
func WithDialer(dialer *ws.Dialer) Option {
	return func(b *Bridge) { b.dialer = dialer }
}

// ContextUpdate changes the correlation ids stamped on future events. Nil
// fields are left alone; an empty RunID clears the active run.
type ContextUpdate struct {
	UserID *string
	RunID  *string
}

// AdapterFor returns the protocol adapter for a configured protocol.
func AdapterFor(protocol schemas.LiveProtocol) (schemas.LiveProtocolAdapter, error) {
	switch protocol {
	case schemas.LiveProtocolGemini, "":
		return gemini.NewLiveAdapter(), nil
	case schemas.LiveProtocolPassthrough:
		return passthrough.NewLiveAdapter(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, protocol)
}

// New creates a bridge for one session. The config is copied and defaulted; a
// nil adapter selects one from cfg.Protocol. Each bridge gets its own failover
// state seeded from the configured models and auth profiles.
func New(cfg *schemas.LiveConfig, adapter schemas.LiveProtocolAdapter, opts ...Option) (*Bridge, error) {
	if cfg == nil {
		cfg = &schemas.LiveConfig{}
	}
	b := &Bridge{cfg: *cfg}
	b.cfg.CheckAndSetDefaults()

	if adapter == nil {
		var err error
		if adapter, err = AdapterFor(b.cfg.Protocol); err != nil {
			return nil, err
		}
	}
	b.adapter = adapter

	for _, opt := range opts {
		opt(b)
	}
	if b.clock == nil {
		b.clock = clock.Real()
	}
	if b.logger == nil {
		b.logger = schemas.NoOpLogger{}
	}
	if b.sink == nil {
		b.sink = discardSink
	}
	if b.dialer == nil {
		b.dialer = &ws.Dialer{HandshakeTimeout: b.cfg.ConnectTimeout}
	}
	if b.sessionID == "" {
		b.sessionID = uuid.NewString()
	}

	profiles, err := failover.BuildAuthProfiles(&b.cfg)
	if err != nil {
		return nil, err
	}
	b.candidates = failover.NewCandidateSet(b.cfg.Models(), profiles, b.cfg.FailoverCooldown, b.clock)
	return b, nil
}

// SessionID returns the id stamped on this bridge's events.
func (b *Bridge) SessionID() string {
	return b.sessionID
}

// IsConfigured reports whether the bridge is enabled and has an upstream target.
func (b *Bridge) IsConfigured() bool {
	return b.cfg.Enabled && strings.TrimSpace(b.cfg.UpstreamURL) != ""
}

// UpdateContext changes the user and run ids stamped on future events.
func (b *Bridge) UpdateContext(update ContextUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if update.UserID != nil {
		b.userID = *update.UserID
	}
	if update.RunID != nil {
		b.runID = *update.RunID
	}
}

// Connected reports whether an upstream connection is currently live.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// ForwardFromClient translates one client event and sends it upstream,
// connecting first if needed. Problems are reported as events; an error is
// returned only when the bridge is closed, the context ends, or the upstream
// stays unreachable after every retry.
func (b *Bridge) ForwardFromClient(ctx context.Context, event *schemas.ClientEvent) error {
	if !b.IsConfigured() {
		reason := "live bridge disabled"
		if b.cfg.Enabled {
			reason = "no upstream url configured"
		}
		b.emit(&schemas.LiveEvent{Type: schemas.LiveEventUnavailable, Reason: reason})
		return nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBridgeClosed
	}
	if event.UserID != "" {
		b.userID = event.UserID
	}
	if event.RunID != "" {
		b.runID = event.RunID
	}
	b.mu.Unlock()

	if event.Type == schemas.ClientEventSetup {
		return b.forwardSetup(ctx, event)
	}

	modality, isModal := event.Modality()
	if modality == schemas.ModalityAudio || modality == schemas.ModalityVideo {
		if verdict := checkStaleChunk(event.Payload, b.clock.Now(), b.cfg.MaxStaleChunkAge); verdict.Drop {
			b.emit(&schemas.LiveEvent{
				Type:        schemas.LiveEventChunkDropped,
				Modality:    modality,
				AgeMs:       schemas.Ptr(schemas.Millis(verdict.Age)),
				ThresholdMs: schemas.Ptr(schemas.Millis(b.cfg.MaxStaleChunkAge)),
			})
			return nil
		}
	}

	frame, err := b.adapter.EncodeClientEvent(event, schemas.MediaDefaults{
		AudioMimeType: b.cfg.AudioMimeType,
		VideoMimeType: b.cfg.VideoMimeType,
	})
	if err != nil {
		b.emit(&schemas.LiveEvent{Type: schemas.LiveEventError, Reason: "invalid_client_event", Error: err.Error()})
		return nil
	}

	if err := b.ensureConnectedWithRetry(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	now := b.clock.Now()
	var requested *schemas.LiveEvent
	switch {
	case isModal && b.adapter.NormalizesOutput():
		if b.turn.markClientTurnStart(modality, now) {
			b.interrupt.reset()
		}
	case event.Type == schemas.ClientEventInterrupt:
		requested = b.interrupt.request(gjson.GetBytes(event.Payload, "reason").String(), now)
	}
	err = b.sendLocked(frame)
	if err == nil && requested != nil {
		b.emitLocked(requested)
	}
	b.mu.Unlock()
	if err == nil {
		return nil
	}

	return b.retrySend(ctx, event, frame, requested, err)
}

// retrySend fails over once after a send on a believed-live connection failed.
func (b *Bridge) retrySend(ctx context.Context, event *schemas.ClientEvent, frame []byte, requested *schemas.LiveEvent, sendErr error) error {
	b.mu.Lock()
	b.logger.Warn("live session %s: send of %s event failed, failing over: %v", b.sessionID, event.Type, sendErr)
	b.emitLocked(&schemas.LiveEvent{
		Type:   schemas.LiveEventForwardRetry,
		Reason: string(event.Type),
		Error:  sendErr.Error(),
	})
	b.recordFailureLocked(sendErr)
	b.dropConnectionLocked()
	b.mu.Unlock()

	if err := b.ensureConnectedWithRetry(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.sendLocked(frame); err != nil {
		b.emitLocked(&schemas.LiveEvent{Type: schemas.LiveEventError, Reason: "send_failed", Error: err.Error()})
		return fmt.Errorf("failed to forward %s event: %w", event.Type, err)
	}
	if requested != nil {
		b.emitLocked(requested)
	}
	return nil
}

// forwardSetup stores the handshake override and sends the setup frame unless
// the current connection already performed its handshake.
func (b *Bridge) forwardSetup(ctx context.Context, event *schemas.ClientEvent) error {
	b.mu.Lock()
	b.setupOverride = append([]byte(nil), event.Payload...)
	b.mu.Unlock()

	if err := b.ensureConnectedWithRetry(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil || b.handshakeSent {
		return nil
	}
	if err := b.sendSetupLocked(); err != nil {
		b.emitLocked(&schemas.LiveEvent{Type: schemas.LiveEventError, Reason: "setup_failed", Error: err.Error()})
	}
	return nil
}

// Close tears down the upstream connection and clears session state. It is
// safe to call more than once.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.resetConnectionLocked()
	b.logger.Debug("live session %s: bridge closed", b.sessionID)
}

func (b *Bridge) sendLocked(frame []byte) error {
	if b.conn == nil {
		return ErrNotConnected
	}
	return b.conn.WriteMessage(ws.TextMessage, frame)
}

func (b *Bridge) setupOptions() schemas.SetupOptions {
	return schemas.SetupOptions{
		Model:               b.candidates.Current().Model,
		VoiceName:           b.cfg.VoiceName,
		SystemInstruction:   b.cfg.SystemInstruction,
		ActivityHandling:    b.cfg.ActivityHandling,
		InputTranscription:  b.cfg.InputTranscription,
		OutputTranscription: b.cfg.OutputTranscription,
		Override:            b.setupOverride,
	}
}

// sendSetupLocked sends the handshake on the current connection. Adapters
// that have nothing to send leave the handshake unsent.
func (b *Bridge) sendSetupLocked() error {
	frame, err := b.adapter.BuildSetupFrame(b.setupOptions())
	if err != nil {
		return err
	}
	if len(frame) == 0 {
		return nil
	}
	if err := b.sendLocked(frame); err != nil {
		return err
	}
	b.handshakeSent = true
	b.emitLocked(&schemas.LiveEvent{
		Type:        schemas.LiveEventSetupSent,
		Model:       b.conn.Model(),
		AuthProfile: b.conn.AuthProfile(),
	})
	return nil
}

func (b *Bridge) emit(event *schemas.LiveEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emitLocked(event)
}

// emitLocked stamps correlation ids and a timestamp and hands the event to the sink.
func (b *Bridge) emitLocked(event *schemas.LiveEvent) {
	event.EventID = uuid.NewString()
	event.SessionID = b.sessionID
	event.UserID = b.userID
	event.RunID = b.runID
	event.Timestamp = schemas.UnixMillis(b.clock.Now())
	b.sink.Emit(event)
}
