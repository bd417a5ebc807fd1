package live

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	ws "github.com/fasthttp/websocket"
	"github.com/maximhq/bifrost-live/core/failover"
	"github.com/maximhq/bifrost-live/core/schemas"
	"github.com/tidwall/gjson"
)

const connectFlightKey = "connect"

// ensureConnected returns once an upstream connection is live. Concurrent
// callers share a single in-flight connect attempt.
func (b *Bridge) ensureConnected(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBridgeClosed
	}
	if b.conn != nil {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	_, err, _ := b.connectGroup.Do(connectFlightKey, func() (any, error) {
		return nil, b.connect(ctx)
	})
	return err
}

// ensureConnectedWithRetry retries ensureConnected with a fixed delay, failing
// over to the next candidate after every failed attempt.
func (b *Bridge) ensureConnectedWithRetry(ctx context.Context) error {
	maxAttempts := b.cfg.MaxConnectAttempts
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := b.ensureConnected(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrBridgeClosed) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err

		b.mu.Lock()
		b.logger.Warn("live session %s: connect attempt %d/%d failed: %v", b.sessionID, attempt, maxAttempts, err)
		b.recordFailureLocked(err)
		if attempt < maxAttempts {
			b.emitLocked(&schemas.LiveEvent{
				Type:        schemas.LiveEventReconnectAttempt,
				Attempt:     attempt + 1,
				MaxAttempts: maxAttempts,
				DelayMs:     schemas.Ptr(schemas.Millis(b.cfg.ConnectRetryDelay)),
				Error:       err.Error(),
			})
		}
		b.mu.Unlock()

		if attempt < maxAttempts {
			if err := b.sleep(ctx, b.cfg.ConnectRetryDelay); err != nil {
				return err
			}
		}
	}
	b.logger.Error("live session %s: upstream unreachable after %d attempts: %v", b.sessionID, maxAttempts, lastErr)
	return fmt.Errorf("%w after %d attempts: %w", ErrConnectExhausted, maxAttempts, lastErr)
}

func (b *Bridge) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-b.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connect dials the current candidate and installs the connection.
func (b *Bridge) connect(ctx context.Context) error {
	b.mu.Lock()
	if b.conn != nil {
		b.mu.Unlock()
		return nil
	}
	candidate := b.candidates.Current()
	profile := candidate.Profile.Profile
	b.mu.Unlock()

	url, err := b.adapter.ConnectURL(b.cfg.UpstreamURL, candidate.Model, &profile)
	if err != nil {
		return err
	}
	b.logger.Debug("live session %s: connecting with model %q and auth profile %q", b.sessionID, candidate.Model, profile.Name)
	conn, err := dialUpstream(ctx, b.dialer, url, b.adapter.ConnectHeaders(&profile), b.cfg.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to live upstream: %w", err)
	}
	return b.onOpen(conn, candidate)
}

// onOpen installs a freshly dialed socket, starts the watchdog, performs the
// automatic handshake and starts the read loop.
func (b *Bridge) onOpen(conn *ws.Conn, candidate failover.Candidate) error {
	uc := newUpstreamConn(conn, candidate.Model, candidate.Profile.Name(), b.cfg.ConnectTimeout)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		uc.Close()
		return ErrBridgeClosed
	}

	b.generation++
	gen := b.generation
	now := b.clock.Now()
	b.conn = uc
	b.handshakeSent = false
	b.connectedAt = now
	b.lastActivityAt = now
	b.candidates.MarkSuccess()
	b.startWatchdogLocked(gen)

	b.emitLocked(&schemas.LiveEvent{
		Type:        schemas.LiveEventConnected,
		Model:       uc.Model(),
		AuthProfile: uc.AuthProfile(),
	})
	b.logger.Info("live session %s: connected with model %q and auth profile %q", b.sessionID, uc.Model(), uc.AuthProfile())

	if b.adapter.RequiresHandshake() && b.cfg.AutoHandshakeEnabled() {
		if err := b.sendSetupLocked(); err != nil {
			b.dropConnectionLocked()
			return fmt.Errorf("failed to send setup frame: %w", err)
		}
	}

	go b.readLoop(uc, gen)
	return nil
}

func (b *Bridge) readLoop(uc *UpstreamConn, gen uint64) {
	for {
		_, data, err := uc.ReadMessage()
		if err != nil {
			b.handleClose(uc, gen, err)
			return
		}
		b.handleMessage(gen, data)
	}
}

// handleMessage processes one upstream frame in receipt order.
func (b *Bridge) handleMessage(gen uint64, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.generation || b.conn == nil {
		return
	}

	now := b.clock.Now()
	b.lastActivityAt = now
	if b.degraded {
		b.degraded = false
		b.emitLocked(&schemas.LiveEvent{
			Type:        schemas.LiveEventHealthRecovered,
			Model:       b.conn.Model(),
			AuthProfile: b.conn.AuthProfile(),
		})
		b.logger.Info("live session %s: upstream recovered", b.sessionID)
	}

	frame := b.adapter.DecodeUpstreamFrame(data)
	b.emitLocked(outputEvent(frame))

	out := frame.Output
	if out == nil {
		return
	}
	if out.Interrupted {
		hadOutput := b.turn.hasOutput()
		for _, ev := range b.interrupt.acknowledge(now, hadOutput) {
			b.emitLocked(ev)
		}
		b.turn.reset()
		return
	}
	for _, ev := range b.turn.observe(out, now) {
		b.emitLocked(ev)
	}
}

// outputEvent re-emits an upstream frame. Valid JSON travels as raw JSON;
// anything else as text, base64 encoded when it is not valid UTF-8.
func outputEvent(frame *schemas.UpstreamFrame) *schemas.LiveEvent {
	ev := &schemas.LiveEvent{
		Type:      schemas.LiveEventOutput,
		FrameKind: frame.Kind,
		Output:    frame.Output,
	}
	switch {
	case gjson.ValidBytes(frame.Raw):
		ev.Raw = append([]byte(nil), frame.Raw...)
	case utf8.Valid(frame.Raw):
		ev.RawText = string(frame.Raw)
	default:
		ev.RawText = base64.StdEncoding.EncodeToString(frame.Raw)
	}
	return ev
}

// handleClose runs when the read loop ends. Sockets that were already reset
// are ignored.
func (b *Bridge) handleClose(uc *UpstreamConn, gen uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.generation || b.conn != uc {
		return
	}
	b.dropConnectionLocked()

	var closeErr *ws.CloseError
	if errors.As(err, &closeErr) {
		b.emitLocked(&schemas.LiveEvent{
			Type:        schemas.LiveEventClosed,
			Model:       uc.Model(),
			AuthProfile: uc.AuthProfile(),
			CloseCode:   closeErr.Code,
			Reason:      closeErr.Text,
		})
		b.logger.Info("live session %s: upstream closed with code %d", b.sessionID, closeErr.Code)
		return
	}
	b.emitLocked(&schemas.LiveEvent{
		Type:        schemas.LiveEventError,
		Model:       uc.Model(),
		AuthProfile: uc.AuthProfile(),
		Reason:      "upstream_read_failed",
		Error:       err.Error(),
	})
	b.logger.Warn("live session %s: upstream read failed: %v", b.sessionID, err)
}

// recordFailureLocked marks the current auth profile failed and rotates to the
// next candidate, reporting both steps.
func (b *Bridge) recordFailureLocked(cause error) {
	current := b.candidates.Current()
	state := b.candidates.MarkFailure(cause.Error())
	b.emitLocked(&schemas.LiveEvent{
		Type:         schemas.LiveEventAuthProfileFailed,
		Model:        current.Model,
		AuthProfile:  state.Name(),
		FailureCount: state.FailureCount,
		CooldownMs:   schemas.Ptr(schemas.Millis(state.CooldownUntil.Sub(b.clock.Now()))),
		Error:        cause.Error(),
	})

	rotation := b.candidates.Rotate(cause.Error())
	b.emitLocked(&schemas.LiveEvent{
		Type:   schemas.LiveEventFailover,
		From:   rotation.From.Live(),
		To:     rotation.To.Live(),
		Reason: rotation.Reason,
	})
	b.logger.Warn("live session %s: failing over from %s/%s to %s/%s",
		b.sessionID, rotation.From.Model, rotation.From.Profile.Name(), rotation.To.Model, rotation.To.Profile.Name())
}

// dropConnectionLocked forgets the current socket and closes it. Turn state is kept.
func (b *Bridge) dropConnectionLocked() {
	b.stopWatchdogLocked()
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.conn = nil
	b.handshakeSent = false
	b.generation++
}

// resetConnectionLocked drops the socket and abandons any turn or interrupt.
func (b *Bridge) resetConnectionLocked() {
	b.dropConnectionLocked()
	b.turn.reset()
	b.interrupt.reset()
}

func (b *Bridge) startWatchdogLocked(gen uint64) {
	b.stopWatchdogLocked()
	b.watchdog = startWatchdog(b.clock, b.cfg.HealthCheckInterval, func() {
		b.healthTick(gen)
	})
}

func (b *Bridge) stopWatchdogLocked() {
	if b.watchdog != nil {
		b.watchdog.stop()
		b.watchdog = nil
	}
}

// healthTick force-resets a connection that has gone silent while a turn,
// round trip or interrupt is waiting on it.
func (b *Bridge) healthTick(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.generation || b.conn == nil {
		return
	}

	hung, silence := healthSnapshot{
		connected:      true,
		pendingFlow:    b.adapter.NormalizesOutput() && (b.turn.inProgress() || b.interrupt.pending()),
		connectedAt:    b.connectedAt,
		lastActivityAt: b.lastActivityAt,
		now:            b.clock.Now(),
		threshold:      b.cfg.HealthSilenceThreshold,
		grace:          b.cfg.HealthProbeGrace,
	}.silentTooLong()
	if !hung {
		return
	}

	if !b.degraded {
		b.degraded = true
		b.emitLocked(&schemas.LiveEvent{
			Type:        schemas.LiveEventHealthDegraded,
			Reason:      "upstream_silence",
			SilenceMs:   schemas.Ptr(schemas.Millis(silence)),
			Model:       b.conn.Model(),
			AuthProfile: b.conn.AuthProfile(),
		})
	}
	b.logger.Warn("live session %s: no upstream activity for %s, resetting connection", b.sessionID, silence)
	b.resetConnectionLocked()
}
