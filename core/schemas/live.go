package schemas

import "encoding/json"

// Modality identifies the kind of client input that opened a turn.
type Modality string

const (
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"
	ModalityText  Modality = "text"
)

// ClientEventType is the type of an event sent by a client into a live session.
type ClientEventType string

// Client-to-bridge event types
const (
	ClientEventSetup     ClientEventType = "setup"
	ClientEventAudio     ClientEventType = "audio"
	ClientEventVideo     ClientEventType = "video"
	ClientEventText      ClientEventType = "text"
	ClientEventTurnEnd   ClientEventType = "turn_end"
	ClientEventInterrupt ClientEventType = "interrupt"
)

// ClientEvent is one demultiplexed event from a client session. Payload is
// protocol-specific and kept raw so that passthrough sessions forward it untouched.
//
// Structured payload shapes:
//   - setup: an arbitrary JSON object merged into the upstream handshake
//   - audio/video: {"data": "<base64>", "mimeType": "...", "clientSentAt": <ms>}
//   - text: {"text": "..."}
//   - interrupt: {"reason": "..."}
type ClientEvent struct {
	Type      ClientEventType `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	RunID     string          `json:"run_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Modality returns the modality carried by media and text events.
func (e *ClientEvent) Modality() (Modality, bool) {
	switch e.Type {
	case ClientEventAudio:
		return ModalityAudio, true
	case ClientEventVideo:
		return ModalityVideo, true
	case ClientEventText:
		return ModalityText, true
	}
	return "", false
}

// LiveEventType is the type of a diagnostic or result event produced by a bridge.
type LiveEventType string

// Bridge-to-client event types
const (
	LiveEventConnected          LiveEventType = "connected"
	LiveEventClosed             LiveEventType = "closed"
	LiveEventError              LiveEventType = "error"
	LiveEventSetupSent          LiveEventType = "setup_sent"
	LiveEventAuthProfileFailed  LiveEventType = "auth_profile_failed"
	LiveEventFailover           LiveEventType = "failover"
	LiveEventReconnectAttempt   LiveEventType = "reconnect_attempt"
	LiveEventForwardRetry       LiveEventType = "forward_retry"
	LiveEventHealthDegraded     LiveEventType = "health_degraded"
	LiveEventHealthRecovered    LiveEventType = "health_recovered"
	LiveEventChunkDropped       LiveEventType = "chunk_dropped"
	LiveEventOutput             LiveEventType = "output"
	LiveEventInterruptRequested LiveEventType = "interrupt.requested"
	LiveEventInterrupted        LiveEventType = "interrupted"
	LiveEventTurnCompleted      LiveEventType = "turn.completed"
	LiveEventRoundTrip          LiveEventType = "metrics.round_trip"
	LiveEventInterruptLatency   LiveEventType = "metrics.interrupt_latency"
	LiveEventUnavailable        LiveEventType = "unavailable"
)

// LiveCandidate names one (model, auth profile) failover combination.
type LiveCandidate struct {
	Model       string `json:"model"`
	AuthProfile string `json:"auth_profile"`
}

// LiveEvent is the envelope for everything a bridge reports. Only the fields
// relevant to Type are populated.
type LiveEvent struct {
	Type      LiveEventType `json:"type"`
	EventID   string        `json:"event_id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	RunID     string        `json:"run_id,omitempty"`
	UserID    string        `json:"user_id,omitempty"`
	Timestamp int64         `json:"timestamp"` // unix millis

	Model       string         `json:"model,omitempty"`
	AuthProfile string         `json:"auth_profile,omitempty"`
	From        *LiveCandidate `json:"from,omitempty"`
	To          *LiveCandidate `json:"to,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Error       string         `json:"error,omitempty"`

	Attempt     int    `json:"attempt,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	DelayMs     *int64 `json:"delay_ms,omitempty"`

	FailureCount int    `json:"failure_count,omitempty"`
	CooldownMs   *int64 `json:"cooldown_ms,omitempty"`

	CloseCode int    `json:"close_code,omitempty"`
	SilenceMs *int64 `json:"silence_ms,omitempty"`

	Modality    Modality `json:"modality,omitempty"`
	AgeMs       *int64   `json:"age_ms,omitempty"`
	ThresholdMs *int64   `json:"threshold_ms,omitempty"`

	RoundTripMs    *int64  `json:"round_trip_ms,omitempty"`
	LatencyMs      *int64  `json:"latency_ms,omitempty"`
	TurnDurationMs *int64  `json:"turn_duration_ms,omitempty"`
	Text           *string `json:"text,omitempty"`
	TextChars      *int    `json:"text_chars,omitempty"`
	HadOutput      *bool   `json:"had_output,omitempty"`

	FrameKind UpstreamFrameKind `json:"frame_kind,omitempty"`
	Output    *NormalizedOutput `json:"output,omitempty"`
	Raw       json.RawMessage   `json:"raw,omitempty"`      // valid JSON frames only
	RawText   string            `json:"raw_text,omitempty"` // frames that failed to parse
}

// NormalizedOutput is the protocol-agnostic view of one upstream frame.
type NormalizedOutput struct {
	Text         string `json:"text,omitempty"`
	AudioBase64  string `json:"audio_base64,omitempty"`
	Interrupted  bool   `json:"interrupted,omitempty"`
	TurnComplete bool   `json:"turn_complete,omitempty"`
}

// HasSignal reports whether the output carries anything the aggregators act on.
func (o *NormalizedOutput) HasSignal() bool {
	if o == nil {
		return false
	}
	return o.Text != "" || o.AudioBase64 != "" || o.Interrupted || o.TurnComplete
}

// HasContent reports whether the output carries observable assistant text or audio.
func (o *NormalizedOutput) HasContent() bool {
	return o != nil && (o.Text != "" || o.AudioBase64 != "")
}

// UpstreamFrameKind is the closed set of variants an upstream frame decodes into.
type UpstreamFrameKind string

const (
	UpstreamFrameStructured  UpstreamFrameKind = "structured"
	UpstreamFramePassthrough UpstreamFrameKind = "passthrough"
	UpstreamFrameUnparseable UpstreamFrameKind = "unparseable"
)

// UpstreamFrame is a decoded upstream message. Output is nil when the frame
// carried no signal.
type UpstreamFrame struct {
	Kind   UpstreamFrameKind
	Raw    []byte
	Output *NormalizedOutput
}
