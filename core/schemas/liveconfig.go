package schemas

import (
	"strings"
	"time"
)

// LiveProtocol selects how a bridge translates between client events and upstream frames.
type LiveProtocol string

const (
	LiveProtocolGemini      LiveProtocol = "gemini"
	LiveProtocolPassthrough LiveProtocol = "passthrough"
)

// AuthProfileConfig is one configured credential for the upstream peer.
type AuthProfileConfig struct {
	Name    string            `json:"name,omitempty" yaml:"name,omitempty"`
	APIKey  string            `json:"apiKey,omitempty" yaml:"api_key,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// LiveConfig configures the realtime session bridge. Durations accept Go
// duration strings ("2.5s") in YAML.
type LiveConfig struct {
	Enabled     bool         `json:"enabled" yaml:"enabled"`
	UpstreamURL string       `json:"upstream_url" yaml:"upstream_url"`
	Protocol    LiveProtocol `json:"protocol" yaml:"protocol"`

	Model          string   `json:"model" yaml:"model"`
	FallbackModels []string `json:"fallback_models,omitempty" yaml:"fallback_models,omitempty"`

	APIKey           string              `json:"-" yaml:"api_key,omitempty"`
	FallbackAPIKey   string              `json:"-" yaml:"fallback_api_key,omitempty"`
	AuthProfilesJSON string              `json:"-" yaml:"auth_profiles_json,omitempty"`
	AuthProfiles     []AuthProfileConfig `json:"-" yaml:"auth_profiles,omitempty"`

	AudioMimeType string `json:"audio_mime_type" yaml:"audio_mime_type"`
	VideoMimeType string `json:"video_mime_type" yaml:"video_mime_type"`

	AutoHandshake       *bool  `json:"auto_handshake,omitempty" yaml:"auto_handshake,omitempty"`
	VoiceName           string `json:"voice_name" yaml:"voice_name"`
	SystemInstruction   string `json:"system_instruction,omitempty" yaml:"system_instruction,omitempty"`
	ActivityHandling    string `json:"activity_handling" yaml:"activity_handling"`
	InputTranscription  bool   `json:"input_transcription" yaml:"input_transcription"`
	OutputTranscription bool   `json:"output_transcription" yaml:"output_transcription"`

	ConnectTimeout     time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	ConnectRetryDelay  time.Duration `json:"connect_retry_delay" yaml:"connect_retry_delay"`
	MaxConnectAttempts int           `json:"max_connect_attempts" yaml:"max_connect_attempts"`
	FailoverCooldown   time.Duration `json:"failover_cooldown" yaml:"failover_cooldown"`

	HealthCheckInterval    time.Duration `json:"health_check_interval" yaml:"health_check_interval"`
	HealthSilenceThreshold time.Duration `json:"health_silence_threshold" yaml:"health_silence_threshold"`
	HealthProbeGrace       time.Duration `json:"health_probe_grace" yaml:"health_probe_grace"`

	// MaxStaleChunkAge defaults when zero; a negative value disables stale
	// chunk dropping.
	MaxStaleChunkAge time.Duration `json:"max_stale_chunk_age" yaml:"max_stale_chunk_age"`
}

// Default live bridge configuration values
const (
	DefaultLiveGeminiURL              = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultLiveModel                  = "gemini-2.0-flash-live-001"
	DefaultLiveAudioMimeType          = "audio/pcm;rate=16000"
	DefaultLiveVideoMimeType          = "image/jpeg"
	DefaultLiveVoiceName              = "Puck"
	DefaultLiveActivityHandling       = "START_OF_ACTIVITY_INTERRUPTS"
	DefaultLiveConnectTimeout         = 10 * time.Second
	DefaultLiveConnectRetryDelay      = 500 * time.Millisecond
	DefaultLiveMaxConnectAttempts     = 4
	DefaultLiveFailoverCooldown       = 60 * time.Second
	DefaultLiveHealthCheckInterval    = 2 * time.Second
	DefaultLiveHealthSilenceThreshold = 15 * time.Second
	DefaultLiveHealthProbeGrace       = 3 * time.Second
	DefaultLiveMaxStaleChunkAge       = 2500 * time.Millisecond

	// MinLiveHealthCheckInterval is the floor applied to HealthCheckInterval.
	MinLiveHealthCheckInterval = 100 * time.Millisecond
)

// CheckAndSetDefaults fills in default values for LiveConfig.
func (c *LiveConfig) CheckAndSetDefaults() {
	if c.Protocol == "" {
		c.Protocol = LiveProtocolGemini
	}
	c.Protocol = LiveProtocol(strings.ToLower(string(c.Protocol)))
	if c.Model == "" && c.Protocol == LiveProtocolGemini {
		c.Model = DefaultLiveModel
	}
	if c.AudioMimeType == "" {
		c.AudioMimeType = DefaultLiveAudioMimeType
	}
	if c.VideoMimeType == "" {
		c.VideoMimeType = DefaultLiveVideoMimeType
	}
	if c.AutoHandshake == nil {
		c.AutoHandshake = Ptr(true)
	}
	if c.VoiceName == "" {
		c.VoiceName = DefaultLiveVoiceName
	}
	if c.ActivityHandling == "" {
		c.ActivityHandling = DefaultLiveActivityHandling
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultLiveConnectTimeout
	}
	if c.ConnectRetryDelay < 0 {
		c.ConnectRetryDelay = 0
	}
	if c.MaxConnectAttempts <= 0 {
		c.MaxConnectAttempts = DefaultLiveMaxConnectAttempts
	}
	if c.FailoverCooldown <= 0 {
		c.FailoverCooldown = DefaultLiveFailoverCooldown
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = DefaultLiveHealthCheckInterval
	}
	if c.HealthCheckInterval < MinLiveHealthCheckInterval {
		c.HealthCheckInterval = MinLiveHealthCheckInterval
	}
	if c.HealthSilenceThreshold <= 0 {
		c.HealthSilenceThreshold = DefaultLiveHealthSilenceThreshold
	}
	if c.HealthProbeGrace < 0 {
		c.HealthProbeGrace = 0
	}
	if c.MaxStaleChunkAge == 0 {
		c.MaxStaleChunkAge = DefaultLiveMaxStaleChunkAge
	}
}

// Models returns the primary model followed by its fallbacks, deduplicated.
func (c *LiveConfig) Models() []string {
	return DedupeStrings(append([]string{c.Model}, c.FallbackModels...))
}

// AutoHandshakeEnabled reports whether the setup frame is sent on open.
func (c *LiveConfig) AutoHandshakeEnabled() bool {
	return c.AutoHandshake == nil || *c.AutoHandshake
}

// SetupOptions carries the handshake inputs a protocol adapter needs.
type SetupOptions struct {
	Model               string
	VoiceName           string
	SystemInstruction   string
	ActivityHandling    string
	InputTranscription  bool
	OutputTranscription bool
	// Override is a caller-supplied JSON object merged over the generated frame.
	Override []byte
}

// MediaDefaults carries fallback MIME types for media chunks without one.
type MediaDefaults struct {
	AudioMimeType string
	VideoMimeType string
}

// LiveProtocolAdapter translates between the bridge's event vocabulary and one
// upstream wire protocol. Implementations are pure transforms with no I/O.
type LiveProtocolAdapter interface {
	Protocol() LiveProtocol
	RequiresHandshake() bool
	// NormalizesOutput reports whether decoded frames carry turn and interrupt
	// signals. Adapters that cannot see them opt out of turn tracking.
	NormalizesOutput() bool
	ConnectURL(baseURL, model string, profile *AuthProfileConfig) (string, error)
	ConnectHeaders(profile *AuthProfileConfig) map[string]string
	BuildSetupFrame(opts SetupOptions) ([]byte, error)
	EncodeClientEvent(event *ClientEvent, defaults MediaDefaults) ([]byte, error)
	DecodeUpstreamFrame(raw []byte) *UpstreamFrame
}
