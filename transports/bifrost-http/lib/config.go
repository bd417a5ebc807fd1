package lib

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maximhq/bifrost-live/core/schemas"
	"gopkg.in/yaml.v3"
)

// EnvOverridePrefix prefixes environment variables that override file config.
const EnvOverridePrefix = "BIFROST_LIVE_"

// Default server values
const (
	DefaultMaxSessions     = 1000
	DefaultEventBufferSize = 256
)

// ServerConfig configures the client-facing side of the service.
type ServerConfig struct {
	// MaxSessions caps concurrent client sessions. Zero means unlimited.
	MaxSessions     int      `yaml:"max_sessions"`
	AllowedOrigins  []string `yaml:"allowed_origins,omitempty"`
	EventBufferSize int      `yaml:"event_buffer_size"`
}

// Config is the on-disk configuration of the live service.
type Config struct {
	Server ServerConfig       `yaml:"server"`
	Live   schemas.LiveConfig `yaml:"live"`
}

func newConfig() *Config {
	return &Config{
		Server: ServerConfig{
			MaxSessions:     DefaultMaxSessions,
			EventBufferSize: DefaultEventBufferSize,
		},
		Live: schemas.LiveConfig{
			HealthProbeGrace: schemas.DefaultLiveHealthProbeGrace,
		},
	}
}

// LoadConfig reads the YAML config at path, resolves env.VAR references,
// applies BIFROST_LIVE_* overrides and fills defaults. An empty path yields
// the defaults plus environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := newConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		logger.Info("loaded config from %s", path)
	}

	resolveEnvReferences(&cfg.Live)
	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if cfg.Server.MaxSessions < 0 {
		cfg.Server.MaxSessions = 0
	}
	if cfg.Server.EventBufferSize <= 0 {
		cfg.Server.EventBufferSize = DefaultEventBufferSize
	}
	cfg.Live.CheckAndSetDefaults()
	return cfg, nil
}

// resolveEnv replaces an "env.NAME" value with the contents of NAME.
func resolveEnv(value string) string {
	if !strings.HasPrefix(value, "env.") {
		return value
	}
	envKey := strings.TrimPrefix(value, "env.")
	envValue := os.Getenv(envKey)
	if envValue == "" {
		logger.Warn("environment variable %s is not set", envKey)
	}
	return envValue
}

func resolveEnvReferences(live *schemas.LiveConfig) {
	live.UpstreamURL = resolveEnv(live.UpstreamURL)
	live.APIKey = resolveEnv(live.APIKey)
	live.FallbackAPIKey = resolveEnv(live.FallbackAPIKey)
	live.AuthProfilesJSON = resolveEnv(live.AuthProfilesJSON)
	for i := range live.AuthProfiles {
		live.AuthProfiles[i].APIKey = resolveEnv(live.AuthProfiles[i].APIKey)
		for k, v := range live.AuthProfiles[i].Headers {
			live.AuthProfiles[i].Headers[k] = resolveEnv(v)
		}
	}
}

type envOverride struct {
	name  string
	apply func(cfg *Config, value string) error
}

func stringOverride(name string, field func(cfg *Config) *string) envOverride {
	return envOverride{name: name, apply: func(cfg *Config, value string) error {
		*field(cfg) = value
		return nil
	}}
}

func boolOverride(name string, set func(cfg *Config, v bool)) envOverride {
	return envOverride{name: name, apply: func(cfg *Config, value string) error {
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		set(cfg, v)
		return nil
	}}
}

func intOverride(name string, field func(cfg *Config) *int) envOverride {
	return envOverride{name: name, apply: func(cfg *Config, value string) error {
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		*field(cfg) = v
		return nil
	}}
}

// durationOverride accepts Go duration strings or a bare number of milliseconds.
func durationOverride(name string, field func(cfg *Config) *time.Duration) envOverride {
	return envOverride{name: name, apply: func(cfg *Config, value string) error {
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
			*field(cfg) = time.Duration(ms) * time.Millisecond
			return nil
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*field(cfg) = d
		return nil
	}}
}

var envOverrides = []envOverride{
	boolOverride("ENABLED", func(cfg *Config, v bool) { cfg.Live.Enabled = v }),
	stringOverride("UPSTREAM_URL", func(cfg *Config) *string { return &cfg.Live.UpstreamURL }),
	{name: "PROTOCOL", apply: func(cfg *Config, value string) error {
		cfg.Live.Protocol = schemas.LiveProtocol(value)
		return nil
	}},
	stringOverride("MODEL", func(cfg *Config) *string { return &cfg.Live.Model }),
	{name: "FALLBACK_MODELS", apply: func(cfg *Config, value string) error {
		cfg.Live.FallbackModels = schemas.DedupeStrings(strings.Split(value, ","))
		return nil
	}},
	stringOverride("API_KEY", func(cfg *Config) *string { return &cfg.Live.APIKey }),
	stringOverride("FALLBACK_API_KEY", func(cfg *Config) *string { return &cfg.Live.FallbackAPIKey }),
	stringOverride("AUTH_PROFILES_JSON", func(cfg *Config) *string { return &cfg.Live.AuthProfilesJSON }),
	stringOverride("AUDIO_MIME_TYPE", func(cfg *Config) *string { return &cfg.Live.AudioMimeType }),
	stringOverride("VIDEO_MIME_TYPE", func(cfg *Config) *string { return &cfg.Live.VideoMimeType }),
	boolOverride("AUTO_HANDSHAKE", func(cfg *Config, v bool) { cfg.Live.AutoHandshake = schemas.Ptr(v) }),
	stringOverride("VOICE_NAME", func(cfg *Config) *string { return &cfg.Live.VoiceName }),
	stringOverride("SYSTEM_INSTRUCTION", func(cfg *Config) *string { return &cfg.Live.SystemInstruction }),
	stringOverride("ACTIVITY_HANDLING", func(cfg *Config) *string { return &cfg.Live.ActivityHandling }),
	boolOverride("INPUT_TRANSCRIPTION", func(cfg *Config, v bool) { cfg.Live.InputTranscription = v }),
	boolOverride("OUTPUT_TRANSCRIPTION", func(cfg *Config, v bool) { cfg.Live.OutputTranscription = v }),
	durationOverride("CONNECT_TIMEOUT", func(cfg *Config) *time.Duration { return &cfg.Live.ConnectTimeout }),
	durationOverride("CONNECT_RETRY_DELAY", func(cfg *Config) *time.Duration { return &cfg.Live.ConnectRetryDelay }),
	intOverride("MAX_CONNECT_ATTEMPTS", func(cfg *Config) *int { return &cfg.Live.MaxConnectAttempts }),
	durationOverride("FAILOVER_COOLDOWN", func(cfg *Config) *time.Duration { return &cfg.Live.FailoverCooldown }),
	durationOverride("HEALTH_CHECK_INTERVAL", func(cfg *Config) *time.Duration { return &cfg.Live.HealthCheckInterval }),
	durationOverride("HEALTH_SILENCE_THRESHOLD", func(cfg *Config) *time.Duration { return &cfg.Live.HealthSilenceThreshold }),
	durationOverride("HEALTH_PROBE_GRACE", func(cfg *Config) *time.Duration { return &cfg.Live.HealthProbeGrace }),
	durationOverride("MAX_STALE_CHUNK_AGE", func(cfg *Config) *time.Duration { return &cfg.Live.MaxStaleChunkAge }),
	intOverride("MAX_SESSIONS", func(cfg *Config) *int { return &cfg.Server.MaxSessions }),
	intOverride("EVENT_BUFFER_SIZE", func(cfg *Config) *int { return &cfg.Server.EventBufferSize }),
	{name: "ALLOWED_ORIGINS", apply: func(cfg *Config, value string) error {
		cfg.Server.AllowedOrigins = schemas.DedupeStrings(strings.Split(value, ","))
		return nil
	}},
}

// applyEnvOverrides applies every BIFROST_LIVE_* variable that lookup finds.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		key := EnvOverridePrefix + o.name
		value, ok := lookup(key)
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if err := o.apply(cfg, value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}
	return nil
}
