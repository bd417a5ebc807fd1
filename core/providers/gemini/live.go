package gemini

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/maximhq/bifrost-live/core/schemas"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	ErrMissingMediaData = errors.New("media chunk has no data")
	ErrMissingText      = errors.New("text event has no text")
	ErrEmptyPayload     = errors.New("event has no payload to forward")
	ErrInvalidOverride  = errors.New("setup override must be a JSON object")
)

// interruptedMarker catches interruption signals in frames that fail to parse.
var interruptedMarker = regexp.MustCompile(`"interrupted"\s*:\s*true`)

// LiveAdapter speaks the Gemini Live BidiGenerateContent protocol.
type LiveAdapter struct{}

// NewLiveAdapter creates a Gemini Live protocol adapter.
func NewLiveAdapter() *LiveAdapter {
	return &LiveAdapter{}
}

// Protocol returns the gemini protocol identifier.
func (a *LiveAdapter) Protocol() schemas.LiveProtocol {
	return schemas.LiveProtocolGemini
}

// RequiresHandshake returns true: Gemini Live expects a setup message first.
func (a *LiveAdapter) RequiresHandshake() bool {
	return true
}

// NormalizesOutput returns true: serverContent frames carry text, turn and
// interrupt signals.
func (a *LiveAdapter) NormalizesOutput() bool {
	return true
}

// ConnectURL appends the API key as the key query parameter unless the URL
// already carries one. A {model} placeholder in the base URL is substituted.
func (a *LiveAdapter) ConnectURL(baseURL, model string, profile *schemas.AuthProfileConfig) (string, error) {
	u, err := url.Parse(strings.ReplaceAll(baseURL, "{model}", url.PathEscape(model)))
	if err != nil {
		return "", fmt.Errorf("invalid upstream url: %w", err)
	}
	if profile != nil && profile.APIKey != "" {
		q := u.Query()
		if q.Get("key") == "" {
			q.Set("key", profile.APIKey)
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), nil
}

// ConnectHeaders returns the profile's extra headers.
func (a *LiveAdapter) ConnectHeaders(profile *schemas.AuthProfileConfig) map[string]string {
	headers := map[string]string{}
	if profile == nil {
		return headers
	}
	for k, v := range profile.Headers {
		headers[k] = v
	}
	return headers
}

// BuildSetupFrame renders the setup message and deep-merges the caller override
// over it. An override with a top-level "setup" key is merged at the frame
// root; any other override is merged into the setup object.
func (a *LiveAdapter) BuildSetupFrame(opts schemas.SetupOptions) ([]byte, error) {
	setup := liveSetup{
		Model: modelResourceName(opts.Model),
		GenerationConfig: liveGenerationConfig{
			ResponseModalities: []string{"TEXT", "AUDIO"},
			SpeechConfig: &liveSpeechConfig{
				VoiceConfig: liveVoiceConfig{
					PrebuiltVoiceConfig: livePrebuiltVoiceConfig{VoiceName: opts.VoiceName},
				},
			},
		},
	}
	if opts.ActivityHandling != "" {
		setup.RealtimeInputConfig = &liveRealtimeInputConfig{ActivityHandling: opts.ActivityHandling}
	}
	if opts.InputTranscription {
		setup.InputAudioTranscription = &struct{}{}
	}
	if opts.OutputTranscription {
		setup.OutputAudioTranscription = &struct{}{}
	}
	if strings.TrimSpace(opts.SystemInstruction) != "" {
		setup.SystemInstruction = &liveContent{Parts: []livePart{{Text: opts.SystemInstruction}}}
	}

	frame, err := sonic.Marshal(liveSetupMessage{Setup: setup})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal setup frame: %w", err)
	}

	override := gjson.ParseBytes(opts.Override)
	if len(opts.Override) == 0 || override.Type == gjson.Null {
		return frame, nil
	}
	if !override.IsObject() {
		return nil, ErrInvalidOverride
	}
	prefix := "setup"
	if override.Get("setup").Exists() {
		prefix = ""
	}
	return mergeJSON(frame, override, prefix)
}

// EncodeClientEvent maps a client event to its Gemini Live frame. Setup events
// are not handled here; the bridge renders them with BuildSetupFrame.
func (a *LiveAdapter) EncodeClientEvent(event *schemas.ClientEvent, defaults schemas.MediaDefaults) ([]byte, error) {
	payload := gjson.ParseBytes(event.Payload)

	switch event.Type {
	case schemas.ClientEventAudio, schemas.ClientEventVideo:
		data := firstString(payload, "data", "audioBase64", "chunk")
		if data == "" {
			return nil, ErrMissingMediaData
		}
		mimeType := firstString(payload, "mimeType", "mime_type")
		if mimeType == "" {
			mimeType = defaults.AudioMimeType
			if event.Type == schemas.ClientEventVideo {
				mimeType = defaults.VideoMimeType
			}
		}
		return sonic.Marshal(liveRealtimeInputMessage{
			RealtimeInput: liveRealtimeInput{
				MediaChunks: []liveBlob{{MimeType: mimeType, Data: data}},
			},
		})

	case schemas.ClientEventText:
		text := firstString(payload, "text")
		if text == "" && payload.Type == gjson.String {
			text = payload.String()
		}
		if text == "" {
			return nil, ErrMissingText
		}
		return sonic.Marshal(liveClientContentMessage{
			ClientContent: liveClientContent{
				Turns:        []liveContent{{Role: "user", Parts: []livePart{{Text: text}}}},
				TurnComplete: true,
			},
		})

	case schemas.ClientEventTurnEnd, schemas.ClientEventInterrupt:
		return sonic.Marshal(liveRealtimeInputMessage{
			RealtimeInput: liveRealtimeInput{ActivityEnd: true},
		})

	default:
		if len(event.Payload) == 0 {
			return nil, ErrEmptyPayload
		}
		return event.Payload, nil
	}
}

// DecodeUpstreamFrame normalizes a Gemini Live server message. Frames that do
// not parse are returned as unparseable, with a best-effort interruption scan.
func (a *LiveAdapter) DecodeUpstreamFrame(raw []byte) *schemas.UpstreamFrame {
	var msg liveServerMessage
	if err := sonic.Unmarshal(raw, &msg); err != nil {
		frame := &schemas.UpstreamFrame{Kind: schemas.UpstreamFrameUnparseable, Raw: raw}
		if interruptedMarker.Match(raw) {
			frame.Output = &schemas.NormalizedOutput{Interrupted: true}
		}
		return frame
	}

	out := &schemas.NormalizedOutput{}
	if msg.Interrupted != nil && *msg.Interrupted {
		out.Interrupted = true
	}
	if msg.TurnComplete != nil && *msg.TurnComplete {
		out.TurnComplete = true
	}
	if content := msg.ServerContent; content != nil {
		out.Interrupted = out.Interrupted || content.Interrupted
		out.TurnComplete = out.TurnComplete || content.TurnComplete
		if content.ModelTurn != nil {
			var texts []string
			for _, part := range content.ModelTurn.Parts {
				if part.Text != "" {
					texts = append(texts, part.Text)
				}
				if out.AudioBase64 == "" && part.InlineData != nil &&
					strings.HasPrefix(strings.ToLower(part.InlineData.MimeType), "audio/") {
					out.AudioBase64 = part.InlineData.Data
				}
			}
			out.Text = strings.Join(texts, "")
		}
		if out.Text == "" && content.OutputTranscription != nil {
			out.Text = content.OutputTranscription.Text
		}
	}

	frame := &schemas.UpstreamFrame{Kind: schemas.UpstreamFrameStructured, Raw: raw}
	if out.HasSignal() {
		frame.Output = out
	}
	return frame
}

func modelResourceName(model string) string {
	if model == "" || strings.HasPrefix(model, "models/") || strings.HasPrefix(model, "projects/") {
		return model
	}
	return "models/" + model
}

func firstString(payload gjson.Result, fields ...string) string {
	for _, f := range fields {
		if v := payload.Get(f); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// mergeJSON writes every leaf of override into base under prefix, descending
// into objects that exist on both sides.
func mergeJSON(base []byte, override gjson.Result, prefix string) ([]byte, error) {
	var err error
	override.ForEach(func(key, value gjson.Result) bool {
		path := escapePathComponent(key.String())
		if prefix != "" {
			path = prefix + "." + path
		}
		if value.IsObject() && gjson.GetBytes(base, path).IsObject() {
			base, err = mergeJSON(base, value, path)
		} else {
			base, err = sjson.SetRawBytes(base, path, []byte(value.Raw))
		}
		return err == nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to merge setup override: %w", err)
	}
	return base, nil
}

func escapePathComponent(component string) string {
	var b strings.Builder
	for _, r := range component {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%', ':':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
