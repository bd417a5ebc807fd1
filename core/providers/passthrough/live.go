// Package passthrough implements a live protocol adapter for upstreams that
// already speak the client's wire format. Frames cross the bridge unchanged.
package passthrough

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/maximhq/bifrost-live/core/schemas"
	"github.com/tidwall/gjson"
)

var ErrEmptyPayload = errors.New("event has no payload to forward")

// LiveAdapter forwards client payloads and upstream frames byte-for-byte.
type LiveAdapter struct{}

func NewLiveAdapter() *LiveAdapter {
	return &LiveAdapter{}
}

func (a *LiveAdapter) Protocol() schemas.LiveProtocol {
	return schemas.LiveProtocolPassthrough
}

func (a *LiveAdapter) RequiresHandshake() bool {
	return false
}

// NormalizesOutput returns false; frames are opaque to the bridge.
func (a *LiveAdapter) NormalizesOutput() bool {
	return false
}

// ConnectURL substitutes a {model} placeholder and otherwise leaves the URL as is.
// Credentials travel in headers.
func (a *LiveAdapter) ConnectURL(baseURL, model string, _ *schemas.AuthProfileConfig) (string, error) {
	u, err := url.Parse(strings.ReplaceAll(baseURL, "{model}", url.PathEscape(model)))
	if err != nil {
		return "", fmt.Errorf("invalid upstream url: %w", err)
	}
	return u.String(), nil
}

// ConnectHeaders sends the API key as a bearer token unless the profile sets
// its own Authorization header.
func (a *LiveAdapter) ConnectHeaders(profile *schemas.AuthProfileConfig) map[string]string {
	headers := map[string]string{}
	if profile == nil {
		return headers
	}
	hasAuth := false
	for k, v := range profile.Headers {
		headers[k] = v
		if strings.EqualFold(k, "Authorization") {
			hasAuth = true
		}
	}
	if profile.APIKey != "" && !hasAuth {
		headers["Authorization"] = "Bearer " + profile.APIKey
	}
	return headers
}

// BuildSetupFrame returns the override verbatim. Without one there is nothing to send.
func (a *LiveAdapter) BuildSetupFrame(opts schemas.SetupOptions) ([]byte, error) {
	if len(opts.Override) == 0 {
		return nil, nil
	}
	return opts.Override, nil
}

func (a *LiveAdapter) EncodeClientEvent(event *schemas.ClientEvent, _ schemas.MediaDefaults) ([]byte, error) {
	if len(event.Payload) == 0 {
		return nil, ErrEmptyPayload
	}
	return event.Payload, nil
}

// DecodeUpstreamFrame never extracts a signal; the frame is only re-emitted raw.
func (a *LiveAdapter) DecodeUpstreamFrame(raw []byte) *schemas.UpstreamFrame {
	kind := schemas.UpstreamFramePassthrough
	if !gjson.ValidBytes(raw) {
		kind = schemas.UpstreamFrameUnparseable
	}
	return &schemas.UpstreamFrame{Kind: kind, Raw: raw}
}
