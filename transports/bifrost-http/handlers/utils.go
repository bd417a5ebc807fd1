package handlers

import (
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/maximhq/bifrost-live/core/schemas"
	"github.com/valyala/fasthttp"
)

var logger schemas.Logger = schemas.NoOpLogger{}

// SetLogger sets the logger used by the HTTP handlers.
func SetLogger(l schemas.Logger) {
	if l == nil {
		l = schemas.NoOpLogger{}
	}
	logger = l
}

// ErrorResponse is the JSON body of a failed HTTP request.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Message string `json:"message"`
}

// SendJSON sends a JSON response with 200 OK status
func SendJSON(ctx *fasthttp.RequestCtx, data any) {
	SendJSONWithStatus(ctx, data, fasthttp.StatusOK)
}

// SendJSONWithStatus sends a JSON response with a custom status code
func SendJSONWithStatus(ctx *fasthttp.RequestCtx, data any, statusCode int) {
	ctx.SetContentType("application/json")
	body, err := sonic.Marshal(data)
	if err != nil {
		logger.Warn("failed to encode JSON response: %v", err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(`{"error":{"message":"failed to encode response"}}`)
		return
	}
	ctx.SetStatusCode(statusCode)
	ctx.SetBody(body)
}

// SendError sends an error response with the given status code and message
func SendError(ctx *fasthttp.RequestCtx, statusCode int, message string) {
	if statusCode >= fasthttp.StatusInternalServerError {
		logger.Error("request %s failed: %s", ctx.Path(), message)
	}
	SendJSONWithStatus(ctx, ErrorResponse{Error: ErrorBody{Message: message}}, statusCode)
}

// IsOriginAllowed checks if the given origin is allowed based on localhost rules and configured allowed origins.
// Localhost origins are always allowed. "*" allows everything and "https://*.example.com"
// matches exactly one subdomain level.
func IsOriginAllowed(origin string, allowedOrigins []string) bool {
	if origin == "" {
		return false
	}
	if isLocalhostOrigin(origin) {
		return true
	}
	for _, allowed := range allowedOrigins {
		switch {
		case allowed == "*":
			return true
		case allowed == origin:
			return true
		case strings.Contains(allowed, "*") && matchesWildcardPattern(origin, allowed):
			return true
		}
	}
	return false
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "0.0.0.0", "::1":
		return true
	}
	return false
}

func matchesWildcardPattern(origin, pattern string) bool {
	prefix, suffix, ok := strings.Cut(pattern, "*")
	if !ok {
		return origin == pattern
	}
	if len(origin) <= len(prefix)+len(suffix) {
		return false
	}
	if !strings.HasPrefix(origin, prefix) || !strings.HasSuffix(origin, suffix) {
		return false
	}
	label := origin[len(prefix) : len(origin)-len(suffix)]
	return label != "" && !strings.ContainsAny(label, "./:")
}
