package handlers

import (
	"strings"

	"github.com/fasthttp/router"
	"github.com/maximhq/bifrost-live/core/schemas"
	"github.com/maximhq/bifrost-live/transports/bifrost-http/lib"
	bfws "github.com/maximhq/bifrost-live/transports/bifrost-http/websocket"
	"github.com/valyala/fasthttp"
)

// HealthHandler reports service status and live bridge configuration.
type HealthHandler struct {
	config   *lib.Config
	sessions *bfws.SessionManager
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string               `json:"status"`
	LiveConfigured bool                 `json:"live_configured"`
	Protocol       schemas.LiveProtocol `json:"protocol"`
	Models         []string             `json:"models"`
	ActiveSessions int                  `json:"active_sessions"`
	MaxSessions    int                  `json:"max_sessions"`
}

// NewHealthHandler creates a handler reporting on config and sessions.
func NewHealthHandler(config *lib.Config, sessions *bfws.SessionManager) *HealthHandler {
	return &HealthHandler{
		config:   config,
		sessions: sessions,
	}
}

// RegisterRoutes registers the health endpoint.
func (h *HealthHandler) RegisterRoutes(r *router.Router, middlewares ...BifrostHTTPMiddleware) {
	r.GET("/health", ChainMiddlewares(h.getHealth, middlewares...))
}

// getHealth always answers 200; a disabled bridge is reported, not failed.
func (h *HealthHandler) getHealth(ctx *fasthttp.RequestCtx) {
	live := h.config.Live
	resp := HealthResponse{
		Status:         "ok",
		LiveConfigured: live.Enabled && strings.TrimSpace(live.UpstreamURL) != "",
		Protocol:       live.Protocol,
		Models:         live.Models(),
		ActiveSessions: h.sessions.Count(),
		MaxSessions:    h.config.Server.MaxSessions,
	}
	if !resp.LiveConfigured {
		resp.Status = "degraded"
	}
	SendJSON(ctx, resp)
}
