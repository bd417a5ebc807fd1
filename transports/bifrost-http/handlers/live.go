package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fasthttp/router"
	ws "github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/maximhq/bifrost-live/core/live"
	"github.com/maximhq/bifrost-live/core/schemas"
	"github.com/maximhq/bifrost-live/plugins/telemetry"
	"github.com/maximhq/bifrost-live/transports/bifrost-http/lib"
	bfws "github.com/maximhq/bifrost-live/transports/bifrost-http/websocket"
	"github.com/valyala/fasthttp"
)

const (
	clientWriteTimeout = 10 * time.Second
	clientCloseTimeout = time.Second
)

// LiveHandler serves the realtime session endpoint. Every client WebSocket gets
// its own live.Bridge; client frames are ClientEvent JSON and everything the
// bridge reports is written back as LiveEvent JSON.
type LiveHandler struct {
	ctx           context.Context
	config        *lib.Config
	sessions      *bfws.SessionManager
	metrics       *telemetry.LiveMetrics
	upgrader      ws.FastHTTPUpgrader
	bridgeOptions []live.Option
}

// NewLiveHandler creates a live handler. In-flight forwards are cancelled when
// ctx ends. metrics may be nil. Extra bridge options are applied to every
// session after the handler's own.
func NewLiveHandler(ctx context.Context, config *lib.Config, sessions *bfws.SessionManager, metrics *telemetry.LiveMetrics, bridgeOptions ...live.Option) *LiveHandler {
	return &LiveHandler{
		ctx:           ctx,
		config:        config,
		sessions:      sessions,
		metrics:       metrics,
		bridgeOptions: bridgeOptions,
		upgrader: ws.FastHTTPUpgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(ctx *fasthttp.RequestCtx) bool {
				origin := string(ctx.Request.Header.Peek("Origin"))
				if origin == "" {
					return true
				}
				return IsOriginAllowed(origin, config.Server.AllowedOrigins)
			},
		},
	}
}

// RegisterRoutes registers the live WebSocket endpoint.
func (h *LiveHandler) RegisterRoutes(r *router.Router, middlewares ...BifrostHTTPMiddleware) {
	r.GET("/v1/live", ChainMiddlewares(h.handleUpgrade, middlewares...))
}

// liveSessionParams are read from the upgrade request's query string.
type liveSessionParams struct {
	sessionID string
	userID    string
	runID     string
}

// handleUpgrade upgrades the HTTP connection to WebSocket and runs the session.
func (h *LiveHandler) handleUpgrade(ctx *fasthttp.RequestCtx) {
	params := liveSessionParams{
		sessionID: string(ctx.QueryArgs().Peek("session_id")),
		userID:    string(ctx.QueryArgs().Peek("user_id")),
		runID:     string(ctx.QueryArgs().Peek("run_id")),
	}
	if params.sessionID == "" {
		params.sessionID = uuid.NewString()
	}

	err := h.upgrader.Upgrade(ctx, func(conn *ws.Conn) {
		defer conn.Close()
		h.serve(conn, params)
	})
	if err != nil {
		logger.Warn("websocket upgrade failed for /v1/live: %v", err)
	}
}

// serve owns one client connection from registration to teardown.
func (h *LiveHandler) serve(conn *ws.Conn, params liveSessionParams) {
	events := live.NewChannelSink(h.config.Server.EventBufferSize)
	var sink live.EventSink = events
	if h.metrics != nil {
		sink = live.MultiSink{events, h.metrics}
	}

	opts := []live.Option{
		live.WithSessionID(params.sessionID),
		live.WithUserID(params.userID),
		live.WithRunID(params.runID),
		live.WithLogger(logger),
		live.WithSink(sink),
	}
	bridge, err := live.New(&h.config.Live, nil, append(opts, h.bridgeOptions...)...)
	if err != nil {
		events.Close()
		writeWSError(conn, fasthttp.StatusInternalServerError, "bridge_init_failed", err.Error())
		return
	}

	session := bfws.NewSession(params.sessionID, conn, bridge, events)
	if err := h.sessions.Add(session); err != nil {
		session.Close()
		status, code := sessionErrorStatus(err)
		writeWSError(conn, status, code, err.Error())
		return
	}
	if h.metrics != nil {
		h.metrics.SessionOpened()
		defer h.metrics.SessionClosed()
	}
	logger.Debug("live session %s opened", params.sessionID)

	writerDone := make(chan struct{})
	go h.writeLoop(conn, events, writerDone)

	ctx, cancel := context.WithCancel(h.ctx)
	h.eventLoop(ctx, conn, session)
	cancel()

	h.sessions.Remove(session.ID())
	<-writerDone
	logger.Debug("live session %s closed (%d events dropped)", params.sessionID, events.Dropped())
}

func sessionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, bfws.ErrSessionLimitReached):
		return fasthttp.StatusTooManyRequests, "session_limit_reached"
	case errors.Is(err, bfws.ErrSessionExists):
		return fasthttp.StatusConflict, "session_exists"
	case errors.Is(err, bfws.ErrManagerClosed):
		return fasthttp.StatusServiceUnavailable, "server_shutting_down"
	}
	return fasthttp.StatusInternalServerError, "session_rejected"
}

// eventLoop reads events from the client WebSocket and forwards them in order.
func (h *LiveHandler) eventLoop(ctx context.Context, conn *ws.Conn, session *bfws.Session) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseNormalClosure) {
				logger.Warn("websocket read error: %v", err)
			}
			return
		}

		var event schemas.ClientEvent
		if err := sonic.Unmarshal(message, &event); err != nil || event.Type == "" {
			session.Events().Emit(clientErrorEvent(session.ID(), "invalid_request_error", "failed to parse event JSON"))
			continue
		}

		if err := session.Bridge().ForwardFromClient(ctx, &event); err != nil {
			if errors.Is(err, live.ErrBridgeClosed) {
				return
			}
			session.Events().Emit(clientErrorEvent(session.ID(), "upstream_unavailable", err.Error()))
		}
	}
}

// writeLoop is the only writer on the client connection once the session is
// registered. It ends when the session's event queue is closed.
func (h *LiveHandler) writeLoop(conn *ws.Conn, events *live.ChannelSink, done chan<- struct{}) {
	defer close(done)
	for event := range events.Events() {
		data, err := sonic.Marshal(event)
		if err != nil {
			logger.Warn("failed to encode live event %s: %v", event.Type, err)
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
		if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
			logger.Debug("failed to write live event to client: %v", err)
			// Unblock the reader and wait for the session to close the queue.
			_ = conn.Close()
			for range events.Events() {
			}
			return
		}
	}
	_ = conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, "session closed"), time.Now().Add(clientCloseTimeout))
	_ = conn.Close()
}

// clientErrorEvent reports a problem with the client's own input or with the
// session as a whole.
func clientErrorEvent(sessionID, reason, message string) *schemas.LiveEvent {
	return &schemas.LiveEvent{
		Type:      schemas.LiveEventError,
		EventID:   uuid.NewString(),
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Reason:    reason,
		Error:     message,
	}
}

// wsErrorEvent is written before a session exists, when there is no event queue.
type wsErrorEvent struct {
	Type   schemas.LiveEventType `json:"type"`
	Status int                   `json:"status"`
	Reason string                `json:"reason"`
	Error  string                `json:"error"`
}

// writeWSError sends an error event directly on the connection.
func writeWSError(conn *ws.Conn, status int, reason, message string) {
	data, err := sonic.Marshal(wsErrorEvent{
		Type:   schemas.LiveEventError,
		Status: status,
		Reason: reason,
		Error:  message,
	})
	if err != nil {
		return
	}
	_ = conn.WriteMessage(ws.TextMessage, data)
}
