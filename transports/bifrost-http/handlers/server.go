// server package wraps http server implementation behind simple interface
package handlers

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fasthttp/router"
	"github.com/maximhq/bifrost-live/core/live"
	"github.com/maximhq/bifrost-live/core/schemas"
	"github.com/maximhq/bifrost-live/plugins/telemetry"
	"github.com/maximhq/bifrost-live/transports/bifrost-http/lib"
	bfws "github.com/maximhq/bifrost-live/transports/bifrost-http/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Constants
const (
	DefaultHost           = "localhost"
	DefaultPort           = "8080"
	DefaultLogLevel       = string(schemas.LogLevelInfo)
	DefaultLogOutputStyle = string(schemas.LoggerOutputTypeJSON)

	shutdownTimeout = 30 * time.Second
)

// BifrostLiveServer represents a HTTP server instance.
type BifrostLiveServer struct {
	ctx    context.Context
	cancel context.CancelFunc

	Version string

	Port       string
	Host       string
	ConfigPath string

	LogLevel       string
	LogOutputStyle string

	// BridgeOptions are applied to every session's bridge.
	BridgeOptions []live.Option

	Config   *lib.Config
	Sessions *bfws.SessionManager
	Metrics  *telemetry.LiveMetrics

	Server *fasthttp.Server
	Router *router.Router
}

// NewBifrostLiveServer creates a new instance of BifrostLiveServer.
func NewBifrostLiveServer(version string) *BifrostLiveServer {
	return &BifrostLiveServer{
		Version:        version,
		Port:           DefaultPort,
		Host:           DefaultHost,
		LogLevel:       DefaultLogLevel,
		LogOutputStyle: DefaultLogOutputStyle,
	}
}

// RegisterCollectorSafely attempts to register a Prometheus collector,
// handling the case where it may already be registered.
// It logs any errors that occur during registration, except for AlreadyRegisteredError.
func RegisterCollectorSafely(collector prometheus.Collector) {
	if err := prometheus.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			logger.Error("failed to register prometheus collector: %v", err)
		}
	}
}

// InitializeTelemetry registers process collectors and the live bridge metrics.
func (s *BifrostLiveServer) InitializeTelemetry() error {
	RegisterCollectorSafely(collectors.NewGoCollector())
	RegisterCollectorSafely(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := telemetry.NewLiveMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("failed to initialize live metrics: %w", err)
	}
	s.Metrics = metrics
	return nil
}

// RegisterRoutes builds the router. Forwards in flight are cancelled when the server context ends.
func (s *BifrostLiveServer) RegisterRoutes() {
	s.Router = router.New()
	middlewares := []BifrostHTTPMiddleware{RequestLoggingMiddleware}

	NewLiveHandler(s.ctx, s.Config, s.Sessions, s.Metrics, s.BridgeOptions...).RegisterRoutes(s.Router, middlewares...)
	NewHealthHandler(s.Config, s.Sessions).RegisterRoutes(s.Router, middlewares...)

	s.Router.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))
	s.Router.NotFound = func(ctx *fasthttp.RequestCtx) {
		SendError(ctx, fasthttp.StatusNotFound, "Route not found: "+string(ctx.Path()))
	}
}

// Bootstrap loads configuration and prepares the server without listening.
func (s *BifrostLiveServer) Bootstrap(ctx context.Context) error {
	var err error
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.Config, err = lib.LoadConfig(s.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !s.Config.Live.Enabled {
		logger.Warn("live bridge is disabled; sessions will report unavailable")
	}

	if err := s.InitializeTelemetry(); err != nil {
		return err
	}
	logger.Debug("prometheus Go/Process collectors registered.")

	s.Sessions = bfws.NewSessionManager(s.Config.Server.MaxSessions)
	s.RegisterRoutes()

	s.Server = &fasthttp.Server{
		Handler: ChainMiddlewares(s.Router.Handler, CorsMiddleware(s.Config)),
		Name:    "bifrost-live",
	}
	return nil
}

// Serve runs the server on ln until it is shut down.
func (s *BifrostLiveServer) Serve(ln net.Listener) error {
	return s.Server.Serve(ln)
}

// Shutdown closes every live session and then stops the listener. It is safe
// to call on a server whose Bootstrap failed.
func (s *BifrostLiveServer) Shutdown(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	if s.Sessions == nil || s.Server == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Sessions.CloseAll()
	}()
	select {
	case <-done:
		logger.Info("closed all live sessions")
	case <-ctx.Done():
		logger.Warn("closing live sessions did not finish: %v", ctx.Err())
	}

	if err := s.Server.ShutdownWithContext(ctx); err != nil {
		logger.Error("error during graceful shutdown: %v", err)
	} else {
		logger.Info("server gracefully shutdown")
	}
}

// Start listens on Host:Port and blocks until a signal or a listener error.
func (s *BifrostLiveServer) Start() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	serverAddr := net.JoinHostPort(s.Host, s.Port)
	go func() {
		logger.Info("successfully started bifrost live %s, listening on ws://%s/v1/live", s.Version, serverAddr)
		if err := s.Server.ListenAndServe(serverAddr); err != nil {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received signal %v, initiating graceful shutdown...", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
	return nil
}
