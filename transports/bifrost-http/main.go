// Command bifrost-live serves realtime client sessions over WebSocket and
// bridges each one to a live multimodal upstream with failover.
//
// Flags:
//
//	--host        address to bind (default localhost)
//	--port        port to listen on (default 8080)
//	--config      path to a YAML config file (optional)
//	--log-level   debug, info, warn or error
//	--log-style   json or pretty
//
// A .env file in the working directory is loaded first when present, and
// BIFROST_LIVE_* variables override values from the config file.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	bifrost "github.com/maximhq/bifrost-live/core"
	"github.com/maximhq/bifrost-live/core/schemas"
	"github.com/maximhq/bifrost-live/transports/bifrost-http/handlers"
	"github.com/maximhq/bifrost-live/transports/bifrost-http/lib"
	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	server := handlers.NewBifrostLiveServer(Version)

	flagSet := pflag.NewFlagSet("bifrost-live", pflag.ContinueOnError)
	flagSet.StringVar(&server.Host, "host", handlers.DefaultHost, "host to bind the server to")
	flagSet.StringVar(&server.Port, "port", handlers.DefaultPort, "port to run the server on")
	flagSet.StringVar(&server.ConfigPath, "config", "", "path to the YAML config file")
	flagSet.StringVar(&server.LogLevel, "log-level", handlers.DefaultLogLevel, "logger level (debug, info, warn, error)")
	flagSet.StringVar(&server.LogOutputStyle, "log-style", handlers.DefaultLogOutputStyle, "logger output type (json or pretty)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	logger := bifrost.NewDefaultLogger(schemas.LogLevel(server.LogLevel))
	logger.SetOutputType(schemas.LoggerOutputType(server.LogOutputStyle))
	handlers.SetLogger(logger)
	lib.SetLogger(logger)

	if err := server.Bootstrap(context.Background()); err != nil {
		return err
	}
	return server.Start()
}
