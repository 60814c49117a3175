package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"locstore/config"
	"locstore/pkg/factory"
	"locstore/pkg/server"
)

var (
	configPath = flag.String("config", "", "Path to configuration file")
	machine    = flag.String("machine", "", "Advertised machine address (host:port)")
	host       = flag.String("host", "", "Listen host")
	port       = flag.Int("port", 0, "Listen port")
	mode       = flag.String("mode", "", "Store mode: legacy, distributed, both, memory")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Override config with command line flags
	if *machine != "" {
		cfg.Machine.Address = *machine
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *mode != "" {
		cfg.Store.Mode = *mode
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fac, err := factory.New(cfg, factory.Args{}, logger)
	if err != nil {
		logger.Error("factory construction failed", "err", err)
		os.Exit(1)
	}

	coord, err := fac.Create(ctx, "", nil)
	if err != nil {
		logger.Error("coordinator construction failed", "err", err)
		os.Exit(1)
	}
	defer coord.Close()

	logger.Info("locstored starting",
		"machine", coord.Machine(), "instance", coord.InstanceID(), "mode", cfg.Store.Mode)

	srv := server.New(cfg, coord.Authority(), coord.Election(), logger)
	if err := srv.Start(ctx); err != nil {
		logger.Error("location service failed", "err", err)
		os.Exit(1)
	}
	logger.Info("locstored stopped")
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
