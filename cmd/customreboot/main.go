// Package main is the entry point for the custom reboot boot service.
// Without arguments it claims the well-known bus name and serves requests
// from the shell extension until told to quit; with the single argument
// "stop" it asks an already running server to quit.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Nova1545/gnome-shell-extension-customreboot/internal/bootloader"
	"github.com/Nova1545/gnome-shell-extension-customreboot/internal/config"
	"github.com/Nova1545/gnome-shell-extension-customreboot/internal/hostinfo"
	"github.com/Nova1545/gnome-shell-extension-customreboot/internal/runner"
	"github.com/Nova1545/gnome-shell-extension-customreboot/internal/service"
)

var (
	// version is set at build time via -ldflags.
	version = "dev"

	// dial opens the bus connection; replaced in tests.
	dial = service.Dial
)

func main() {
	os.Exit(run(filepath.Base(os.Args[0]), os.Args[1:], os.Stdout, os.Stderr))
}

func run(exe string, args []string, stdout, stderr io.Writer) int {
	switch {
	case len(args) == 0:
		return serve(stdout, stderr)
	case len(args) == 1 && args[0] == "stop":
		return stop(stderr)
	default:
		fmt.Fprintf(stderr, "Usage: %s [stop]\n", exe)
		return 1
	}
}

func loadConfig(stderr io.Writer) (*config.Config, bool) {
	cfg, err := config.LoadLayered(embeddedConfig)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return nil, false
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return nil, false
	}
	return cfg, true
}

// serve runs the server until quit() is called or a signal arrives.
func serve(stdout, stderr io.Writer) int {
	cfg, ok := loadConfig(stderr)
	if !ok {
		return 1
	}

	logger := initLogger(cfg, stdout)
	defer logger.Sync()

	logger.Info("Starting custom reboot service",
		zap.String("version", version),
		zap.String("bus", cfg.Bus.Type))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if info, err := hostinfo.Collect(ctx); err != nil {
		logger.Debug("Collecting host info failed", zap.Error(err))
	} else {
		logger.Info("Host", info.Fields()...)
	}

	conn, err := dial(cfg.Bus.Type)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to connect to the %s bus: %v\n", cfg.Bus.Type, err)
		return 1
	}

	resolver := bootloader.NewResolver(cfg.Paths(), runner.New(logger), logger)
	logger.Info("Bootloader detected", zap.Stringer("kind", resolver.CurrentKind()))

	svc, err := service.New(conn, resolver, logger)
	if err != nil {
		conn.Close()
		if errors.Is(err, service.ErrAlreadyRunning) {
			fmt.Fprintln(stderr, "Server is already running.")
		} else {
			fmt.Fprintf(stderr, "Failed to start server: %v\n", err)
		}
		return 1
	}
	fmt.Fprintln(stdout, "Server is not running yet. Putting on listening ears.")

	// Handle OS signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("Received signal, shutting down",
				zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := svc.Run(ctx); err != nil {
		logger.Warn("Shutdown was not clean", zap.Error(err))
	}
	logger.Info("Server stopped")
	return 0
}

// stop asks a running server to quit.
func stop(stderr io.Writer) int {
	cfg, ok := loadConfig(stderr)
	if !ok {
		return 1
	}

	conn, err := dial(cfg.Bus.Type)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to connect to the %s bus: %v\n", cfg.Bus.Type, err)
		return 1
	}
	defer conn.Close()

	client := service.NewClient(conn, cfg.Bus.CallTimeout.Duration)
	if err := client.Stop(context.Background()); err != nil {
		if errors.Is(err, service.ErrNotRunning) {
			fmt.Fprintln(stderr, "No server is listening, nothing to stop.")
		} else {
			fmt.Fprintf(stderr, "Failed to stop server: %v\n", err)
		}
		return 1
	}
	return 0
}

// initLogger creates a zap logger based on the configuration.
// It outputs to the console (human-readable) and optionally a JSON log file.
func initLogger(cfg *config.Config, console io.Writer) *zap.Logger {
	var level zapcore.Level
	switch cfg.Logging.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(console),
			level,
		),
	}

	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err == nil {
			cores = append(cores, zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				zapcore.AddSync(file),
				level,
			))
		}
	}

	return zap.New(zapcore.NewTee(cores...))
}
