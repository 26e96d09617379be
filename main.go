package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/email-analyzer/cmd"
	"github.com/dhcgn/email-analyzer/config"
	"github.com/dhcgn/email-analyzer/decoder"
	"github.com/dhcgn/email-analyzer/parser"
	"github.com/dhcgn/email-analyzer/runner"
	"github.com/dhcgn/email-analyzer/server"
	"github.com/dhcgn/email-analyzer/stats"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "email-analyzer",
		Short:         "Summarize uploaded mbox archives and .eml messages over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting email-analyzer", "listen", cfg.Listen, "decoder", cfg.Decoder, "maxUploadSize", cfg.MaxUploadSize)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.NewInspectCommand())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	dec, err := decoder.New(cfg.Decoder)
	if err != nil {
		return fmt.Errorf("decoder.New: %w", err)
	}

	r := runner.New(ctx, logger)
	stats.NewReporter(r, logger)

	handler := server.NewHandler(parser.New(dec), server.Options{
		FormField:     cfg.FormField,
		MaxUploadSize: cfg.MaxUploadSize,
	}, logger, r)

	srv := server.New(server.ServerOptions{
		Addr:            cfg.Listen,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, server.NewRouter(handler, logger), logger)

	r.AddStage("http", srv.Run)

	return r.Start()
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	var out io.Writer = os.Stdout
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("email-analyzer-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		out = io.MultiWriter(os.Stdout, file)
		cleanup = func() error {
			return file.Close()
		}
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), cleanup, nil
}
