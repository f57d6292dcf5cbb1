// Command lrucache runs demos, benchmarks and servers on top of the
// lrucache library.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mirkobrombin/go-lrucache/v1/config"
)

// app carries the state shared by every subcommand once the root command has
// loaded the configuration.
type app struct {
	configPath string
	logLevel   string
	trace      bool

	cfg    *config.Config
	logger *slog.Logger
	tp     *sdktrace.TracerProvider
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "lrucache",
		Short:         "In-process LRU cache with expire-after-access and loaders",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(stderr)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.shutdown(cmd.Context())
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&a.trace, "trace", false, "Export traces to stderr")

	rootCmd.AddCommand(
		demoCmd(a),
		benchCmd(a),
		serveCmd(a),
		proxyCmd(a),
	)
	return rootCmd
}

func (a *app) init(stderr io.Writer) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.trace {
		cfg.Telemetry.Tracing = true
	}
	logger, err := config.NewLogger(stderr, cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	a.cfg = cfg
	a.logger = logger

	if cfg.Telemetry.Tracing {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("trace exporter: %w", err)
		}
		a.tp = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(a.tp)
	}
	return nil
}

func (a *app) shutdown(ctx context.Context) error {
	if a.tp == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return a.tp.Shutdown(ctx)
}
