package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/engine"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

// exitError carries the process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	root := newRootCmd()
	root.SetArgs(defaultToServe(os.Args[1:]))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

// defaultToServe makes serve the command when none is named.
func defaultToServe(args []string) []string {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return append([]string{"serve"}, args...)
	}
	return args
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "webrtc-signaling",
		Short:         "WebRTC signaling server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), versionCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve [flags]",
		Short: "Run the signaling server (default)",
		// Flags belong to the config package, which also reads the environment.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), args)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			commit, built := resolveBuildInfo(buildCommit, buildTime)
			fmt.Fprintf(cmd.OutOrStdout(), "commit: %s\nbuilt:  %s\n", orUnknown(commit), orUnknown(built))
		},
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func serve(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// A .env file is optional; the real environment wins over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &exitError{code: 2, err: fmt.Errorf("load .env: %w", err)}
	}

	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &exitError{code: 2, err: err}
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	slog.SetDefault(logger)

	logger.Info("starting webrtc-signaling",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"confirm_type", cfg.ConfirmType,
		"tls", cfg.TLSEnabled(),
		"ice_servers", len(cfg.ICEServers),
		"turn_rest", cfg.TURNREST.Enabled(),
		"ping_interval", cfg.PingInterval,
		"max_message_bytes", cfg.MaxMessageBytes,
		"max_messages_per_second", cfg.MaxMessagesPerSecond,
		"trace_exporter", cfg.TraceExporter,
	)
	logStartupWarnings(logger, cfg)

	var turn *turnrest.Generator
	if cfg.TURNREST.Enabled() {
		turn, err = turnrest.NewGenerator(turnrest.GeneratorConfig{
			SharedSecret:   cfg.TURNREST.SharedSecret,
			TTLSeconds:     cfg.TURNREST.TTLSeconds,
			UsernamePrefix: cfg.TURNREST.UsernamePrefix,
		})
		if err != nil {
			return &exitError{code: 2, err: fmt.Errorf("configure TURN REST: %w", err)}
		}
	}

	tp, shutdownTracing, err := newTracerProvider(cfg, os.Stderr)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	otel.SetTracerProvider(tp)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("trace exporter shutdown failed", "err", err)
		}
	}()

	reg := newRegistry()
	m := metrics.New(reg)

	e := engine.New(
		engine.WithConfirmType(cfg.ConfirmType),
		engine.WithLogger(logger),
		engine.WithTracer(tp.Tracer(tracerName)),
		engine.WithICEServers(connectionICEServers(cfg, turn, logger)),
	)
	m.Observe(e)
	e.Start()
	defer e.Stop()

	sig := signaling.NewServer(signaling.Config{
		Engine:               e,
		Logger:               logger,
		Metrics:              m,
		AllowedOrigins:       cfg.AllowedOrigins,
		PingInterval:         cfg.PingInterval,
		MaxMessageBytes:      cfg.MaxMessageBytes,
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		SendQueueSize:        cfg.SendQueueSize,
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("listen: %w", err)}
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, httpserver.Deps{
		Signaling: sig,
		Metrics:   metrics.Handler(reg),
		TURNREST:  turn,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		sig.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return &exitError{code: 1, err: fmt.Errorf("http server exited: %w", err)}
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	sig.Close()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return &exitError{code: 1, err: fmt.Errorf("http server exited after shutdown: %w", err)}
	}
	return nil
}

// newRegistry returns a registry with the Go runtime and process collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// ldflags win; the module's VCS stamp covers `go run` and dev builds.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
