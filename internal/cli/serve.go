package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/coedit/internal/config"
	"github.com/roach88/coedit/internal/journal"
	"github.com/roach88/coedit/internal/logging"
	"github.com/roach88/coedit/internal/metrics"
	"github.com/roach88/coedit/internal/session"
	"github.com/roach88/coedit/internal/transport"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr    string
	Journal string

	// LogOutput receives log lines when no log file is configured.
	// Defaults to stderr.
	LogOutput io.Writer

	// onListen is called with the bound address once the listener is up.
	onListen func(net.Addr)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collaborative editing server",
		Long: `Run the WebSocket and HTTP server.

Clients connect to /sessions/{id}/ws. Empty sessions are reaped after the
configured idle timeout. When a journal path is set, every accepted and
rejected operation is written to SQLite for later replay.

The process stops on SIGINT or SIGTERM, disconnecting clients and closing
every session.

Examples:
  coedit serve
  coedit serve --addr 127.0.0.1:9000 --journal ./coedit.db
  coedit serve --config ./coedit.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "SQLite journal path (overrides config)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.Journal != "" {
		cfg.Journal.Path = opts.Journal
	}

	logOutput := opts.LogOutput
	if logOutput == nil {
		logOutput = os.Stderr
	}
	logger, logCloser, err := logging.New(cfg.Log, logOutput)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure logging", err)
	}
	defer logCloser.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	recorders := session.Recorders{m}
	if cfg.Journal.Path != "" {
		logger.Info("opening journal", "path", cfg.Journal.Path)
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		recorders = append(recorders, journal.NewRecorder(j, logger, cfg.Journal.WriteTimeout))
	}

	registry := session.NewRegistry(
		session.WithLogger(logger),
		session.WithRecorder(recorders),
		session.WithIdleTimeout(cfg.Session.IdleTimeout),
	)
	server := transport.NewServer(registry,
		transport.WithLogger(logger),
		transport.WithObserver(m),
		transport.WithMetricsHandler(metrics.Handler(reg)),
		transport.WithConfig(cfg.Transport),
	)

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	logger.Info("server starting", "addr", ln.Addr().String(), "journal", cfg.Journal.Path)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", ln.Addr())
	if opts.onListen != nil {
		opts.onListen(ln.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := registry.RunReaper(gctx, cfg.Session.ReapInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "grace", cfg.Server.ShutdownGrace)
		return shutdown(server, httpServer, registry, cfg.Server)
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped")
	return nil
}

// shutdown disconnects WebSocket clients first, since http.Server.Shutdown
// does not track hijacked connections, then drains HTTP and closes every
// session.
func shutdown(server *transport.Server, httpServer *http.Server, registry *session.Registry, cfg config.ServerConfig) error {
	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	err := httpServer.Shutdown(ctx)

	registry.Close()
	return err
}
