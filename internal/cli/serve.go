package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/roach88/shufflesync/internal/ident"
	"github.com/roach88/shufflesync/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string

	// ready, when set, is called with the app once it is wired. Tests use
	// it to reach the engines and cancel the server.
	ready func(*app)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket API",
		Long: `Serve the session and list API over HTTP, with per-topic change and
presence streams over WebSocket.

The server runs until interrupted, then shuts down gracefully.

Example:
  shufflesync serve --addr :8080 --db ./shufflesync.db
  shufflesync serve --driver postgres --db "postgres://localhost/shufflesync?sslmode=disable"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	logger := opts.logger(cmd, cfg)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, logger, publisherName())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Error("error closing", "error", closeErr)
		}
	}()

	go a.presence.Run(ctx, cfg.Presence.ReapInterval)

	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.New(a.sessions, a.lists, a.bus, a.presence,
		server.WithLogger(logger),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	)

	if opts.ready != nil {
		opts.ready(a)
	}
	logger.Info("serving",
		"addr", cfg.Server.Addr, "store", cfg.Store.Driver,
		"grace_period", cfg.Presence.GracePeriod)

	if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}

// publisherName identifies this process in feed events.
func publisherName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "shufflesync"
	}
	return host + "-" + ident.UUIDv7{}.NewID()
}
