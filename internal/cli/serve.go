package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/skyfeed/internal/config"
	"github.com/roach88/skyfeed/internal/engine"
	"github.com/roach88/skyfeed/internal/feed"
	"github.com/roach88/skyfeed/internal/filter"
	"github.com/roach88/skyfeed/internal/metrics"
	"github.com/roach88/skyfeed/internal/relay"
	"github.com/roach88/skyfeed/internal/server"
	"github.com/roach88/skyfeed/internal/store"
)

// UserAgent is sent to the relay when dialing.
const UserAgent = "skyfeed"

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string

	// Getenv overrides the environment lookup (for testing).
	// If nil, defaults to os.Getenv.
	Getenv func(string) string

	// Subscriber overrides the relay client (for testing).
	Subscriber relay.Subscriber

	// Listener overrides listening on the configured address (for testing).
	Listener net.Listener
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume the firehose and serve the feed",
		Long: `Start the firehose consumer and the feed HTTP server.

Configuration is read from the file given by --config (or SKYFEED_CONFIG),
then overridden by SKYFEED_* environment variables. The consumer resumes
from the last checkpoint in the database. SIGINT or SIGTERM stops both the
consumer and the server gracefully.

Example:
  skyfeed serve --config ./skyfeed.yaml
  SKYFEED_HOSTNAME=feed.example.com skyfeed serve --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return formatter(opts.RootOptions, cmd).Fail(runServe(opts, cmd))
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	path := opts.ConfigPath
	if path == "" {
		path = getenv(config.EnvConfig)
	}

	cfg, err := config.Load(path, getenv)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err).withKind(KindConfig)
	}

	setupLogging(cfg.Level(), opts.Verbose)

	slog.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err).withKind(KindStore)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	fopts, err := cfg.FilterOptions()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err).withKind(KindFilter)
	}
	if fopts.Predicate == nil {
		slog.Warn("no filter predicate configured, every post will be rejected")
	}

	sub := opts.Subscriber
	if sub == nil {
		client, err := relay.NewClient(cfg.RelayURL, relay.WithUserAgent(UserAgent))
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid relay url", err)
		}
		sub = client
	}

	if !cfg.DIDDocument() {
		slog.Info("service DID is not did:web of the hostname, not serving did.json", "service_did", cfg.ServiceDID)
	}

	m := metrics.New()
	pipeline := filter.New(st, fopts, filter.WithMetrics(m))
	eng := engine.New(cfg.ServiceDID, sub, pipeline, st, engine.WithMetrics(m))
	srv := server.New(server.Options{
		Hostname:   cfg.Hostname,
		ServiceDID: cfg.ServiceDID,
		FeedURI:    cfg.FeedURI,
	}, feed.New(st), m)

	l := opts.Listener
	if l == nil {
		l, err = net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to listen", err)
		}
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on %s\n", cfg.ServiceDID, l.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.Serve(gctx, l); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		// Stop the consumer too when the server exits on its own.
		return context.Canceled
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "serve failed", err)
	}

	slog.Info("stopped gracefully")
	return nil
}
