package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/soyeahso/closer/internal/config"
	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/gateway"
	"github.com/soyeahso/closer/internal/logging"
	"github.com/soyeahso/closer/internal/routing"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine: channels, follow-up scheduler and operator gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating %s: %w", paths.Base, err)
			}

			logger, closer, err := logging.Open(logging.Options{
				Level: cfg.Logging.Level,
				Style: cfg.Logging.ConsoleStyle,
				File:  cfg.Logging.File,
			})
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, paths, logger)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")
	return cmd
}

// serve runs until ctx is cancelled, then stops every component in reverse
// start order.
func serve(ctx context.Context, cfg config.Config, p config.Paths, logger *logging.Logger) error {
	a, err := newApp(cfg, p, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.notifiers.InitAll(ctx); err != nil {
		return err
	}
	defer a.notifiers.CloseAll()

	dispatcher := routing.NewDispatcher(a.channels, func(ctx context.Context, msg domain.InboundMessage) error {
		_, err := a.orch.HandleInbound(ctx, msg)
		return err
	}, cfg.Session.Scope, logger)
	dispatcher.Wire(ctx)

	if a.channels.Count() > 0 {
		if err := a.channels.StartAll(ctx); err != nil {
			return fmt.Errorf("starting channels: %w", err)
		}
		logger.Info().
			Strs("channels", a.channels.List()).
			Str("scope", cfg.Session.Scope).
			Msg("message routing active")
	} else {
		logger.Warn().Msg("no channels configured; only the inbound webhook will receive messages")
	}

	if err := a.sched.Start(ctx); err != nil {
		return err
	}

	srv := gateway.New(cfg.Gateway, logger,
		gateway.WithOrchestrator(a.orch),
		gateway.WithStore(a.store),
		gateway.WithChannels(a.channels),
		gateway.WithHooks(a.hooks),
	)
	serveErr := srv.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Int("pending", dispatcher.Pending()).Msg("dispatcher did not drain")
	}
	if err := a.sched.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("scheduler did not stop cleanly")
	}
	a.channels.StopAll(shutdownCtx)
	logger.Info().Msg("closer stopped")
	return serveErr
}
