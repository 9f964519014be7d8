package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/autom8ter/realtime"
	"github.com/autom8ter/realtime/auth/jwt"
	"github.com/autom8ter/realtime/errors"
	"github.com/autom8ter/realtime/feed/mongodb"
	rtredis "github.com/autom8ter/realtime/transport/redis"
	"github.com/autom8ter/realtime/transport/socket"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve change streams over websockets. SIGHUP reloads the config file.",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			logger, err := realtime.NewLogger(cfg.LogLevel, map[string]any{"service": "realtime"})
			if err != nil {
				return err
			}
			conn, err := mongodb.Connect(ctx, cfg.Mongo)
			if err != nil {
				return err
			}
			defer conn.Close(context.Background())
			feed := conn.Feed(mongodb.WithFeedLogger(logger))
			store := conn.Store()

			supervisor := realtime.NewSupervisor()
			defer supervisor.Close()
			var redis *rtredis.Publisher
			defer func() {
				if redis != nil {
					redis.Close()
				}
			}()
			start := func(cfg serverConfig) error {
				server, err := socket.New(cfg.Socket, socket.WithLogger(logger))
				if err != nil {
					return err
				}
				relayCfg := cfg.Relay
				relayCfg.Feed = feed
				relayCfg.Store = store
				relayCfg.Transport = server
				if cfg.JWT != nil {
					verifier, err := jwt.NewVerifier(*cfg.JWT)
					if err != nil {
						return err
					}
					relayCfg.Authenticator = verifier.Authenticator()
				}
				opts := []realtime.Opt{realtime.WithLogger(logger)}
				if cfg.Redis != nil {
					if redis == nil {
						if redis, err = rtredis.Dial(ctx, *cfg.Redis, rtredis.WithLogger(logger)); err != nil {
							return err
						}
					}
					opts = append(opts, realtime.WithBroadcasters(redis))
				}
				_, err = supervisor.Init(ctx, relayCfg, opts...)
				return err
			}
			if err := start(cfg); err != nil {
				return err
			}

			reload := make(chan os.Signal, 1)
			signal.Notify(reload, syscall.SIGHUP)
			defer signal.Stop(reload)
			return run(ctx, logger, supervisor, reload, func() error {
				next, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				return start(next)
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "realtime.yaml", "path to the yaml config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "overrides the config file log level")
	return cmd
}

// run blocks until the context is cancelled or the running relay stops, restarting the relay on every reload
// signal. A failed restart keeps the running relay; if none is left running run returns the error.
func run(ctx context.Context, logger realtime.Logger, supervisor *realtime.Supervisor, reload <-chan os.Signal, restart func() error) error {
	for {
		current := supervisor.Current()
		if current == nil {
			return errors.New(errors.Internal, "no relay is running")
		}
		select {
		case <-ctx.Done():
			logger.Info(ctx, "shutting down", map[string]any{})
			return nil
		case <-current.Done():
			logger.Warn(ctx, "relay stopped", map[string]any{})
			return nil
		case <-reload:
			if err := restart(); err != nil {
				if supervisor.Current() == nil {
					return errors.Wrap(err, 0, "failed to restart relay")
				}
				logger.Error(ctx, "failed to reload relay", err, map[string]any{})
				continue
			}
			logger.Info(ctx, "relay reloaded", map[string]any{})
		}
	}
}
