package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/stardust/internal/backup"
	"github.com/dohr-michael/stardust/internal/config"
	"github.com/dohr-michael/stardust/internal/events"
	"github.com/dohr-michael/stardust/internal/gateway"
	"github.com/dohr-michael/stardust/internal/secrets"
	"github.com/dohr-michael/stardust/internal/storage"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the Stardust HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = int(cmd.Int("port"))
	}

	access, err := accessFromConfig(cfg)
	if err != nil {
		return err
	}
	if access.Secret == "" {
		slog.Warn("no shared secret configured, every write will be rejected")
	}

	store, db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	if cfg.Events.LogDir != "" {
		el := storage.NewEventLogger(cfg.Events.LogDir, bus)
		defer el.Close()
	}

	server := gateway.NewServer(store, bus, gateway.Options{
		Host:       cfg.Gateway.Host,
		Port:       cfg.Gateway.Port,
		HealthText: cfg.Gateway.HealthText,
		Access:     access,
	})

	// SIGHUP reloads .env and the config file; access and log settings are
	// applied live.
	debug := cmd.Bool("debug")
	reloader := config.NewReloader(cmd.String("config"), config.DotenvPath(), cfg)
	reloader.OnReload(func(next *config.Config, ch config.Change) {
		if ch.Log {
			setupLogging(next.Log, debug)
		}
		if !ch.Access {
			return
		}
		a, err := accessFromConfig(next)
		if err != nil {
			slog.Error("reload: keeping previous access settings", "error", err)
			return
		}
		server.SetAccess(a)
	})
	go watchReload(ctx, reloader)

	if cfg.Backup.Schedule != "" {
		mgr := backup.NewManager(cfg.Backup.Dir, cfg.Backup.Keep, store, bus)
		sched, err := backup.NewScheduler(cfg.Backup.Schedule, func(ctx context.Context) error {
			_, err := mgr.Export(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("backup schedule: %w", err)
		}

		// Storage closes after this wait, so a running export finishes first.
		schedCtx, stopSched := context.WithCancel(ctx)
		schedDone := make(chan struct{})
		go func() {
			defer close(schedDone)
			sched.Run(schedCtx)
		}()
		defer func() {
			stopSched()
			<-schedDone
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout.Duration())
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// accessFromConfig resolves the (possibly sealed) secret and builds the
// gateway access settings.
func accessFromConfig(cfg *config.Config) (gateway.Access, error) {
	secret, err := secrets.ResolveSecret(cfg.Auth.Secret, cfg.Auth.IdentityFile)
	if err != nil {
		return gateway.Access{}, err
	}
	return gateway.Access{
		Secret:         secret,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		DefaultOrigin:  cfg.CORS.DefaultOrigin,
	}, nil
}

func watchReload(ctx context.Context, r *config.Reloader) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := r.Reload(); err != nil {
				slog.Error("config reload failed", "error", err)
			}
		}
	}
}
