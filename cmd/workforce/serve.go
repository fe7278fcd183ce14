package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"github.com/workforce-oss/workforce-sub002/internal/bus"
	"github.com/workforce-oss/workforce-sub002/internal/cache"
	"github.com/workforce-oss/workforce-sub002/internal/channel"
	"github.com/workforce-oss/workforce-sub002/internal/config"
	"github.com/workforce-oss/workforce-sub002/internal/logging"
	"github.com/workforce-oss/workforce-sub002/internal/manager"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/store"
	"github.com/workforce-oss/workforce-sub002/internal/worker"
	"github.com/workforce-oss/workforce-sub002/pkg/natsx"
	"github.com/workforce-oss/workforce-sub002/pkg/slogx"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the brokers until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd.OutOrStdout(), *configPath)
		},
	}
}

func runServe(ctx context.Context, out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	transport, backend, nc, err := connect(cfg)
	if err != nil {
		return err
	}
	if nc != nil {
		defer nc.Close()
	}

	m, err := manager.New(ctx, db,
		manager.WithTransport(transport),
		manager.WithCache(backend),
		manager.WithSecrets(worker.StaticSecrets(cfg.Credentials)),
		manager.WithRequestTimeout(cfg.Broker.RequestTimeout),
		manager.WithDocumentSweep(cfg.Daemons.DocumentSweep),
		manager.WithWorkerFlush(cfg.Daemons.WorkerFlush),
		manager.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer m.Destroy(context.WithoutCancel(ctx))

	if err := registerObjects(ctx, out, cfg, m); err != nil {
		return err
	}
	sub, err := m.Channels.SubscribeMessages(ctx, func(ctx context.Context, ev channel.MessageEvent) {
		log.DebugContext(ctx, "channel event",
			slogx.ObjectID(ev.ChannelID),
			slogx.TaskExecutionID(ev.TaskExecutionID),
			slog.String("sender_id", ev.SenderID),
			slog.String("message_type", ev.MessageType),
		)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	fmt.Fprintf(out, "%s serving %d objects over %s\n", success("ready"), len(cfg.Objects), cfg.Broker.Mode)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			log.InfoContext(context.WithoutCancel(ctx), "shutting down", slogx.Error(context.Cause(ctx)))
			return nil
		case <-hup:
			next, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintf(out, "%s reload: %v\n", failure("fail"), err)
				continue
			}
			if err := syncObjects(ctx, out, cfg, next, m); err != nil {
				log.WarnContext(ctx, "reload left objects unsynced", slogx.Error(err))
			}
			cfg = next
		}
	}
}

func openStore(cfg *config.Config) (*store.DB, error) {
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// connect opens the NATS connection when either the bus or the cache is
// distributed. The returned connection is nil otherwise.
func connect(cfg *config.Config) (bus.Transport, *cache.Backend, *nats.Conn, error) {
	transport := bus.Transport{Mode: cfg.Broker.Mode}
	if cfg.Broker.Mode != bus.ModeNATS && cfg.Cache.Mode != bus.ModeNATS {
		return transport, cache.NewLocal(), nil, nil
	}
	nc, err := natsx.NewClient(cfg.NATS.URL)
	if err != nil {
		return transport, nil, nil, err
	}
	if cfg.Broker.Mode == bus.ModeNATS {
		transport.Conn = nc
	}
	backend := cache.NewLocal()
	if cfg.Cache.Mode == bus.ModeNATS {
		if backend, err = cache.NewNATS(nc); err != nil {
			nc.Close()
			return transport, nil, nil, err
		}
	}
	return transport, backend, nc, nil
}

// registerObjects builds and registers every configured object, reporting
// each one on out.
func registerObjects(ctx context.Context, out io.Writer, cfg *config.Config, m *manager.Manager) error {
	var errs []error
	for _, obj := range cfg.Objects {
		live, err := newObject(cfg, obj)
		if err == nil {
			err = m.Register(ctx, live)
		}
		if err != nil {
			fmt.Fprintf(out, "%s %s %s: %v\n", failure("fail"), obj.Kind, obj.Name, err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(out, "%s %s %s %s\n", success("ok"), obj.Kind, obj.Name, faint(obj.ID))
		slog.DebugContext(ctx, "registered object", slogx.ObjectID(obj.ID), slog.String("subtype", obj.Subtype))
	}
	return errors.Join(errs...)
}

// syncObjects applies a reloaded configuration: objects whose configuration
// changed are rebuilt, objects no longer configured are removed.
func syncObjects(ctx context.Context, out io.Writer, prev, next *config.Config, m *manager.Manager) error {
	var errs []error
	keep := make(map[string]bool, len(next.Objects))
	for _, obj := range next.Objects {
		keep[obj.ID] = true
		changed, err := m.Sync(ctx, obj, func(obj objects.Config) (objects.Object, error) {
			return newObject(next, obj)
		})
		switch {
		case err != nil:
			fmt.Fprintf(out, "%s %s %s: %v\n", failure("fail"), obj.Kind, obj.Name, err)
			errs = append(errs, err)
		case changed:
			fmt.Fprintf(out, "%s %s %s %s\n", success("synced"), obj.Kind, obj.Name, faint(obj.ID))
		}
	}
	for _, obj := range prev.Objects {
		if keep[obj.ID] {
			continue
		}
		if _, err := m.Remove(ctx, obj.Kind, obj.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(out, "%s %s %s %s\n", faint("removed"), obj.Kind, obj.Name, faint(obj.ID))
	}
	return errors.Join(errs...)
}
