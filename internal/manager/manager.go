// Package manager builds every broker over one bus and one store and tears
// them down together.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fogfish/opts"
	"github.com/workforce-oss/workforce-sub002/internal/bus"
	"github.com/workforce-oss/workforce-sub002/internal/cache"
	"github.com/workforce-oss/workforce-sub002/internal/channel"
	"github.com/workforce-oss/workforce-sub002/internal/docrepo"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/resource"
	"github.com/workforce-oss/workforce-sub002/internal/router"
	"github.com/workforce-oss/workforce-sub002/internal/store"
	"github.com/workforce-oss/workforce-sub002/internal/tool"
	"github.com/workforce-oss/workforce-sub002/internal/tracker"
	"github.com/workforce-oss/workforce-sub002/internal/worker"
	"github.com/workforce-oss/workforce-sub002/pkg/slogx"
)

type settings struct {
	transport      bus.Transport
	cache          *cache.Backend
	secrets        worker.Secrets
	requestTimeout time.Duration
	documentSweep  time.Duration
	workerFlush    time.Duration
	logger         *slog.Logger
}

var (
	// WithTransport selects the bus every broker publishes on.
	WithTransport = opts.ForName[settings, bus.Transport]("transport")
	// WithCache backs the channel and tool caches.
	WithCache = opts.ForName[settings, *cache.Backend]("cache")
	// WithRequestTimeout bounds tool executions and document searches.
	WithRequestTimeout = opts.ForName[settings, time.Duration]("requestTimeout")
	// WithDocumentSweep sets the deleted document sweep interval.
	WithDocumentSweep = opts.ForName[settings, time.Duration]("documentSweep")
	// WithWorkerFlush sets the worker queue flush interval.
	WithWorkerFlush = opts.ForName[settings, time.Duration]("workerFlush")
)

// WithSecrets resolves worker channel credentials.
func WithSecrets(secrets worker.Secrets) opts.Option[settings] {
	return opts.Type[settings](func(s *settings) error {
		s.secrets = secrets
		return nil
	})
}

// WithLogger is the parent of every broker logger.
func WithLogger(log *slog.Logger) opts.Option[settings] {
	return opts.Type[settings](func(s *settings) error {
		s.logger = log
		return nil
	})
}

func (s settings) named(kind objects.Kind) *slog.Logger {
	if s.logger == nil {
		return nil
	}
	return s.logger.With(slogx.LoggerName("workforce." + string(kind)))
}

// Manager holds the brokers of one process.
type Manager struct {
	Channels  *channel.Broker
	Tools     *tool.Broker
	Trackers  *tracker.Broker
	Documents *docrepo.Broker
	Resources *resource.Broker
	Workers   *worker.Broker
	Router    *router.Router

	destroy []func(context.Context)
}

func New(ctx context.Context, db *store.DB, options ...opts.Option[settings]) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("manager: store is required")
	}
	var s settings
	if err := opts.Apply(&s, options); err != nil {
		return nil, fmt.Errorf("manager: %w", err)
	}
	if s.cache == nil {
		s.cache = cache.NewLocal()
	}

	m := &Manager{}
	fail := func(err error) (*Manager, error) {
		m.Destroy(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("manager: %w", err)
	}

	var err error
	if m.Channels, err = channel.NewBroker(ctx, channel.Config{
		Transport: s.transport,
		Store:     db,
		Cache:     s.cache,
		Logger:    s.named(objects.KindChannel),
	}); err != nil {
		return fail(err)
	}
	m.push(m.Channels.Destroy)

	if m.Tools, err = tool.NewBroker(ctx, tool.Config{
		Transport:      s.transport,
		Store:          db,
		Cache:          s.cache,
		Channels:       m.Channels,
		RequestTimeout: s.requestTimeout,
		Logger:         s.named(objects.KindTool),
	}); err != nil {
		return fail(err)
	}
	m.push(m.Tools.Destroy)

	if m.Trackers, err = tracker.NewBroker(ctx, tracker.Config{
		Transport: s.transport,
		Store:     db,
		Logger:    s.named(objects.KindTracker),
	}); err != nil {
		return fail(err)
	}
	m.push(m.Trackers.Destroy)

	if m.Documents, err = docrepo.NewBroker(ctx, docrepo.Config{
		Transport:      s.transport,
		Store:          db,
		SweepInterval:  s.documentSweep,
		RequestTimeout: s.requestTimeout,
		Logger:         s.named(objects.KindDocumentRepository),
	}); err != nil {
		return fail(err)
	}
	m.push(m.Documents.Destroy)

	if m.Resources, err = resource.NewBroker(ctx, resource.Config{
		Transport: s.transport,
		Store:     db,
		Logger:    s.named(objects.KindResource),
	}); err != nil {
		return fail(err)
	}
	m.push(m.Resources.Destroy)

	if m.Workers, err = worker.NewBroker(ctx, worker.Config{
		Transport:     s.transport,
		Store:         db,
		Channels:      m.Channels,
		Secrets:       s.secrets,
		FlushInterval: s.workerFlush,
		Logger:        s.named(objects.KindWorker),
	}); err != nil {
		return fail(err)
	}
	m.push(m.Workers.Destroy)

	if m.Router, err = router.New(router.Config{
		Channels:  m.Channels,
		Tools:     m.Tools,
		Trackers:  m.Trackers,
		Resources: m.Resources,
		Logger:    s.named("router"),
	}); err != nil {
		return fail(err)
	}
	m.push(m.Router.Destroy)
	return m, nil
}

// push records a teardown; teardowns run newest first so brokers go away
// before the brokers they call into.
func (m *Manager) push(fn func(context.Context)) {
	m.destroy = append(m.destroy, fn)
}

// Register hands obj to the broker of its kind. obj must implement that
// kind's capability interface.
func (m *Manager) Register(ctx context.Context, obj objects.Object) error {
	kind := obj.Config().Kind
	mismatch := fmt.Errorf("manager: %s %s does not implement the %s interface", kind, obj.Config().ID, kind)
	switch kind {
	case objects.KindChannel:
		if ch, ok := obj.(channel.Channel); ok {
			return m.Channels.Register(ctx, ch)
		}
	case objects.KindTool:
		if t, ok := obj.(tool.Tool); ok {
			return m.Tools.Register(ctx, t)
		}
	case objects.KindTracker:
		if t, ok := obj.(tracker.Tracker); ok {
			return m.Trackers.Register(ctx, t)
		}
	case objects.KindDocumentRepository:
		if r, ok := obj.(docrepo.Repository); ok {
			return m.Documents.Register(ctx, r)
		}
	case objects.KindResource:
		if r, ok := obj.(resource.Resource); ok {
			return m.Resources.Register(ctx, r)
		}
	case objects.KindWorker:
		if w, ok := obj.(worker.Worker); ok {
			return m.Workers.Register(ctx, w)
		}
	default:
		return fmt.Errorf("manager: unknown object kind %q", kind)
	}
	return mismatch
}

// Sync installs the object cfg describes through build, unless an instance
// with an identical configuration is already registered. It reports whether
// a new instance was installed.
func (m *Manager) Sync(ctx context.Context, cfg objects.Config, build func(objects.Config) (objects.Object, error)) (bool, error) {
	switch cfg.Kind {
	case objects.KindChannel:
		return syncAs(ctx, m.Channels.Base, cfg, build, m.Channels.Register)
	case objects.KindTool:
		return syncAs(ctx, m.Tools.Base, cfg, build, m.Tools.Register)
	case objects.KindTracker:
		return syncAs(ctx, m.Trackers.Base, cfg, build, m.Trackers.Register)
	case objects.KindDocumentRepository:
		return syncAs(ctx, m.Documents.Base, cfg, build, m.Documents.Register)
	case objects.KindResource:
		return syncAs(ctx, m.Resources.Base, cfg, build, m.Resources.Register)
	case objects.KindWorker:
		return syncAs(ctx, m.Workers.Base, cfg, build, m.Workers.Register)
	default:
		return false, fmt.Errorf("manager: unknown object kind %q", cfg.Kind)
	}
}

func syncAs[T objects.Object](ctx context.Context, base *objects.Base[T], cfg objects.Config, build func(objects.Config) (objects.Object, error), register func(context.Context, T) error) (bool, error) {
	return base.SyncObject(ctx, cfg, func(cfg objects.Config) (T, error) {
		var zero T
		obj, err := build(cfg)
		if err != nil {
			return zero, err
		}
		typed, ok := obj.(T)
		if !ok {
			return zero, fmt.Errorf("manager: %s %s does not implement the %s interface", cfg.Kind, cfg.ID, cfg.Kind)
		}
		return typed, nil
	}, register)
}

// Remove destroys the object with id in the broker of kind. It reports
// whether the object was registered.
func (m *Manager) Remove(ctx context.Context, kind objects.Kind, id string) (bool, error) {
	switch kind {
	case objects.KindChannel:
		return m.Channels.Remove(ctx, id), nil
	case objects.KindTool:
		return m.Tools.Remove(ctx, id), nil
	case objects.KindTracker:
		return m.Trackers.Remove(ctx, id), nil
	case objects.KindDocumentRepository:
		return m.Documents.Remove(ctx, id), nil
	case objects.KindResource:
		return m.Resources.Remove(ctx, id), nil
	case objects.KindWorker:
		return m.Workers.Remove(ctx, id), nil
	default:
		return false, fmt.Errorf("manager: unknown object kind %q", kind)
	}
}

// Destroy tears every broker down.
func (m *Manager) Destroy(ctx context.Context) {
	for i := len(m.destroy) - 1; i >= 0; i-- {
		m.destroy[i](ctx)
	}
	m.destroy = nil
}
