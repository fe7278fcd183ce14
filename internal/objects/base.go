package objects

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/workforce-oss/workforce-sub002/internal/registry"
	"github.com/workforce-oss/workforce-sub002/pkg/slogx"
)

// Setup prepares side channels for a new instance before it becomes
// routable. The returned cleanups run when the instance is removed.
type Setup[T Object] func(ctx context.Context, obj T) ([]func(), error)

type entry[T Object] struct {
	obj      T
	gen      uint64
	cleanups []func()
	stop     chan struct{}
}

// Base is the registry half of every broker. Register and Remove are
// serialized; lookups are lock free.
type Base[T Object] struct {
	kind    Kind
	log     *slog.Logger
	objects registry.Registry[*entry[T]]
	mu      sync.Mutex
	gen     atomic.Uint64
}

func NewBase[T Object](kind Kind, log *slog.Logger) *Base[T] {
	if log == nil {
		log = slog.Default().With(slogx.LoggerName("workforce." + string(kind)))
	}
	return &Base[T]{
		kind:    kind,
		log:     log,
		objects: registry.New[*entry[T]](),
	}
}

func (b *Base[T]) Kind() Kind { return b.kind }

func (b *Base[T]) Logger() *slog.Logger { return b.log }

// Register installs obj under its id, tearing down any instance already
// registered there first. The instance's error stream removes it on the
// first reported error.
func (b *Base[T]) Register(ctx context.Context, obj T, setup Setup[T]) error {
	cfg := obj.Config()
	if cfg.ID == "" {
		return fmt.Errorf("%s: register: %w", b.kind, ErrInvalidID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects.Get(cfg.ID); exists {
		b.log.InfoContext(ctx, "replacing registered object", slogx.ObjectID(cfg.ID))
		b.removeLocked(ctx, cfg.ID, 0)
	}

	var cleanups []func()
	if setup != nil {
		var err error
		cleanups, err = setup(ctx, obj)
		if err != nil {
			runCleanups(cleanups)
			return fmt.Errorf("%s: register %s: %w", b.kind, cfg.ID, err)
		}
	}

	e := &entry[T]{
		obj:      obj,
		gen:      b.gen.Add(1),
		cleanups: cleanups,
		stop:     make(chan struct{}),
	}
	b.objects.Set(cfg.ID, e)
	if errs := obj.Errors(); errs != nil {
		go b.watchErrors(context.WithoutCancel(ctx), cfg.ID, e, errs)
	}

	b.log.DebugContext(ctx, "registered object",
		slogx.ObjectID(cfg.ID),
		slog.String("subtype", cfg.Subtype),
		slog.Int("count", b.CountBySubtype(cfg.Subtype)),
	)
	return nil
}

func (b *Base[T]) watchErrors(ctx context.Context, id string, e *entry[T], errs <-chan ObjectError) {
	select {
	case <-e.stop:
	case oerr, ok := <-errs:
		if !ok {
			return
		}
		b.log.ErrorContext(ctx, "object reported an error, removing it",
			slogx.ObjectID(id), slogx.Error(oerr))
		b.mu.Lock()
		defer b.mu.Unlock()
		b.removeLocked(ctx, id, e.gen)
	}
}

// Remove destroys the instance and drops its entry and side channels.
// Destroy errors are logged. It reports whether anything was removed.
func (b *Base[T]) Remove(ctx context.Context, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(ctx, id, 0)
}

// removeLocked removes id. A non-zero gen only removes that generation.
func (b *Base[T]) removeLocked(ctx context.Context, id string, gen uint64) bool {
	e, ok := b.objects.Get(id)
	if !ok || (gen != 0 && e.gen != gen) {
		return false
	}

	if err := e.obj.Destroy(ctx); err != nil {
		b.log.ErrorContext(ctx, "failed to destroy object", slogx.ObjectID(id), slogx.Error(err))
	}
	b.objects.Del(id)
	close(e.stop)
	runCleanups(e.cleanups)

	b.log.DebugContext(ctx, "removed object", slogx.ObjectID(id))
	return true
}

func runCleanups(cleanups []func()) {
	for _, fn := range cleanups {
		if fn != nil {
			fn()
		}
	}
}

// RemoveAll removes every registered instance.
func (b *Base[T]) RemoveAll(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range b.objects.Keys() {
		b.removeLocked(ctx, id, 0)
	}
}

// GetObject returns the live instance for id. Absence means the object is
// currently unroutable.
func (b *Base[T]) GetObject(id string) (T, bool) {
	e, ok := b.objects.Get(id)
	if !ok {
		var zero T
		return zero, false
	}
	return e.obj, true
}

// Lookup is GetObject returning ErrNotFound for absent ids.
func (b *Base[T]) Lookup(id string) (T, error) {
	obj, ok := b.GetObject(id)
	if !ok {
		return obj, NotFound(b.kind, id)
	}
	return obj, nil
}

func (b *Base[T]) Keys() []string { return b.objects.Keys() }

func (b *Base[T]) Len() int { return b.objects.Len() }

// Range visits every live instance until fn returns false.
func (b *Base[T]) Range(fn func(id string, obj T) bool) {
	b.objects.Range(func(id string, e *entry[T]) bool {
		return fn(id, e.obj)
	})
}

func (b *Base[T]) CountBySubtype(subtype string) int {
	n := 0
	b.objects.Range(func(_ string, e *entry[T]) bool {
		if e.obj.Config().Subtype == subtype {
			n++
		}
		return true
	})
	return n
}

// SyncObject brings the registry in line with cfg: an instance whose
// configuration is unchanged is left alone, otherwise a new one is built and
// registered through register. It reports whether a new instance was
// installed.
func (b *Base[T]) SyncObject(ctx context.Context, cfg Config, build func(Config) (T, error), register func(context.Context, T) error) (bool, error) {
	if current, ok := b.GetObject(cfg.ID); ok && reflect.DeepEqual(current.Config(), cfg) {
		return false, nil
	}
	obj, err := build(cfg)
	if err != nil {
		return false, fmt.Errorf("%s: sync %s: %w", b.kind, cfg.ID, err)
	}
	if err := register(ctx, obj); err != nil {
		return false, err
	}
	return true, nil
}
