package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/goccy/go-json"
	"github.com/workforce-oss/workforce-sub002/internal/bus"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/store"
	"github.com/workforce-oss/workforce-sub002/pkg/slogx"
	"github.com/workforce-oss/workforce-sub002/pkg/uuidx"
)

const (
	SubjectWrite   = "resource.write"
	SubjectVersion = "resource.version"
)

// VersionSubject carries the versions of one resource.
func VersionSubject(resourceID string) string { return SubjectVersion + "." + resourceID }

type Store interface {
	CreateResourceWrite(ctx context.Context, w *store.ResourceWrite) error
	UpdateResourceWriteStatus(ctx context.Context, id, status, errMsg string) error
	CreateResourceVersion(ctx context.Context, v *store.ResourceVersion) error
	LatestResourceVersion(ctx context.Context, resourceID string) (*store.ResourceVersion, error)
}

type Config struct {
	Transport bus.Transport
	Store     Store
	Logger    *slog.Logger
}

type Broker struct {
	*objects.Base[Resource]

	store    Store
	writes   bus.Subject[WriteRequest]
	versions bus.Broker[Version]
	shared   bus.Subject[Version]

	ctx    context.Context
	cancel context.CancelFunc
}

func NewBroker(ctx context.Context, cfg Config) (*Broker, error) {
	if cfg.Store == nil {
		return nil, errors.New("resource: store is required")
	}
	writes, err := bus.New[WriteRequest](cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("resource: %w", err)
	}
	versions, err := bus.New[Version](cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("resource: %w", err)
	}

	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &Broker{
		Base:     objects.NewBase[Resource](objects.KindResource, cfg.Logger),
		store:    cfg.Store,
		writes:   writes.Subject(SubjectWrite),
		versions: versions,
		shared:   versions.Subject(SubjectVersion),
		ctx:      bctx,
		cancel:   cancel,
	}
	if _, err := b.writes.Subscribe(bctx, b.handleWrite); err != nil {
		cancel()
		return nil, fmt.Errorf("resource: subscribe %s: %w", SubjectWrite, err)
	}
	if _, err := b.shared.Subscribe(bctx, b.handleVersion); err != nil {
		cancel()
		return nil, fmt.Errorf("resource: subscribe %s: %w", SubjectVersion, err)
	}
	return b, nil
}

// Register installs the resource and republishes its versions on the shared
// version subject.
func (b *Broker) Register(ctx context.Context, r Resource) error {
	return b.Base.Register(ctx, r, b.manageWatches)
}

func (b *Broker) manageWatches(_ context.Context, r Resource) ([]func(), error) {
	id := r.Config().ID
	subject := b.versions.Subject(VersionSubject(id))
	stop, err := r.Watch(b.ctx, func(ctx context.Context, v Version) {
		if v.ResourceID != id {
			return
		}
		if err := b.shared.Publish(ctx, v); err != nil && ctx.Err() == nil {
			b.Logger().WarnContext(ctx, "failed to publish resource version", slogx.ObjectID(id), slogx.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	return []func(){stop, subject.Complete}, nil
}

// Write hands req to its resource without waiting for it.
func (b *Broker) Write(ctx context.Context, req WriteRequest) error {
	if _, err := b.Lookup(req.ResourceID); err != nil {
		return fmt.Errorf("resource: write: %w", err)
	}
	if req.RequestID == "" {
		req.RequestID = uuidx.NewString()
	}
	return b.writes.Publish(ctx, req)
}

func (b *Broker) handleWrite(_ context.Context, req WriteRequest) {
	go b.write(b.ctx, req)
}

func (b *Broker) write(ctx context.Context, req WriteRequest) {
	log := b.Logger().With(slogx.ObjectID(req.ResourceID), slogx.RequestID(req.RequestID))
	r, ok := b.GetObject(req.ResourceID)
	if !ok {
		log.ErrorContext(ctx, "dropping write for unknown resource")
		return
	}

	data, _ := json.Marshal(req.Data)
	row := &store.ResourceWrite{
		ID:         uuidx.NewString(),
		ResourceID: req.ResourceID,
		Status:     store.StatusStarted,
		Message:    req.Message,
		Data:       string(data),
	}
	if err := b.store.CreateResourceWrite(ctx, row); err != nil {
		log.ErrorContext(ctx, "failed to record resource write", slogx.Error(err))
	}

	if err := r.Write(ctx, req); err != nil {
		log.ErrorContext(ctx, "resource write failed", slogx.Error(err))
		if err := b.store.UpdateResourceWriteStatus(ctx, row.ID, store.StatusFailed, err.Error()); err != nil {
			log.ErrorContext(ctx, "failed to update resource write", slogx.Error(err))
		}
		return
	}
	if err := b.store.UpdateResourceWriteStatus(ctx, row.ID, store.StatusSuccess, ""); err != nil {
		log.ErrorContext(ctx, "failed to update resource write", slogx.Error(err))
	}
	if err := r.Refresh(ctx); err != nil {
		log.ErrorContext(ctx, "failed to refresh resource", slogx.Error(err))
	}
}

func (b *Broker) handleVersion(ctx context.Context, v Version) {
	log := b.Logger().With(slogx.ObjectID(v.ResourceID))
	if _, ok := b.GetObject(v.ResourceID); !ok {
		log.DebugContext(ctx, "version for unknown resource")
		return
	}
	if time.Time(v.Timestamp).IsZero() {
		v.Timestamp = strfmt.DateTime(time.Now())
	}
	data, _ := json.Marshal(v)
	if err := b.store.CreateResourceVersion(ctx, &store.ResourceVersion{
		ID:         uuidx.NewString(),
		ResourceID: v.ResourceID,
		Data:       string(data),
	}); err != nil {
		log.ErrorContext(ctx, "failed to record resource version", slogx.Error(err))
	}
	if err := b.versions.Subject(VersionSubject(v.ResourceID)).Publish(ctx, v); err != nil && !errors.Is(err, bus.ErrSubjectClosed) {
		log.WarnContext(ctx, "failed to route resource version", slogx.Error(err))
	}
}

// LatestVersion returns the last version the resource emitted, falling back
// to the last recorded one.
func (b *Broker) LatestVersion(ctx context.Context, resourceID string) (Version, error) {
	r, err := b.Lookup(resourceID)
	if err != nil {
		return Version{}, fmt.Errorf("resource: latest version: %w", err)
	}
	if v, ok := r.LatestVersion(ctx); ok {
		return v, nil
	}
	row, err := b.store.LatestResourceVersion(ctx, resourceID)
	if err != nil {
		return Version{}, fmt.Errorf("resource: latest version: %w", err)
	}
	if row == nil {
		return Version{}, fmt.Errorf("resource: no version of %s: %w", resourceID, objects.ErrNotFound)
	}
	var v Version
	if err := json.Unmarshal([]byte(row.Data), &v); err != nil {
		return Version{}, fmt.Errorf("resource: decode version of %s: %w", resourceID, err)
	}
	return v, nil
}

func (b *Broker) FetchObject(ctx context.Context, resourceID string, v Version, name string) (Object, error) {
	r, err := b.Lookup(resourceID)
	if err != nil {
		return Object{}, fmt.Errorf("resource: fetch object: %w", err)
	}
	return r.FetchObject(ctx, v, name)
}

// Subscribe delivers the versions of one resource.
func (b *Broker) Subscribe(ctx context.Context, resourceID string, fn bus.Handler[Version]) (bus.Subscription, error) {
	if _, err := b.Lookup(resourceID); err != nil {
		return nil, fmt.Errorf("resource: subscribe: %w", err)
	}
	return b.versions.Subject(VersionSubject(resourceID)).Subscribe(ctx, fn)
}

func (b *Broker) Destroy(ctx context.Context) {
	b.RemoveAll(ctx)
	b.cancel()
	b.writes.Complete()
	b.shared.Complete()
}
