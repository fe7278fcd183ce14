package manager_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	chmock "github.com/workforce-oss/workforce-sub002/internal/channel/mock"
	docmock "github.com/workforce-oss/workforce-sub002/internal/docrepo/mock"
	"github.com/workforce-oss/workforce-sub002/internal/manager"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	resmock "github.com/workforce-oss/workforce-sub002/internal/resource/mock"
	"github.com/workforce-oss/workforce-sub002/internal/store"
	toolmock "github.com/workforce-oss/workforce-sub002/internal/tool/mock"
	trmock "github.com/workforce-oss/workforce-sub002/internal/tracker/mock"
	"github.com/workforce-oss/workforce-sub002/internal/worker"
	wmock "github.com/workforce-oss/workforce-sub002/internal/worker/mock"
	"github.com/workforce-oss/workforce-sub002/pkg/uuidx"
)

func newManager(t *testing.T) *manager.Manager {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m, err := manager.New(context.Background(), db,
		manager.WithDocumentSweep(-1),
		manager.WithWorkerFlush(-1),
		manager.WithSecrets(worker.StaticSecrets{}),
		manager.WithLogger(slog.Default()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { m.Destroy(context.Background()) })
	return m
}

func cfg(kind objects.Kind, subtype string) objects.Config {
	return objects.Config{ID: uuidx.NewString(), Name: "obj", Kind: kind, Subtype: subtype}
}

func TestNewRequiresStore(t *testing.T) {
	_, err := manager.New(context.Background(), nil)
	require.Error(t, err)
}

func TestRegisterRoutesByKind(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	objs := []objects.Object{
		chmock.New(cfg(objects.KindChannel, chmock.Subtype)),
		toolmock.New(cfg(objects.KindTool, toolmock.Subtype)),
		trmock.New(cfg(objects.KindTracker, trmock.Subtype)),
		docmock.New(cfg(objects.KindDocumentRepository, docmock.Subtype)),
		resmock.New(cfg(objects.KindResource, resmock.Subtype)),
		wmock.New(cfg(objects.KindWorker, wmock.Subtype)),
	}
	for _, obj := range objs {
		require.NoError(t, m.Register(ctx, obj))
	}
	assert.Equal(t, 1, m.Channels.Len())
	assert.Equal(t, 1, m.Tools.Len())
	assert.Equal(t, 1, m.Trackers.Len())
	assert.Equal(t, 1, m.Documents.Len())
	assert.Equal(t, 1, m.Resources.Len())
	assert.Equal(t, 1, m.Workers.Len())

	for _, obj := range objs {
		removed, err := m.Remove(ctx, obj.Config().Kind, obj.Config().ID)
		require.NoError(t, err)
		assert.True(t, removed)
	}
	assert.Zero(t, m.Channels.Len())
	assert.Zero(t, m.Workers.Len())
}

func TestRegisterRejectsMismatchedKind(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	ch := chmock.New(cfg(objects.KindTool, chmock.Subtype))
	require.Error(t, m.Register(ctx, ch))
	assert.Zero(t, m.Tools.Len())

	require.Error(t, m.Register(ctx, chmock.New(cfg("gadget", chmock.Subtype))))
	_, err := m.Remove(ctx, "gadget", "x")
	require.Error(t, err)
}

func TestDestroyEmptiesEveryBroker(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	require.NoError(t, m.Register(ctx, chmock.New(cfg(objects.KindChannel, chmock.Subtype))))
	require.NoError(t, m.Register(ctx, wmock.New(cfg(objects.KindWorker, wmock.Subtype))))

	m.Destroy(ctx)
	assert.Zero(t, m.Channels.Len())
	assert.Zero(t, m.Workers.Len())
	m.Destroy(ctx)
}

func TestSync(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	builds := 0
	build := func(c objects.Config) (objects.Object, error) {
		builds++
		return chmock.New(c), nil
	}

	c := cfg(objects.KindChannel, chmock.Subtype)
	changed, err := m.Sync(ctx, c, build)
	require.NoError(t, err)
	assert.True(t, changed)
	first, ok := m.Channels.GetObject(c.ID)
	require.True(t, ok)

	changed, err = m.Sync(ctx, c, build)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, builds)

	c.Name = "renamed"
	changed, err = m.Sync(ctx, c, build)
	require.NoError(t, err)
	assert.True(t, changed)
	current, _ := m.Channels.GetObject(c.ID)
	assert.NotSame(t, first, current)
	assert.Equal(t, 1, m.Channels.Len())

	_, err = m.Sync(ctx, cfg(objects.KindTool, chmock.Subtype), build)
	require.Error(t, err)
	assert.Zero(t, m.Tools.Len())
	_, err = m.Sync(ctx, cfg("gadget", chmock.Subtype), build)
	require.Error(t, err)
}
