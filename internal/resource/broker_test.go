package resource_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/resource"
	"github.com/workforce-oss/workforce-sub002/internal/resource/mock"
	"github.com/workforce-oss/workforce-sub002/internal/store"
	"github.com/workforce-oss/workforce-sub002/pkg/uuidx"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type failingResource struct {
	*mock.Resource
}

func (f *failingResource) Write(context.Context, resource.WriteRequest) error {
	return errors.New("permission denied")
}

type bareResource struct {
	*resource.Base
}

func (bareResource) Write(context.Context, resource.WriteRequest) error { return nil }

func testConfig() objects.Config {
	return objects.Config{
		ID:      uuidx.NewString(),
		Name:    "Design Doc",
		Kind:    objects.KindResource,
		Subtype: mock.Subtype,
	}
}

func newTestBroker(t *testing.T) (*resource.Broker, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	b, err := resource.NewBroker(context.Background(), resource.Config{Store: db})
	require.NoError(t, err)
	t.Cleanup(func() { b.Destroy(context.Background()) })
	return b, db
}

func writeRow(t *testing.T, db *store.DB, resourceID string) *store.ResourceWrite {
	t.Helper()
	var rows []store.ResourceWrite
	require.NoError(t, db.Gorm().Where("resource_id = ?", resourceID).Find(&rows).Error)
	if len(rows) == 0 {
		return nil
	}
	return &rows[0]
}

func countVersions(t *testing.T, db *store.DB, resourceID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Gorm().Model(&store.ResourceVersion{}).Where("resource_id = ?", resourceID).Count(&n).Error)
	return n
}

func TestNewBrokerRequiresStore(t *testing.T) {
	_, err := resource.NewBroker(context.Background(), resource.Config{})
	require.Error(t, err)
}

func TestWriteUnknownResource(t *testing.T) {
	b, _ := newTestBroker(t)
	err := b.Write(context.Background(), resource.WriteRequest{ResourceID: "missing"})
	require.ErrorIs(t, err, objects.ErrNotFound)
}

func TestWriteSucceedsAndRefreshes(t *testing.T) {
	b, db := newTestBroker(t)
	ctx := context.Background()
	r := mock.New(testConfig())
	require.NoError(t, b.Register(ctx, r))
	id := r.Config().ID

	require.NoError(t, b.Write(ctx, resource.WriteRequest{
		ResourceID: id,
		Message:    "add overview",
		Data:       map[string]any{"name": "overview.md", "content": "# Overview"},
	}))

	require.Eventually(t, func() bool {
		row := writeRow(t, db, id)
		return row != nil && row.Status == store.StatusSuccess
	}, waitFor, tick)
	row := writeRow(t, db, id)
	assert.Equal(t, "add overview", row.Message)
	assert.JSONEq(t, `{"name":"overview.md","content":"# Overview"}`, row.Data)

	// initial version, the write, and the refresh
	require.Eventually(t, func() bool { return countVersions(t, db, id) == 3 }, waitFor, tick)

	obj, err := b.FetchObject(ctx, id, resource.Version{}, mock.ObjectName)
	require.NoError(t, err)
	assert.Equal(t, "# Overview", obj.Content)
}

func TestWriteFailureMarksFailed(t *testing.T) {
	b, db := newTestBroker(t)
	ctx := context.Background()
	r := &failingResource{Resource: mock.New(testConfig())}
	require.NoError(t, b.Register(ctx, r))
	id := r.Config().ID

	require.NoError(t, b.Write(ctx, resource.WriteRequest{ResourceID: id, Data: map[string]any{"name": "x"}}))
	require.Eventually(t, func() bool {
		row := writeRow(t, db, id)
		return row != nil && row.Status == store.StatusFailed
	}, waitFor, tick)
	assert.Equal(t, "permission denied", writeRow(t, db, id).Error)
	require.Never(t, func() bool { return countVersions(t, db, id) > 1 }, 200*time.Millisecond, tick)
}

func TestLatestVersion(t *testing.T) {
	b, db := newTestBroker(t)
	ctx := context.Background()

	t.Run("from the resource", func(t *testing.T) {
		r := mock.New(testConfig())
		require.NoError(t, b.Register(ctx, r))
		v, err := b.LatestVersion(ctx, r.Config().ID)
		require.NoError(t, err)
		assert.Equal(t, mock.VersionID, v.VersionID)
		assert.Equal(t, []string{mock.ObjectName}, v.ObjectNames)
	})

	t.Run("from the store", func(t *testing.T) {
		r := bareResource{Base: resource.NewBase(testConfig())}
		require.NoError(t, b.Register(ctx, r))
		id := r.Config().ID

		_, err := b.LatestVersion(ctx, id)
		require.ErrorIs(t, err, objects.ErrNotFound)

		data, err := json.Marshal(resource.Version{ResourceID: id, VersionID: "v7"})
		require.NoError(t, err)
		require.NoError(t, db.CreateResourceVersion(ctx, &store.ResourceVersion{ID: "row", ResourceID: id, Data: string(data)}))

		v, err := b.LatestVersion(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "v7", v.VersionID)
	})

	t.Run("unknown resource", func(t *testing.T) {
		_, err := b.LatestVersion(ctx, "missing")
		require.ErrorIs(t, err, objects.ErrNotFound)
	})
}

func TestSubscribeDeliversOwnVersions(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()
	one, two := mock.New(testConfig()), mock.New(testConfig())
	require.NoError(t, b.Register(ctx, one))
	require.NoError(t, b.Register(ctx, two))

	var (
		mu   sync.Mutex
		seen []string
	)
	sub, err := b.Subscribe(ctx, one.Config().ID, func(_ context.Context, v resource.Version) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, v.ResourceID)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, two.Refresh(ctx))
	require.NoError(t, one.Refresh(ctx))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 1
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	for _, id := range seen {
		assert.Equal(t, one.Config().ID, id)
	}

	_, err = b.Subscribe(ctx, "missing", func(context.Context, resource.Version) {})
	require.ErrorIs(t, err, objects.ErrNotFound)
}

func TestDestroyRemovesResources(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()
	r := mock.New(testConfig())
	require.NoError(t, b.Register(ctx, r))

	b.Destroy(ctx)
	assert.Zero(t, b.Len())
	require.ErrorIs(t, b.Write(ctx, resource.WriteRequest{ResourceID: r.Config().ID}), objects.ErrNotFound)
	select {
	case <-r.Done():
	default:
		t.Fatal("resource was not destroyed")
	}
}
