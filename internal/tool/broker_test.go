package tool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workforce-oss/workforce-sub002/internal/cache"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/store"
	"github.com/workforce-oss/workforce-sub002/pkg/uuidx"
)

type fakeTool struct {
	*Base

	mu        sync.Mutex
	execute   func(context.Context, Request) (Response, error)
	reconcile func(StateQuery) (*objects.ToolState, error)
	sessions  []string
	completed []string
}

func newFakeTool() *fakeTool {
	return &fakeTool{Base: NewBase(objects.Config{
		ID:      uuidx.NewString(),
		Name:    "calculator",
		Kind:    objects.KindTool,
		Subtype: "fake",
	}, Function{Name: "add"})}
}

func (f *fakeTool) Execute(ctx context.Context, req Request) (Response, error) {
	if f.execute != nil {
		return f.execute(ctx, req)
	}
	return Response{Success: true, MachineMessage: req.ToolCall.Name}, nil
}

func (f *fakeTool) GetState(ctx context.Context, q StateQuery) (*objects.ToolState, error) {
	if f.reconcile != nil {
		return f.reconcile(q)
	}
	return f.Base.GetState(ctx, q)
}

func (f *fakeTool) InitSession(_ context.Context, taskExecutionID, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, taskExecutionID)
	return nil
}

func (f *fakeTool) WorkComplete(_ context.Context, taskExecutionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, taskExecutionID)
	return nil
}

type staticThreads map[string]string

func (s staticThreads) GetThreadID(_ context.Context, channelID, taskExecutionID string) (string, bool, error) {
	thread, ok := s[channelID+"/"+taskExecutionID]
	return thread, ok, nil
}

func newTestBroker(t *testing.T, mutate ...func(*Config)) (*Broker, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := Config{Store: db, Cache: cache.NewLocal()}
	for _, fn := range mutate {
		fn(&cfg)
	}
	b, err := NewBroker(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { b.Destroy(context.Background()) })
	return b, db
}

func toolRequests(t *testing.T, db *store.DB, toolID string) []store.ToolRequest {
	t.Helper()
	var rows []store.ToolRequest
	require.NoError(t, db.Gorm().Where("tool_id = ?", toolID).Find(&rows).Error)
	return rows
}

func TestNewBrokerValidates(t *testing.T) {
	_, err := NewBroker(context.Background(), Config{RequestTimeout: -time.Second})
	require.Error(t, err)
	assert.ErrorContains(t, err, "store is required")
	assert.ErrorContains(t, err, "must not be negative")
}

func TestExecuteUnknownTool(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	seen := make(chan Request, 1)
	_, err := b.requests.Subscribe(ctx, func(_ context.Context, r Request) { seen <- r })
	require.NoError(t, err)

	_, err = b.Execute(ctx, Request{ToolID: "missing"})
	require.ErrorIs(t, err, objects.ErrNotFound)

	select {
	case <-seen:
		t.Fatal("request was published")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExecuteRecordsAudit(t *testing.T) {
	b, db := newTestBroker(t)
	ctx := context.Background()
	ft := newFakeTool()
	require.NoError(t, b.Register(ctx, ft))

	resp, err := b.Execute(ctx, Request{
		ToolID:          ft.Config().ID,
		TaskExecutionID: "te1",
		ToolCall:        objects.ToolCall{Name: "add"},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "add", resp.MachineMessage)
	assert.Equal(t, ft.Config().ID, resp.ToolID)
	assert.NotEmpty(t, resp.RequestID)

	require.Eventually(t, func() bool {
		rows := toolRequests(t, db, ft.Config().ID)
		return len(rows) == 1 && rows[0].Status == store.StatusResponseReceived
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecuteFailureIsASyntheticResponse(t *testing.T) {
	b, db := newTestBroker(t)
	ctx := context.Background()
	ft := newFakeTool()
	ft.execute = func(context.Context, Request) (Response, error) {
		return Response{}, errors.New("sandbox unavailable")
	}
	require.NoError(t, b.Register(ctx, ft))

	resp, err := b.Execute(ctx, Request{ToolID: ft.Config().ID, RequestID: "r1", TaskExecutionID: "te1"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "r1", resp.RequestID)
	assert.Equal(t, "sandbox unavailable", resp.MachineMessage)

	require.Eventually(t, func() bool {
		rows := toolRequests(t, db, ft.Config().ID)
		return len(rows) == 1 && rows[0].Status == store.StatusError
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConcurrentExecuteNeverSwapsResponses(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()
	ft := newFakeTool()
	ft.execute = func(_ context.Context, req Request) (Response, error) {
		if req.ToolCall.Name == "slow" {
			time.Sleep(100 * time.Millisecond)
		}
		return Response{Success: true, MachineMessage: req.ToolCall.Name}, nil
	}
	require.NoError(t, b.Register(ctx, ft))

	names := []string{"slow", "fast", "slow", "fast"}
	results := make([]Response, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := b.Execute(ctx, Request{
				ToolID:    ft.Config().ID,
				RequestID: uuidx.NewString(),
				ToolCall:  objects.ToolCall{Name: name},
			})
			assert.NoError(t, err)
			results[i] = resp
		}()
	}
	wg.Wait()

	for i, name := range names {
		assert.Equal(t, name, results[i].MachineMessage)
	}
}

func TestExecuteStampsChannelThread(t *testing.T) {
	b, _ := newTestBroker(t, func(c *Config) {
		c.Channels = staticThreads{"c1/te1": "thread-1"}
	})
	ctx := context.Background()
	ft := newFakeTool()
	ft.execute = func(_ context.Context, req Request) (Response, error) {
		return Response{Success: true, MachineMessage: req.ChannelThreadID}, nil
	}
	require.NoError(t, b.Register(ctx, ft))

	resp, err := b.Execute(ctx, Request{ToolID: ft.Config().ID, ChannelID: "c1", TaskExecutionID: "te1"})
	require.NoError(t, err)
	assert.Equal(t, "thread-1", resp.MachineMessage)
}

func TestExecuteHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	b, _ := newTestBroker(t, func(c *Config) { c.RequestTimeout = 50 * time.Millisecond })
	ft := newFakeTool()
	ft.execute = func(context.Context, Request) (Response, error) {
		<-release
		return Response{Success: true}, nil
	}
	require.NoError(t, b.Register(context.Background(), ft))

	_, err := b.Execute(context.Background(), Request{ToolID: ft.Config().ID})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Execute(ctx, Request{ToolID: ft.Config().ID})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetStateUnknownExecution(t *testing.T) {
	b, _ := newTestBroker(t)
	state, err := b.GetState(context.Background(), StateQuery{TaskExecutionID: "nonexistent-execution"})
	assert.NoError(t, err)
	assert.Nil(t, state)
}

func TestGetStateAfterExecute(t *testing.T) {
	b, db := newTestBroker(t)
	ctx := context.Background()
	ft := newFakeTool()
	ft.execute = func(context.Context, Request) (Response, error) {
		return Response{
			Success:      true,
			MachineState: map[string]any{"step": float64(1)},
			HumanState:   &objects.HumanState{Name: "board", Type: "iframe"},
		}, nil
	}
	require.NoError(t, b.Register(ctx, ft))

	_, err := b.Execute(ctx, Request{ToolID: ft.Config().ID, TaskExecutionID: "te1"})
	require.NoError(t, err)

	state, err := b.GetState(ctx, StateQuery{TaskExecutionID: "te1"})
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, ft.Config().ID, state.ToolID)
	assert.Equal(t, map[string]any{"step": float64(1)}, state.MachineState)
	assert.Equal(t, "board", state.HumanState.Name)

	snap, err := db.LatestToolState(ctx, "te1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.JSONEq(t, `{"step":1}`, snap.MachineState)
}

func TestGetStateFallsBackToDurableSnapshot(t *testing.T) {
	b, db := newTestBroker(t)
	ctx := context.Background()
	ft := newFakeTool()
	ft.reconcile = func(q StateQuery) (*objects.ToolState, error) {
		next := *q.Current
		next.MachineState = map[string]any{"step": q.Current.MachineState["step"].(float64) + 1}
		return &next, nil
	}
	require.NoError(t, b.Register(ctx, ft))

	require.NoError(t, db.UpsertToolState(ctx, &store.ToolStateSnapshot{
		ToolID:          ft.Config().ID,
		TaskExecutionID: "te1",
		MachineState:    `{"step":1}`,
	}))

	state, err := b.GetState(ctx, StateQuery{TaskExecutionID: "te1"})
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, float64(2), state.MachineState["step"])

	cached, ok, err := b.state.Get(ctx, "te1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(2), cached.MachineState["step"])

	snap, err := db.LatestToolState(ctx, "te1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":2}`, snap.MachineState)
}

func TestGetStateForUnregisteredTool(t *testing.T) {
	b, db := newTestBroker(t)
	ctx := context.Background()
	require.NoError(t, db.UpsertToolState(ctx, &store.ToolStateSnapshot{ToolID: "gone", TaskExecutionID: "te1"}))

	state, err := b.GetState(ctx, StateQuery{TaskExecutionID: "te1"})
	assert.NoError(t, err)
	assert.Nil(t, state)
}

func TestLifecycleHooks(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()
	ft := newFakeTool()
	require.NoError(t, b.Register(ctx, ft))

	require.NoError(t, b.InitSession(ctx, ft.Config().ID, "te1", "w1", "c1"))
	require.NoError(t, b.WorkComplete(ctx, ft.Config().ID, "te1"))
	assert.Equal(t, []string{"te1"}, ft.sessions)
	assert.Equal(t, []string{"te1"}, ft.completed)

	assert.ErrorIs(t, b.InitSession(ctx, "missing", "te1", "", ""), objects.ErrNotFound)
	assert.ErrorIs(t, b.WorkComplete(ctx, "missing", "te1"), objects.ErrNotFound)
}

func TestDestroyStopsDelivery(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()
	ft := newFakeTool()
	executed := make(chan struct{}, 1)
	ft.execute = func(context.Context, Request) (Response, error) {
		executed <- struct{}{}
		return Response{Success: true}, nil
	}
	require.NoError(t, b.Register(ctx, ft))

	responses := make(chan Response, 1)
	_, err := b.shared.Subscribe(ctx, func(_ context.Context, r Response) { responses <- r })
	require.NoError(t, err)

	b.Destroy(ctx)
	assert.Zero(t, b.Len())

	_ = b.requests.Publish(ctx, Request{ToolID: ft.Config().ID})
	_ = b.responses.Subject(SubjectResponse).Publish(ctx, Response{ToolID: ft.Config().ID})

	select {
	case <-executed:
		t.Fatal("tool executed after destroy")
	case <-responses:
		t.Fatal("response delivered after destroy")
	case <-time.After(50 * time.Millisecond):
	}
}
