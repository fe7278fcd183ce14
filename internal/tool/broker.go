package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/goccy/go-json"
	"github.com/workforce-oss/workforce-sub002/internal/bus"
	"github.com/workforce-oss/workforce-sub002/internal/cache"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/store"
	"github.com/workforce-oss/workforce-sub002/pkg/slogx"
	"github.com/workforce-oss/workforce-sub002/pkg/uuidx"
)

const (
	SubjectRequest  = "tool.request"
	SubjectResponse = "tool.response"

	stateCacheName = "tool.taskExecutionIdsToToolState"
)

// ResponseSubject carries the responses of one tool.
func ResponseSubject(toolID string) string { return SubjectResponse + "." + toolID }

type Store interface {
	CreateToolRequest(ctx context.Context, req *store.ToolRequest) error
	UpdateToolRequest(ctx context.Context, id, status, response string) error
	UpsertToolState(ctx context.Context, s *store.ToolStateSnapshot) error
	LatestToolState(ctx context.Context, taskExecutionID string) (*store.ToolStateSnapshot, error)
}

// ThreadResolver finds the conversation thread a task execution is bound to
// on a channel.
type ThreadResolver interface {
	GetThreadID(ctx context.Context, channelID, taskExecutionID string) (string, bool, error)
}

type Config struct {
	Transport bus.Transport
	Store     Store
	Cache     *cache.Backend
	// Channels stamps channel thread ids on requests. Optional.
	Channels ThreadResolver
	// RequestTimeout bounds Execute when the caller's context has no
	// deadline. Zero waits for as long as the context allows.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

func (c Config) validate() error {
	var err error
	if c.Store == nil {
		err = errors.Join(err, errors.New("tool: store is required"))
	}
	if c.RequestTimeout < 0 {
		err = errors.Join(err, errors.New("tool: request timeout must not be negative"))
	}
	return err
}

type Broker struct {
	*objects.Base[Tool]

	store     Store
	channels  ThreadResolver
	timeout   time.Duration
	state     cache.Map[objects.ToolState]
	requests  bus.Subject[Request]
	responses bus.Broker[Response]
	shared    bus.Subject[Response]

	ctx    context.Context
	cancel context.CancelFunc
}

func NewBroker(ctx context.Context, cfg Config) (*Broker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	requests, err := bus.New[Request](cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("tool: %w", err)
	}
	responses, err := bus.New[Response](cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("tool: %w", err)
	}
	state, err := cache.New[objects.ToolState](cfg.Cache, stateCacheName)
	if err != nil {
		return nil, fmt.Errorf("tool: state cache: %w", err)
	}

	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &Broker{
		Base:      objects.NewBase[Tool](objects.KindTool, cfg.Logger),
		store:     cfg.Store,
		channels:  cfg.Channels,
		timeout:   cfg.RequestTimeout,
		state:     state,
		requests:  requests.Subject(SubjectRequest),
		responses: responses,
		shared:    responses.Subject(SubjectResponse),
		ctx:       bctx,
		cancel:    cancel,
	}
	if _, err := b.requests.Subscribe(bctx, b.handleRequest); err != nil {
		cancel()
		return nil, fmt.Errorf("tool: subscribe %s: %w", SubjectRequest, err)
	}
	if _, err := b.shared.Subscribe(bctx, b.handleResponse); err != nil {
		cancel()
		return nil, fmt.Errorf("tool: subscribe %s: %w", SubjectResponse, err)
	}
	return b, nil
}

func (b *Broker) Register(ctx context.Context, t Tool) error {
	return b.Base.Register(ctx, t, func(_ context.Context, t Tool) ([]func(), error) {
		subject := b.responses.Subject(ResponseSubject(t.Config().ID))
		return []func(){subject.Complete}, nil
	})
}

func (b *Broker) handleRequest(_ context.Context, req Request) {
	go b.dispatch(b.ctx, req)
}

func (b *Broker) dispatch(ctx context.Context, req Request) {
	log := b.Logger().With(slogx.ObjectID(req.ToolID), slogx.RequestID(req.RequestID))
	t, ok := b.GetObject(req.ToolID)
	if !ok {
		log.DebugContext(ctx, "dropping request for unknown tool")
		return
	}

	if req.ChannelID != "" && b.channels != nil {
		thread, ok, err := b.channels.GetThreadID(ctx, req.ChannelID, req.TaskExecutionID)
		switch {
		case err != nil:
			log.WarnContext(ctx, "failed to resolve channel thread", slogx.Error(err))
		case ok:
			req.ChannelThreadID = thread
		}
	}

	auditID := uuidx.NewString()
	payload, _ := json.Marshal(req)
	if err := b.store.CreateToolRequest(ctx, &store.ToolRequest{
		ID:              auditID,
		ToolID:          req.ToolID,
		TaskExecutionID: req.TaskExecutionID,
		Status:          store.StatusAwaitingResponse,
		Request:         string(payload),
	}); err != nil {
		log.ErrorContext(ctx, "failed to record tool request", slogx.Error(err))
	}

	resp, err := t.Execute(ctx, req)
	status := store.StatusResponseReceived
	if err != nil {
		log.ErrorContext(ctx, "tool execution failed", slogx.Error(err))
		status = store.StatusError
		resp = Response{Success: false, MachineMessage: err.Error()}
	}
	resp.ToolID = req.ToolID
	resp.RequestID = req.RequestID
	resp.TaskExecutionID = req.TaskExecutionID
	if time.Time(resp.Timestamp).IsZero() {
		resp.Timestamp = strfmt.DateTime(time.Now())
	}

	var recorded []byte
	if err != nil {
		recorded, _ = json.Marshal(map[string]string{"error": err.Error()})
	} else {
		recorded, _ = json.Marshal(resp)
	}
	if err := b.store.UpdateToolRequest(ctx, auditID, status, string(recorded)); err != nil {
		log.ErrorContext(ctx, "failed to update tool request", slogx.Error(err))
	}

	if err := b.shared.Publish(ctx, resp); err != nil {
		log.ErrorContext(ctx, "failed to publish tool response", slogx.Error(err))
	}
}

func (b *Broker) handleResponse(ctx context.Context, resp Response) {
	if _, ok := b.GetObject(resp.ToolID); !ok {
		b.Logger().DebugContext(ctx, "response for unknown tool", slogx.ObjectID(resp.ToolID))
		return
	}
	if err := b.responses.Subject(ResponseSubject(resp.ToolID)).Publish(ctx, resp); err != nil && !errors.Is(err, bus.ErrSubjectClosed) {
		b.Logger().WarnContext(ctx, "failed to route tool response",
			slogx.ObjectID(resp.ToolID), slogx.Error(err))
	}
}

// Execute sends req to its tool and waits for the matching response. Any
// state in the response is kept for GetState.
func (b *Broker) Execute(ctx context.Context, req Request) (Response, error) {
	if _, err := b.Lookup(req.ToolID); err != nil {
		return Response{}, fmt.Errorf("tool: execute: %w", err)
	}
	if req.RequestID == "" {
		req.RequestID = uuidx.NewString()
	}
	if time.Time(req.Timestamp).IsZero() {
		req.Timestamp = strfmt.DateTime(time.Now())
	}
	if _, ok := ctx.Deadline(); !ok && b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	resp, err := bus.Await(ctx, b.responses.Subject(ResponseSubject(req.ToolID)),
		func(r Response) bool { return r.RequestID == req.RequestID },
		func(ctx context.Context) error { return b.requests.Publish(ctx, req) },
	)
	if err != nil {
		return Response{}, fmt.Errorf("tool: execute %s: %w", req.ToolID, err)
	}
	if resp.HasState() {
		b.recordResponseState(ctx, req, resp)
	}
	return resp, nil
}

func (b *Broker) recordResponseState(ctx context.Context, req Request, resp Response) {
	state := objects.ToolState{
		ToolID:          req.ToolID,
		TaskExecutionID: req.TaskExecutionID,
		MachineState:    resp.MachineState,
		MachineImage:    resp.MachineImage,
		HumanState:      resp.HumanState,
		Timestamp:       strfmt.DateTime(time.Now()),
	}
	if prev, ok, err := b.state.Get(ctx, req.TaskExecutionID); err == nil && ok && prev.ToolID == req.ToolID {
		if state.MachineState == nil {
			state.MachineState = prev.MachineState
		}
		if state.HumanState == nil {
			state.HumanState = prev.HumanState
		}
	}
	b.saveState(ctx, state)
}

func (b *Broker) saveState(ctx context.Context, state objects.ToolState) {
	log := b.Logger().With(slogx.ObjectID(state.ToolID), slogx.TaskExecutionID(state.TaskExecutionID))
	if err := b.state.Set(ctx, state.TaskExecutionID, state); err != nil {
		log.ErrorContext(ctx, "failed to cache tool state", slogx.Error(err))
	}
	if err := b.store.UpsertToolState(ctx, toSnapshot(state)); err != nil {
		log.ErrorContext(ctx, "failed to store tool state", slogx.Error(err))
	}
}

// GetState returns the state of q.TaskExecutionID after the owning tool had
// a chance to reconcile it. Nothing known yields nil without error.
func (b *Broker) GetState(ctx context.Context, q StateQuery) (*objects.ToolState, error) {
	log := b.Logger().With(slogx.TaskExecutionID(q.TaskExecutionID))

	current, ok, err := b.state.Get(ctx, q.TaskExecutionID)
	if err != nil {
		log.ErrorContext(ctx, "failed to read cached tool state", slogx.Error(err))
		ok = false
	}
	if !ok {
		snapshot, err := b.store.LatestToolState(ctx, q.TaskExecutionID)
		if err != nil {
			log.ErrorContext(ctx, "failed to read stored tool state", slogx.Error(err))
			return nil, nil
		}
		if snapshot == nil {
			return nil, nil
		}
		current = fromSnapshot(snapshot)
	}
	if current.ToolID == "" {
		log.WarnContext(ctx, "tool state has no tool id")
		return nil, nil
	}

	t, ok := b.GetObject(current.ToolID)
	if !ok {
		log.DebugContext(ctx, "tool for state is not registered", slogx.ObjectID(current.ToolID))
		return nil, nil
	}
	q.Current = &current
	state, err := t.GetState(ctx, q)
	if err != nil {
		log.ErrorContext(ctx, "tool failed to reconcile state", slogx.ObjectID(current.ToolID), slogx.Error(err))
		return nil, nil
	}
	if state == nil {
		return nil, nil
	}
	if state.ToolID == "" {
		state.ToolID = current.ToolID
	}
	if state.TaskExecutionID == "" {
		state.TaskExecutionID = q.TaskExecutionID
	}
	b.saveState(ctx, *state)
	return state, nil
}

// InitSession lets a tool prepare for a task execution.
func (b *Broker) InitSession(ctx context.Context, toolID, taskExecutionID, workerID, channelID string) error {
	t, err := b.Lookup(toolID)
	if err != nil {
		return fmt.Errorf("tool: init session: %w", err)
	}
	if err := t.InitSession(ctx, taskExecutionID, workerID, channelID); err != nil {
		b.Logger().ErrorContext(ctx, "tool failed to init session",
			slogx.ObjectID(toolID), slogx.TaskExecutionID(taskExecutionID), slogx.Error(err))
		return fmt.Errorf("tool: init session %s: %w", toolID, err)
	}
	return nil
}

// WorkComplete tells a tool the task execution finished.
func (b *Broker) WorkComplete(ctx context.Context, toolID, taskExecutionID string) error {
	t, err := b.Lookup(toolID)
	if err != nil {
		return fmt.Errorf("tool: work complete: %w", err)
	}
	if err := t.WorkComplete(ctx, taskExecutionID); err != nil {
		b.Logger().ErrorContext(ctx, "tool failed to complete work",
			slogx.ObjectID(toolID), slogx.TaskExecutionID(taskExecutionID), slogx.Error(err))
		return fmt.Errorf("tool: work complete %s: %w", toolID, err)
	}
	return nil
}

func (b *Broker) Destroy(ctx context.Context) {
	b.RemoveAll(ctx)
	b.cancel()
	b.requests.Complete()
	b.shared.Complete()
}

func toSnapshot(s objects.ToolState) *store.ToolStateSnapshot {
	snap := &store.ToolStateSnapshot{
		ToolID:          s.ToolID,
		TaskExecutionID: s.TaskExecutionID,
		MachineImage:    s.MachineImage,
	}
	if s.MachineState != nil {
		raw, _ := json.Marshal(s.MachineState)
		snap.MachineState = string(raw)
	}
	if s.HumanState != nil {
		raw, _ := json.Marshal(s.HumanState)
		snap.HumanState = string(raw)
	}
	return snap
}

func fromSnapshot(s *store.ToolStateSnapshot) objects.ToolState {
	state := objects.ToolState{
		ToolID:          s.ToolID,
		TaskExecutionID: s.TaskExecutionID,
		MachineImage:    s.MachineImage,
		Timestamp:       strfmt.DateTime(s.CreatedAt),
	}
	if s.MachineState != "" {
		_ = json.Unmarshal([]byte(s.MachineState), &state.MachineState)
	}
	if s.HumanState != "" {
		var hs objects.HumanState
		if json.Unmarshal([]byte(s.HumanState), &hs) == nil {
			state.HumanState = &hs
		}
	}
	return state
}
