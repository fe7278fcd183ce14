package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/goccy/go-json"
	"github.com/workforce-oss/workforce-sub002/internal/bus"
	"github.com/workforce-oss/workforce-sub002/internal/channel"
	"github.com/workforce-oss/workforce-sub002/internal/daemon"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/store"
	"github.com/workforce-oss/workforce-sub002/pkg/slogx"
	"github.com/workforce-oss/workforce-sub002/pkg/uuidx"
)

const (
	SubjectRequest  = "worker.request"
	SubjectResponse = "worker.response"

	// DefaultFlushInterval is how often queued work is offered to idle
	// workers.
	DefaultFlushInterval = 5 * time.Second
)

type Store interface {
	CreateWorkRequest(ctx context.Context, w *store.WorkRequest) error
	UpsertWorkRequest(ctx context.Context, w *store.WorkRequest) error
	FindWorkRequestByTaskExecution(ctx context.Context, taskExecutionID string) (*store.WorkRequest, error)
	UpdateWorkRequest(ctx context.Context, id string, columns map[string]any) error
	ClaimWorkRequest(ctx context.Context, id string) (bool, error)
	WorkRequestsByStatus(ctx context.Context, workerID, status string) ([]store.WorkRequest, error)
	CountWorkRequests(ctx context.Context, workerID, status string) (int64, error)
	NextQueuedWorkRequest(ctx context.Context, workerID string) (*store.WorkRequest, error)
	DeleteWorkRequestsByTaskExecution(ctx context.Context, taskExecutionID string) error
}

// Channels is the part of the channel broker workers join conversations
// through.
type Channels interface {
	GetObject(id string) (channel.Channel, bool)
	EstablishSession(ctx context.Context, channelID, taskExecutionID string, originalMessageData map[string]string) error
	Join(ctx context.Context, channelID, workerID, token, username, taskExecutionID string) error
	SetSessionStatus(ctx context.Context, channelID, taskExecutionID, status string) error
}

// Secrets resolves the credentials named in a worker's channel user config.
type Secrets interface {
	Token(ctx context.Context, credentialID string) (string, error)
}

// StaticSecrets maps credential ids to tokens.
type StaticSecrets map[string]string

func (s StaticSecrets) Token(_ context.Context, credentialID string) (string, error) {
	token, ok := s[credentialID]
	if !ok {
		return "", fmt.Errorf("credential %s: %w", credentialID, objects.ErrNotFound)
	}
	return token, nil
}

type Config struct {
	Transport bus.Transport
	Store     Store
	Channels  Channels
	Secrets   Secrets
	// FlushInterval defaults to DefaultFlushInterval. A negative interval
	// disables the flush daemon.
	FlushInterval time.Duration
	Logger        *slog.Logger
}

func (c Config) validate() error {
	var err error
	if c.Store == nil {
		err = errors.Join(err, errors.New("worker: store is required"))
	}
	if c.FlushInterval > 0 && c.FlushInterval < time.Second {
		err = errors.Join(err, fmt.Errorf("worker: flush interval %s: %w", c.FlushInterval, daemon.ErrInvalidInterval))
	}
	return err
}

type Broker struct {
	*objects.Base[Worker]

	store     Store
	channels  Channels
	secrets   Secrets
	interval  time.Duration
	requests  bus.Subject[WorkRequest]
	responses bus.Subject[WorkResponse]

	ctx    context.Context
	cancel context.CancelFunc
}

func NewBroker(ctx context.Context, cfg Config) (*Broker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	requests, err := bus.New[WorkRequest](cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}
	responses, err := bus.New[WorkResponse](cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}
	interval := cfg.FlushInterval
	if interval == 0 {
		interval = DefaultFlushInterval
	}

	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &Broker{
		Base:      objects.NewBase[Worker](objects.KindWorker, cfg.Logger),
		store:     cfg.Store,
		channels:  cfg.Channels,
		secrets:   cfg.Secrets,
		interval:  interval,
		requests:  requests.Subject(SubjectRequest),
		responses: responses.Subject(SubjectResponse),
		ctx:       bctx,
		cancel:    cancel,
	}
	if _, err := b.requests.Subscribe(bctx, b.handleRequest); err != nil {
		cancel()
		return nil, fmt.Errorf("worker: subscribe %s: %w", SubjectRequest, err)
	}
	return b, nil
}

// Register installs the worker, resends the work it had in progress and
// starts flushing its queue.
func (b *Broker) Register(ctx context.Context, w Worker) error {
	return b.Base.Register(ctx, w, b.setup)
}

func (b *Broker) setup(_ context.Context, w Worker) ([]func(), error) {
	id := w.Config().ID
	var cleanups []func()

	if b.interval > 0 {
		stop, err := daemon.Every(b.ctx, b.interval, "worker-flush."+id, func(ctx context.Context) {
			b.FlushQueue(ctx, id)
		})
		if err != nil {
			return nil, err
		}
		cleanups = append(cleanups, stop)
	}

	fctx, stop := context.WithCancel(b.ctx)
	done := make(chan struct{})
	go b.forward(fctx, w, done)
	cleanups = append(cleanups, func() {
		stop()
		<-done
	})

	go b.resume(b.ctx, w)
	return cleanups, nil
}

func (b *Broker) forward(ctx context.Context, w Worker, done chan<- struct{}) {
	defer close(done)
	responses := w.Responses()
	if responses == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-responses:
			if !ok {
				return
			}
			if err := b.Respond(ctx, resp); err != nil {
				b.Logger().ErrorContext(ctx, "failed to relay work response",
					slogx.ObjectID(w.Config().ID), slogx.TaskExecutionID(resp.TaskExecutionID), slogx.Error(err))
			}
		}
	}
}

func (b *Broker) resume(ctx context.Context, w Worker) {
	id := w.Config().ID
	rows, err := b.store.WorkRequestsByStatus(ctx, id, store.StatusInProgress)
	if err != nil {
		b.Logger().ErrorContext(ctx, "failed to load in-progress work", slogx.ObjectID(id), slogx.Error(err))
		return
	}
	for _, row := range rows {
		var req WorkRequest
		if err := json.Unmarshal([]byte(row.Request), &req); err != nil {
			b.Logger().ErrorContext(ctx, "failed to decode work request", slogx.ObjectID(id), slogx.Error(err))
			continue
		}
		b.Logger().DebugContext(ctx, "resending work request", slogx.ObjectID(id), slogx.TaskExecutionID(req.TaskExecutionID))
		if err := w.Work(ctx, req); err != nil {
			b.Logger().ErrorContext(ctx, "failed to resend work request",
				slogx.ObjectID(id), slogx.TaskExecutionID(req.TaskExecutionID), slogx.Error(err))
		}
	}
}

// Request hands a task execution to a worker without waiting for it.
func (b *Broker) Request(ctx context.Context, req WorkRequest) error {
	var err error
	if req.TaskExecutionID == "" {
		err = errors.Join(err, errors.New("task execution id is required"))
	}
	if _, lerr := b.Lookup(req.WorkerID); lerr != nil {
		err = errors.Join(err, lerr)
	}
	if err != nil {
		return fmt.Errorf("worker: request: %w", err)
	}
	if time.Time(req.Timestamp).IsZero() {
		req.Timestamp = strfmt.DateTime(time.Now())
	}
	return b.requests.Publish(ctx, req)
}

func (b *Broker) handleRequest(_ context.Context, req WorkRequest) {
	go b.accept(b.ctx, req)
}

func (b *Broker) accept(ctx context.Context, req WorkRequest) {
	log := b.Logger().With(slogx.ObjectID(req.WorkerID), slogx.TaskExecutionID(req.TaskExecutionID))
	w, ok := b.GetObject(req.WorkerID)
	if !ok {
		log.ErrorContext(ctx, "dropping work request for unknown worker")
		return
	}

	existing, err := b.store.FindWorkRequestByTaskExecution(ctx, req.TaskExecutionID)
	if err != nil {
		log.ErrorContext(ctx, "failed to look up work request", slogx.Error(err))
		return
	}
	if existing != nil && existing.Status != store.StatusError {
		log.DebugContext(ctx, "work request already exists")
		return
	}

	if req.ChannelID != "" {
		if err := b.joinChannel(ctx, w, req); err != nil {
			log.ErrorContext(ctx, "failed to set up channel for work request", slogx.Error(err))
			b.failRequest(ctx, req, err)
			return
		}
	}

	payload, _ := json.Marshal(req)
	row := &store.WorkRequest{
		ID:              uuidx.NewString(),
		WorkerID:        req.WorkerID,
		TaskExecutionID: req.TaskExecutionID,
		Status:          store.StatusQueued,
		Request:         string(payload),
	}
	if existing != nil {
		// retry of a failed execution reuses its row
		row.ID = existing.ID
		err = b.store.UpdateWorkRequest(ctx, row.ID, map[string]any{
			"worker_id": row.WorkerID,
			"status":    row.Status,
			"request":   row.Request,
			"response":  "",
		})
	} else {
		err = b.store.CreateWorkRequest(ctx, row)
	}
	if err != nil {
		log.ErrorContext(ctx, "failed to create work request", slogx.Error(err))
		return
	}
	if b.available(ctx, w) {
		b.dispatch(ctx, w, row, req)
	} else {
		log.DebugContext(ctx, "work request queued")
	}
}

// joinChannel opens the channel session of a task execution and joins the
// worker to it with its token for that kind of channel.
func (b *Broker) joinChannel(ctx context.Context, w Worker, req WorkRequest) error {
	if b.channels == nil {
		return errors.New("no channel broker configured")
	}
	ch, ok := b.channels.GetObject(req.ChannelID)
	if !ok {
		b.Logger().WarnContext(ctx, "work request names an unknown channel",
			slogx.ObjectID(req.WorkerID), slog.String("channel_id", req.ChannelID))
		return nil
	}
	cfg := w.Config()
	subtype := ch.Config().Subtype
	credential := SettingsOf(cfg).ChannelUserConfig[subtype]
	if credential == "" {
		return fmt.Errorf("worker %s has no credential for %s channels", cfg.ID, subtype)
	}
	if b.secrets == nil {
		return errors.New("no secrets configured")
	}
	token, err := b.secrets.Token(ctx, credential)
	if err != nil {
		return fmt.Errorf("worker %s token for %s channels: %w", cfg.ID, subtype, err)
	}
	token = strings.ReplaceAll(token, "|", "")
	if token == "" {
		return fmt.Errorf("worker %s has an empty token for %s channels", cfg.ID, subtype)
	}

	var data map[string]string
	if raw, ok := req.Input[ChannelMessageDataKey].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return fmt.Errorf("decode %s: %w", ChannelMessageDataKey, err)
		}
	}
	if err := b.channels.EstablishSession(ctx, req.ChannelID, req.TaskExecutionID, data); err != nil {
		return err
	}
	return b.channels.Join(ctx, req.ChannelID, cfg.ID, token, cfg.Name, req.TaskExecutionID)
}

// failRequest records a request that could not be accepted and answers it
// with the error.
func (b *Broker) failRequest(ctx context.Context, req WorkRequest, cause error) {
	log := b.Logger().With(slogx.ObjectID(req.WorkerID), slogx.TaskExecutionID(req.TaskExecutionID))
	payload, _ := json.Marshal(req)
	failure, _ := json.Marshal(map[string]string{"error": cause.Error()})
	if err := b.store.UpsertWorkRequest(ctx, &store.WorkRequest{
		ID:              uuidx.NewString(),
		WorkerID:        req.WorkerID,
		TaskExecutionID: req.TaskExecutionID,
		Status:          store.StatusError,
		Request:         string(payload),
		Response:        string(failure),
	}); err != nil {
		log.ErrorContext(ctx, "failed to record failed work request", slogx.Error(err))
	}
	if err := b.responses.Publish(ctx, WorkResponse{
		WorkerID:        req.WorkerID,
		TaskID:          req.TaskID,
		TaskExecutionID: req.TaskExecutionID,
		Timestamp:       strfmt.DateTime(time.Now()),
		Output:          cause.Error(),
	}); err != nil {
		log.ErrorContext(ctx, "failed to publish work failure", slogx.Error(err))
	}
}

// available reports whether the worker has fewer requests in progress than
// its WIP limit.
func (b *Broker) available(ctx context.Context, w Worker) bool {
	n, err := b.store.CountWorkRequests(ctx, w.Config().ID, store.StatusInProgress)
	if err != nil {
		b.Logger().ErrorContext(ctx, "failed to count work in progress", slogx.ObjectID(w.Config().ID), slogx.Error(err))
		return false
	}
	return n < int64(SettingsOf(w.Config()).WIPLimit)
}

// dispatch claims a queued request and starts it on the worker. It reports
// whether the request was claimed.
func (b *Broker) dispatch(ctx context.Context, w Worker, row *store.WorkRequest, req WorkRequest) bool {
	log := b.Logger().With(slogx.ObjectID(row.WorkerID), slogx.TaskExecutionID(row.TaskExecutionID))
	claimed, err := b.store.ClaimWorkRequest(ctx, row.ID)
	if err != nil {
		log.ErrorContext(ctx, "failed to claim work request", slogx.Error(err))
		return false
	}
	if !claimed {
		return false
	}
	if err := w.Work(ctx, req); err != nil {
		log.ErrorContext(ctx, "worker rejected work request", slogx.Error(err))
		b.markError(ctx, log, row.ID, err)
	}
	return true
}

func (b *Broker) markError(ctx context.Context, log *slog.Logger, id string, cause error) {
	failure, _ := json.Marshal(map[string]string{"error": cause.Error()})
	if err := b.store.UpdateWorkRequest(ctx, id, map[string]any{
		"status":   store.StatusError,
		"response": string(failure),
	}); err != nil {
		log.ErrorContext(ctx, "failed to update work request", slogx.Error(err))
	}
}

// FlushQueue offers queued requests to the worker, oldest first, while it
// is under its WIP limit.
func (b *Broker) FlushQueue(ctx context.Context, workerID string) {
	w, ok := b.GetObject(workerID)
	if !ok {
		return
	}
	log := b.Logger().With(slogx.ObjectID(workerID))
	processed := map[string]bool{}
	for ctx.Err() == nil && b.available(ctx, w) {
		row, err := b.store.NextQueuedWorkRequest(ctx, workerID)
		if err != nil {
			log.ErrorContext(ctx, "failed to read work queue", slogx.Error(err))
			return
		}
		if row == nil || processed[row.TaskExecutionID] {
			return
		}
		processed[row.TaskExecutionID] = true

		var req WorkRequest
		if row.Request == "" {
			b.markError(ctx, log, row.ID, errors.New("work request not found"))
			continue
		}
		if err := json.Unmarshal([]byte(row.Request), &req); err != nil {
			b.markError(ctx, log, row.ID, fmt.Errorf("decode work request: %w", err))
			continue
		}
		log.DebugContext(ctx, "sending queued work request", slogx.TaskExecutionID(req.TaskExecutionID))
		b.dispatch(ctx, w, row, req)
	}
}

// Respond completes the task execution of resp and publishes it.
func (b *Broker) Respond(ctx context.Context, resp WorkResponse) error {
	log := b.Logger().With(slogx.ObjectID(resp.WorkerID), slogx.TaskExecutionID(resp.TaskExecutionID))
	row, err := b.store.FindWorkRequestByTaskExecution(ctx, resp.TaskExecutionID)
	if err != nil {
		return fmt.Errorf("worker: respond: %w", err)
	}
	if row == nil {
		return fmt.Errorf("worker: respond: work request %s: %w", resp.TaskExecutionID, objects.ErrNotFound)
	}

	var req WorkRequest
	if err := json.Unmarshal([]byte(row.Request), &req); err != nil {
		b.markError(ctx, log, row.ID, err)
		return fmt.Errorf("worker: respond: decode request: %w", err)
	}
	if b.hasChannel(req.ChannelID) {
		if err := b.channels.SetSessionStatus(ctx, req.ChannelID, req.TaskExecutionID, store.StatusComplete); err != nil {
			log.ErrorContext(ctx, "failed to complete channel session", slogx.Error(err))
			b.markError(ctx, log, row.ID, err)
			return fmt.Errorf("worker: respond: %w", err)
		}
	}

	if time.Time(resp.Timestamp).IsZero() {
		resp.Timestamp = strfmt.DateTime(time.Now())
	}
	payload, _ := json.Marshal(resp)
	if err := b.store.UpdateWorkRequest(ctx, row.ID, map[string]any{
		"status":   store.StatusComplete,
		"response": string(payload),
	}); err != nil {
		return fmt.Errorf("worker: respond: %w", err)
	}
	return b.responses.Publish(ctx, resp)
}

func (b *Broker) hasChannel(id string) bool {
	if id == "" || b.channels == nil {
		return false
	}
	_, ok := b.channels.GetObject(id)
	return ok
}

// Subscribe delivers every work response.
func (b *Broker) Subscribe(ctx context.Context, fn bus.Handler[WorkResponse]) (bus.Subscription, error) {
	return b.responses.Subscribe(ctx, fn)
}

// RemoveTaskExecution abandons a task execution on its worker and forgets
// its work requests.
func (b *Broker) RemoveTaskExecution(ctx context.Context, taskExecutionID string) error {
	row, err := b.store.FindWorkRequestByTaskExecution(ctx, taskExecutionID)
	if err != nil {
		return fmt.Errorf("worker: remove task execution: %w", err)
	}
	if row == nil {
		return nil
	}
	if w, ok := b.GetObject(row.WorkerID); ok {
		w.RemoveTask(ctx, taskExecutionID)
	}
	if err := b.store.DeleteWorkRequestsByTaskExecution(ctx, taskExecutionID); err != nil {
		return fmt.Errorf("worker: remove task execution: %w", err)
	}
	return nil
}

// WorkerWithSkills picks the most available worker of the org that has
// every skill and, when channelType is set, a credential for that kind of
// channel. Workers without skills qualify for any skill.
func (b *Broker) WorkerWithSkills(ctx context.Context, orgID string, skills []string, channelType string) (string, bool) {
	var (
		best      string
		bestScore float64
	)
	b.Range(func(id string, w Worker) bool {
		cfg := w.Config()
		if cfg.OrgID != orgID {
			return true
		}
		s := SettingsOf(cfg)
		if len(s.Skills) > 0 {
			for _, skill := range skills {
				if !slices.Contains(s.Skills, skill) {
					return true
				}
			}
		}
		if channelType != "" && s.ChannelUserConfig[channelType] == "" {
			return true
		}
		if s.WIPLimit <= 0 {
			return true
		}
		score, err := b.availability(ctx, id, s.WIPLimit)
		if err != nil {
			b.Logger().ErrorContext(ctx, "failed to measure worker availability", slogx.ObjectID(id), slogx.Error(err))
			return true
		}
		if best == "" || score > bestScore || (score == bestScore && id < best) {
			best, bestScore = id, score
		}
		return true
	})
	return best, best != ""
}

// availability is the free capacity of a worker, reduced by a fraction of
// its queue once it is full.
func (b *Broker) availability(ctx context.Context, workerID string, capacity int) (float64, error) {
	wip, err := b.store.CountWorkRequests(ctx, workerID, store.StatusInProgress)
	if err != nil {
		return 0, err
	}
	if wip < int64(capacity) {
		return float64(int64(capacity) - wip), nil
	}
	queued, err := b.store.CountWorkRequests(ctx, workerID, store.StatusQueued)
	if err != nil {
		return 0, err
	}
	return float64(capacity) - float64(wip) - float64(queued)/float64(capacity), nil
}

func (b *Broker) Destroy(ctx context.Context) {
	b.RemoveAll(ctx)
	b.cancel()
	b.requests.Complete()
	b.responses.Complete()
}
