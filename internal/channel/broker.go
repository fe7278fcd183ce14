package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
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
	SubjectRequest = "channel.request"
	SubjectMessage = "channel.message"
)

// EventSubject is the per channel subject carrying its raw event stream.
func EventSubject(channelID string) string { return "channel.events." + channelID }

// Store is the durable state the broker writes. Failures are logged only.
type Store interface {
	CreateChannelMessage(ctx context.Context, msg *store.ChannelMessage) error
	FindOrCreateChannelMessage(ctx context.Context, msg *store.ChannelMessage) (bool, error)
	UpdateChannelMessageStatus(ctx context.Context, id, status string) error
	FindChannelSession(ctx context.Context, channelID, taskExecutionID string) (*store.ChannelSession, error)
	FindOrCreateChannelSession(ctx context.Context, channelID, taskExecutionID, status string) (*store.ChannelSession, bool, error)
	UpdateChannelSessionStatus(ctx context.Context, channelID, taskExecutionID, status string) error
}

type Config struct {
	Transport bus.Transport
	Store     Store
	// Cache backs every channel's data cache. Nil gives each channel a
	// private in-memory cache.
	Cache  *cache.Backend
	Logger *slog.Logger
}

func (c Config) validate() error {
	var err error
	if c.Store == nil {
		err = errors.Join(err, errors.New("channel: store is required"))
	}
	return err
}

// Broker routes messages to channels and keeps task executions bound to
// their conversation threads.
type Broker struct {
	*objects.Base[Channel]

	store    Store
	cache    *cache.Backend
	events   bus.Broker[MessageEvent]
	requests bus.Subject[requestEnvelope]
	messages bus.Subject[MessageEvent]

	ctx    context.Context
	cancel context.CancelFunc
}

func NewBroker(ctx context.Context, cfg Config) (*Broker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	requests, err := bus.New[requestEnvelope](cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}
	events, err := bus.New[MessageEvent](cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}

	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &Broker{
		Base:     objects.NewBase[Channel](objects.KindChannel, cfg.Logger),
		store:    cfg.Store,
		cache:    cfg.Cache,
		events:   events,
		requests: requests.Subject(SubjectRequest),
		messages: events.Subject(SubjectMessage),
		ctx:      bctx,
		cancel:   cancel,
	}
	if _, err := b.requests.Subscribe(bctx, b.handleRequest); err != nil {
		cancel()
		return nil, fmt.Errorf("channel: subscribe %s: %w", SubjectRequest, err)
	}
	return b, nil
}

// Register warms the channel's data cache and starts forwarding its events
// before the channel becomes routable.
func (b *Broker) Register(ctx context.Context, ch Channel) error {
	return b.Base.Register(ctx, ch, b.setup)
}

func (b *Broker) setup(ctx context.Context, ch Channel) ([]func(), error) {
	id := ch.Config().ID
	if err := ch.InitializeDataCache(ctx, b.cache); err != nil {
		return nil, err
	}

	subject := b.events.Subject(EventSubject(id))
	fctx, stop := context.WithCancel(b.ctx)
	done := make(chan struct{})
	go b.forward(fctx, ch, subject, done)

	return []func(){
		func() {
			stop()
			<-done
			subject.Complete()
		},
	}, nil
}

func (b *Broker) forward(ctx context.Context, ch Channel, subject bus.Subject[MessageEvent], done chan<- struct{}) {
	defer close(done)
	events := ch.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := subject.Publish(ctx, ev); err != nil && ctx.Err() == nil {
				b.Logger().WarnContext(ctx, "failed to forward channel event",
					slogx.ObjectID(ch.Config().ID), slogx.Error(err))
			}
			if err := b.messages.Publish(ctx, ev); err != nil && ctx.Err() == nil && !errors.Is(err, bus.ErrSubjectClosed) {
				b.Logger().WarnContext(ctx, "failed to publish channel message",
					slogx.ObjectID(ch.Config().ID), slogx.Error(err))
			}
		}
	}
}

// Message records an audit row for req and hands it to the owning channel
// through the request subject. It returns the audit id.
func (b *Broker) Message(ctx context.Context, req MessageRequest) (string, error) {
	if _, err := b.Lookup(req.ChannelID); err != nil {
		return "", fmt.Errorf("channel: message: %w", err)
	}
	if time.Time(req.Timestamp).IsZero() {
		req.Timestamp = strfmt.DateTime(time.Now())
	}

	auditID := uuidx.NewString()
	payload, _ := json.Marshal(req)
	row := &store.ChannelMessage{
		ID:              auditID,
		ChannelID:       req.ChannelID,
		TaskExecutionID: req.TaskExecutionID,
		SenderID:        req.SenderID,
		Status:          store.StatusAwaitingResponse,
		Request:         string(payload),
	}
	if err := b.store.CreateChannelMessage(ctx, row); err != nil {
		b.Logger().ErrorContext(ctx, "failed to record channel message",
			slogx.ObjectID(req.ChannelID), slogx.Error(err))
	}

	if err := b.requests.Publish(ctx, requestEnvelope{AuditID: auditID, Request: req}); err != nil {
		return "", fmt.Errorf("channel: message: %w", err)
	}
	return auditID, nil
}

func (b *Broker) handleRequest(_ context.Context, env requestEnvelope) {
	go func() {
		ctx := b.ctx
		req := env.Request
		ch, ok := b.GetObject(req.ChannelID)
		if !ok {
			b.Logger().DebugContext(ctx, "dropping message for unknown channel", slogx.ObjectID(req.ChannelID))
			return
		}

		status := store.StatusResponseReceived
		if err := ch.Message(ctx, req); err != nil {
			b.Logger().ErrorContext(ctx, "channel rejected message",
				slogx.ObjectID(req.ChannelID), slogx.Error(err))
			status = store.StatusError
		}
		if env.AuditID == "" {
			return
		}
		if err := b.store.UpdateChannelMessageStatus(ctx, env.AuditID, status); err != nil {
			b.Logger().ErrorContext(ctx, "failed to update channel message",
				slogx.ObjectID(req.ChannelID), slogx.Error(err))
		}
	}()
}

func (b *Broker) Join(ctx context.Context, channelID, workerID, token, username, taskExecutionID string) error {
	ch, err := b.Lookup(channelID)
	if err != nil {
		return fmt.Errorf("channel: join: %w", err)
	}
	return ch.Join(ctx, workerID, token, username, taskExecutionID)
}

func (b *Broker) Leave(ctx context.Context, channelID, workerID string) error {
	ch, err := b.Lookup(channelID)
	if err != nil {
		return fmt.Errorf("channel: leave: %w", err)
	}
	return ch.Leave(ctx, workerID)
}

// EstablishSession binds taskExecutionID to a thread on the channel. A task
// execution that already has a thread, or a started session, is left alone.
func (b *Broker) EstablishSession(ctx context.Context, channelID, taskExecutionID string, originalMessageData map[string]string) error {
	ch, err := b.Lookup(channelID)
	if err != nil {
		return fmt.Errorf("channel: establish session: %w", err)
	}
	log := b.Logger().With(slogx.ObjectID(channelID), slogx.TaskExecutionID(taskExecutionID))

	if _, ok, err := ch.ThreadID(ctx, taskExecutionID); err != nil {
		log.WarnContext(ctx, "failed to read thread mapping", slogx.Error(err))
	} else if ok {
		log.DebugContext(ctx, "session already mapped to a thread")
		return nil
	}

	session, created, err := b.store.FindOrCreateChannelSession(ctx, channelID, taskExecutionID, store.StatusStarted)
	switch {
	case err != nil:
		log.ErrorContext(ctx, "failed to record channel session", slogx.Error(err))
	case !created && session != nil && session.Status == store.StatusStarted:
		log.DebugContext(ctx, "session already established")
		return nil
	case !created:
		b.setSessionStatus(ctx, channelID, taskExecutionID, store.StatusStarted)
	}

	if err := ch.EstablishSession(ctx, taskExecutionID, originalMessageData); err != nil {
		log.ErrorContext(ctx, "channel failed to establish session", slogx.Error(err))
		b.setSessionStatus(ctx, channelID, taskExecutionID, store.StatusError)
		return fmt.Errorf("channel: establish session %s: %w", taskExecutionID, err)
	}
	return nil
}

// SetSessionStatus updates the durable session of a task execution.
func (b *Broker) SetSessionStatus(ctx context.Context, channelID, taskExecutionID, status string) error {
	if _, err := b.Lookup(channelID); err != nil {
		return fmt.Errorf("channel: set session status: %w", err)
	}
	session, err := b.store.FindChannelSession(ctx, channelID, taskExecutionID)
	if err != nil {
		return fmt.Errorf("channel: set session status: %w", err)
	}
	if session == nil {
		return fmt.Errorf("channel: set session status: session %s: %w", taskExecutionID, objects.ErrNotFound)
	}
	b.setSessionStatus(ctx, channelID, taskExecutionID, status)
	return nil
}

func (b *Broker) setSessionStatus(ctx context.Context, channelID, taskExecutionID, status string) {
	if err := b.store.UpdateChannelSessionStatus(ctx, channelID, taskExecutionID, status); err != nil {
		b.Logger().ErrorContext(ctx, "failed to update channel session",
			slogx.ObjectID(channelID), slogx.TaskExecutionID(taskExecutionID), slogx.Error(err))
	}
}

// ReleaseSession drops the thread mapping of a task execution or thread id.
func (b *Broker) ReleaseSession(ctx context.Context, channelID, id string) error {
	ch, err := b.Lookup(channelID)
	if err != nil {
		return fmt.Errorf("channel: release session: %w", err)
	}
	return ch.ReleaseThread(ctx, id)
}

// HandOffSession moves the thread of oldID to newTaskExecutionID without
// opening a new thread.
func (b *Broker) HandOffSession(ctx context.Context, channelID, oldID, newTaskExecutionID string) error {
	ch, err := b.Lookup(channelID)
	if err != nil {
		return fmt.Errorf("channel: hand off session: %w", err)
	}
	return ch.HandOffSession(ctx, oldID, newTaskExecutionID)
}

func (b *Broker) GetThreadID(ctx context.Context, channelID, taskExecutionID string) (string, bool, error) {
	ch, err := b.Lookup(channelID)
	if err != nil {
		return "", false, fmt.Errorf("channel: thread id: %w", err)
	}
	return ch.ThreadID(ctx, taskExecutionID)
}

// SubscribeToSession delivers the messages of one task execution that were
// not written by workerID. Tool calls from the worker still get through.
// Only the listed message types are delivered.
func (b *Broker) SubscribeToSession(ctx context.Context, channelID, sessionID, workerID string, messageTypes []string, fn func(context.Context, MessageRequest)) (bus.Subscription, error) {
	if _, err := b.Lookup(channelID); err != nil {
		return nil, fmt.Errorf("channel: subscribe to session: %w", err)
	}
	if fn == nil {
		return nil, bus.ErrHandlerRequired
	}
	return b.events.Subject(EventSubject(channelID)).Subscribe(ctx, func(ctx context.Context, ev MessageEvent) {
		if ev.TaskExecutionID != sessionID {
			return
		}
		if ev.SenderID == workerID && len(ev.ToolCalls) == 0 {
			return
		}
		if !slices.Contains(messageTypes, ev.Type()) {
			return
		}

		req := MessageRequest{
			ChannelID:          ev.ChannelID,
			WorkerID:           workerID,
			TaskExecutionID:    sessionID,
			SenderID:           ev.SenderID,
			MessageID:          ev.MessageID,
			Message:            ev.Message,
			Timestamp:          strfmt.DateTime(time.Now()),
			Image:              ev.Image,
			ToolCalls:          ev.ToolCalls,
			ChannelMessageData: ev.ChannelMessageData,
			MessageType:        ev.MessageType,
		}
		b.recordInbound(ctx, req)
		fn(ctx, req)
	})
}

func (b *Broker) recordInbound(ctx context.Context, req MessageRequest) {
	if req.MessageID == "" {
		return
	}
	payload, _ := json.Marshal(req)
	_, err := b.store.FindOrCreateChannelMessage(ctx, &store.ChannelMessage{
		ID:              req.MessageID,
		ChannelID:       req.ChannelID,
		TaskExecutionID: req.TaskExecutionID,
		SenderID:        req.SenderID,
		Status:          store.StatusAwaitingResponse,
		Request:         string(payload),
	})
	if err != nil {
		b.Logger().ErrorContext(ctx, "failed to record inbound message",
			slogx.ObjectID(req.ChannelID), slogx.Error(err))
	}
}

// Subscribe delivers the channel's traffic that belongs to no task session.
func (b *Broker) Subscribe(ctx context.Context, channelID string, fn func(context.Context, MessageEvent)) (bus.Subscription, error) {
	if _, err := b.Lookup(channelID); err != nil {
		return nil, fmt.Errorf("channel: subscribe: %w", err)
	}
	if fn == nil {
		return nil, bus.ErrHandlerRequired
	}
	return b.events.Subject(EventSubject(channelID)).Subscribe(ctx, func(ctx context.Context, ev MessageEvent) {
		if ev.TaskExecutionID != "" || ev.ChannelID != channelID {
			return
		}
		fn(ctx, ev)
	})
}

// SubscribeMessages observes every event of every channel.
func (b *Broker) SubscribeMessages(ctx context.Context, fn bus.Handler[MessageEvent]) (bus.Subscription, error) {
	return b.messages.Subscribe(ctx, fn)
}

// Destroy removes every channel and closes the broker's subjects.
func (b *Broker) Destroy(ctx context.Context) {
	b.RemoveAll(ctx)
	b.cancel()
	b.requests.Complete()
	b.messages.Complete()
}
