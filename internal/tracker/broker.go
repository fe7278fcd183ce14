package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/workforce-oss/workforce-sub002/internal/bus"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/store"
	"github.com/workforce-oss/workforce-sub002/pkg/slogx"
	"github.com/workforce-oss/workforce-sub002/pkg/uuidx"
)

const (
	SubjectCreate = "tracker.ticket.create"
	SubjectUpdate = "tracker.ticket.update"
	SubjectEvent  = "tracker.ticket.event"
)

// EventSubject carries the ticket events of one tracker.
func EventSubject(trackerID string) string { return SubjectEvent + "." + trackerID }

type Store interface {
	CreateTicketRequest(ctx context.Context, req *store.TicketRequest) error
	UpdateTicketRequestStatus(ctx context.Context, id, status, errMsg string) error
	UpsertTicket(ctx context.Context, t *store.Ticket) error
	FindTicket(ctx context.Context, trackerID, ticketID string) (*store.Ticket, error)
}

type Config struct {
	Transport bus.Transport
	Store     Store
	Logger    *slog.Logger
}

type Broker struct {
	*objects.Base[Tracker]

	store   Store
	creates bus.Subject[TicketCreateRequest]
	updates bus.Subject[TicketUpdateRequest]
	events  bus.Broker[TicketEvent]
	shared  bus.Subject[TicketEvent]

	ctx    context.Context
	cancel context.CancelFunc
}

func NewBroker(ctx context.Context, cfg Config) (*Broker, error) {
	if cfg.Store == nil {
		return nil, errors.New("tracker: store is required")
	}
	creates, err := bus.New[TicketCreateRequest](cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}
	updates, err := bus.New[TicketUpdateRequest](cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}
	events, err := bus.New[TicketEvent](cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}

	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &Broker{
		Base:    objects.NewBase[Tracker](objects.KindTracker, cfg.Logger),
		store:   cfg.Store,
		creates: creates.Subject(SubjectCreate),
		updates: updates.Subject(SubjectUpdate),
		events:  events,
		shared:  events.Subject(SubjectEvent),
		ctx:     bctx,
		cancel:  cancel,
	}

	if err := subscribe(bctx, b.creates, b.handleCreate); err != nil {
		cancel()
		return nil, err
	}
	if err := subscribe(bctx, b.updates, b.handleUpdate); err != nil {
		cancel()
		return nil, err
	}
	if err := subscribe(bctx, b.shared, b.handleTicketEvent); err != nil {
		cancel()
		return nil, err
	}
	return b, nil
}

func subscribe[T any](ctx context.Context, subject bus.Subject[T], fn bus.Handler[T]) error {
	if _, err := subject.Subscribe(ctx, fn); err != nil {
		return fmt.Errorf("tracker: subscribe %s: %w", subject.Name(), err)
	}
	return nil
}

// Register installs the tracker and republishes its native watch on the
// shared ticket event subject.
func (b *Broker) Register(ctx context.Context, t Tracker) error {
	return b.Base.Register(ctx, t, b.manageWatches)
}

func (b *Broker) manageWatches(_ context.Context, t Tracker) ([]func(), error) {
	id := t.Config().ID
	subject := b.events.Subject(EventSubject(id))
	stop, err := t.Watch(b.ctx, func(ctx context.Context, ev TicketEvent) {
		if ev.TrackerID != id {
			return
		}
		if err := b.shared.Publish(ctx, ev); err != nil && ctx.Err() == nil {
			b.Logger().WarnContext(ctx, "failed to publish ticket event", slogx.ObjectID(id), slogx.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	return []func(){stop, subject.Complete}, nil
}

// Create hands a new ticket to its tracker without waiting for it.
func (b *Broker) Create(ctx context.Context, req TicketCreateRequest) error {
	if _, err := b.Lookup(req.TrackerID); err != nil {
		return fmt.Errorf("tracker: create: %w", err)
	}
	if req.RequestID == "" {
		req.RequestID = uuidx.NewString()
	}
	return b.creates.Publish(ctx, req)
}

func (b *Broker) Update(ctx context.Context, req TicketUpdateRequest) error {
	if _, err := b.Lookup(req.TrackerID); err != nil {
		return fmt.Errorf("tracker: update: %w", err)
	}
	if req.TicketUpdateID == "" {
		req.TicketUpdateID = uuidx.NewString()
	}
	return b.updates.Publish(ctx, req)
}

func (b *Broker) handleCreate(_ context.Context, req TicketCreateRequest) {
	go b.run(req.TrackerID, store.TicketRequestTypeCreate, req, func(ctx context.Context, t Tracker) error {
		return t.CreateTicket(ctx, req)
	})
}

func (b *Broker) handleUpdate(_ context.Context, req TicketUpdateRequest) {
	go b.run(req.TrackerID, store.TicketRequestTypeUpdate, req, func(ctx context.Context, t Tracker) error {
		return t.UpdateTicket(ctx, req)
	})
}

// run records the request, applies it and refreshes the tracker on success.
func (b *Broker) run(trackerID, kind string, req any, apply func(context.Context, Tracker) error) {
	ctx := b.ctx
	log := b.Logger().With(slogx.ObjectID(trackerID), slog.String("type", kind))
	t, ok := b.GetObject(trackerID)
	if !ok {
		log.DebugContext(ctx, "dropping ticket request for unknown tracker")
		return
	}

	input, _ := json.Marshal(req)
	row := &store.TicketRequest{
		ID:        uuidx.NewString(),
		TrackerID: trackerID,
		Type:      kind,
		Status:    store.StatusStarted,
		Input:     string(input),
	}
	if err := b.store.CreateTicketRequest(ctx, row); err != nil {
		log.ErrorContext(ctx, "failed to record ticket request", slogx.Error(err))
	}

	if err := apply(ctx, t); err != nil {
		log.ErrorContext(ctx, "tracker rejected ticket request", slogx.Error(err))
		if err := b.store.UpdateTicketRequestStatus(ctx, row.ID, store.StatusError, err.Error()); err != nil {
			log.ErrorContext(ctx, "failed to update ticket request", slogx.Error(err))
		}
		return
	}
	if err := b.store.UpdateTicketRequestStatus(ctx, row.ID, store.StatusCompleted, ""); err != nil {
		log.ErrorContext(ctx, "failed to update ticket request", slogx.Error(err))
	}
	if err := t.Refresh(ctx); err != nil {
		log.ErrorContext(ctx, "failed to refresh tracker", slogx.Error(err))
	}
}

func (b *Broker) handleTicketEvent(ctx context.Context, ev TicketEvent) {
	if _, ok := b.GetObject(ev.TrackerID); !ok {
		b.Logger().DebugContext(ctx, "ticket event for unknown tracker", slogx.ObjectID(ev.TrackerID))
		return
	}
	if err := b.UpsertTicket(ctx, Ticket{
		TrackerID: ev.TrackerID,
		TicketID:  ev.TicketID,
		Status:    ev.Data.Status,
		Data:      ev.Data,
	}); err != nil {
		b.Logger().ErrorContext(ctx, "failed to store ticket", slogx.ObjectID(ev.TrackerID), slogx.Error(err))
	}
	if err := b.events.Subject(EventSubject(ev.TrackerID)).Publish(ctx, ev); err != nil && !errors.Is(err, bus.ErrSubjectClosed) {
		b.Logger().WarnContext(ctx, "failed to route ticket event", slogx.ObjectID(ev.TrackerID), slogx.Error(err))
	}
}

// Subscribe delivers the ticket events of one tracker.
func (b *Broker) Subscribe(ctx context.Context, trackerID string, fn bus.Handler[TicketEvent]) (bus.Subscription, error) {
	if _, err := b.Lookup(trackerID); err != nil {
		return nil, fmt.Errorf("tracker: subscribe: %w", err)
	}
	return b.events.Subject(EventSubject(trackerID)).Subscribe(ctx, fn)
}

// UpsertTicket stores the latest known state of a ticket.
func (b *Broker) UpsertTicket(ctx context.Context, t Ticket) error {
	if t.TicketID == "" {
		return errors.New("tracker: ticket id is required")
	}
	data, err := json.Marshal(t.Data)
	if err != nil {
		return fmt.Errorf("tracker: encode ticket %s: %w", t.TicketID, err)
	}
	return b.store.UpsertTicket(ctx, &store.Ticket{
		ID:        t.TicketID,
		TrackerID: t.TrackerID,
		Status:    string(t.Status),
		Data:      string(data),
	})
}

// GetStoredTicket reads the stored mirror of a ticket.
func (b *Broker) GetStoredTicket(ctx context.Context, trackerID, ticketID string) (*Ticket, error) {
	if _, err := b.Lookup(trackerID); err != nil {
		return nil, fmt.Errorf("tracker: stored ticket: %w", err)
	}
	row, err := b.store.FindTicket(ctx, trackerID, ticketID)
	if err != nil {
		return nil, fmt.Errorf("tracker: stored ticket: %w", err)
	}
	if row == nil {
		return nil, fmt.Errorf("tracker: ticket %s in tracker %s: %w", ticketID, trackerID, objects.ErrNotFound)
	}
	t := &Ticket{TrackerID: row.TrackerID, TicketID: row.ID, Status: TicketStatus(row.Status)}
	if err := json.Unmarshal([]byte(row.Data), &t.Data); err != nil {
		return nil, fmt.Errorf("tracker: decode ticket %s: %w", ticketID, err)
	}
	return t, nil
}

func (b *Broker) Destroy(ctx context.Context) {
	b.RemoveAll(ctx)
	b.cancel()
	b.creates.Complete()
	b.updates.Complete()
	b.shared.Complete()
}
