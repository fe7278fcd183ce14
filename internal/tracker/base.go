package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/pkg/jsonx"
)

// OutputKey is the tool-call argument trackers accept tickets from.
const OutputKey = "tickets"

const eventBufferSize = 100

// Tracker is the capability set of an issue board.
type Tracker interface {
	objects.Object
	CreateTicket(ctx context.Context, req TicketCreateRequest) error
	UpdateTicket(ctx context.Context, req TicketUpdateRequest) error
	// Refresh re-reads the board so server assigned ids show up as events.
	Refresh(ctx context.Context) error
	// Watch calls fn for every ticket event until stop is called.
	Watch(ctx context.Context, fn func(context.Context, TicketEvent)) (stop func(), err error)
	Schema() *jsonschema.Schema
}

// Base implements the parts of Tracker shared by every board.
// Implementations report ticket changes through Emit.
type Base struct {
	cfg    objects.Config
	errs   chan objects.ObjectError
	events chan TicketEvent
	done   chan struct{}
	once   sync.Once
}

func NewBase(cfg objects.Config) *Base {
	return &Base{
		cfg:    cfg,
		errs:   make(chan objects.ObjectError, 1),
		events: make(chan TicketEvent, eventBufferSize),
		done:   make(chan struct{}),
	}
}

func (b *Base) Config() objects.Config { return b.cfg }

func (b *Base) Errors() <-chan objects.ObjectError { return b.errs }

func (b *Base) CanonicalOutputKey() string { return OutputKey }

func (b *Base) Refresh(context.Context) error { return nil }

// Schema describes the tickets argument offered to models.
func (b *Base) Schema() *jsonschema.Schema {
	props := orderedmap.New[string, *jsonschema.Schema]()
	props.Set("name", &jsonschema.Schema{Type: "string", Description: "The name of the ticket"})
	props.Set("description", &jsonschema.Schema{Type: "string", Description: "The description of the ticket"})
	return &jsonschema.Schema{
		Title: OutputKey,
		Type:  "array",
		Items: &jsonschema.Schema{
			Type:       "object",
			Properties: props,
			Required:   []string{"name"},
		},
	}
}

// ValidateObject accepts an array of objects that all carry a name.
func (b *Base) ValidateObject(_ context.Context, payload any) error {
	items, err := jsonx.ToObjectArray(payload)
	if err != nil {
		return fmt.Errorf("tracker %s: %w", b.cfg.Name, err)
	}
	var errs error
	for i, item := range items {
		if name, _ := item["name"].(string); name == "" {
			errs = errors.Join(errs, fmt.Errorf("tracker %s: ticket %d: name is required", b.cfg.Name, i))
		}
	}
	return errs
}

// Emit hands a ticket event to the current watcher.
func (b *Base) Emit(ctx context.Context, ev TicketEvent) error {
	if ev.TrackerID == "" {
		ev.TrackerID = b.cfg.ID
	}
	select {
	case <-b.done:
		return fmt.Errorf("tracker %s: destroyed", b.cfg.ID)
	default:
	}
	select {
	case <-b.done:
		return fmt.Errorf("tracker %s: destroyed", b.cfg.ID)
	case <-ctx.Done():
		return ctx.Err()
	case b.events <- ev:
		return nil
	}
}

func (b *Base) Watch(ctx context.Context, fn func(context.Context, TicketEvent)) (func(), error) {
	if fn == nil {
		return nil, errors.New("tracker: watch callback is required")
	}
	wctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-wctx.Done():
				return
			case <-b.done:
				return
			case ev := <-b.events:
				fn(wctx, ev)
			}
		}
	}()
	return func() {
		cancel()
		<-stopped
	}, nil
}

func (b *Base) ReportError(err error) {
	select {
	case b.errs <- objects.NewObjectError(b.cfg.ID, err):
	default:
	}
}

func (b *Base) Destroy(context.Context) error {
	b.once.Do(func() { close(b.done) })
	return nil
}
