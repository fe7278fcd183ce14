// Package mock is an in-memory tracker holding a single ticket.
package mock

import (
	"context"
	"sync"

	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/tracker"
	"github.com/workforce-oss/workforce-sub002/pkg/uuidx"
)

const (
	Subtype  = "mock-tracker"
	TicketID = "mock-ticket-id"
)

type Tracker struct {
	*tracker.Base

	mu   sync.Mutex
	data tracker.TicketData
}

func New(cfg objects.Config) *Tracker {
	return &Tracker{
		Base: tracker.NewBase(cfg),
		data: tracker.TicketData{Name: "mock-ticket-name", Status: tracker.TicketReady},
	}
}

func (t *Tracker) CreateTicket(_ context.Context, req tracker.TicketCreateRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = req.Input
	return nil
}

func (t *Tracker) UpdateTicket(ctx context.Context, req tracker.TicketUpdateRequest) error {
	t.mu.Lock()
	t.data = t.data.Merge(req.Data)
	t.mu.Unlock()
	return t.emit(ctx)
}

func (t *Tracker) Refresh(ctx context.Context) error { return t.emit(ctx) }

func (t *Tracker) Data() tracker.TicketData {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data
}

func (t *Tracker) emit(ctx context.Context) error {
	return t.Emit(ctx, tracker.TicketEvent{
		TrackerID:     t.Config().ID,
		TicketID:      TicketID,
		TicketEventID: uuidx.NewString(),
		Data:          t.Data(),
	})
}
