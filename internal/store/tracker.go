package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"
)

func (d *DB) CreateTicketRequest(ctx context.Context, req *TicketRequest) error {
	return create(ctx, d.db, req, "ticket request")
}

func (d *DB) UpdateTicketRequestStatus(ctx context.Context, id, status, errMsg string) error {
	return update[TicketRequest](ctx, d.db, id, map[string]any{"status": status, "error": errMsg}, "ticket request")
}

func (d *DB) FindTicketRequest(ctx context.Context, id string) (*TicketRequest, error) {
	return first[TicketRequest](ctx, d.db, "ticket request", "", "id = ?", id)
}

func (d *DB) UpsertTicket(ctx context.Context, t *Ticket) error {
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}, {Name: "tracker_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "data", "updated_at"}),
	}).Create(t).Error
	if err != nil {
		return fmt.Errorf("store: upsert ticket %s/%s: %w", t.TrackerID, t.ID, err)
	}
	return nil
}

func (d *DB) FindTicket(ctx context.Context, trackerID, ticketID string) (*Ticket, error) {
	return first[Ticket](ctx, d.db, "ticket", "", "tracker_id = ? AND id = ?", trackerID, ticketID)
}
