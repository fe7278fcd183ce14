package store

import (
	"context"

	"github.com/workforce-oss/workforce-sub002/pkg/uuidx"
)

func (d *DB) CreateChannelMessage(ctx context.Context, msg *ChannelMessage) error {
	return create(ctx, d.db, msg, "channel message")
}

// FindOrCreateChannelMessage inserts msg unless its message id is known.
func (d *DB) FindOrCreateChannelMessage(ctx context.Context, msg *ChannelMessage) (bool, error) {
	return findOrCreate(ctx, d.db, msg, "channel message")
}

func (d *DB) UpdateChannelMessageStatus(ctx context.Context, id, status string) error {
	return update[ChannelMessage](ctx, d.db, id, map[string]any{"status": status}, "channel message")
}

func (d *DB) FindChannelMessage(ctx context.Context, id string) (*ChannelMessage, error) {
	return first[ChannelMessage](ctx, d.db, "channel message", "", "id = ?", id)
}

func (d *DB) FindChannelSession(ctx context.Context, channelID, taskExecutionID string) (*ChannelSession, error) {
	return first[ChannelSession](ctx, d.db, "channel session", "",
		"channel_id = ? AND task_execution_id = ?", channelID, taskExecutionID)
}

// FindOrCreateChannelSession returns the session for the pair, creating it
// with the given status when absent.
func (d *DB) FindOrCreateChannelSession(ctx context.Context, channelID, taskExecutionID, status string) (*ChannelSession, bool, error) {
	if existing, err := d.FindChannelSession(ctx, channelID, taskExecutionID); err != nil || existing != nil {
		return existing, false, err
	}
	row := &ChannelSession{
		ID:              uuidx.NewString(),
		ChannelID:       channelID,
		TaskExecutionID: taskExecutionID,
		Status:          status,
	}
	created, err := findOrCreate(ctx, d.db, row, "channel session")
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := d.FindChannelSession(ctx, channelID, taskExecutionID)
		return existing, false, err
	}
	return row, true, nil
}

func (d *DB) UpdateChannelSession(ctx context.Context, channelID, taskExecutionID string, columns map[string]any) error {
	session, err := d.FindChannelSession(ctx, channelID, taskExecutionID)
	if err != nil || session == nil {
		return err
	}
	return update[ChannelSession](ctx, d.db, session.ID, columns, "channel session")
}

func (d *DB) UpdateChannelSessionStatus(ctx context.Context, channelID, taskExecutionID, status string) error {
	return d.UpdateChannelSession(ctx, channelID, taskExecutionID, map[string]any{"status": status})
}
