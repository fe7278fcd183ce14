package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"
)

func (d *DB) CreateToolRequest(ctx context.Context, req *ToolRequest) error {
	return create(ctx, d.db, req, "tool request")
}

func (d *DB) UpdateToolRequest(ctx context.Context, id, status, response string) error {
	return update[ToolRequest](ctx, d.db, id, map[string]any{"status": status, "response": response}, "tool request")
}

func (d *DB) FindToolRequest(ctx context.Context, id string) (*ToolRequest, error) {
	return first[ToolRequest](ctx, d.db, "tool request", "", "id = ?", id)
}

// UpsertToolState keeps one snapshot per tool and task execution.
func (d *DB) UpsertToolState(ctx context.Context, s *ToolStateSnapshot) error {
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tool_id"}, {Name: "task_execution_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"machine_state", "human_state", "machine_image", "updated_at"}),
	}).Create(s).Error
	if err != nil {
		return fmt.Errorf("store: upsert tool state %s/%s: %w", s.ToolID, s.TaskExecutionID, err)
	}
	return nil
}

// LatestToolState returns the most recently created snapshot for the task
// execution, or nil.
func (d *DB) LatestToolState(ctx context.Context, taskExecutionID string) (*ToolStateSnapshot, error) {
	return first[ToolStateSnapshot](ctx, d.db, "tool state", "created_at DESC, id DESC",
		"task_execution_id = ?", taskExecutionID)
}
