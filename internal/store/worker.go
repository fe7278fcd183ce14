package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"
)

func (d *DB) CreateWorkRequest(ctx context.Context, w *WorkRequest) error {
	return create(ctx, d.db, w, "work request")
}

// UpsertWorkRequest keeps one request per task execution, replacing the
// stored worker, status, request and response on conflict.
func (d *DB) UpsertWorkRequest(ctx context.Context, w *WorkRequest) error {
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_execution_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"worker_id", "status", "request", "response", "updated_at"}),
	}).Create(w).Error
	if err != nil {
		return fmt.Errorf("store: upsert work request %s: %w", w.TaskExecutionID, err)
	}
	return nil
}

func (d *DB) FindWorkRequestByTaskExecution(ctx context.Context, taskExecutionID string) (*WorkRequest, error) {
	return first[WorkRequest](ctx, d.db, "work request", "", "task_execution_id = ?", taskExecutionID)
}

func (d *DB) UpdateWorkRequest(ctx context.Context, id string, columns map[string]any) error {
	return update[WorkRequest](ctx, d.db, id, columns, "work request")
}

// WorkRequestsByStatus lists a worker's requests with the status, oldest
// first.
func (d *DB) WorkRequestsByStatus(ctx context.Context, workerID, status string) ([]WorkRequest, error) {
	return find[WorkRequest](ctx, d.db, "work requests", "created_at ASC",
		"worker_id = ? AND status = ?", workerID, status)
}

func (d *DB) CountWorkRequests(ctx context.Context, workerID, status string) (int64, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&WorkRequest{}).
		Where("worker_id = ? AND status = ?", workerID, status).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("store: count work requests %s: %w", workerID, err)
	}
	return n, nil
}

// NextQueuedWorkRequest returns the oldest queued request for the worker.
func (d *DB) NextQueuedWorkRequest(ctx context.Context, workerID string) (*WorkRequest, error) {
	return first[WorkRequest](ctx, d.db, "work request", "created_at ASC",
		"worker_id = ? AND status = ?", workerID, StatusQueued)
}

func (d *DB) DeleteWorkRequestsByTaskExecution(ctx context.Context, taskExecutionID string) error {
	if err := d.db.WithContext(ctx).Where("task_execution_id = ?", taskExecutionID).Delete(&WorkRequest{}).Error; err != nil {
		return fmt.Errorf("store: delete work requests %s: %w", taskExecutionID, err)
	}
	return nil
}

// ClaimWorkRequest moves a queued request to in-progress. It reports false
// when the request was no longer queued.
func (d *DB) ClaimWorkRequest(ctx context.Context, id string) (bool, error) {
	res := d.db.WithContext(ctx).Model(&WorkRequest{}).
		Where("id = ? AND status = ?", id, StatusQueued).
		Update("status", StatusInProgress)
	if res.Error != nil {
		return false, fmt.Errorf("store: claim work request %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}
