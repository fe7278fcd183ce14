package store

import "context"

func (d *DB) CreateResourceWrite(ctx context.Context, w *ResourceWrite) error {
	return create(ctx, d.db, w, "resource write")
}

func (d *DB) UpdateResourceWriteStatus(ctx context.Context, id, status, errMsg string) error {
	return update[ResourceWrite](ctx, d.db, id, map[string]any{"status": status, "error": errMsg}, "resource write")
}

func (d *DB) FindResourceWrite(ctx context.Context, id string) (*ResourceWrite, error) {
	return first[ResourceWrite](ctx, d.db, "resource write", "", "id = ?", id)
}

func (d *DB) CreateResourceVersion(ctx context.Context, v *ResourceVersion) error {
	_, err := findOrCreate(ctx, d.db, v, "resource version")
	return err
}

func (d *DB) LatestResourceVersion(ctx context.Context, resourceID string) (*ResourceVersion, error) {
	return first[ResourceVersion](ctx, d.db, "resource version", "created_at DESC",
		"resource_id = ?", resourceID)
}
