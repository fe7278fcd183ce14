package store

import (
	"context"
	"fmt"
)

func (d *DB) FindDocument(ctx context.Context, id string) (*Document, error) {
	return first[Document](ctx, d.db, "document", "", "id = ?", id)
}

// FindOrCreateDocument returns the stored document with doc.ID, inserting
// doc when there is none.
func (d *DB) FindOrCreateDocument(ctx context.Context, doc *Document) (*Document, bool, error) {
	if existing, err := d.FindDocument(ctx, doc.ID); err != nil || existing != nil {
		return existing, false, err
	}
	created, err := findOrCreate(ctx, d.db, doc, "document")
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := d.FindDocument(ctx, doc.ID)
		return existing, false, err
	}
	return doc, true, nil
}

func (d *DB) UpdateDocumentStatus(ctx context.Context, id, status string) error {
	return update[Document](ctx, d.db, id, map[string]any{"status": status}, "document")
}

func (d *DB) DocumentsByStatus(ctx context.Context, status string) ([]Document, error) {
	return find[Document](ctx, d.db, "documents", "created_at ASC", "status = ?", status)
}

func (d *DB) PurgeDocument(ctx context.Context, id string) error {
	if err := d.db.WithContext(ctx).Where("id = ?", id).Delete(&Document{}).Error; err != nil {
		return fmt.Errorf("store: purge document %s: %w", id, err)
	}
	return nil
}

func (d *DB) CreateDocumentRepository(ctx context.Context, repo *DocumentRepository) error {
	return create(ctx, d.db, repo, "document repository")
}

func (d *DB) UpdateDocumentRepositoryStatus(ctx context.Context, id, status string) error {
	return update[DocumentRepository](ctx, d.db, id, map[string]any{"status": status}, "document repository")
}

func (d *DB) DocumentRepositoriesByStatus(ctx context.Context, status string) ([]DocumentRepository, error) {
	return find[DocumentRepository](ctx, d.db, "document repositories", "created_at ASC", "status = ?", status)
}

// PurgeDocumentRepository removes the repository row and its documents.
func (d *DB) PurgeDocumentRepository(ctx context.Context, id string) error {
	tx := d.db.WithContext(ctx)
	if err := tx.Where("repository_id = ?", id).Delete(&Document{}).Error; err != nil {
		return fmt.Errorf("store: purge documents of repository %s: %w", id, err)
	}
	if err := tx.Where("id = ?", id).Delete(&DocumentRepository{}).Error; err != nil {
		return fmt.Errorf("store: purge document repository %s: %w", id, err)
	}
	return nil
}

func (d *DB) CountDocuments(ctx context.Context, repositoryID string) (int64, error) {
	var n int64
	if err := d.db.WithContext(ctx).Model(&Document{}).Where("repository_id = ?", repositoryID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("store: count documents %s: %w", repositoryID, err)
	}
	return n, nil
}
