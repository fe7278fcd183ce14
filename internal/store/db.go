// Package store is the durable audit log and snapshot store written by the
// brokers. Brokers treat every write here as best effort.
package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// DB wraps a gorm connection with the queries the brokers need.
type DB struct {
	db *gorm.DB
}

// MemoryDSN is the sqlite DSN for a throwaway database.
const MemoryDSN = ":memory:"

// OpenMemory opens and migrates an in-memory sqlite database.
func OpenMemory() (*DB, error) {
	db, err := Open(DriverSQLite, MemoryDSN)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(); err != nil {
		return nil, err
	}
	return db, nil
}

// Open connects with the named driver. An in-memory sqlite database is
// limited to one connection, since every sqlite connection to ":memory:"
// opens a separate empty database.
func Open(driver, dsn string) (*DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect %s: %w", driver, err)
	}
	if dsn == MemoryDSN {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("store: connect %s: %w", driver, err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return &DB{db: db}, nil
}

// New wraps an existing gorm connection.
func New(db *gorm.DB) *DB {
	return &DB{db: db}
}

// Gorm exposes the underlying connection.
func (d *DB) Gorm() *gorm.DB { return d.db }

// AutoMigrate creates or updates all tables.
func (d *DB) AutoMigrate() error {
	if err := d.db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("store: auto-migrate: %w", err)
	}
	return nil
}

func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return sqlDB.Close()
}

func create[T any](ctx context.Context, db *gorm.DB, row *T, what string) error {
	if err := db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("store: create %s: %w", what, err)
	}
	return nil
}

func update[T any](ctx context.Context, db *gorm.DB, id string, columns map[string]any, what string) error {
	var model T
	if err := db.WithContext(ctx).Model(&model).Where("id = ?", id).Updates(columns).Error; err != nil {
		return fmt.Errorf("store: update %s %s: %w", what, id, err)
	}
	return nil
}

// first returns nil without error when nothing matches.
func first[T any](ctx context.Context, db *gorm.DB, what string, order string, query any, args ...any) (*T, error) {
	var row T
	q := db.WithContext(ctx).Where(query, args...)
	if order != "" {
		q = q.Order(order)
	}
	err := q.First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find %s: %w", what, err)
	}
	return &row, nil
}

func find[T any](ctx context.Context, db *gorm.DB, what string, order string, query any, args ...any) ([]T, error) {
	var rows []T
	q := db.WithContext(ctx).Where(query, args...)
	if order != "" {
		q = q.Order(order)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: find %s: %w", what, err)
	}
	return rows, nil
}

// findOrCreate inserts row unless a row with the same primary key exists.
// It reports whether a row was inserted.
func findOrCreate[T any](ctx context.Context, db *gorm.DB, row *T, what string) (bool, error) {
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return false, fmt.Errorf("store: find-or-create %s: %w", what, res.Error)
	}
	return res.RowsAffected > 0, nil
}
