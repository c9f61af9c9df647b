// Package cachestore persists freshness-cache snapshots in SQLite so
// counts and last-updated timestamps survive restarts. One row per
// (account, kind), payload stored as JSON.
package cachestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

type snapshotModel struct {
	ID           uint           `gorm:"primaryKey"`
	AccountID    int64          `gorm:"uniqueIndex:idx_snapshot_key;not null"`
	Kind         string         `gorm:"size:16;uniqueIndex:idx_snapshot_key;not null"`
	Payload      datatypes.JSON `gorm:"not null"`
	UpdatedAtMS  int64          `gorm:"not null"`
	DerivedCount int            `gorm:"not null"`
}

func (snapshotModel) TableName() string { return "cache_snapshots" }

// Record is one persisted (account, kind) snapshot.
type Record struct {
	AccountID    int64
	Kind         string
	Payload      []byte
	UpdatedAtMS  int64
	DerivedCount int
}

// Store wraps the gorm SQLite handle.
type Store struct {
	db *gorm.DB
}

// New opens (creating if needed) the snapshot database at path.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("cache store path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// DriverName selects the pure-Go modernc driver registered above;
	// the default mattn driver is a stub when built with CGO_ENABLED=0.
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return NewFromDB(db)
}

// NewFromDB wraps an existing gorm handle (used by tests).
func NewFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	if err := db.AutoMigrate(&snapshotModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db}, nil
}

// Upsert fully replaces the row for (account, kind).
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("cache store not initialized")
	}
	model := snapshotModel{
		AccountID:    rec.AccountID,
		Kind:         rec.Kind,
		Payload:      datatypes.JSON(rec.Payload),
		UpdatedAtMS:  rec.UpdatedAtMS,
		DerivedCount: rec.DerivedCount,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at_ms", "derived_count"}),
	}).Create(&model).Error
}

// LoadAll returns every persisted snapshot, for cache warm-up at startup.
func (s *Store) LoadAll(ctx context.Context) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("cache store not initialized")
	}
	var models []snapshotModel
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(models))
	for _, m := range models {
		records = append(records, Record{
			AccountID:    m.AccountID,
			Kind:         m.Kind,
			Payload:      []byte(m.Payload),
			UpdatedAtMS:  m.UpdatedAtMS,
			DerivedCount: m.DerivedCount,
		})
	}
	return records, nil
}

// Ping verifies the underlying connection, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("cache store not initialized")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
