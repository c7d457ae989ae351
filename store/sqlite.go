package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/aluiziolira/martprice/models"
)

type snapshotRow struct {
	ID        string `gorm:"primaryKey"`
	Version   int64  `gorm:"not null"`
	Data      []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (snapshotRow) TableName() string { return "price_snapshots" }

type usageRow struct {
	UserID      string    `gorm:"primaryKey"`
	WindowStart time.Time `gorm:"not null"`
	Count       int       `gorm:"not null"`
}

func (usageRow) TableName() string { return "recipe_usage" }

// SQLiteStore keeps documents in a local SQLite file through gorm.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (or creates) the database at path and migrates the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&snapshotRow{}, &usageRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*models.PriceSnapshot, int64, bool, error) {
	var row snapshotRow
	err := s.db.WithContext(ctx).Where("id = ?", models.DocumentID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("load snapshot: %w", err)
	}
	snap, err := decodeSnapshot(row.Data)
	if err != nil {
		return nil, 0, false, err
	}
	return snap, row.Version, true, nil
}

func (s *SQLiteStore) Version(ctx context.Context) (int64, error) {
	var versions []int64
	err := s.db.WithContext(ctx).Model(&snapshotRow{}).
		Where("id = ?", models.DocumentID).
		Pluck("version", &versions).Error
	if err != nil {
		return 0, fmt.Errorf("snapshot version: %w", err)
	}
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[0], nil
}

func (s *SQLiteStore) Replace(ctx context.Context, snap *models.PriceSnapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	row := snapshotRow{
		ID:        models.DocumentID,
		Version:   1,
		Data:      data,
		UpdatedAt: time.Now().UTC(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"version":    gorm.Expr("price_snapshots.version + 1"),
			"data":       row.Data,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Usage(ctx context.Context, userID string) (Usage, error) {
	var row usageRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Usage{UserID: userID}, nil
	}
	if err != nil {
		return Usage{}, fmt.Errorf("load usage: %w", err)
	}
	return Usage{UserID: row.UserID, WindowStart: row.WindowStart, Count: row.Count}, nil
}

func (s *SQLiteStore) SaveUsage(ctx context.Context, u Usage) error {
	row := usageRow{UserID: u.UserID, WindowStart: u.WindowStart.UTC(), Count: u.Count}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"window_start", "count"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save usage: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
