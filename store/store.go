// Package store persists the price snapshot document and per-user recipe usage.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aluiziolira/martprice/models"
)

// Usage is a user's recipe generation count inside the current window.
type Usage struct {
	UserID      string
	WindowStart time.Time
	Count       int
}

// Store is the shared document store. Replace is the only write to the snapshot and
// always swaps the whole document.
type Store interface {
	// Load returns the current snapshot and its version; found is false when no
	// ingestion run has written one yet.
	Load(ctx context.Context) (snap *models.PriceSnapshot, version int64, found bool, err error)
	// Version returns the current snapshot version, 0 when none exists.
	Version(ctx context.Context) (int64, error)
	Replace(ctx context.Context, snap *models.PriceSnapshot) error
	Usage(ctx context.Context, userID string) (Usage, error)
	SaveUsage(ctx context.Context, u Usage) error
	Close() error
}

// Open connects to the store selected by driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteStore(dsn)
	case "postgres":
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}

func encodeSnapshot(snap *models.PriceSnapshot) ([]byte, error) {
	if snap == nil {
		return nil, fmt.Errorf("snapshot is nil")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (*models.PriceSnapshot, error) {
	var snap models.PriceSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
