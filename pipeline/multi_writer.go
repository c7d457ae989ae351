package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/aluiziolira/martprice/models"
)

// MultiWriter fans a snapshot out to several writers. The first writer is the
// primary destination; the rest are best-effort mirrors that only run once the
// primary has accepted the snapshot.
type MultiWriter struct {
	writers        []SnapshotWriter
	mirrorFailures atomic.Int64
}

// NewMultiWriter combines writers in order. Nil writers are skipped.
func NewMultiWriter(writers ...SnapshotWriter) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range writers {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

// Replace writes the primary first and stops there if it fails. Mirror failures are
// logged and counted but never fail the call.
func (mw *MultiWriter) Replace(ctx context.Context, snap *models.PriceSnapshot) error {
	if len(mw.writers) == 0 {
		return nil
	}
	if err := mw.writers[0].Replace(ctx, snap); err != nil {
		return fmt.Errorf("primary writer: %w", err)
	}

	for i, w := range mw.writers[1:] {
		if err := w.Replace(ctx, snap); err != nil {
			mw.mirrorFailures.Add(1)
			slog.Warn("snapshot mirror failed",
				slog.Int("mirror", i+1),
				slog.String("run_id", snap.RunID),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// MirrorFailures reports how many mirror writes have failed so far.
func (mw *MultiWriter) MirrorFailures() int64 {
	return mw.mirrorFailures.Load()
}

// Close closes every destination.
func (mw *MultiWriter) Close() error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
