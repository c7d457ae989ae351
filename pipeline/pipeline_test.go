package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/martprice/config"
	"github.com/aluiziolira/martprice/models"
)

type mockWriter struct {
	mu       sync.Mutex
	replaced []*models.PriceSnapshot
	err      error
}

func (mw *mockWriter) Replace(_ context.Context, snap *models.PriceSnapshot) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.err != nil {
		return mw.err
	}
	mw.replaced = append(mw.replaced, snap)
	return nil
}

func (mw *mockWriter) Close() error {
	return nil
}

func (mw *mockWriter) calls() []*models.PriceSnapshot {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	out := make([]*models.PriceSnapshot, len(mw.replaced))
	copy(out, mw.replaced)
	return out
}

func entry(item, mart string) models.PriceEntry {
	return models.PriceEntry{
		Item:          item,
		Price:         "1,99 €",
		Link:          "https://example.test/" + mart,
		Mart:          mart,
		SearchKeyword: "신라면",
		UpdatedAt:     "2025-03-01T09:00:00Z",
	}
}

func TestPipelineKeepsInvalidEntries(t *testing.T) {
	cfg := config.DefaultConfig()
	p := NewPipeline(context.Background(), &mockWriter{}, cfg)
	p.Start()

	valid := entry("Shin Ramyun 5x120g", "REWE")
	invalid := entry("", "Kokku")
	zero := entry("Shin Cup", "GoAsia")
	zero.Price = "0"

	if err := p.Process(valid, invalid, zero); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := len(p.Entries()); got != 3 {
		t.Fatalf("entries = %d, want 3", got)
	}

	metrics := p.GetMetrics()
	validation, ok := metrics["validation_errors"].(map[string]int)
	if !ok {
		t.Fatalf("expected validation errors map")
	}
	if validation["invalid_record"] != 2 {
		t.Fatalf("invalid_record = %d, want 2", validation["invalid_record"])
	}
}

func TestPipelinePreservesOrder(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BufferSize = 4
	p := NewPipeline(context.Background(), &mockWriter{}, cfg)
	p.Start()

	for i := 0; i < 100; i++ {
		if err := p.Process(entry("item-"+strconv.Itoa(i), "REWE")); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries := p.Entries()
	if len(entries) != 100 {
		t.Fatalf("entries = %d, want 100", len(entries))
	}
	for i, e := range entries {
		if want := "item-" + strconv.Itoa(i); e.Item != want {
			t.Fatalf("entries[%d] = %q, want %q", i, e.Item, want)
		}
	}
}

func TestPipelineCommitWritesSnapshot(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, config.DefaultConfig())
	p.Start()

	if err := p.Process(entry("Shin Ramyun", "REWE"), entry("Shin Ramyun", "Knuspr")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	written, err := p.Commit(context.Background(), CommitInfo{Now: now, RunID: "run-1", CatalogVersion: 1})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !written {
		t.Fatalf("expected snapshot to be written")
	}

	calls := writer.calls()
	if len(calls) != 1 {
		t.Fatalf("replace calls = %d, want 1", len(calls))
	}
	snap := calls[0]
	if len(snap.Data) != 2 || snap.Data[1].Mart != "Knuspr" {
		t.Fatalf("unexpected snapshot data: %+v", snap.Data)
	}
	if snap.LastGlobalUpdate != "2025-03-01T09:00:00Z" {
		t.Fatalf("lastGlobalUpdate = %q", snap.LastGlobalUpdate)
	}
	if snap.RunID != "run-1" || snap.SchemaVersion != models.SchemaVersion || snap.CatalogVersion != 1 {
		t.Fatalf("unexpected metadata: %+v", snap)
	}
}

func TestPipelineCommitSkipsEmptyRun(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, config.DefaultConfig())
	p.Start()
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	written, err := p.Commit(context.Background(), CommitInfo{Now: time.Now()})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if written {
		t.Fatalf("empty run must not write")
	}
	if len(writer.calls()) != 0 {
		t.Fatalf("writer was called")
	}
}

func TestPipelineCommitRequiresClose(t *testing.T) {
	p := NewPipeline(context.Background(), &mockWriter{}, config.DefaultConfig())
	p.Start()
	defer p.Close()

	if _, err := p.Commit(context.Background(), CommitInfo{}); !errors.Is(err, ErrPipelineOpen) {
		t.Fatalf("expected ErrPipelineOpen, got %v", err)
	}
}

func TestPipelineCommitPropagatesWriterError(t *testing.T) {
	writer := &mockWriter{err: errors.New("disk full")}
	p := NewPipeline(context.Background(), writer, config.DefaultConfig())
	p.Start()
	if err := p.Process(entry("Kimchi", "REWE")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	written, err := p.Commit(context.Background(), CommitInfo{Now: time.Now()})
	if err == nil || written {
		t.Fatalf("expected failed commit, got written=%v err=%v", written, err)
	}
}

func TestPipelineCommitIgnoresMirrorFailure(t *testing.T) {
	primary := &mockWriter{}
	mirror := &mockWriter{err: errors.New("s3 down")}
	writer := NewMultiWriter(primary, mirror)
	p := NewPipeline(context.Background(), writer, config.DefaultConfig())
	p.Start()
	if err := p.Process(entry("Kimchi", "REWE")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	written, err := p.Commit(context.Background(), CommitInfo{Now: time.Now()})
	if err != nil || !written {
		t.Fatalf("expected written snapshot, got written=%v err=%v", written, err)
	}
	if len(primary.calls()) != 1 {
		t.Fatalf("primary should hold the snapshot")
	}
	if writer.MirrorFailures() != 1 {
		t.Fatalf("mirror failure should be counted")
	}
}

func TestPipelineCommitSkipsMirrorsWhenPrimaryFails(t *testing.T) {
	primary := &mockWriter{err: errors.New("store down")}
	mirror := &mockWriter{}
	p := NewPipeline(context.Background(), NewMultiWriter(primary, mirror), config.DefaultConfig())
	p.Start()
	if err := p.Process(entry("Kimchi", "REWE")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	written, err := p.Commit(context.Background(), CommitInfo{Now: time.Now()})
	if err == nil || written {
		t.Fatalf("expected failed commit, got written=%v err=%v", written, err)
	}
	if len(mirror.calls()) != 0 {
		t.Fatalf("mirrors must not publish a snapshot the primary rejected")
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	p := NewPipeline(context.Background(), &mockWriter{}, config.DefaultConfig())
	p.Start()
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Process(entry("Kimchi", "REWE")); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
}

func TestPipelineCloseTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DrainTimeout = 25 * time.Millisecond

	p := NewPipeline(context.Background(), &mockWriter{}, cfg)
	p.entriesMu.Lock()
	t.Cleanup(p.entriesMu.Unlock)
	p.Start()

	if err := p.Process(entry("Blocked", "REWE")); err != nil {
		t.Fatalf("process: %v", err)
	}

	if err := p.Close(); err == nil || !errors.Is(err, ErrPipelineCloseTimeout) {
		t.Fatalf("expected close timeout error, got %v", err)
	}
}
