package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/martprice/config"
	"github.com/aluiziolira/martprice/models"
	"github.com/aluiziolira/martprice/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when pending entries are not drained in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
	// ErrPipelineOpen is returned when Commit is called before Close.
	ErrPipelineOpen = errors.New("pipeline: commit before close")
)

// drainTimeout bounds Close when the config does not set one.
var drainTimeout = 10 * time.Second

// SnapshotWriter replaces the published snapshot document.
type SnapshotWriter interface {
	Replace(ctx context.Context, snap *models.PriceSnapshot) error
	Close() error
}

// CommitInfo carries the run metadata stamped on a snapshot.
type CommitInfo struct {
	Now            time.Time
	RunID          string
	CatalogVersion int
}

// Pipeline accumulates extracted entries in arrival order and commits them as one
// snapshot. A single collector goroutine keeps the item-outer, mart-inner order.
type Pipeline struct {
	ctx     context.Context
	writer  SnapshotWriter
	entryCh chan models.PriceEntry
	timeout time.Duration

	wg sync.WaitGroup

	entriesMu sync.Mutex
	entries   []models.PriceEntry

	metrics metrics

	mu     sync.Mutex // guards closed/err/started
	closed bool
	err    error

	started      bool
	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline buffered according to cfg.
func NewPipeline(ctx context.Context, writer SnapshotWriter, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	buffer := 256
	timeout := drainTimeout
	if cfg != nil {
		if cfg.BufferSize > 0 {
			buffer = cfg.BufferSize
		}
		if cfg.DrainTimeout > 0 {
			timeout = cfg.DrainTimeout
		}
	}
	return &Pipeline{
		ctx:      ctx,
		writer:   writer,
		entryCh:  make(chan models.PriceEntry, buffer),
		timeout:  timeout,
		metrics:  newMetrics(),
		shutdown: make(chan struct{}),
	}
}

// Start launches the collector goroutine. Calling it more than once has no effect.
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.closed || p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.collect()
}

// Process enqueues entries in order.
func (p *Pipeline) Process(entries ...models.PriceEntry) error {
	if len(entries) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, e := range entries {
		if err := p.enqueue(e); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting entries and waits for the collector to drain.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.entryCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timeout := p.timeout
	if timeout <= 0 {
		timeout = drainTimeout
	}
	select {
	case <-done:
	case <-time.After(timeout):
		p.signalShutdown()
		return fmt.Errorf("%w after %s", ErrPipelineCloseTimeout, timeout)
	}

	p.signalShutdown()
	return p.Err()
}

// Commit writes the accumulated entries as a new snapshot. Nothing is written when no
// entry was collected, so the previous snapshot stays in place.
func (p *Pipeline) Commit(ctx context.Context, info CommitInfo) (bool, error) {
	closed, err := p.state()
	if err != nil {
		return false, err
	}
	if !closed {
		return false, ErrPipelineOpen
	}

	entries := p.Entries()
	if len(entries) == 0 {
		slog.Warn("no entries collected, keeping previous snapshot")
		return false, nil
	}

	now := info.Now
	if now.IsZero() {
		now = time.Now()
	}
	snap := &models.PriceSnapshot{
		Data:             entries,
		LastGlobalUpdate: now.UTC().Format(time.RFC3339),
		RunID:            info.RunID,
		SchemaVersion:    models.SchemaVersion,
		CatalogVersion:   info.CatalogVersion,
	}
	if err := p.writer.Replace(ctx, snap); err != nil {
		return false, fmt.Errorf("replace snapshot: %w", err)
	}
	p.metrics.markCommitted()
	return true, nil
}

// Entries returns a copy of the collected entries.
func (p *Pipeline) Entries() []models.PriceEntry {
	p.entriesMu.Lock()
	defer p.entriesMu.Unlock()
	out := make([]models.PriceEntry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs until the pipeline shuts down.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				metrics := p.GetMetrics()
				slog.Info("pipeline progress",
					slog.Int64("collected", metrics["collected_entries"].(int64)),
					slog.Int("validation_errors", len(metrics["validation_errors"].(map[string]int))),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) collect() {
	defer p.wg.Done()

	for e := range p.entryCh {
		if err := parser.ValidateEntry(&e); err != nil {
			// Kept verbatim; presentation drops it.
			p.metrics.addValidation("invalid_record")
			slog.Debug("collected entry not presentable", slog.String("mart", e.Mart), slog.Any("error", err))
		}

		p.entriesMu.Lock()
		p.entries = append(p.entries, e)
		p.entriesMu.Unlock()
		p.metrics.incrementCollected()
	}
}

func (p *Pipeline) enqueue(e models.PriceEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.entryCh <- e:
		return nil
	}
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu         sync.Mutex
	collected  int64
	committed  bool
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementCollected() {
	m.mu.Lock()
	m.collected++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) markCommitted() {
	m.mu.Lock()
	m.committed = true
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"collected_entries": m.collected,
		"committed":         m.committed,
		"validation_errors": copyValidation,
	}
}
