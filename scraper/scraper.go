package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/martprice/config"
	"github.com/aluiziolira/martprice/models"
)

// Sink receives extracted entries in catalog order.
type Sink interface {
	Process(entries ...models.PriceEntry) error
}

// Scraper walks the catalog and turns each mart/item pair into at most one entry.
type Scraper struct {
	cfg       *config.Config
	catalog   *config.Catalog
	extractor *Extractor
	retry     retryPolicy
	limiter   *rate.Limiter
	now       func() time.Time
	Metrics   *Metrics
}

// NewScraper validates cfg and builds a scraper over catalog.
func NewScraper(cfg *config.Config, catalog *config.Catalog) (*Scraper, error) {
	if err := cfg.ValidateIngest(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	metrics := NewMetrics()
	extractor, err := NewExtractor(cfg, metrics)
	if err != nil {
		return nil, err
	}

	s := &Scraper{
		cfg:       cfg,
		catalog:   catalog,
		extractor: extractor,
		retry: retryPolicy{
			maxRetries: cfg.MaxRetries,
			base:       cfg.RetryBackoff,
			max:        cfg.RetryBackoffMax,
		},
		now:     time.Now,
		Metrics: metrics,
	}
	if cfg.RequestInterval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(cfg.RequestInterval), 1)
	}
	return s, nil
}

// Run visits every pair sequentially, item outer and mart inner, and hands the first
// product of each successful extraction to sink. Per-pair failures are recorded and
// skipped. A rejected API key or a cancelled context aborts the run.
func (s *Scraper) Run(ctx context.Context, sink Sink) (*models.IngestResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := &models.IngestResult{
		RunID:        uuid.NewString(),
		StartTime:    s.now(),
		ErrorsByType: make(map[string]int),
	}
	finish := func(err error) (*models.IngestResult, error) {
		result.EndTime = s.now()
		return result, err
	}

	slog.Info("ingest started",
		slog.String("run_id", result.RunID),
		slog.Int("marts", len(s.catalog.Marts)),
		slog.Int("items", len(s.catalog.Items)),
	)

	for _, item := range s.catalog.Items {
		for _, mart := range s.catalog.Marts {
			if err := ctx.Err(); err != nil {
				return finish(fmt.Errorf("ingest cancelled: %w", err))
			}

			pageURL := mart.BuildURL(item.Query)
			products, attempts, err := s.extract(ctx, mart.Name, pageURL)
			result.RequestCount += attempts
			if attempts > 1 {
				result.RetryCount += attempts - 1
			}

			if err != nil {
				if ctx.Err() != nil {
					return finish(fmt.Errorf("ingest cancelled: %w", ctx.Err()))
				}
				var unauthorized ErrUnauthorized
				if errors.As(err, &unauthorized) {
					s.record(result, mart, item, pageURL, err)
					slog.Error("extraction credentials rejected, aborting run", slog.Any("error", err))
					return finish(err)
				}
				s.record(result, mart, item, pageURL, err)
				continue
			}

			first := products[0]
			entry := models.PriceEntry{
				Item:          first.Item,
				Price:         first.Price,
				Link:          first.Link,
				Mart:          mart.Name,
				SearchKeyword: item.Keyword,
				UpdatedAt:     s.now().UTC().Format(time.RFC3339),
			}
			if err := sink.Process(entry); err != nil {
				return finish(fmt.Errorf("hand off entry: %w", err))
			}
			result.SuccessCount++
			s.Metrics.collected(mart.Name, s.now())
			slog.Info("price collected",
				slog.String("mart", mart.Name),
				slog.String("keyword", item.Keyword),
				slog.String("price", first.Price),
			)
		}
	}

	return finish(nil)
}

func (s *Scraper) extract(ctx context.Context, mart, pageURL string) ([]Product, int, error) {
	attempts := 0
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, attempts, err
			}
		}

		attempts++
		products, err := s.extractor.Extract(ctx, mart, pageURL)
		if err == nil {
			return products, attempts, nil
		}
		if !s.retry.shouldRetry(err, attempts) {
			return nil, attempts, err
		}

		s.Metrics.retried(mart)
		delay := s.retry.backoff(attempts)
		slog.Debug("retrying extraction",
			slog.String("url", pageURL),
			slog.Int("attempt", attempts),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempts, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Scraper) record(result *models.IngestResult, mart config.Mart, item config.Item, pageURL string, err error) {
	category := errorTypeLabel(err)
	result.ErrorCount++
	result.ErrorsByType[category]++
	result.FailedPairs = append(result.FailedPairs, models.FailedPair{
		Mart:    mart.Name,
		Keyword: item.Keyword,
		URL:     pageURL,
		Reason:  category,
	})
	s.Metrics.failed(mart.Name, category)
	slog.Warn("extraction failed",
		slog.String("mart", mart.Name),
		slog.String("keyword", item.Keyword),
		slog.String("category", category),
		slog.Any("error", err),
	)
}

type retryPolicy struct {
	maxRetries int
	base       time.Duration
	max        time.Duration
}

func (rp retryPolicy) shouldRetry(err error, attempts int) bool {
	if rp.maxRetries <= 0 || attempts > rp.maxRetries {
		return false
	}
	return retryable(err)
}

func (rp retryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rp.base
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if rp.max > 0 && delay > rp.max {
		delay = rp.max
	}
	return delay
}
