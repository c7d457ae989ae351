package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/aluiziolira/martprice/config"
	"github.com/aluiziolira/martprice/models"
	"github.com/aluiziolira/martprice/pipeline"
	"github.com/aluiziolira/martprice/scraper"
	"github.com/aluiziolira/martprice/store"
)

func ingestCommand(defaults *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Run one ingestion pass over the catalog and replace the price snapshot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "extract-base-url",
				Value:   defaults.ExtractBaseURL,
				Usage:   "Base URL of the structured extraction service",
				EnvVars: []string{"MARTPRICE_EXTRACT_BASE_URL"},
			},
			&cli.StringFlag{
				Name:    "extract-api-key",
				Usage:   "API key for the extraction service",
				EnvVars: []string{"MARTPRICE_EXTRACT_API_KEY", "FIRECRAWL_API_KEY"},
			},
			&cli.StringFlag{
				Name:    "extract-prompt",
				Value:   defaults.ExtractPrompt,
				Usage:   "Extraction instruction sent with every page",
				EnvVars: []string{"MARTPRICE_EXTRACT_PROMPT"},
			},
			&cli.StringFlag{
				Name:    "catalog",
				Usage:   "Catalog YAML file (defaults to the embedded catalog)",
				EnvVars: []string{"MARTPRICE_CATALOG"},
			},
			&cli.DurationFlag{Name: "timeout", Value: defaults.Timeout, Usage: "Per-call timeout"},
			&cli.IntFlag{Name: "max-retries", Value: defaults.MaxRetries, Usage: "Retry attempts per pair for transient failures"},
			&cli.DurationFlag{Name: "retry-backoff", Value: defaults.RetryBackoff, Usage: "Initial retry backoff"},
			&cli.DurationFlag{Name: "retry-backoff-max", Value: defaults.RetryBackoffMax, Usage: "Maximum retry backoff"},
			&cli.DurationFlag{Name: "request-interval", Value: defaults.RequestInterval, Usage: "Minimum spacing between extraction calls (0 = unpaced)"},
			&cli.StringFlag{Name: "user-agent", Value: defaults.UserAgent, Usage: "User agent sent to the extraction service"},
			&cli.StringFlag{Name: "export-json", Usage: "Also write the snapshot document to this JSON file", EnvVars: []string{"MARTPRICE_EXPORT_JSON"}},
			&cli.StringFlag{Name: "export-csv", Usage: "Also write the snapshot rows to this CSV file", EnvVars: []string{"MARTPRICE_EXPORT_CSV"}},
			&cli.StringFlag{Name: "s3-bucket", Usage: "Mirror the snapshot to this bucket", EnvVars: []string{"MARTPRICE_S3_BUCKET"}},
			&cli.StringFlag{Name: "s3-key", Value: defaults.S3Key, Usage: "Object key of the mirrored snapshot", EnvVars: []string{"MARTPRICE_S3_KEY"}},
			&cli.StringFlag{Name: "s3-endpoint", Usage: "S3-compatible endpoint (R2, MinIO)", EnvVars: []string{"MARTPRICE_S3_ENDPOINT"}},
			&cli.StringFlag{Name: "s3-region", Value: defaults.S3Region, Usage: "S3 region", EnvVars: []string{"MARTPRICE_S3_REGION"}},
			&cli.StringFlag{Name: "s3-access-key", Usage: "S3 access key id", EnvVars: []string{"MARTPRICE_S3_ACCESS_KEY"}},
			&cli.StringFlag{Name: "s3-secret-key", Usage: "S3 secret access key", EnvVars: []string{"MARTPRICE_S3_SECRET_KEY"}},
			&cli.IntFlag{Name: "buffer-size", Value: defaults.BufferSize, Usage: "Pipeline channel buffer"},
			&cli.DurationFlag{Name: "drain-timeout", Value: defaults.DrainTimeout, Usage: "Maximum wait for the pipeline to drain"},
		},
		Action: runIngest,
	}
}

func ingestConfig(c *cli.Context) *config.Config {
	cfg := baseConfig(c)
	cfg.ExtractBaseURL = c.String("extract-base-url")
	cfg.ExtractAPIKey = c.String("extract-api-key")
	cfg.ExtractPrompt = c.String("extract-prompt")
	cfg.CatalogFile = c.String("catalog")
	cfg.Timeout = c.Duration("timeout")
	cfg.MaxRetries = c.Int("max-retries")
	cfg.RetryBackoff = c.Duration("retry-backoff")
	cfg.RetryBackoffMax = c.Duration("retry-backoff-max")
	cfg.RequestInterval = c.Duration("request-interval")
	cfg.UserAgent = c.String("user-agent")
	cfg.ExportFile = c.String("export-json")
	cfg.CSVFile = c.String("export-csv")
	cfg.S3Bucket = c.String("s3-bucket")
	cfg.S3Key = c.String("s3-key")
	cfg.S3Endpoint = c.String("s3-endpoint")
	cfg.S3Region = c.String("s3-region")
	cfg.S3AccessKey = c.String("s3-access-key")
	cfg.S3SecretKey = c.String("s3-secret-key")
	cfg.BufferSize = c.Int("buffer-size")
	cfg.DrainTimeout = c.Duration("drain-timeout")
	return cfg
}

func runIngest(c *cli.Context) error {
	ctx := c.Context
	cfg := ingestConfig(c)
	if err := cfg.ValidateIngest(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), 1)
	}

	catalog, err := config.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return cli.Exit(fmt.Sprintf("load catalog: %v", err), 1)
	}

	s, err := scraper.NewScraper(cfg, catalog)
	if err != nil {
		return cli.Exit(fmt.Sprintf("initialising scraper: %v", err), 1)
	}

	writer, err := createWriter(ctx, cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("creating writer: %v", err), 1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, stopping after the current pair")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start()
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	startTime := time.Now()
	result, runErr := s.Run(ctx, p)
	closeErr := p.Close()
	metrics := p.GetMetrics()

	if runErr != nil {
		printSummary(result, time.Since(startTime), cfg, metrics)
		return cli.Exit(fmt.Sprintf("ingest failed, snapshot left unchanged: %v", runErr), 1)
	}
	if closeErr != nil {
		return cli.Exit(fmt.Sprintf("pipeline shutdown failed: %v", closeErr), 1)
	}

	written, err := p.Commit(ctx, pipeline.CommitInfo{
		Now:            time.Now(),
		RunID:          result.RunID,
		CatalogVersion: catalog.Version,
	})
	result.Written = written
	if mw, ok := writer.(*pipeline.MultiWriter); ok && mw.MirrorFailures() > 0 {
		slog.Warn("snapshot stored but some mirrors are stale", slog.Int64("failed_mirrors", mw.MirrorFailures()))
	}
	printSummary(result, time.Since(startTime), cfg, metrics)
	if err != nil {
		return cli.Exit(fmt.Sprintf("commit snapshot: %v", err), 1)
	}
	return nil
}

// createWriter opens the store and any configured mirrors. The store is the primary
// destination; the mirrors follow it.
func createWriter(ctx context.Context, cfg *config.Config) (pipeline.SnapshotWriter, error) {
	st, err := store.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return nil, err
	}
	writers := []pipeline.SnapshotWriter{st}

	if cfg.ExportFile != "" {
		jw, err := pipeline.NewJSONWriter(cfg.ExportFile)
		if err != nil {
			st.Close()
			return nil, err
		}
		writers = append(writers, jw)
	}
	if cfg.CSVFile != "" {
		cw, err := pipeline.NewCSVWriter(cfg.CSVFile)
		if err != nil {
			st.Close()
			return nil, err
		}
		writers = append(writers, cw)
	}
	if cfg.S3Bucket != "" {
		sw, err := pipeline.NewS3Writer(ctx, pipeline.S3Options{
			Bucket:    cfg.S3Bucket,
			Key:       cfg.S3Key,
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			st.Close()
			return nil, err
		}
		writers = append(writers, sw)
	}

	if len(writers) == 1 {
		return st, nil
	}
	return pipeline.NewMultiWriter(writers...), nil
}

func printSummary(result *models.IngestResult, duration time.Duration, cfg *config.Config, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Ingest complete")

	collected := int64(0)
	if n, ok := metrics["collected_entries"].(int64); ok {
		collected = n
	}

	fmt.Printf("  Run ID:        %s\n", result.RunID)
	fmt.Printf("  Entries:       %d\n", collected)
	successRate := 0.0
	if pairs := result.SuccessCount + result.ErrorCount; pairs > 0 {
		successRate = float64(result.SuccessCount) / float64(pairs) * 100
	}
	fmt.Printf("  Success rate:  %.2f%%\n", successRate)
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Errors:        %d\n", result.ErrorCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Failed pairs:  %d\n", len(result.FailedPairs))
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Snapshot:      %s (written=%t)\n", cfg.StoreDriver, result.Written)
	fmt.Println(separator)
}
