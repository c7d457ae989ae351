package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds ingestion and server configuration.
type Config struct {
	// Extraction service.
	ExtractBaseURL  string
	ExtractAPIKey   string
	ExtractPrompt   string
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	RequestInterval time.Duration
	UserAgent       string
	CatalogFile     string

	// Snapshot outputs.
	StoreDriver  string // sqlite or postgres
	StoreDSN     string
	ExportFile   string
	CSVFile      string
	S3Bucket     string
	S3Key        string
	S3Endpoint   string
	S3Region     string
	S3AccessKey  string
	S3SecretKey  string
	BufferSize   int
	DrainTimeout time.Duration

	// Server.
	ListenAddr     string
	PollInterval   time.Duration
	CacheSize      int
	AllowedOrigins []string
	JWTSecret      string

	// Recipe generation.
	RecipeProvider string // gemini or openai
	GeminiAPIKey   string
	GeminiModel    string
	OpenAIAPIKey   string
	OpenAIModel    string
	OpenAIBaseURL  string
	RecipeLimit    int
	RecipeWindow   time.Duration

	MetricsAddr string
	Verbose     bool
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		ExtractBaseURL:  "https://api.firecrawl.dev",
		ExtractPrompt:   "Extract the first grocery products shown in the search results with their name, current price in EUR and absolute product link.",
		Timeout:         60 * time.Second,
		MaxRetries:      0,
		RetryBackoff:    500 * time.Millisecond,
		RetryBackoffMax: 5 * time.Second,
		RequestInterval: 0,
		UserAgent:       "martprice-ingest/1.0",
		StoreDriver:     "sqlite",
		StoreDSN:        "martprice.db",
		S3Key:           "prices/latest.json",
		S3Region:        "auto",
		BufferSize:      256,
		DrainTimeout:    10 * time.Second,
		ListenAddr:      ":8080",
		PollInterval:    5 * time.Second,
		CacheSize:       256,
		AllowedOrigins:  []string{"http://localhost:5173", "http://localhost:3000"},
		RecipeProvider:  "gemini",
		GeminiModel:     "gemini-2.0-flash",
		OpenAIModel:     "gpt-4o-mini",
		RecipeLimit:     5,
		RecipeWindow:    24 * time.Hour,
	}
}

// Validate checks settings shared by every command.
func (c *Config) Validate() error {
	if c.StoreDriver != "sqlite" && c.StoreDriver != "postgres" {
		return fmt.Errorf("store driver must be sqlite or postgres")
	}
	if c.StoreDSN == "" {
		return fmt.Errorf("store dsn cannot be empty")
	}
	return nil
}

// ValidateIngest checks everything an ingestion run needs before the first request.
func (c *Config) ValidateIngest() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ExtractBaseURL == "" {
		return fmt.Errorf("extract base URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.ExtractBaseURL)
	if err != nil {
		return fmt.Errorf("invalid extract base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("extract base URL must include a host")
	}
	if c.ExtractAPIKey == "" {
		return fmt.Errorf("extract API key cannot be empty")
	}
	if c.ExtractPrompt == "" {
		return fmt.Errorf("extract prompt cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.RequestInterval < 0 {
		return fmt.Errorf("request interval cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive")
	}
	if c.DrainTimeout <= 0 {
		return fmt.Errorf("drain timeout must be positive")
	}
	if c.S3Bucket != "" && c.S3Key == "" {
		return fmt.Errorf("s3 key cannot be empty when a bucket is set")
	}
	return nil
}

// ValidateServe checks the HTTP server settings.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.RecipeProvider != "gemini" && c.RecipeProvider != "openai" {
		return fmt.Errorf("recipe provider must be gemini or openai")
	}
	if c.RecipeLimit <= 0 {
		return fmt.Errorf("recipe limit must be positive")
	}
	if c.RecipeWindow <= 0 {
		return fmt.Errorf("recipe window must be positive")
	}
	return nil
}
