package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/martprice/config"
)

const extractPath = "/v1/extract"

// Product is one product row returned by the extraction service.
type Product struct {
	Item  string `json:"item"`
	Price string `json:"price"`
	Link  string `json:"link"`
}

type extractRequest struct {
	URLs   []string       `json:"urls"`
	Prompt string         `json:"prompt"`
	Schema map[string]any `json:"schema"`
}

type extractResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		Products []Product `json:"products"`
	} `json:"data"`
}

// productSchema asks for {products: [{item, price, link}]}.
var productSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"products": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"item":  map[string]any{"type": "string"},
					"price": map[string]any{"type": "string"},
					"link":  map[string]any{"type": "string"},
				},
				"required": []string{"item", "price", "link"},
			},
		},
	},
	"required": []string{"products"},
}

// Extractor calls the structured-extraction service for one search page at a time.
type Extractor struct {
	collector *colly.Collector
	transport *callTransport
	endpoint  string
	apiKey    string
	prompt    string
	userAgent string
	metrics   *Metrics
}

// NewExtractor builds a synchronous collector pointed at the extraction endpoint.
func NewExtractor(cfg *config.Config, metrics *Metrics) (*Extractor, error) {
	endpoint := strings.TrimRight(cfg.ExtractBaseURL, "/") + extractPath
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse extract url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("extract url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	transport := &callTransport{base: &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}}
	collector.WithTransport(transport)

	e := &Extractor{
		collector: collector,
		transport: transport,
		endpoint:  parsed.String(),
		apiKey:    cfg.ExtractAPIKey,
		prompt:    cfg.ExtractPrompt,
		userAgent: cfg.UserAgent,
		metrics:   metrics,
	}
	e.configureHandlers()
	return e, nil
}

// SetTransport swaps the HTTP transport beneath the cancellation wrapper.
func (e *Extractor) SetTransport(rt http.RoundTripper) {
	e.transport.setBase(rt)
}

func (e *Extractor) configureHandlers() {
	e.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		e.metrics.call(r.Ctx.Get("mart"), "started")
	})

	e.collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put("body", r.Body)
		e.observe(r.Ctx)
	})

	e.collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		r.Ctx.Put("status", r.StatusCode)
		e.observe(r.Ctx)
	})
}

func (e *Extractor) observe(ctx *colly.Context) {
	if start, ok := ctx.GetAny("start").(time.Time); ok {
		e.metrics.observe(ctx.Get("mart"), time.Since(start))
	}
}

// Extract returns the products mart lists on pageURL, in the order the service
// returns them. Cancelling ctx aborts the call in flight.
func (e *Extractor) Extract(ctx context.Context, mart, pageURL string) ([]Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(extractRequest{
		URLs:   []string{pageURL},
		Prompt: e.prompt,
		Schema: productSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("encode extract request: %w", err)
	}

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+e.apiKey)
	hdr.Set("Content-Type", "application/json")
	hdr.Set("Accept", "application/json")
	hdr.Set("User-Agent", e.userAgent)

	reqCtx := colly.NewContext()
	reqCtx.Put("mart", mart)
	release := e.transport.bind(ctx)
	reqErr := e.collector.Request(http.MethodPost, e.endpoint, bytes.NewReader(payload), reqCtx, hdr)
	release()
	if err := ctx.Err(); err != nil {
		e.metrics.call(mart, "cancelled")
		return nil, err
	}

	status, _ := reqCtx.GetAny("status").(int)
	if reqErr != nil || status >= http.StatusBadRequest {
		e.metrics.call(mart, "failed")
		return nil, classifyError(reqErr, status)
	}

	body, _ := reqCtx.GetAny("body").([]byte)
	var resp extractResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		e.metrics.call(mart, "failed")
		return nil, ErrMalformed{Err: err}
	}
	if !resp.Success {
		e.metrics.call(mart, "failed")
		msg := resp.Error
		if msg == "" {
			msg = "service reported success=false"
		}
		return nil, ErrMalformed{Err: errors.New(msg)}
	}

	e.metrics.call(mart, "succeeded")
	if len(resp.Data.Products) == 0 {
		return nil, ErrEmptyResult{URL: pageURL}
	}
	slog.Debug("extracted products", slog.String("mart", mart), slog.String("url", pageURL), slog.Int("products", len(resp.Data.Products)))
	return resp.Data.Products, nil
}
