package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/martprice/feed"
	"github.com/aluiziolira/martprice/ranking"
)

// SnapshotFeed is the part of feed.Hub the handlers use.
type SnapshotFeed interface {
	Current() (feed.View, bool)
	Subscribe(fn func(feed.View)) func()
}

// PricesResponse is the body of the price list endpoints.
type PricesResponse struct {
	Loading     bool            `json:"loading"`
	LastUpdated string          `json:"lastUpdated"`
	Version     int64           `json:"version"`
	Search      string          `json:"search"`
	Category    string          `json:"category"`
	Groups      []ranking.Group `json:"groups"`
}

// PriceHandler serves grouped and ranked prices.
type PriceHandler struct {
	feed      SnapshotFeed
	projector *ranking.Projector
	cache     *lru.Cache[string, []ranking.Group]
	metrics   *Metrics
	now       func() time.Time
}

// NewPriceHandler builds a handler with a projection cache of cacheSize entries.
func NewPriceHandler(f SnapshotFeed, projector *ranking.Projector, cacheSize int, metrics *Metrics) (*PriceHandler, error) {
	if projector == nil {
		projector = ranking.DefaultProjector()
	}
	cache, err := lru.New[string, []ranking.Group](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create projection cache: %w", err)
	}
	return &PriceHandler{
		feed:      f,
		projector: projector,
		cache:     cache,
		metrics:   metrics,
		now:       time.Now,
	}, nil
}

// GetPrices returns the current projection for ?search=&category=.
func (h *PriceHandler) GetPrices(c *gin.Context) {
	view, ready := h.feed.Current()
	c.JSON(http.StatusOK, h.respond(view, ready, queryFrom(c)))
}

// StreamPrices pushes a snapshot event for the current view and every later one until
// the client disconnects.
func (h *PriceHandler) StreamPrices(c *gin.Context) {
	q := queryFrom(c)

	updates := make(chan feed.View, 1)
	unsubscribe := h.feed.Subscribe(func(v feed.View) {
		// Keep only the newest view for slow clients.
		for {
			select {
			case updates <- v:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	h.metrics.StreamClients.Inc()
	defer h.metrics.StreamClients.Dec()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case v := <-updates:
			c.SSEvent("snapshot", h.respond(v, true, q))
			return true
		}
	})
	slog.Debug("stream client disconnected", slog.String("remote", c.ClientIP()))
}

func (h *PriceHandler) respond(view feed.View, ready bool, q ranking.Query) PricesResponse {
	resp := PricesResponse{
		Loading:     !ready,
		LastUpdated: view.LastUpdatedLabel,
		Version:     view.Version,
		Search:      q.Search,
		Category:    string(q.Category),
		Groups:      []ranking.Group{},
	}
	if !ready {
		return resp
	}
	resp.Groups = h.project(view, q)
	return resp
}

func (h *PriceHandler) project(view feed.View, q ranking.Query) []ranking.Group {
	now := h.now()
	// IsNew depends on the clock, so entries expire from the cache each minute.
	key := fmt.Sprintf("%d|%s|%s|%d", view.Version, q.Search, q.Category, now.Unix()/60)
	if groups, ok := h.cache.Get(key); ok {
		h.metrics.CacheLookups.WithLabelValues("hit").Inc()
		return groups
	}
	h.metrics.CacheLookups.WithLabelValues("miss").Inc()

	groups := h.projector.Project(view.Entries, q, now)
	if groups == nil {
		groups = []ranking.Group{}
	}
	h.cache.Add(key, groups)
	return groups
}

func queryFrom(c *gin.Context) ranking.Query {
	return ranking.Query{
		Search:   c.Query("search"),
		Category: ranking.ParseCategory(c.Query("category")),
	}
}
