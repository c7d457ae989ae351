// Package feed keeps an in-memory view of the latest price snapshot and pushes every
// change to subscribers.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/aluiziolira/martprice/models"
	"github.com/aluiziolira/martprice/ranking"
)

// LabelLayout formats LastUpdatedLabel.
const LabelLayout = "2006-01-02 15:04"

// Source is the read side of the document store.
type Source interface {
	Load(ctx context.Context) (*models.PriceSnapshot, int64, bool, error)
	Version(ctx context.Context) (int64, error)
}

// View is the cleaned snapshot handed to subscribers. Each push replaces the previous
// view entirely.
type View struct {
	Entries          []models.PriceEntry `json:"entries"`
	LastGlobalUpdate string              `json:"lastGlobalUpdate"`
	LastUpdatedLabel string              `json:"lastUpdatedLabel"`
	Exists           bool                `json:"exists"`
	Version          int64               `json:"version"`

	seq uint64
}

type subscription struct {
	mu     sync.Mutex
	fn     func(View)
	active bool
	seq    uint64
}

func (s *subscription) deliver(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || v.seq <= s.seq {
		return
	}
	s.seq = v.seq
	s.fn(v)
}

// Hub polls the store for version changes and fans views out to subscribers.
type Hub struct {
	source   Source
	interval time.Duration
	loc      *time.Location

	mu          sync.Mutex
	view        View
	ready       bool
	lastVersion int64
	seq         uint64
	nextID      uint64
	subs        map[uint64]*subscription

	readyCh chan struct{}
}

// NewHub builds a hub that checks source every interval.
func NewHub(source Source, interval time.Duration) *Hub {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		loc = time.UTC
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Hub{
		source:      source,
		interval:    interval,
		loc:         loc,
		lastVersion: -1,
		subs:        make(map[uint64]*subscription),
		readyCh:     make(chan struct{}),
	}
}

// Run refreshes immediately and then on every tick until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	h.Refresh(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// Refresh checks the store once and publishes a new view when the version moved.
func (h *Hub) Refresh(ctx context.Context) {
	version, err := h.source.Version(ctx)
	if err != nil {
		h.fail(err)
		return
	}

	h.mu.Lock()
	unchanged := h.ready && version == h.lastVersion
	h.mu.Unlock()
	if unchanged {
		return
	}

	snap, version, found, err := h.source.Load(ctx)
	if err != nil {
		h.fail(err)
		return
	}

	view := View{Exists: found, Version: version}
	if found && snap != nil {
		view.Entries = ranking.Clean(snap.Data)
		view.LastGlobalUpdate = snap.LastGlobalUpdate
		if ts := snap.LastUpdateTime(); !ts.IsZero() {
			view.LastUpdatedLabel = ts.In(h.loc).Format(LabelLayout)
		}
	}
	if view.Entries == nil {
		view.Entries = []models.PriceEntry{}
	}

	slog.Info("snapshot observed",
		slog.Int64("version", version),
		slog.Bool("exists", found),
		slog.Int("entries", len(view.Entries)),
	)
	h.publish(view, version)
}

// Ready is closed once the first observation completed. It never reopens.
func (h *Hub) Ready() <-chan struct{} {
	return h.readyCh
}

// Current returns the latest view and whether one has been observed.
func (h *Hub) Current() (View, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view, h.ready
}

// Subscribe registers fn for every future view; when the hub is ready fn also receives
// the current view right away. fn must not block and must not call the returned
// unsubscribe. Once unsubscribe returns, fn is never called again.
func (h *Hub) Subscribe(fn func(View)) (unsubscribe func()) {
	sub := &subscription{fn: fn, active: true}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	current, ready := h.view, h.ready
	h.mu.Unlock()

	if ready {
		sub.deliver(current)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()

			sub.mu.Lock()
			sub.active = false
			sub.mu.Unlock()
		})
	}
}

func (h *Hub) fail(err error) {
	slog.Error("snapshot refresh failed", slog.Any("error", err))

	h.mu.Lock()
	ready := h.ready
	h.mu.Unlock()
	if ready {
		return
	}
	h.publish(View{Entries: []models.PriceEntry{}}, -1)
}

func (h *Hub) publish(view View, version int64) {
	h.mu.Lock()
	h.seq++
	view.seq = h.seq
	h.view = view
	h.lastVersion = version
	first := !h.ready
	h.ready = true
	subs := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	if first {
		close(h.readyCh)
	}
	for _, sub := range subs {
		sub.deliver(view)
	}
}
