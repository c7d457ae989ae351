package recipe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aluiziolira/martprice/store"
)

// ErrQuotaExceeded is returned when a user has used up the window's allowance.
var ErrQuotaExceeded = errors.New("recipe quota exceeded")

// UsageStore persists per-user counters.
type UsageStore interface {
	Usage(ctx context.Context, userID string) (store.Usage, error)
	SaveUsage(ctx context.Context, u store.Usage) error
}

// Limiter caps generations per user inside a fixed window that starts at the
// user's first request.
type Limiter struct {
	store  UsageStore
	limit  int
	window time.Duration
	now    func() time.Time

	mu sync.Mutex
}

// NewLimiter builds a limiter allowing limit generations per window.
func NewLimiter(s UsageStore, limit int, window time.Duration) *Limiter {
	return &Limiter{store: s, limit: limit, window: window, now: time.Now}
}

// Reserve takes one slot for userID and returns how many remain.
func (l *Limiter) Reserve(ctx context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, err := l.current(ctx, userID)
	if err != nil {
		return 0, err
	}
	if u.Count >= l.limit {
		return 0, ErrQuotaExceeded
	}
	u.Count++
	if err := l.store.SaveUsage(ctx, u); err != nil {
		return 0, fmt.Errorf("save usage: %w", err)
	}
	return l.limit - u.Count, nil
}

// Release gives back a slot taken by Reserve, used when generation failed.
func (l *Limiter) Release(ctx context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, err := l.current(ctx, userID)
	if err != nil {
		return err
	}
	if u.Count == 0 {
		return nil
	}
	u.Count--
	if err := l.store.SaveUsage(ctx, u); err != nil {
		return fmt.Errorf("save usage: %w", err)
	}
	return nil
}

// Remaining reports the slots left for userID without taking one.
func (l *Limiter) Remaining(ctx context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, err := l.current(ctx, userID)
	if err != nil {
		return 0, err
	}
	if u.Count >= l.limit {
		return 0, nil
	}
	return l.limit - u.Count, nil
}

// current loads the usage row, starting a fresh window when the old one expired.
func (l *Limiter) current(ctx context.Context, userID string) (store.Usage, error) {
	u, err := l.store.Usage(ctx, userID)
	if err != nil {
		return store.Usage{}, fmt.Errorf("load usage: %w", err)
	}
	now := l.now()
	if u.WindowStart.IsZero() || !now.Before(u.WindowStart.Add(l.window)) {
		u = store.Usage{UserID: userID, WindowStart: now}
	}
	u.UserID = userID
	return u, nil
}
