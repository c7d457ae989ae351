package scraper

import (
	"context"
	"io"
	"net/http"
	"sync"
)

// callTransport ties every round trip to the context of the Extract call in
// flight, so cancelling the run aborts the request instead of waiting for the
// collector's timeout. Extract calls are sequential; one bound context suffices.
type callTransport struct {
	mu   sync.Mutex
	base http.RoundTripper
	ctx  context.Context
}

func (t *callTransport) setBase(rt http.RoundTripper) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.base = rt
}

// bind attaches ctx to subsequent round trips until the returned func is called.
func (t *callTransport) bind(ctx context.Context) func() {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		t.ctx = nil
		t.mu.Unlock()
	}
}

func (t *callTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	base, callCtx := t.base, t.ctx
	t.mu.Unlock()
	if callCtx == nil {
		return base.RoundTrip(req)
	}

	reqCtx, cancel := context.WithCancel(req.Context())
	stop := context.AfterFunc(callCtx, cancel)
	release := func() {
		stop()
		cancel()
	}

	resp, err := base.RoundTrip(req.WithContext(reqCtx))
	if err != nil {
		release()
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

// releasingBody frees the per-request context once the body is closed.
type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
