package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aluiziolira/martprice/config"
	"github.com/aluiziolira/martprice/feed"
	"github.com/aluiziolira/martprice/models"
	"github.com/aluiziolira/martprice/recipe"
	"github.com/aluiziolira/martprice/store"
)

const testSecret = "test-secret-key-for-testing-only"

func init() {
	gin.SetMode(gin.TestMode)
}

type memorySource struct {
	mu      sync.Mutex
	snap    *models.PriceSnapshot
	version int64
}

func (ms *memorySource) Load(context.Context) (*models.PriceSnapshot, int64, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.snap, ms.version, ms.snap != nil, nil
}

func (ms *memorySource) Version(context.Context) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.version, nil
}

func (ms *memorySource) set(snap *models.PriceSnapshot) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.snap = snap
	ms.version++
}

type stubGenerator struct{}

func (stubGenerator) Generate(context.Context, string) (string, error) {
	return "두부조림 (Tofu Jorim)", nil
}

func (stubGenerator) Name() string { return "stub" }

func sampleSnapshot() *models.PriceSnapshot {
	updated := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	return &models.PriceSnapshot{
		LastGlobalUpdate: "2025-03-01T09:00:00Z",
		Data: []models.PriceEntry{
			{Item: "Nongshim Shin Ramyun 5x120g", Price: "5,99 €", Mart: "REWE", SearchKeyword: "신라면", UpdatedAt: updated},
			{Item: "Shin Ramyun Cup", Price: "1,49 €", Mart: "Knuspr", SearchKeyword: "신라면", UpdatedAt: updated},
			{Item: "Innisfree Sheet Mask", Price: "2,99 €", Mart: "Kokku", SearchKeyword: "마스크팩", UpdatedAt: updated},
			{Item: "", Price: "1,00 €", Mart: "GoAsia", SearchKeyword: "김치", UpdatedAt: updated},
		},
	}
}

type testServer struct {
	router  *gin.Engine
	hub     *feed.Hub
	source  *memorySource
	metrics *Metrics
}

func newTestServer(t *testing.T, recipeLimit int) *testServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.JWTSecret = testSecret

	source := &memorySource{}
	hub := feed.NewHub(source, time.Hour)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	metrics := NewMetrics()
	router, err := NewRouter(Deps{
		Config:  cfg,
		Feed:    hub,
		Recipes: recipe.NewService(stubGenerator{}, recipe.NewLimiter(st, recipeLimit, time.Hour)),
		Metrics: metrics,
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return &testServer{router: router, hub: hub, source: source, metrics: metrics}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodePrices(t *testing.T, w *httptest.ResponseRecorder) PricesResponse {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp PricesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 1)
	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("health = %d %s", w.Code, w.Body.String())
	}
}

func TestGetPricesLoadingBeforeFirstObservation(t *testing.T) {
	ts := newTestServer(t, 1)

	resp := decodePrices(t, ts.do(t, httptest.NewRequest(http.MethodGet, "/api/prices", nil)))
	if !resp.Loading || len(resp.Groups) != 0 {
		t.Fatalf("expected loading response, got %+v", resp)
	}
}

func TestGetPricesProjectsCurrentSnapshot(t *testing.T) {
	ts := newTestServer(t, 1)
	ts.source.set(sampleSnapshot())
	ts.hub.Refresh(context.Background())

	resp := decodePrices(t, ts.do(t, httptest.NewRequest(http.MethodGet, "/api/prices", nil)))
	if resp.Loading || resp.Version != 1 || resp.Category != "food" {
		t.Fatalf("unexpected metadata: %+v", resp)
	}
	if resp.LastUpdated != "2025-03-01 10:00" {
		t.Fatalf("lastUpdated = %q", resp.LastUpdated)
	}
	if len(resp.Groups) != 1 {
		t.Fatalf("groups = %+v, want only the ramyun group", resp.Groups)
	}
	group := resp.Groups[0]
	if len(group.Entries) != 2 || group.Entries[0].Mart != "Knuspr" || !group.Entries[0].Best {
		t.Fatalf("unexpected ranking: %+v", group.Entries)
	}
	if !group.IsNew {
		t.Fatalf("recently updated group should be new")
	}

	resp = decodePrices(t, ts.do(t, httptest.NewRequest(http.MethodGet, "/api/prices?category=beauty", nil)))
	if len(resp.Groups) != 1 || resp.Groups[0].Entries[0].Mart != "Kokku" {
		t.Fatalf("beauty groups = %+v", resp.Groups)
	}

	resp = decodePrices(t, ts.do(t, httptest.NewRequest(http.MethodGet, "/api/prices?search=cup+knuspr", nil)))
	if resp.Search != "cup knuspr" || len(resp.Groups) != 1 || len(resp.Groups[0].Entries) != 1 {
		t.Fatalf("search groups = %+v", resp.Groups)
	}
}

func TestGetPricesUsesProjectionCache(t *testing.T) {
	ts := newTestServer(t, 1)
	ts.source.set(sampleSnapshot())
	ts.hub.Refresh(context.Background())

	for i := 0; i < 2; i++ {
		decodePrices(t, ts.do(t, httptest.NewRequest(http.MethodGet, "/api/prices", nil)))
	}

	if got := testutil.ToFloat64(ts.metrics.CacheLookups.WithLabelValues("hit")); got < 1 {
		t.Fatalf("cache hits = %v, want at least 1", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, 1)
	ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "martprice_http_requests_total") {
		t.Fatalf("metrics = %d %s", w.Code, w.Body.String())
	}
}

func TestCreateRecipe(t *testing.T) {
	ts := newTestServer(t, 1)
	body := `{"ingredients":["두부","고추장"],"servings":2}`

	newRequest := func(token string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/recipes", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return req
	}

	if w := ts.do(t, newRequest("")); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", w.Code)
	}
	if w := ts.do(t, newRequest("invalid_token_xyz")); w.Code != http.StatusUnauthorized {
		t.Fatalf("invalid token status = %d", w.Code)
	}

	token := signToken(t, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix()})
	w := ts.do(t, newRequest(token))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var got recipe.Recipe
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode recipe: %v", err)
	}
	if got.Text == "" || got.Remaining != 0 {
		t.Fatalf("unexpected recipe: %+v", got)
	}

	if w := ts.do(t, newRequest(token)); w.Code != http.StatusTooManyRequests {
		t.Fatalf("quota status = %d, want 429", w.Code)
	}

	other := signToken(t, jwt.MapClaims{"userID": "user-2", "exp": time.Now().Add(time.Hour).Unix()})
	if w := ts.do(t, newRequest(other)); w.Code != http.StatusOK {
		t.Fatalf("second user status = %d", w.Code)
	}
}

func TestCreateRecipeRejectsBadBody(t *testing.T) {
	ts := newTestServer(t, 1)
	token := signToken(t, jwt.MapClaims{"sub": "user-1"})

	req := httptest.NewRequest(http.MethodPost, "/api/recipes", bytes.NewBufferString(`{"ingredients":[]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	if w := ts.do(t, req); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "user-1"}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseToken([]byte(testSecret), token); err == nil {
		t.Fatalf("expected HS512 token to be rejected")
	}
}

func TestStreamPrices(t *testing.T) {
	ts := newTestServer(t, 1)
	ts.source.set(sampleSnapshot())
	ts.hub.Refresh(context.Background())

	server := httptest.NewServer(ts.router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/prices/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	events := make(chan PricesResponse, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var payload PricesResponse
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &payload); err == nil {
				events <- payload
			}
		}
		close(events)
	}()

	next := func() PricesResponse {
		t.Helper()
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("stream closed early")
			}
			return ev
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for snapshot event")
		}
		return PricesResponse{}
	}

	if first := next(); first.Version != 1 || len(first.Groups) != 1 {
		t.Fatalf("first event = %+v", first)
	}

	updated := sampleSnapshot()
	updated.Data = updated.Data[:1]
	ts.source.set(updated)
	ts.hub.Refresh(context.Background())

	second := next()
	if second.Version != 2 || len(second.Groups[0].Entries) != 1 {
		t.Fatalf("second event = %+v", second)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(ts.metrics.StreamClients) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream client was not released")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
