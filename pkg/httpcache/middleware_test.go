package httpcache

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/respcache/internal/testutil"
	"github.com/Sternrassler/respcache/pkg/cache"
	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T) (*cache.Engine, *miniredis.Miniredis) {
	t.Helper()

	mr, client := testutil.NewRedis(t)
	cfg := cache.DefaultConfig()
	cfg.Redis = client
	cfg.BackgroundWorkers = 8

	engine, err := cache.New(cfg, cache.WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine, mr
}

// newUpstream starts a mock upstream and returns a reverse proxy to it.
func newUpstream(t *testing.T) (*testutil.MockUpstream, http.Handler) {
	t.Helper()

	mock := testutil.NewMockUpstream()
	t.Cleanup(mock.Close)

	target, err := url.Parse(mock.URL())
	if err != nil {
		t.Fatalf("parse upstream url: %v", err)
	}
	return mock, httputil.NewSingleHostReverseProxy(target)
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestMiddleware_MissThenHit(t *testing.T) {
	engine, _ := newTestEngine(t)
	mock, upstream := newUpstream(t)
	mock.SetResponse("/api/items/", testutil.NewPaginatedResponse("items", `[{"id": 1}]`))

	h := Middleware(engine, WithLogger(zerolog.Nop()))(upstream)

	first := do(t, h, http.MethodGet, "/api/items/?page=1")
	if first.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", first.Code)
	}
	if got := first.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", got)
	}
	if got := first.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	engine.WaitIdle()

	second := do(t, h, http.MethodGet, "/api/items/?page=1")
	if got := second.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("X-Cache = %q, want HIT", got)
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("cached body = %s, want %s", second.Body, first.Body)
	}
	if got := mock.Count(http.MethodGet, "/api/items/"); got != 1 {
		t.Errorf("upstream GETs = %d, want 1", got)
	}
}

func TestMiddleware_HeadSharesGetEntry(t *testing.T) {
	engine, _ := newTestEngine(t)
	mock, upstream := newUpstream(t)
	mock.SetResponse("/api/orders/", testutil.NewJSONResponse(`[{"id": 3}]`))

	h := Middleware(engine, WithLogger(zerolog.Nop()))(upstream)

	head := do(t, h, http.MethodHead, "/api/orders/")
	if head.Code != http.StatusOK {
		t.Fatalf("HEAD status = %d, want 200", head.Code)
	}
	if head.Body.Len() != 0 {
		t.Errorf("HEAD body = %q, want empty", head.Body)
	}
	engine.WaitIdle()

	get := do(t, h, http.MethodGet, "/api/orders/")
	if got := get.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("GET after HEAD X-Cache = %q, want HIT", got)
	}
	if get.Body.String() != `[{"id": 3}]` {
		t.Errorf("GET body = %s", get.Body)
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("upstream requests = %d, want 1", got)
	}
}

func TestMiddleware_WritesPassThrough(t *testing.T) {
	engine, _ := newTestEngine(t)
	mock, upstream := newUpstream(t)
	h := Middleware(engine, WithLogger(zerolog.Nop()))(upstream)

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodPost, "/api/items/")
		if rec.Code != http.StatusCreated {
			t.Errorf("POST status = %d, want 201", rec.Code)
		}
		if rec.Header().Get("X-Cache") != "" {
			t.Error("writes must not carry a cache header")
		}
	}
	if got := mock.GetWriteCount(); got != 2 {
		t.Errorf("upstream writes = %d, want 2", got)
	}
}

func TestMiddleware_ErrorStatusReplayedNotCached(t *testing.T) {
	engine, mr := newTestEngine(t)
	mock, upstream := newUpstream(t)
	mock.SetResponse("/api/items/404", testutil.NewErrorResponse(http.StatusNotFound, "item not found"))

	h := Middleware(engine, WithLogger(zerolog.Nop()))(upstream)

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodGet, "/api/items/404")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
		if rec.Body.String() != `{"error": "item not found"}` {
			t.Errorf("body = %s", rec.Body)
		}
		if rec.Header().Get("X-Cache") != "" {
			t.Error("replayed errors must not carry a cache header")
		}
		engine.WaitIdle()
	}

	if got := mock.Count(http.MethodGet, "/api/items/404"); got != 2 {
		t.Errorf("upstream GETs = %d, want 2", got)
	}
	if mr.Exists("v1:GET:/api/items/404") {
		t.Error("error responses must not be cached")
	}
}

func gzipped(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(body)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestMiddleware_CompressingUpstream(t *testing.T) {
	engine, _ := newTestEngine(t)
	const body = `{"items": [{"id": 1}], "pagination": {"page": 1}}`
	compressed := gzipped(t, body)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			w.Header().Set("Content-Encoding", "gzip")
			w.Write(compressed)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(upstream.Close)

	target, err := url.Parse(upstream.URL)
	if err != nil {
		t.Fatalf("parse upstream url: %v", err)
	}
	h := Middleware(engine, WithLogger(zerolog.Nop()))(httputil.NewSingleHostReverseProxy(target))

	for i, want := range []string{"MISS", "HIT"} {
		req := httptest.NewRequest(http.MethodGet, "/api/items/", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
		if got := rec.Header().Get("Content-Encoding"); got != "" {
			t.Errorf("request %d: Content-Encoding = %q, want none", i, got)
		}
		if rec.Body.String() != body {
			t.Errorf("request %d: body = %q, want %q", i, rec.Body.Bytes(), body)
		}
		if got := rec.Header().Get("X-Cache"); got != want {
			t.Errorf("request %d: X-Cache = %q, want %s", i, got, want)
		}
		engine.WaitIdle()
	}
}

func TestMiddleware_EncodedBodyReplayedNotCached(t *testing.T) {
	engine, mr := newTestEngine(t)
	compressed := gzipped(t, `[]`)

	var calls atomic.Int32
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(compressed)
	})
	h := Middleware(engine, WithLogger(zerolog.Nop()))(next)

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodGet, "/api/orders/")
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
		if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
			t.Errorf("Content-Encoding = %q, want gzip", got)
		}
		if !bytes.Equal(rec.Body.Bytes(), compressed) {
			t.Error("encoded body was altered")
		}
		engine.WaitIdle()
	}

	if got := calls.Load(); got != 2 {
		t.Errorf("handler calls = %d, want 2", got)
	}
	if mr.Exists("v1:GET:/api/orders/") {
		t.Error("encoded bodies must not be cached")
	}
}

func TestMiddleware_ErrorEnvelopeNotCached(t *testing.T) {
	engine, _ := newTestEngine(t)
	mock, upstream := newUpstream(t)
	mock.SetResponse("/api/feedbacks/", testutil.NewJSONResponse(`{"error": "db timeout"}`))

	h := Middleware(engine, WithLogger(zerolog.Nop()))(upstream)

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodGet, "/api/feedbacks/")
		if got := rec.Header().Get("X-Cache"); got != "MISS" {
			t.Errorf("request %d X-Cache = %q, want MISS", i, got)
		}
		engine.WaitIdle()
	}
	if got := mock.Count(http.MethodGet, "/api/feedbacks/"); got != 2 {
		t.Errorf("upstream GETs = %d, want 2", got)
	}
}

func TestMiddleware_CoalescesConcurrentRequests(t *testing.T) {
	engine, _ := newTestEngine(t)
	mock, upstream := newUpstream(t)

	release := make(chan struct{})
	mock.SetHandler("/api/items/", testutil.NewGatedHandler(release, `[{"id": 1}]`))

	h := Middleware(engine, WithLogger(zerolog.Nop()))(upstream)

	const clients = 20
	var wg sync.WaitGroup
	codes := make([]int, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = do(t, h, http.MethodGet, "/api/items/").Code
		}(i)
	}

	time.Sleep(200 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("client %d status = %d", i, code)
		}
	}
	if got := mock.Count(http.MethodGet, "/api/items/"); got != 1 {
		t.Errorf("upstream GETs = %d, want 1", got)
	}
}

func TestMiddleware_Options(t *testing.T) {
	engine, mr := newTestEngine(t)
	_, upstream := newUpstream(t)

	h := Middleware(engine,
		WithLogger(zerolog.Nop()),
		WithTTL(time.Minute),
		WithPathTTL("/api/items/", time.Hour),
		WithCacheHeader("X-Response-Cache"),
	)(upstream)

	rec := do(t, h, http.MethodGet, "/api/items/")
	if got := rec.Header().Get("X-Response-Cache"); got != "MISS" {
		t.Errorf("X-Response-Cache = %q, want MISS", got)
	}
	if rec.Header().Get("X-Cache") != "" {
		t.Error("default header should not be set when renamed")
	}
	do(t, h, http.MethodGet, "/api/items/7")
	engine.WaitIdle()

	if ttl := mr.TTL("v1:GET:/api/items/"); ttl != time.Hour {
		t.Errorf("list TTL = %v, want 1h", ttl)
	}
	if ttl := mr.TTL("v1:GET:/api/items/7"); ttl != time.Minute {
		t.Errorf("detail TTL = %v, want 1m", ttl)
	}

	silent := Middleware(engine, WithLogger(zerolog.Nop()), WithCacheHeader(""))(upstream)
	rec = do(t, silent, http.MethodGet, "/api/items/")
	if rec.Header().Get("X-Cache") != "" {
		t.Error("empty header name should disable the header")
	}
}

func TestMiddleware_StaleWhileRevalidate(t *testing.T) {
	engine, mr := newTestEngine(t)
	mock, upstream := newUpstream(t)

	h := Middleware(engine,
		WithLogger(zerolog.Nop()),
		WithTTL(time.Minute),
		WithStaleWhileRevalidate(true),
	)(upstream)

	if got := do(t, h, http.MethodGet, "/api/orders/").Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("first X-Cache = %q, want MISS", got)
	}
	engine.WaitIdle()

	mr.FastForward(61 * time.Second)

	rec := do(t, h, http.MethodGet, "/api/orders/")
	if got := rec.Header().Get("X-Cache"); got != "STALE" {
		t.Errorf("X-Cache = %q, want STALE", got)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != `[]` {
		t.Errorf("stale body = %s", body)
	}
	engine.WaitIdle()

	if got := mock.Count(http.MethodGet, "/api/orders/"); got != 2 {
		t.Errorf("upstream GETs = %d, want 2 (initial + refresh)", got)
	}
	if got := do(t, h, http.MethodGet, "/api/orders/").Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("after refresh X-Cache = %q, want HIT", got)
	}
}

func TestMiddleware_StoreDownStillServes(t *testing.T) {
	engine, mr := newTestEngine(t)
	mock, upstream := newUpstream(t)
	h := Middleware(engine, WithLogger(zerolog.Nop()))(upstream)

	mr.SetError("ERR simulated outage")

	rec := do(t, h, http.MethodGet, "/api/items/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", got)
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("upstream requests = %d, want 1", got)
	}
}
