// Package testutil provides testing utilities for the response cache.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock upstream endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockUpstream is a configurable mock order-management API for testing.
// It records every request so tests can assert how often the cache let one through.
type MockUpstream struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	counts   map[string]int

	// Tracking
	RequestCount int
	WriteCount   int
	LastBody     string
}

// NewMockUpstream creates and starts a mock upstream server.
func NewMockUpstream() *MockUpstream {
	mock := &MockUpstream{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		counts:   make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mock.mu.Lock()
		mock.RequestCount++
		mock.counts[r.Method+" "+r.URL.Path]++
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			mock.WriteCount++
			mock.LastBody = string(body)
		}
		handler, exists := mock.handlers[r.Method+" "+r.URL.Path]
		if !exists {
			handler, exists = mock.handlers[r.URL.Path]
		}
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.WriteCount = 0
	m.LastBody = ""
	m.counts = make(map[string]int)
}

// SetHandler sets a custom handler. pattern is either a path or "METHOD path".
func (m *MockUpstream) SetHandler(pattern string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[pattern] = handler
}

// SetResponse configures a fixed response. pattern is either a path or "METHOD path".
func (m *MockUpstream) SetResponse(pattern string, resp MockResponse) {
	m.SetHandler(pattern, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockUpstream) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetWriteCount returns the number of mutating requests made to the server.
func (m *MockUpstream) GetWriteCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.WriteCount
}

// Count returns how many times "METHOD path" was requested.
func (m *MockUpstream) Count(method, path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[method+" "+path]
}

// defaultHandler answers reads with an empty array and writes with 201.
func (m *MockUpstream) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[]`))
	case http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": 1}`))
	}
}

// NewJSONResponse creates a 200 OK JSON response.
func NewJSONResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewPaginatedResponse creates a 200 OK paginated list response under field.
func NewPaginatedResponse(field, items string) MockResponse {
	return NewJSONResponse(`{"` + field + `": ` + items + `, "pagination": {"page": 1, "limit": 10, "total": 1}}`)
}

// NewErrorResponse creates an error envelope response with the given status.
func NewErrorResponse(status int, message string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       `{"error": "` + message + `"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewGatedHandler returns a handler that blocks until release is closed,
// then answers with body. Used to hold a leader in flight while waiters pile up.
func NewGatedHandler(release <-chan struct{}, body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}
}
