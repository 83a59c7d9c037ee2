// Package httpcache adapts the cache engine to HTTP servers: a net/http
// middleware, a route wrapper for handlers returning values, a gin middleware
// and a write-path hook that bumps the resource version after successful writes.
package httpcache

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/respcache/pkg/cache"
)

// Middleware caches GET and HEAD responses of the wrapped handler. Other
// methods pass through untouched. HEAD requests share the GET cache entry.
//
// The wrapped handler runs into a buffer. A 2xx response becomes the cached
// body; any other status is replayed to the client as-is and never cached.
func Middleware(engine *cache.Engine, opts ...Option) func(http.Handler) http.Handler {
	o := newOptions(opts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isRead(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			downstream := func(ctx context.Context) ([]byte, error) {
				// The handler may run after the request ended (background refresh)
				inner := r.Clone(ctx)
				inner.Method = http.MethodGet
				// Cached bodies are shared by every client and stored unencoded
				inner.Header.Del("Accept-Encoding")

				rec := newBufferedWriter()
				next.ServeHTTP(rec, inner)
				return rec.result()
			}

			res, err := o.fetch(r.Context(), engine, requestOf(r), o.ttlFor(r.URL.Path), downstream)
			o.write(w, r, res, err)
		})
	}
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func requestOf(r *http.Request) cache.Request {
	return cache.Request{
		Method: http.MethodGet,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
	}
}

func (o *options) fetch(ctx context.Context, engine *cache.Engine, req cache.Request, ttl time.Duration, next cache.HandlerFunc) (*cache.Result, error) {
	if o.swr {
		return engine.FetchStale(ctx, req, ttl, next)
	}
	return engine.Fetch(ctx, req, ttl, next)
}

// write sends the engine outcome to the client.
func (o *options) write(w http.ResponseWriter, r *http.Request, res *cache.Result, err error) {
	withBody := r.Method != http.MethodHead

	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			se.write(w, withBody)
			return
		}
		o.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Downstream handler failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	o.logger.Debug().
		Str("path", r.URL.Path).
		Str("key", res.Key).
		Str("status", res.Status.String()).
		Msg("Served response")

	if o.header != "" {
		w.Header().Set(o.header, res.Indicator())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if withBody {
		w.Write(res.Body)
	}
}

// bufferedWriter captures a handler's response instead of sending it.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header)}
}

func (b *bufferedWriter) Header() http.Header {
	return b.header
}

func (b *bufferedWriter) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

// result returns the captured body, or a StatusError for non-2xx responses
// and for encoded bodies, which are only meaningful with their headers.
func (b *bufferedWriter) result() ([]byte, error) {
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	if status < 200 || status >= 300 {
		return nil, &StatusError{
			StatusCode: status,
			Header:     b.header.Clone(),
			Body:       b.body.Bytes(),
		}
	}
	if enc := b.header.Get("Content-Encoding"); enc != "" && !strings.EqualFold(enc, "identity") {
		return nil, &StatusError{
			StatusCode: status,
			Header:     b.header.Clone(),
			Body:       b.body.Bytes(),
			Err:        ErrEncodedBody,
		}
	}
	return b.body.Bytes(), nil
}
