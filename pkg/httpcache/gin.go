package httpcache

import (
	"bytes"
	"context"
	"net/http"

	"github.com/Sternrassler/respcache/pkg/cache"
	"github.com/gin-gonic/gin"
)

// Gin is the gin variant of Middleware. The rest of the handler chain runs
// only for the leader of a cache miss.
//
// Stale-while-revalidate is not supported: a gin chain cannot be re-run once
// its request has completed, so WithStaleWhileRevalidate is ignored.
func Gin(engine *cache.Engine, opts ...Option) gin.HandlerFunc {
	o := newOptions(opts)
	o.swr = false

	return func(c *gin.Context) {
		r := c.Request
		if !isRead(r.Method) {
			c.Next()
			return
		}

		downstream := func(context.Context) ([]byte, error) {
			rec := &ginRecorder{ResponseWriter: c.Writer}
			c.Writer = rec
			defer func() { c.Writer = rec.ResponseWriter }()

			c.Next()
			return rec.result()
		}

		res, err := o.fetch(r.Context(), engine, requestOf(r), o.ttlFor(r.URL.Path), downstream)
		c.Abort()
		o.write(c.Writer, r, res, err)
	}
}

// GinInvalidateOnSuccess is the gin variant of InvalidateOnSuccess.
func GinInvalidateOnSuccess(engine *cache.Engine, opts ...Option) gin.HandlerFunc {
	o := newOptions(opts)

	return func(c *gin.Context) {
		c.Next()
		o.invalidate(c.Request, engine, c.Writer.Status())
	}
}

// ginRecorder buffers what the gin chain writes.
type ginRecorder struct {
	gin.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *ginRecorder) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *ginRecorder) WriteHeaderNow() {
	if w.status == 0 {
		w.status = http.StatusOK
	}
}

func (w *ginRecorder) Write(p []byte) (int, error) {
	w.WriteHeaderNow()
	return w.body.Write(p)
}

func (w *ginRecorder) WriteString(s string) (int, error) {
	w.WriteHeaderNow()
	return w.body.WriteString(s)
}

func (w *ginRecorder) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *ginRecorder) Size() int {
	return w.body.Len()
}

func (w *ginRecorder) Written() bool {
	return w.status != 0
}

func (w *ginRecorder) result() ([]byte, error) {
	status := w.Status()
	if status < 200 || status >= 300 {
		return nil, &StatusError{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       w.body.Bytes(),
		}
	}
	return w.body.Bytes(), nil
}
