package httpcache

import (
	"context"
	"net/http"

	"github.com/Sternrassler/respcache/pkg/cache"
)

// InvalidateOnSuccess bumps the resource version of the request path after
// the wrapped handler answers a write (any method but GET, HEAD and OPTIONS)
// with a 2xx status. Exactly one bump happens per successful write.
func InvalidateOnSuccess(engine *cache.Engine, opts ...Option) func(http.Handler) http.Handler {
	o := newOptions(opts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isWrite(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			o.invalidate(r, engine, sw.Status())
		})
	}
}

func isWrite(method string) bool {
	return !isRead(method) && method != http.MethodOptions
}

func (o *options) invalidate(r *http.Request, engine *cache.Engine, status int) {
	if !isWrite(r.Method) || status < 200 || status >= 300 {
		return
	}

	// The write already happened; a client disconnect must not skip the bump
	ctx := context.WithoutCancel(r.Context())
	if v, ok := engine.BumpPath(ctx, r.URL.Path); ok {
		o.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int64("version", v).
			Msg("Invalidated after write")
	}
}

// statusWriter records the status code while passing the response through.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

// Flush supports streaming handlers such as httputil.ReverseProxy.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
