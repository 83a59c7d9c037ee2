package httpcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/respcache/pkg/cache"
)

// RouteFunc produces the value served by a route. The value is encoded as JSON.
type RouteFunc func(r *http.Request) (any, error)

// Route wraps fn so that its GET and HEAD responses are served through the
// cache engine. Other methods call fn directly.
//
// An error from fn is answered with 500 and {"error": "..."}, unless it is a
// *StatusError, which is replayed.
func Route(engine *cache.Engine, fn RouteFunc, opts ...Option) http.HandlerFunc {
	o := newOptions(opts)

	return func(w http.ResponseWriter, r *http.Request) {
		if !isRead(r.Method) {
			body, err := encode(fn(r))
			if err != nil {
				o.write(w, r, nil, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write(body)
			return
		}

		downstream := func(ctx context.Context) ([]byte, error) {
			return encode(fn(r.WithContext(ctx)))
		}

		res, err := o.fetch(r.Context(), engine, requestOf(r), o.ttlFor(r.URL.Path), downstream)
		o.write(w, r, res, err)
	}
}

func encode(v any, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return body, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	body, _ := json.Marshal(map[string]string{"error": err.Error()})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// NewStatusError builds a StatusError with a JSON {"error": msg} body.
func NewStatusError(status int, msg string) *StatusError {
	body, _ := json.Marshal(map[string]string{"error": msg})
	return &StatusError{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       body,
		Err:        errors.New(msg),
	}
}
