package httpcache

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrEncodedBody marks a successful downstream response that carries a
// Content-Encoding. It is replayed with its headers instead of being cached.
var ErrEncodedBody = errors.New("encoded response body")

// StatusError carries a downstream response that must reach the client
// verbatim: a non-2xx status, or an encoded body (Err is ErrEncodedBody).
// It is returned to the caller unchanged and replayed to the client; it is never cached.
type StatusError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Err        error
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("downstream status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("downstream status %d", e.StatusCode)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// write replays the response to w.
func (e *StatusError) write(w http.ResponseWriter, withBody bool) {
	for name, values := range e.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.WriteHeader(e.StatusCode)
	if withBody {
		w.Write(e.Body)
	}
}
