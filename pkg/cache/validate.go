package cache

import (
	"bytes"
	"encoding/json"
)

// DefaultDataFields are the list fields a paginated body may carry.
var DefaultDataFields = []string{"items", "orders", "feedbacks"}

// Validator decides whether a computed response body may be stored.
// It is deliberately conservative: its job is to keep error envelopes and
// malformed pages from being served for a whole TTL, not to validate data.
type Validator struct {
	// DataFields are the recognized list fields of a paginated body
	DataFields []string
}

// DefaultValidator returns a validator recognizing DefaultDataFields.
func DefaultValidator() Validator {
	return Validator{DataFields: DefaultDataFields}
}

// IsCacheable reports whether body may be cached, using DefaultValidator.
func IsCacheable(body []byte) bool {
	return DefaultValidator().IsCacheable(body)
}

// IsCacheable applies the rules in order:
//   - empty, null or invalid JSON: reject
//   - object with an "error" key: reject
//   - object whose only key is "message": reject
//   - object with "pagination": accept only with exactly one data field holding an array
//   - anything else (arrays included, even empty): accept
func (v Validator) IsCacheable(body []byte) bool {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return false
	}

	if body[0] != '{' {
		return json.Valid(body)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return false
	}

	if _, ok := obj["error"]; ok {
		return false
	}

	if _, ok := obj["message"]; ok && len(obj) == 1 {
		return false
	}

	if pagination, ok := obj["pagination"]; ok {
		return isPresent(pagination) && v.countDataArrays(obj) == 1
	}

	return true
}

func (v Validator) countDataArrays(obj map[string]json.RawMessage) int {
	n := 0
	for _, field := range v.DataFields {
		raw, ok := obj[field]
		if !ok {
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '[' {
			n++
		}
	}
	return n
}

func isPresent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}
