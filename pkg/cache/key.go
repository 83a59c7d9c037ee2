package cache

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/Sternrassler/respcache/pkg/resource"
)

// staleSuffix marks the long-lived copy written by the stale-while-revalidate path.
const staleSuffix = ":stale"

// Key identifies a cached response.
type Key struct {
	// Class is the resource class whose version the key embeds
	Class resource.Class

	// Method is the HTTP method (defaults to GET)
	Method string

	// Path is the request path (e.g., "/api/items/")
	Path string

	// Query are the request query parameters
	Query url.Values

	// Version is the class version; 0 omits the version segment
	Version int64
}

// String generates a deterministic cache key string.
// Format: v{version}:{METHOD}:{path}[?k1=v1&k2=v2]
//
// Example:
//
//	v3:GET:/api/items/?limit=10&page=1&search=x
//
// Query keys are sorted so that differently ordered but otherwise identical
// requests share a key. A key with several values emits one pair per value,
// in request order.
func (k Key) String() string {
	var sb strings.Builder

	if k.Version > 0 {
		sb.WriteByte('v')
		sb.WriteString(strconv.FormatInt(k.Version, 10))
		sb.WriteByte(':')
	}

	method := strings.ToUpper(k.Method)
	if method == "" {
		method = "GET"
	}
	sb.WriteString(method)
	sb.WriteByte(':')
	sb.WriteString(k.Path)

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		sep := byte('?')
		for _, name := range names {
			for _, value := range k.Query[name] {
				sb.WriteByte(sep)
				sb.WriteString(name)
				sb.WriteByte('=')
				sb.WriteString(value)
				sep = '&'
			}
		}
	}

	return sb.String()
}

// StaleKey is the key of the stale-while-revalidate copy.
func (k Key) StaleKey() string {
	return k.String() + staleSuffix
}

// BuildKey is shorthand for Key{...}.String().
func BuildKey(class resource.Class, method, path string, query url.Values, version int64) string {
	return Key{
		Class:   class,
		Method:  method,
		Path:    path,
		Query:   query,
		Version: version,
	}.String()
}
