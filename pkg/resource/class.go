// Package resource maps request paths to resource classes.
// A resource class partitions the cache keyspace and the invalidation scope:
// bumping the version of one class orphans only that class's cache keys.
package resource

import (
	"fmt"
	"sort"
	"strings"
)

// Class identifies a resource class (one per logical entity type).
type Class string

const (
	// Items covers /api/items.
	Items Class = "items"

	// Orders covers /api/orders.
	Orders Class = "orders"

	// Feedbacks covers /api/feedbacks.
	Feedbacks Class = "feedbacks"

	// Global is the fallback class for paths without a table entry.
	Global Class = "global"
)

// String returns the class name.
func (c Class) String() string {
	return string(c)
}

type route struct {
	prefix string
	class  Class
}

// Resolver resolves a request path to its resource class by longest prefix match.
// A Resolver is immutable after construction and safe for concurrent use.
type Resolver struct {
	routes   []route
	fallback Class
}

// NewResolver creates a resolver from a prefix -> class table.
// Paths that match no prefix resolve to Global.
func NewResolver(table map[string]Class) *Resolver {
	routes := make([]route, 0, len(table))
	for prefix, class := range table {
		routes = append(routes, route{prefix: prefix, class: class})
	}

	// Longest prefix first, ties broken lexically for determinism
	sort.Slice(routes, func(i, j int) bool {
		if len(routes[i].prefix) != len(routes[j].prefix) {
			return len(routes[i].prefix) > len(routes[j].prefix)
		}
		return routes[i].prefix < routes[j].prefix
	})

	return &Resolver{
		routes:   routes,
		fallback: Global,
	}
}

// DefaultResolver returns the resolver for the order-management API.
func DefaultResolver() *Resolver {
	return NewResolver(map[string]Class{
		"/api/items":     Items,
		"/api/orders":    Orders,
		"/api/feedbacks": Feedbacks,
	})
}

// Resolve returns the class of the longest prefix matching path.
// A prefix matches on a segment boundary: "/api/items" matches "/api/items"
// and "/api/items/7" but not "/api/itemsets".
func (r *Resolver) Resolve(path string) Class {
	for _, rt := range r.routes {
		if matchPrefix(path, rt.prefix) {
			return rt.class
		}
	}
	return r.fallback
}

// Classes returns every class the resolver can produce, including the fallback, sorted.
func (r *Resolver) Classes() []Class {
	seen := map[Class]struct{}{r.fallback: {}}
	for _, rt := range r.routes {
		seen[rt.class] = struct{}{}
	}

	classes := make([]Class, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	return classes
}

// Parse validates a class name against the classes known to the resolver.
func (r *Resolver) Parse(name string) (Class, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	for _, c := range r.Classes() {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown resource class %q", name)
}

func matchPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	return path[len(prefix)] == '/'
}
