package resource

import (
	"reflect"
	"testing"
)

func TestResolver_Resolve(t *testing.T) {
	r := DefaultResolver()

	tests := []struct {
		name string
		path string
		want Class
	}{
		{name: "items list", path: "/api/items/", want: Items},
		{name: "items exact", path: "/api/items", want: Items},
		{name: "item detail", path: "/api/items/42", want: Items},
		{name: "orders", path: "/api/orders/?page=2", want: Orders},
		{name: "feedbacks", path: "/api/feedbacks/9", want: Feedbacks},
		{name: "segment boundary", path: "/api/itemsets", want: Global},
		{name: "unmatched", path: "/api/users/", want: Global},
		{name: "root", path: "/", want: Global},
		{name: "empty", path: "", want: Global},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolve(tt.path); got != tt.want {
				t.Errorf("Resolve(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestResolver_LongestPrefixWins(t *testing.T) {
	r := NewResolver(map[string]Class{
		"/api":             Global,
		"/api/orders":      Orders,
		"/api/orders/open": Class("open-orders"),
	})

	if got := r.Resolve("/api/orders/open/3"); got != Class("open-orders") {
		t.Errorf("Resolve() = %v, want open-orders", got)
	}
	if got := r.Resolve("/api/orders/closed"); got != Orders {
		t.Errorf("Resolve() = %v, want %v", got, Orders)
	}
}

func TestResolver_Classes(t *testing.T) {
	got := DefaultResolver().Classes()
	want := []Class{Feedbacks, Global, Items, Orders}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Classes() = %v, want %v", got, want)
	}
}

func TestResolver_Parse(t *testing.T) {
	r := DefaultResolver()

	if c, err := r.Parse(" Orders "); err != nil || c != Orders {
		t.Errorf("Parse(Orders) = %v, %v", c, err)
	}
	if c, err := r.Parse("global"); err != nil || c != Global {
		t.Errorf("Parse(global) = %v, %v", c, err)
	}
	if _, err := r.Parse("users"); err == nil {
		t.Error("Parse(users) should fail")
	}
}
