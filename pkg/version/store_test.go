package version

import (
	"context"
	"errors"
	"testing"

	"github.com/Sternrassler/respcache/internal/testutil"
	"github.com/Sternrassler/respcache/pkg/resource"
	"github.com/rs/zerolog"
)

func TestStore_Key(t *testing.T) {
	_, client := testutil.NewRedis(t)
	store := NewStore(client, zerolog.Nop())

	if got := store.Key(resource.Items); got != "cache:v:items" {
		t.Errorf("Key() = %q, want cache:v:items", got)
	}

	custom := NewStoreWithPrefix(client, "test:v:", zerolog.Nop())
	if got := custom.Key(resource.Orders); got != "test:v:orders" {
		t.Errorf("Key() = %q, want test:v:orders", got)
	}
}

func TestNewStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewStore should panic with nil redis client")
		}
	}()
	NewStore(nil, zerolog.Nop())
}

func TestStore_Lifecycle(t *testing.T) {
	_, client := testutil.NewRedis(t)
	store := NewStore(client, zerolog.Nop())
	ctx := context.Background()

	// Absent counter
	if _, ok, err := store.Get(ctx, resource.Items); err != nil || ok {
		t.Fatalf("Get() on empty store = ok %v, err %v; want absent", ok, err)
	}

	created, err := store.SetIfAbsent(ctx, resource.Items)
	if err != nil || !created {
		t.Fatalf("SetIfAbsent() = %v, %v; want true", created, err)
	}

	created, err = store.SetIfAbsent(ctx, resource.Items)
	if err != nil || created {
		t.Fatalf("second SetIfAbsent() = %v, %v; want false", created, err)
	}

	v, ok, err := store.Get(ctx, resource.Items)
	if err != nil || !ok || v != Initial {
		t.Fatalf("Get() = %d, %v, %v; want %d", v, ok, err, Initial)
	}

	v, err = store.Increment(ctx, resource.Items)
	if err != nil || v != 2 {
		t.Fatalf("Increment() = %d, %v; want 2", v, err)
	}

	if err := store.Set(ctx, resource.Items, Initial); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if v, _, _ := store.Get(ctx, resource.Items); v != Initial {
		t.Errorf("Get() after Set = %d, want %d", v, Initial)
	}
}

func TestStore_IncrementIsolatedPerClass(t *testing.T) {
	_, client := testutil.NewRedis(t)
	store := NewStore(client, zerolog.Nop())
	ctx := context.Background()

	for _, c := range []resource.Class{resource.Items, resource.Orders, resource.Global} {
		if _, err := store.SetIfAbsent(ctx, c); err != nil {
			t.Fatalf("SetIfAbsent(%s) error = %v", c, err)
		}
	}

	if _, err := store.Increment(ctx, resource.Orders); err != nil {
		t.Fatalf("Increment() error = %v", err)
	}

	for _, c := range []resource.Class{resource.Items, resource.Global} {
		if v, _, _ := store.Get(ctx, c); v != Initial {
			t.Errorf("version of %s = %d after bumping orders, want %d", c, v, Initial)
		}
	}
}

func TestStore_Errors(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	store := NewStore(client, zerolog.Nop())
	ctx := context.Background()

	mr.SetError("ERR simulated outage")
	defer mr.SetError("")

	if _, _, err := store.Get(ctx, resource.Items); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Get() error = %v, want ErrStoreUnavailable", err)
	}
	if _, err := store.SetIfAbsent(ctx, resource.Items); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("SetIfAbsent() error = %v, want ErrStoreUnavailable", err)
	}
	if _, err := store.Increment(ctx, resource.Items); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Increment() error = %v, want ErrStoreUnavailable", err)
	}
	if err := store.Set(ctx, resource.Items, 3); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Set() error = %v, want ErrStoreUnavailable", err)
	}
}

func TestStore_CorruptCounter(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	store := NewStore(client, zerolog.Nop())

	mr.Set("cache:v:items", "not-a-number")

	if _, _, err := store.Get(context.Background(), resource.Items); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Get() error = %v, want ErrStoreUnavailable", err)
	}
}
