package profiles

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tyemirov/tusers/internal/gateway"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()

	inserted, err := store.Insert(ctx, gateway.Profile{ID: "user-1", Email: "a@b.com", Attributes: map[string]any{"name": "Ann"}})
	if err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}
	if inserted.Attributes["name"] != "Ann" {
		t.Fatalf("unexpected insert result: %#v", inserted)
	}
	if _, err := store.Insert(ctx, gateway.Profile{ID: "user-1", Email: "dup@b.com"}); !errors.Is(err, gateway.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	updated, err := store.Update(ctx, "user-1", map[string]any{"name": "Anna", "email": "x@y.com", "id": "user-9"})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.ID != "user-1" || updated.Email != "a@b.com" || updated.Attributes["name"] != "Anna" {
		t.Fatalf("update must not touch id or email: %#v", updated)
	}
	if _, leaked := updated.Attributes["email"]; leaked {
		t.Fatalf("email must not land in attributes")
	}

	if _, err := store.Update(ctx, "missing", map[string]any{"name": "x"}); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := store.Delete(ctx, "user-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := store.Delete(ctx, "user-1"); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}
	if _, err := store.SelectByID(ctx, "user-1"); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Insert(ctx, gateway.Profile{ID: "user-1", Email: "a@b.com", Attributes: map[string]any{"name": "Ann"}}); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}

	selected, _ := store.SelectByID(ctx, "user-1")
	selected.Attributes["name"] = "mutated"

	again, _ := store.SelectByID(ctx, "user-1")
	if again.Attributes["name"] != "Ann" {
		t.Fatalf("store state leaked through returned profile")
	}
}

func TestMemoryStoreSelectAllIsOrdered(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()
	for _, profileID := range []string{"c", "a", "b"} {
		if _, err := store.Insert(ctx, gateway.Profile{ID: profileID}); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}
	}
	all, err := store.SelectAll(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 || all[0].ID != "a" || all[2].ID != "c" {
		t.Fatalf("unexpected order: %#v", all)
	}
}

func TestClassifyPostgresErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		err      error
		expected error
	}{
		{name: "no rows", err: pgx.ErrNoRows, expected: gateway.ErrNotFound},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, expected: gateway.ErrConflict},
		{name: "other", err: errors.New("connection reset"), expected: gateway.ErrGatewayUnavailable},
	}
	for _, testCase := range testCases {
		if classified := classify("op", testCase.err); !errors.Is(classified, testCase.expected) {
			t.Fatalf("%s: expected %v, got %v", testCase.name, testCase.expected, classified)
		}
	}
}
