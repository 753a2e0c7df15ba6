package statestore_test

import (
	"context"
	"testing"

	"github.com/timescale/hel/internal/hel/statestore"
)

func TestMemoryStore_GetEmptyIsNonNil(t *testing.T) {
	s := statestore.NewMemoryStore()
	got, err := s.Get(context.Background(), "okta")
	if err != nil {
		t.Fatalf("Get: unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("Get: expected non-nil empty map for unknown source")
	}
	if len(got) != 0 {
		t.Errorf("Get: expected empty map, got %v", got)
	}
}

func TestMemoryStore_SetThenGet(t *testing.T) {
	ctx := context.Background()
	s := statestore.NewMemoryStore()

	if err := s.Set(ctx, "okta", map[string]string{"cursor": "abc"}); err != nil {
		t.Fatalf("Set: unexpected error: %v", err)
	}
	got, err := s.Get(ctx, "okta")
	if err != nil {
		t.Fatalf("Get: unexpected error: %v", err)
	}
	if got["cursor"] != "abc" {
		t.Errorf("Get: cursor = %q, want %q", got["cursor"], "abc")
	}
}

func TestMemoryStore_SetMergesKeys(t *testing.T) {
	ctx := context.Background()
	s := statestore.NewMemoryStore()

	if err := s.Set(ctx, "okta", map[string]string{"cursor": "abc", "skip": "0"}); err != nil {
		t.Fatalf("Set: unexpected error: %v", err)
	}
	if err := s.Set(ctx, "okta", map[string]string{"cursor": "def"}); err != nil {
		t.Fatalf("Set: unexpected error: %v", err)
	}
	got, err := s.Get(ctx, "okta")
	if err != nil {
		t.Fatalf("Get: unexpected error: %v", err)
	}
	if got["cursor"] != "def" {
		t.Errorf("Get: cursor = %q, want %q", got["cursor"], "def")
	}
	if got["skip"] != "0" {
		t.Errorf("Get: skip = %q, want %q (untouched key should survive)", got["skip"], "0")
	}
}

func TestMemoryStore_GetReturnsCopyNotLiveMap(t *testing.T) {
	ctx := context.Background()
	s := statestore.NewMemoryStore()
	if err := s.Set(ctx, "okta", map[string]string{"cursor": "abc"}); err != nil {
		t.Fatalf("Set: unexpected error: %v", err)
	}

	got, _ := s.Get(ctx, "okta")
	got["cursor"] = "mutated"

	got2, _ := s.Get(ctx, "okta")
	if got2["cursor"] != "abc" {
		t.Errorf("Get: internal state mutated through returned map, got %q", got2["cursor"])
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := statestore.NewMemoryStore()
	_ = s.Set(ctx, "okta", map[string]string{"cursor": "abc"})

	if err := s.Delete(ctx, "okta"); err != nil {
		t.Fatalf("Delete: unexpected error: %v", err)
	}
	got, _ := s.Get(ctx, "okta")
	if len(got) != 0 {
		t.Errorf("Get after Delete: expected empty, got %v", got)
	}
}

func TestMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	s := statestore.NewMemoryStore()
	_ = s.Set(ctx, "zendesk", map[string]string{"cursor": "1"})
	_ = s.Set(ctx, "okta", map[string]string{"cursor": "2"})

	ids, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: unexpected error: %v", err)
	}
	want := []string{"okta", "zendesk"}
	if len(ids) != len(want) {
		t.Fatalf("List: got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestMemoryStore_ExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := statestore.NewMemoryStore()
	_ = s.Set(ctx, "okta", map[string]string{"cursor": "abc"})
	_ = s.Set(ctx, "zendesk", map[string]string{"cursor": "def"})

	dump, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("Export: unexpected error: %v", err)
	}

	s2 := statestore.NewMemoryStore()
	if err := s2.Import(ctx, dump); err != nil {
		t.Fatalf("Import: unexpected error: %v", err)
	}

	got, _ := s2.Get(ctx, "okta")
	if got["cursor"] != "abc" {
		t.Errorf("Get after Import: cursor = %q, want %q", got["cursor"], "abc")
	}
}

func TestMemoryStore_ImportReplacesExistingData(t *testing.T) {
	ctx := context.Background()
	s := statestore.NewMemoryStore()
	_ = s.Set(ctx, "stale", map[string]string{"cursor": "old"})

	if err := s.Import(ctx, map[string]map[string]string{"okta": {"cursor": "new"}}); err != nil {
		t.Fatalf("Import: unexpected error: %v", err)
	}

	ids, _ := s.List(ctx)
	if len(ids) != 1 || ids[0] != "okta" {
		t.Errorf("List after Import: got %v, want [okta] (stale data should be replaced)", ids)
	}
}
