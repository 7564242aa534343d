package history

import (
	"context"
	"fmt"
	"testing"
)

func TestMemoryStoreTrimsToDepth(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := store.Append(ctx, "s1", Entry{Role: "user", Content: fmt.Sprintf("msg-%d", i)})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := store.Recent(ctx, "s1")
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 retained entries, got %d", len(entries))
	}
	if entries[0].Content != "msg-2" || entries[2].Content != "msg-4" {
		t.Fatalf("oldest entries should be evicted, got %+v", entries)
	}
}

func TestMemoryStoreIsolatesSessions(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()

	_ = store.Append(ctx, "a", Entry{Role: "user", Content: "hello"})
	_ = store.Append(ctx, "b", Entry{Role: "user", Content: "world"})

	entries, _ := store.Recent(ctx, "a")
	if len(entries) != 1 || entries[0].Content != "hello" {
		t.Fatalf("session a polluted: %+v", entries)
	}

	if err := store.Clear(ctx, "a"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	entries, _ = store.Recent(ctx, "a")
	if len(entries) != 0 {
		t.Fatalf("session a should be empty after clear")
	}
	entries, _ = store.Recent(ctx, "b")
	if len(entries) != 1 {
		t.Fatalf("clear of a must not touch b")
	}
}

func TestMemoryStoreRecentReturnsCopy(t *testing.T) {
	store := NewMemoryStore(5)
	ctx := context.Background()

	_ = store.Append(ctx, "s", Entry{Role: "user", Content: "original"})
	entries, _ := store.Recent(ctx, "s")
	entries[0].Content = "mutated"

	again, _ := store.Recent(ctx, "s")
	if again[0].Content != "original" {
		t.Fatal("Recent must return a copy of the stored slice")
	}
}
