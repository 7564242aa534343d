package mysql

import (
	"context"
	"testing"
	"time"
)

func TestMemoryTranscriptRepositoryRoundTrip(t *testing.T) {
	repo, err := NewMemoryTranscriptRepository(t.TempDir())
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	ctx := context.Background()
	now := time.Now().Unix()

	records := []TranscriptRecord{
		{SessionKey: "alpha", Role: "user", Content: "show auction 3", CreatedAt: now},
		{SessionKey: "alpha", Role: "assistant", Content: "here it is", CreatedAt: now + 1},
		{SessionKey: "beta", Role: "user", Content: "withdraw", CreatedAt: now + 2},
	}
	for _, record := range records {
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := repo.ListBySession(ctx, "alpha", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records for alpha, got %d", len(got))
	}
	if got[0].Content != "show auction 3" || got[1].Content != "here it is" {
		t.Fatalf("records out of order: %+v", got)
	}
}

func TestMemoryTranscriptRepositorySurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	repo, err := NewMemoryTranscriptRepository(dir)
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	record := TranscriptRecord{SessionKey: "s", Role: "user", Content: "persisted", CreatedAt: 100}
	if err := repo.Save(ctx, record); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened, err := NewMemoryTranscriptRepository(dir)
	if err != nil {
		t.Fatalf("reopen repository: %v", err)
	}
	got, err := reopened.ListBySession(ctx, "s", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Content != "persisted" {
		t.Fatalf("records lost across restart: %+v", got)
	}
}

func TestMemoryTranscriptRepositoryLimit(t *testing.T) {
	repo, err := NewMemoryTranscriptRepository(t.TempDir())
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		record := TranscriptRecord{SessionKey: "s", Role: "user", Content: string(rune('a' + i)), CreatedAt: int64(i)}
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := repo.ListBySession(ctx, "s", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Content != "d" || got[1].Content != "e" {
		t.Fatalf("limit should keep the most recent records, got %+v", got)
	}
}
