package database_test

import (
	"context"
	"errors"
	"log/slog"
	"paperlens/internal/database"
	"paperlens/internal/domain"
	"path/filepath"
	"testing"
	"time"
)

func newDatabase(t *testing.T) *database.Database {
	t.Helper()

	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "journal.sqlite"),
		slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close database: %v", err)
		}
	})

	return db
}

func TestRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newDatabase(t)

	id, err := db.StartRequest(ctx, domain.RequestRecord{
		ChatID:   42,
		Kind:     domain.RequestKindSummary,
		Source:   domain.SourceURL,
		MIMEType: "application/pdf",
		Size:     2048,
	})
	if err != nil {
		t.Fatalf("start request: %v", err)
	}

	r, err := db.GetRequest(ctx, id)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}

	if r.Status != domain.RequestStatusStarted || r.FinishedAt != nil || r.Source != domain.SourceURL {
		t.Fatalf("unexpected started record: %+v", r)
	}

	if err = db.FinishRequest(ctx, id, 0, errors.New("stream failed")); err != nil {
		t.Fatalf("finish request: %v", err)
	}

	r, err = db.GetRequest(ctx, id)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}

	if r.Status != domain.RequestStatusFailed || r.ErrorDetail != "stream failed" || r.FinishedAt == nil {
		t.Fatalf("unexpected finished record: %+v", r)
	}

	if err = db.FinishRequest(ctx, id, 10, nil); err == nil {
		t.Fatalf("expected error when finishing a request twice")
	}
}

func TestStartRequestRejectsUnknownKind(t *testing.T) {
	if _, err := newDatabase(t).StartRequest(context.Background(), domain.RequestRecord{Kind: "other"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGetChatStats(t *testing.T) {
	ctx := context.Background()
	db := newDatabase(t)

	records := []struct {
		chatID int64
		kind   domain.RequestKind
		cause  error
	}{
		{1, domain.RequestKindSummary, nil},
		{1, domain.RequestKindSummary, errors.New("boom")},
		{1, domain.RequestKindChat, nil},
		{1, domain.RequestKindChat, nil},
		{1, domain.RequestKindChat, errors.New("boom")},
		{2, domain.RequestKindSummary, nil},
	}

	for _, rec := range records {
		id, err := db.StartRequest(ctx, domain.RequestRecord{ChatID: rec.chatID, Kind: rec.kind})
		if err != nil {
			t.Fatalf("start request: %v", err)
		}
		if err = db.FinishRequest(ctx, id, 5, rec.cause); err != nil {
			t.Fatalf("finish request: %v", err)
		}
	}

	stats, err := db.GetChatStats(ctx, 1)
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}

	want := domain.ChatStats{ChatID: 1, Summaries: 2, FailedSummaries: 1, Questions: 3, FailedQuestions: 1}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}

	empty, err := db.GetChatStats(ctx, 99)
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if empty != (domain.ChatStats{ChatID: 99}) {
		t.Fatalf("expected empty stats, got %+v", empty)
	}
}

func TestPruneRequests(t *testing.T) {
	ctx := context.Background()
	db := newDatabase(t)
	now := time.Now()

	oldID, err := db.StartRequest(ctx, domain.RequestRecord{
		ChatID:    1,
		Kind:      domain.RequestKindChat,
		StartedAt: now.Add(-48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("start request: %v", err)
	}

	newID, err := db.StartRequest(ctx, domain.RequestRecord{ChatID: 1, Kind: domain.RequestKindChat, StartedAt: now})
	if err != nil {
		t.Fatalf("start request: %v", err)
	}

	n, err := db.PruneRequests(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one pruned request, got %d", n)
	}

	if _, err = db.GetRequest(ctx, oldID); err == nil {
		t.Fatalf("expected old request to be gone")
	}
	if _, err = db.GetRequest(ctx, newID); err != nil {
		t.Fatalf("expected recent request to stay: %v", err)
	}
}
