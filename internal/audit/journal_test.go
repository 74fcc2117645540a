package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"log/slog"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestRecordAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	j, err := Open(path, discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	j.Record(ctx, Event{Kind: "daemon_started", Detail: "sources=3"})
	j.Record(ctx, Event{Kind: "source_disabled", Detail: "name=flaky"})

	entries, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Kind != "source_disabled" {
		t.Fatalf("entries[0].Kind = %q, want source_disabled (newest first)", entries[0].Kind)
	}
}

func TestRecordOnNilJournalIsNoop(t *testing.T) {
	var j *Journal
	j.Record(context.Background(), Event{Kind: "x"}) // must not panic
}
