package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"log/slog"

	"github.com/nishisan-dev/egd/internal/compress"
	"github.com/nishisan-dev/egd/internal/config"
	"github.com/nishisan-dev/egd/internal/pool"
	"github.com/nishisan-dev/egd/internal/source"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func newFileSource(t *testing.T, name string, interval time.Duration) *source.Source {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(path, make([]byte, 64), 0600); err != nil {
		t.Fatalf("seeding source file: %v", err)
	}
	p := pool.New(1<<20, 4096)
	cfg := config.SourceConfig{Name: name, File: path, Interval: interval, Scale: 1.0}
	return source.New(cfg, p, compress.New(compress.LZ4), discardLogger(), "")
}

func TestSchedulerDispatchesDueSources(t *testing.T) {
	s := newFileSource(t, "fast", 10*time.Second)
	// Force it due immediately by giving it a zero init delay and no
	// prior attempt, which New already does.
	sched := NewScheduler([]*source.Source{s}, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for s.LastSuccess().IsZero() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	sched.Stop(context.Background())

	if s.LastSuccess().IsZero() {
		t.Fatalf("expected scheduler to have run the due source at least once")
	}
}

func TestConcurrencyBudgetDefaultsFullWithNoSample(t *testing.T) {
	mon := NewResourceMonitor(discardLogger())
	sched := NewScheduler(nil, mon, discardLogger())

	if got := sched.concurrencyBudget(); got != maxConcurrentCycles {
		t.Fatalf("concurrencyBudget() = %d, want %d with no sample yet", got, maxConcurrentCycles)
	}
}

func TestConcurrencyBudgetHalvesUnderHighLoad(t *testing.T) {
	mon := NewResourceMonitor(discardLogger())
	mon.mu.Lock()
	mon.stats = ResourceStats{CPUPercent: 95}
	mon.mu.Unlock()

	sched := NewScheduler(nil, mon, discardLogger())
	want := maxConcurrentCycles / 2
	if got := sched.concurrencyBudget(); got != want {
		t.Fatalf("concurrencyBudget() = %d, want %d under high load", got, want)
	}
}
