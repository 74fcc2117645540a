package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nishisan-dev/egd/internal/source"
)

// tickInterval is the coarse scheduler cadence (spec.md §4.6).
const tickInterval = 1 * time.Second

// maxConcurrentCycles bounds the number of source cycles started in a
// single tick; concurrencyBudget halves it under high CPU load. Cycles
// still running from earlier ticks are not counted against it.
const maxConcurrentCycles = 8

// highLoadThreshold is the CPU-percent sample above which the scheduler
// halves its concurrency budget for the tick, degrading gracefully under
// host pressure rather than refusing to run sources at all.
const highLoadThreshold = 85.0

// sourceJob pairs a Source with a running-guard so a slow cycle never
// overlaps with the next tick's dispatch of the same source.
type sourceJob struct {
	src     *source.Source
	mu      sync.Mutex
	running bool
}

// Scheduler owns a fixed set of sources and ticks them on a coarse
// cadence, dispatching distinct sources' cycles in parallel while
// serializing repeated cycles of the same source (spec.md §4.6).
type Scheduler struct {
	logger  *slog.Logger
	jobs    []*sourceJob
	monitor *ResourceMonitor

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScheduler builds a Scheduler over the given sources.
func NewScheduler(sources []*source.Source, monitor *ResourceMonitor, logger *slog.Logger) *Scheduler {
	jobs := make([]*sourceJob, len(sources))
	for i, s := range sources {
		jobs[i] = &sourceJob{src: s}
	}
	return &Scheduler{
		logger:  logger.With("component", "scheduler"),
		jobs:    jobs,
		monitor: monitor,
	}
}

// Start begins the tick loop. ctx cancellation stops the loop; Stop waits
// for any in-flight cycles dispatched before cancellation to return.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels in-flight cycles' context and waits, bounded by ctx, for
// the tick loop and any dispatched cycles to return.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out waiting for cycles to drain")
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	budget := s.concurrencyBudget()
	dispatched := 0

	for _, job := range s.jobs {
		if dispatched >= budget {
			break
		}
		if !job.src.Due(now) {
			continue
		}

		job.mu.Lock()
		if job.running {
			job.mu.Unlock()
			continue
		}
		job.running = true
		job.mu.Unlock()

		dispatched++
		s.wg.Add(1)
		go s.runCycle(ctx, job)
	}
}

func (s *Scheduler) runCycle(ctx context.Context, job *sourceJob) {
	defer s.wg.Done()
	defer func() {
		job.mu.Lock()
		job.running = false
		job.mu.Unlock()
	}()

	if err := job.src.RunCycle(ctx); err != nil {
		s.logger.Warn("source cycle failed", "source", job.src.Name(), "error", err)
	}
}

// concurrencyBudget returns how many new cycles this tick may start. It
// halves the base budget when the last resource sample shows high CPU
// load (spec.md's "bounding resources... degrading gracefully"); a nil
// or not-yet-sampled monitor leaves the budget untouched.
func (s *Scheduler) concurrencyBudget() int {
	if s.monitor == nil {
		return maxConcurrentCycles
	}
	stats := s.monitor.Stats()
	if stats.CPUPercent >= highLoadThreshold {
		half := maxConcurrentCycles / 2
		if half < 1 {
			return 1
		}
		return half
	}
	return maxConcurrentCycles
}
