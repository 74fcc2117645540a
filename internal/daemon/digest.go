package daemon

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/egd/internal/pool"
	"github.com/nishisan-dev/egd/internal/source"
)

// DigestScheduler logs a periodic pool/source summary on a cron
// expression, independent of the plain interval-based PersistWatcher.
// It is optional: daemons that don't configure digest.schedule simply
// never construct one.
type DigestScheduler struct {
	cron    *cron.Cron
	pool    *pool.Pool
	sources []*source.Source
	monitor *ResourceMonitor
	logger  *slog.Logger
}

// NewDigestScheduler builds a scheduler that logs a summary at the given
// cron expression (robfig/cron/v3 syntax, e.g. "0 * * * *" for hourly).
func NewDigestScheduler(schedule string, p *pool.Pool, sources []*source.Source, monitor *ResourceMonitor, logger *slog.Logger) (*DigestScheduler, error) {
	d := &DigestScheduler{
		pool:    p,
		sources: sources,
		monitor: monitor,
		logger:  logger.With("component", "digest"),
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(schedule, d.logSummary); err != nil {
		return nil, err
	}
	d.cron = c
	return d, nil
}

// Start begins the cron scheduler.
func (d *DigestScheduler) Start() {
	d.cron.Start()
}

// Stop halts the cron scheduler and waits for any in-flight job.
func (d *DigestScheduler) Stop() {
	<-d.cron.Stop().Done()
}

func (d *DigestScheduler) logSummary() {
	stats := d.pool.Stats()

	disabled := 0
	for _, s := range d.sources {
		if s.Disabled() {
			disabled++
		}
	}

	attrs := []any{
		"entropy_bytes", stats.TotalBytes,
		"max_entropy", stats.MaxTotalBytes,
		"chunk_count", stats.ChunkCount,
		"is_full", stats.IsFull,
		"sources", len(d.sources),
		"sources_disabled", disabled,
	}
	if d.monitor != nil {
		rs := d.monitor.Stats()
		attrs = append(attrs, "cpu_percent", rs.CPUPercent, "load1", rs.LoadAverage)
	}

	d.logger.Info("entropy pool digest", attrs...)
}
