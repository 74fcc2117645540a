package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nishisan-dev/egd/internal/pool"
)

// persistWatcherTick is the cadence at which the watcher checks whether
// persist_interval has elapsed; it is independent of and finer-grained
// than persist_interval itself (spec.md §4.6).
const persistWatcherTick = 1 * time.Second

// PersistWatcher periodically checks now >= last_persist+persist_interval
// and, when due, takes a consistent pool snapshot and persists it.
type PersistWatcher struct {
	pool     *pool.Pool
	path     string
	interval time.Duration
	logger   *slog.Logger

	close chan struct{}
	wg    sync.WaitGroup

	onPersist func(bytesWritten int64, err error)
}

// OnPersist registers fn to be called after every periodic persist
// attempt driven by the background tick loop (not PersistNow, which
// already surfaces its own error to its caller). Used by the daemon to
// journal periodic persists without this package importing internal/audit.
func (w *PersistWatcher) OnPersist(fn func(bytesWritten int64, err error)) {
	w.onPersist = fn
}

// NewPersistWatcher builds a watcher over p, writing to path every
// interval. interval has already been validated to [10s, 24h] by config.
func NewPersistWatcher(p *pool.Pool, path string, interval time.Duration, logger *slog.Logger) *PersistWatcher {
	return &PersistWatcher{
		pool:     p,
		path:     path,
		interval: interval,
		logger:   logger.With("component", "persist_watcher"),
		close:    make(chan struct{}),
	}
}

// Start begins the background check loop.
func (w *PersistWatcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop halts the loop and waits for it to exit. It does not itself
// perform a final persist — callers that want one should call
// PersistNow explicitly as part of shutdown.
func (w *PersistWatcher) Stop() {
	close(w.close)
	w.wg.Wait()
}

// PersistNow performs an immediate, synchronous persist, for the control
// server's persist command and for the daemon's final shutdown persist.
func (w *PersistWatcher) PersistNow(ctx context.Context) (int64, error) {
	return w.pool.Persist(ctx, w.path)
}

func (w *PersistWatcher) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(persistWatcherTick)
	defer ticker.Stop()

	for {
		select {
		case <-w.close:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := w.pool.Stats()
			if time.Since(stats.LastPersist) < w.interval && !stats.LastPersist.IsZero() {
				continue
			}
			n, err := w.pool.Persist(ctx, w.path)
			if err != nil {
				w.logger.Error("periodic persist failed", "error", err)
			}
			if w.onPersist != nil {
				w.onPersist(n, err)
			}
		}
	}
}
