// Package daemon wires the pool, sources, persistence watcher, resource
// monitor and control server into the running EGD process, and owns its
// signal-driven lifecycle (spec.md §4.6).
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nishisan-dev/egd/internal/audit"
	"github.com/nishisan-dev/egd/internal/compress"
	"github.com/nishisan-dev/egd/internal/config"
	"github.com/nishisan-dev/egd/internal/control"
	"github.com/nishisan-dev/egd/internal/pool"
	"github.com/nishisan-dev/egd/internal/source"
	"github.com/nishisan-dev/egd/internal/tracing"
)

// shutdownDrain bounds how long the daemon waits for in-flight cycles
// and a final persist to complete before forcing exit (spec.md §4.6/§5).
const shutdownDrain = 30 * time.Second

// Daemon owns the pool, sources, persistence, resource monitor, optional
// digest scheduler, and the control server built on top of them. It
// implements control.Handler directly.
type Daemon struct {
	cfg    *config.Config
	pool   *pool.Pool
	srcs   []*source.Source
	watch  *PersistWatcher
	sched  *Scheduler
	mon    *ResourceMonitor
	digest *DigestScheduler
	ctl    *control.Server
	audit  *audit.Journal
	logger *slog.Logger

	tracerShutdown tracing.Shutdown

	startTime    time.Time
	shuttingDown atomic.Bool
}

// build assembles a Daemon from cfg without starting any background
// loop. The pool is loaded from persist_file if present, otherwise
// created empty.
func build(cfg *config.Config, logger *slog.Logger, auditJournal *audit.Journal) (*Daemon, error) {
	var p *pool.Pool
	if _, err := os.Stat(cfg.PersistFile); err == nil {
		loaded, loadErr := pool.LoadPool(cfg.PersistFile)
		if loadErr != nil {
			return nil, fmt.Errorf("loading persisted pool: %w", loadErr)
		}
		p = loaded
		logger.Info("loaded persisted pool", "path", cfg.PersistFile, "bytes", p.Stats().TotalBytes)
	} else {
		p = pool.New(cfg.MaxEntropyRaw, int(cfg.PoolChunkRaw))
		logger.Info("starting with an empty pool", "max_entropy", cfg.MaxEntropyRaw)
	}

	if cfg.Mirror.Enabled {
		mirror, mirrorErr := pool.NewS3Mirror(context.Background(), cfg.Mirror.Bucket, cfg.Mirror.Key, logger)
		if mirrorErr != nil {
			return nil, fmt.Errorf("configuring S3 mirror: %w", mirrorErr)
		}
		p.SetMirror(mirror)
		logger.Info("S3 persist mirror enabled", "bucket", cfg.Mirror.Bucket, "key", cfg.Mirror.Key)
	}

	tracerShutdown, err := tracing.Setup(cfg.Tracing.Enabled, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	codec := compress.New(compress.Algorithm(cfg.CompressAlgorithm))

	srcs := make([]*source.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		src := source.New(sc, p, codec, logger, cfg.DebugDumpDir)
		if auditJournal != nil {
			src.OnDisabled(func(name string) {
				auditJournal.Record(context.Background(), audit.Event{Kind: "source_disabled", Detail: name})
			})
		}
		srcs = append(srcs, src)
	}

	mon := NewResourceMonitor(logger)
	watch := NewPersistWatcher(p, cfg.PersistFile, cfg.PersistInterval, logger)
	if auditJournal != nil {
		watch.OnPersist(func(bytesWritten int64, persistErr error) {
			detail := fmt.Sprintf("bytes=%d", bytesWritten)
			if persistErr != nil {
				detail = persistErr.Error()
			}
			auditJournal.Record(context.Background(), audit.Event{Kind: "persist", Detail: detail})
		})
	}
	sched := NewScheduler(srcs, mon, logger)

	d := &Daemon{
		cfg:            cfg,
		pool:           p,
		srcs:           srcs,
		watch:          watch,
		sched:          sched,
		mon:            mon,
		audit:          auditJournal,
		logger:         logger,
		tracerShutdown: tracerShutdown,
		startTime:      time.Now(),
	}

	if cfg.Digest.Enabled && cfg.Digest.Schedule != "" {
		digest, err := NewDigestScheduler(cfg.Digest.Schedule, p, srcs, mon, logger)
		if err != nil {
			return nil, fmt.Errorf("configuring digest scheduler: %w", err)
		}
		d.digest = digest
	}

	d.ctl = control.NewServer(cfg.TCPPort, d, logger)
	if auditJournal != nil {
		d.ctl.OnCommand(func(command string) {
			auditJournal.Record(context.Background(), audit.Event{Kind: "control_command", Detail: command})
		})
	}

	return d, nil
}

// start brings up every background loop. Order matches shutdown's
// reverse: monitor and persistence first, sources next, control last so
// it never accepts a connection before the rest of the daemon is ready.
func (d *Daemon) start(ctx context.Context) error {
	d.mon.Start()
	d.watch.Start(ctx)
	d.sched.Start(ctx)
	if d.digest != nil {
		d.digest.Start()
	}
	if err := d.ctl.Start(); err != nil {
		return fmt.Errorf("starting control server: %w", err)
	}
	return nil
}

// stop drains the control server, cancels in-flight cycles, performs a
// final persist, and stops the remaining background loops. It returns
// the final persist's error, if any, so the caller can set a nonzero
// exit status per spec.md §4.6.
func (d *Daemon) stop() error {
	d.shuttingDown.Store(true)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
	defer cancel()

	d.ctl.Stop(stopCtx)
	d.sched.Stop(stopCtx)
	d.watch.Stop()
	d.mon.Stop()
	if d.digest != nil {
		d.digest.Stop()
	}
	if shutErr := d.tracerShutdown(stopCtx); shutErr != nil {
		d.logger.Warn("tracer shutdown failed", "error", shutErr)
	}

	_, err := d.watch.PersistNow(stopCtx)
	if err != nil {
		d.logger.Error("final persist failed", "error", err)
	}
	if d.audit != nil {
		d.audit.Record(stopCtx, audit.Event{Kind: "daemon_stopped", Detail: errString(err)})
	}
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// fileReload is one config.Watcher callback invocation, bridged from its
// background goroutine onto RunDaemon's select loop.
type fileReload struct {
	cfg *config.Config
	err error
}

// reloadDaemon stops the current daemon generation and builds/starts a
// new one from newCfg, returning the replacements for RunDaemon's loop
// variables. Shared by both the SIGHUP and fsnotify reload triggers.
func reloadDaemon(ctx context.Context, d *Daemon, newCfg *config.Config, logger *slog.Logger, auditJournal *audit.Journal, runCancel context.CancelFunc) (*Daemon, *config.Config, context.Context, context.CancelFunc, <-chan struct{}, error) {
	runCancel()
	if stopErr := d.stop(); stopErr != nil {
		logger.Error("stopping previous daemon state during reload", "error", stopErr)
	}

	next, err := build(newCfg, logger, auditJournal)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("rebuilding daemon after reload: %w", err)
	}
	runCtx, newCancel := context.WithCancel(ctx)
	if err := next.start(runCtx); err != nil {
		return nil, nil, nil, nil, nil, err
	}
	logger.Info("config reloaded successfully", "sources", len(newCfg.Sources))
	return next, newCfg, runCtx, newCancel, next.ctl.QuitRequested(), nil
}

// RunDaemon builds a Daemon from cfg and blocks until it receives
// SIGTERM, SIGINT, or an in-process quit request, handling SIGHUP as a
// config reload in between (spec.md §4.6, grounded on the teacher's
// RunDaemon signal loop). It returns the final persist's error, if any.
func RunDaemon(ctx context.Context, configPath string, cfg *config.Config, logger *slog.Logger, auditJournal *audit.Journal) error {
	logger.Info("starting daemon", "sources", len(cfg.Sources), "tcp_port", cfg.TCPPort)

	d, err := build(cfg, logger, auditJournal)
	if err != nil {
		return fmt.Errorf("assembling daemon: %w", err)
	}
	if auditJournal != nil {
		auditJournal.Record(ctx, audit.Event{Kind: "daemon_started", Detail: fmt.Sprintf("sources=%d", len(cfg.Sources))})
	}

	runCtx, runCancel := context.WithCancel(ctx)
	if err := d.start(runCtx); err != nil {
		runCancel()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	// fsnotify is a second reload trigger alongside SIGHUP (spec.md
	// §4.6/SPEC_FULL.md §11.2): edits to configPath feed reloadCh, whose
	// branch below calls the same reloadDaemon helper as the SIGHUP
	// branch. A watcher that fails to
	// start (e.g. the config directory is unwatchable) only costs the
	// file-trigger path; SIGHUP still works.
	reloadCh := make(chan fileReload, 1)
	watcher := config.NewWatcher(configPath, func(reloaded *config.Config, reloadErr error) {
		reloadCh <- fileReload{cfg: reloaded, err: reloadErr}
	})
	if err := watcher.Start(); err != nil {
		logger.Warn("config file watcher failed to start, SIGHUP reload still available", "error", err)
	}
	defer watcher.Stop()

	quitCh := d.ctl.QuitRequested()

	for {
		select {
		case fr := <-reloadCh:
			if fr.err != nil {
				logger.Error("config file changed but failed validation, keeping current config", "error", fr.err)
				continue
			}
			logger.Info("config file changed, reloading", "path", configPath)
			var reloadErr error
			d, cfg, runCtx, runCancel, quitCh, reloadErr = reloadDaemon(ctx, d, fr.cfg, logger, auditJournal, runCancel)
			if reloadErr != nil {
				return reloadErr
			}
			continue

		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, reloading config", "path", configPath)
				reloaded, reloadErr := config.Validate(configPath)
				if reloadErr != nil {
					logger.Error("reload failed, keeping current config", "error", reloadErr)
					continue
				}

				d, cfg, runCtx, runCancel, quitCh, reloadErr = reloadDaemon(ctx, d, reloaded, logger, auditJournal, runCancel)
				if reloadErr != nil {
					return reloadErr
				}
				continue
			}

			logger.Info("received signal, shutting down", "signal", sig)
			runCancel()
			return d.stop()

		case <-quitCh:
			logger.Info("quit requested over control connection, shutting down")
			runCancel()
			return d.stop()
		}
	}
}

// --- control.Handler ---

// Status implements control.Handler.
func (d *Daemon) Status(ctx context.Context) (control.StatusResponse, error) {
	s := d.pool.Stats()
	load := d.mon.Stats()
	return control.StatusResponse{
		EntropyBytes: s.TotalBytes,
		MaxEntropy:   s.MaxTotalBytes,
		ChunkCount:   s.ChunkCount,
		IsFull:       s.IsFull,
		LastPersist:  s.LastPersist,
		CPUPercent:   load.CPUPercent,
		LoadAverage:  load.LoadAverage,
	}, nil
}

// Persist implements control.Handler: a synchronous, immediate persist.
func (d *Daemon) Persist(ctx context.Context) (control.PersistResponse, error) {
	n, err := d.watch.PersistNow(ctx)
	if err != nil {
		return control.PersistResponse{}, err
	}
	return control.PersistResponse{
		BytesWritten: n,
		FilePath:     d.cfg.PersistFile,
		PersistTime:  time.Now(),
	}, nil
}

// Sources implements control.Handler's supplemented sources command.
func (d *Daemon) Sources(ctx context.Context) (control.SourcesResponse, error) {
	out := make([]control.SourceInfo, 0, len(d.srcs))
	for _, s := range d.srcs {
		out = append(out, control.SourceInfo{
			Name:                s.Name(),
			State:               s.State().String(),
			ConsecutiveFailures: s.ConsecutiveFailures(),
			LastSuccess:         s.LastSuccess(),
		})
	}
	return control.SourcesResponse{Sources: out}, nil
}

// Uptime reports seconds since this Daemon instance was built (reset by
// a SIGHUP reload, matching the teacher's per-generation stats reset).
func (d *Daemon) Uptime() time.Duration {
	return time.Since(d.startTime)
}

// ShuttingDown reports whether the daemon has begun its shutdown
// sequence. The control server does not consult it: its 503 responses
// come from its own stopping flag, set by Server.Stop.
func (d *Daemon) ShuttingDown() bool {
	return d.shuttingDown.Load()
}
