// Package source implements the entropy source state machine: one
// configured producer (URL, file, command or script) driving the
// fetch→compress→stir→scale→deposit cycle (spec.md §4.5).
package source

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nishisan-dev/egd/internal/compress"
	"github.com/nishisan-dev/egd/internal/config"
	"github.com/nishisan-dev/egd/internal/egderr"
	"github.com/nishisan-dev/egd/internal/pool"
	"github.com/nishisan-dev/egd/internal/stir"
)

// State is one position in the source state machine (spec.md §4.5).
// RunCycle moves a source Idle -> Fetching -> Processing -> Idle on
// success, and from Fetching|Processing back to Idle on a failure, or to
// Disabled once consecutive_failures reaches the threshold. StateDue,
// StateDeposited and StateFailedOnce are defined but never reported by
// State: readiness is computed by Due without changing the state, and a
// successful or failed cycle goes straight back to Idle.
type State int

const (
	StateIdle State = iota
	StateDue
	StateFetching
	StateProcessing
	StateDeposited
	StateFailedOnce
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDue:
		return "due"
	case StateFetching:
		return "fetching"
	case StateProcessing:
		return "processing"
	case StateDeposited:
		return "deposited"
	case StateFailedOnce:
		return "failed_once"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// maxConsecutiveFailures is the disable threshold from spec.md §4.5/§7.
const maxConsecutiveFailures = 5

// Source wraps one configured entropy producer and its runtime state.
// Once disabled it is terminal for the process lifetime (spec.md §4.5).
type Source struct {
	mu sync.Mutex

	cfg    config.SourceConfig
	pool   *pool.Pool
	codec  compress.Codec
	logger *slog.Logger
	client *http.Client
	tracer trace.Tracer
	dumper *debugDumper

	state               State
	lastAttempt         time.Time
	lastSuccess         time.Time
	consecutiveFailures int
	disabled            bool
	firstRunDeadline    time.Time

	onDisabled func(name string)
}

// New builds a Source from its static configuration. codec is the
// daemon-wide compression codec unless the source sets no_compress.
// debugDumpDir enables the optional raw-bytes diagnostic mirror when
// non-empty; the daemon passes debug_dump_dir as configured, independent
// of log_level.
func New(cfg config.SourceConfig, p *pool.Pool, codec compress.Codec, logger *slog.Logger, debugDumpDir string) *Source {
	now := time.Now()
	return &Source{
		cfg:              cfg,
		pool:             p,
		codec:            codec,
		logger:           logger.With("source", cfg.Name),
		client:           newHTTPClient(cfg.InsecureTLS),
		tracer:           otel.Tracer("github.com/nishisan-dev/egd/internal/source"),
		dumper:           newDebugDumper(debugDumpDir, logger),
		state:            StateIdle,
		disabled:         cfg.Disabled,
		firstRunDeadline: now.Add(cfg.InitDelay),
	}
}

// Name returns the source's configured unique name.
func (s *Source) Name() string { return s.cfg.Name }

// OnDisabled registers fn to be called, with this source's name, the
// moment it crosses the consecutive-failure disable threshold. Used by
// the daemon to journal the event without this package knowing about
// audit.
func (s *Source) OnDisabled(fn func(name string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisabled = fn
}

// Due reports whether the source should be dispatched for a cycle at now
// (spec.md §4.5: now >= last_attempt+interval, now >= first_run_deadline,
// and not disabled).
func (s *Source) Due(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return false
	}
	if now.Before(s.firstRunDeadline) {
		return false
	}
	return s.lastAttempt.IsZero() || now.Sub(s.lastAttempt) >= s.cfg.Interval
}

// Disabled reports whether the source is disabled, either by its
// configuration or by hitting the failure threshold.
func (s *Source) Disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

// State returns the source's current state-machine position.
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConsecutiveFailures returns the current failure streak.
func (s *Source) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures
}

// LastSuccess returns the timestamp of the last successful deposit.
func (s *Source) LastSuccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSuccess
}

// RunCycle drives one full fetch->compress->stir->scale->deposit pass.
// Cycles for the same Source must be serialized by the caller (the
// daemon scheduler); RunCycle itself does not prevent concurrent
// invocation from corrupting consecutiveFailures bookkeeping.
func (s *Source) RunCycle(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateFetching
	s.lastAttempt = time.Now()
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "source.cycle", trace.WithAttributes(
		attribute.String("egd.source.name", s.cfg.Name),
	))
	defer span.End()

	raw, err := s.fetch(ctx)
	if err != nil {
		span.RecordError(err)
		s.recordFailure()
		return err
	}
	s.dumper.Dump(s.cfg.Name, raw)

	s.mu.Lock()
	s.state = StateProcessing
	s.mu.Unlock()

	processed := raw
	if !s.cfg.NoCompress {
		compressed, cErr := s.codec.Compress(raw)
		if cErr != nil {
			wrapped := egderr.Temp("source", "COMPRESS_FAILED", "compressing fetched bytes", cErr)
			span.RecordError(wrapped)
			s.recordFailure()
			return wrapped
		}
		processed = compressed
	}

	stirred := stir.Stir(processed)
	scaled := scaleBytes(stirred, s.cfg.Scale)

	deposited := s.pool.Deposit(scaled)
	s.logger.Debug("cycle complete",
		"fetched_bytes", len(raw), "processed_bytes", len(processed),
		"scaled_bytes", len(scaled), "deposited_bytes", deposited)

	s.mu.Lock()
	s.state = StateDeposited
	s.lastSuccess = time.Now()
	s.consecutiveFailures = 0
	s.state = StateIdle
	s.mu.Unlock()

	return nil
}

func (s *Source) recordFailure() {
	s.mu.Lock()
	s.consecutiveFailures++
	justDisabled := false
	if s.consecutiveFailures >= maxConsecutiveFailures {
		s.disabled = true
		s.state = StateDisabled
		justDisabled = true
		s.logger.Info("source disabled after consecutive failures", "failures", s.consecutiveFailures)
	} else {
		s.state = StateIdle
	}
	onDisabled := s.onDisabled
	s.mu.Unlock()

	if justDisabled && onDisabled != nil {
		onDisabled(s.cfg.Name)
	}
}

func (s *Source) fetch(ctx context.Context) ([]byte, error) {
	switch {
	case s.cfg.URL != "":
		return fetchURL(ctx, s.cfg, s.client)
	case s.cfg.File != "":
		return fetchFile(s.cfg)
	case len(s.cfg.Command) > 0:
		return fetchCommand(ctx, s.cfg)
	case s.cfg.Script != "":
		return fetchScript(ctx, s.cfg)
	default:
		return nil, egderr.Fat("source", "NO_ACQUISITION_METHOD", "no data-acquisition method configured", nil)
	}
}

// scaleBytes truncates stirred to floor(scale*len(stirred)) bytes per
// spec.md §4.5.
func scaleBytes(data []byte, scale float64) []byte {
	n := int(float64(len(data)) * scale)
	if n > len(data) {
		n = len(data)
	}
	if n < 0 {
		n = 0
	}
	return data[:n]
}
