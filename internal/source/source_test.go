package source

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nishisan-dev/egd/internal/compress"
	"github.com/nishisan-dev/egd/internal/config"
	"github.com/nishisan-dev/egd/internal/egderr"
	"github.com/nishisan-dev/egd/internal/pool"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestScaleBytes(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}

	cases := []struct {
		scale float64
		want  int
	}{
		{0.0, 0},
		{1.0, 100},
		{0.5, 50},
		{0.01, 1},
	}
	for _, tc := range cases {
		out := scaleBytes(data, tc.scale)
		if len(out) != tc.want {
			t.Fatalf("scaleBytes(scale=%f) len = %d, want %d", tc.scale, len(out), tc.want)
		}
	}
}

func newTestSource(t *testing.T, cfg config.SourceConfig) *Source {
	t.Helper()
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1.0
	}
	p := pool.New(1<<20, 4096)
	return New(cfg, p, compress.New(compress.LZ4), discardLogger(), "")
}

func TestDueRespectsInitDelayAndInterval(t *testing.T) {
	cfg := config.SourceConfig{Name: "x", File: "/dev/null", InitDelay: 50 * time.Millisecond, Interval: 10 * time.Second}
	s := newTestSource(t, cfg)

	if s.Due(time.Now()) {
		t.Fatalf("source should not be due before its init_delay elapses")
	}

	time.Sleep(60 * time.Millisecond)
	if !s.Due(time.Now()) {
		t.Fatalf("source should be due once init_delay has elapsed and no prior attempt exists")
	}
}

func TestDisabledSourceIsNeverDue(t *testing.T) {
	cfg := config.SourceConfig{Name: "x", File: "/dev/null", Disabled: true}
	s := newTestSource(t, cfg)
	if s.Due(time.Now()) {
		t.Fatalf("disabled source must never be due")
	}
}

// TestDisableAfterFiveConsecutiveFailures is the S5 scenario: a source
// whose fetch always fails disables itself after exactly 5 attempts,
// and is no longer due on the 6th tick.
func TestDisableAfterFiveConsecutiveFailures(t *testing.T) {
	cfg := config.SourceConfig{Name: "always-fails", File: filepath.Join(t.TempDir(), "does-not-exist")}
	s := newTestSource(t, cfg)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.RunCycle(ctx); err == nil {
			t.Fatalf("cycle %d: expected failure fetching nonexistent file", i)
		}
	}

	if !s.Disabled() {
		t.Fatalf("expected source disabled after 5 consecutive failures")
	}
	if s.ConsecutiveFailures() != maxConsecutiveFailures {
		t.Fatalf("ConsecutiveFailures() = %d, want %d", s.ConsecutiveFailures(), maxConsecutiveFailures)
	}
	if s.Due(time.Now()) {
		t.Fatalf("disabled source must not be due on the 6th tick")
	}
}

func TestSuccessfulCycleResetsFailureStreak(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "source.bin")
	if err := os.WriteFile(path, make([]byte, 128), 0600); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	cfg := config.SourceConfig{Name: "ok", File: path, Scale: 1.0}
	s := newTestSource(t, cfg)

	ctx := context.Background()
	if err := s.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if s.ConsecutiveFailures() != 0 {
		t.Fatalf("ConsecutiveFailures() = %d, want 0 after success", s.ConsecutiveFailures())
	}
	if s.State() != StateIdle {
		t.Fatalf("State() = %v, want idle after a successful cycle", s.State())
	}
	if s.LastSuccess().IsZero() {
		t.Fatalf("expected LastSuccess to be recorded")
	}
}

func TestFetchURLHonorsMinSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("short"))
	}))
	defer srv.Close()

	cfg := config.SourceConfig{Name: "url", URL: srv.URL, MinSize: 1000}
	_, err := fetchURL(context.Background(), cfg, newHTTPClient(false))
	if err == nil {
		t.Fatalf("expected error for response shorter than min_size")
	}
}

func TestFetchURLTruncatesToSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 1000))
	}))
	defer srv.Close()

	cfg := config.SourceConfig{Name: "url", URL: srv.URL, Size: 100}
	data, err := fetchURL(context.Background(), cfg, newHTTPClient(false))
	if err != nil {
		t.Fatalf("fetchURL: %v", err)
	}
	if len(data) != 100 {
		t.Fatalf("len(data) = %d, want 100", len(data))
	}
}

func TestFetchURLSetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := config.SourceConfig{Name: "url", URL: srv.URL}
	if _, err := fetchURL(context.Background(), cfg, newHTTPClient(false)); err != nil {
		t.Fatalf("fetchURL: %v", err)
	}
	if gotUA != userAgent {
		t.Fatalf("User-Agent = %q, want %q", gotUA, userAgent)
	}
}

func TestFetchURLRejects4xxAsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := config.SourceConfig{Name: "url", URL: srv.URL}
	_, err := fetchURL(context.Background(), cfg, newHTTPClient(false))
	if err == nil {
		t.Fatalf("expected error for 404 response")
	}
	if egderr.CategoryOf(err) != egderr.Permanent {
		t.Fatalf("CategoryOf(err) = %v, want permanent", egderr.CategoryOf(err))
	}
}

func TestFetchFileRejectsMissingFile(t *testing.T) {
	cfg := config.SourceConfig{Name: "file", File: filepath.Join(t.TempDir(), "nope")}
	if _, err := fetchFile(cfg); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestFetchCommandCapturesStdout(t *testing.T) {
	cfg := config.SourceConfig{Name: "cmd", Command: []string{"printf", "hello-world"}}
	data, err := fetchCommand(context.Background(), cfg)
	if err != nil {
		t.Fatalf("fetchCommand: %v", err)
	}
	if string(data) != "hello-world" {
		t.Fatalf("data = %q, want %q", data, "hello-world")
	}
}

func TestFetchScriptExportsCustomKeysAsEnv(t *testing.T) {
	cfg := config.SourceConfig{
		Name:              "script",
		ScriptInterpreter: "/bin/sh",
		Script: `#!/bin/sh
printf "%s" "$EGD_SOURCE_TOKEN"
`,
		Custom: map[string]config.Scalar{"token": mustScalar(t, "xyz123")},
	}

	data, err := fetchScript(context.Background(), cfg)
	if err != nil {
		t.Fatalf("fetchScript: %v", err)
	}
	if string(data) != "xyz123" {
		t.Fatalf("data = %q, want xyz123", data)
	}
}

func mustScalar(t *testing.T, s string) config.Scalar {
	t.Helper()
	var sc config.Scalar
	if err := sc.UnmarshalYAML(func(out interface{}) error {
		*(out.(*interface{})) = s
		return nil
	}); err != nil {
		t.Fatalf("building scalar: %v", err)
	}
	return sc
}
