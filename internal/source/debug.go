package source

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/pgzip"
)

// debugDumper optionally mirrors a cycle's raw fetched bytes, parallel
// gzip-compressed, to a directory for operator troubleshooting. It is
// never on the deposit path — the pool only ever receives stirred,
// scaled bytes — this is diagnostics only (spec.md §4.2).
type debugDumper struct {
	dir    string
	logger *slog.Logger
}

// newDebugDumper returns nil when dir is empty, so callers can
// unconditionally invoke Dump without a nil check at every call site.
func newDebugDumper(dir string, logger *slog.Logger) *debugDumper {
	if dir == "" {
		return nil
	}
	return &debugDumper{dir: dir, logger: logger}
}

// Dump writes raw as a gzip-compressed file named after source and the
// current time. Failures are logged, never propagated — a dump failure
// must not fail the cycle it is diagnosing.
func (d *debugDumper) Dump(source string, raw []byte) {
	if d == nil {
		return
	}
	if err := os.MkdirAll(d.dir, 0700); err != nil {
		d.logger.Warn("debug dump: creating directory", "error", err)
		return
	}

	name := fmt.Sprintf("%s-%s.raw.gz", source, time.Now().UTC().Format("20060102T150405.000000000Z"))
	path := filepath.Join(d.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		d.logger.Warn("debug dump: opening file", "error", err)
		return
	}
	defer f.Close()

	gw := pgzip.NewWriter(f)
	if _, err := gw.Write(raw); err != nil {
		d.logger.Warn("debug dump: writing", "error", err)
		gw.Close()
		return
	}
	if err := gw.Close(); err != nil {
		d.logger.Warn("debug dump: closing gzip writer", "error", err)
	}
}
