package source

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nishisan-dev/egd/internal/config"
	"github.com/nishisan-dev/egd/internal/egderr"
)

// scriptTimeout is the hard wall-clock kill per spec.md §4.5/Design Notes
// ("Script sandboxing" — the 30-second kill is the minimum guarantee
// absent a portable memory/CPU enforcement primitive).
const scriptTimeout = 30 * time.Second

// scriptStdoutCap bounds captured stdout; output beyond it is discarded
// and the cycle is treated as a transient overflow failure.
const scriptStdoutCap = 4 * 1024 * 1024

// fetchScript writes the embedded script body to a fresh owner-only
// working directory, runs it under the configured interpreter with a
// minimal exported environment, and captures stdout under a hard
// wall-clock kill that targets the whole process group (POSIX only —
// see Design Notes "Script sandboxing").
func fetchScript(ctx context.Context, cfg config.SourceConfig) ([]byte, error) {
	dir, err := os.MkdirTemp("", "egd-script-")
	if err != nil {
		return nil, egderr.Temp("source", "SCRIPT_WORKDIR", "creating script working directory", err)
	}
	defer os.RemoveAll(dir)
	if err := os.Chmod(dir, 0700); err != nil {
		return nil, egderr.Temp("source", "SCRIPT_WORKDIR", "securing script working directory", err)
	}

	scriptPath := filepath.Join(dir, "source_script")
	if err := os.WriteFile(scriptPath, []byte(cfg.Script), 0700); err != nil {
		return nil, egderr.Temp("source", "SCRIPT_WRITE", "writing script body", err)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, cfg.ScriptInterpreter, scriptPath)
	cmd.Dir = dir
	cmd.Env = scriptEnv(cfg)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	out := &limitedBuffer{limit: scriptStdoutCap}
	cmd.Stdout = out
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return nil, egderr.Perm("source", "SCRIPT_START_FAILED", "starting script interpreter", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		if out.overflowed {
			return nil, egderr.Temp("source", "SCRIPT_STDOUT_OVERFLOW", "script stdout exceeded cap", nil)
		}
		if err != nil {
			return nil, egderr.Perm("source", "SCRIPT_EXIT_NONZERO", "script exited nonzero", err)
		}
	case <-cmdCtx.Done():
		killProcessGroup(cmd)
		<-waitErr
		return nil, egderr.Temp("source", "SCRIPT_TIMEOUT", "script exceeded wall clock", cmdCtx.Err())
	}

	data := out.buf.Bytes()
	if cfg.MinSize > 0 && int64(len(data)) < cfg.MinSize {
		return nil, egderr.Temp("source", "SCRIPT_SHORT_OUTPUT",
			fmt.Sprintf("stdout %d bytes, shorter than min_size %d", len(data), cfg.MinSize), nil)
	}

	return data, nil
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Negative pid targets the whole process group created by Setpgid,
	// so children the script spawned die with it.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// scriptEnv builds the minimal environment contract for a script child:
// PATH, HOME, TEMP/TMPDIR, plus one EGD_SOURCE_<KEY> per configured key
// on the owning source (spec.md §6 "Environment contract for scripts").
func scriptEnv(cfg config.SourceConfig) []string {
	tmp := os.Getenv("TMPDIR")
	if tmp == "" {
		tmp = "/tmp"
	}
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		"TEMP=" + tmp,
		"TMPDIR=" + tmp,
	}
	return append(env, cfg.Env()...)
}

// limitedBuffer is an io.Writer that discards writes once a cap is hit,
// recording the overflow instead of growing unbounded stdout capture.
type limitedBuffer struct {
	buf        bytes.Buffer
	limit      int
	overflowed bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.overflowed {
		return len(p), nil
	}
	if b.buf.Len()+len(p) > b.limit {
		b.overflowed = true
		return len(p), nil
	}
	return b.buf.Write(p)
}
