package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/nishisan-dev/egd/internal/config"
	"github.com/nishisan-dev/egd/internal/egderr"
)

// commandTimeout bounds an external command's execution, mirroring the
// URL fetch ceiling since spec.md does not name a separate one.
const commandTimeout = fetchTimeout

// fetchCommand runs the configured external command and captures stdout
// through an optional throttled reader, bounding how fast a runaway
// producer can hand bytes to the pipeline.
func fetchCommand(ctx context.Context, cfg config.SourceConfig) ([]byte, error) {
	if len(cfg.Command) == 0 {
		return nil, egderr.Fat("source", "COMMAND_NOT_CONFIGURED", "command not configured", nil)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, cfg.Command[0], cfg.Command[1:]...)
	cmd.Stdin = nil
	cmd.Env = scriptEnv(cfg)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, egderr.Perm("source", "COMMAND_STDOUT_PIPE", "opening stdout pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, egderr.Perm("source", "COMMAND_START_FAILED", "starting command", err)
	}

	reader := newThrottledReader(cmdCtx, stdout, cfg.MaxReadRateRaw)
	var body io.Reader = reader
	if cfg.Size > 0 {
		body = io.LimitReader(reader, cfg.Size)
	}

	data, readErr := io.ReadAll(body)
	waitErr := cmd.Wait()

	if cmdCtx.Err() == context.DeadlineExceeded {
		return nil, egderr.Temp("source", "COMMAND_TIMEOUT", "command exceeded wall clock", cmdCtx.Err())
	}
	if readErr != nil {
		return nil, egderr.Temp("source", "COMMAND_READ", "reading command stdout", readErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, egderr.Perm("source", "COMMAND_EXIT_NONZERO", "command exited nonzero", waitErr)
		}
		return nil, egderr.Perm("source", "COMMAND_WAIT_FAILED", "waiting for command", waitErr)
	}

	if cfg.MinSize > 0 && int64(len(data)) < cfg.MinSize {
		return nil, egderr.Temp("source", "COMMAND_SHORT_OUTPUT",
			fmt.Sprintf("output %d bytes, shorter than min_size %d", len(data), cfg.MinSize), nil)
	}

	return data, nil
}
