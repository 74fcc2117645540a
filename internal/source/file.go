package source

import (
	"fmt"
	"io"
	"os"

	"github.com/nishisan-dev/egd/internal/config"
	"github.com/nishisan-dev/egd/internal/egderr"
)

// fetchFile reads a local file source, truncating to size and rejecting
// results shorter than min_size (spec.md §4.5).
func fetchFile(cfg config.SourceConfig) ([]byte, error) {
	f, err := os.Open(cfg.File)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, egderr.Perm("source", "FILE_NOT_FOUND", "opening source file", err)
		}
		if os.IsPermission(err) {
			return nil, egderr.Perm("source", "FILE_PERMISSION_DENIED", "opening source file", err)
		}
		return nil, egderr.Temp("source", "FILE_OPEN", "opening source file", err)
	}
	defer f.Close()

	var r io.Reader = f
	if cfg.Size > 0 {
		r = io.LimitReader(f, cfg.Size)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, egderr.Temp("source", "FILE_READ", "reading source file", err)
	}

	if cfg.MinSize > 0 && int64(len(data)) < cfg.MinSize {
		return nil, egderr.Temp("source", "FILE_SHORT_READ",
			fmt.Sprintf("read %d bytes, shorter than min_size %d", len(data), cfg.MinSize), nil)
	}

	return data, nil
}
