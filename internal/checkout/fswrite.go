package checkout

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rcowham/fossil-go/internal/errs"
)

// writeWorkingFile writes content to full, creating parent directories as
// needed, and applies the executable bit or recreates a symlink.
func writeWorkingFile(full string, content []byte, isExec, isLink bool) error {
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errs.Wrap(errs.IO, err, "mkdir for %s", full)
	}
	if isLink {
		os.Remove(full)
		if err := os.Symlink(string(content), full); err != nil {
			return errs.Wrap(errs.IO, err, "symlink %s", full)
		}
		return nil
	}
	mode := os.FileMode(0o644)
	if isExec {
		mode = 0o755
	}
	if err := os.WriteFile(full, content, mode); err != nil {
		return errs.Wrap(errs.IO, err, "write %s", full)
	}
	return nil
}

func setFileMtime(full string, mtime int64) error {
	t := time.Unix(mtime, 0)
	return os.Chtimes(full, t, t)
}
