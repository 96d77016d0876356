package filesystem

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

const tempPrefix = ".tmp-"

var errTooLarge = errors.New("content exceeds size limit")

// writeTemp streams r into a hidden temp file inside dir so that a later
// rename into place is atomic. A positive limit caps the number of bytes
// accepted. The temp file is removed on failure.
func writeTemp(fs afero.Fs, dir string, r io.Reader, limit int64) (string, int64, error) {
	tmpFile, err := afero.TempFile(fs, dir, tempPrefix+"*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			fs.Remove(tmpPath)
		}
	}()

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	written, err := io.Copy(tmpFile, src)
	if err != nil {
		tmpFile.Close()
		return "", 0, fmt.Errorf("failed to write data: %w", err)
	}
	if limit > 0 && written > limit {
		tmpFile.Close()
		return "", 0, errTooLarge
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return "", 0, fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := fs.Chmod(tmpPath, 0644); err != nil {
		return "", 0, fmt.Errorf("failed to chmod temp file: %w", err)
	}

	success = true
	return tmpPath, written, nil
}

// writeFileAtomic replaces destPath with data using temp file + rename.
func writeFileAtomic(fs afero.Fs, dir, destPath string, r io.Reader) error {
	tmpPath, _, err := writeTemp(fs, dir, r, 0)
	if err != nil {
		return err
	}

	if err := fs.Rename(tmpPath, destPath); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, os.ErrNotExist)
}
