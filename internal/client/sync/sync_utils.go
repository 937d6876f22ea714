package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/clouddisk/cloudsync/internal/utils"
	"github.com/go-git/go-billy/v5"
)

// echoSuppressor is told about every local path the engine itself is about to touch
type echoSuppressor interface {
	IgnoreOnce(relPath string)
}

type noopEcho struct{}

func (noopEcho) IgnoreOnce(string) {}

// writeFileAtomic writes data to a temp file next to relPath and renames it into place.
// Temp files carry the ignored prefix so the watcher never reports them.
func writeFileAtomic(bfs billy.Filesystem, relPath string, data []byte, echo echoSuppressor) error {
	parent, _ := utils.SplitParent(relPath)
	if parent != "" {
		if err := ensureDir(bfs, parent, echo); err != nil {
			return err
		}
	}

	tmpDir := parent
	if tmpDir == "" {
		tmpDir = "."
	}
	tempFile, err := bfs.TempFile(tmpDir, tempFilePrefix)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tempFile.Close()
			_ = bfs.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	echo.IgnoreOnce(relPath)
	if err := bfs.Rename(tempPath, relPath); err != nil {
		// some platforms refuse to rename over an existing file
		if rmErr := bfs.Remove(relPath); rmErr != nil {
			return fmt.Errorf("replace %s: %w", relPath, err)
		}
		if err := bfs.Rename(tempPath, relPath); err != nil {
			return fmt.Errorf("replace %s: %w", relPath, err)
		}
	}

	success = true
	return nil
}

// ensureDir creates relPath and its missing ancestors, announcing each new one to echo
func ensureDir(bfs billy.Filesystem, relPath string, echo echoSuppressor) error {
	var missing []string
	for p := relPath; p != ""; p, _ = utils.SplitParent(p) {
		info, err := bfs.Stat(p)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("%s: %w", p, utils.ErrNotDirectory)
			}
			break
		}
		if !isNotExist(err) {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		missing = append(missing, p)
	}
	if len(missing) == 0 {
		return nil
	}

	for _, p := range missing {
		echo.IgnoreOnce(p)
	}
	if err := bfs.MkdirAll(relPath, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", relPath, err)
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// pause waits for d unless ctx ends first
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
