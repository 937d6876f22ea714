package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/clouddisk/cloudsync/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

const ignoreFileName = ".syncignore"

// tempFilePrefix marks files the poller writes before renaming them into place
const tempFilePrefix = ".cloudsync-"

var defaultIgnoreLines = []string{
	// agent
	ignoreFileName,
	tempFilePrefix + "*",
	// editors
	"*.swp",
	"*.swx",
	"*~",
	".#*",
	// general
	"*.tmp",
	"*.part",
	"*.crdownload",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"$RECYCLE.BIN/",
}

type SyncIgnoreList struct {
	baseDir string
	ignore  *gitignore.GitIgnore
}

func NewSyncIgnoreList(baseDir string) *SyncIgnoreList {
	return &SyncIgnoreList{baseDir: baseDir}
}

// Load compiles the default rules plus the .syncignore file in the base dir, if any
func (s *SyncIgnoreList) Load() {
	ignorePath := filepath.Join(s.baseDir, ignoreFileName)
	ignoreLines := append([]string(nil), defaultIgnoreLines...)

	if utils.FileExists(ignorePath) {
		if lines, err := readIgnoreFile(ignorePath); err != nil {
			slog.Warn("failed to read ignore file", "path", ignorePath, "error", err)
		} else {
			ignoreLines = append(ignoreLines, lines...)
			slog.Info("loaded ignore file", "path", ignorePath, "rules", len(lines))
		}
	}

	s.ignore = gitignore.CompileIgnoreLines(ignoreLines...)
}

func readIgnoreFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// ShouldIgnore matches a slash separated path relative to the base dir
func (s *SyncIgnoreList) ShouldIgnore(relPath string) bool {
	if s.ignore == nil {
		return false
	}
	return s.ignore.MatchesPath(relPath)
}
