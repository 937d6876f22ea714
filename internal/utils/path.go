package utils

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrEmptyPath    = errors.New("path cannot be empty")
	ErrOutsideRoot  = errors.New("path is outside of the root")
	ErrNotDirectory = errors.New("path is not a directory")
)

// ResolvePath expands `~` and returns a clean absolute path
func ResolvePath(p string) (string, error) {
	if p == "" {
		return "", ErrEmptyPath
	}

	if strings.HasPrefix(p, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", errors.New("failed to retrieve home directory")
		}
		p = strings.Replace(p, "~", homeDir, 1)
	}

	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	return filepath.Clean(absPath), nil
}

func EnsureParent(p string) error {
	return EnsureDir(filepath.Dir(p))
}

func EnsureDir(p string) error {
	info, err := os.Stat(p)
	if err == nil {
		if !info.IsDir() {
			return ErrNotDirectory
		}
		return nil
	}

	return os.MkdirAll(p, 0o755)
}

func DirExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func FileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// RelativePath returns fullPath relative to root, forward-slash separated.
// Returns ErrOutsideRoot when fullPath is root itself or lies outside of it.
func RelativePath(root, fullPath string) (string, error) {
	rel, err := filepath.Rel(root, fullPath)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", ErrOutsideRoot
	}
	return rel, nil
}

// CleanRelativePath normalizes a forward-slash relative path and rejects anything escaping its root
func CleanRelativePath(rel string) (string, error) {
	rel = strings.ReplaceAll(rel, "\\", "/")
	rel = strings.TrimLeft(rel, "/")
	if rel == "" {
		return "", ErrEmptyPath
	}
	cleaned := path.Clean(rel)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrOutsideRoot
	}
	return cleaned, nil
}

// SplitParent splits "a/b/c.txt" into ("a/b", "c.txt"). Top-level entries have an empty parent.
func SplitParent(rel string) (parent, name string) {
	idx := strings.LastIndex(rel, "/")
	if idx < 0 {
		return "", rel
	}
	return rel[:idx], rel[idx+1:]
}

// IsSubPath reports whether p is equal to or nested under root
func IsSubPath(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
