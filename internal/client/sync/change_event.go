package sync

import (
	"fmt"
	"time"
)

// ChangeType classifies a local change after the debounce window closed
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
	ChangeRename ChangeType = "rename"
)

// RawEventKind is the coarse kind reported by the os watch
type RawEventKind int

const (
	RawModify RawEventKind = iota
	RawRenameLike
)

func (k RawEventKind) String() string {
	if k == RawModify {
		return "modify"
	}
	return "rename-like"
}

// RawEvent is one notification from the os, relative to the watched root
type RawEvent struct {
	Kind       RawEventKind
	Name       string
	RelPath    string
	FullPath   string
	ObservedAt time.Time

	// moved is set for move-in and move-out notifications, used to pair renames
	moved bool
}

// ChangeEvent is a raw event re-probed against the filesystem at flush time
type ChangeEvent struct {
	Type        ChangeType `json:"type"`
	RelPath     string     `json:"path"`
	FullPath    string     `json:"-"`
	OldRelPath  string     `json:"oldPath,omitempty"`
	OldFullPath string     `json:"-"`
	IsDir       bool       `json:"isDir"`
	Exists      bool       `json:"exists"`
}

func (e ChangeEvent) String() string {
	if e.Type == ChangeRename {
		return fmt.Sprintf("%s %s -> %s", e.Type, e.OldRelPath, e.RelPath)
	}
	return fmt.Sprintf("%s %s (dir=%t)", e.Type, e.RelPath, e.IsDir)
}
