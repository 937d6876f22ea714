package sync

import (
	"context"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/clouddisk/cloudsync/internal/utils"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rjeczalik/notify"
)

const (
	DefaultDebounceTimeout = 500 * time.Millisecond
	DefaultIgnoreTimeout   = 5 * time.Second
	eventBufferSize        = 256
)

// FilterCallback returns true if the relative path should be dropped before debouncing
type FilterCallback func(relPath string) bool

// FileWatcher turns recursive os notifications into debounced batches of ChangeEvent.
// A single goroutine owns the pending buffer and the debounce timer.
type FileWatcher struct {
	watchDir string
	realDir  string
	fs       billy.Filesystem

	debounceTimeout time.Duration
	ignoreTimeout   time.Duration

	rawEvents chan notify.EventInfo
	batches   chan []ChangeEvent
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	watching  bool

	ignore   map[string]time.Time
	ignoreMu sync.Mutex

	filter   FilterCallback
	filterMu sync.RWMutex
}

// NewFileWatcher watches watchDir. fs must be rooted at watchDir and is used to probe paths at flush time.
func NewFileWatcher(watchDir string, fs billy.Filesystem) *FileWatcher {
	return &FileWatcher{
		watchDir:        watchDir,
		realDir:         watchDir,
		fs:              fs,
		debounceTimeout: DefaultDebounceTimeout,
		ignoreTimeout:   DefaultIgnoreTimeout,
		rawEvents:       make(chan notify.EventInfo, eventBufferSize),
		batches:         make(chan []ChangeEvent),
		done:            make(chan struct{}),
		ignore:          make(map[string]time.Time),
	}
}

// SetDebounceTimeout must be called before Start
func (fw *FileWatcher) SetDebounceTimeout(timeout time.Duration) {
	fw.debounceTimeout = timeout
}

// FilterPaths sets a callback to drop raw events before debouncing
func (fw *FileWatcher) FilterPaths(callback FilterCallback) {
	fw.filterMu.Lock()
	defer fw.filterMu.Unlock()
	fw.filter = callback
}

func (fw *FileWatcher) Start(ctx context.Context) error {
	slog.Info("file watcher start", "dir", fw.watchDir)

	// notify reports resolved paths, e.g. /private/var on macos
	if resolved, err := filepath.EvalSymlinks(fw.watchDir); err == nil {
		fw.realDir = resolved
	}

	recursivePath := filepath.Join(fw.realDir, "...")
	if err := notify.Watch(recursivePath, fw.rawEvents, notify.Create, notify.Remove, notify.Write, notify.Rename); err != nil {
		return err
	}
	fw.watching = true

	fw.startLoop(ctx)
	return nil
}

func (fw *FileWatcher) startLoop(ctx context.Context) {
	fw.wg.Add(1)
	go fw.run(ctx)
}

// Stop ends the watch and discards pending events. Safe to call more than once.
func (fw *FileWatcher) Stop() {
	fw.stopOnce.Do(func() {
		slog.Info("file watcher stopping")
		close(fw.done)
		if fw.watching {
			notify.Stop(fw.rawEvents)
		}
		fw.wg.Wait()
		slog.Info("file watcher stopped")
	})
}

// Batches delivers one slice per closed debounce window. Closed when the watcher stops.
func (fw *FileWatcher) Batches() <-chan []ChangeEvent {
	return fw.batches
}

// IgnoreOnce drops the next change for relPath within the default timeout
func (fw *FileWatcher) IgnoreOnce(relPath string) {
	fw.IgnoreOnceWithTimeout(relPath, fw.ignoreTimeout)
}

func (fw *FileWatcher) IgnoreOnceWithTimeout(relPath string, timeout time.Duration) {
	fw.ignoreMu.Lock()
	defer fw.ignoreMu.Unlock()
	fw.ignore[relPath] = time.Now().Add(timeout)
}

// consumeIgnore reports whether relPath was requested to be ignored, and forgets it
func (fw *FileWatcher) consumeIgnore(relPath string) bool {
	fw.ignoreMu.Lock()
	defer fw.ignoreMu.Unlock()

	now := time.Now()
	for p, expiry := range fw.ignore {
		if now.After(expiry) {
			delete(fw.ignore, p)
		}
	}

	if _, ok := fw.ignore[relPath]; ok {
		delete(fw.ignore, relPath)
		return true
	}
	return false
}

func (fw *FileWatcher) filtered(relPath string) bool {
	fw.filterMu.RLock()
	defer fw.filterMu.RUnlock()
	return fw.filter != nil && fw.filter(relPath)
}

func (fw *FileWatcher) run(ctx context.Context) {
	defer fw.wg.Done()
	defer close(fw.batches)

	var (
		pending []RawEvent
		ready   [][]ChangeEvent
		timerC  <-chan time.Time
	)
	timer := time.NewTimer(fw.debounceTimeout)
	timer.Stop()
	defer timer.Stop()

	for {
		// only offer a batch when one is ready, so the loop never blocks on a slow consumer
		var out chan<- []ChangeEvent
		var next []ChangeEvent
		if len(ready) > 0 {
			out = fw.batches
			next = ready[0]
		}

		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return

		case ev, ok := <-fw.rawEvents:
			if !ok {
				return
			}
			raw, keep := fw.toRaw(ev)
			if !keep {
				continue
			}
			pending = append(pending, raw)
			timer.Reset(fw.debounceTimeout)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			batch := fw.flush(pending)
			pending = nil
			if len(batch) > 0 {
				ready = append(ready, batch)
			}

		case out <- next:
			ready = ready[1:]
		}
	}
}

func (fw *FileWatcher) toRaw(ev notify.EventInfo) (RawEvent, bool) {
	fullPath := ev.Path()
	rel, err := utils.RelativePath(fw.realDir, fullPath)
	if err != nil {
		// the root itself, or a path reported outside of it
		return RawEvent{}, false
	}
	if fw.filtered(rel) {
		return RawEvent{}, false
	}

	kind := RawRenameLike
	if ev.Event() == notify.Write {
		kind = RawModify
	}

	return RawEvent{
		Kind:       kind,
		Name:       path.Base(rel),
		RelPath:    rel,
		FullPath:   fw.fullPath(rel),
		ObservedAt: time.Now(),
		moved:      ev.Event() == notify.Rename,
	}, true
}

func (fw *FileWatcher) fullPath(rel string) string {
	return filepath.Join(fw.watchDir, filepath.FromSlash(rel))
}

type collapsedEvent struct {
	relPath    string
	renameLike bool
	moved      bool
}

// flush collapses the window's raw events per path, keeping the position of the first
// occurrence, then classifies each path by probing the filesystem now
func (fw *FileWatcher) flush(pending []RawEvent) []ChangeEvent {
	if len(pending) == 0 {
		return nil
	}

	order := make([]*collapsedEvent, 0, len(pending))
	byPath := make(map[string]*collapsedEvent, len(pending))
	for _, raw := range pending {
		c, ok := byPath[raw.RelPath]
		if !ok {
			c = &collapsedEvent{relPath: raw.RelPath}
			byPath[raw.RelPath] = c
			order = append(order, c)
		}
		c.renameLike = c.renameLike || raw.Kind == RawRenameLike
		c.moved = c.moved || raw.moved
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	events := make([]ChangeEvent, 0, len(order))
	moved := make([]bool, 0, len(order))
	for _, c := range order {
		seen.Add(c.relPath)
		if fw.consumeIgnore(c.relPath) {
			slog.Debug("file watcher ignored once", "path", c.relPath)
			continue
		}
		events = append(events, fw.probe(c))
		moved = append(moved, c.moved)
	}

	events = pairRenames(events, moved)
	events = fw.expandCreatedDirs(events, seen)

	slog.Debug("file watcher flush", "raw", len(pending), "events", len(events))
	return events
}

func (fw *FileWatcher) probe(c *collapsedEvent) ChangeEvent {
	ev := ChangeEvent{
		RelPath:  c.relPath,
		FullPath: fw.fullPath(c.relPath),
	}

	info, err := fw.fs.Stat(c.relPath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("file watcher probe failed", "path", c.relPath, "error", err)
		}
		ev.Type = ChangeDelete
		return ev
	}

	ev.Exists = true
	ev.IsDir = info.IsDir()
	if c.renameLike {
		ev.Type = ChangeCreate
	} else {
		ev.Type = ChangeModify
	}
	return ev
}

// pairRenames folds a vanished moved path immediately followed by an appeared moved path
// in the same parent directory into one rename
func pairRenames(events []ChangeEvent, moved []bool) []ChangeEvent {
	out := make([]ChangeEvent, 0, len(events))
	for i := 0; i < len(events); i++ {
		cur := events[i]
		if i+1 < len(events) && moved[i] && moved[i+1] {
			next := events[i+1]
			curParent, _ := utils.SplitParent(cur.RelPath)
			nextParent, _ := utils.SplitParent(next.RelPath)
			if !cur.Exists && next.Exists && curParent == nextParent {
				out = append(out, ChangeEvent{
					Type:        ChangeRename,
					RelPath:     next.RelPath,
					FullPath:    next.FullPath,
					OldRelPath:  cur.RelPath,
					OldFullPath: cur.FullPath,
					IsDir:       next.IsDir,
					Exists:      true,
				})
				i++
				continue
			}
		}
		out = append(out, cur)
	}
	return out
}

// expandCreatedDirs adds entries already inside a newly created directory. They can appear
// before the recursive watch covers the directory and would otherwise never be reported.
func (fw *FileWatcher) expandCreatedDirs(events []ChangeEvent, seen mapset.Set[string]) []ChangeEvent {
	out := make([]ChangeEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, ev)
		if ev.Type != ChangeCreate || !ev.IsDir {
			continue
		}

		_ = util.Walk(fw.fs, ev.RelPath, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			rel := filepath.ToSlash(p)
			if rel == ev.RelPath || seen.Contains(rel) {
				return nil
			}
			if fw.filtered(rel) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			seen.Add(rel)
			out = append(out, ChangeEvent{
				Type:     ChangeCreate,
				RelPath:  rel,
				FullPath: fw.fullPath(rel),
				IsDir:    info.IsDir(),
				Exists:   true,
			})
			return nil
		})
	}
	return out
}
