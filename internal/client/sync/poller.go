package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clouddisk/cloudsync/internal/cloudsdk"
	"github.com/clouddisk/cloudsync/internal/queue"
	"github.com/clouddisk/cloudsync/internal/utils"
	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

const (
	DefaultPageSize   = cloudsdk.DefaultPageSize
	DefaultApplyDelay = 50 * time.Millisecond
)

// PollResult summarizes one pass over the change feed
type PollResult struct {
	Applied  int
	Skipped  int
	Cursor   *int64
	Advanced bool
}

// Poller replays the remote change feed onto the local sync dir
type Poller struct {
	api     RemoteAPI
	fs      billy.Filesystem
	mapping *MappingStore
	cursor  *CursorStore
	root    *RemoteRoot
	echo    echoSuppressor
	metrics *SyncMetrics

	PageSize   int
	ApplyDelay time.Duration
}

func NewPoller(api RemoteAPI, fs billy.Filesystem, mapping *MappingStore, cursor *CursorStore, root *RemoteRoot) *Poller {
	return &Poller{
		api:        api,
		fs:         fs,
		mapping:    mapping,
		cursor:     cursor,
		root:       root,
		echo:       noopEcho{},
		metrics:    InitSyncMetrics(nil),
		PageSize:   DefaultPageSize,
		ApplyDelay: DefaultApplyDelay,
	}
}

// SetEcho registers the watcher so local writes made by the poller are not uploaded back
func (p *Poller) SetEcho(echo echoSuppressor) {
	if echo == nil {
		echo = noopEcho{}
	}
	p.echo = echo
}

// PollOnce fetches one page since the persisted cursor and applies it in ascending cursor order.
// The cursor is persisted only after the whole page applied; on error nothing is advanced.
func (p *Poller) PollOnce(ctx context.Context) (*PollResult, error) {
	start := time.Now()
	defer func() {
		p.metrics.PollDuration.Observe(time.Since(start).Seconds())
	}()

	since, err := p.cursor.Cursor()
	if err != nil {
		return nil, err
	}

	page, err := p.api.ChangesSince(ctx, since, p.PageSize)
	if err != nil {
		return nil, fmt.Errorf("fetch changes: %w", err)
	}

	res := &PollResult{Cursor: since}
	if len(page.Changes) == 0 {
		// the feed may move the cursor without changes after compaction
		if page.LastID != nil && (since == nil || *since != *page.LastID) {
			if err := p.advance(*page.LastID, res); err != nil {
				return res, err
			}
		}
		return res, nil
	}

	pq := queue.NewPriorityQueue[cloudsdk.Change]()
	for _, change := range page.Changes {
		pq.Enqueue(change, change.Cursor)
	}
	ordered := pq.DequeueAll()

	var maxCursor int64
	for i, change := range ordered {
		if i > 0 {
			if err := pause(ctx, p.ApplyDelay); err != nil {
				return res, err
			}
		} else if err := ctx.Err(); err != nil {
			return res, err
		}

		// a started change runs to completion even if ctx ends meanwhile
		applied, err := p.apply(context.WithoutCancel(ctx), change)
		if err != nil {
			p.metrics.ErrorsTotal.WithLabelValues("remote").Inc()
			return res, fmt.Errorf("apply change %d (%s %s): %w", change.Cursor, change.ChangeType, change.Path, err)
		}
		if applied {
			res.Applied++
		} else {
			res.Skipped++
		}
		maxCursor = max(maxCursor, change.Cursor)
	}

	next := maxCursor
	if page.LastID != nil {
		next = *page.LastID
	}
	if since == nil || *since != next {
		if err := p.advance(next, res); err != nil {
			return res, err
		}
	}

	slog.Info("sync poll", "applied", res.Applied, "skipped", res.Skipped, "cursor", next)
	return res, nil
}

func (p *Poller) advance(next int64, res *PollResult) error {
	if err := p.cursor.SetCursor(next); err != nil {
		return err
	}
	res.Cursor = &next
	res.Advanced = true
	p.metrics.Cursor.Set(float64(next))
	return nil
}

// apply replays one change. false means the change was skipped.
func (p *Poller) apply(ctx context.Context, change cloudsdk.Change) (bool, error) {
	relPath, ok := p.localPath(change.Path)
	if !ok {
		slog.Warn("sync", "op", OpSkipped, "reason", "outside sync root", "remotePath", change.Path, "cursor", change.Cursor)
		p.metrics.RemoteSkipped.Inc()
		return false, nil
	}

	var err error
	switch {
	case change.ChangeType == cloudsdk.ChangeDelete:
		err = p.deleteLocal(relPath)
	case change.IsDir:
		err = p.mkdirLocal(relPath, change.NodeID.String())
	default:
		err = p.writeLocal(ctx, relPath, change)
		if cloudsdk.IsNotFound(err) {
			// gone since the change was recorded, a later delete in the feed settles the path
			slog.Warn("sync", "op", OpSkipped, "reason", "remote node gone", "path", relPath, "id", change.NodeID, "cursor", change.Cursor)
			p.metrics.RemoteSkipped.Inc()
			return false, nil
		}
	}
	if err != nil {
		return false, err
	}

	p.metrics.RemoteApplied.WithLabelValues(string(change.ChangeType)).Inc()
	return true, nil
}

// localPath strips the remote root prefix. Paths outside the root, the root itself,
// and paths escaping it after cleaning are rejected.
func (p *Poller) localPath(remotePath string) (string, bool) {
	prefix := p.root.Prefix() + "/"

	remotePath = strings.ReplaceAll(remotePath, "\\", "/")
	if !strings.HasPrefix(remotePath, "/") {
		remotePath = "/" + remotePath
	}
	if !strings.HasPrefix(remotePath, prefix) {
		return "", false
	}

	relPath, err := utils.CleanRelativePath(strings.TrimPrefix(remotePath, prefix))
	if err != nil {
		return "", false
	}
	return relPath, true
}

func (p *Poller) deleteLocal(relPath string) error {
	_, err := p.fs.Stat(relPath)
	switch {
	case err == nil:
		mapped, treeErr := p.mapping.Tree(relPath)
		if treeErr != nil {
			return treeErr
		}
		p.echo.IgnoreOnce(relPath)
		for _, key := range mapped {
			if key != relPath {
				p.echo.IgnoreOnce(key)
			}
		}
		if err := util.RemoveAll(p.fs, relPath); err != nil {
			return fmt.Errorf("remove %s: %w", relPath, err)
		}
	case !isNotExist(err):
		return fmt.Errorf("stat %s: %w", relPath, err)
	}

	if _, err := p.mapping.DeleteTree(relPath); err != nil {
		return err
	}
	slog.Info("sync", "op", OpDeleteLocal, "path", relPath)
	return nil
}

func (p *Poller) mkdirLocal(relPath, nodeID string) error {
	if err := ensureDir(p.fs, relPath, p.echo); err != nil {
		return err
	}
	if err := p.mapping.Set(relPath, nodeID, true); err != nil {
		return err
	}
	slog.Info("sync", "op", OpMkdirLocal, "path", relPath, "id", nodeID)
	return nil
}

func (p *Poller) writeLocal(ctx context.Context, relPath string, change cloudsdk.Change) error {
	data, err := p.api.Download(ctx, change.NodeID.String(), change.VersionID.String())
	if err != nil {
		return fmt.Errorf("download %s: %w", relPath, err)
	}

	if err := writeFileAtomic(p.fs, relPath, data, p.echo); err != nil {
		return err
	}
	if err := p.mapping.Set(relPath, change.NodeID.String(), false); err != nil {
		return err
	}

	p.metrics.DownloadBytes.Add(float64(len(data)))
	slog.Info("sync", "op", OpWriteLocal, "path", relPath, "id", change.NodeID, "size", humanize.Bytes(uint64(len(data))))
	return nil
}
