package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/clouddisk/cloudsync/internal/chunk"
	"github.com/clouddisk/cloudsync/internal/kvstore"
	"github.com/clouddisk/cloudsync/internal/utils"
	"github.com/go-git/go-billy/v5/osfs"
)

var (
	ErrNoSyncRoot     = errors.New("no sync directory configured")
	ErrAlreadyRunning = errors.New("sync already running")
	ErrNotRunning     = errors.New("sync not running")
	ErrInvalidPath    = errors.New("invalid path")
)

const DefaultPollInterval = 30 * time.Minute

type ManagerOption func(*SyncManager)

func WithSyncDir(dir string) ManagerOption {
	return func(m *SyncManager) { m.syncDir = dir }
}

func WithRemoteRoot(name string) ManagerOption {
	return func(m *SyncManager) { m.remoteRoot = name }
}

func WithPollInterval(d time.Duration) ManagerOption {
	return func(m *SyncManager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

func WithPageSize(n int) ManagerOption {
	return func(m *SyncManager) {
		if n > 0 {
			m.pageSize = n
		}
	}
}

// WithPacing sets the delay between uploaded chunks and between applied remote changes
func WithPacing(chunkDelay, applyDelay time.Duration) ManagerOption {
	return func(m *SyncManager) {
		m.chunkDelay = chunkDelay
		m.applyDelay = applyDelay
	}
}

func WithDebounce(d time.Duration) ManagerOption {
	return func(m *SyncManager) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// WithUploadLimits sets the chunk size and the size from which uploads are chunked
func WithUploadLimits(chunkSize int, threshold int64) ManagerOption {
	return func(m *SyncManager) {
		if chunkSize > 0 {
			m.chunkSize = chunkSize
		}
		if threshold > 0 {
			m.threshold = threshold
		}
	}
}

// SyncManager runs the two sync directions against one sync dir.
// Every unit of change, local or remote, is applied under applyMu.
type SyncManager struct {
	api RemoteAPI

	syncDir      string
	remoteRoot   string
	pollInterval time.Duration
	pageSize     int
	chunkDelay   time.Duration
	applyDelay   time.Duration
	debounce     time.Duration
	chunkSize    int
	threshold    int64

	mapping *MappingStore
	cursor  *CursorStore
	root    *RemoteRoot
	status  *SyncStatus
	metrics *SyncMetrics

	mu       sync.Mutex
	runCtx   context.Context
	cancel   context.CancelFunc
	watcher  *FileWatcher
	poller   *Poller
	loopDone chan struct{}

	applyMu sync.Mutex
}

func NewManager(api RemoteAPI, store kvstore.Store, opts ...ManagerOption) *SyncManager {
	m := &SyncManager{
		api:          api,
		remoteRoot:   DefaultRemoteRoot,
		pollInterval: DefaultPollInterval,
		pageSize:     DefaultPageSize,
		chunkDelay:   DefaultChunkDelay,
		applyDelay:   DefaultApplyDelay,
		debounce:     DefaultDebounceTimeout,
		chunkSize:    chunk.DefaultChunkSize,
		threshold:    DefaultSimpleUploadThreshold,
		mapping:      NewMappingStore(store),
		cursor:       NewCursorStore(store),
		status:       NewSyncStatus(),
		metrics:      InitSyncMetrics(nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.root = NewRemoteRoot(api, m.remoteRoot)
	return m
}

// Start is a no-op returning the current status when already running.
// Setup failures move the manager to the Error state and are returned.
func (m *SyncManager) Start(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return m.status.Snapshot(), nil
	}

	if m.syncDir == "" {
		m.status.SetError(ErrNoSyncRoot, true)
		return m.status.Snapshot(), ErrNoSyncRoot
	}

	slog.Info("sync manager start", "dir", m.syncDir, "remoteRoot", m.root.Name())
	m.status.SetState(StateStarting, m.syncDir)

	syncDir, err := prepareSyncDir(m.syncDir)
	if err != nil {
		m.status.SetError(err, true)
		return m.status.Snapshot(), err
	}

	bfs := osfs.New(syncDir)

	ignore := NewSyncIgnoreList(syncDir)
	ignore.Load()

	watcher := NewFileWatcher(syncDir, bfs)
	watcher.SetDebounceTimeout(m.debounce)
	watcher.FilterPaths(ignore.ShouldIgnore)

	uploader := NewUploader(m.api, bfs, m.mapping, m.root)
	uploader.ChunkSize = m.chunkSize
	uploader.ChunkDelay = m.chunkDelay
	uploader.Threshold = m.threshold

	poller := NewPoller(m.api, bfs, m.mapping, m.cursor, m.root)
	poller.PageSize = m.pageSize
	poller.ApplyDelay = m.applyDelay
	poller.SetEcho(watcher)

	// the run loop outlives the caller's request context
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := watcher.Start(runCtx); err != nil {
		cancel()
		err = fmt.Errorf("start watcher: %w", err)
		m.status.SetError(err, true)
		return m.status.Snapshot(), err
	}

	if cur, err := m.cursor.Cursor(); err != nil {
		slog.Warn("sync manager cursor", "error", err)
	} else {
		m.status.SetCursor(cur)
	}

	done := make(chan struct{})
	go m.run(runCtx, watcher, uploader, poller, done)

	m.runCtx = runCtx
	m.cancel = cancel
	m.watcher = watcher
	m.poller = poller
	m.loopDone = done

	m.status.ClearError()
	m.status.SetState(StateRunning, syncDir)
	return m.status.Snapshot(), nil
}

// Stop cancels the watcher and the poll timer. Pending local events are dropped,
// a unit of change already being applied finishes first.
func (m *SyncManager) Stop() Status {
	m.mu.Lock()
	cancel, watcher, done := m.cancel, m.watcher, m.loopDone
	m.runCtx, m.cancel, m.watcher, m.poller, m.loopDone = nil, nil, nil, nil, nil
	m.mu.Unlock()

	if cancel == nil {
		if m.status.Snapshot().State != StateStopped {
			m.status.SetState(StateStopped, "")
		}
		return m.status.Snapshot()
	}

	slog.Info("sync manager stop")
	cancel()
	watcher.Stop()
	<-done

	m.status.SetState(StateStopped, "")
	return m.status.Snapshot()
}

// TriggerPollNow runs one poll immediately, serialized with every other unit of change.
// The poll is bound to the sync run, not to ctx: a caller giving up does not abandon
// a page half way, Stop does.
func (m *SyncManager) TriggerPollNow(ctx context.Context) (*PollResult, error) {
	m.mu.Lock()
	poller, runCtx := m.poller, m.runCtx
	m.mu.Unlock()

	if poller == nil {
		return nil, ErrNotRunning
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	return m.poll(pollCtx, poller)
}

func (m *SyncManager) GetStatus() Status {
	return m.status.Snapshot()
}

func (m *SyncManager) Subscribe() <-chan *SyncEvent {
	return m.status.Subscribe()
}

func (m *SyncManager) Unsubscribe(ch <-chan *SyncEvent) {
	m.status.Unsubscribe(ch)
}

// Mapping returns a copy of the path mapping table
func (m *SyncManager) Mapping() (map[string]MappingEntry, error) {
	return m.mapping.All()
}

// Close stops syncing and releases subscribers
func (m *SyncManager) Close() {
	m.Stop()
	m.status.Close()
}

func (m *SyncManager) run(ctx context.Context, watcher *FileWatcher, uploader *Uploader, poller *Poller, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(m.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case batch, ok := <-watcher.Batches():
			if !ok {
				return
			}
			m.handleBatch(ctx, uploader, batch)

		case <-timer.C:
			_, _ = m.poll(ctx, poller)
			timer.Reset(m.pollInterval)
		}
	}
}

// handleBatch pushes events in order. A failed event is recorded and the batch goes on.
func (m *SyncManager) handleBatch(ctx context.Context, uploader *Uploader, batch []ChangeEvent) {
	m.status.LocalBatch(batch)
	m.metrics.BatchSize.Observe(float64(len(batch)))

	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	for _, ev := range batch {
		if ctx.Err() != nil {
			slog.Debug("sync manager batch dropped", "remaining", len(batch))
			return
		}

		m.metrics.LocalEvents.WithLabelValues(string(ev.Type)).Inc()
		if err := uploader.Apply(context.WithoutCancel(ctx), ev); err != nil {
			slog.Error("sync", "op", OpError, "event", ev.String(), "error", err)
			m.metrics.ErrorsTotal.WithLabelValues("local").Inc()
			m.status.SetError(err, false)
		}
	}
	m.updateMappingGauge()
}

func (m *SyncManager) poll(ctx context.Context, poller *Poller) (*PollResult, error) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	res, err := poller.PollOnce(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			slog.Debug("sync poll cancelled", "error", err)
			return res, err
		}
		slog.Error("sync poll", "error", err)
		m.status.SetError(err, false)
		return res, err
	}

	m.status.RemoteSynced(res.Cursor, res.Advanced)
	m.updateMappingGauge()
	return res, nil
}

func (m *SyncManager) updateMappingGauge() {
	if all, err := m.mapping.All(); err == nil {
		m.metrics.MappingEntries.Set(float64(len(all)))
	}
}

// prepareSyncDir resolves dir, creates it when absent and checks it can be listed
func prepareSyncDir(dir string) (string, error) {
	resolved, err := utils.ResolvePath(dir)
	if err != nil {
		return "", fmt.Errorf("resolve sync dir: %w", err)
	}
	if err := utils.EnsureDir(resolved); err != nil {
		return "", fmt.Errorf("create sync dir: %w", err)
	}
	if _, err := os.ReadDir(resolved); err != nil {
		return "", fmt.Errorf("read sync dir: %w", err)
	}
	return resolved, nil
}
