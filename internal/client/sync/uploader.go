package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clouddisk/cloudsync/internal/chunk"
	"github.com/clouddisk/cloudsync/internal/cloudsdk"
	"github.com/clouddisk/cloudsync/internal/utils"
	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

const (
	// files strictly smaller than this go through a single multipart upload
	DefaultSimpleUploadThreshold = 10 * 1024 * 1024
	DefaultChunkDelay            = 10 * time.Millisecond
)

// Uploader applies local change events to the remote side
type Uploader struct {
	api     RemoteAPI
	fs      billy.Filesystem
	mapping *MappingStore
	root    *RemoteRoot
	metrics *SyncMetrics

	ChunkSize  int
	ChunkDelay time.Duration
	Threshold  int64
}

func NewUploader(api RemoteAPI, fs billy.Filesystem, mapping *MappingStore, root *RemoteRoot) *Uploader {
	return &Uploader{
		api:        api,
		fs:         fs,
		mapping:    mapping,
		root:       root,
		metrics:    InitSyncMetrics(nil),
		ChunkSize:  chunk.DefaultChunkSize,
		ChunkDelay: DefaultChunkDelay,
		Threshold:  DefaultSimpleUploadThreshold,
	}
}

// Apply pushes one event. On failure the mapping is left as it was, except for deletes
// which always drop the local entry.
func (u *Uploader) Apply(ctx context.Context, ev ChangeEvent) error {
	if _, err := utils.CleanRelativePath(ev.RelPath); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidPath, ev.RelPath)
	}

	switch ev.Type {
	case ChangeDelete:
		return u.remove(ctx, ev.RelPath)
	case ChangeRename:
		return u.rename(ctx, ev)
	}

	if ev.IsDir {
		return u.createFolder(ctx, ev.RelPath)
	}
	return u.uploadFile(ctx, ev.RelPath)
}

func (u *Uploader) remove(ctx context.Context, relPath string) error {
	entry, err := u.mapping.Get(relPath)
	if err != nil {
		return err
	}
	if entry == nil {
		slog.Debug("sync", "op", OpSkipped, "reason", "not mapped", "path", relPath)
		return nil
	}

	var remoteErr error
	if !entry.IsDir {
		remoteErr = u.api.Delete(ctx, entry.RemoteID)
	}

	if entry.IsDir {
		removed, err := u.mapping.DeleteTree(relPath)
		if err != nil {
			return err
		}
		slog.Info("sync", "op", OpDeleteRemote, "path", relPath, "dir", true, "unmapped", len(removed))
	} else {
		if err := u.mapping.Delete(relPath); err != nil {
			return err
		}
		slog.Info("sync", "op", OpDeleteRemote, "path", relPath, "id", entry.RemoteID)
	}

	if remoteErr != nil {
		return fmt.Errorf("delete remote %s: %w", relPath, remoteErr)
	}
	return nil
}

func (u *Uploader) rename(ctx context.Context, ev ChangeEvent) error {
	entry, err := u.mapping.Get(ev.OldRelPath)
	if err != nil {
		return err
	}
	if entry == nil {
		slog.Debug("sync", "op", OpRenameRemote, "reason", "old path not mapped", "path", ev.RelPath)
		create := ev
		create.Type = ChangeCreate
		return u.Apply(ctx, create)
	}

	_, newName := utils.SplitParent(ev.RelPath)
	if err := u.api.Rename(ctx, entry.RemoteID, newName); err != nil {
		return fmt.Errorf("rename remote %s: %w", ev.OldRelPath, err)
	}
	if err := u.mapping.RenameTree(ev.OldRelPath, ev.RelPath); err != nil {
		return err
	}

	slog.Info("sync", "op", OpRenameRemote, "from", ev.OldRelPath, "to", ev.RelPath)
	return nil
}

func (u *Uploader) createFolder(ctx context.Context, relPath string) error {
	entry, err := u.mapping.Get(relPath)
	if err != nil {
		return err
	}
	if entry != nil && entry.IsDir {
		return nil
	}

	parentID, err := u.parentID(ctx, relPath)
	if err != nil {
		return err
	}

	_, name := utils.SplitParent(relPath)
	id, err := u.api.CreateFolder(ctx, parentID, name)
	if err != nil {
		return fmt.Errorf("create folder %s: %w", relPath, err)
	}
	if err := u.mapping.Set(relPath, id, true); err != nil {
		return err
	}

	slog.Info("sync", "op", OpCreateFolder, "path", relPath, "id", id)
	return nil
}

func (u *Uploader) uploadFile(ctx context.Context, relPath string) error {
	info, err := u.fs.Stat(relPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", relPath, err)
	}
	if info.IsDir() {
		return u.createFolder(ctx, relPath)
	}

	data, err := util.ReadFile(u.fs, relPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", relPath, err)
	}

	parentID, err := u.parentID(ctx, relPath)
	if err != nil {
		return err
	}
	_, name := utils.SplitParent(relPath)

	op := OpUploadSimple
	var nodeID string
	if int64(len(data)) < u.Threshold {
		nodeID, err = u.api.UploadSimple(ctx, parentID, name, data)
	} else {
		op = OpUploadChunked
		nodeID, err = u.uploadChunked(ctx, parentID, name, data)
	}
	if err != nil {
		return fmt.Errorf("upload %s: %w", relPath, err)
	}

	if err := u.mapping.Set(relPath, nodeID, false); err != nil {
		return err
	}

	u.metrics.UploadsTotal.WithLabelValues(op.strategy()).Inc()
	u.metrics.UploadBytes.Add(float64(len(data)))
	slog.Info("sync", "op", op, "path", relPath, "id", nodeID, "size", humanize.Bytes(uint64(len(data))))
	return nil
}

// uploadChunked sends chunks strictly in index order, one at a time
func (u *Uploader) uploadChunked(ctx context.Context, parentID, name string, data []byte) (string, error) {
	chunkSize := u.ChunkSize
	if chunkSize <= 0 {
		chunkSize = chunk.DefaultChunkSize
	}
	chunks := chunk.Split(data, chunkSize)

	sessionID, err := u.api.UploadInit(ctx, &cloudsdk.UploadInitRequest{
		ParentID:  parentID,
		Name:      name,
		Size:      int64(len(data)),
		Hash:      chunk.DigestHex(data),
		ChunkSize: chunkSize,
		Chunks:    chunk.Manifest(chunks),
	})
	if err != nil {
		return "", err
	}

	for i, c := range chunks {
		if i > 0 {
			if err := pause(ctx, u.ChunkDelay); err != nil {
				return "", err
			}
		}

		compressed, err := chunk.Compress(c.Data)
		if err != nil {
			return "", fmt.Errorf("compress chunk %d: %w", c.Index, err)
		}
		if err := u.api.UploadChunk(ctx, sessionID, c.Index, compressed, chunk.DigestHex(compressed)); err != nil {
			return "", fmt.Errorf("chunk %d/%d: %w", c.Index+1, len(chunks), err)
		}
		slog.Debug("sync", "op", OpUploadChunked, "session", sessionID, "chunk", c.Index, "compressed", humanize.Bytes(uint64(len(compressed))))
	}

	return u.api.UploadComplete(ctx, sessionID)
}

// parentID is the mapped id of the parent directory, or the remote root for top-level entries
// and parents that were never mapped
func (u *Uploader) parentID(ctx context.Context, relPath string) (string, error) {
	parent, _ := utils.SplitParent(relPath)
	if parent != "" {
		entry, err := u.mapping.Get(parent)
		if err != nil {
			return "", err
		}
		if entry != nil && entry.IsDir {
			return entry.RemoteID, nil
		}
	}
	return u.root.ID(ctx)
}
