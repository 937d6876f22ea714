package sync

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/clouddisk/cloudsync/internal/cloudsdk"
)

// DefaultRemoteRoot is the folder in the account root that mirrors the sync dir
const DefaultRemoteRoot = "SyncRoot"

// RemoteAPI is the slice of the cloud disk api the sync engine consumes
type RemoteAPI interface {
	List(ctx context.Context, parentID string, page, limit int) (*cloudsdk.ListResult, error)
	CreateFolder(ctx context.Context, parentID, name string) (string, error)
	EnsureFolder(ctx context.Context, parentID, name string) (string, error)
	Rename(ctx context.Context, id, newName string) error
	Delete(ctx context.Context, id string) error
	UploadSimple(ctx context.Context, parentID, name string, data []byte) (string, error)
	UploadInit(ctx context.Context, params *cloudsdk.UploadInitRequest) (string, error)
	UploadChunk(ctx context.Context, sessionID string, index int, compressed []byte, digest string) error
	UploadComplete(ctx context.Context, sessionID string) (string, error)
	Download(ctx context.Context, nodeID, versionID string) ([]byte, error)
	ChangesSince(ctx context.Context, cursor *int64, limit int) (*cloudsdk.ChangesResult, error)
}

var _ RemoteAPI = (*cloudsdk.Client)(nil)

// RemoteRoot resolves the remote sync root folder once per process
type RemoteRoot struct {
	api  RemoteAPI
	name string

	mu sync.Mutex
	id string
}

func NewRemoteRoot(api RemoteAPI, name string) *RemoteRoot {
	name = strings.Trim(name, "/")
	if name == "" {
		name = DefaultRemoteRoot
	}
	return &RemoteRoot{api: api, name: name}
}

func (r *RemoteRoot) Name() string {
	return r.name
}

// Prefix is the remote path of the root as it appears in the change feed
func (r *RemoteRoot) Prefix() string {
	return "/" + r.name
}

// ID finds or creates the root folder. Failures are not cached.
func (r *RemoteRoot) ID(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.id != "" {
		return r.id, nil
	}

	id, err := r.api.EnsureFolder(ctx, "", r.name)
	if err != nil {
		return "", fmt.Errorf("resolve remote root %q: %w", r.name, err)
	}
	r.id = id
	return id, nil
}
