package cloudsdk

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/clouddisk/cloudsync/internal/chunk"
)

// envelope is the response wrapper of every json endpoint. Code 0 is success.
type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// ID is a remote node or session identity. The server may send either a string or a number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	*id = ID(b)
	return nil
}

func (id ID) String() string { return string(id) }

// Node is one entry of a folder listing
type Node struct {
	ID        ID     `json:"id"`
	Name      string `json:"name"`
	IsDir     bool   `json:"is_dir"`
	Size      int64  `json:"size,omitempty"`
	ParentID  ID     `json:"parent_id,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type ListResult struct {
	Items []Node `json:"items"`
	Total int    `json:"total,omitempty"`
	Page  int    `json:"page,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type createFolderRequest struct {
	ParentID *string `json:"parent_id"`
	Name     string  `json:"name"`
}

type createFolderResponse struct {
	ID ID `json:"id"`
}

type renameRequest struct {
	ID      string `json:"id"`
	NewName string `json:"new_name"`
}

type uploadSimpleResponse struct {
	ID ID `json:"id"`
}

// UploadInitRequest opens a chunked upload session
type UploadInitRequest struct {
	ParentID  string                `json:"parent_id"`
	Name      string                `json:"name"`
	Size      int64                 `json:"size"`
	Hash      string                `json:"hash"`
	ChunkSize int                   `json:"chunk_size"`
	Chunks    []chunk.ManifestEntry `json:"chunks"`
}

type uploadInitResponse struct {
	SessionID ID `json:"upload_session_id"`
}

type uploadCompleteRequest struct {
	SessionID string `json:"upload_session_id"`
}

type uploadCompleteResponse struct {
	NodeID ID `json:"node_id"`
}

// ChangeType of a remote change feed entry
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
)

func (t *ChangeType) UnmarshalJSON(b []byte) error {
	var s string
	if err := jsonUnmarshal(b, &s); err != nil {
		return err
	}
	*t = ParseChangeType(s)
	return nil
}

// ParseChangeType normalizes the server's change type, which is not consistently cased
func ParseChangeType(s string) ChangeType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "delete", "deleted", "remove":
		return ChangeDelete
	case "create", "created":
		return ChangeCreate
	default:
		return ChangeModify
	}
}

// Change is one entry of the remote change feed
type Change struct {
	Cursor     int64      `json:"id"`
	Path       string     `json:"path"`
	IsDir      bool       `json:"is_dir"`
	ChangeType ChangeType `json:"change_type"`
	NodeID     ID         `json:"node_id"`
	VersionID  ID         `json:"version_id,omitempty"`
}

// ChangesResult is one page of the change feed. LastID is nil when the server did not report one.
type ChangesResult struct {
	LastID  *int64   `json:"last_id"`
	Changes []Change `json:"changes"`
}
