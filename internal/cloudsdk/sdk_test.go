package cloudsdk_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clouddisk/cloudsync/internal/chunk"
	"github.com/clouddisk/cloudsync/internal/cloudsdk"
	"github.com/clouddisk/cloudsync/internal/cloudsdk/cloudsdktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, srv *cloudsdktest.Server) *cloudsdk.Client {
	t.Helper()
	c, err := cloudsdk.New(srv.Config())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestClient_FolderLifecycle(t *testing.T) {
	srv := cloudsdktest.NewServer(t)
	c := newClient(t, srv)
	ctx := context.Background()

	rootID, err := c.EnsureFolder(ctx, "", "SyncRoot")
	require.NoError(t, err)
	assert.NotEmpty(t, rootID)

	// second call finds the existing folder
	again, err := c.EnsureFolder(ctx, "", "SyncRoot")
	require.NoError(t, err)
	assert.Equal(t, rootID, again)
	assert.Equal(t, 1, srv.Calls("fs mkdir"))

	docsID, err := c.CreateFolder(ctx, rootID, "docs")
	require.NoError(t, err)

	list, err := c.List(ctx, rootID, 1, 10)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "docs", list.Items[0].Name)
	assert.True(t, list.Items[0].IsDir)

	require.NoError(t, c.Rename(ctx, docsID, "papers"))
	_, found := srv.NodeByPath("/SyncRoot/papers")
	assert.True(t, found)

	require.NoError(t, c.Delete(ctx, docsID))
	_, found = srv.NodeByPath("/SyncRoot/papers")
	assert.False(t, found)
}

func TestClient_EnsureFolder_Paginates(t *testing.T) {
	srv := cloudsdktest.NewServer(t)
	c := newClient(t, srv)

	for i := 0; i < cloudsdk.DefaultPageSize; i++ {
		srv.Mkdir("", fmt.Sprintf("aa-%03d", i))
	}
	want := srv.Mkdir("", "zz-SyncRoot")

	id, err := c.EnsureFolder(context.Background(), "", "zz-SyncRoot")
	require.NoError(t, err)
	assert.Equal(t, want, id)
	assert.Equal(t, 2, srv.Calls("fs list"))
	assert.Equal(t, 0, srv.Calls("fs mkdir"))
}

func TestClient_UploadSimpleAndDownload(t *testing.T) {
	srv := cloudsdktest.NewServer(t)
	c := newClient(t, srv)
	ctx := context.Background()

	rootID := srv.Mkdir("", "SyncRoot")
	content := []byte("hello from the sync agent")

	id, err := c.UploadSimple(ctx, rootID, "notes.txt", content)
	require.NoError(t, err)

	node, found := srv.NodeByPath("/SyncRoot/notes.txt")
	require.True(t, found)
	assert.Equal(t, id, node.ID)

	got, err := c.Download(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	srv.PutVersion(id, "v1", []byte("older"))
	got, err = c.Download(ctx, id, "v1")
	require.NoError(t, err)
	assert.Equal(t, "older", string(got))

	stats := c.Stats()
	assert.GreaterOrEqual(t, stats.Requests, int64(3))
	assert.Greater(t, stats.BytesSent, int64(0))
}

func TestClient_ChunkedUploadRoundTrip(t *testing.T) {
	srv := cloudsdktest.NewServer(t)
	c := newClient(t, srv)
	ctx := context.Background()
	rootID := srv.Mkdir("", "SyncRoot")

	data := make([]byte, 2*1024*1024+17)
	_, err := rand.Read(data)
	require.NoError(t, err)

	const size = 1024 * 1024
	chunks := chunk.Split(data, size)
	sessionID, err := c.UploadInit(ctx, &cloudsdk.UploadInitRequest{
		ParentID:  rootID,
		Name:      "big.bin",
		Size:      int64(len(data)),
		Hash:      chunk.DigestHex(data),
		ChunkSize: size,
		Chunks:    chunk.Manifest(chunks),
	})
	require.NoError(t, err)

	for _, ch := range chunks {
		z, err := chunk.Compress(ch.Data)
		require.NoError(t, err)
		require.NoError(t, c.UploadChunk(ctx, sessionID, ch.Index, z, chunk.DigestHex(z)))
	}

	nodeID, err := c.UploadComplete(ctx, sessionID)
	require.NoError(t, err)

	got, err := c.Download(ctx, nodeID, "")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestClient_UploadChunk_HashMismatchIsAPIError(t *testing.T) {
	srv := cloudsdktest.NewServer(t)
	c := newClient(t, srv)
	ctx := context.Background()

	data := []byte("abc")
	sessionID, err := c.UploadInit(ctx, &cloudsdk.UploadInitRequest{
		Name: "a.bin", Size: 3, Hash: chunk.DigestHex(data), ChunkSize: 4,
		Chunks: chunk.Manifest(chunk.Split(data, 4)),
	})
	require.NoError(t, err)

	z, err := chunk.Compress(data)
	require.NoError(t, err)
	err = c.UploadChunk(ctx, sessionID, 0, z, "deadbeef")

	var apiErr *cloudsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, cloudsdktest.CodeHashMismatch, apiErr.Code)
	assert.False(t, cloudsdk.IsTransportError(err))
}

func TestClient_ChangesSince(t *testing.T) {
	srv := cloudsdktest.NewServer(t)
	c := newClient(t, srv)
	ctx := context.Background()

	srv.AddChange(cloudsdktest.WireChange{ID: 1, Path: "/SyncRoot/a", IsDir: true, ChangeType: "CREATE", NodeID: "N9"})
	srv.AddChange(cloudsdktest.WireChange{ID: 2, Path: "/SyncRoot/a/b.txt", ChangeType: "MODIFY", NodeID: "N10"})
	srv.AddChange(cloudsdktest.WireChange{ID: 3, Path: "/SyncRoot/old.txt", ChangeType: "DELETE", NodeID: "N11"})

	res, err := c.ChangesSince(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, res.Changes, 2)
	require.NotNil(t, res.LastID)
	assert.Equal(t, int64(2), *res.LastID)
	assert.Equal(t, cloudsdk.ChangeCreate, res.Changes[0].ChangeType)

	cursor := int64(2)
	res, err = c.ChangesSince(ctx, &cursor, 100)
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, cloudsdk.ChangeDelete, res.Changes[0].ChangeType)

	cursor = 3
	res, err = c.ChangesSince(ctx, &cursor, 100)
	require.NoError(t, err)
	assert.Empty(t, res.Changes)
	require.NotNil(t, res.LastID)
	assert.Equal(t, int64(3), *res.LastID)
}

func TestClient_ErrorClassification(t *testing.T) {
	srv := cloudsdktest.NewServer(t)
	c := newClient(t, srv)
	ctx := context.Background()

	t.Run("in-band code is an api error", func(t *testing.T) {
		srv.FailNext("fs mkdir", cloudsdktest.CodeConflict, "name already exists")
		_, err := c.CreateFolder(ctx, "", "x")
		assert.True(t, cloudsdk.IsAPIError(err))
		assert.False(t, cloudsdk.IsTransportError(err))
	})

	t.Run("error status with envelope is an api error", func(t *testing.T) {
		srv.FailNextStatus("fs delete", http.StatusForbidden, 4030, "forbidden")
		err := c.Delete(ctx, "N1")
		var apiErr *cloudsdk.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusForbidden, apiErr.Status)
		assert.Equal(t, "forbidden", apiErr.Message)
	})

	t.Run("download of a missing node is an api error", func(t *testing.T) {
		_, err := c.Download(ctx, "nope", "")
		assert.True(t, cloudsdk.IsAPIError(err))
		assert.True(t, cloudsdk.IsNotFound(err))
		assert.False(t, cloudsdk.IsNotFound(fmt.Errorf("wrapped: %w", cloudsdk.ErrTransport)))
	})

	t.Run("unreachable server is a transport error", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		url := dead.URL
		dead.Close()

		dc, err := cloudsdk.New(&cloudsdk.Config{BaseURL: url, RetryCount: -1, Timeout: time.Second})
		require.NoError(t, err)
		_, err = dc.List(ctx, "", 1, 10)
		assert.True(t, cloudsdk.IsTransportError(err))
		assert.False(t, cloudsdk.IsAPIError(err))
	})

	t.Run("non envelope error body is a transport error", func(t *testing.T) {
		plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}))
		defer plain.Close()

		pc, err := cloudsdk.New(&cloudsdk.Config{BaseURL: plain.URL, RetryCount: -1})
		require.NoError(t, err)
		err = pc.Rename(ctx, "N1", "x")
		assert.True(t, cloudsdk.IsTransportError(err))
	})
}

func TestClient_Headers(t *testing.T) {
	var sawAuth, sawRequestID, sawDevice atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth.Store(r.Header.Get("Authorization"))
		sawRequestID.Store(r.Header.Get(cloudsdk.HeaderRequestID))
		sawDevice.Store(r.Header.Get(cloudsdk.HeaderDeviceID))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"message":"ok","data":{"items":[]}}`))
	}))
	defer srv.Close()

	c, err := cloudsdk.New(&cloudsdk.Config{BaseURL: srv.URL, AccessToken: "tok", DeviceID: "dev-1"})
	require.NoError(t, err)

	_, err = c.List(context.Background(), "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", sawAuth.Load())
	assert.Len(t, sawRequestID.Load(), 36)
	assert.Equal(t, "dev-1", sawDevice.Load())
}

func TestClient_GetRetriesButWritesDoNot(t *testing.T) {
	var gets, posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if gets.Add(1) == 1 {
				// drop the connection on the first attempt
				hj, _ := w.(http.Hijacker)
				conn, _, _ := hj.Hijack()
				conn.Close()
				return
			}
		} else {
			posts.Add(1)
			hj, _ := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"message":"ok","data":{"items":[]}}`))
	}))
	defer srv.Close()

	c, err := cloudsdk.New(&cloudsdk.Config{BaseURL: srv.URL, RetryCount: 1})
	require.NoError(t, err)

	_, err = c.List(context.Background(), "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(2), gets.Load())

	_, err = c.CreateFolder(context.Background(), "", "x")
	assert.True(t, cloudsdk.IsTransportError(err))
	assert.Equal(t, int32(1), posts.Load())
}

func TestClient_DownloadJSONFileIsContent(t *testing.T) {
	content := []byte(`{"code":404,"message":"a user file that looks like an error"}`)
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(content)
	}))
	defer files.Close()

	c, err := cloudsdk.New(&cloudsdk.Config{BaseURL: files.URL, RetryCount: -1, Timeout: time.Second})
	require.NoError(t, err)
	defer c.Close()

	got, err := c.Download(t.Context(), "N1", "")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}
