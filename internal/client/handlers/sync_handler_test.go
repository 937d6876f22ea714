package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clouddisk/cloudsync/internal/client/sync"
	"github.com/clouddisk/cloudsync/internal/cloudsdk"
	"github.com/clouddisk/cloudsync/internal/cloudsdk/cloudsdktest"
	"github.com/clouddisk/cloudsync/internal/kvstore"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestManager(t *testing.T, opts ...sync.ManagerOption) (*sync.SyncManager, *cloudsdktest.Server, string) {
	t.Helper()
	srv := cloudsdktest.NewServer(t)
	api, err := cloudsdk.New(srv.Config())
	require.NoError(t, err)
	t.Cleanup(api.Close)

	syncDir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	base := []sync.ManagerOption{
		sync.WithSyncDir(syncDir),
		sync.WithDebounce(50 * time.Millisecond),
		sync.WithPacing(0, 0),
		sync.WithPollInterval(time.Hour),
	}
	m := sync.NewManager(api, kvstore.NewMemoryStore(), append(base, opts...)...)
	t.Cleanup(m.Close)
	return m, srv, syncDir
}

func newSyncRouter(ctrl SyncController) *gin.Engine {
	h := NewSyncHandler(ctrl)
	r := gin.New()
	r.POST("/v1/sync/start", h.Start)
	r.POST("/v1/sync/stop", h.Stop)
	r.POST("/v1/sync/now", h.Now)
	r.GET("/v1/sync/mapping", h.Mapping)
	r.GET("/v1/sync/events", h.Events)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, out any) int {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func TestSyncHandler_Now_NotRunning(t *testing.T) {
	m, _, _ := newTestManager(t)
	r := newSyncRouter(m)

	var resp ControlPlaneError
	code := do(t, r, http.MethodPost, "/v1/sync/now", &resp)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, ErrCodeSyncNotRunning, resp.ErrorCode)
}

func TestSyncHandler_Start_NoSyncDir(t *testing.T) {
	m, _, _ := newTestManager(t, sync.WithSyncDir(""))
	r := newSyncRouter(m)

	var resp ControlPlaneError
	code := do(t, r, http.MethodPost, "/v1/sync/start", &resp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, ErrCodeNoSyncDir, resp.ErrorCode)
	assert.NotEmpty(t, resp.Error)
}

func TestSyncHandler_Start_SyncDirIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	m, _, _ := newTestManager(t, sync.WithSyncDir(file))
	r := newSyncRouter(m)

	var resp ControlPlaneError
	code := do(t, r, http.MethodPost, "/v1/sync/start", &resp)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, ErrCodeSyncStartFailed, resp.ErrorCode)
}

func TestSyncHandler_Lifecycle(t *testing.T) {
	m, srv, syncDir := newTestManager(t)
	r := newSyncRouter(m)

	var status sync.Status
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/v1/sync/start", &status))
	assert.Equal(t, sync.StateRunning, status.State)
	assert.Equal(t, syncDir, status.SyncDir)

	rootID := srv.Mkdir("", sync.DefaultRemoteRoot)
	fileID := srv.PutFile(rootID, "hello.txt", []byte("hi"))
	srv.AddChange(cloudsdktest.WireChange{ID: 4, Path: "/SyncRoot/hello.txt", ChangeType: "create", NodeID: fileID})

	var poll PollResponse
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/v1/sync/now", &poll))
	assert.Equal(t, 1, poll.Applied)
	assert.True(t, poll.Advanced)
	require.NotNil(t, poll.Cursor)
	assert.Equal(t, int64(4), *poll.Cursor)

	var mapping MappingResponse
	require.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/v1/sync/mapping", &mapping))
	assert.Equal(t, 1, mapping.Count)
	assert.Equal(t, sync.MappingEntry{RemoteID: fileID}, mapping.Entries["hello.txt"])

	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/v1/sync/stop", &status))
	assert.Equal(t, sync.StateStopped, status.State)
	assert.False(t, status.Running)
}

func TestSyncHandler_Now_PollFailure(t *testing.T) {
	m, srv, _ := newTestManager(t)
	r := newSyncRouter(m)
	_, err := m.Start(t.Context())
	require.NoError(t, err)

	srv.FailNextStatus("sync changes", http.StatusServiceUnavailable, 0, "")

	var resp ControlPlaneError
	code := do(t, r, http.MethodPost, "/v1/sync/now", &resp)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, ErrCodePollFailed, resp.ErrorCode)
}

func TestSyncHandler_Now_OutlivesRequest(t *testing.T) {
	m, srv, syncDir := newTestManager(t, sync.WithPacing(0, 200*time.Millisecond))
	r := newSyncRouter(m)
	_, err := m.Start(t.Context())
	require.NoError(t, err)

	rootID := srv.Mkdir("", sync.DefaultRemoteRoot)
	aID := srv.PutFile(rootID, "a.txt", []byte("a"))
	bID := srv.PutFile(rootID, "b.txt", []byte("b"))
	srv.AddChange(cloudsdktest.WireChange{ID: 1, Path: "/SyncRoot/a.txt", ChangeType: "create", NodeID: aID})
	srv.AddChange(cloudsdktest.WireChange{ID: 2, Path: "/SyncRoot/b.txt", ChangeType: "create", NodeID: bID})

	// the caller gives up while the page is still being paced
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/sync/now", nil).WithContext(ctx))

	var poll PollResponse
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &poll))
	assert.Equal(t, 2, poll.Applied)

	status := m.GetStatus()
	require.NotNil(t, status.Cursor)
	assert.Equal(t, int64(2), *status.Cursor)
	assert.Empty(t, status.LastError)
	assert.FileExists(t, filepath.Join(syncDir, "b.txt"))
}

func TestSyncHandler_Events(t *testing.T) {
	m, _, _ := newTestManager(t)
	ts := httptest.NewServer(newSyncRouter(m))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/sync/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	events := bufio.NewReader(resp.Body)
	nextEvent := func() (string, string) {
		var name, data string
		for {
			line, err := events.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case line == "" && name != "":
				return name, data
			}
		}
	}

	name, data := nextEvent()
	assert.Equal(t, "status", name)
	assert.Contains(t, data, `"state":"stopped"`)

	_, err = m.Start(t.Context())
	require.NoError(t, err)

	var states []string
	for len(states) < 2 {
		name, data = nextEvent()
		if name != string(sync.EventStateChanged) {
			continue
		}
		var ev sync.SyncEvent
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		states = append(states, string(ev.State))
	}
	assert.Equal(t, []string{"starting", "running"}, states)
}
