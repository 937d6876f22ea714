// Package cloudsdktest runs an in-memory cloud disk api for tests.
package cloudsdktest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/clouddisk/cloudsync/internal/chunk"
	"github.com/clouddisk/cloudsync/internal/cloudsdk"
	"github.com/gin-gonic/gin"
)

const (
	CodeBadRequest   = 4000
	CodeUnauthorized = 4010
	CodeNotFound     = 4040
	CodeConflict     = 4090
	CodeHashMismatch = 4220
)

type Node struct {
	ID       string
	ParentID string
	Name     string
	IsDir    bool
	Data     []byte
	Versions map[string][]byte
}

// WireChange is a change feed entry as the server sends it
type WireChange struct {
	ID         int64  `json:"id"`
	Path       string `json:"path"`
	IsDir      bool   `json:"is_dir"`
	ChangeType string `json:"change_type"`
	NodeID     string `json:"node_id"`
	VersionID  string `json:"version_id,omitempty"`
}

// Session records a chunked upload as the server saw it
type Session struct {
	ID             string
	Request        cloudsdk.UploadInitRequest
	ChunkOrder     []int
	CompressedHash map[int]string
	Chunks         map[int][]byte
	Completed      bool
}

type failure struct {
	status  int
	code    int
	message string
}

// Server is a fake of the remote api. The zero value is not usable, call NewServer.
type Server struct {
	// Token, when set, is the only accepted bearer token
	Token string

	mu       sync.Mutex
	nodes    map[string]*Node
	nextID   int
	sessions map[string]*Session
	changes  []WireChange
	lastID   *int64
	failNext map[string]failure
	calls    map[string]int

	srv *httptest.Server
}

func NewServer(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{
		nodes:    make(map[string]*Node),
		sessions: make(map[string]*Session),
		failNext: make(map[string]failure),
		calls:    make(map[string]int),
	}
	s.srv = httptest.NewServer(s.routes())
	t.Cleanup(s.srv.Close)
	return s
}

func (s *Server) URL() string {
	return s.srv.URL
}

// Config returns a client config pointed at this server, without retries
func (s *Server) Config() *cloudsdk.Config {
	return &cloudsdk.Config{BaseURL: s.srv.URL, AccessToken: s.Token, RetryCount: -1}
}

func (s *Server) routes() http.Handler {
	r := gin.New()
	v1 := r.Group("/api/v1", s.auth)
	{
		v1.GET("/fs/list", s.track("fs list"), s.handleList)
		v1.POST("/fs/mkdir", s.track("fs mkdir"), s.handleMkdir)
		v1.POST("/fs/rename", s.track("fs rename"), s.handleRename)
		v1.DELETE("/fs/node/:id", s.track("fs delete"), s.handleDelete)
		v1.POST("/files/upload-simple", s.track("upload simple"), s.handleUploadSimple)
		v1.POST("/files/upload-init", s.track("upload init"), s.handleUploadInit)
		v1.POST("/files/upload-chunk", s.track("upload chunk"), s.handleUploadChunk)
		v1.POST("/files/upload-complete", s.track("upload complete"), s.handleUploadComplete)
		v1.GET("/files/:id/download", s.track("download"), s.handleDownload)
		v1.GET("/sync/changes", s.track("sync changes"), s.handleChanges)
	}
	return r
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "ok", "data": data})
}

func fail(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message, "data": nil})
}

func (s *Server) auth(c *gin.Context) {
	if s.Token == "" {
		return
	}
	if c.GetHeader("Authorization") != "Bearer "+s.Token {
		fail(c, http.StatusUnauthorized, CodeUnauthorized, "invalid token")
	}
}

// track counts calls and injects queued failures for op
func (s *Server) track(op string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		s.calls[op]++
		f, queued := s.failNext[op]
		delete(s.failNext, op)
		s.mu.Unlock()

		if queued {
			fail(c, f.status, f.code, f.message)
		}
	}
}

// FailNext makes the next call of op fail with an in-band application error
func (s *Server) FailNext(op string, code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = failure{status: http.StatusOK, code: code, message: message}
}

// FailNextStatus makes the next call of op fail with an http error status
func (s *Server) FailNextStatus(op string, status, code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = failure{status: status, code: code, message: message}
}

// Calls returns how often op was invoked, including injected failures
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Server) newID() string {
	s.nextID++
	return "N" + strconv.Itoa(s.nextID)
}

func (s *Server) addNode(parentID, name string, isDir bool, data []byte) *Node {
	n := &Node{
		ID:       s.newID(),
		ParentID: parentID,
		Name:     name,
		IsDir:    isDir,
		Data:     data,
		Versions: make(map[string][]byte),
	}
	s.nodes[n.ID] = n
	return n
}

func (s *Server) childByName(parentID, name string) *Node {
	for _, n := range s.nodes {
		if n.ParentID == parentID && n.Name == name {
			return n
		}
	}
	return nil
}

// Mkdir creates a folder directly, bypassing the api
func (s *Server) Mkdir(parentID, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addNode(parentID, name, true, nil).ID
}

// PutFile creates or replaces a file directly, bypassing the api
func (s *Server) PutFile(parentID, name string, data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.childByName(parentID, name); n != nil && !n.IsDir {
		n.Data = append([]byte(nil), data...)
		return n.ID
	}
	return s.addNode(parentID, name, false, append([]byte(nil), data...)).ID
}

// PutVersion stores content under a version id of an existing node
func (s *Server) PutVersion(nodeID, versionID string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[nodeID]; ok {
		n.Versions[versionID] = append([]byte(nil), data...)
	}
}

func (s *Server) Node(id string) (Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// NodeByPath resolves a slash separated path from the account root, e.g. "/SyncRoot/a.txt"
func (s *Server) NodeByPath(p string) (Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parentID := ""
	var cur *Node
	for _, part := range strings.Split(strings.Trim(path.Clean(p), "/"), "/") {
		if part == "" {
			continue
		}
		cur = s.childByName(parentID, part)
		if cur == nil {
			return Node{}, false
		}
		parentID = cur.ID
	}
	if cur == nil {
		return Node{}, false
	}
	return *cur, true
}

func (s *Server) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// AddChange appends an entry to the change feed
func (s *Server) AddChange(c WireChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, c)
}

// SetLastID forces the last_id reported by the change feed
func (s *Server) SetLastID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID = &id
}

// Sessions returns every chunked upload session seen, in no particular order
func (s *Server) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	return out
}

func (s *Server) handleList(c *gin.Context) {
	parentID := c.Query("parent_id")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if page < 1 || limit < 1 {
		fail(c, http.StatusBadRequest, CodeBadRequest, "invalid page")
		return
	}

	s.mu.Lock()
	var items []gin.H
	var children []*Node
	for _, n := range s.nodes {
		if n.ParentID == parentID {
			children = append(children, n)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	start := (page - 1) * limit
	for i := start; i < len(children) && i < start+limit; i++ {
		n := children[i]
		items = append(items, gin.H{"id": n.ID, "name": n.Name, "is_dir": n.IsDir, "size": len(n.Data), "parent_id": n.ParentID})
	}
	total := len(children)
	s.mu.Unlock()

	ok(c, gin.H{"items": items, "total": total, "page": page, "limit": limit})
}

func (s *Server) handleMkdir(c *gin.Context) {
	var body struct {
		ParentID *string `json:"parent_id"`
		Name     string  `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Name == "" {
		fail(c, http.StatusBadRequest, CodeBadRequest, "invalid request")
		return
	}
	parentID := ""
	if body.ParentID != nil {
		parentID = *body.ParentID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if parentID != "" {
		if p, found := s.nodes[parentID]; !found || !p.IsDir {
			fail(c, http.StatusOK, CodeNotFound, "parent not found")
			return
		}
	}
	if existing := s.childByName(parentID, body.Name); existing != nil {
		fail(c, http.StatusOK, CodeConflict, "name already exists")
		return
	}
	n := s.addNode(parentID, body.Name, true, nil)
	ok(c, gin.H{"id": n.ID, "name": n.Name})
}

func (s *Server) handleRename(c *gin.Context) {
	var body struct {
		ID      string `json:"id"`
		NewName string `json:"new_name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.NewName == "" {
		fail(c, http.StatusBadRequest, CodeBadRequest, "invalid request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n, found := s.nodes[body.ID]
	if !found {
		fail(c, http.StatusOK, CodeNotFound, "node not found")
		return
	}
	n.Name = body.NewName
	ok(c, nil)
}

func (s *Server) handleDelete(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.nodes[id]; !found {
		fail(c, http.StatusNotFound, CodeNotFound, "node not found")
		return
	}
	s.deleteTree(id)
	ok(c, nil)
}

func (s *Server) deleteTree(id string) {
	for _, n := range s.nodes {
		if n.ParentID == id {
			s.deleteTree(n.ID)
		}
	}
	delete(s.nodes, id)
}

func (s *Server) handleUploadSimple(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, CodeBadRequest, "file missing")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		fail(c, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	id := s.PutFile(c.PostForm("parent_id"), fh.Filename, data)
	ok(c, gin.H{"id": id})
}

func (s *Server) handleUploadInit(c *gin.Context) {
	var body cloudsdk.UploadInitRequest
	if err := c.ShouldBindJSON(&body); err != nil || body.Name == "" || body.ChunkSize <= 0 {
		fail(c, http.StatusBadRequest, CodeBadRequest, "invalid request")
		return
	}
	if want := chunk.Count(body.Size, body.ChunkSize); len(body.Chunks) != want {
		fail(c, http.StatusOK, CodeBadRequest, fmt.Sprintf("expected %d chunks, got %d", want, len(body.Chunks)))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sess := &Session{
		ID:             "S" + strconv.Itoa(s.nextID),
		Request:        body,
		CompressedHash: make(map[int]string),
		Chunks:         make(map[int][]byte),
	}
	s.sessions[sess.ID] = sess
	ok(c, gin.H{"upload_session_id": sess.ID})
}

func (s *Server) handleUploadChunk(c *gin.Context) {
	sessionID := c.Query("session_id")
	index, err := strconv.Atoi(c.Query("index"))
	if err != nil {
		fail(c, http.StatusBadRequest, CodeBadRequest, "invalid index")
		return
	}
	if c.GetHeader("Content-Encoding") != "gzip" {
		fail(c, http.StatusBadRequest, CodeBadRequest, "chunk must be gzip encoded")
		return
	}
	compressed, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	sum := sha256.Sum256(compressed)
	digest := hex.EncodeToString(sum[:])
	if digest != c.GetHeader(cloudsdk.HeaderChunkHash) {
		fail(c, http.StatusOK, CodeHashMismatch, "compressed chunk hash mismatch")
		return
	}
	data, err := chunk.Decompress(compressed)
	if err != nil {
		fail(c, http.StatusOK, CodeBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, found := s.sessions[sessionID]
	if !found || sess.Completed {
		fail(c, http.StatusOK, CodeNotFound, "session not found")
		return
	}
	if index < 0 || index >= len(sess.Request.Chunks) {
		fail(c, http.StatusOK, CodeBadRequest, "index out of range")
		return
	}
	if chunk.DigestHex(data) != sess.Request.Chunks[index].Digest {
		fail(c, http.StatusOK, CodeHashMismatch, "chunk hash does not match manifest")
		return
	}
	sess.ChunkOrder = append(sess.ChunkOrder, index)
	sess.CompressedHash[index] = digest
	sess.Chunks[index] = data
	ok(c, nil)
}

func (s *Server) handleUploadComplete(c *gin.Context) {
	var body struct {
		SessionID string `json:"upload_session_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, CodeBadRequest, "invalid request")
		return
	}

	s.mu.Lock()
	sess, found := s.sessions[body.SessionID]
	if !found || sess.Completed {
		s.mu.Unlock()
		fail(c, http.StatusOK, CodeNotFound, "session not found")
		return
	}
	var assembled []byte
	for i := range sess.Request.Chunks {
		part, present := sess.Chunks[i]
		if !present {
			s.mu.Unlock()
			fail(c, http.StatusOK, CodeBadRequest, fmt.Sprintf("chunk %d missing", i))
			return
		}
		assembled = append(assembled, part...)
	}
	if int64(len(assembled)) != sess.Request.Size || chunk.DigestHex(assembled) != sess.Request.Hash {
		s.mu.Unlock()
		fail(c, http.StatusOK, CodeHashMismatch, "file hash mismatch")
		return
	}
	sess.Completed = true
	req := sess.Request
	s.mu.Unlock()

	id := s.PutFile(req.ParentID, req.Name, assembled)
	ok(c, gin.H{"node_id": id})
}

func (s *Server) handleDownload(c *gin.Context) {
	s.mu.Lock()
	n, found := s.nodes[c.Param("id")]
	var data []byte
	if found && !n.IsDir {
		data = n.Data
		if v := c.Query("version_id"); v != "" {
			data, found = n.Versions[v]
		}
	}
	isDir := found && n.IsDir
	s.mu.Unlock()

	if !found || isDir {
		fail(c, http.StatusNotFound, CodeNotFound, "file not found")
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) handleChanges(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit < 1 {
		limit = 100
	}
	var since int64 = -1
	if v := c.Query("since_id"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fail(c, http.StatusBadRequest, CodeBadRequest, "invalid since_id")
			return
		}
		since = parsed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	page := []WireChange{}
	for _, ch := range s.changes {
		if ch.ID > since && len(page) < limit {
			page = append(page, ch)
		}
	}

	var lastID any
	switch {
	case s.lastID != nil:
		lastID = *s.lastID
	case len(page) > 0:
		var max int64
		for _, ch := range page {
			if ch.ID > max {
				max = ch.ID
			}
		}
		lastID = max
	case since >= 0:
		lastID = since
	}

	ok(c, gin.H{"last_id": lastID, "changes": page})
}
