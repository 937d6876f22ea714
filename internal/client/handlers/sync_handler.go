package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/clouddisk/cloudsync/internal/client/sync"
	"github.com/gin-gonic/gin"
)

// SyncController is the part of the sync manager the control plane drives
type SyncController interface {
	Start(ctx context.Context) (sync.Status, error)
	Stop() sync.Status
	TriggerPollNow(ctx context.Context) (*sync.PollResult, error)
	GetStatus() sync.Status
	Mapping() (map[string]sync.MappingEntry, error)
	Subscribe() <-chan *sync.SyncEvent
	Unsubscribe(ch <-chan *sync.SyncEvent)
}

type SyncHandler struct {
	ctrl SyncController
}

func NewSyncHandler(ctrl SyncController) *SyncHandler {
	return &SyncHandler{ctrl: ctrl}
}

// Start starts syncing and returns the resulting status. Starting twice is not an error.
func (h *SyncHandler) Start(c *gin.Context) {
	status, err := h.ctrl.Start(c.Request.Context())
	if err != nil {
		if errors.Is(err, sync.ErrNoSyncRoot) {
			AbortWithError(c, http.StatusBadRequest, ErrCodeNoSyncDir, err)
			return
		}
		AbortWithError(c, http.StatusInternalServerError, ErrCodeSyncStartFailed, err)
		return
	}

	c.PureJSON(http.StatusOK, status)
}

func (h *SyncHandler) Stop(c *gin.Context) {
	c.PureJSON(http.StatusOK, h.ctrl.Stop())
}

// Now polls the remote change feed once, outside the regular interval
func (h *SyncHandler) Now(c *gin.Context) {
	res, err := h.ctrl.TriggerPollNow(c.Request.Context())
	if err != nil {
		if errors.Is(err, sync.ErrNotRunning) {
			AbortWithError(c, http.StatusConflict, ErrCodeSyncNotRunning, err)
			return
		}
		AbortWithError(c, http.StatusBadGateway, ErrCodePollFailed, err)
		return
	}

	c.PureJSON(http.StatusOK, &PollResponse{
		Applied:  res.Applied,
		Skipped:  res.Skipped,
		Cursor:   res.Cursor,
		Advanced: res.Advanced,
	})
}

func (h *SyncHandler) Mapping(c *gin.Context) {
	entries, err := h.ctrl.Mapping()
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, ErrCodeUnknownError, err)
		return
	}

	c.PureJSON(http.StatusOK, &MappingResponse{
		Count:   len(entries),
		Entries: entries,
	})
}

// Events streams sync events as server-sent events. The first event is the current status.
func (h *SyncHandler) Events(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	eventCh := h.ctrl.Subscribe()
	defer h.ctrl.Unsubscribe(eventCh)

	ctx := c.Request.Context()

	c.SSEvent("status", h.ctrl.GetStatus())
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-eventCh:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		}
	})
}
