package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/clouddisk/cloudsync/internal/client/sync"
	"github.com/clouddisk/cloudsync/internal/cloudsdk"
	"github.com/clouddisk/cloudsync/internal/version"
	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/disk"
)

// StatusSource is what the status endpoint reports on
type StatusSource interface {
	GetStatus() sync.Status
	APIStats() cloudsdk.HTTPStats
	StartedAt() time.Time
}

// StatusHandler handles status-related endpoints
type StatusHandler struct {
	src StatusSource
}

func NewStatusHandler(src StatusSource) *StatusHandler {
	return &StatusHandler{
		src: src,
	}
}

// Status returns the agent version, uptime, sync state and disk usage of the sync dir
func (h *StatusHandler) Status(ctx *gin.Context) {
	// this is unlikely to happen, but just in case
	if h.src == nil {
		ctx.PureJSON(http.StatusServiceUnavailable, &ControlPlaneError{
			ErrorCode: ErrCodeUnknownError,
			Error:     "agent not initialized",
		})
		return
	}

	now := time.Now()
	startedAt := h.src.StartedAt()
	syncStatus := h.src.GetStatus()

	resp := &StatusResponse{
		Status:    "ok",
		Timestamp: now.UTC().Format(time.RFC3339),
		Version:   version.Version,
		Revision:  version.Revision,
		BuildDate: version.BuildDate,
		Sync:      syncStatus,
		API:       h.src.APIStats(),
	}
	if !startedAt.IsZero() {
		resp.StartedAt = startedAt.UTC().Format(time.RFC3339)
		resp.Uptime = now.Sub(startedAt).Round(time.Second).String()
	}
	if syncStatus.SyncDir != "" {
		resp.Disk = diskInfo(ctx.Request.Context(), syncStatus.SyncDir)
	}

	ctx.PureJSON(http.StatusOK, resp)
}

func diskInfo(ctx context.Context, path string) *DiskInfo {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		slog.Debug("disk usage", "path", path, "error", err)
		return nil
	}
	return &DiskInfo{
		Path:        usage.Path,
		Fstype:      usage.Fstype,
		Total:       usage.Total,
		Free:        usage.Free,
		Used:        usage.Used,
		UsedPercent: usage.UsedPercent,
	}
}
