package handlers

import (
	"github.com/clouddisk/cloudsync/internal/client/sync"
	"github.com/clouddisk/cloudsync/internal/cloudsdk"
)

// StatusResponse represents the health of the agent and its sync.
type StatusResponse struct {
	Status    string             `json:"status"`         // health status ("ok").
	Timestamp string             `json:"ts"`             // timestamp when the status was taken.
	Version   string             `json:"version"`        // version of the agent.
	Revision  string             `json:"revision"`       // revision of the agent.
	BuildDate string             `json:"buildDate"`      // build date of the agent.
	StartedAt string             `json:"startedAt"`      // when the agent started.
	Uptime    string             `json:"uptime"`         // time since start, rounded to seconds.
	Sync      sync.Status        `json:"sync"`           // sync state, cursor and last error.
	Disk      *DiskInfo          `json:"disk,omitempty"` // usage of the volume holding the sync dir.
	API       cloudsdk.HTTPStats `json:"api"`            // traffic to the cloud disk api.
}

type DiskInfo struct {
	Path        string  `json:"path"`
	Fstype      string  `json:"fstype"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"usedPercent"`
}
