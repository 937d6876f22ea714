package handlers

import "github.com/clouddisk/cloudsync/internal/client/sync"

type PollResponse struct {
	Applied  int    `json:"applied"`
	Skipped  int    `json:"skipped"`
	Cursor   *int64 `json:"cursor"`
	Advanced bool   `json:"advanced"`
}

type MappingResponse struct {
	Count   int                           `json:"count"`
	Entries map[string]sync.MappingEntry `json:"entries"`
}
