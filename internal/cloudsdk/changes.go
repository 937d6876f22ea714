package cloudsdk

import (
	"context"
	"net/http"
	"strconv"
)

const v1SyncChanges = "/sync/changes"

// ChangesSince returns up to limit changes after cursor. A nil cursor reads from the start of the feed.
func (c *Client) ChangesSince(ctx context.Context, cursor *int64, limit int) (*ChangesResult, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	r := c.read(ctx).SetQueryParam("limit", strconv.Itoa(limit))
	if cursor != nil {
		r.SetQueryParam("since_id", strconv.FormatInt(*cursor, 10))
	}

	res, err := doJSON[ChangesResult](r, http.MethodGet, v1SyncChanges, "sync changes")
	if err != nil {
		return nil, err
	}
	return &res, nil
}
