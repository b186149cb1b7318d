package api

import (
	"context"
	"fmt"
	"net/http"
)

// Presence endpoints.
const (
	heartbeatPath  = "/presence/heartbeat"
	bulkStatusPath = "/presence/bulk-status"
)

// PresenceStatus is the wire payload for one user in a bulk-status response.
type PresenceStatus struct {
	Status   string `json:"status"`    // "online", "away", "offline"
	LastSeen int64  `json:"last_seen"` // Unix milliseconds, 0 = never seen
}

// PostHeartbeat marks the local session active. The response body is ignored.
func (c *Client) PostHeartbeat(ctx context.Context) error {
	if _, err := c.doWithRetry(ctx, http.MethodPost, heartbeatPath, nil); err != nil {
		return fmt.Errorf("post heartbeat: %w", err)
	}
	return nil
}

// BulkStatus fetches presence for the given user ids. The response maps
// user id to status; ids unknown to the server may be absent.
func (c *Client) BulkStatus(ctx context.Context, userIDs []string) (map[string]PresenceStatus, error) {
	var resp map[string]PresenceStatus
	if err := c.post(ctx, bulkStatusPath, userIDs, &resp); err != nil {
		return nil, fmt.Errorf("bulk status: %w", err)
	}
	return resp, nil
}
