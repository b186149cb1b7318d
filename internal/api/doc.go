// Package api provides the ScholarSync REST API client.
//
// Endpoints used by the realtime core:
//   - POST /presence/heartbeat: mark the local session active
//   - POST /presence/bulk-status: fetch presence for a batch of user ids
//
// All requests carry the bearer credential from the auth store and retry
// transient (5xx, 429) failures with jittered exponential backoff.
package api
