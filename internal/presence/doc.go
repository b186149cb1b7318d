// Package presence implements the Presence Tracker component.
//
// The Presence Tracker:
//   - Applies presence pushes from the realtime stream immediately
//   - Reconciles tracked users with periodic bulk-status polls
//   - Coalesces overlapping polls for the same id set
//   - Marks the local session active with a fixed-interval heartbeat
//   - Suspends all REST traffic while no credential is present
package presence
