// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Maintains one logical WebSocket connection to the realtime endpoint
//   - Authenticates by passing the bearer credential as a token query parameter
//   - Sends an application-level ping frame every 30 seconds while connected
//   - Reconnects with capped exponential backoff after unexpected closes
//   - Decodes inbound frames and fans them out to consumers in arrival order
package connection
