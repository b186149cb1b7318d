// Package event defines the typed payloads carried on the realtime
// stream and helpers for decoding them from raw frames.
package event
