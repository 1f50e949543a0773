// Package progress provides the stage events, non-blocking hub, and emitter
// interfaces the ingestion pipeline uses to report what happened to each link.
// Events are batched on a background goroutine and fanned out to pluggable
// sinks such as structured logs, Prometheus counters, or an in-memory recorder.
package progress
