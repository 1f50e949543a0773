// Package sinks implements progress consumers: structured logging,
// Prometheus counters, and an in-memory run recorder that backs the admin
// API. Each sink satisfies progress.Sink and tolerates repeated Consume/Close
// cycles.
package sinks
