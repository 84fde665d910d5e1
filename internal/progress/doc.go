// Package progress carries indexing milestones from the scheduler and the
// metadata fetcher to observers. Emit never blocks: events are buffered,
// batched on a background goroutine, and fanned out to sinks such as
// structured logs, Prometheus collectors, or the in-memory status board.
package progress
