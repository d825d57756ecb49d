// Package metrics is a small counter registry for the handful of
// gauges the management API's /metrics endpoint reports: queue
// depth, open conflicts, dead-letter count, and messages processed.
// It is deliberately not a Prometheus client: the spec's Non-goals
// exclude a full metrics/observability stack, and the counters here
// exist only to answer "is the sync engine keeping up" for an
// operator, not to be scraped by a time-series database.
package metrics

import "sync/atomic"

// Counters holds the engine's in-process counters. All fields are
// safe for concurrent use.
type Counters struct {
	messagesProcessed atomic.Int64
	messagesFailed    atomic.Int64
	mediaObjectsSynced atomic.Int64
}

func New() *Counters { return &Counters{} }

func (c *Counters) IncMessagesProcessed() { c.messagesProcessed.Add(1) }
func (c *Counters) IncMessagesFailed()    { c.messagesFailed.Add(1) }
func (c *Counters) IncMediaObjectsSynced() { c.mediaObjectsSynced.Add(1) }

// Snapshot is a point-in-time read of every counter plus the current
// store-derived gauges, assembled by the caller (the API handler)
// since those require a database round trip this package has no
// business making.
type Snapshot struct {
	MessagesProcessed int64 `json:"messagesProcessed"`
	MessagesFailed    int64 `json:"messagesFailed"`
	MediaObjectsSynced int64 `json:"mediaObjectsSynced"`
	QueueDepth        int   `json:"queueDepth"`
	OpenConflicts     int   `json:"openConflicts"`
	DeadLetterCount   int   `json:"deadLetterCount"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		MessagesProcessed:  c.messagesProcessed.Load(),
		MessagesFailed:     c.messagesFailed.Load(),
		MediaObjectsSynced: c.mediaObjectsSynced.Load(),
	}
}
