package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime        time.Time
	requests         atomic.Int64
	serverErrors     atomic.Int64
	clientErrors     atomic.Int64
	batches          atomic.Int64
	entriesApplied   atomic.Int64
	entriesConflict  atomic.Int64
	entriesFailed    atomic.Int64
	entriesQueued    atomic.Int64
	wsConnections    atomic.Int64
	initialDataLoads atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics. ActiveSessions,
// Broadcasts and RetryAttempts are filled from the registry and the retry
// worker when the snapshot is served.
type MetricsSnapshot struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	Requests          int64   `json:"requests"`
	ServerErrors      int64   `json:"server_errors"`
	ClientErrors      int64   `json:"client_errors"`
	Batches           int64   `json:"batches"`
	EntriesApplied    int64   `json:"entries_applied"`
	EntriesConflicted int64   `json:"entries_conflicted"`
	EntriesFailed     int64   `json:"entries_failed"`
	EntriesQueued     int64   `json:"entries_queued"`
	WSConnections     int64   `json:"ws_connections"`
	InitialDataLoads  int64   `json:"initial_data_loads"`
	ActiveSessions    int64   `json:"active_sessions"`
	Broadcasts        int64   `json:"broadcasts"`
	RetryAttempts     int64   `json:"retry_attempts"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

// RecordBatch adds one processed batch with its per-entry outcome counts.
// Conflicted entries are LWW losses, counted inside applied by the
// coordinator but broken out separately here.
func (m *Metrics) RecordBatch(applied, conflicted, failed int64) {
	m.batches.Add(1)
	m.entriesApplied.Add(applied)
	m.entriesConflict.Add(conflicted)
	m.entriesFailed.Add(failed)
}

// RecordQueued adds n to the deferred-entry counter.
func (m *Metrics) RecordQueued(n int64) {
	m.entriesQueued.Add(n)
}

// RecordWSConnection increments the accepted websocket session counter.
func (m *Metrics) RecordWSConnection() {
	m.wsConnections.Add(1)
}

// RecordInitialDataLoad increments the initial data load counter.
func (m *Metrics) RecordInitialDataLoad() {
	m.initialDataLoads.Add(1)
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:     time.Since(m.startTime).Seconds(),
		Requests:          m.requests.Load(),
		ServerErrors:      m.serverErrors.Load(),
		ClientErrors:      m.clientErrors.Load(),
		Batches:           m.batches.Load(),
		EntriesApplied:    m.entriesApplied.Load(),
		EntriesConflicted: m.entriesConflict.Load(),
		EntriesFailed:     m.entriesFailed.Load(),
		EntriesQueued:     m.entriesQueued.Load(),
		WSConnections:     m.wsConnections.Load(),
		InitialDataLoads:  m.initialDataLoads.Load(),
	}
}
