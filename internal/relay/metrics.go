package relay

import (
	"sync/atomic"
	"time"
)

// Metrics holds the process-wide counters every component bumps as a side
// effect of its own operations. Read-mostly; exposed read-only at the
// control plane and in status frames.
type Metrics struct {
	startTime time.Time

	totalConnections   atomic.Int64
	browserConnections atomic.Int64
	desktopConnections atomic.Int64
	totalSessions      atomic.Int64
	messagesProcessed  atomic.Int64
	errors             atomic.Int64
}

// NewMetrics creates a metrics holder stamped with the process start time
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// IncError bumps the process-wide error counter. Every error condition in
// the relay routes through here so external alerting can watch one number.
func (m *Metrics) IncError() {
	m.errors.Add(1)
}

// IncMessages counts one processed inbound frame
func (m *Metrics) IncMessages() {
	m.messagesProcessed.Add(1)
}

// MetricsSnapshot is the read-only view of the counters
type MetricsSnapshot struct {
	TotalConnections   int64     `json:"totalConnections"`
	BrowserConnections int64     `json:"browserConnections"`
	DesktopConnections int64     `json:"desktopConnections"`
	TotalSessions      int64     `json:"totalSessions"`
	MessagesProcessed  int64     `json:"messagesProcessed"`
	Errors             int64     `json:"errors"`
	StartTime          time.Time `json:"startTime"`
	UptimeMs           int64     `json:"uptimeMs"`
}

// Snapshot captures the current counter values
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TotalConnections:   m.totalConnections.Load(),
		BrowserConnections: m.browserConnections.Load(),
		DesktopConnections: m.desktopConnections.Load(),
		TotalSessions:      m.totalSessions.Load(),
		MessagesProcessed:  m.messagesProcessed.Load(),
		Errors:             m.errors.Load(),
		StartTime:          m.startTime,
		UptimeMs:           time.Since(m.startTime).Milliseconds(),
	}
}
