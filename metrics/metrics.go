// Package metrics provides Prometheus metrics for presence, the transfer
// ledger and the hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Presence ───────────────────────────────────────────────────────────────

// PresencePublishes counts presence upserts by result ("ok" or "error").
var PresencePublishes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rapidshare",
	Name:      "presence_publishes_total",
	Help:      "Presence upserts issued by this process.",
}, []string{"result"})

// DirectoryPeers tracks the size of the latest nearby peer list.
var DirectoryPeers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "rapidshare",
	Name:      "directory_peers",
	Help:      "Peers in the most recent directory snapshot.",
})

// ─── Transfers ──────────────────────────────────────────────────────────────

// TransfersCreated counts ledger records written by kind.
var TransfersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rapidshare",
	Name:      "transfers_created_total",
	Help:      "Transfer records created.",
}, []string{"kind"})

// TransfersCompleted counts records the simulator moved to completed.
var TransfersCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rapidshare",
	Name:      "transfers_completed_total",
	Help:      "Transfer records completed by the simulator.",
}, []string{"kind"})

// SimulatorTicks counts simulator passes over the ledger.
var SimulatorTicks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "rapidshare",
	Name:      "simulator_ticks_total",
	Help:      "Simulator passes over active transfers.",
})

// ─── Hub ────────────────────────────────────────────────────────────────────

// HubRequests counts hub HTTP requests by route pattern and status code.
var HubRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rapidshare",
	Name:      "hub_requests_total",
	Help:      "Hub HTTP requests.",
}, []string{"route", "code"})

// HubWatchers tracks open change-feed WebSocket connections.
var HubWatchers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "rapidshare",
	Name:      "hub_watchers",
	Help:      "Open change-feed WebSocket connections.",
})
