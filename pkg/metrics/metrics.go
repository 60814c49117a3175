// Package metrics exposes the prometheus instrumentation shared by the
// coordination layer. All collectors register on the default registry and
// are served by the location service's metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconnectAttempts counts reconnect attempts per logical database.
	ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "locstore",
		Name:      "reconnect_attempts_total",
		Help:      "Reconnect attempts against the replicated database, per logical database.",
	}, []string{"database"})

	// CircuitOpens counts logical databases entering the fatal
	// restart-recommended state.
	CircuitOpens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "locstore",
		Name:      "circuit_opens_total",
		Help:      "Times a logical database exceeded its reconnection limit and latched fatal.",
	}, []string{"database"})

	// LegacyFallbacks counts transitioning-store calls served by the
	// legacy path after a distributed-path failure.
	LegacyFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "locstore",
		Name:      "legacy_fallbacks_total",
		Help:      "Calls that fell back from the distributed store to the legacy store.",
	}, []string{"op"})

	// RoleTransitions counts observed master/worker role changes.
	RoleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "locstore",
		Name:      "role_transitions_total",
		Help:      "Observed changes of this process's election role.",
	}, []string{"role"})

	// RemoteCalls counts master-routed RPC calls by outcome.
	RemoteCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "locstore",
		Name:      "remote_calls_total",
		Help:      "Master-routed calls issued by this process.",
	}, []string{"outcome"})
)
