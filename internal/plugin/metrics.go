// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package plugin

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels for action requests.
const (
	OutcomeOK     = "ok"
	OutcomeDenied = "denied"
	OutcomeError  = "error"
)

// EventDeliveries counts events delivered into plugin contexts.
// Use RegisterMetrics to register this with a Prometheus registry.
var EventDeliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "quilt_plugin_event_deliveries_total",
		Help: "Total number of events delivered to plugin contexts",
	},
	[]string{"plugin", "event"},
)

// ActionRequests counts privileged action requests by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var ActionRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "quilt_plugin_action_requests_total",
		Help: "Total number of plugin action requests by outcome",
	},
	[]string{"plugin", "action", "outcome"},
)

// PluginsLoaded tracks the number of plugins per lifecycle state.
// Use RegisterMetrics to register this with a Prometheus registry.
var PluginsLoaded = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "quilt_plugins_loaded",
		Help: "Number of plugins per lifecycle state",
	},
	[]string{"state"},
)

// CommandExecutions counts plugin command executions by status.
// Use RegisterMetrics to register this with a Prometheus registry.
var CommandExecutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "quilt_plugin_command_executions_total",
		Help: "Total number of plugin command executions by status",
	},
	[]string{"command", "status"},
)

// RegisterMetrics registers plugin package metrics with the given Prometheus
// registry. Call once at startup; panics on duplicate registration
// (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(EventDeliveries)
	reg.MustRegister(ActionRequests)
	reg.MustRegister(PluginsLoaded)
	reg.MustRegister(CommandExecutions)
}

// metricsRecorder adapts the package counters to the sandbox Recorder
// interface.
type metricsRecorder struct{}

func (metricsRecorder) RecordEventDelivery(pluginID, event string) {
	EventDeliveries.WithLabelValues(pluginID, event).Inc()
}

func (metricsRecorder) RecordActionRequest(pluginID, action, outcome string) {
	ActionRequests.WithLabelValues(pluginID, action, outcome).Inc()
}
