// Package metrics exposes gauge readings, alert baselines and alert counts
// as Prometheus metrics.
//
// Each Metrics owns its registry. WriteTextfile renders the registry in the
// text exposition format for the node_exporter textfile collector; Handler
// serves it over HTTP in watch mode.
package metrics
