// Package prometheus renders authcore metrics in the Prometheus text
// exposition format. Counters are named authcore_*_total; the single
// histogram is authcore_login_latency_seconds.
//
// The exporter does not touch a global registry. Mount [Exporter.Handler]
// where the service exposes /metrics.
package prometheus
