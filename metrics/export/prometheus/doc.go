// Package prometheus exposes engine metrics through a client_golang
// Collector.
//
// [NewCollector] reads [authcore.Engine.MetricsSnapshot] on every scrape.
// Counters are named authcore_*_total; the single histogram is
// authcore_validate_latency_seconds. The collector is never registered
// globally: use [Handler] or register it on your own registry.
package prometheus
