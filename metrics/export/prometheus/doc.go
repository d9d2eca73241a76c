// Package prometheus renders stayAuth counters in Prometheus text exposition format.
//
// Counters are named stayauth_*_total; the Authenticate latency histogram is
// stayauth_authenticate_latency_seconds. Nothing is registered globally: mount
// [Exporter.Handler] wherever the scraper expects it.
package prometheus
