// Package prometheus renders engine counters in the Prometheus text
// exposition format.
//
// Counter names are prefixed authcore_ and end in _total; the single
// histogram is authcore_login_latency_seconds. Nothing is registered in a
// global registry: callers mount Handler on their router.
package prometheus
