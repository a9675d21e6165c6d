// Package prometheus renders sessionkit metrics in Prometheus text exposition format.
//
// [NewExporter] wraps a [sessionkit.Controller] and serves labelled counter families
// such as sessionkit_sign_ins_total{outcome} and sessionkit_sign_in_failures_total{kind},
// the sessionkit_session_state gauge and the sessionkit_sign_in_latency_seconds
// histogram, whose _sum is estimated from bucket midpoints. Nothing is registered in a
// global registry; callers mount [Exporter.Handler] themselves.
package prometheus
