// Package otel publishes sessionkit metrics through an OpenTelemetry meter.
//
// [NewExporter] registers one Int64ObservableCounter per metric family, with the
// family's label (outcome, kind, event, op) as an attribute, a sessionkit_session_state
// gauge keyed by state, and the sign-in latency buckets as a gauge keyed by le. All
// values are read from a single snapshot callback on each collection. The caller owns
// the MeterProvider.
package otel
