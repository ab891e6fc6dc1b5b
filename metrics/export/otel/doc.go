// Package otel exposes healthauth engine metrics through an OpenTelemetry
// meter.
//
// [New] registers an Int64ObservableCounter per engine counter and one
// Int64ObservableGauge per histogram bucket. The caller owns the
// MeterProvider.
package otel
