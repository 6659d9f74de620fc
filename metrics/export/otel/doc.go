// Package otel publishes authcore metrics through an OpenTelemetry Meter.
// One callback reads the engine snapshot per collection cycle; the caller owns
// the MeterProvider.
package otel
