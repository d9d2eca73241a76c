// Package otel exposes stayAuth counters through an OpenTelemetry meter.
//
// Instruments are observable: nothing is recorded on the request path, the engine
// snapshot is read when the reader collects.
package otel
