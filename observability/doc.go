// Package observability bootstraps OpenTelemetry tracing for applications
// embedding the asynchttp runtime. The perform dispatcher records a span per
// HTTP attempt through the global tracer installed here.
package observability
