// Package telemetry installs the OpenTelemetry trace provider.
//
// Export is enabled only when OTEL_EXPORTER_OTLP_ENDPOINT is set. Otherwise
// the global no-op provider stays in place and spans cost nothing.
package telemetry
