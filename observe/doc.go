// Package observe provides telemetry for the query cache: structured JSON
// logging, OpenTelemetry metrics and tracing, and exporter configuration.
package observe
