// Package telemetry provides logging, tracing and metrics for ralsh and the
// providers it runs.
//
// # Logging
//
// Logging is built on zerolog. ralsh logs to stderr through a console
// writer; provider processes use NewDiagnosticLogger, which writes one
// uncolored "LEVEL message" line per entry to stderr. The host relays those
// lines into its own log.
//
//	logger := telemetry.NewDiagnosticLogger(os.Stderr).WithInvocation(id)
//	logger.Info("loading /etc/hosts")
//
// # Tracing
//
// Each provider action run by the host gets an OpenTelemetry span named
// provider.<action>. Spans are exported through OTLP/gRPC or printed to
// stdout:
//
//	ctx, span := tel.Tracer.StartActionSpan(ctx, "hosts", "set")
//	defer span.End()
//
// # Metrics
//
// ralsh exits after every command, so metrics are not served over HTTP.
// When a textfile is configured, Shutdown writes the registry to it in the
// Prometheus text format for the node exporter's textfile collector.
package telemetry
