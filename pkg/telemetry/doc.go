// Package telemetry provides observability for policyforge: structured
// logging with zerolog, tracing with OpenTelemetry and Prometheus metrics.
//
// # Usage
//
// Initialize telemetry once at startup and hand the pieces to components:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	evaluator := compliance.NewEvaluator(exec, tel.Logger, tel.Metrics)
//
// # Logging
//
// Components derive a child logger tagged with their name:
//
//	logger = logger.With().Str("component", "drift-detector").Logger()
//
// # Tracing
//
// Components start spans through the global provider, which NewTracer
// installs when tracing is enabled:
//
//	ctx, span := otel.Tracer("policyforge/drift").Start(ctx, "drift.Detect")
//	defer span.End()
//
// Exporters: "otlp" (gRPC collector), "stdout" (pretty JSON on stderr) and
// "none" (spans are sampled but dropped).
//
// # Metrics
//
// Metrics live in a private registry. Every recorder is safe to call on a
// nil or disabled *Metrics, so components never need to check:
//
//	metrics.RecordDriftDetection(target.Host, detected, percentage)
//	metrics.RecordRemediation("configure", "success")
//
// Key metrics (with the default "policyforge" namespace):
//
//   - policyforge_evaluations_total{compliant}
//   - policyforge_compliance_score{target}
//   - policyforge_drift_detections_total{status}
//   - policyforge_drift_percentage{target}
//   - policyforge_remediations_total{strategy,status}
//   - policyforge_rollbacks_total{outcome}
//   - policyforge_executor_calls_total{executor,operation,status}
//   - policyforge_errors_total{kind,code}
//   - policyforge_queue_depth{component}
//
// StartMetricsServer exposes them over HTTP until its context is done.
package telemetry
