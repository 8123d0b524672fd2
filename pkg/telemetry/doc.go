// Package telemetry provides observability for taxgraph runs.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and an in-process event stream behind one Telemetry
// value built from a Config.
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	opts := engine.Options{
//	    Logger:   tel.Logger.Zerolog(),
//	    Observer: tel.NewObserver(runID),
//	}
//	result, err := engine.Compute(ctx, data, functions, targets, params, opts)
//
// # Observer
//
// Observer implements engine.Observer. Each NodeFinished callback increments
// nodes_evaluated_total{kind,status}, observes node_duration_seconds{kind}
// and publishes a node.succeeded or node.failed event. Failures are also
// counted in errors_by_class_total and errors_by_code_total using the
// engine's error classification.
//
// # Tracing
//
// The engine starts its spans ("engine.Compute", "engine.node") from the
// global tracer provider. NewTracer installs its provider globally when
// tracing is enabled, so those spans are exported through the configured
// exporter:
//
//   - "stdout": pretty-printed spans (development)
//   - "otlp": OTLP over gRPC, requires Endpoint
//   - "none": spans are sampled but not exported
//
// # Metrics
//
//   - taxgraph_computations_started_total
//   - taxgraph_computations_completed_total{status}
//   - taxgraph_computation_duration_seconds{status}
//   - taxgraph_active_computations
//   - taxgraph_graph_nodes
//   - taxgraph_nodes_evaluated_total{kind,status}
//   - taxgraph_node_duration_seconds{kind}
//   - taxgraph_errors_by_class_total{class}
//   - taxgraph_errors_by_code_total{code}
//
// Metrics are kept in a private registry and served by StartMetricsServer,
// which the CLI uses in watch mode.
//
// # Events
//
// EventPublisher delivers compute.*, node.* and input.warning events to
// subscribers, synchronously on Publish or in batches from a background
// goroutine when EnableAsync is set. Shutdown delivers whatever is queued.
package telemetry
