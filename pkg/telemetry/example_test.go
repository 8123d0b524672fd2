package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/taxgraph/taxgraph/pkg/engine"
	"github.com/taxgraph/taxgraph/pkg/telemetry"
)

// Example_basicSetup demonstrates building telemetry for a CLI run.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"
	cfg.Logging.Level = "error"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	telemetry.FromContext(ctx).Info("not printed at error level")

	fmt.Println(telemetry.FromTelemetryContext(ctx) == tel)
	// Output: true
}

// Example_eventPublishing demonstrates synchronous event delivery.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.EnableAsync = false

	events, _ := telemetry.NewEventPublisher(cfg.Events)

	events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("%s %s\n", event.Type, event.Node)
	}, telemetry.FilterByType(telemetry.EventTypeNodeFailed))

	_ = events.PublishNodeSucceeded("run-1", "kindergeld_m", "function", time.Millisecond)
	_ = events.PublishNodeFailed("run-1", "eink_st", "failed", "division by zero")
	// Output: node.failed eink_st
}

// Example_observer demonstrates wiring telemetry into a computation.
func Example_observer() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "error"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	var statuses []string
	tel.Events.Subscribe(func(event telemetry.Event) {
		statuses = append(statuses, event.Type)
	}, nil)

	observer := tel.NewObserver("run-1")
	observer.ComputeStarted(context.Background(), []string{"a"}, 2)
	observer.NodeFinished(context.Background(), "a", engine.NodeKindFunction,
		engine.NodeStatusSucceeded, time.Millisecond, nil)
	observer.ComputeFinished(context.Background(), engine.RunStatusSucceeded, time.Millisecond, nil)

	fmt.Println(statuses)
	// Output: [compute.started node.succeeded compute.completed]
}
