package telemetry

import (
	"context"
	"time"

	"github.com/taxgraph/taxgraph/pkg/engine"
)

// Observer reports engine progress to metrics, events and the log.
type Observer struct {
	runID   string
	logger  *Logger
	metrics *Metrics
	events  *EventPublisher
}

var _ engine.Observer = (*Observer)(nil)

// NewObserver creates an observer for one run. Any of the sinks may be nil.
func NewObserver(runID string, logger *Logger, metrics *Metrics, events *EventPublisher) *Observer {
	if logger == nil {
		logger = FromContext(context.Background())
	}
	return &Observer{
		runID:   runID,
		logger:  logger.WithRunID(runID),
		metrics: metrics,
		events:  events,
	}
}

// ComputeStarted implements engine.Observer.
func (o *Observer) ComputeStarted(_ context.Context, targets []string, nodes int) {
	o.logger.WithFields(map[string]interface{}{
		"targets": targets,
		"nodes":   nodes,
	}).Debug("computation started")

	if o.metrics != nil {
		o.metrics.RecordComputationStarted(nodes)
	}
	if o.events != nil {
		o.publish(o.events.PublishComputeStarted(o.runID, targets, nodes))
	}
}

// NodeFinished implements engine.Observer.
func (o *Observer) NodeFinished(_ context.Context, name string, kind engine.NodeKind, status engine.NodeStatus, d time.Duration, err error) {
	log := o.logger.WithNode(name, string(kind))

	if o.metrics != nil {
		o.metrics.RecordNode(string(kind), string(status), d)
	}

	if err == nil {
		log.Trace("node computed")
		if o.events != nil {
			o.publish(o.events.PublishNodeSucceeded(o.runID, name, string(kind), d))
		}
		return
	}

	log.WithError(err).Debug("node failed")
	o.recordError(err)
	if o.events != nil {
		o.publish(o.events.PublishNodeFailed(o.runID, name, string(status), err.Error()))
	}
}

// ComputeFinished implements engine.Observer.
func (o *Observer) ComputeFinished(_ context.Context, status engine.RunStatus, d time.Duration, err error) {
	if o.metrics != nil {
		o.metrics.RecordComputationCompleted(string(status), d)
	}

	if err != nil {
		o.logger.WithError(err).Warnf("computation %s after %s", status, d)
		o.recordError(err)
		if o.events != nil {
			o.publish(o.events.PublishComputeFailed(o.runID, string(status), err.Error()))
		}
		return
	}

	o.logger.Infof("computation %s in %s", status, d)
	if o.events != nil {
		o.publish(o.events.PublishComputeCompleted(o.runID, string(status), d))
	}
}

// Warnings forwards validation warnings from a result to the event stream.
func (o *Observer) Warnings(warnings []string) {
	for _, w := range warnings {
		o.logger.Warn(w)
		if o.events != nil {
			o.publish(o.events.PublishInputWarning(o.runID, w))
		}
	}
}

func (o *Observer) recordError(err error) {
	if o.metrics == nil {
		return
	}
	class, ok := engine.ClassOf(err)
	if !ok {
		class = "unclassified"
	}
	o.metrics.RecordError(string(class), engine.CodeOf(err))
}

func (o *Observer) publish(err error) {
	if err != nil {
		o.logger.WithError(err).Debug("event not published")
	}
}
