package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a structured record of something that happened during a run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Node is the associated node name, if applicable.
	Node string `json:"node,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants.
const (
	EventTypeComputeStarted   = "compute.started"
	EventTypeComputeCompleted = "compute.completed"
	EventTypeComputeFailed    = "compute.failed"
	EventTypeNodeSucceeded    = "node.succeeded"
	EventTypeNodeFailed       = "node.failed"
	EventTypeInputWarning     = "input.warning"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles a delivered event.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher delivers events to subscribers, either on Publish or from a
// background goroutine in batches.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishComputeStarted publishes a compute started event.
func (ep *EventPublisher) PublishComputeStarted(runID string, targets []string, nodes int) error {
	return ep.Publish(Event{
		Type:    EventTypeComputeStarted,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Computing %d targets over %d nodes", len(targets), nodes),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"targets": targets,
			"nodes":   nodes,
		},
	})
}

// PublishComputeCompleted publishes a compute completed event.
func (ep *EventPublisher) PublishComputeCompleted(runID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeComputeCompleted,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Computation finished with status: %s", status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishComputeFailed publishes a compute failed event.
func (ep *EventPublisher) PublishComputeFailed(runID, status, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeComputeFailed,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Computation failed: %s", reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"status": status,
			"reason": reason,
		},
	})
}

// PublishNodeSucceeded publishes a node succeeded event.
func (ep *EventPublisher) PublishNodeSucceeded(runID, node, kind string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeNodeSucceeded,
		Source:  "executor",
		RunID:   runID,
		Node:    node,
		Message: fmt.Sprintf("Node %s computed", node),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"kind":     kind,
			"duration": duration.Seconds(),
		},
	})
}

// PublishNodeFailed publishes a node failed event.
func (ep *EventPublisher) PublishNodeFailed(runID, node, status, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeNodeFailed,
		Source:  "executor",
		RunID:   runID,
		Node:    node,
		Message: fmt.Sprintf("Node %s %s: %s", node, status, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"status": status,
			"reason": reason,
		},
	})
}

// PublishInputWarning publishes a validation warning.
func (ep *EventPublisher) PublishInputWarning(runID, warning string) error {
	return ep.Publish(Event{
		Type:    EventTypeInputWarning,
		Source:  "validator",
		RunID:   runID,
		Message: warning,
		Level:   EventLevelWarning,
	})
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents drains the buffer, delivering full batches immediately and
// partial batches every FlushInterval.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	interval := ep.config.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliverEvent(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// deliverEvent hands an event to every matching subscriber in order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the background goroutine after delivering queued events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
