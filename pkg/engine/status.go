package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall outcome of a compute call.
type RunStatus string

const (
	// RunStatusPending indicates the run is recorded but not yet started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every node succeeded.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the call returned an error.
	RunStatusFailed RunStatus = "failed"

	// RunStatusPartial indicates a debug run in which some nodes failed.
	RunStatusPartial RunStatus = "partial"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusPartial
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusPartial:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// NodeStatus represents the status of one name during execution.
type NodeStatus string

const (
	// NodeStatusPending indicates the node has not run yet.
	NodeStatusPending NodeStatus = "pending"

	// NodeStatusSupplied indicates the name was taken from the data table.
	NodeStatusSupplied NodeStatus = "supplied"

	// NodeStatusSucceeded indicates the node produced its column.
	NodeStatusSucceeded NodeStatus = "succeeded"

	// NodeStatusFailed indicates the node itself failed or, in debug mode,
	// that a required leaf was missing.
	NodeStatusFailed NodeStatus = "failed"

	// NodeStatusPropagated indicates the node was skipped because an
	// ancestor failed.
	NodeStatusPropagated NodeStatus = "propagated"
)

// IsTerminal returns true if the node status represents a final state.
func (s NodeStatus) IsTerminal() bool {
	return s != NodeStatusPending
}

// IsSuccess returns true if a column is available under the name.
func (s NodeStatus) IsSuccess() bool {
	return s == NodeStatusSucceeded || s == NodeStatusSupplied
}

// Validate checks if the node status is valid.
func (s NodeStatus) Validate() error {
	switch s {
	case NodeStatusPending, NodeStatusSupplied, NodeStatusSucceeded,
		NodeStatusFailed, NodeStatusPropagated:
		return nil
	default:
		return fmt.Errorf("invalid node status: %s", s)
	}
}

// MinimalSpecPolicy controls how unused data columns are treated.
type MinimalSpecPolicy string

const (
	// MinimalSpecIgnore accepts unused columns silently.
	MinimalSpecIgnore MinimalSpecPolicy = "ignore"

	// MinimalSpecWarn records and logs a warning for unused columns.
	MinimalSpecWarn MinimalSpecPolicy = "warn"

	// MinimalSpecRaise fails with UnusedInputError outside debug mode.
	MinimalSpecRaise MinimalSpecPolicy = "raise"
)

// Validate checks if the policy is valid. The empty policy means ignore.
func (p MinimalSpecPolicy) Validate() error {
	switch p {
	case "", MinimalSpecIgnore, MinimalSpecWarn, MinimalSpecRaise:
		return nil
	default:
		return fmt.Errorf("invalid minimal specification policy: %s", p)
	}
}
