package stores

import (
	"context"
	"time"

	"github.com/taxgraph/taxgraph/pkg/engine"
	"github.com/taxgraph/taxgraph/pkg/table"
)

// Run represents one recorded compute invocation
type Run struct {
	ID          string           `json:"id"`
	ConfigPath  string           `json:"config_path"`
	PolicyDate  string           `json:"policy_date"`
	Targets     []string         `json:"targets"`
	Status      engine.RunStatus `json:"status"`
	Rows        int              `json:"rows"`
	Warnings    []string         `json:"warnings,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Duration    time.Duration    `json:"duration"`
	Error       *string          `json:"error,omitempty"`
	ErrorCode   *string          `json:"error_code,omitempty"`
	Metadata    string           `json:"metadata"` // JSON blob
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// RunOutcome is what CompleteRun records once a computation has finished.
type RunOutcome struct {
	Status   engine.RunStatus
	Rows     int
	Duration time.Duration
	Warnings []string
	Err      error
}

// NodeErrorRecord is a persisted node failure of a debug run
type NodeErrorRecord struct {
	ID        int64             `json:"id"`
	RunID     string            `json:"run_id"`
	Node      string            `json:"node"`
	Status    engine.NodeStatus `json:"status"`
	Class     *string           `json:"class,omitempty"`
	Code      *string           `json:"code,omitempty"`
	Message   string            `json:"message"`
	Causes    []string          `json:"causes,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Tables
	LoadTable(ctx context.Context, name, index string) (*table.Table, error)
	WriteTable(ctx context.Context, name string, t *table.Table) error

	// Run history
	CreateRun(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, id string, outcome RunOutcome) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Node errors
	AppendNodeErrors(ctx context.Context, runID string, errs map[string]*engine.NodeError) error
	ListNodeErrors(ctx context.Context, runID string) ([]*NodeErrorRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
