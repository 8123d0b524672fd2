package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorClass classifies an error by what went wrong and whether debug mode
// may downgrade it.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates a problem with the function set itself.
	// Examples: cycles, ambiguous or missing time-versioned functions, invalid nodes.
	// Configuration errors are always fatal, including in debug mode.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassData indicates a problem with the supplied data or parameters.
	// Examples: missing leaf columns, unused columns, null group keys.
	ErrorClassData ErrorClass = "data"

	// ErrorClassEvaluation indicates a function failed while running.
	// Examples: a returned error, a recovered panic, a wrongly shaped output.
	ErrorClassEvaluation ErrorClass = "evaluation"
)

// Error codes for programmatic handling.
const (
	ErrCodeCyclicDependency   = "CYCLIC_DEPENDENCY"
	ErrCodeAmbiguousPolicy    = "AMBIGUOUS_POLICY"
	ErrCodeNoActivePolicy     = "NO_ACTIVE_POLICY"
	ErrCodeInvalidNode        = "INVALID_NODE"
	ErrCodeMissingInput       = "MISSING_INPUT"
	ErrCodeUnusedInput        = "UNUSED_INPUT"
	ErrCodeConflictingColumn  = "CONFLICTING_COLUMN"
	ErrCodeMissingGroupKey    = "MISSING_GROUP_KEY"
	ErrCodeShapeMismatch      = "SHAPE_MISMATCH"
	ErrCodeFunctionEvaluation = "FUNCTION_EVALUATION"
	ErrCodeDependencyFailed   = "DEPENDENCY_FAILED"
)

// EngineError is a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Code is the error code for programmatic handling.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Node is the name of the node that caused the error, if applicable.
	Node string `json:"node,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)
	if e.Node != "" {
		fmt.Fprintf(&b, " (node=%s)", e.Node)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// Two engine errors match when class and code agree.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// ErrorClass returns the classification.
func (e *EngineError) ErrorClass() ErrorClass {
	return e.Class
}

// ErrorCode returns the error code.
func (e *EngineError) ErrorCode() string {
	return e.Code
}

// WithNode adds node context to an error.
func (e *EngineError) WithNode(name string) *EngineError {
	e.Node = name
	return e
}

func newError(class ErrorClass, code, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Sentinels for errors.Is matching.
var (
	ErrCyclicDependency   = &EngineError{Class: ErrorClassConfiguration, Code: ErrCodeCyclicDependency}
	ErrAmbiguousPolicy    = &EngineError{Class: ErrorClassConfiguration, Code: ErrCodeAmbiguousPolicy}
	ErrNoActivePolicy     = &EngineError{Class: ErrorClassConfiguration, Code: ErrCodeNoActivePolicy}
	ErrInvalidNode        = &EngineError{Class: ErrorClassConfiguration, Code: ErrCodeInvalidNode}
	ErrMissingInput       = &EngineError{Class: ErrorClassData, Code: ErrCodeMissingInput}
	ErrUnusedInput        = &EngineError{Class: ErrorClassData, Code: ErrCodeUnusedInput}
	ErrConflictingColumn  = &EngineError{Class: ErrorClassData, Code: ErrCodeConflictingColumn}
	ErrMissingGroupKey    = &EngineError{Class: ErrorClassData, Code: ErrCodeMissingGroupKey}
	ErrShapeMismatch      = &EngineError{Class: ErrorClassEvaluation, Code: ErrCodeShapeMismatch}
	ErrFunctionEvaluation = &EngineError{Class: ErrorClassEvaluation, Code: ErrCodeFunctionEvaluation}
	ErrDependencyFailed   = &EngineError{Class: ErrorClassEvaluation, Code: ErrCodeDependencyFailed}
)

// CyclicDependencyError reports every cycle found in the dependency graph.
type CyclicDependencyError struct {
	*EngineError

	// Cycles lists each cycle as a path that starts and ends with the same name.
	Cycles [][]string
}

// NewCyclicDependencyError creates a cyclic dependency error.
func NewCyclicDependencyError(cycles [][]string) *CyclicDependencyError {
	formatted := make([]string, len(cycles))
	for i, c := range cycles {
		formatted[i] = formatCycle(c)
	}
	return &CyclicDependencyError{
		EngineError: newError(ErrorClassConfiguration, ErrCodeCyclicDependency,
			fmt.Sprintf("cyclic dependency detected: %s", strings.Join(formatted, "; ")), nil),
		Cycles: cycles,
	}
}

// AmbiguousPolicyError reports names with more than one version active at a date.
type AmbiguousPolicyError struct {
	*EngineError

	// Names lists the ambiguous names, sorted.
	Names []string
}

// NewAmbiguousPolicyError creates an ambiguous policy error.
func NewAmbiguousPolicyError(date string, names []string) *AmbiguousPolicyError {
	names = sortedCopy(names)
	return &AmbiguousPolicyError{
		EngineError: newError(ErrorClassConfiguration, ErrCodeAmbiguousPolicy,
			fmt.Sprintf("more than one version active at %s for: %s", date, strings.Join(names, ", ")), nil),
		Names: names,
	}
}

// NoActivePolicyError reports required names with no version active at a date.
type NoActivePolicyError struct {
	*EngineError

	// Names lists the inactive names, sorted.
	Names []string
}

// NewNoActivePolicyError creates a no active policy error.
func NewNoActivePolicyError(date string, names []string) *NoActivePolicyError {
	names = sortedCopy(names)
	return &NoActivePolicyError{
		EngineError: newError(ErrorClassConfiguration, ErrCodeNoActivePolicy,
			fmt.Sprintf("no version active at %s for: %s", date, strings.Join(names, ", ")), nil),
		Names: names,
	}
}

// InvalidNodeError reports malformed node metadata.
type InvalidNodeError struct {
	*EngineError

	// Reason describes what is wrong with the node.
	Reason string
}

// NewInvalidNodeError creates an invalid node error.
func NewInvalidNodeError(name, reason string) *InvalidNodeError {
	return &InvalidNodeError{
		EngineError: newError(ErrorClassConfiguration, ErrCodeInvalidNode,
			fmt.Sprintf("invalid node: %s", reason), nil).WithNode(name),
		Reason: reason,
	}
}

// MissingInputError reports every leaf column and parameter that was required
// but not supplied.
type MissingInputError struct {
	*EngineError

	// Columns lists missing data columns, sorted.
	Columns []string

	// Params lists missing parameter keys, sorted.
	Params []string
}

// NewMissingInputError creates a missing input error.
func NewMissingInputError(columns, params []string) *MissingInputError {
	columns = sortedCopy(columns)
	params = sortedCopy(params)

	var parts []string
	if len(columns) > 0 {
		parts = append(parts, "columns: "+strings.Join(columns, ", "))
	}
	if len(params) > 0 {
		parts = append(parts, "params: "+strings.Join(params, ", "))
	}
	return &MissingInputError{
		EngineError: newError(ErrorClassData, ErrCodeMissingInput,
			fmt.Sprintf("missing required inputs (%s)", strings.Join(parts, "; ")), nil),
		Columns: columns,
		Params:  params,
	}
}

// UnusedInputError reports data columns not needed for the requested targets.
type UnusedInputError struct {
	*EngineError

	// Columns lists unused data columns, sorted.
	Columns []string
}

// NewUnusedInputError creates an unused input error.
func NewUnusedInputError(columns []string) *UnusedInputError {
	columns = sortedCopy(columns)
	return &UnusedInputError{
		EngineError: newError(ErrorClassData, ErrCodeUnusedInput,
			fmt.Sprintf("data columns not needed for targets: %s", strings.Join(columns, ", ")), nil),
		Columns: columns,
	}
}

// ConflictingColumnError reports data columns that share a name with an active
// function without being declared as overriding it.
type ConflictingColumnError struct {
	*EngineError

	// Columns lists the conflicting names, sorted.
	Columns []string
}

// NewConflictingColumnError creates a conflicting column error.
func NewConflictingColumnError(columns []string) *ConflictingColumnError {
	columns = sortedCopy(columns)
	return &ConflictingColumnError{
		EngineError: newError(ErrorClassData, ErrCodeConflictingColumn,
			fmt.Sprintf("data columns shadow functions without being declared as overriding them: %s",
				strings.Join(columns, ", ")), nil),
		Columns: columns,
	}
}

// MissingGroupKeyError reports rows whose grouping identifier is null.
type MissingGroupKeyError struct {
	*EngineError

	// Group is the grouping identifier column.
	Group string

	// Rows lists the offending row positions.
	Rows []int
}

// NewMissingGroupKeyError creates a missing group key error for an aggregation.
func NewMissingGroupKeyError(name, group string, rows []int) *MissingGroupKeyError {
	return &MissingGroupKeyError{
		EngineError: newError(ErrorClassData, ErrCodeMissingGroupKey,
			fmt.Sprintf("group key %s is null in %d row(s)", group, len(rows)), nil).WithNode(name),
		Group: group,
		Rows:  rows,
	}
}

// ShapeMismatchError reports a column whose length differs from the data rows.
type ShapeMismatchError struct {
	*EngineError

	// Want is the expected row count.
	Want int

	// Got is the actual row count.
	Got int
}

// NewShapeMismatchError creates a shape mismatch error.
func NewShapeMismatchError(name string, want, got int) *ShapeMismatchError {
	return &ShapeMismatchError{
		EngineError: newError(ErrorClassEvaluation, ErrCodeShapeMismatch,
			fmt.Sprintf("expected %d rows, got %d", want, got), nil).WithNode(name),
		Want: want,
		Got:  got,
	}
}

// FunctionEvaluationError wraps an error raised by a function body.
type FunctionEvaluationError struct {
	*EngineError
}

// NewFunctionEvaluationError creates a function evaluation error.
func NewFunctionEvaluationError(name string, err error) *FunctionEvaluationError {
	return &FunctionEvaluationError{
		EngineError: newError(ErrorClassEvaluation, ErrCodeFunctionEvaluation,
			"function evaluation failed", err).WithNode(name),
	}
}

// DependencyFailedError marks a node skipped because an ancestor failed.
type DependencyFailedError struct {
	*EngineError

	// Causes lists the root failures upstream of the node, sorted.
	Causes []string
}

// NewDependencyFailedError creates a dependency failed error.
func NewDependencyFailedError(name string, causes []string) *DependencyFailedError {
	causes = sortedCopy(causes)
	return &DependencyFailedError{
		EngineError: newError(ErrorClassEvaluation, ErrCodeDependencyFailed,
			fmt.Sprintf("dependencies failed: %s", strings.Join(causes, ", ")), nil).WithNode(name),
		Causes: causes,
	}
}

// classified is implemented by EngineError and every type embedding it.
type classified interface {
	ErrorClass() ErrorClass
	ErrorCode() string
}

// ClassOf returns the class of the first classified error in the chain.
func ClassOf(err error) (ErrorClass, bool) {
	var c classified
	if errors.As(err, &c) {
		return c.ErrorClass(), true
	}
	return "", false
}

// CodeOf returns the code of the first classified error in the chain.
func CodeOf(err error) string {
	var c classified
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ""
}

// IsConfigurationError returns true if the error is classified as configuration.
func IsConfigurationError(err error) bool {
	class, ok := ClassOf(err)
	return ok && class == ErrorClassConfiguration
}

// IsDataError returns true if the error is classified as data.
func IsDataError(err error) bool {
	class, ok := ClassOf(err)
	return ok && class == ErrorClassData
}

// IsEvaluationError returns true if the error is classified as evaluation.
func IsEvaluationError(err error) bool {
	class, ok := ClassOf(err)
	return ok && class == ErrorClassEvaluation
}

// Process exit codes returned by ExitCode.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitValidation = 2
	ExitEvaluation = 3
)

// ExitCode maps an error to a process exit code: 0 for nil, 2 for input
// validation failures, 3 for other engine errors, 1 for anything else.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch CodeOf(err) {
	case "":
		return ExitFailure
	case ErrCodeMissingInput, ErrCodeUnusedInput, ErrCodeConflictingColumn:
		return ExitValidation
	default:
		return ExitEvaluation
	}
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}
