// Package engine provides the dependency-driven computation engine behind taxgraph.
//
// # Overview
//
// A computation is described by named nodes. Each node declares the names it
// consumes and produces one column of the same length as the input data.
// Given a set of target names the engine:
//
//  1. Resolve - Select the version of every function active at the policy date (Registry)
//  2. Override - Layer per-call overrides and declared data columns on top (FunctionSet)
//  3. Build - Walk back from the targets and build the minimal DAG (GraphBuilder)
//  4. Validate - Check that every leaf column and parameter is supplied (ValidateInputs)
//  5. Execute - Evaluate nodes in topological order, vectorized over all rows (Executor)
//  6. Result - Return the target columns, plus failures in debug mode (Result)
//
// # Nodes
//
//   - Function: a Func over input columns and parameters
//   - Aggregation: a group reduction (sum, count, any, all, max, min, mean, custom)
//     broadcast back to every member row, e.g. from persons to households
//   - Column: a literal column, used as an override that turns a name into a leaf
//
// # Error Classification
//
// Errors are classified by what went wrong:
//
//   - Configuration: cycles, ambiguous or inactive versions, invalid nodes. Always fatal.
//   - Data: missing or unused inputs, conflicting columns, null group keys
//   - Evaluation: failing or panicking functions, wrongly shaped outputs
//
// Every typed error matches its sentinel with errors.Is:
//
//	if errors.Is(err, engine.ErrMissingInput) {
//	    var missing *engine.MissingInputError
//	    errors.As(err, &missing)
//	}
//
// # Debug Mode
//
// With Options.Debug set, data and evaluation failures do not abort the call.
// Failed nodes and every dependent are recorded in Result.Errors and all other
// nodes still run.
//
// # Thread Safety
//
// A Registry and FunctionSet are read-only once built and may be shared.
// Each Compute call builds its own graph and column store and runs on the
// calling goroutine.
package engine
