package engine

import (
	"context"
	"time"
)

// Observer receives progress callbacks from Compute. Implementations must not
// block; they run on the computing goroutine.
type Observer interface {
	// ComputeStarted is called once the graph is built, before validation.
	ComputeStarted(ctx context.Context, targets []string, nodes int)

	// NodeFinished is called after each non-leaf node reaches a terminal status.
	NodeFinished(ctx context.Context, name string, kind NodeKind, status NodeStatus, d time.Duration, err error)

	// ComputeFinished is called exactly once per Compute call.
	ComputeFinished(ctx context.Context, status RunStatus, d time.Duration, err error)
}

// nopObserver discards every callback.
type nopObserver struct{}

func (nopObserver) ComputeStarted(context.Context, []string, int) {}

func (nopObserver) NodeFinished(context.Context, string, NodeKind, NodeStatus, time.Duration, error) {
}

func (nopObserver) ComputeFinished(context.Context, RunStatus, time.Duration, error) {}

// MultiObserver fans callbacks out to several observers in order.
type MultiObserver []Observer

// ComputeStarted implements Observer.
func (m MultiObserver) ComputeStarted(ctx context.Context, targets []string, nodes int) {
	for _, o := range m {
		o.ComputeStarted(ctx, targets, nodes)
	}
}

// NodeFinished implements Observer.
func (m MultiObserver) NodeFinished(ctx context.Context, name string, kind NodeKind, status NodeStatus, d time.Duration, err error) {
	for _, o := range m {
		o.NodeFinished(ctx, name, kind, status, d, err)
	}
}

// ComputeFinished implements Observer.
func (m MultiObserver) ComputeFinished(ctx context.Context, status RunStatus, d time.Duration, err error) {
	for _, o := range m {
		o.ComputeFinished(ctx, status, d, err)
	}
}
