// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package executor drives inference runs: given a session (immutable plan
// plus bound kernels, weights, and allocator) and per-run feeds, the
// sequential executor walks the plan in order, dispatching each node's
// kernel, synchronizing fences around it, and releasing values the moment
// the release schedule says they are dead.
//
// One run is strictly sequential and occupies its goroutine for its whole
// duration; any number of runs of the same session may proceed
// concurrently, each on its own Frame.
package executor

import (
	"context"
	"time"

	"github.com/gomlx/goinfer/allocators"
	"github.com/gomlx/goinfer/kernels"
	"github.com/gomlx/goinfer/plans"
	"github.com/gomlx/goinfer/profiling"
	"github.com/gomlx/goinfer/types/values"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// RunOptions configure one run. The zero value (or nil) is valid.
type RunOptions struct {
	// Terminate, when set during the run, cancels it at the next node
	// boundary with ErrCancelled. Optional; the run's context is checked
	// at the same points regardless.
	Terminate *TerminateFlag

	// Tag labels the run in logs. Defaults to the plan name.
	Tag string

	// FetchAllocators, keyed by fetch position, place the corresponding
	// output into storage from the given allocator instead of handing out
	// the frame's own value.
	FetchAllocators map[int]allocators.Allocator
}

// Executor runs a session's plan once per Run call.
//
// Feeds are given as parallel feedIDs/feeds slices; fetchIDs lists the
// value ids to return, in order. On success the returned values align
// with fetchIDs; on failure the returned slice is nil and the error wraps
// one of the executor's sentinel errors or carries a KernelError or
// ReleaseError.
type Executor interface {
	Run(ctx context.Context, state *SessionState, feedIDs []int, feeds []*values.Value,
		fetchIDs []int, opts *RunOptions) ([]*values.Value, error)
}

// Sequential is the plan-order executor: nodes run one at a time, exactly
// in the order the plan lists them. It is stateless; the zero value is
// ready to use and safe for concurrent Run calls.
type Sequential struct{}

// Compile-time check:
var _ Executor = Sequential{}

// Run executes the session's plan once. See Executor.
func (Sequential) Run(ctx context.Context, state *SessionState, feedIDs []int, feeds []*values.Value,
	fetchIDs []int, opts *RunOptions) ([]*values.Value, error) {
	if state == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "Run: nil session state")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if opts == nil {
		opts = &RunOptions{}
	}
	tag := opts.Tag
	if tag == "" {
		tag = state.plan.Name()
	}

	prof := state.profiler
	profEnabled := prof.Enabled()
	runStart := prof.Start()

	frame, err := NewFrame(state, feedIDs, feeds, fetchIDs, opts.FetchAllocators)
	if err != nil {
		return nil, err
	}
	defer frame.Finalize()
	klog.V(1).Infof("run %q: %d feeds, %d fetches, %d nodes", tag, len(feeds), len(fetchIDs), state.plan.NumNodes())

	for _, step := range state.plan.Steps() {
		node := state.plan.Node(step.Node)
		if opts.Terminate.IsSet() {
			klog.Warningf("run %q: exiting due to terminate flag being set", tag)
			return nil, errors.Wrapf(ErrCancelled, "run %q: terminate flag set before node %d (%q)",
				tag, node.Index, node.Name)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			klog.Warningf("run %q: exiting, context done: %v", tag, ctxErr)
			return nil, errors.Wrapf(ErrCancelled, "run %q: context done before node %d (%q): %v",
				tag, node.Index, node.Name, ctxErr)
		}

		kernel, def := state.Kernel(node.Index)
		if kernel == nil {
			return nil, errors.Wrapf(ErrMissingKernel, "run %q: no kernel bound for node %q (op %s, provider %q)",
				tag, node.Name, node.OpType, node.Provider)
		}
		kernelCtx := kernels.NewContext(frame, node)

		var syncStart time.Time
		if profEnabled {
			syncStart = prof.Start()
		}
		if node.RequiresFence {
			fenceBeforeCompute(frame, node, def)
		}
		if profEnabled {
			prof.Record(profiling.CategoryNode, node.Name+"_fence_before", syncStart,
				map[string]string{"op_name": node.OpType})
		}

		klog.V(2).Infof("run %q: computing node %d %q (%s) on %q", tag, node.Index, node.Name, node.OpType, node.Provider)
		var computeStart time.Time
		if profEnabled {
			computeStart = prof.Start()
		}
		if computeErr := kernel.Compute(kernelCtx); computeErr != nil {
			kernelErr := &KernelError{Node: node.Name, Op: node.OpType, Err: computeErr}
			klog.Errorf("run %q: %v", tag, kernelErr)
			return nil, kernelErr
		}
		if profEnabled {
			prof.Record(profiling.CategoryNode, node.Name+"_kernel_time", computeStart,
				map[string]string{"op_name": node.OpType, "provider": node.Provider})
			syncStart = prof.Start()
		}
		if node.RequiresFence {
			fenceAfterCompute(frame, node)
		}
		if profEnabled {
			prof.Record(profiling.CategoryNode, node.Name+"_fence_after", syncStart,
				map[string]string{"op_name": node.OpType})
		}

		if releaseErr := releaseNodeValues(frame, state.plan, step, node); releaseErr != nil {
			klog.Errorf("run %q: %v", tag, releaseErr)
			return nil, releaseErr
		}
	}

	klog.V(2).Infof("run %q: fetching %d outputs", tag, len(fetchIDs))
	fetches, err := frame.CollectOutputs()
	if err != nil {
		return nil, err
	}
	if pattern := frame.CaptureMemoryPattern(); pattern != nil {
		state.patterns.Store(frame.FeedsSignature(), pattern)
		klog.V(1).Infof("run %q: cached memory pattern %s for feeds %q", tag, pattern, frame.FeedsSignature())
	}
	if profEnabled {
		prof.Record(profiling.CategorySession, "SequentialExecutor.Run", runStart, nil)
	}
	return fetches, nil
}

// fenceBeforeCompute waits on the fences of the node's values: explicit
// inputs, then implicit inputs, then outputs, in declaration order. Input
// waits target the node's provider, except inputs the kernel declares as
// host-visible, which target the CPU provider — that is where the kernel
// will actually read them. Output waits always target the node's provider.
func fenceBeforeCompute(frame *Frame, node *plans.Node, def kernels.Def) {
	for i, id := range node.Inputs {
		if id < 0 {
			continue
		}
		if fence := frame.ValueFence(id); fence != nil {
			provider := node.Provider
			if def.InputMemType(i) == kernels.MemTypeCPUInput {
				provider = plans.CPUProvider
			}
			fence.BeforeUsingAsInput(provider, node.Queue)
		}
	}
	for i, id := range node.ImplicitInputs {
		if id < 0 {
			continue
		}
		if fence := frame.ValueFence(id); fence != nil {
			provider := node.Provider
			if def.InputMemType(i) == kernels.MemTypeCPUInput {
				provider = plans.CPUProvider
			}
			fence.BeforeUsingAsInput(provider, node.Queue)
		}
	}
	for _, id := range node.Outputs {
		if id < 0 {
			continue
		}
		if fence := frame.ValueFence(id); fence != nil {
			fence.BeforeUsingAsOutput(node.Provider, node.Queue)
		}
	}
}

// fenceAfterCompute records the completed accesses on the same value set,
// in the same order as fenceBeforeCompute.
func fenceAfterCompute(frame *Frame, node *plans.Node) {
	for _, id := range node.Inputs {
		if id < 0 {
			continue
		}
		if fence := frame.ValueFence(id); fence != nil {
			fence.AfterUsedAsInput(node.Queue)
		}
	}
	for _, id := range node.ImplicitInputs {
		if id < 0 {
			continue
		}
		if fence := frame.ValueFence(id); fence != nil {
			fence.AfterUsedAsInput(node.Queue)
		}
	}
	for _, id := range node.Outputs {
		if id < 0 {
			continue
		}
		if fence := frame.ValueFence(id); fence != nil {
			fence.AfterUsedAsOutput(node.Queue)
		}
	}
}

// releaseNodeValues releases the step's range of the release schedule, in
// ascending order. A failure is wrapped in a ReleaseError naming the node.
func releaseNodeValues(frame *Frame, plan *plans.Plan, step plans.Step, node *plans.Node) error {
	toBeFreed := plan.ToBeFreed()
	for i := step.FreeFrom; i <= step.FreeTo; i++ {
		id := toBeFreed[i]
		if err := frame.Release(id); err != nil {
			return &ReleaseError{ValueID: id, ValueName: plan.ValueName(id), Node: node.Name, Err: err}
		}
	}
	return nil
}
