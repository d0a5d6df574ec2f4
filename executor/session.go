// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package executor

import (
	"fmt"
	"strings"

	"github.com/gomlx/goinfer/allocators"
	"github.com/gomlx/goinfer/kernels"
	"github.com/gomlx/goinfer/plans"
	"github.com/gomlx/goinfer/profiling"
	"github.com/gomlx/goinfer/types/values"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FenceFactory creates the fence attached to a fenced value of a run.
// It is called once per fenced value id when a frame initializes.
type FenceFactory func(valueID int) values.Fence

// SessionOptions configure NewSession. The zero value gives a pooled
// allocator, memory patterns enabled, and no profiling or fences.
type SessionOptions struct {
	// Allocator backing frame allocations. Defaults to allocators.NewPooled().
	Allocator allocators.Allocator

	// Weights are session-constant values (initializers), keyed by plan
	// value name. Every frame of the session is seeded with them.
	Weights map[string]*values.Value

	// DisableMemoryPatterns turns off memory-pattern capture and replay.
	DisableMemoryPatterns bool

	// EnableProfiling records per-node and per-run timing events,
	// retrievable with SessionState.Profiler.
	EnableProfiling bool

	// FenceFactory creates fences for values the plan marks as fenced.
	// When nil, internally produced values carry no fences (feeds may
	// still carry their own).
	FenceFactory FenceFactory
}

// SessionState is everything shared by the runs of one compiled model:
// the immutable plan, the kernel bound to each node, the weights, the
// allocator, and the memory-pattern cache. Create it once with NewSession
// and run it from as many goroutines as needed.
type SessionState struct {
	plan       *plans.Plan
	allocator  allocators.Allocator
	kernels    []kernels.Kernel
	kernelDefs []kernels.Def
	weights    map[int]*values.Value
	patterns   *allocators.PatternCache
	profiler   *profiling.Profiler

	fenceFactory   FenceFactory
	memoryPatterns bool
}

// NewSession binds a kernel to every plan node and returns the shared
// session state.
//
// Nodes whose (op, provider) pair has no registered kernel are left
// unbound — the defect surfaces as ErrMissingKernel when a run reaches the
// node, or earlier via Validate. A kernel builder failure, by contrast,
// fails NewSession.
func NewSession(plan *plans.Plan, opts *SessionOptions) (*SessionState, error) {
	if plan == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "NewSession: nil plan")
	}
	if opts == nil {
		opts = &SessionOptions{}
	}
	state := &SessionState{
		plan:           plan,
		allocator:      opts.Allocator,
		kernels:        make([]kernels.Kernel, plan.NumNodes()),
		kernelDefs:     make([]kernels.Def, plan.NumNodes()),
		weights:        make(map[int]*values.Value, len(opts.Weights)),
		patterns:       allocators.NewPatternCache(),
		fenceFactory:   opts.FenceFactory,
		memoryPatterns: !opts.DisableMemoryPatterns,
	}
	if state.allocator == nil {
		state.allocator = allocators.NewPooled()
	}
	if opts.EnableProfiling {
		state.profiler = profiling.New()
	}

	for name, value := range opts.Weights {
		id, found := plan.ValueIndex(name)
		if !found {
			return nil, errors.Wrapf(ErrInvalidArgument, "NewSession: weight %q is not a value of plan %q", name, plan.Name())
		}
		if value == nil {
			return nil, errors.Wrapf(ErrInvalidArgument, "NewSession: weight %q is nil", name)
		}
		state.weights[id] = value
	}

	for idx := 0; idx < plan.NumNodes(); idx++ {
		node := plan.Node(idx)
		def, builder, found := kernels.Lookup(node.OpType, node.Provider)
		if !found {
			klog.V(1).Infof("session %q: no kernel registered for node %q (op %s, provider %q)",
				plan.Name(), node.Name, node.OpType, node.Provider)
			continue
		}
		kernel, err := builder(node)
		if err != nil {
			return nil, errors.WithMessagef(err, "NewSession: building kernel for node %q (op %s, provider %q)",
				node.Name, node.OpType, node.Provider)
		}
		state.kernels[idx] = kernel
		state.kernelDefs[idx] = def
	}
	klog.V(1).Infof("session %q: %d nodes, %d values, %d weights, allocator=%s, patterns=%v, profiling=%v",
		plan.Name(), plan.NumNodes(), plan.NumValues(), len(state.weights),
		state.allocator.Name(), state.memoryPatterns, state.profiler.Enabled())
	return state, nil
}

// Plan returns the session's immutable plan.
func (s *SessionState) Plan() *plans.Plan { return s.plan }

// Allocator returns the allocator shared by the session's frames.
func (s *SessionState) Allocator() allocators.Allocator { return s.allocator }

// Kernel returns the kernel bound to the node and its definition. The
// kernel is nil if the node has no binding.
func (s *SessionState) Kernel(nodeIndex int) (kernels.Kernel, kernels.Def) {
	return s.kernels[nodeIndex], s.kernelDefs[nodeIndex]
}

// Profiler returns the session's profiler, nil unless profiling was
// enabled in SessionOptions.
func (s *SessionState) Profiler() *profiling.Profiler { return s.profiler }

// PatternCache returns the session's memory-pattern cache.
func (s *SessionState) PatternCache() *allocators.PatternCache { return s.patterns }

// Validate reports, wrapped in ErrMissingKernel, every node without a
// bound kernel. Runs fail lazily at the first such node; Validate lets
// callers fail fast instead.
func (s *SessionState) Validate() error {
	var missing []string
	for idx, kernel := range s.kernels {
		if kernel == nil {
			node := s.plan.Node(idx)
			missing = append(missing, fmt.Sprintf("%q (op %s, provider %q)", node.Name, node.OpType, node.Provider))
		}
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrMissingKernel, "session %q: no kernel bound for %s",
			s.plan.Name(), strings.Join(missing, ", "))
	}
	return nil
}
