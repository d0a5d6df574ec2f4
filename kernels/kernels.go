// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels defines the Kernel interface — the compute implementation
// bound to each plan node — its registry, and the Context through which a
// kernel reads its inputs and materializes its outputs during a run.
//
// Kernels are registered per (op type, provider) pair, usually during
// package initialization (see Register), and bound to nodes once when the
// session is created. The executor treats Compute as an opaque, possibly
// long-running, synchronous call.
package kernels

import (
	"github.com/gomlx/goinfer/types/shapes"
	"github.com/gomlx/goinfer/types/values"
)

// Kernel is the executable implementation bound to a node, invoked once
// per run. Implementations must be safe for concurrent Compute calls: one
// kernel instance is shared by all runs of its session.
type Kernel interface {
	// Compute runs the node. All data access goes through ctx; a non-nil
	// error aborts the run.
	Compute(ctx *Context) error
}

// MemType describes the memory an argument of a kernel lives in.
type MemType int

const (
	// MemTypeDefault is the provider's default memory.
	MemTypeDefault MemType = iota

	// MemTypeCPUInput marks an input the kernel reads on the host
	// regardless of the node's provider (e.g. a shape argument). Fence
	// synchronization for such inputs targets the CPU provider.
	MemTypeCPUInput

	// MemTypeCPUOutput marks an output the kernel writes to host-visible
	// memory.
	MemTypeCPUOutput
)

// String implements fmt.Stringer.
func (m MemType) String() string {
	switch m {
	case MemTypeDefault:
		return "default"
	case MemTypeCPUInput:
		return "cpu_input"
	case MemTypeCPUOutput:
		return "cpu_output"
	}
	return "unknown"
}

// Def is the static definition of a kernel binding: the op it implements,
// the provider it runs on, and any non-default memory types of its
// arguments, keyed by argument position.
type Def struct {
	Op       string
	Provider string

	InputMem  map[int]MemType
	OutputMem map[int]MemType
}

// InputMemType returns the memory type of the i-th input, MemTypeDefault
// if not declared.
func (d Def) InputMemType(i int) MemType { return d.InputMem[i] }

// OutputMemType returns the memory type of the i-th output, MemTypeDefault
// if not declared.
func (d Def) OutputMemType(i int) MemType { return d.OutputMem[i] }

// Frame is the per-run value store a Context operates on. It is
// implemented by the executor's execution frame; kernels never see value
// ids directly, only their node-relative argument positions.
type Frame interface {
	// Value returns the live value with the given id, or nil if the id is
	// unallocated or released.
	Value(id int) *values.Value

	// MaterializeTensor returns the value for id, allocating a tensor of
	// the given shape if the slot is unallocated. The frame owns the
	// allocation; the caller gets a borrowed reference.
	MaterializeTensor(id int, shape shapes.Shape) (*values.Value, error)

	// PutValue binds a kernel-provided value to id. The frame does not own
	// its backing storage (it may alias another slot) and will never
	// reclaim it.
	PutValue(id int, v *values.Value) error
}
