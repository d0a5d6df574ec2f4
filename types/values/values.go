// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package values defines Value, the unit of data flowing through an
// inference run, and Tensor, its dense host-memory representation.
//
// A Value is what execution frames store in their slots, what callers feed
// into a run, and what kernels read and write. Most values wrap a Tensor;
// a Value may instead carry an opaque payload (e.g. a sequence or map type
// produced by a non-tensor kernel), which executes fine but disables
// tensor-only machinery such as memory-pattern capture.
//
// A Value optionally carries a Fence used to order accesses to it across
// execution queues. See Fence.
package values

import (
	"fmt"

	"github.com/gomlx/goinfer/types/shapes"
)

// Value is a single runtime value: a Tensor or an opaque payload, plus an
// optional synchronization Fence.
//
// Values are created with FromTensor or FromOpaque. The zero value is empty
// and invalid.
type Value struct {
	tensor *Tensor
	opaque any
	fence  Fence
}

// FromTensor wraps a tensor as a Value.
func FromTensor(t *Tensor) *Value {
	return &Value{tensor: t}
}

// FromOpaque wraps a non-tensor payload as a Value.
func FromOpaque(payload any) *Value {
	return &Value{opaque: payload}
}

// IsTensor reports whether the value holds a Tensor.
func (v *Value) IsTensor() bool { return v != nil && v.tensor != nil }

// Tensor returns the underlying tensor, or nil if the value is opaque.
func (v *Value) Tensor() *Tensor { return v.tensor }

// Opaque returns the opaque payload, or nil if the value holds a tensor.
func (v *Value) Opaque() any { return v.opaque }

// Shape returns the tensor's shape, or the invalid shape for opaque values.
func (v *Value) Shape() shapes.Shape {
	if !v.IsTensor() {
		return shapes.Invalid()
	}
	return v.tensor.Shape()
}

// Fence returns the fence attached to this value, or nil.
func (v *Value) Fence() Fence { return v.fence }

// SetFence attaches a fence to this value. Passing nil detaches it.
func (v *Value) SetFence(f Fence) { v.fence = f }

// String implements fmt.Stringer.
func (v *Value) String() string {
	if v == nil {
		return "Value(nil)"
	}
	if v.IsTensor() {
		return fmt.Sprintf("Value(%s)", v.tensor.Shape())
	}
	if v.opaque != nil {
		return fmt.Sprintf("Value(opaque %T)", v.opaque)
	}
	return "Value(empty)"
}
