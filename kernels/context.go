// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/goinfer/plans"
	"github.com/gomlx/goinfer/types/shapes"
	"github.com/gomlx/goinfer/types/values"
	"github.com/pkg/errors"
)

// Context is the per-node view a kernel computes through: its node's
// explicit inputs, implicit inputs, and outputs, backed by the run's
// execution frame. Inputs are borrowed references, never ownership;
// outputs are lazily materialized through the frame on first access.
//
// A Context is built by the executor for one Compute call and must not be
// retained past it.
type Context struct {
	frame Frame
	node  *plans.Node
}

// NewContext returns a Context for running node against frame.
func NewContext(frame Frame, node *plans.Node) *Context {
	return &Context{frame: frame, node: node}
}

// Node being computed.
func (c *Context) Node() *plans.Node { return c.node }

// NumInputs is the number of declared inputs, including absent optional
// ones.
func (c *Context) NumInputs() int { return len(c.node.Inputs) }

// Input returns the i-th input value, or nil if the input is an absent
// optional argument or its value is not live.
func (c *Context) Input(i int) *values.Value {
	if i < 0 || i >= len(c.node.Inputs) {
		exceptions.Panicf("Context.Input(%d): node %q has %d inputs", i, c.node.Name, len(c.node.Inputs))
	}
	id := c.node.Inputs[i]
	if id < 0 {
		return nil
	}
	return c.frame.Value(id)
}

// InputTensor returns the i-th input as a tensor, failing if the input is
// absent, not live, or not a tensor.
func (c *Context) InputTensor(i int) (*values.Tensor, error) {
	v := c.Input(i)
	if v == nil {
		return nil, errors.Errorf("node %q (%s): input %d is absent or not live", c.node.Name, c.node.OpType, i)
	}
	if !v.IsTensor() {
		return nil, errors.Errorf("node %q (%s): input %d is not a tensor", c.node.Name, c.node.OpType, i)
	}
	return v.Tensor(), nil
}

// NumImplicitInputs is the number of implicit inputs (values captured from
// an enclosing scope).
func (c *Context) NumImplicitInputs() int { return len(c.node.ImplicitInputs) }

// ImplicitInput returns the i-th implicit input value, or nil if not live.
func (c *Context) ImplicitInput(i int) *values.Value {
	if i < 0 || i >= len(c.node.ImplicitInputs) {
		exceptions.Panicf("Context.ImplicitInput(%d): node %q has %d implicit inputs",
			i, c.node.Name, len(c.node.ImplicitInputs))
	}
	id := c.node.ImplicitInputs[i]
	if id < 0 {
		return nil
	}
	return c.frame.Value(id)
}

// NumOutputs is the number of declared outputs.
func (c *Context) NumOutputs() int { return len(c.node.Outputs) }

// Output materializes the i-th output as a tensor of the given shape and
// returns it for the kernel to fill. If the output slot is already live
// the existing tensor is returned; its shape must match.
func (c *Context) Output(i int, shape shapes.Shape) (*values.Tensor, error) {
	if i < 0 || i >= len(c.node.Outputs) {
		exceptions.Panicf("Context.Output(%d): node %q has %d outputs", i, c.node.Name, len(c.node.Outputs))
	}
	id := c.node.Outputs[i]
	if id < 0 {
		return nil, errors.Errorf("node %q (%s): output %d is optional and was not requested",
			c.node.Name, c.node.OpType, i)
	}
	v, err := c.frame.MaterializeTensor(id, shape)
	if err != nil {
		return nil, err
	}
	return v.Tensor(), nil
}

// OutputValue returns the i-th output's current value, or nil if it has
// not been materialized yet.
func (c *Context) OutputValue(i int) *values.Value {
	if i < 0 || i >= len(c.node.Outputs) {
		exceptions.Panicf("Context.OutputValue(%d): node %q has %d outputs", i, c.node.Name, len(c.node.Outputs))
	}
	id := c.node.Outputs[i]
	if id < 0 {
		return nil
	}
	return c.frame.Value(id)
}

// SetOutput binds a kernel-provided value — typically an opaque non-tensor
// or an alias of an input — to the i-th output. The frame never reclaims
// storage bound this way.
func (c *Context) SetOutput(i int, v *values.Value) error {
	if i < 0 || i >= len(c.node.Outputs) {
		exceptions.Panicf("Context.SetOutput(%d): node %q has %d outputs", i, c.node.Name, len(c.node.Outputs))
	}
	id := c.node.Outputs[i]
	if id < 0 {
		return errors.Errorf("node %q (%s): output %d is optional and was not requested",
			c.node.Name, c.node.OpType, i)
	}
	return c.frame.PutValue(id, v)
}
