// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"github.com/gomlx/goinfer/kernels"
	"github.com/gomlx/goinfer/plans"
	"github.com/gomlx/goinfer/types/values"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// podNumeric are the plain-old-data element types the arithmetic kernels
// operate on. Float16 is not included: it is not a native Go numeric type,
// Cast converts through float32 instead.
type podNumeric interface {
	constraints.Integer | constraints.Float
}

type binaryOp int

const (
	opAdd binaryOp = iota
	opMul
)

// String implements fmt.Stringer.
func (op binaryOp) String() string {
	switch op {
	case opAdd:
		return "Add"
	case opMul:
		return "Mul"
	}
	return "?"
}

type binaryKernel struct {
	op binaryOp
}

func newBinary(op binaryOp) kernels.Builder {
	return func(node *plans.Node) (kernels.Kernel, error) {
		if len(node.Inputs) != 2 || len(node.Outputs) != 1 {
			return nil, errors.Errorf("%s expects 2 inputs and 1 output, node %q has %d and %d",
				op, node.Name, len(node.Inputs), len(node.Outputs))
		}
		return binaryKernel{op: op}, nil
	}
}

// Compute implements kernels.Kernel.
func (k binaryKernel) Compute(ctx *kernels.Context) error {
	lhs, err := ctx.InputTensor(0)
	if err != nil {
		return err
	}
	rhs, err := ctx.InputTensor(1)
	if err != nil {
		return err
	}
	if lhs.DType() != rhs.DType() {
		return errors.Errorf("%s: mismatched dtypes %s and %s", k.op, lhs.DType(), rhs.DType())
	}
	if !lhs.Shape().Equal(rhs.Shape()) && rhs.Size() != 1 {
		return errors.Errorf("%s: shapes %s and %s are incompatible (only a size-1 rhs is broadcast)",
			k.op, lhs.Shape(), rhs.Shape())
	}
	out, err := ctx.Output(0, lhs.Shape())
	if err != nil {
		return err
	}
	switch lhs.DType() {
	case dtypes.Float32:
		binaryFlat(k.op, values.Flat[float32](lhs), values.Flat[float32](rhs), values.Flat[float32](out))
	case dtypes.Float64:
		binaryFlat(k.op, values.Flat[float64](lhs), values.Flat[float64](rhs), values.Flat[float64](out))
	case dtypes.Int32:
		binaryFlat(k.op, values.Flat[int32](lhs), values.Flat[int32](rhs), values.Flat[int32](out))
	case dtypes.Int64:
		binaryFlat(k.op, values.Flat[int64](lhs), values.Flat[int64](rhs), values.Flat[int64](out))
	default:
		return errors.Errorf("%s: dtype %s not supported by the cpu kernels", k.op, lhs.DType())
	}
	return nil
}

func binaryFlat[T podNumeric](op binaryOp, lhs, rhs, dst []T) {
	if len(rhs) == 1 {
		c := rhs[0]
		switch op {
		case opAdd:
			for i, v := range lhs {
				dst[i] = v + c
			}
		case opMul:
			for i, v := range lhs {
				dst[i] = v * c
			}
		}
		return
	}
	switch op {
	case opAdd:
		for i, v := range lhs {
			dst[i] = v + rhs[i]
		}
	case opMul:
		for i, v := range lhs {
			dst[i] = v * rhs[i]
		}
	}
}

type reluKernel struct{}

func newRelu(node *plans.Node) (kernels.Kernel, error) {
	if len(node.Inputs) != 1 || len(node.Outputs) != 1 {
		return nil, errors.Errorf("Relu expects 1 input and 1 output, node %q has %d and %d",
			node.Name, len(node.Inputs), len(node.Outputs))
	}
	return reluKernel{}, nil
}

// Compute implements kernels.Kernel.
func (reluKernel) Compute(ctx *kernels.Context) error {
	in, err := ctx.InputTensor(0)
	if err != nil {
		return err
	}
	out, err := ctx.Output(0, in.Shape())
	if err != nil {
		return err
	}
	switch in.DType() {
	case dtypes.Float32:
		reluFlat(values.Flat[float32](in), values.Flat[float32](out))
	case dtypes.Float64:
		reluFlat(values.Flat[float64](in), values.Flat[float64](out))
	case dtypes.Int32:
		reluFlat(values.Flat[int32](in), values.Flat[int32](out))
	case dtypes.Int64:
		reluFlat(values.Flat[int64](in), values.Flat[int64](out))
	default:
		return errors.Errorf("Relu: dtype %s not supported by the cpu kernels", in.DType())
	}
	return nil
}

func reluFlat[T podNumeric](src, dst []T) {
	var zero T
	for i, v := range src {
		if v > zero {
			dst[i] = v
		} else {
			dst[i] = zero
		}
	}
}

type identityKernel struct{}

func newIdentity(node *plans.Node) (kernels.Kernel, error) {
	if len(node.Inputs) != 1 || len(node.Outputs) != 1 {
		return nil, errors.Errorf("Identity expects 1 input and 1 output, node %q has %d and %d",
			node.Name, len(node.Inputs), len(node.Outputs))
	}
	return identityKernel{}, nil
}

// Compute implements kernels.Kernel. Tensors are copied so the output has
// its own storage and release schedules of input and output stay
// independent; non-tensor values pass through by reference.
func (identityKernel) Compute(ctx *kernels.Context) error {
	v := ctx.Input(0)
	if v == nil {
		return errors.Errorf("Identity: input 0 is absent or not live")
	}
	if !v.IsTensor() {
		return ctx.SetOutput(0, v)
	}
	in := v.Tensor()
	out, err := ctx.Output(0, in.Shape())
	if err != nil {
		return err
	}
	out.CopyFrom(in)
	return nil
}
