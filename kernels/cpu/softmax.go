// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"math"

	"github.com/gomlx/goinfer/kernels"
	"github.com/gomlx/goinfer/plans"
	"github.com/gomlx/goinfer/types/values"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// softmaxKernel normalizes over the axis given by the "axis" attribute,
// default -1. Only the last axis is supported.
type softmaxKernel struct {
	axis int
}

func newSoftmax(node *plans.Node) (kernels.Kernel, error) {
	if len(node.Inputs) != 1 || len(node.Outputs) != 1 {
		return nil, errors.Errorf("Softmax expects 1 input and 1 output, node %q has %d and %d",
			node.Name, len(node.Inputs), len(node.Outputs))
	}
	return softmaxKernel{axis: plans.AttrOr(node, "axis", -1)}, nil
}

// Compute implements kernels.Kernel.
func (k softmaxKernel) Compute(ctx *kernels.Context) error {
	in, err := ctx.InputTensor(0)
	if err != nil {
		return err
	}
	rank := in.Shape().Rank()
	if rank < 1 {
		return errors.Errorf("Softmax: wants rank >= 1, got %s", in.Shape())
	}
	axis := k.axis
	if axis < 0 {
		axis += rank
	}
	if axis != rank-1 {
		return errors.Errorf("Softmax: only the last axis is supported, got axis %d of %s", k.axis, in.Shape())
	}
	out, err := ctx.Output(0, in.Shape())
	if err != nil {
		return err
	}
	rowSize := in.Shape().Dim(-1)
	switch in.DType() {
	case dtypes.Float32:
		softmaxFlat(rowSize, values.Flat[float32](in), values.Flat[float32](out))
	case dtypes.Float64:
		softmaxFlat(rowSize, values.Flat[float64](in), values.Flat[float64](out))
	default:
		return errors.Errorf("Softmax: dtype %s not supported by the cpu kernels", in.DType())
	}
	return nil
}

// softmaxFlat shifts each row by its max before exponentiating, so large
// logits don't overflow.
func softmaxFlat[T constraints.Float](rowSize int, src, dst []T) {
	for start := 0; start < len(src); start += rowSize {
		row := src[start : start+rowSize]
		out := dst[start : start+rowSize]
		maxV := row[0]
		for _, v := range row[1:] {
			if v > maxV {
				maxV = v
			}
		}
		var sum T
		for i, v := range row {
			e := T(math.Exp(float64(v - maxV)))
			out[i] = e
			sum += e
		}
		inv := 1 / sum
		for i := range out {
			out[i] *= inv
		}
	}
}
