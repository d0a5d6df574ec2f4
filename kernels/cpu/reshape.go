// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"github.com/gomlx/goinfer/kernels"
	"github.com/gomlx/goinfer/plans"
	"github.com/gomlx/goinfer/types/shapes"
	"github.com/gomlx/goinfer/types/values"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

type reshapeKernel struct{}

func newReshape(node *plans.Node) (kernels.Kernel, error) {
	if len(node.Inputs) != 2 || len(node.Outputs) != 1 {
		return nil, errors.Errorf("Reshape expects 2 inputs and 1 output, node %q has %d and %d",
			node.Name, len(node.Inputs), len(node.Outputs))
	}
	return reshapeKernel{}, nil
}

// Compute implements kernels.Kernel. Input 1 holds the target dimensions
// as int64: one entry may be -1, inferred from the remaining size, and a 0
// copies the input dimension at the same position.
func (reshapeKernel) Compute(ctx *kernels.Context) error {
	in, err := ctx.InputTensor(0)
	if err != nil {
		return err
	}
	shapeTensor, err := ctx.InputTensor(1)
	if err != nil {
		return err
	}
	if shapeTensor.DType() != dtypes.Int64 {
		return errors.Errorf("Reshape: shape input must be Int64, got %s", shapeTensor.Shape())
	}

	target := values.Flat[int64](shapeTensor)
	dims := make([]int, len(target))
	inferAt := -1
	known := 1
	for i, d := range target {
		switch {
		case d == -1:
			if inferAt >= 0 {
				return errors.Errorf("Reshape: target %v has more than one -1", target)
			}
			inferAt = i
			dims[i] = 1
		case d == 0:
			if i >= in.Shape().Rank() {
				return errors.Errorf("Reshape: target %v copies dimension %d, but input is %s", target, i, in.Shape())
			}
			dims[i] = in.Shape().Dim(i)
		case d > 0:
			dims[i] = int(d)
		default:
			return errors.Errorf("Reshape: target %v has invalid dimension %d", target, d)
		}
		known *= dims[i]
	}
	if inferAt >= 0 {
		if in.Size()%known != 0 {
			return errors.Errorf("Reshape: cannot infer -1 in %v, input %s has %d elements", target, in.Shape(), in.Size())
		}
		dims[inferAt] = in.Size() / known
	} else if known != in.Size() {
		return errors.Errorf("Reshape: target %v has %d elements, input %s has %d", target, known, in.Shape(), in.Size())
	}

	out, err := ctx.Output(0, shapes.Make(in.DType(), dims...))
	if err != nil {
		return err
	}
	out.CopyFlatFrom(in)
	return nil
}
