// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"github.com/gomlx/goinfer/kernels"
	"github.com/gomlx/goinfer/plans"
	"github.com/gomlx/goinfer/types/shapes"
	"github.com/gomlx/goinfer/types/values"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// castKernel converts to the dtype given by the "to" attribute. Float16 is
// converted through float32.
type castKernel struct {
	to dtypes.DType
}

func newCast(node *plans.Node) (kernels.Kernel, error) {
	if len(node.Inputs) != 1 || len(node.Outputs) != 1 {
		return nil, errors.Errorf("Cast expects 1 input and 1 output, node %q has %d and %d",
			node.Name, len(node.Inputs), len(node.Outputs))
	}
	to, err := plans.Attr[dtypes.DType](node, "to")
	if err != nil {
		return nil, err
	}
	switch to {
	case dtypes.Float16, dtypes.Float32, dtypes.Float64, dtypes.Int32, dtypes.Int64:
	default:
		return nil, errors.Errorf("Cast: node %q wants dtype %s, not supported by the cpu kernels",
			node.Name, to)
	}
	return castKernel{to: to}, nil
}

// Compute implements kernels.Kernel.
func (k castKernel) Compute(ctx *kernels.Context) error {
	in, err := ctx.InputTensor(0)
	if err != nil {
		return err
	}
	out, err := ctx.Output(0, shapes.Make(k.to, in.Shape().Dimensions...))
	if err != nil {
		return err
	}
	switch in.DType() {
	case dtypes.Float16:
		src := values.Flat[float16.Float16](in)
		widened := make([]float32, len(src))
		for i, v := range src {
			widened[i] = v.Float32()
		}
		return castSlice(widened, out)
	case dtypes.Float32:
		return castSlice(values.Flat[float32](in), out)
	case dtypes.Float64:
		return castSlice(values.Flat[float64](in), out)
	case dtypes.Int32:
		return castSlice(values.Flat[int32](in), out)
	case dtypes.Int64:
		return castSlice(values.Flat[int64](in), out)
	}
	return errors.Errorf("Cast: dtype %s not supported by the cpu kernels", in.DType())
}

func castSlice[From podNumeric](src []From, out *values.Tensor) error {
	switch out.DType() {
	case dtypes.Float16:
		dst := values.Flat[float16.Float16](out)
		for i, v := range src {
			dst[i] = float16.Fromfloat32(float32(v))
		}
	case dtypes.Float32:
		castFlat(src, values.Flat[float32](out))
	case dtypes.Float64:
		castFlat(src, values.Flat[float64](out))
	case dtypes.Int32:
		castFlat(src, values.Flat[int32](out))
	case dtypes.Int64:
		castFlat(src, values.Flat[int64](out))
	default:
		return errors.Errorf("Cast: dtype %s not supported by the cpu kernels", out.DType())
	}
	return nil
}

func castFlat[From, To podNumeric](src []From, dst []To) {
	for i, v := range src {
		dst[i] = To(v)
	}
}
