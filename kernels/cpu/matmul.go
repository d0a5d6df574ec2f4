// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"github.com/gomlx/goinfer/kernels"
	"github.com/gomlx/goinfer/plans"
	"github.com/gomlx/goinfer/types/shapes"
	"github.com/gomlx/goinfer/types/values"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

type matMulKernel struct{}

func newMatMul(node *plans.Node) (kernels.Kernel, error) {
	if len(node.Inputs) != 2 || len(node.Outputs) != 1 {
		return nil, errors.Errorf("MatMul expects 2 inputs and 1 output, node %q has %d and %d",
			node.Name, len(node.Inputs), len(node.Outputs))
	}
	return matMulKernel{}, nil
}

// Compute implements kernels.Kernel: out[m,n] = lhs[m,k] · rhs[k,n].
func (matMulKernel) Compute(ctx *kernels.Context) error {
	lhs, err := ctx.InputTensor(0)
	if err != nil {
		return err
	}
	rhs, err := ctx.InputTensor(1)
	if err != nil {
		return err
	}
	if lhs.DType() != rhs.DType() {
		return errors.Errorf("MatMul: mismatched dtypes %s and %s", lhs.DType(), rhs.DType())
	}
	if lhs.Shape().Rank() != 2 || rhs.Shape().Rank() != 2 {
		return errors.Errorf("MatMul: wants rank-2 operands, got %s and %s", lhs.Shape(), rhs.Shape())
	}
	m, k := lhs.Shape().Dim(0), lhs.Shape().Dim(1)
	if rhs.Shape().Dim(0) != k {
		return errors.Errorf("MatMul: contracting dimensions disagree, %s vs %s", lhs.Shape(), rhs.Shape())
	}
	n := rhs.Shape().Dim(1)
	out, err := ctx.Output(0, shapes.Make(lhs.DType(), m, n))
	if err != nil {
		return err
	}
	switch lhs.DType() {
	case dtypes.Float32:
		matMulFlat(m, k, n, values.Flat[float32](lhs), values.Flat[float32](rhs), values.Flat[float32](out))
	case dtypes.Float64:
		matMulFlat(m, k, n, values.Flat[float64](lhs), values.Flat[float64](rhs), values.Flat[float64](out))
	default:
		return errors.Errorf("MatMul: dtype %s not supported by the cpu kernels", lhs.DType())
	}
	return nil
}

// matMulFlat walks in i,p,j order so the inner loop streams over contiguous
// rows of rhs and dst.
func matMulFlat[T constraints.Float](m, k, n int, lhs, rhs, dst []T) {
	for i := 0; i < m; i++ {
		row := dst[i*n : (i+1)*n]
		for j := range row {
			row[j] = 0
		}
		for p := 0; p < k; p++ {
			scale := lhs[i*k+p]
			rhsRow := rhs[p*n : (p+1)*n]
			for j, v := range rhsRow {
				row[j] += scale * v
			}
		}
	}
}
