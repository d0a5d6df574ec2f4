// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cpu provides the reference kernels for the "cpu" provider:
// plain Go loops, written for clarity over speed. Importing the package
// registers them:
//
//	import _ "github.com/gomlx/goinfer/kernels/cpu"
//
// The set covers the op types emitted by the plan builders in this repo:
// Identity, Add, Mul, Relu, MatMul, Cast, Softmax and Reshape. Element-wise
// ops accept any pair of equal shapes plus the common case of a size-1
// right-hand side, which is broadcast.
package cpu

import (
	"github.com/gomlx/goinfer/kernels"
	"github.com/gomlx/goinfer/plans"
)

func init() {
	kernels.Register(kernels.Def{Op: "Identity", Provider: plans.CPUProvider}, newIdentity)
	kernels.Register(kernels.Def{Op: "Add", Provider: plans.CPUProvider}, newBinary(opAdd))
	kernels.Register(kernels.Def{Op: "Mul", Provider: plans.CPUProvider}, newBinary(opMul))
	kernels.Register(kernels.Def{Op: "Relu", Provider: plans.CPUProvider}, newRelu)
	kernels.Register(kernels.Def{Op: "MatMul", Provider: plans.CPUProvider}, newMatMul)
	kernels.Register(kernels.Def{Op: "Cast", Provider: plans.CPUProvider}, newCast)
	kernels.Register(kernels.Def{Op: "Softmax", Provider: plans.CPUProvider}, newSoftmax)

	// Reshape reads its target shape on the host, whatever provider the
	// node claims: input 1 is declared host-visible.
	kernels.Register(kernels.Def{
		Op:       "Reshape",
		Provider: plans.CPUProvider,
		InputMem: map[int]kernels.MemType{1: kernels.MemTypeCPUInput},
	}, newReshape)
}
