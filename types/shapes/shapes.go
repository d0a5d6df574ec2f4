// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the (DType, dimensions) pair that describes a
// dense value handled by the inference runtime.
//
// A Shape is what the execution frame needs to materialize a kernel output,
// what the memory-pattern records store, and what keys the pattern cache of
// shape-stable runs. DType is the data type enumeration from
// github.com/gomlx/gopjrt/dtypes, shared with the rest of the GoMLX family.
package shapes

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Shape of a dense value: a DType and the dimensions of each axis.
// A rank-0 (no dimensions) shape is a scalar.
//
// Create it with Make or Scalar; the zero value is invalid (Ok returns false).
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape with the given dtype and dimensions.
//
// It panics (an exceptions stack-trace panic) if any dimension is <= 0:
// shapes in the runtime are always fully known, there are no deferred or
// symbolic dimensions.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: dimensions}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s, %v): dimensions must be > 0", dtype, dimensions)
		}
	}
	return s
}

// Scalar returns a rank-0 shape for the Go type T.
func Scalar[T dtypes.Supported]() Shape {
	return Shape{DType: dtypes.FromGenericsType[T]()}
}

// Invalid returns the invalid shape, for which Ok is false.
func Invalid() Shape { return Shape{DType: dtypes.InvalidDType} }

// Ok reports whether the shape is valid. The zero value Shape{} is not.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank is the number of axes. Scalars have rank 0.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar reports whether the shape is valid and has rank 0.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. Negative axis values count
// from the end, like slice indexing in NumPy: Dim(-1) is the last axis.
func (s Shape) Dim(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d): out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjusted]
}

// Size is the number of elements the shape holds: the product of all
// dimensions, 1 for scalars.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// Memory is the number of bytes needed to store the flat data of the shape.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal reports whether both shapes have the same dtype and dimensions.
func (s Shape) Equal(other Shape) bool {
	if s.DType != other.DType || s.Rank() != other.Rank() {
		return false
	}
	for axis, dim := range s.Dimensions {
		if other.Dimensions[axis] != dim {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the shape, with its own dimensions slice.
func (s Shape) Clone() Shape {
	s2 := Shape{DType: s.DType}
	if s.Dimensions != nil {
		s2.Dimensions = make([]int, len(s.Dimensions))
		copy(s2.Dimensions, s.Dimensions)
	}
	return s2
}

// Shape returns the shape itself. It implements HasShape.
func (s Shape) Shape() Shape { return s }

// HasShape is implemented by anything with an associated Shape: tensors,
// values, frame slots.
type HasShape interface {
	Shape() Shape
}

// String pretty-prints the shape, e.g. "(Float32)[2 3]" or "(Int64)" for a
// scalar.
func (s Shape) String() string {
	if !s.Ok() {
		return "(invalid)"
	}
	if s.IsScalar() {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// Signature returns a compact key identifying the list of shapes, used to
// cache per-shape artifacts (e.g. memory patterns) across runs. Two shape
// lists have the same signature iff they are element-wise Equal.
func Signature(ss ...Shape) string {
	var b strings.Builder
	for ii, s := range ss {
		if ii > 0 {
			b.WriteByte(';')
		}
		b.WriteString(s.String())
	}
	return b.String()
}
