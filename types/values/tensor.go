// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package values

import (
	"fmt"
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/goinfer/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Tensor is a dense host tensor: a shape and the flat data that backs it.
//
// The flat data is always a slice of the Go type corresponding to the
// shape's DType (e.g. []float32 for dtypes.Float32), with exactly
// shape.Size() elements, laid out in row-major order.
type Tensor struct {
	shape shapes.Shape

	// flat is a slice of shape.DType's Go type. It may come from an
	// allocator pool, in which case the allocator that created the tensor
	// reclaims it.
	flat any
}

// NewTensor allocates a tensor of the given shape, zero-initialized.
func NewTensor(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("values.NewTensor: invalid shape")
	}
	size := shape.Size()
	return &Tensor{
		shape: shape.Clone(),
		flat:  reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size).Interface(),
	}
}

// NewTensorFromFlat builds a tensor around an existing flat slice, without
// copying: the tensor takes ownership of flat. The slice element type must
// match shape.DType and its length must be shape.Size().
func NewTensorFromFlat(flat any, shape shapes.Shape) *Tensor {
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		exceptions.Panicf("values.NewTensorFromFlat: flat must be a slice, got %T", flat)
	}
	if got := dtypes.FromGoType(flatV.Type().Elem()); got != shape.DType {
		exceptions.Panicf("values.NewTensorFromFlat: flat data type (%s) does not match shape DType (%s)",
			flatV.Type().Elem(), shape.DType)
	}
	if flatV.Len() != shape.Size() {
		exceptions.Panicf("values.NewTensorFromFlat: flat has %d elements, shape %s requires %d",
			flatV.Len(), shape, shape.Size())
	}
	return &Tensor{shape: shape.Clone(), flat: flat}
}

// FromFlat builds a tensor around the given flat slice — no copy, the tensor
// takes ownership — with the given dimensions. If no dimensions are given the
// tensor is a scalar (flat must then hold exactly one element).
func FromFlat[T dtypes.Supported](flat []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(flat) != shape.Size() {
		exceptions.Panicf("values.FromFlat: flat has %d elements, shape %s requires %d",
			len(flat), shape, shape.Size())
	}
	return &Tensor{shape: shape, flat: flat}
}

// FromScalar builds a rank-0 tensor holding the given value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return &Tensor{shape: shapes.Scalar[T](), flat: []T{value}}
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Size is the number of elements.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory is the number of bytes of the flat data.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// FlatAny returns the flat data as an untyped slice. Prefer the typed
// Flat[T] accessor.
func (t *Tensor) FlatAny() any { return t.flat }

// Flat returns the tensor's flat data as a []T. It panics if T does not
// match the tensor's dtype.
func Flat[T dtypes.Supported](t *Tensor) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		exceptions.Panicf("values.Flat[%s]: tensor holds %s data",
			dtypes.FromGenericsType[T](), t.shape.DType)
	}
	return flat
}

// CopyFrom copies the flat contents of other into t. Shapes must be Equal.
func (t *Tensor) CopyFrom(other *Tensor) {
	if !t.shape.Equal(other.shape) {
		exceptions.Panicf("Tensor.CopyFrom: shape mismatch, %s vs %s", t.shape, other.shape)
	}
	reflect.Copy(reflect.ValueOf(t.flat), reflect.ValueOf(other.flat))
}

// CopyFlatFrom copies the flat contents of other into t, requiring only
// matching dtype and size — the shapes themselves may differ, as in a
// reshape.
func (t *Tensor) CopyFlatFrom(other *Tensor) {
	if t.DType() != other.DType() || t.Size() != other.Size() {
		exceptions.Panicf("Tensor.CopyFlatFrom: incompatible tensors %s and %s", t.shape, other.shape)
	}
	reflect.Copy(reflect.ValueOf(t.flat), reflect.ValueOf(other.flat))
}

// Clone returns a deep copy of the tensor with freshly allocated flat data.
func (t *Tensor) Clone() *Tensor {
	clone := NewTensor(t.shape)
	clone.CopyFrom(t)
	return clone
}

// Equal reports whether both tensors have the same shape and flat contents.
// It compares element-wise with ==, so NaNs never compare equal.
func (t *Tensor) Equal(other *Tensor) bool {
	if !t.shape.Equal(other.shape) {
		return false
	}
	a, b := reflect.ValueOf(t.flat), reflect.ValueOf(other.flat)
	for ii := 0; ii < a.Len(); ii++ {
		if !a.Index(ii).Equal(b.Index(ii)) {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer. It prints the shape only, not the data.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%s", t.shape)
}
