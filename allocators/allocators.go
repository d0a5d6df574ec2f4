// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package allocators provides the backing-storage services used by
// execution frames: allocators that materialize tensors for kernel
// outputs, and memory patterns — the recorded allocation layout of a run,
// cached by feed shapes so shape-stable replays can preallocate everything
// up front.
package allocators

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/gomlx/goinfer/types/shapes"
	"github.com/gomlx/goinfer/types/values"
	"github.com/gomlx/gopjrt/dtypes"
)

// Allocator provides backing storage for tensors materialized during runs.
// Implementations must be safe for concurrent use: one allocator is shared
// by all runs of a session.
type Allocator interface {
	// Name of the allocator, for logs and stats.
	Name() string

	// Allocate a tensor of the given shape. The contents are undefined:
	// kernels are expected to write every element of their outputs.
	Allocate(shape shapes.Shape) *values.Tensor

	// Release returns the tensor's storage to the allocator. The tensor —
	// and any flat slice obtained from it — must not be used afterwards.
	Release(t *values.Tensor)
}

// goAllocator allocates straight from the Go heap and lets the garbage
// collector reclaim.
type goAllocator struct{}

var goAlloc = goAllocator{}

// Go returns the trivial allocator backed by plain Go allocations; Release
// is a no-op and the garbage collector reclaims storage.
func Go() Allocator { return goAlloc }

func (goAllocator) Name() string { return "go" }

func (goAllocator) Allocate(shape shapes.Shape) *values.Tensor {
	return values.NewTensor(shape)
}

func (goAllocator) Release(t *values.Tensor) {}

// Pooled is an Allocator that recycles flat slices through per-(dtype,
// size) sync.Pools, avoiding steady-state allocations for shape-stable
// workloads.
type Pooled struct {
	pools sync.Map // poolKey -> *sync.Pool

	allocations atomic.Int64 // Allocate calls served with a fresh slice
	reuses      atomic.Int64 // Allocate calls served from the pool
	releases    atomic.Int64
}

type poolKey struct {
	dtype  dtypes.DType
	length int
}

// NewPooled returns an empty Pooled allocator.
func NewPooled() *Pooled { return &Pooled{} }

// Name implements Allocator.
func (p *Pooled) Name() string { return "pooled" }

func (p *Pooled) getPool(dtype dtypes.DType, length int) *sync.Pool {
	key := poolKey{dtype: dtype, length: length}
	poolInterface, ok := p.pools.Load(key)
	if !ok {
		poolInterface, _ = p.pools.LoadOrStore(key, &sync.Pool{})
	}
	return poolInterface.(*sync.Pool)
}

// Allocate implements Allocator. The returned tensor's contents are
// undefined when recycled from the pool.
func (p *Pooled) Allocate(shape shapes.Shape) *values.Tensor {
	pool := p.getPool(shape.DType, shape.Size())
	flat := pool.Get()
	if flat == nil {
		p.allocations.Add(1)
		size := shape.Size()
		flat = reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size).Interface()
	} else {
		p.reuses.Add(1)
	}
	return values.NewTensorFromFlat(flat, shape)
}

// Release implements Allocator, returning the tensor's flat slice to the
// pool. Any reference to the tensor or its flat data must be dropped.
func (p *Pooled) Release(t *values.Tensor) {
	if t == nil {
		return
	}
	p.releases.Add(1)
	p.getPool(t.DType(), t.Size()).Put(t.FlatAny())
}

// PooledStats is a snapshot of a Pooled allocator's counters.
type PooledStats struct {
	// Allocations served with a freshly allocated slice.
	Allocations int64
	// Reuses served from the pool.
	Reuses int64
	// Releases returned to the pool.
	Releases int64
}

// Stats returns a snapshot of the allocator's counters.
func (p *Pooled) Stats() PooledStats {
	return PooledStats{
		Allocations: p.allocations.Load(),
		Reuses:      p.reuses.Load(),
		Releases:    p.releases.Load(),
	}
}
