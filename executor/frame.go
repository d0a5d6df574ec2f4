// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/goinfer/allocators"
	"github.com/gomlx/goinfer/kernels"
	"github.com/gomlx/goinfer/plans"
	"github.com/gomlx/goinfer/types/shapes"
	"github.com/gomlx/goinfer/types/values"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ValueState is the lifecycle state of one value slot within a run.
// Transitions are strictly unallocated → live → released; a released id is
// never reallocated within the same run.
type ValueState uint8

const (
	ValueUnallocated ValueState = iota
	ValueLive
	ValueReleased
)

// String implements fmt.Stringer.
func (s ValueState) String() string {
	switch s {
	case ValueUnallocated:
		return "unallocated"
	case ValueLive:
		return "live"
	case ValueReleased:
		return "released"
	}
	return "invalid"
}

// Frame owns the value slots of one run: feeds and weights seeded at
// creation, kernel outputs materialized on demand, planned releases, and
// final output gathering. A Frame is exclusive to its run and not safe for
// concurrent use; the session state it draws on is shared and read-only.
//
// If the session has memory patterns enabled and all feeds are tensors,
// the frame either replays a cached pattern — reserving every recorded
// allocation up front — or records the run's allocations for the cache.
type Frame struct {
	state *SessionState
	plan  *plans.Plan

	slots      []*values.Value
	slotStates []ValueState
	owned      []bool
	fences     []values.Fence

	fetchIDs        []int
	fetchAllocators map[int]allocators.Allocator

	feedsAllTensors bool
	feedsSignature  string

	capturing bool
	captured  []allocators.Block
	reserved  map[int]*values.Tensor

	finalized bool
}

// Compile-time check:
var _ kernels.Frame = (*Frame)(nil)

// NewFrame builds the frame for one run: feeds seeded at their value ids,
// weights seeded from the session, fetch ids recorded for output
// gathering. fetchAllocators, keyed by fetch position, optionally place
// outputs into caller-controlled storage; it may be nil.
//
// Malformed arguments — mismatched lengths, unknown ids, nil or duplicate
// feeds — fail with ErrInvalidArgument.
func NewFrame(state *SessionState, feedIDs []int, feeds []*values.Value, fetchIDs []int,
	fetchAllocators map[int]allocators.Allocator) (*Frame, error) {
	if state == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "NewFrame: nil session state")
	}
	if len(feedIDs) != len(feeds) {
		return nil, errors.Wrapf(ErrInvalidArgument, "NewFrame: %d feed ids for %d feed values",
			len(feedIDs), len(feeds))
	}
	plan := state.plan
	numValues := plan.NumValues()
	f := &Frame{
		state:      state,
		plan:       plan,
		slots:      make([]*values.Value, numValues),
		slotStates: make([]ValueState, numValues),
		owned:      make([]bool, numValues),
		fences:     make([]values.Fence, numValues),
	}
	if state.fenceFactory != nil {
		for id := 0; id < numValues; id++ {
			if plan.ValueFenced(id) {
				f.fences[id] = state.fenceFactory(id)
			}
		}
	}

	for id, weight := range state.weights {
		f.slots[id] = weight
		f.slotStates[id] = ValueLive
	}
	for i, id := range feedIDs {
		if id < 0 || id >= numValues {
			return nil, errors.Wrapf(ErrInvalidArgument, "NewFrame: feed %d references unknown value id %d (plan %q has %d values)",
				i, id, plan.Name(), numValues)
		}
		if feeds[i] == nil {
			return nil, errors.Wrapf(ErrInvalidArgument, "NewFrame: feed %d (value %q) is nil", i, plan.ValueName(id))
		}
		if f.slotStates[id] == ValueLive {
			return nil, errors.Wrapf(ErrInvalidArgument, "NewFrame: value %d (%q) supplied more than once", id, plan.ValueName(id))
		}
		f.slots[id] = feeds[i]
		f.slotStates[id] = ValueLive
	}

	for pos, id := range fetchIDs {
		if id < 0 || id >= numValues {
			return nil, errors.Wrapf(ErrInvalidArgument, "NewFrame: fetch %d references unknown value id %d (plan %q has %d values)",
				pos, id, plan.Name(), numValues)
		}
	}
	for pos := range fetchAllocators {
		if pos < 0 || pos >= len(fetchIDs) {
			return nil, errors.Wrapf(ErrInvalidArgument, "NewFrame: fetch allocator given for position %d, but there are only %d fetches",
				pos, len(fetchIDs))
		}
	}
	f.fetchIDs = make([]int, len(fetchIDs))
	copy(f.fetchIDs, fetchIDs)
	if len(fetchAllocators) > 0 {
		f.fetchAllocators = make(map[int]allocators.Allocator, len(fetchAllocators))
		for pos, alloc := range fetchAllocators {
			f.fetchAllocators[pos] = alloc
		}
	}

	f.feedsAllTensors = true
	for _, feed := range feeds {
		if !feed.IsTensor() {
			f.feedsAllTensors = false
			break
		}
	}
	if state.memoryPatterns && f.feedsAllTensors {
		f.feedsSignature = feedsSignature(feedIDs, feeds)
		if pattern, found := state.patterns.Load(f.feedsSignature); found {
			f.reserved = make(map[int]*values.Tensor, pattern.NumBlocks())
			for _, block := range pattern.Blocks() {
				if f.slotStates[block.ValueID] != ValueUnallocated {
					continue // Fed or weight this run.
				}
				f.reserved[block.ValueID] = state.allocator.Allocate(block.Shape)
			}
			klog.V(1).Infof("frame %q: replaying memory pattern, reserved %d blocks (%d bytes)",
				plan.Name(), len(f.reserved), pattern.TotalBytes())
		} else {
			f.capturing = true
		}
	}
	return f, nil
}

// Value implements kernels.Frame: the live value at id, or nil.
func (f *Frame) Value(id int) *values.Value {
	if id < 0 || id >= len(f.slots) {
		return nil
	}
	return f.slots[id]
}

// ValueState returns the lifecycle state of the given value id.
func (f *Frame) ValueState(id int) ValueState {
	if id < 0 || id >= len(f.slotStates) {
		exceptions.Panicf("Frame.ValueState(%d): plan %q has %d values", id, f.plan.Name(), len(f.slotStates))
	}
	return f.slotStates[id]
}

// ValueFence returns the fence guarding the given value id: the fence
// carried by the live value if any, else the fence created for the id at
// frame initialization. Nil when the value is unfenced.
func (f *Frame) ValueFence(id int) values.Fence {
	if id < 0 || id >= len(f.slots) {
		return nil
	}
	if v := f.slots[id]; v != nil {
		if fence := v.Fence(); fence != nil {
			return fence
		}
	}
	return f.fences[id]
}

// MaterializeTensor implements kernels.Frame: get-or-create of an output
// slot. An unallocated slot is allocated through the session's allocator
// (or taken from the reserved memory-pattern block); a live slot is
// returned as-is after checking the shape matches. Materializing a
// released id fails with ErrInvalidState.
func (f *Frame) MaterializeTensor(id int, shape shapes.Shape) (*values.Value, error) {
	if id < 0 || id >= len(f.slots) {
		return nil, errors.Wrapf(ErrInvalidState, "materialize of unknown value id %d (plan %q has %d values)",
			id, f.plan.Name(), len(f.slots))
	}
	switch f.slotStates[id] {
	case ValueReleased:
		return nil, errors.Wrapf(ErrInvalidState, "value %d (%q) was already released, reallocation within a run is not permitted",
			id, f.plan.ValueName(id))
	case ValueLive:
		v := f.slots[id]
		if !v.IsTensor() {
			return nil, errors.Wrapf(ErrInvalidState, "value %d (%q) is live but holds no tensor", id, f.plan.ValueName(id))
		}
		if !v.Shape().Equal(shape) {
			return nil, errors.Wrapf(ErrInvalidState, "value %d (%q) is live with shape %s, materialize requested %s",
				id, f.plan.ValueName(id), v.Shape(), shape)
		}
		return v, nil
	}

	var tensor *values.Tensor
	if reservedTensor, found := f.reserved[id]; found {
		delete(f.reserved, id)
		if reservedTensor.Shape().Equal(shape) {
			tensor = reservedTensor
		} else {
			// The cached pattern disagrees with the kernel; fall back to a
			// fresh allocation.
			klog.V(1).Infof("frame %q: reserved block for value %d (%q) has shape %s, kernel requested %s",
				f.plan.Name(), id, f.plan.ValueName(id), reservedTensor.Shape(), shape)
			f.state.allocator.Release(reservedTensor)
		}
	}
	if tensor == nil {
		tensor = f.state.allocator.Allocate(shape)
	}
	v := values.FromTensor(tensor)
	if f.fences[id] != nil {
		v.SetFence(f.fences[id])
	}
	if f.capturing {
		f.captured = append(f.captured, allocators.Block{ValueID: id, Shape: shape.Clone(), Bytes: shape.Memory()})
	}
	f.slots[id] = v
	f.slotStates[id] = ValueLive
	f.owned[id] = true
	klog.V(2).Infof("frame %q: allocated value %d (%q) shape=%s", f.plan.Name(), id, f.plan.ValueName(id), shape)
	return v, nil
}

// PutValue implements kernels.Frame: binds a kernel-provided value —
// an opaque non-tensor, or an alias of another value — to an unallocated
// slot. The frame never reclaims storage bound this way.
func (f *Frame) PutValue(id int, v *values.Value) error {
	if v == nil {
		return errors.Wrapf(ErrInvalidArgument, "PutValue(%d): nil value", id)
	}
	if id < 0 || id >= len(f.slots) {
		return errors.Wrapf(ErrInvalidState, "PutValue of unknown value id %d (plan %q has %d values)",
			id, f.plan.Name(), len(f.slots))
	}
	switch f.slotStates[id] {
	case ValueReleased:
		return errors.Wrapf(ErrInvalidState, "value %d (%q) was already released, reallocation within a run is not permitted",
			id, f.plan.ValueName(id))
	case ValueLive:
		return errors.Wrapf(ErrInvalidState, "value %d (%q) is already live", id, f.plan.ValueName(id))
	}
	f.slots[id] = v
	f.slotStates[id] = ValueLive
	return nil
}

// Release transitions a live value to released and reclaims its backing
// storage if the frame owns it and no fence holds it. Releasing an id that
// is already released or was never allocated fails with ErrInvalidState:
// the release schedule and the frame disagree, which is fatal.
func (f *Frame) Release(id int) error {
	if id < 0 || id >= len(f.slots) {
		return errors.Wrapf(ErrInvalidState, "release of unknown value id %d (plan %q has %d values)",
			id, f.plan.Name(), len(f.slots))
	}
	switch f.slotStates[id] {
	case ValueUnallocated:
		return errors.Wrapf(ErrInvalidState, "release of value %d (%q) which was never allocated",
			id, f.plan.ValueName(id))
	case ValueReleased:
		return errors.Wrapf(ErrInvalidState, "value %d (%q) released twice", id, f.plan.ValueName(id))
	}
	v := f.slots[id]
	if f.owned[id] && v.IsTensor() {
		if fence := f.ValueFence(id); fence != nil && !fence.CanRelease() {
			klog.V(1).Infof("frame %q: fence still holds value %d (%q), leaving storage to the garbage collector",
				f.plan.Name(), id, f.plan.ValueName(id))
		} else {
			f.state.allocator.Release(v.Tensor())
		}
	}
	f.slots[id] = nil
	f.slotStates[id] = ValueReleased
	f.owned[id] = false
	klog.V(2).Infof("frame %q: released value %d (%q)", f.plan.Name(), id, f.plan.ValueName(id))
	return nil
}

// CollectOutputs returns the values of the frame's fetch ids, in fetch
// order. Outputs with a fetch allocator are copied into storage from that
// allocator; all others are handed over as-is, with ownership moving to
// the caller. A fetch id that is not live fails with ErrInvalidState —
// the plan never produced it.
func (f *Frame) CollectOutputs() ([]*values.Value, error) {
	outputs := make([]*values.Value, len(f.fetchIDs))
	for pos, id := range f.fetchIDs {
		if f.slotStates[id] != ValueLive {
			return nil, errors.Wrapf(ErrInvalidState, "requested output %d (value %d, %q) was never produced",
				pos, id, f.plan.ValueName(id))
		}
		v := f.slots[id]
		if alloc := f.fetchAllocators[pos]; alloc != nil && v.IsTensor() {
			tensor := alloc.Allocate(v.Shape())
			tensor.CopyFrom(v.Tensor())
			outputs[pos] = values.FromTensor(tensor)
			continue
		}
		f.owned[id] = false // Ownership moves to the caller.
		outputs[pos] = v
	}
	return outputs, nil
}

// FeedsAllTensors reports whether every feed of this run was a tensor.
func (f *Frame) FeedsAllTensors() bool { return f.feedsAllTensors }

// FeedsSignature is the pattern-cache key of this run's feed shapes.
// Empty when patterns are disabled or a feed was not a tensor.
func (f *Frame) FeedsSignature() string { return f.feedsSignature }

// CaptureMemoryPattern returns the allocations recorded during this run,
// or nil if the frame was not capturing — patterns disabled, a non-tensor
// feed, or a cached pattern already replayed. Absence is a valid outcome,
// not an error.
func (f *Frame) CaptureMemoryPattern() *allocators.Pattern {
	if !f.capturing {
		return nil
	}
	return allocators.NewPattern(f.captured)
}

// Finalize reclaims every frame-owned live value and unused reserved
// block. Idempotent. Values handed out by CollectOutputs are not touched.
func (f *Frame) Finalize() {
	if f.finalized {
		return
	}
	f.finalized = true
	for id, v := range f.slots {
		if v == nil || !f.owned[id] || !v.IsTensor() {
			continue
		}
		if fence := f.ValueFence(id); fence != nil && !fence.CanRelease() {
			continue
		}
		f.state.allocator.Release(v.Tensor())
		f.slots[id] = nil
	}
	for id, tensor := range f.reserved {
		f.state.allocator.Release(tensor)
		delete(f.reserved, id)
	}
}

// feedsSignature keys the memory-pattern cache: every feed's value id and
// shape, sorted by id so feed order does not matter.
func feedsSignature(feedIDs []int, feeds []*values.Value) string {
	order := make([]int, len(feedIDs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return feedIDs[order[a]] < feedIDs[order[b]] })
	var b strings.Builder
	for _, i := range order {
		_, _ = fmt.Fprintf(&b, "%d=%s;", feedIDs[i], feeds[i].Shape())
	}
	return b.String()
}
