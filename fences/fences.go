// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fences provides fence implementations for values that cross
// execution-queue or provider boundaries.
//
// Event is the host-side implementation: consumers on a different
// provider or queue than the producer block until the producer's write is
// signaled. Device backends with their own synchronization primitives
// supply their own values.Fence implementations; the executor drives all
// of them through the same two-phase protocol.
package fences

import (
	"sync/atomic"

	"github.com/gomlx/goinfer/types/values"
	"github.com/gomlx/goinfer/types/xsync"
	"k8s.io/klog/v2"
)

// Event is a host-side fence: a one-shot "value is ready" signal plus a
// count of in-flight readers.
//
// Consumers on the producer's own provider and queue never wait — the
// sequential order of the queue already serializes them. Consumers on any
// other (provider, queue) pair block in BeforeUsingAsInput until
// AfterUsedAsOutput signals the producing write finished.
type Event struct {
	producerProvider string
	producerQueue    int

	ready *xsync.Latch
	reads atomic.Int64
}

// Compile-time check:
var _ values.Fence = (*Event)(nil)

// NewEvent returns a fence for a value produced on the given provider and
// queue.
func NewEvent(producerProvider string, producerQueue int) *Event {
	return &Event{
		producerProvider: producerProvider,
		producerQueue:    producerQueue,
		ready:            xsync.NewLatch(),
	}
}

// BeforeUsingAsInput implements values.Fence. Cross-domain consumers block
// until the producer signals; same-domain consumers proceed immediately.
func (e *Event) BeforeUsingAsInput(provider string, queue int) {
	e.reads.Add(1)
	if provider == e.producerProvider && queue == e.producerQueue {
		return
	}
	if !e.ready.Test() {
		klog.V(2).Infof("fence: consumer (%s, queue %d) waiting on producer (%s, queue %d)",
			provider, queue, e.producerProvider, e.producerQueue)
	}
	e.ready.Wait()
}

// BeforeUsingAsOutput implements values.Fence. The single producing write
// needs no wait on the host.
func (e *Event) BeforeUsingAsOutput(provider string, queue int) {}

// AfterUsedAsInput implements values.Fence.
func (e *Event) AfterUsedAsInput(queue int) {
	e.reads.Add(-1)
}

// AfterUsedAsOutput implements values.Fence: signals the value ready,
// releasing all waiting consumers. Signaling again is a no-op.
func (e *Event) AfterUsedAsOutput(queue int) {
	e.ready.Trigger()
}

// Produced reports whether the producing write has been signaled.
func (e *Event) Produced() bool { return e.ready.Test() }

// CanRelease implements values.Fence: the value's memory may be reclaimed
// once no reads are in flight.
func (e *Event) CanRelease() bool {
	return e.reads.Load() == 0
}
