// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package values

// Fence orders accesses to a Value across execution queues.
//
// A value needs a fence when its producer and its consumers may run on
// different providers or queues (e.g. an accelerator stream producing a
// value that a host kernel reads). The executor drives the fence in two
// phases around each node that touches the value:
//
//   - Before launching the kernel it calls BeforeUsingAsInput for each
//     fenced input and implicit input, and BeforeUsingAsOutput for each
//     fenced output. These block (or enqueue waits) until the value is
//     safe to access from the given provider and queue.
//   - After the kernel returns it calls AfterUsedAsInput / AfterUsedAsOutput
//     so the fence can record the access and release waiters.
//
// The provider passed to BeforeUsingAsInput is normally the node's provider;
// for inputs the kernel declares as host-visible it is the CPU provider
// instead, since that is where the kernel will actually read the data.
//
// CanRelease reports whether all recorded accesses have completed, i.e.
// whether the value's memory may be reclaimed. Implementations must be safe
// for concurrent use.
type Fence interface {
	// BeforeUsingAsInput blocks until the value is readable from the given
	// provider and queue.
	BeforeUsingAsInput(provider string, queue int)

	// BeforeUsingAsOutput blocks until the value is writable from the given
	// provider and queue.
	BeforeUsingAsOutput(provider string, queue int)

	// AfterUsedAsInput records that the read issued on queue completed.
	AfterUsedAsInput(queue int)

	// AfterUsedAsOutput records that the write issued on queue completed,
	// making the value available to waiting consumers.
	AfterUsedAsOutput(queue int)

	// CanRelease reports whether the value's memory is safe to reclaim.
	CanRelease() bool
}
