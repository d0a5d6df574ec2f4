// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package executor

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors returned (wrapped, with context) by runs. Test with
// errors.Is; KernelError and ReleaseError carry structured context and are
// matched with errors.As.
var (
	// ErrCancelled reports cooperative cancellation: the terminate flag was
	// set or the context was done, observed at a node boundary. Not a bug.
	ErrCancelled = errors.New("execution cancelled")

	// ErrMissingKernel reports a node with no bound kernel: a configuration
	// defect from session setup, never retried.
	ErrMissingKernel = errors.New("missing kernel")

	// ErrInvalidArgument reports malformed feed/fetch arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState reports a value lifecycle violation or an output that
	// was never produced: planner/executor state corruption.
	ErrInvalidState = errors.New("invalid state")
)

// KernelError reports that a kernel's Compute returned a non-success
// status. The run stops immediately; no further nodes execute.
type KernelError struct {
	// Node is the name of the failing node.
	Node string
	// Op is the node's operator type.
	Op string
	// Err is the kernel's error, verbatim.
	Err error
}

// Error implements error.
func (e *KernelError) Error() string {
	return fmt.Sprintf("non-zero status returned while running node %q (%s): %v", e.Node, e.Op, e.Err)
}

// Unwrap returns the kernel's original error.
func (e *KernelError) Unwrap() error { return e.Err }

// ReleaseError reports that releasing a planned value id failed: the
// release schedule and the frame's lifecycle state disagree, which is
// fatal state corruption.
type ReleaseError struct {
	// ValueID that failed to release.
	ValueID int
	// ValueName of that id, when known.
	ValueName string
	// Node after which the release was scheduled.
	Node string
	// Err is the frame's error, which wraps ErrInvalidState.
	Err error
}

// Error implements error.
func (e *ReleaseError) Error() string {
	return fmt.Sprintf("failed to release value %d (%q) scheduled after node %q: %v",
		e.ValueID, e.ValueName, e.Node, e.Err)
}

// Unwrap returns the underlying frame error.
func (e *ReleaseError) Unwrap() error { return e.Err }
