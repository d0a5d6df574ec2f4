// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"sync"
	"sync/atomic"
)

// TerminateFlag requests cooperative cancellation of the runs observing
// it. The executor polls the flag between node dispatches — never
// mid-kernel — so cancellation granularity is one node: a hung kernel
// blocks its run regardless of the flag.
//
// The zero value is ready to use. One flag may be shared by several runs
// to cancel them together. Safe for concurrent use.
type TerminateFlag struct {
	flag atomic.Bool
}

// NewTerminateFlag returns a new, unset flag.
func NewTerminateFlag() *TerminateFlag { return &TerminateFlag{} }

// Set requests cancellation. Runs observe it at their next node boundary.
func (t *TerminateFlag) Set() { t.flag.Store(true) }

// Reset clears the flag, e.g. to reuse it for a fresh run.
func (t *TerminateFlag) Reset() { t.flag.Store(false) }

// IsSet reports whether cancellation was requested. False on a nil flag.
func (t *TerminateFlag) IsSet() bool {
	return t != nil && t.flag.Load()
}

// WatchContext sets the flag when ctx is done. It returns a stop function
// releasing the watch goroutine; callers must invoke it once the run the
// flag guards has finished. After stop returns, the watch no longer sets
// the flag.
func (t *TerminateFlag) WatchContext(ctx context.Context) (stop func()) {
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		select {
		case <-ctx.Done():
			t.Set()
		case <-stopCh:
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(stopCh) })
		<-doneCh
	}
}
