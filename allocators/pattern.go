// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package allocators

import (
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/goinfer/types/shapes"
	"github.com/gomlx/goinfer/types/xsync"
)

// Block records one allocation of a memory pattern: which value id was
// materialized, with what shape, and how many bytes it took.
type Block struct {
	ValueID int
	Shape   shapes.Shape
	Bytes   uintptr
}

// Pattern is the allocation layout observed during one run: every frame
// allocation, in allocation order. On a later run with the same feed
// shapes the frame replays the pattern, reserving all blocks up front so
// kernels find their outputs preallocated.
//
// A Pattern is immutable and safe to share across runs.
type Pattern struct {
	blocks []Block
	bytes  uintptr
}

// NewPattern builds a Pattern from the blocks recorded during a run, in
// allocation order. It keeps a reference to the slice.
func NewPattern(blocks []Block) *Pattern {
	p := &Pattern{blocks: blocks}
	for _, block := range blocks {
		p.bytes += block.Bytes
	}
	return p
}

// Blocks returns the recorded allocations in allocation order. Read-only.
func (p *Pattern) Blocks() []Block { return p.blocks }

// NumBlocks is the number of recorded allocations.
func (p *Pattern) NumBlocks() int { return len(p.blocks) }

// TotalBytes is the total storage the pattern covers.
func (p *Pattern) TotalBytes() uintptr { return p.bytes }

// String implements fmt.Stringer.
func (p *Pattern) String() string {
	return fmt.Sprintf("Pattern{%d blocks, %s}", len(p.blocks), humanize.Bytes(uint64(p.bytes)))
}

// PatternCache caches memory patterns keyed by the signature of the feed
// shapes (see shapes.Signature). It is shared by all runs of a session and
// safe for concurrent use.
type PatternCache struct {
	patterns xsync.SyncMap[string, *Pattern]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewPatternCache returns an empty cache.
func NewPatternCache() *PatternCache { return &PatternCache{} }

// Load returns the pattern cached for the given feed-shape signature.
func (c *PatternCache) Load(signature string) (*Pattern, bool) {
	p, found := c.patterns.Load(signature)
	if found {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return p, found
}

// Store caches the pattern for the given feed-shape signature. The first
// pattern stored for a signature wins: concurrent runs with the same
// shapes record equivalent patterns, so there is no point replacing.
func (c *PatternCache) Store(signature string, p *Pattern) {
	c.patterns.LoadOrStore(signature, p)
}

// Len is the number of cached patterns.
func (c *PatternCache) Len() int {
	count := 0
	c.patterns.Range(func(string, *Pattern) bool {
		count++
		return true
	})
	return count
}

// Stats returns how many Load calls hit and missed the cache.
func (c *PatternCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Clear drops all cached patterns and resets the counters.
func (c *PatternCache) Clear() {
	c.patterns.Clear()
	c.hits.Store(0)
	c.misses.Store(0)
}
