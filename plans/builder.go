// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plans

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Builder assembles a Plan: declare values, add nodes in execution order,
// and record after which node each value is released. Call Build to get
// the immutable Plan.
//
// The Builder does not compute value lifetimes: which node releases which
// value is an input, decided by whatever planner drives the Builder.
type Builder struct {
	name       string
	valueNames []string
	valueIndex map[string]int
	fenced     map[int]bool
	nodes      []*Node
	steps      []Step
	toBeFreed  []int
}

// NodeSpec describes one node for Builder.AddNode. Name and OpType are
// required; Provider defaults to CPUProvider. Input, implicit-input, and
// output lists hold value ids from AddValue, with -1 for absent optional
// arguments.
type NodeSpec struct {
	Name           string
	OpType         string
	Provider       string
	Queue          int
	Inputs         []int
	ImplicitInputs []int
	Outputs        []int
	Attrs          map[string]any
}

// NewBuilder returns an empty Builder for a plan with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:       name,
		valueIndex: make(map[string]int),
		fenced:     make(map[int]bool),
	}
}

// AddValue declares a named value slot and returns its id. Declaring the
// same name again returns the existing id.
func (b *Builder) AddValue(name string) int {
	if name == "" {
		exceptions.Panicf("plans.Builder.AddValue: empty value name")
	}
	if id, found := b.valueIndex[name]; found {
		return id
	}
	id := len(b.valueNames)
	b.valueNames = append(b.valueNames, name)
	b.valueIndex[name] = id
	return id
}

// NumValues returns the number of values declared so far.
func (b *Builder) NumValues() int { return len(b.valueNames) }

// MarkFenced marks a value as requiring fence synchronization: every node
// touching it will have RequiresFence set in the built plan.
func (b *Builder) MarkFenced(id int) {
	if id < 0 || id >= len(b.valueNames) {
		exceptions.Panicf("plans.Builder.MarkFenced(%d): unknown value id", id)
	}
	b.fenced[id] = true
}

// AddNode appends a node to the plan; nodes execute in the order they are
// added. It returns the node's index.
func (b *Builder) AddNode(spec NodeSpec) int {
	if spec.Name == "" || spec.OpType == "" {
		exceptions.Panicf("plans.Builder.AddNode: Name and OpType are required (got name=%q, op=%q)",
			spec.Name, spec.OpType)
	}
	provider := spec.Provider
	if provider == "" {
		provider = CPUProvider
	}
	index := len(b.nodes)
	b.nodes = append(b.nodes, &Node{
		Index:          index,
		Name:           spec.Name,
		OpType:         spec.OpType,
		Provider:       provider,
		Queue:          spec.Queue,
		Inputs:         cloneIDs(spec.Inputs),
		ImplicitInputs: cloneIDs(spec.ImplicitInputs),
		Outputs:        cloneIDs(spec.Outputs),
		Attrs:          spec.Attrs,
	})
	// Empty release range until ReleaseAfter extends it.
	b.steps = append(b.steps, Step{
		Node:     index,
		FreeFrom: len(b.toBeFreed),
		FreeTo:   len(b.toBeFreed) - 1,
	})
	return index
}

// ReleaseAfter schedules the given value ids for release once the node
// completes. It must refer to the most recently added node: the release
// schedule is laid out contiguously in execution order.
func (b *Builder) ReleaseAfter(nodeIndex int, ids ...int) {
	if nodeIndex != len(b.nodes)-1 || nodeIndex < 0 {
		exceptions.Panicf("plans.Builder.ReleaseAfter(%d): releases must be added for the last added node (%d)",
			nodeIndex, len(b.nodes)-1)
	}
	if len(ids) == 0 {
		return
	}
	b.toBeFreed = append(b.toBeFreed, ids...)
	b.steps[nodeIndex].FreeTo = len(b.toBeFreed) - 1
}

// Build validates the accumulated plan and returns it as an immutable
// Plan. The Builder must not be used after a successful Build.
func (b *Builder) Build() (*Plan, error) {
	numValues := len(b.valueNames)
	checkIDs := func(node *Node, kind string, ids []int) error {
		for pos, id := range ids {
			if id == -1 {
				continue // Absent optional argument.
			}
			if id < 0 || id >= numValues {
				return errors.Errorf("plan %q: node %q (#%d) %s %d references unknown value id %d",
					b.name, node.Name, node.Index, kind, pos, id)
			}
		}
		return nil
	}
	for _, node := range b.nodes {
		if err := checkIDs(node, "input", node.Inputs); err != nil {
			return nil, err
		}
		if err := checkIDs(node, "implicit input", node.ImplicitInputs); err != nil {
			return nil, err
		}
		if err := checkIDs(node, "output", node.Outputs); err != nil {
			return nil, err
		}
	}

	released := make(map[int]int, len(b.toBeFreed)) // value id -> schedule position
	for pos, id := range b.toBeFreed {
		if id < 0 || id >= numValues {
			return nil, errors.Errorf("plan %q: release schedule position %d references unknown value id %d",
				b.name, pos, id)
		}
		if prev, dup := released[id]; dup {
			return nil, errors.Errorf("plan %q: value %d (%q) released twice, at schedule positions %d and %d",
				b.name, id, b.valueNames[id], prev, pos)
		}
		released[id] = pos
	}

	fenced := make([]bool, numValues)
	for id := range b.fenced {
		fenced[id] = true
	}
	for _, node := range b.nodes {
		node.RequiresFence = anyFenced(fenced, node.Inputs) ||
			anyFenced(fenced, node.ImplicitInputs) ||
			anyFenced(fenced, node.Outputs)
	}

	return &Plan{
		name:       b.name,
		valueNames: b.valueNames,
		valueIndex: b.valueIndex,
		fenced:     fenced,
		nodes:      b.nodes,
		steps:      b.steps,
		toBeFreed:  b.toBeFreed,
	}, nil
}

func cloneIDs(ids []int) []int {
	if len(ids) == 0 {
		return nil
	}
	clone := make([]int, len(ids))
	copy(clone, ids)
	return clone
}

func anyFenced(fenced []bool, ids []int) bool {
	for _, id := range ids {
		if id >= 0 && fenced[id] {
			return true
		}
	}
	return false
}
