// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plans defines the execution plan consumed by the executor: the
// ordered list of nodes to run and the release schedule that tells the
// execution frame exactly when each intermediate value dies.
//
// A Plan is built once with a Builder — normally by a planner that has
// already decided node order, providers, and value lifetimes — and is then
// immutable: it is safe to share one Plan across any number of concurrent
// runs.
package plans

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// CPUProvider is the provider tag of the host CPU backend. It is the
// default provider for nodes that don't set one, and the provider
// substituted when fencing host-visible kernel inputs.
const CPUProvider = "cpu"

// Node is one operator instance of the plan.
//
// Inputs, ImplicitInputs, and Outputs hold value ids; an id of -1 marks an
// optional argument that is absent. Fields are exported for easy
// construction and inspection but must be treated as read-only once the
// node is part of a built Plan.
type Node struct {
	// Index of the node within the plan, dense from 0.
	Index int

	// Name of the node, used in logs and error messages.
	Name string

	// OpType names the operator this node runs (e.g. "MatMul").
	OpType string

	// Provider is the execution-provider tag the node is assigned to.
	Provider string

	// Queue is the execution-queue (stream) id used for fence coordination.
	Queue int

	Inputs         []int
	ImplicitInputs []int
	Outputs        []int

	// Attrs holds the operator's static attributes (e.g. the target dtype
	// of a Cast). See Attr and AttrOr.
	Attrs map[string]any

	// RequiresFence is true if any of the node's values is marked fenced.
	// Computed by Builder.Build.
	RequiresFence bool
}

// Step is one entry of the execution order: the node to run and the
// inclusive range [FreeFrom, FreeTo] into the plan's release schedule of
// value ids to release once the node completes. The range is empty when
// FreeFrom > FreeTo.
type Step struct {
	Node     int
	FreeFrom int
	FreeTo   int
}

// Plan is an immutable execution plan: nodes, their execution order, and
// the release schedule. Build one with a Builder.
//
// All accessors return internal state that must be treated as read-only;
// a Plan is safe for concurrent use by multiple runs.
type Plan struct {
	name       string
	valueNames []string
	valueIndex map[string]int
	fenced     []bool
	nodes      []*Node
	steps      []Step
	toBeFreed  []int
}

// Name of the plan (typically the model name).
func (p *Plan) Name() string { return p.name }

// NumValues is the number of logical value slots the plan addresses.
// Value ids are dense in [0, NumValues).
func (p *Plan) NumValues() int { return len(p.valueNames) }

// NumNodes is the number of nodes in the plan.
func (p *Plan) NumNodes() int { return len(p.nodes) }

// Node returns the node with the given index.
func (p *Plan) Node(index int) *Node {
	if index < 0 || index >= len(p.nodes) {
		exceptions.Panicf("Plan.Node(%d): plan %q has %d nodes", index, p.name, len(p.nodes))
	}
	return p.nodes[index]
}

// Steps returns the execution order, one Step per node. Read-only.
func (p *Plan) Steps() []Step { return p.steps }

// ToBeFreed returns the release schedule: the ordered list of value ids,
// partitioned across steps by their [FreeFrom, FreeTo] ranges. Read-only.
func (p *Plan) ToBeFreed() []int { return p.toBeFreed }

// ValueName returns the name of the given value id.
func (p *Plan) ValueName(id int) string {
	if id < 0 || id >= len(p.valueNames) {
		return fmt.Sprintf("#invalid(%d)", id)
	}
	return p.valueNames[id]
}

// ValueIndex returns the id of the named value.
func (p *Plan) ValueIndex(name string) (id int, found bool) {
	id, found = p.valueIndex[name]
	return
}

// ValueFenced reports whether the given value id was marked as fenced.
func (p *Plan) ValueFenced(id int) bool {
	return id >= 0 && id < len(p.fenced) && p.fenced[id]
}

// String returns a multi-line description of the plan, for debugging.
func (p *Plan) String() string {
	var b strings.Builder
	_, _ = fmt.Fprintf(&b, "Plan %q: %d nodes, %d values\n", p.name, len(p.nodes), len(p.valueNames))
	for _, step := range p.steps {
		node := p.nodes[step.Node]
		_, _ = fmt.Fprintf(&b, "\t#%d %q (%s) on %q queue=%d: inputs=%v outputs=%v",
			node.Index, node.Name, node.OpType, node.Provider, node.Queue, node.Inputs, node.Outputs)
		if len(node.ImplicitInputs) > 0 {
			_, _ = fmt.Fprintf(&b, " implicit=%v", node.ImplicitInputs)
		}
		if node.RequiresFence {
			b.WriteString(" [fenced]")
		}
		if step.FreeFrom <= step.FreeTo {
			_, _ = fmt.Fprintf(&b, " frees=%v", p.toBeFreed[step.FreeFrom:step.FreeTo+1])
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Attr returns the node attribute with the given name, requiring it to be
// a T. It returns an error if the attribute is missing or holds a
// different type.
func Attr[T any](node *Node, name string) (T, error) {
	var zero T
	raw, found := node.Attrs[name]
	if !found {
		return zero, errors.Errorf("node %q (%s): attribute %q not set", node.Name, node.OpType, name)
	}
	value, ok := raw.(T)
	if !ok {
		return zero, errors.Errorf("node %q (%s): attribute %q is a %T, not a %T",
			node.Name, node.OpType, name, raw, zero)
	}
	return value, nil
}

// AttrOr returns the node attribute with the given name, or defaultValue
// if it is not set or holds a different type.
func AttrOr[T any](node *Node, name string, defaultValue T) T {
	value, err := Attr[T](node, name)
	if err != nil {
		return defaultValue
	}
	return value
}
