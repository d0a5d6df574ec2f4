// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"sort"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/goinfer/plans"
)

// Builder constructs a Kernel bound to a node. It runs once per node at
// session creation, and is the place to read node attributes and
// precompute whatever the Compute calls will need.
type Builder func(node *plans.Node) (Kernel, error)

type registryKey struct {
	op       string
	provider string
}

type registration struct {
	def     Def
	builder Builder
}

var registered = make(map[registryKey]registration)

// Register a kernel for def.Op on def.Provider. Registering the same
// (op, provider) pair again replaces the previous registration.
//
// To be safe, call Register during initialization of a package.
func Register(def Def, builder Builder) {
	if def.Op == "" || def.Provider == "" {
		exceptions.Panicf("kernels.Register: Def.Op and Def.Provider are required (got op=%q, provider=%q)",
			def.Op, def.Provider)
	}
	if builder == nil {
		exceptions.Panicf("kernels.Register(%q, %q): nil builder", def.Op, def.Provider)
	}
	registered[registryKey{op: def.Op, provider: def.Provider}] = registration{def: def, builder: builder}
}

// Lookup returns the registered kernel definition and builder for the
// (op, provider) pair.
func Lookup(op, provider string) (Def, Builder, bool) {
	r, found := registered[registryKey{op: op, provider: provider}]
	if !found {
		return Def{}, nil, false
	}
	return r.def, r.builder, true
}

// RegisteredOps returns the sorted op types registered for a provider.
func RegisteredOps(provider string) []string {
	var ops []string
	for key := range registered {
		if key.provider == provider {
			ops = append(ops, key.op)
		}
	}
	sort.Strings(ops)
	return ops
}
