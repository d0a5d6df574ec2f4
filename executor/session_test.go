package executor

import (
	"context"
	"testing"

	"github.com/gomlx/goinfer/kernels"
	"github.com/gomlx/goinfer/plans"
	"github.com/gomlx/goinfer/types/values"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addPlan builds y = x + w, with w resolved as a session weight.
func addPlan(t *testing.T, op string) *plans.Plan {
	b := plans.NewBuilder("add")
	x := b.AddValue("x")
	w := b.AddValue("w")
	y := b.AddValue("y")
	b.AddNode(plans.NodeSpec{Name: "add", OpType: op, Inputs: []int{x, w}, Outputs: []int{y}})
	plan, err := b.Build()
	require.NoError(t, err)
	return plan
}

func registerAddOp(op string) {
	registerOp(kernels.Def{Op: op, Provider: plans.CPUProvider}, func(ctx *kernels.Context) error {
		a, err := ctx.InputTensor(0)
		if err != nil {
			return err
		}
		b, err := ctx.InputTensor(1)
		if err != nil {
			return err
		}
		out, err := ctx.Output(0, a.Shape())
		if err != nil {
			return err
		}
		lhs, rhs, dst := values.Flat[float32](a), values.Flat[float32](b), values.Flat[float32](out)
		for i := range dst {
			dst[i] = lhs[i] + rhs[i]
		}
		return nil
	})
}

func TestSessionWeights(t *testing.T) {
	op := "TestSessionWeightsOp"
	registerAddOp(op)
	plan := addPlan(t, op)
	state, err := NewSession(plan, &SessionOptions{
		Weights: map[string]*values.Value{"w": feedOf(10, 20)},
	})
	require.NoError(t, err)
	require.NoError(t, state.Validate())

	// The weight is live in every run without being fed.
	var exec Sequential
	x, y := mustID(t, plan, "x"), mustID(t, plan, "y")
	for run := 0; run < 2; run++ {
		outputs, err := exec.Run(context.Background(), state, []int{x}, []*values.Value{feedOf(1, 2)}, []int{y}, nil)
		require.NoError(t, err)
		assert.Equal(t, []float32{11, 22}, values.Flat[float32](outputs[0].Tensor()))
	}
}

func TestSessionFeedOverridesNothing(t *testing.T) {
	// Feeding a value that is also a weight is rejected: the slot is
	// already live.
	op := "TestSessionFeedOverridesNothingOp"
	registerAddOp(op)
	plan := addPlan(t, op)
	state, err := NewSession(plan, &SessionOptions{
		Weights: map[string]*values.Value{"w": feedOf(10, 20)},
	})
	require.NoError(t, err)

	var exec Sequential
	x, w, y := mustID(t, plan, "x"), mustID(t, plan, "w"), mustID(t, plan, "y")
	_, err = exec.Run(context.Background(), state,
		[]int{x, w}, []*values.Value{feedOf(1, 2), feedOf(3, 4)}, []int{y}, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorContains(t, err, "supplied more than once")
}

func TestNewSessionErrors(t *testing.T) {
	op := "TestNewSessionErrorsOp"
	registerAddOp(op)
	plan := addPlan(t, op)

	_, err := NewSession(nil, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewSession(plan, &SessionOptions{
		Weights: map[string]*values.Value{"nope": feedOf(1)},
	})
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorContains(t, err, `"nope"`)

	_, err = NewSession(plan, &SessionOptions{
		Weights: map[string]*values.Value{"w": nil},
	})
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorContains(t, err, "nil")
}

func TestNewSessionBuilderFailure(t *testing.T) {
	op := "TestNewSessionBuilderFailureOp"
	kernels.Register(kernels.Def{Op: op, Provider: plans.CPUProvider},
		func(node *plans.Node) (kernels.Kernel, error) {
			return nil, errors.Errorf("node %q: unsupported configuration", node.Name)
		})
	plan := addPlan(t, op)

	// A registered builder that fails is a hard session-creation error,
	// unlike a missing registration.
	_, err := NewSession(plan, nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "unsupported configuration")
	assert.ErrorContains(t, err, `"add"`)
}

func TestValidateNamesUnboundNodes(t *testing.T) {
	bound := "TestValidateBoundOp"
	unbound := "TestValidateUnboundOp"
	registerAddOp(bound)

	b := plans.NewBuilder("partial")
	x := b.AddValue("x")
	w := b.AddValue("w")
	h := b.AddValue("h")
	y := b.AddValue("y")
	b.AddNode(plans.NodeSpec{Name: "first", OpType: bound, Inputs: []int{x, w}, Outputs: []int{h}})
	b.AddNode(plans.NodeSpec{Name: "second", OpType: unbound, Inputs: []int{h, w}, Outputs: []int{y}})
	plan, err := b.Build()
	require.NoError(t, err)

	// Missing registrations do not fail session creation; Validate
	// reports them all up front.
	state, err := NewSession(plan, nil)
	require.NoError(t, err)

	err = state.Validate()
	require.ErrorIs(t, err, ErrMissingKernel)
	assert.ErrorContains(t, err, `"second"`)
	assert.ErrorContains(t, err, unbound)
	assert.ErrorContains(t, err, `provider "cpu"`)
	assert.NotContains(t, err.Error(), `"first"`)
}

func TestSessionAccessors(t *testing.T) {
	op := "TestSessionAccessorsOp"
	registerAddOp(op)
	plan := addPlan(t, op)
	state, err := NewSession(plan, nil)
	require.NoError(t, err)

	assert.Same(t, plan, state.Plan())
	assert.NotNil(t, state.Allocator())
	assert.NotNil(t, state.PatternCache())
	kernel, def := state.Kernel(0)
	assert.NotNil(t, kernel)
	assert.Equal(t, op, def.Op)
}
