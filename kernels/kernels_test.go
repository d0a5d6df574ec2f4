package kernels

import (
	"testing"

	"github.com/gomlx/goinfer/plans"
	"github.com/gomlx/goinfer/types/shapes"
	"github.com/gomlx/goinfer/types/values"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFrame is a minimal Frame for Context tests: a plain slice of slots.
type fakeFrame struct {
	slots []*values.Value
	puts  []int
}

func newFakeFrame(numValues int) *fakeFrame {
	return &fakeFrame{slots: make([]*values.Value, numValues)}
}

func (f *fakeFrame) Value(id int) *values.Value { return f.slots[id] }

func (f *fakeFrame) MaterializeTensor(id int, shape shapes.Shape) (*values.Value, error) {
	if f.slots[id] != nil {
		if !f.slots[id].Shape().Equal(shape) {
			return nil, errors.Errorf("value %d live with different shape", id)
		}
		return f.slots[id], nil
	}
	f.slots[id] = values.FromTensor(values.NewTensor(shape))
	return f.slots[id], nil
}

func (f *fakeFrame) PutValue(id int, v *values.Value) error {
	f.slots[id] = v
	f.puts = append(f.puts, id)
	return nil
}

func testNode() *plans.Node {
	return &plans.Node{
		Index:          0,
		Name:           "add0",
		OpType:         "Add",
		Provider:       plans.CPUProvider,
		Inputs:         []int{0, 1, -1},
		ImplicitInputs: []int{2},
		Outputs:        []int{3, -1},
	}
}

func TestContext(t *testing.T) {
	frame := newFakeFrame(4)
	frame.slots[0] = values.FromTensor(values.FromFlat([]float32{1, 2}, 2))
	frame.slots[2] = values.FromOpaque("captured")
	node := testNode()
	ctx := NewContext(frame, node)

	assert.Same(t, node, ctx.Node())
	assert.Equal(t, 3, ctx.NumInputs())
	assert.Equal(t, 1, ctx.NumImplicitInputs())
	assert.Equal(t, 2, ctx.NumOutputs())

	// Live input.
	tensor, err := ctx.InputTensor(0)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, values.Flat[float32](tensor))

	// Unallocated input.
	assert.Nil(t, ctx.Input(1))
	_, err = ctx.InputTensor(1)
	require.ErrorContains(t, err, "absent or not live")

	// Absent optional input.
	assert.Nil(t, ctx.Input(2))

	// Opaque implicit input.
	implicit := ctx.ImplicitInput(0)
	require.NotNil(t, implicit)
	assert.False(t, implicit.IsTensor())
	_, err = ctx.InputTensor(2)
	require.ErrorContains(t, err, "not live") // optional input, nil value

	require.Panics(t, func() { ctx.Input(3) })
	require.Panics(t, func() { ctx.ImplicitInput(1) })
}

func TestContextOutputs(t *testing.T) {
	frame := newFakeFrame(4)
	ctx := NewContext(frame, testNode())

	assert.Nil(t, ctx.OutputValue(0))

	shape := shapes.Make(dtypes.Float32, 2)
	out, err := ctx.Output(0, shape)
	require.NoError(t, err)
	values.Flat[float32](out)[0] = 42

	// Second materialization returns the same tensor.
	again, err := ctx.Output(0, shape)
	require.NoError(t, err)
	assert.Same(t, out, again)
	require.NotNil(t, ctx.OutputValue(0))

	// Materializing with a different shape fails.
	_, err = ctx.Output(0, shapes.Make(dtypes.Float32, 3))
	require.ErrorContains(t, err, "different shape")

	// Absent optional output.
	_, err = ctx.Output(1, shape)
	require.ErrorContains(t, err, "optional")
	assert.Nil(t, ctx.OutputValue(1))
	err = ctx.SetOutput(1, values.FromOpaque("x"))
	require.ErrorContains(t, err, "optional")

	// SetOutput binds a kernel-provided value.
	opaque := values.FromOpaque([]string{"seq"})
	require.NoError(t, ctx.SetOutput(0, opaque))
	assert.Equal(t, []int{3}, frame.puts)

	require.Panics(t, func() { _, _ = ctx.Output(2, shape) })
	require.Panics(t, func() { ctx.OutputValue(2) })
	require.Panics(t, func() { _ = ctx.SetOutput(2, opaque) })
}

func TestRegistry(t *testing.T) {
	def := Def{
		Op:       "TestOnlyOp",
		Provider: "test_provider",
		InputMem: map[int]MemType{1: MemTypeCPUInput},
	}
	Register(def, func(node *plans.Node) (Kernel, error) { return nil, nil })

	got, builder, found := Lookup("TestOnlyOp", "test_provider")
	require.True(t, found)
	require.NotNil(t, builder)
	assert.Equal(t, MemTypeDefault, got.InputMemType(0))
	assert.Equal(t, MemTypeCPUInput, got.InputMemType(1))
	assert.Equal(t, MemTypeDefault, got.OutputMemType(0))

	_, _, found = Lookup("TestOnlyOp", "elsewhere")
	assert.False(t, found)

	ops := RegisteredOps("test_provider")
	assert.Contains(t, ops, "TestOnlyOp")

	require.Panics(t, func() { Register(Def{Op: "X"}, nil) })
	require.Panics(t, func() {
		Register(Def{Op: "X", Provider: "p"}, nil)
	})
}

func TestMemTypeString(t *testing.T) {
	assert.Equal(t, "default", MemTypeDefault.String())
	assert.Equal(t, "cpu_input", MemTypeCPUInput.String())
	assert.Equal(t, "cpu_output", MemTypeCPUOutput.String())
	assert.Equal(t, "unknown", MemType(99).String())
}
