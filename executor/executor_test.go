package executor

import (
	"context"
	"testing"

	"github.com/gomlx/goinfer/allocators"
	"github.com/gomlx/goinfer/kernels"
	"github.com/gomlx/goinfer/plans"
	"github.com/gomlx/goinfer/profiling"
	"github.com/gomlx/goinfer/types/values"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// funcKernel adapts a plain function to the Kernel interface.
type funcKernel struct {
	fn func(ctx *kernels.Context) error
}

func (k funcKernel) Compute(ctx *kernels.Context) error { return k.fn(ctx) }

func registerOp(def kernels.Def, fn func(ctx *kernels.Context) error) {
	kernels.Register(def, func(*plans.Node) (kernels.Kernel, error) {
		return funcKernel{fn: fn}, nil
	})
}

// registerDoubleOp registers op on the CPU provider: output 0 is input 0
// with every element doubled. When log is non-nil, each invocation appends
// "compute:<node name>".
func registerDoubleOp(op string, log *eventLog) {
	registerOp(kernels.Def{Op: op, Provider: plans.CPUProvider}, func(ctx *kernels.Context) error {
		if log != nil {
			log.add("compute:" + ctx.Node().Name)
		}
		in, err := ctx.InputTensor(0)
		if err != nil {
			return err
		}
		out, err := ctx.Output(0, in.Shape())
		if err != nil {
			return err
		}
		src := values.Flat[float32](in)
		dst := values.Flat[float32](out)
		for i, x := range src {
			dst[i] = 2 * x
		}
		return nil
	})
}

func feedOf(elements ...float32) *values.Value {
	return values.FromTensor(values.FromFlat(elements, len(elements)))
}

func runChain(t *testing.T, state *SessionState, plan *plans.Plan, feed *values.Value,
	fetch string, opts *RunOptions) ([]*values.Value, error) {
	t.Helper()
	var exec Sequential
	return exec.Run(context.Background(), state,
		[]int{mustID(t, plan, "v0")}, []*values.Value{feed},
		[]int{mustID(t, plan, fetch)}, opts)
}

func TestSequentialRunOrder(t *testing.T) {
	log := &eventLog{}
	op := "TestSequentialRunOrderOp"
	registerDoubleOp(op, log)
	plan := chainPlan(t, op, 3)
	state, err := NewSession(plan, nil)
	require.NoError(t, err)

	outputs, err := runChain(t, state, plan, feedOf(1, 2), "v3", nil)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, []float32{8, 16}, values.Flat[float32](outputs[0].Tensor()))

	// Kernels ran exactly once each, in plan order.
	assert.Equal(t, []string{"compute:n1", "compute:n2", "compute:n3"}, log.snapshot())
}

func TestReleaseTiming(t *testing.T) {
	log := &eventLog{}
	op := "TestReleaseTimingOp"
	registerDoubleOp(op, log)
	plan := chainPlan(t, op, 2)
	state, err := NewSession(plan, &SessionOptions{Allocator: newRecordingAllocator(log)})
	require.NoError(t, err)

	outputs, err := runChain(t, state, plan, feedOf(1, 2), "v2", nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 8}, values.Flat[float32](outputs[0].Tensor()))

	// v1 is consumed by n2 and scheduled for release after it: the release
	// lands after n2's compute, never between n1 and n2. The fetched v2 is
	// handed to the caller and not released.
	assert.Equal(t, []string{
		"compute:n1",
		"allocate:(Float32)[2]",
		"compute:n2",
		"allocate:(Float32)[2]",
		"release:(Float32)[2]",
	}, log.snapshot())
}

func TestReleasedValueNotLive(t *testing.T) {
	op := "TestReleasedValueNotLiveOp"
	log := &eventLog{}
	registerDoubleOp(op, log)
	probeOp := "TestReleasedValueNotLiveProbe"
	sawImplicit := values.FromOpaque("sentinel") // Overwritten by the probe below.
	registerOp(kernels.Def{Op: probeOp, Provider: plans.CPUProvider}, func(ctx *kernels.Context) error {
		sawImplicit = ctx.ImplicitInput(0)
		in, err := ctx.InputTensor(0)
		if err != nil {
			return err
		}
		out, err := ctx.Output(0, in.Shape())
		if err != nil {
			return err
		}
		out.CopyFrom(in)
		return nil
	})

	// h is released right after B; C still names it as implicit input and
	// observes an empty slot.
	b := plans.NewBuilder("release-probe")
	x := b.AddValue("x")
	h := b.AddValue("h")
	y := b.AddValue("y")
	z := b.AddValue("z")
	b.AddNode(plans.NodeSpec{Name: "A", OpType: op, Inputs: []int{x}, Outputs: []int{h}})
	nB := b.AddNode(plans.NodeSpec{Name: "B", OpType: op, Inputs: []int{h}, Outputs: []int{y}})
	b.ReleaseAfter(nB, h)
	b.AddNode(plans.NodeSpec{Name: "C", OpType: probeOp, Inputs: []int{y}, ImplicitInputs: []int{h}, Outputs: []int{z}})
	plan, err := b.Build()
	require.NoError(t, err)

	state, err := NewSession(plan, nil)
	require.NoError(t, err)
	var exec Sequential
	outputs, err := exec.Run(context.Background(), state, []int{x}, []*values.Value{feedOf(1, 2)}, []int{z}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 8}, values.Flat[float32](outputs[0].Tensor()))
	assert.Nil(t, sawImplicit)
}

func TestFenceProtocolOrder(t *testing.T) {
	log := &eventLog{}
	op := "TestFenceProtocolOrderOp"
	registerDoubleOp(op, log)

	b := plans.NewBuilder("fenced")
	x := b.AddValue("x")
	h := b.AddValue("h")
	y := b.AddValue("y")
	b.MarkFenced(x)
	b.MarkFenced(h)
	b.AddNode(plans.NodeSpec{Name: "A", OpType: op, Inputs: []int{x}, Outputs: []int{h}})
	b.AddNode(plans.NodeSpec{Name: "B", OpType: op, Inputs: []int{h}, Outputs: []int{y}})
	plan, err := b.Build()
	require.NoError(t, err)

	state, err := NewSession(plan, &SessionOptions{
		FenceFactory: func(valueID int) values.Fence {
			return &recordingFence{name: plan.ValueName(valueID), log: log}
		},
	})
	require.NoError(t, err)

	var exec Sequential
	outputs, err := exec.Run(context.Background(), state, []int{x}, []*values.Value{feedOf(1, 2)}, []int{y}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 8}, values.Flat[float32](outputs[0].Tensor()))

	// Around each node: inputs then outputs before compute, the same set
	// after compute, one call per value per phase. y carries no fence.
	assert.Equal(t, []string{
		"x:before_input(cpu,0)",
		"h:before_output(cpu,0)",
		"compute:A",
		"x:after_input(0)",
		"h:after_output(0)",
		"h:before_input(cpu,0)",
		"compute:B",
		"h:after_input(0)",
	}, log.snapshot())
}

func TestFenceNotRequiredMakesNoCalls(t *testing.T) {
	log := &eventLog{}
	op := "TestFenceNotRequiredOp"
	registerDoubleOp(op, log)
	plan := chainPlan(t, op, 2) // No value marked as fenced.
	state, err := NewSession(plan, nil)
	require.NoError(t, err)

	// Even a feed that carries its own fence is ignored when the plan
	// requires no fencing for the nodes touching it.
	feed := feedOf(1, 2)
	feed.SetFence(&recordingFence{name: "v0", log: log})
	_, err = runChain(t, state, plan, feed, "v2", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"compute:n1", "compute:n2"}, log.snapshot())
}

func TestFenceCPUInputSubstitution(t *testing.T) {
	log := &eventLog{}
	op := "TestFenceCPUInputSubstitutionOp"
	// The kernel reads input 0 on the host: fence waits for it target the
	// CPU provider instead of the node's. The same memory-type table is
	// consulted for implicit inputs by position, so implicit position 0 is
	// substituted as well. Output waits always target the node's provider.
	registerOp(kernels.Def{
		Op:       op,
		Provider: "accel",
		InputMem: map[int]kernels.MemType{0: kernels.MemTypeCPUInput},
	}, func(ctx *kernels.Context) error {
		log.add("compute:" + ctx.Node().Name)
		in, err := ctx.InputTensor(0)
		if err != nil {
			return err
		}
		out, err := ctx.Output(0, in.Shape())
		if err != nil {
			return err
		}
		out.CopyFrom(in)
		return nil
	})

	b := plans.NewBuilder("accel")
	x := b.AddValue("x")
	w := b.AddValue("w")
	h := b.AddValue("h")
	for _, id := range []int{x, w, h} {
		b.MarkFenced(id)
	}
	b.AddNode(plans.NodeSpec{
		Name: "n1", OpType: op, Provider: "accel", Queue: 3,
		Inputs: []int{x}, ImplicitInputs: []int{w}, Outputs: []int{h},
	})
	plan, err := b.Build()
	require.NoError(t, err)

	state, err := NewSession(plan, &SessionOptions{
		FenceFactory: func(valueID int) values.Fence {
			return &recordingFence{name: plan.ValueName(valueID), log: log}
		},
	})
	require.NoError(t, err)

	var exec Sequential
	_, err = exec.Run(context.Background(), state,
		[]int{x, w}, []*values.Value{feedOf(1, 2), feedOf(3, 4)}, []int{h}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"x:before_input(cpu,3)",
		"w:before_input(cpu,3)",
		"h:before_output(accel,3)",
		"compute:n1",
		"x:after_input(3)",
		"w:after_input(3)",
		"h:after_output(3)",
	}, log.snapshot())
}

func TestTerminateBeforeAnyNode(t *testing.T) {
	log := &eventLog{}
	op := "TestTerminateBeforeAnyNodeOp"
	registerDoubleOp(op, log)
	plan := chainPlan(t, op, 2)
	state, err := NewSession(plan, nil)
	require.NoError(t, err)

	terminate := NewTerminateFlag()
	terminate.Set()
	outputs, err := runChain(t, state, plan, feedOf(1, 2), "v2", &RunOptions{Terminate: terminate})
	require.ErrorIs(t, err, ErrCancelled)
	assert.ErrorContains(t, err, "before node 0")
	assert.Nil(t, outputs)
	assert.Empty(t, log.snapshot())

	// Reset lets the same flag be reused for the next run.
	terminate.Reset()
	outputs, err = runChain(t, state, plan, feedOf(1, 2), "v2", &RunOptions{Terminate: terminate})
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 8}, values.Flat[float32](outputs[0].Tensor()))
}

func TestTerminateMidRun(t *testing.T) {
	log := &eventLog{}
	terminate := NewTerminateFlag()
	op := "TestTerminateMidRunOp"
	registerOp(kernels.Def{Op: op, Provider: plans.CPUProvider}, func(ctx *kernels.Context) error {
		log.add("compute:" + ctx.Node().Name)
		if ctx.Node().Name == "n2" {
			terminate.Set()
		}
		in, err := ctx.InputTensor(0)
		if err != nil {
			return err
		}
		out, err := ctx.Output(0, in.Shape())
		if err != nil {
			return err
		}
		out.CopyFrom(in)
		return nil
	})
	plan := chainPlan(t, op, 3)
	state, err := NewSession(plan, &SessionOptions{Allocator: newRecordingAllocator(log)})
	require.NoError(t, err)

	outputs, err := runChain(t, state, plan, feedOf(1, 2), "v3", &RunOptions{Terminate: terminate})
	require.ErrorIs(t, err, ErrCancelled)
	assert.ErrorContains(t, err, `("n3")`)
	assert.Nil(t, outputs)

	// n1 and n2 ran; n3 was never dispatched. The release scheduled after
	// n2 still happened before the flag was observed.
	events := log.snapshot()
	assert.NotContains(t, events, "compute:n3")
	assert.Contains(t, events, "compute:n2")
	assert.Contains(t, events, "release:(Float32)[2]")
}

func TestContextCancellation(t *testing.T) {
	log := &eventLog{}
	ctx, cancel := context.WithCancel(context.Background())
	op := "TestContextCancellationOp"
	registerOp(kernels.Def{Op: op, Provider: plans.CPUProvider}, func(kctx *kernels.Context) error {
		log.add("compute:" + kctx.Node().Name)
		if kctx.Node().Name == "n1" {
			cancel()
		}
		in, err := kctx.InputTensor(0)
		if err != nil {
			return err
		}
		out, err := kctx.Output(0, in.Shape())
		if err != nil {
			return err
		}
		out.CopyFrom(in)
		return nil
	})
	plan := chainPlan(t, op, 2)
	state, err := NewSession(plan, nil)
	require.NoError(t, err)

	var exec Sequential
	x, y := mustID(t, plan, "v0"), mustID(t, plan, "v2")
	outputs, err := exec.Run(ctx, state, []int{x}, []*values.Value{feedOf(1, 2)}, []int{y}, nil)
	require.ErrorIs(t, err, ErrCancelled)
	assert.ErrorContains(t, err, "context done")
	assert.Nil(t, outputs)
	assert.Equal(t, []string{"compute:n1"}, log.snapshot())

	// Already-cancelled context: nothing runs at all.
	outputs, err = exec.Run(ctx, state, []int{x}, []*values.Value{feedOf(1, 2)}, []int{y}, nil)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Nil(t, outputs)
	assert.Equal(t, []string{"compute:n1"}, log.snapshot())
}

func TestKernelFailure(t *testing.T) {
	log := &eventLog{}
	op := "TestKernelFailureOp"
	registerOp(kernels.Def{Op: op, Provider: plans.CPUProvider}, func(ctx *kernels.Context) error {
		log.add("compute:" + ctx.Node().Name)
		if ctx.Node().Name == "n2" {
			return errors.New("boom")
		}
		in, err := ctx.InputTensor(0)
		if err != nil {
			return err
		}
		out, err := ctx.Output(0, in.Shape())
		if err != nil {
			return err
		}
		out.CopyFrom(in)
		return nil
	})
	plan := chainPlan(t, op, 3)
	state, err := NewSession(plan, nil)
	require.NoError(t, err)

	outputs, err := runChain(t, state, plan, feedOf(1, 2), "v3", nil)
	require.Error(t, err)
	assert.Nil(t, outputs)

	var kernelErr *KernelError
	require.ErrorAs(t, err, &kernelErr)
	assert.Equal(t, "n2", kernelErr.Node)
	assert.Equal(t, op, kernelErr.Op)
	assert.ErrorContains(t, err, `running node "n2"`)
	assert.ErrorContains(t, err, "boom")
	assert.NotErrorIs(t, err, ErrCancelled)

	// Nothing downstream of the failing node was dispatched.
	assert.Equal(t, []string{"compute:n1", "compute:n2"}, log.snapshot())
}

func TestMissingKernel(t *testing.T) {
	log := &eventLog{}
	op := "TestMissingKernelOp"
	registerDoubleOp(op, log)

	b := plans.NewBuilder("missing")
	x := b.AddValue("x")
	h := b.AddValue("h")
	y := b.AddValue("y")
	z := b.AddValue("z")
	b.AddNode(plans.NodeSpec{Name: "n1", OpType: op, Inputs: []int{x}, Outputs: []int{h}})
	b.AddNode(plans.NodeSpec{Name: "n2", OpType: "NeverRegisteredOp", Inputs: []int{h}, Outputs: []int{y}})
	b.AddNode(plans.NodeSpec{Name: "n3", OpType: op, Inputs: []int{y}, Outputs: []int{z}})
	plan, err := b.Build()
	require.NoError(t, err)

	state, err := NewSession(plan, nil)
	require.NoError(t, err) // Binding is lazy; creation succeeds.

	err = state.Validate()
	require.ErrorIs(t, err, ErrMissingKernel)
	assert.ErrorContains(t, err, `"n2"`)
	assert.ErrorContains(t, err, "NeverRegisteredOp")

	var exec Sequential
	outputs, err := exec.Run(context.Background(), state, []int{x}, []*values.Value{feedOf(1, 2)}, []int{z}, nil)
	require.ErrorIs(t, err, ErrMissingKernel)
	assert.ErrorContains(t, err, `"n2"`)
	assert.Nil(t, outputs)

	// The node before the hole ran; nothing at or after it did.
	assert.Equal(t, []string{"compute:n1"}, log.snapshot())
}

func TestMemoryPatternCaptureAndReplay(t *testing.T) {
	op := "TestMemoryPatternOp"
	registerDoubleOp(op, nil)
	plan := chainPlan(t, op, 2)
	state, err := NewSession(plan, nil)
	require.NoError(t, err)
	x := mustID(t, plan, "v0")

	// First run captures: one miss, no hits, one cached pattern with a
	// block for each materialized value (v1, v2).
	outputs, err := runChain(t, state, plan, feedOf(1, 2), "v2", nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 8}, values.Flat[float32](outputs[0].Tensor()))
	assert.Equal(t, 1, state.PatternCache().Len())
	hits, misses := state.PatternCache().Stats()
	assert.EqualValues(t, 0, hits)
	assert.EqualValues(t, 1, misses)

	feed := feedOf(1, 2)
	pattern, found := state.PatternCache().Load(feedsSignature([]int{x}, []*values.Value{feed}))
	require.True(t, found)
	assert.Equal(t, 2, pattern.NumBlocks())
	assert.EqualValues(t, 16, pattern.TotalBytes())

	// Second run with the same feed shape replays the pattern and must
	// produce identical results.
	outputs, err = runChain(t, state, plan, feedOf(5, 6), "v2", nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{20, 24}, values.Flat[float32](outputs[0].Tensor()))
	hits, _ = state.PatternCache().Stats()
	assert.GreaterOrEqual(t, hits, int64(1))
	assert.Equal(t, 1, state.PatternCache().Len())

	// A different feed shape is a different pattern.
	outputs, err = runChain(t, state, plan, feedOf(1, 2, 3), "v2", nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 8, 12}, values.Flat[float32](outputs[0].Tensor()))
	assert.Equal(t, 2, state.PatternCache().Len())
}

func TestMemoryPatternSkippedForOpaqueFeeds(t *testing.T) {
	op := "TestMemoryPatternOpaqueOp"
	registerOp(kernels.Def{Op: op, Provider: plans.CPUProvider}, func(ctx *kernels.Context) error {
		return ctx.SetOutput(0, ctx.Input(0))
	})
	plan := chainPlan(t, op, 2)
	state, err := NewSession(plan, nil)
	require.NoError(t, err)

	// A non-tensor feed flows through untouched; no pattern is captured,
	// and that is not an error.
	outputs, err := runChain(t, state, plan, values.FromOpaque("payload"), "v2", nil)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, "payload", outputs[0].Opaque())
	assert.Equal(t, 0, state.PatternCache().Len())
}

func TestMemoryPatternsDisabled(t *testing.T) {
	op := "TestMemoryPatternsDisabledOp"
	registerDoubleOp(op, nil)
	plan := chainPlan(t, op, 2)
	state, err := NewSession(plan, &SessionOptions{DisableMemoryPatterns: true})
	require.NoError(t, err)

	outputs, err := runChain(t, state, plan, feedOf(1, 2), "v2", nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 8}, values.Flat[float32](outputs[0].Tensor()))
	assert.Equal(t, 0, state.PatternCache().Len())
}

func TestFetchAllocator(t *testing.T) {
	op := "TestFetchAllocatorOp"
	registerDoubleOp(op, nil)
	plan := chainPlan(t, op, 2)
	mainLog := &eventLog{}
	state, err := NewSession(plan, &SessionOptions{Allocator: newRecordingAllocator(mainLog)})
	require.NoError(t, err)

	fetchLog := &eventLog{}
	outputs, err := runChain(t, state, plan, feedOf(1, 2), "v2", &RunOptions{
		FetchAllocators: map[int]allocators.Allocator{0: newRecordingAllocator(fetchLog)},
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 8}, values.Flat[float32](outputs[0].Tensor()))

	// The output was copied into caller storage...
	assert.Equal(t, []string{"allocate:(Float32)[2]"}, fetchLog.snapshot())
	// ...so the frame kept ownership of v2 and reclaimed it at the end,
	// alongside the in-loop release of v1.
	assert.Equal(t, []string{
		"allocate:(Float32)[2]",
		"allocate:(Float32)[2]",
		"release:(Float32)[2]",
		"release:(Float32)[2]",
	}, mainLog.snapshot())
}

func TestConcurrentRuns(t *testing.T) {
	op := "TestConcurrentRunsOp"
	registerDoubleOp(op, nil)
	plan := chainPlan(t, op, 2)
	state, err := NewSession(plan, nil)
	require.NoError(t, err)
	x, y := mustID(t, plan, "v0"), mustID(t, plan, "v2")

	var exec Sequential
	var group errgroup.Group
	for worker := 0; worker < 8; worker++ {
		base := float32(worker * 100)
		group.Go(func() error {
			for run := 0; run < 25; run++ {
				in := base + float32(run)
				outputs, err := exec.Run(context.Background(), state,
					[]int{x}, []*values.Value{feedOf(in, in+1)}, []int{y}, nil)
				if err != nil {
					return err
				}
				got := values.Flat[float32](outputs[0].Tensor())
				if got[0] != 4*in || got[1] != 4*(in+1) {
					return errors.Errorf("run with feed %v: got %v", in, got)
				}
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())
	assert.Equal(t, 1, state.PatternCache().Len())
}

func TestProfilingEvents(t *testing.T) {
	op := "TestProfilingEventsOp"
	registerDoubleOp(op, nil)
	plan := chainPlan(t, op, 2)
	state, err := NewSession(plan, &SessionOptions{EnableProfiling: true})
	require.NoError(t, err)

	prof := state.Profiler()
	require.True(t, prof.Enabled())
	assert.NotEmpty(t, prof.RunID())

	_, err = runChain(t, state, plan, feedOf(1, 2), "v2", nil)
	require.NoError(t, err)

	events := prof.Events()
	require.Len(t, events, 7)
	names := make([]string, len(events))
	for i, event := range events {
		names[i] = event.Name
	}
	assert.Equal(t, []string{
		"n1_fence_before", "n1_kernel_time", "n1_fence_after",
		"n2_fence_before", "n2_kernel_time", "n2_fence_after",
		"SequentialExecutor.Run",
	}, names)
	for _, event := range events[:6] {
		assert.Equal(t, profiling.CategoryNode, event.Category)
		assert.Equal(t, op, event.Args["op_name"])
	}
	assert.Equal(t, plans.CPUProvider, events[1].Args["provider"])
	assert.Equal(t, profiling.CategorySession, events[6].Category)
}

func TestProfilingDisabledByDefault(t *testing.T) {
	op := "TestProfilingDisabledOp"
	registerDoubleOp(op, nil)
	plan := chainPlan(t, op, 2)
	state, err := NewSession(plan, nil)
	require.NoError(t, err)

	assert.Nil(t, state.Profiler())
	assert.False(t, state.Profiler().Enabled())
	outputs, err := runChain(t, state, plan, feedOf(1, 2), "v2", nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 8}, values.Flat[float32](outputs[0].Tensor()))
}

func TestRunInvalidArguments(t *testing.T) {
	op := "TestRunInvalidArgumentsOp"
	registerDoubleOp(op, nil)
	plan := chainPlan(t, op, 2)
	state, err := NewSession(plan, nil)
	require.NoError(t, err)

	var exec Sequential
	_, err = exec.Run(context.Background(), nil, nil, nil, nil, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	// Frame validation surfaces through Run unchanged.
	_, err = exec.Run(context.Background(), state, []int{99}, []*values.Value{feedOf(1)}, nil, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = exec.Run(context.Background(), state, []int{0, 1}, []*values.Value{feedOf(1)}, nil, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestFetchNeverProduced(t *testing.T) {
	op := "TestFetchNeverProducedOp"
	registerDoubleOp(op, nil)

	b := plans.NewBuilder("unproduced")
	x := b.AddValue("x")
	h := b.AddValue("h")
	orphan := b.AddValue("orphan")
	b.AddNode(plans.NodeSpec{Name: "n1", OpType: op, Inputs: []int{x}, Outputs: []int{h}})
	plan, err := b.Build()
	require.NoError(t, err)
	state, err := NewSession(plan, nil)
	require.NoError(t, err)

	var exec Sequential
	outputs, err := exec.Run(context.Background(), state, []int{x}, []*values.Value{feedOf(1, 2)}, []int{orphan}, nil)
	require.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorContains(t, err, "never produced")
	assert.ErrorContains(t, err, `"orphan"`)
	assert.Nil(t, outputs)
}

func TestReleaseScheduleMismatch(t *testing.T) {
	op := "TestReleaseScheduleMismatchOp"
	registerDoubleOp(op, nil)

	// z exists in the plan but nothing ever produces it; releasing it is a
	// schedule/frame disagreement surfaced as a ReleaseError.
	b := plans.NewBuilder("bad-schedule")
	x := b.AddValue("x")
	h := b.AddValue("h")
	z := b.AddValue("z")
	n1 := b.AddNode(plans.NodeSpec{Name: "n1", OpType: op, Inputs: []int{x}, Outputs: []int{h}})
	b.ReleaseAfter(n1, z)
	plan, err := b.Build()
	require.NoError(t, err)
	state, err := NewSession(plan, nil)
	require.NoError(t, err)

	var exec Sequential
	outputs, err := exec.Run(context.Background(), state, []int{x}, []*values.Value{feedOf(1, 2)}, []int{h}, nil)
	require.Error(t, err)
	assert.Nil(t, outputs)

	var releaseErr *ReleaseError
	require.ErrorAs(t, err, &releaseErr)
	assert.Equal(t, z, releaseErr.ValueID)
	assert.Equal(t, "z", releaseErr.ValueName)
	assert.Equal(t, "n1", releaseErr.Node)
	require.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorContains(t, err, "never allocated")
}
