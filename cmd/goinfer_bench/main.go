// goinfer_bench runs a synthetic MLP plan through the sequential executor
// and reports throughput, allocator behavior and memory-pattern reuse.
//
// Example:
//
//	goinfer_bench -layers=8 -batch=64 -runs=1000 -parallel=4 -profile=/tmp/trace.json
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/goinfer/allocators"
	"github.com/gomlx/goinfer/executor"
	_ "github.com/gomlx/goinfer/kernels/cpu"
	"github.com/gomlx/goinfer/plans"
	"github.com/gomlx/goinfer/types/values"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var (
	flagLayers   = flag.Int("layers", 4, "Number of MatMul+Add+Relu layers in the synthetic model.")
	flagBatch    = flag.Int("batch", 32, "Batch size of the input.")
	flagFeatures = flag.Int("features", 256, "Feature dimension; every layer weight is features x features.")
	flagRuns     = flag.Int("runs", 200, "Number of timed runs.")
	flagParallel = flag.Int("parallel", 1, "Number of goroutines issuing runs concurrently.")
	flagProfile  = flag.String("profile", "", "Write a Chrome-trace JSON of the runs to this file.")
	flagNoReuse  = flag.Bool("no_memory_patterns", false, "Disable memory-pattern capture and replay.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagLayers < 1 || *flagBatch < 1 || *flagFeatures < 1 || *flagRuns < 1 || *flagParallel < 1 {
		klog.Errorf("-layers, -batch, -features, -runs and -parallel must all be >= 1")
		os.Exit(1)
	}

	plan, weights := buildPlan(*flagLayers, *flagBatch, *flagFeatures)
	state := must.M1(executor.NewSession(plan, &executor.SessionOptions{
		Weights:               weights,
		DisableMemoryPatterns: *flagNoReuse,
		EnableProfiling:       *flagProfile != "",
	}))
	must.M(state.Validate())

	x := mustValueID(plan, "x")
	y := mustValueID(plan, "y")
	feed := randomInput(*flagBatch, *flagFeatures)
	var exec executor.Sequential

	// Warm-up: fills the allocator pools and captures the memory pattern.
	warmStart := time.Now()
	outputs := must.M1(exec.Run(context.Background(), state,
		[]int{x}, []*values.Value{feed}, []int{y}, nil))
	warmup := time.Since(warmStart)
	checkOutput(outputs[0], *flagFeatures)

	bar := progressbar.NewOptions(*flagRuns,
		progressbar.OptionSetDescription("Benchmarking: "),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("runs"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	start := time.Now()
	perWorker := *flagRuns / *flagParallel
	remainder := *flagRuns % *flagParallel
	var group errgroup.Group
	for worker := 0; worker < *flagParallel; worker++ {
		runs := perWorker
		if worker < remainder {
			runs++
		}
		group.Go(func() error {
			for i := 0; i < runs; i++ {
				if _, err := exec.Run(context.Background(), state,
					[]int{x}, []*values.Value{feed}, []int{y}, nil); err != nil {
					return err
				}
				_ = bar.Add(1)
			}
			return nil
		})
	}
	must.M(group.Wait())
	elapsed := time.Since(start)
	_ = bar.Finish()
	fmt.Println()

	report(plan, state, weights, warmup, elapsed, *flagRuns)
	if *flagProfile != "" {
		writeProfile(state, *flagProfile)
	}
}

// buildPlan assembles x -> [MatMul w -> Add b -> Relu] x layers -> Softmax -> y,
// releasing each intermediate right after its last consumer — the shape of
// schedule a memory planner emits.
func buildPlan(layers, batch, features int) (*plans.Plan, map[string]*values.Value) {
	rng := rand.New(rand.NewSource(42))
	b := plans.NewBuilder("mlp")
	weights := make(map[string]*values.Value, 2*layers)

	prev := b.AddValue("x")
	prevIsInput := true
	for layer := 0; layer < layers; layer++ {
		wName := fmt.Sprintf("w%d", layer)
		w := b.AddValue(wName)
		weights[wName] = randomWeight(rng, features)

		mm := b.AddValue(fmt.Sprintf("mm%d", layer))
		node := b.AddNode(plans.NodeSpec{
			Name:   fmt.Sprintf("matmul%d", layer),
			OpType: "MatMul",
			Inputs: []int{prev, w}, Outputs: []int{mm},
		})
		if !prevIsInput {
			b.ReleaseAfter(node, prev)
		}

		bName := fmt.Sprintf("b%d", layer)
		bias := b.AddValue(bName)
		weights[bName] = values.FromTensor(values.FromFlat([]float32{0.01}, 1))
		sum := b.AddValue(fmt.Sprintf("sum%d", layer))
		node = b.AddNode(plans.NodeSpec{
			Name:   fmt.Sprintf("add%d", layer),
			OpType: "Add",
			Inputs: []int{mm, bias}, Outputs: []int{sum},
		})
		b.ReleaseAfter(node, mm)

		act := b.AddValue(fmt.Sprintf("act%d", layer))
		node = b.AddNode(plans.NodeSpec{
			Name:   fmt.Sprintf("relu%d", layer),
			OpType: "Relu",
			Inputs: []int{sum}, Outputs: []int{act},
		})
		b.ReleaseAfter(node, sum)

		prev, prevIsInput = act, false
	}
	y := b.AddValue("y")
	node := b.AddNode(plans.NodeSpec{
		Name:   "softmax",
		OpType: "Softmax",
		Inputs: []int{prev}, Outputs: []int{y},
	})
	b.ReleaseAfter(node, prev)
	return must.M1(b.Build()), weights
}

func mustValueID(plan *plans.Plan, name string) int {
	id, found := plan.ValueIndex(name)
	if !found {
		klog.Fatalf("plan %q has no value %q", plan.Name(), name)
	}
	return id
}

// randomWeight draws entries in [-1/sqrt(n), 1/sqrt(n)] so activations keep
// a sane magnitude through the layers.
func randomWeight(rng *rand.Rand, features int) *values.Value {
	flat := make([]float32, features*features)
	scale := float32(1 / math.Sqrt(float64(features)))
	for i := range flat {
		flat[i] = (rng.Float32()*2 - 1) * scale
	}
	return values.FromTensor(values.FromFlat(flat, features, features))
}

func randomInput(batch, features int) *values.Value {
	rng := rand.New(rand.NewSource(17))
	flat := make([]float32, batch*features)
	for i := range flat {
		flat[i] = rng.Float32()
	}
	return values.FromTensor(values.FromFlat(flat, batch, features))
}

// checkOutput sanity-checks the softmax output: the first row must sum to 1.
func checkOutput(output *values.Value, features int) {
	flat := values.Flat[float32](output.Tensor())
	var rowSum float64
	for _, v := range flat[:features] {
		rowSum += float64(v)
	}
	if math.Abs(rowSum-1) > 1e-3 {
		klog.Warningf("softmax output row sums to %.6f, expected 1.0", rowSum)
	}
}

func report(plan *plans.Plan, state *executor.SessionState, weights map[string]*values.Value,
	warmup, elapsed time.Duration, runs int) {
	var weightBytes uint64
	for _, w := range weights {
		weightBytes += uint64(w.Tensor().Memory())
	}

	fmt.Println(titleStyle.Render("goinfer benchmark"))
	table := newPlainTable(false, lipgloss.Right, lipgloss.Left)
	table.Row("plan", plan.Name())
	table.Row("nodes", humanize.Comma(int64(plan.NumNodes())))
	table.Row("values", humanize.Comma(int64(plan.NumValues())))
	table.Row("weights", humanize.Bytes(weightBytes))
	table.Row("warm-up", warmup.Round(time.Microsecond).String())
	table.Row("timed runs", humanize.Comma(int64(runs)))
	table.Row("wall time", elapsed.Round(time.Millisecond).String())
	table.Row("runs/sec", fmt.Sprintf("%.1f", float64(runs)/elapsed.Seconds()))
	table.Row("latency/run", (elapsed / time.Duration(runs)).Round(time.Microsecond).String())
	fmt.Println(table.Render())

	if pooled, ok := state.Allocator().(*allocators.Pooled); ok {
		stats := pooled.Stats()
		table = newPlainTable(true, lipgloss.Left, lipgloss.Right)
		table.Headers("Allocator", "Fresh allocations", "Pool reuses", "Releases")
		table.Row(pooled.Name(), humanize.Comma(stats.Allocations),
			humanize.Comma(stats.Reuses), humanize.Comma(stats.Releases))
		fmt.Println(table.Render())
	}

	hits, misses := state.PatternCache().Stats()
	table = newPlainTable(true, lipgloss.Right)
	table.Headers("Memory patterns", "Hits", "Misses")
	table.Row(humanize.Comma(int64(state.PatternCache().Len())),
		humanize.Comma(hits), humanize.Comma(misses))
	fmt.Println(table.Render())
}

func writeProfile(state *executor.SessionState, path string) {
	prof := state.Profiler()
	f := must.M1(os.Create(path))
	defer func() { must.M(f.Close()) }()
	must.M(prof.WriteChromeTrace(f))
	fmt.Printf("Wrote %s trace events to %s (run id %s, %s dropped).\n",
		humanize.Comma(int64(prof.NumEvents())), path, prof.RunID(),
		humanize.Comma(int64(prof.NumDropped())))
}
