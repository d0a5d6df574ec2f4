package profiling

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilProfiler(t *testing.T) {
	var p *Profiler
	assert.False(t, p.Enabled())
	assert.Empty(t, p.RunID())
	assert.True(t, p.Start().IsZero())
	p.Record(CategoryNode, "x_kernel_time", time.Now(), nil)
	assert.Nil(t, p.Events())
	assert.Zero(t, p.NumEvents())
	assert.Zero(t, p.NumDropped())
	require.Error(t, p.WriteChromeTrace(&bytes.Buffer{}))
}

func TestProfilerRecord(t *testing.T) {
	p := New()
	require.True(t, p.Enabled())
	require.NotEmpty(t, p.RunID())

	start := p.Start()
	time.Sleep(time.Millisecond)
	p.Record(CategoryNode, "add0_kernel_time", start, map[string]string{"op_name": "Add"})
	p.Record(CategorySession, "run", start, nil)

	events := p.Events()
	require.Len(t, events, 2)
	assert.Equal(t, CategoryNode, events[0].Category)
	assert.Equal(t, "add0_kernel_time", events[0].Name)
	assert.GreaterOrEqual(t, events[0].Duration, time.Millisecond)
	assert.Equal(t, "Add", events[0].Args["op_name"])
	assert.Equal(t, 2, p.NumEvents())

	// Events() returns a copy.
	events[0].Name = "mutated"
	assert.Equal(t, "add0_kernel_time", p.Events()[0].Name)
}

func TestProfilerCap(t *testing.T) {
	p := New()
	p.maxEvents = 3
	for ii := 0; ii < 5; ii++ {
		p.Record(CategoryNode, "n", p.Start(), nil)
	}
	assert.Equal(t, 3, p.NumEvents())
	assert.Equal(t, 2, p.NumDropped())
}

func TestWriteChromeTrace(t *testing.T) {
	p := New()
	start := p.Start()
	p.Record(CategoryNode, "matmul0_kernel_time", start, map[string]string{"provider": "cpu"})

	var buf bytes.Buffer
	require.NoError(t, p.WriteChromeTrace(&buf))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "X", decoded[0]["ph"])
	assert.Equal(t, "Node", decoded[0]["cat"])
	assert.Equal(t, "matmul0_kernel_time", decoded[0]["name"])
	args, ok := decoded[0]["args"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "cpu", args["provider"])
}
