package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminateFlag(t *testing.T) {
	var nilFlag *TerminateFlag
	assert.False(t, nilFlag.IsSet())

	flag := NewTerminateFlag()
	assert.False(t, flag.IsSet())
	flag.Set()
	assert.True(t, flag.IsSet())
	flag.Set() // Idempotent.
	assert.True(t, flag.IsSet())
	flag.Reset()
	assert.False(t, flag.IsSet())
}

func TestWatchContext(t *testing.T) {
	flag := NewTerminateFlag()
	ctx, cancel := context.WithCancel(context.Background())
	stop := flag.WatchContext(ctx)
	defer stop()

	assert.False(t, flag.IsSet())
	cancel()
	require.Eventually(t, flag.IsSet, time.Second, time.Millisecond)

	stop()
	stop() // Idempotent.
}

func TestWatchContextStopped(t *testing.T) {
	flag := NewTerminateFlag()
	ctx, cancel := context.WithCancel(context.Background())
	stop := flag.WatchContext(ctx)

	// Stopping the watch first means a later cancellation is not observed.
	stop()
	cancel()
	assert.False(t, flag.IsSet())
}
