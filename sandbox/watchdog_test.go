package sandbox

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWatchdogStoppedBeforeDeadline(t *testing.T) {
	var calls atomic.Int32
	wd := startWatchdog(time.Hour, func() { calls.Add(1) })

	assert.False(t, wd.Stop())
	assert.Equal(t, int32(0), calls.Load())
}

func TestWatchdogFires(t *testing.T) {
	var calls atomic.Int32
	fired := make(chan struct{})
	wd := startWatchdog(10*time.Millisecond, func() {
		calls.Add(1)
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("watchdog never fired")
	}

	assert.True(t, wd.Stop())
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatchdogStopWaitsForTerminate(t *testing.T) {
	var finished atomic.Bool
	wd := startWatchdog(time.Millisecond, func() {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})

	time.Sleep(10 * time.Millisecond)

	assert.True(t, wd.Stop())
	assert.True(t, finished.Load())
}
