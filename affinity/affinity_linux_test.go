//go:build linux

package affinity_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/hioload-pipe/affinity"
)

func TestSetAffinityPinsThread(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		// The thread is discarded on exit instead of returning to the pool with a pin.

		allowed, err := affinity.CurrentCPUs()
		if !assert.NoError(t, err) || !assert.NotEmpty(t, allowed) {
			return
		}
		if !assert.NoError(t, affinity.SetAffinity(allowed[0])) {
			return
		}
		now, err := affinity.CurrentCPUs()
		assert.NoError(t, err)
		assert.Equal(t, []int{allowed[0]}, now)
	}()
	<-done
}

func TestSetAffinityRejectsNegative(t *testing.T) {
	assert.Error(t, affinity.SetAffinity(-1))
}
