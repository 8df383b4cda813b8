package tracker_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"yt2md/internal/tracker"
)

func TestThresholdExactness(t *testing.T) {
	tr := tracker.New(3)

	tr.Failure()
	tr.Failure()
	assert.False(t, tr.FallbackOnly(), "two failures must not trip a threshold of 3")

	tr.Failure()
	assert.True(t, tr.FallbackOnly(), "third failure must trip the latch")
}

func TestSuccessResetsCounter(t *testing.T) {
	tr := tracker.New(3)

	tr.Failure()
	tr.Failure()
	tr.Success()
	assert.Equal(t, 0, tr.Failures())

	tr.Failure()
	tr.Failure()
	assert.False(t, tr.FallbackOnly())
}

func TestLatchIsOneWay(t *testing.T) {
	tr := tracker.New(1)

	tr.Failure()
	assert.True(t, tr.FallbackOnly())

	tr.Success()
	assert.True(t, tr.FallbackOnly(), "a later success must not clear fallback-only mode")
}

func TestDefaultThreshold(t *testing.T) {
	tr := tracker.New(0)

	tr.Failure()
	tr.Failure()
	assert.False(t, tr.FallbackOnly())
	tr.Failure()
	assert.True(t, tr.FallbackOnly())
}

func TestConcurrentFailures(t *testing.T) {
	tr := tracker.New(50)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Failure()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, tr.Failures())
	assert.True(t, tr.FallbackOnly())
}
