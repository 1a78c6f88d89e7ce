package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeClock(start time.Time, steps ...time.Duration) func() time.Time {
	calls := 0
	t := start
	return func() time.Time {
		if calls > 0 && calls-1 < len(steps) {
			t = t.Add(steps[calls-1])
		}
		calls++
		return t
	}
}

func TestRateEstimatorWarmsUpBeforeReporting(t *testing.T) {
	cfg := DefaultRateEstimatorConfig()
	r := NewRateEstimator(1000, true, cfg)
	start := time.Unix(0, 0)
	r.now = fakeClock(start, 500*time.Millisecond, 500*time.Millisecond)

	p := r.Update(100)
	assert.False(t, p.Ready)
	assert.False(t, p.HasETA())

	p = r.Update(100)
	assert.False(t, p.Ready, "still under MinElapsedSeconds and MinSamples")
}

func TestRateEstimatorReadyAfterMinSamples(t *testing.T) {
	cfg := DefaultRateEstimatorConfig()
	cfg.MinElapsedSeconds = 9999 // force the sample-count gate
	r := NewRateEstimator(0, false, cfg)

	steps := make([]time.Duration, 0)
	for i := 0; i < cfg.MinSamples+1; i++ {
		steps = append(steps, 100*time.Millisecond)
	}
	r.now = fakeClock(time.Unix(0, 0), steps...)

	var last Progress
	for i := 0; i < cfg.MinSamples+1; i++ {
		last = r.Update(1000)
	}
	require.True(t, last.Ready)
	assert.Greater(t, last.BytesPerSecond, 0.0)
}

func TestRateEstimatorETAZeroWhenComplete(t *testing.T) {
	cfg := DefaultRateEstimatorConfig()
	cfg.MinElapsedSeconds = 0
	cfg.MinSamples = 1
	r := NewRateEstimator(100, true, cfg)
	r.now = fakeClock(time.Unix(0, 0), time.Second)

	r.Update(1) // first sample establishes start
	p := r.Update(99)
	require.True(t, p.Ready)
	assert.Equal(t, 0.0, p.ETASeconds)
}

func TestRateEstimatorFirstSampleSetsEMADirectly(t *testing.T) {
	cfg := DefaultRateEstimatorConfig()
	cfg.MinElapsedSeconds = 0
	cfg.MinSamples = 1
	r := NewRateEstimator(0, false, cfg)
	r.now = fakeClock(time.Unix(0, 0), time.Second)

	r.Update(0)
	p := r.Update(500)
	require.True(t, p.Ready)
	assert.InDelta(t, 500.0, p.BytesPerSecond, 0.001)
}

// HasETA is a convenience used only by this test file to avoid repeating
// the HasTotal && Ready check inline.
func (p Progress) HasETA() bool { return p.Ready && p.HasTotal }
