package transfer

import "time"

// RateEstimatorConfig tunes the warm-up gate described in §4.2.
type RateEstimatorConfig struct {
	Alpha             float64 // EMA smoothing factor, (0,1]
	MinElapsedSeconds float64
	MinSamples        int
}

// DefaultRateEstimatorConfig matches the constants named in the spec.
func DefaultRateEstimatorConfig() RateEstimatorConfig {
	return RateEstimatorConfig{
		Alpha:             0.2,
		MinElapsedSeconds: 2.0,
		MinSamples:        8,
	}
}

// Progress is one smoothed sample of transfer state.
type Progress struct {
	Sent       int64
	Total      int64
	HasTotal   bool
	Ready      bool // false while the estimator is still warming up
	BytesPerSecond float64
	ETASeconds float64
}

// RateEstimator smooths instantaneous transfer rate into an exponential
// moving average, gated by both elapsed time and sample count so an
// unreliable first sample can't produce a wild ETA. It is owned
// exclusively by one transfer task and is never shared (§5).
type RateEstimator struct {
	cfg RateEstimatorConfig

	total    int64
	hasTotal bool

	transferred int64
	ema         float64
	sampleCount int

	start       time.Time
	hasStart    bool
	lastUpdate  time.Time
	hasLastUpdate bool

	now func() time.Time
}

// NewRateEstimator constructs an estimator for a transfer of the given
// total size; pass hasTotal=false when the total is unknown.
func NewRateEstimator(total int64, hasTotal bool, cfg RateEstimatorConfig) *RateEstimator {
	return &RateEstimator{
		cfg:      cfg,
		total:    total,
		hasTotal: hasTotal,
		now:      time.Now,
	}
}

// Update records that bytes more were transferred and returns the
// resulting smoothed Progress sample, per the seven-step algorithm in
// §4.2.
func (r *RateEstimator) Update(bytes int64) Progress {
	now := r.now()

	if !r.hasStart {
		r.start = now
		r.hasStart = true
	}

	var duration float64
	if r.hasLastUpdate {
		duration = now.Sub(r.lastUpdate).Seconds()
	}
	r.lastUpdate = now
	r.hasLastUpdate = true

	r.transferred += bytes

	if duration > 0 {
		instantRate := float64(bytes) / duration
		if r.sampleCount == 0 {
			r.ema = instantRate
		} else {
			r.ema += r.cfg.Alpha * (instantRate - r.ema)
		}
		r.sampleCount++
	}

	elapsed := now.Sub(r.start).Seconds()
	ready := (elapsed >= r.cfg.MinElapsedSeconds || r.sampleCount >= r.cfg.MinSamples) && r.ema > 0

	p := Progress{
		Sent:     r.transferred,
		Total:    r.total,
		HasTotal: r.hasTotal,
		Ready:    ready,
	}
	if ready {
		p.BytesPerSecond = r.ema
		if r.hasTotal {
			remaining := r.total - r.transferred
			if remaining < 0 {
				remaining = 0
			}
			if remaining == 0 {
				p.ETASeconds = 0
			} else {
				p.ETASeconds = float64(remaining) / r.ema
			}
		}
	}
	return p
}
