package transcoder

import (
	"math"
	"sync"
	"time"
)

const (
	// SilenceThreshold is how long native and log progress may be silent
	// before the synthetic curve takes over
	SilenceThreshold = 1500 * time.Millisecond

	minSyntheticRamp = 4 * time.Second
	rampShare        = 0.6
	rampCeiling      = 94.0
	progressCeiling  = 99.0
)

// ProgressSource identifies where an estimate came from
type ProgressSource string

const (
	ProgressNative    ProgressSource = "native"
	ProgressLog       ProgressSource = "log"
	ProgressSynthetic ProgressSource = "synthetic"
	ProgressComplete  ProgressSource = "complete"
)

// ProgressFunc receives monotonically non-decreasing percentages in [0,100].
// It must not call back into the estimator.
type ProgressFunc func(pct float64)

// ProgressEstimator merges the engine's progress signals into one monotonic percentage.
//
// Signals in priority order:
//   - native fraction of the clip encoded (from -progress pipe:1)
//   - processed time parsed from the engine log, divided by the clip duration
//   - a synthetic time based curve, used once the other two are silent
//
// Nothing below 100 is reported until Complete is called.
type ProgressEstimator struct {
	clipDuration float64
	ramp         time.Duration
	report       func(float64, ProgressSource)
	now          func() time.Time

	mu         sync.Mutex
	started    time.Time
	lastSignal time.Time
	last       float64
	source     ProgressSource
	hasNative  bool
	done       bool
}

// NewProgressEstimator creates an estimator for a clip of the given duration in seconds
func NewProgressEstimator(clipDuration float64, report ProgressFunc) *ProgressEstimator {
	var fn func(float64, ProgressSource)
	if report != nil {
		fn = func(pct float64, _ ProgressSource) { report(pct) }
	}
	return newProgressEstimator(clipDuration, fn, time.Now)
}

func newProgressEstimator(clipDuration float64, report func(float64, ProgressSource), now func() time.Time) *ProgressEstimator {
	ramp := time.Duration(rampShare * clipDuration * float64(time.Second))
	if ramp < minSyntheticRamp {
		ramp = minSyntheticRamp
	}
	t := now()
	return &ProgressEstimator{
		clipDuration: clipDuration,
		ramp:         ramp,
		report:       report,
		now:          now,
		started:      t,
		lastSignal:   t,
	}
}

// Native records a native progress fraction in [0,1]. Zero is ignored.
func (e *ProgressEstimator) Native(fraction float64) {
	if !finite(fraction) || fraction <= 0 {
		return
	}
	e.observe(fraction*100, ProgressNative, true)
}

// ProcessedTime records processed output seconds parsed from the engine log
func (e *ProgressEstimator) ProcessedTime(seconds float64) {
	if !finite(seconds) || seconds <= 0 || e.clipDuration <= 0 {
		return
	}
	e.observe(seconds/e.clipDuration*100, ProgressLog, true)
}

// Tick advances the synthetic curve when the real signals have been silent
func (e *ProgressEstimator) Tick() {
	e.mu.Lock()
	now := e.now()
	silent := now.Sub(e.lastSignal) >= SilenceThreshold
	elapsed := now.Sub(e.started)
	e.mu.Unlock()

	if !silent {
		return
	}
	e.observe(SyntheticProgress(elapsed, e.ramp), ProgressSynthetic, false)
}

// Complete reports 100. Later signals are ignored.
func (e *ProgressEstimator) Complete() {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return
	}
	e.done = true
	e.last = 100
	e.source = ProgressComplete
	e.emit(100, ProgressComplete)
	e.mu.Unlock()
}

// Last returns the most recently reported value and its source
func (e *ProgressEstimator) Last() (float64, ProgressSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.source
}

func (e *ProgressEstimator) observe(pct float64, src ProgressSource, signal bool) {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return
	}
	// log time is only a substitute for the native stream
	if src == ProgressLog && e.hasNative {
		e.mu.Unlock()
		return
	}
	if src == ProgressNative {
		e.hasNative = true
	}
	if signal {
		e.lastSignal = e.now()
	}
	pct = math.Min(pct, progressCeiling)
	if pct <= e.last {
		e.mu.Unlock()
		return
	}
	e.last = pct
	e.source = src
	e.emit(pct, src)
	e.mu.Unlock()
}

// emit runs with mu held so callers observe values in order
func (e *ProgressEstimator) emit(pct float64, src ProgressSource) {
	if e.report != nil {
		e.report(pct, src)
	}
}

// SyntheticProgress is the fallback curve: an ease-out cubic ramp to 94% over
// ramp, then an exponential approach toward 99% with the same time constant.
func SyntheticProgress(elapsed, ramp time.Duration) float64 {
	if elapsed <= 0 || ramp <= 0 {
		return 0
	}
	if elapsed < ramp {
		x := float64(elapsed) / float64(ramp)
		return rampCeiling * (1 - math.Pow(1-x, 3))
	}
	over := float64(elapsed-ramp) / float64(ramp)
	return rampCeiling + (progressCeiling-rampCeiling)*(1-math.Exp(-over))
}
