// Package stability detects settled weight readings over a sliding
// sample window.
package stability

import "math"

// Detector reports a reading as stable once the last WindowSize samples
// all sit within ToleranceGrams of the window mean. A transition into the
// stable state latches the mean as the stable weight.
type Detector struct {
	WindowSize     int
	ToleranceGrams float64

	history []float64
	stable  bool
	weight  float64
}

// NewDetector returns a detector; windowSize and tolerance fall back to
// 5 samples and 1 g when zero.
func NewDetector(windowSize int, toleranceGrams float64) *Detector {
	if windowSize <= 0 {
		windowSize = 5
	}
	if toleranceGrams <= 0 {
		toleranceGrams = 1
	}
	return &Detector{WindowSize: windowSize, ToleranceGrams: toleranceGrams}
}

// Push adds a sample and reports whether the detector just transitioned
// into the stable state. Stable() and StableWeight() reflect the state
// after the push.
func (d *Detector) Push(grams float64) (settled bool) {
	d.history = append(d.history, grams)
	if len(d.history) > d.WindowSize+5 {
		d.history = d.history[len(d.history)-d.WindowSize-5:]
	}
	if len(d.history) < d.WindowSize {
		return false
	}

	recent := d.history[len(d.history)-d.WindowSize:]
	var sum float64
	for _, w := range recent {
		sum += w
	}
	avg := sum / float64(len(recent))

	for _, w := range recent {
		if math.Abs(w-avg) > d.ToleranceGrams {
			d.stable = false
			return false
		}
	}

	wasStable := d.stable
	d.stable = true
	d.weight = avg
	return !wasStable
}

// Stable reports whether the current window is settled.
func (d *Detector) Stable() bool { return d.stable }

// StableWeight returns the latched mean of the last settled window.
func (d *Detector) StableWeight() float64 { return d.weight }

// Reset clears the history and stable state.
func (d *Detector) Reset() {
	d.history = d.history[:0]
	d.stable = false
	d.weight = 0
}
