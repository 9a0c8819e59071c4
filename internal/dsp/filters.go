// Package dsp holds the shared signal-processing primitives used by
// both the demodulator (C4) and decoder (C5) workers: IIR/FIR filters
// with resizable (never reset) state, a phase-accumulator mixer, RF
// power measurement, squelch hysteresis, and symbol timing recovery.
//
// Filter design follows a biquad-primitives approach, with the
// envelope/threshold math equivalent to SciPy's butter()/sosfilt()
// translated into explicit second-order-section state machines.
package dsp

import "math"

// Biquad is one second-order IIR section (a single "SOS" row), applied
// in Direct Form II Transposed so its two state variables can be
// resized and padded without discontinuity.
type Biquad struct {
	B0, B1, B2 float64
	A1, A2     float64
	z1, z2     float64
}

// Step filters a single real sample.
func (bq *Biquad) Step(x float64) float64 {
	y := bq.B0*x + bq.z1
	bq.z1 = bq.B1*x - bq.A1*y + bq.z2
	bq.z2 = bq.B2*x - bq.A2*y
	return y
}

// Reseed pads the section's internal state with a constant so that a
// coefficient change does not produce a click: it is equivalent to
// having processed an infinite run of `value` through the new
// coefficients, which is the steady-state response to a DC input.
func (bq *Biquad) Reseed(value float64) {
	denom := 1 + bq.A1 + bq.A2
	if denom == 0 {
		return
	}
	steady := value * (bq.B0 + bq.B1 + bq.B2) / denom
	bq.z1 = steady - bq.B0*value
	bq.z2 = bq.B2*value - bq.A2*steady
}

// ButterworthLowpass is an order-N (must be even) Butterworth lowpass
// built as a cascade of N/2 biquads, matching scipy.signal.butter's
// "sos" output form.
type ButterworthLowpass struct {
	sections []Biquad
	order    int
	cutoffHz float64
	sampleHz float64
}

// NewButterworthLowpass designs an order-N lowpass at cutoffHz for the
// given sample rate. order must be even (order 6 is typical).
func NewButterworthLowpass(order int, cutoffHz, sampleHz float64) *ButterworthLowpass {
	f := &ButterworthLowpass{order: order, cutoffHz: cutoffHz, sampleHz: sampleHz}
	f.sections = designButterworthLowpassSOS(order, cutoffHz, sampleHz)
	return f
}

// Redesign rebuilds coefficients for new parameters and reseeds state
// from the last output value, padding with the last sample so there is
// no click at the transition.
func (f *ButterworthLowpass) Redesign(cutoffHz, sampleHz float64, lastValue float64) {
	if cutoffHz == f.cutoffHz && sampleHz == f.sampleHz {
		return
	}
	newSections := designButterworthLowpassSOS(f.order, cutoffHz, sampleHz)
	for i := range newSections {
		newSections[i].Reseed(lastValue)
	}
	f.sections = newSections
	f.cutoffHz, f.sampleHz = cutoffHz, sampleHz
}

// Step filters one real sample through the cascade.
func (f *ButterworthLowpass) Step(x float64) float64 {
	y := x
	for i := range f.sections {
		y = f.sections[i].Step(y)
	}
	return y
}

// StepComplex filters a complex sample by running I and Q through
// independent copies of the same cascade coefficients (shared design,
// separate state) — the usual trick for applying a real lowpass to
// baseband IQ.
type ComplexButterworthLowpass struct {
	i, q *ButterworthLowpass
}

// NewComplexButterworthLowpass builds independent I/Q filter chains
// sharing the same design.
func NewComplexButterworthLowpass(order int, cutoffHz, sampleHz float64) *ComplexButterworthLowpass {
	return &ComplexButterworthLowpass{
		i: NewButterworthLowpass(order, cutoffHz, sampleHz),
		q: NewButterworthLowpass(order, cutoffHz, sampleHz),
	}
}

func (f *ComplexButterworthLowpass) Redesign(cutoffHz, sampleHz float64, last complex64) {
	f.i.Redesign(cutoffHz, sampleHz, float64(real(last)))
	f.q.Redesign(cutoffHz, sampleHz, float64(imag(last)))
}

func (f *ComplexButterworthLowpass) Step(x complex64) complex64 {
	return complex(float32(f.i.Step(float64(real(x)))), float32(f.q.Step(float64(imag(x)))))
}

// designButterworthLowpassSOS computes the SOS cascade for a Butterworth
// lowpass via the bilinear transform of the analog prototype's
// conjugate pole pairs, matching scipy.signal.butter(order, Wn,
// output='sos') numerically for even order.
func designButterworthLowpassSOS(order int, cutoffHz, sampleHz float64) []Biquad {
	if order%2 != 0 {
		order++
	}
	wn := cutoffHz / (sampleHz / 2)
	if wn <= 0 {
		wn = 0.001
	}
	if wn >= 1 {
		wn = 0.999
	}
	// Pre-warp the cutoff for the bilinear transform.
	warped := 2 * sampleHz * math.Tan(math.Pi*wn/2)

	sections := make([]Biquad, order/2)
	for k := 0; k < order/2; k++ {
		// Analog Butterworth pole angle for this conjugate pair.
		theta := math.Pi * (2*float64(k) + 1) / (2 * float64(order))
		// Analog pole (normalized to unit cutoff), scaled by warped cutoff.
		poleRe := -warped * math.Sin(theta)
		poleIm := warped * math.Cos(theta)

		// Bilinear transform s -> 2*fs*(z-1)/(z+1); solve for the
		// digital pole and apply to a unit-DC-gain biquad with a
		// double zero at Nyquist (z = -1), the standard Butterworth
		// lowpass SOS form.
		fs2 := 2 * sampleHz
		denRe := fs2 - poleRe
		denIm := -poleIm
		denMagSq := denRe*denRe + denIm*denIm

		numRe := fs2 + poleRe
		numIm := poleIm

		zRe := (numRe*denRe + numIm*denIm) / denMagSq
		zIm := (numIm*denRe - numRe*denIm) / denMagSq

		a1 := -2 * zRe
		a2 := zRe*zRe + zIm*zIm

		// Unit-gain numerator (1+z^-1)^2 scaled so H(1)=1 (DC gain 1).
		b0 := (1 + a1 + a2) / 4
		b1 := 2 * b0
		b2 := b0

		sections[k] = Biquad{B0: b0, B1: b1, B2: b2, A1: a1, A2: a2}
	}
	return sections
}

// FIRFilter is a direct-form FIR with a ring-buffer history, used for
// the order-201 Hamming bandpass stages. A coefficient change keeps the
// history, or, when the tap count changes, pads it with a caller-given
// value rather than clearing it.
type FIRFilter struct {
	taps    []float64
	history []float64
	pos     int
}

// NewFIRFilter builds a filter around the given tap set.
func NewFIRFilter(taps []float64) *FIRFilter {
	return &FIRFilter{taps: taps, history: make([]float64, len(taps))}
}

// Step filters one real sample.
func (f *FIRFilter) Step(x float64) float64 {
	f.history[f.pos] = x
	var acc float64
	idx := f.pos
	for _, tap := range f.taps {
		acc += tap * f.history[idx]
		idx--
		if idx < 0 {
			idx = len(f.history) - 1
		}
	}
	f.pos++
	if f.pos >= len(f.history) {
		f.pos = 0
	}
	return acc
}

// Retap installs new coefficients. If the tap count is unchanged the
// existing history carries over untouched; if it changed, the history
// is resized and padded with lastValue (never reset to zero).
func (f *FIRFilter) Retap(taps []float64, lastValue float64) {
	if len(taps) == len(f.taps) {
		f.taps = taps
		return
	}
	newHistory := make([]float64, len(taps))
	for i := range newHistory {
		newHistory[i] = lastValue
	}
	f.taps = taps
	f.history = newHistory
	f.pos = 0
}

// HammingBandpassTaps designs an order+1-tap (order must be even, so
// the tap count is odd) FIR bandpass via the windowed-sinc method with
// a Hamming window, used by the demodulator's audio post-filter.
func HammingBandpassTaps(order int, lowHz, highHz, sampleHz float64) []float64 {
	n := order + 1
	if n%2 == 0 {
		n++
	}
	taps := make([]float64, n)
	mid := float64(n-1) / 2
	fl := lowHz / sampleHz
	fh := highHz / sampleHz

	for i := 0; i < n; i++ {
		m := float64(i) - mid
		var sinc float64
		if m == 0 {
			sinc = 2 * (fh - fl)
		} else {
			sinc = (math.Sin(2*math.Pi*fh*m) - math.Sin(2*math.Pi*fl*m)) / (math.Pi * m)
		}
		window := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		taps[i] = sinc * window
	}
	return taps
}

// MovingAverageTaps returns n equal taps summing to 1, the "square
// pulse" filter used by the GMSK/GFSK front end.
func MovingAverageTaps(n int) []float64 {
	if n < 1 {
		n = 1
	}
	taps := make([]float64, n)
	for i := range taps {
		taps[i] = 1.0 / float64(n)
	}
	return taps
}
