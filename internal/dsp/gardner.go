package dsp

import "math"

// GardnerTED is a Gardner timing-error detector with a second-order PI
// loop filter, the symbol synchronizer used by the GMSK/GFSK decoder
// front end and, at reduced confidence, the AFSK/BPSK front end. Gains:
// ted_gain=1.47, damping=1.0, clk_bw=0.06*baud, clk_limit=0.004*baud.
type GardnerTED struct {
	samplesPerSymbol float64
	mu               float64 // fractional sample offset, [0, samplesPerSymbol)

	tedGain  float64
	damping  float64
	bw       float64 // loop bandwidth, fraction of baud
	limit    float64 // max per-symbol clock correction, fraction of baud
	freqAdj  float64 // accumulated clock-rate correction
	alpha    float64
	beta     float64

	history []complex64 // last 3 interpolated samples: early, mid, late-to-be
}

// NewGardnerTED builds a detector for the given samples-per-symbol,
// using validated GMSK/GFSK loop-gain ratios rather than a fresh
// derivation.
func NewGardnerTED(samplesPerSymbol float64) *GardnerTED {
	t := &GardnerTED{
		samplesPerSymbol: samplesPerSymbol,
		tedGain:          1.47,
		damping:          1.0,
		bw:               0.06,
		limit:            0.004,
		history:          make([]complex64, 3),
	}
	// Standard second-order PLL coefficient mapping from normalized
	// bandwidth/damping to proportional (alpha) and integral (beta) gains.
	theta := t.bw / (t.damping + 1/(4*t.damping))
	d := 1 + 2*t.damping*theta + theta*theta
	t.alpha = (4 * t.damping * theta / d) / t.tedGain
	t.beta = (4 * theta * theta / d) / t.tedGain
	return t
}

// Step feeds one interpolated sample at the current nominal symbol
// rate and reports, for each completed symbol interval, the decision
// sample and current fractional timing error (for diagnostics). ok is
// false when no symbol boundary was crossed this call.
func (t *GardnerTED) Step(sample complex64) (decision complex64, errOut float64, ok bool) {
	t.history[0] = t.history[1]
	t.history[1] = t.history[2]
	t.history[2] = sample

	t.mu += 1 + t.freqAdj
	if t.mu < t.samplesPerSymbol {
		return 0, 0, false
	}
	t.mu -= t.samplesPerSymbol

	early := t.history[0]
	mid := t.history[1]
	late := t.history[2]

	// Gardner error: Re{ conj(mid) * (late - early) }
	diff := complex128(late) - complex128(early)
	err := real(complex128(mid) * complexConj(diff))

	clampedErr := err
	limitVal := t.limit * t.samplesPerSymbol
	if clampedErr > limitVal {
		clampedErr = limitVal
	} else if clampedErr < -limitVal {
		clampedErr = -limitVal
	}

	t.freqAdj += t.beta * clampedErr
	t.mu += t.alpha * clampedErr

	return mid, err, true
}

func complexConj(c complex128) complex128 {
	return complex(real(c), -imag(c))
}

// Reset clears loop state without losing the configured gains, used
// when the decoder reattaches to a new passband after a retune.
func (t *GardnerTED) Reset() {
	t.mu = 0
	t.freqAdj = 0
	for i := range t.history {
		t.history[i] = 0
	}
}

// QuadratureDemod performs a simple delay-and-conjugate FM/GMSK
// quadrature discriminator: arg(x[n] * conj(x[n-1])) scaled by the
// gain factor.
func QuadratureDemod(samples []complex64, gain float64) []float64 {
	out := make([]float64, len(samples))
	if len(samples) == 0 {
		return out
	}
	prev := samples[0]
	for i, s := range samples {
		prod := complex128(s) * complexConj(complex128(prev))
		out[i] = gain * math.Atan2(imag(prod), real(prod))
		prev = s
	}
	return out
}
