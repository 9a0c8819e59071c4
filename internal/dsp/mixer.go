package dsp

import "math"

// Mixer is a phase-accumulator NCO used to shift a block's center
// frequency to baseband without a sample-rate-scaled per-sample trig
// call; only sin/cos of the accumulated phase are ever evaluated, and
// the accumulator wraps at 2*pi to avoid float drift over long runs.
type Mixer struct {
	phase    float64
	stepRate float64 // radians/sample
}

// NewMixer builds a mixer for shifting by shiftHz at sampleHz.
func NewMixer(shiftHz, sampleHz float64) *Mixer {
	m := &Mixer{}
	m.SetShift(shiftHz, sampleHz)
	return m
}

// SetShift reprograms the NCO step without touching the phase
// accumulator, so retuning mid-stream does not introduce a phase jump
// beyond the frequency change itself.
func (m *Mixer) SetShift(shiftHz, sampleHz float64) {
	if sampleHz == 0 {
		m.stepRate = 0
		return
	}
	m.stepRate = -2 * math.Pi * shiftHz / sampleHz
}

// Step mixes one complex sample and advances the phase accumulator.
func (m *Mixer) Step(x complex64) complex64 {
	s, c := math.Sincos(m.phase)
	rot := complex(c, s)
	y := complex64(complex128(x) * complex128(rot))
	m.phase += m.stepRate
	if m.phase > math.Pi {
		m.phase -= 2 * math.Pi
	} else if m.phase < -math.Pi {
		m.phase += 2 * math.Pi
	}
	return y
}

// MixBlock mixes an entire slice in place.
func (m *Mixer) MixBlock(samples []complex64) {
	for i, s := range samples {
		samples[i] = m.Step(s)
	}
}

// CarsonBandwidth returns the Carson's-rule occupied bandwidth for an
// FM-family signal of the given peak deviation and modulating
// bandwidth, used by the decoder front end to size its pre-filter.
func CarsonBandwidth(deviationHz, modulatingBandwidthHz float64) float64 {
	return 2 * (deviationHz + modulatingBandwidthHz)
}

// RFPowerDB computes 10*log10(mean(|x|^2)) + calibrationOffsetDB over a
// block of complex samples, the RF power measurement used by both the
// demodulator (for squelch) and the decoder (for sidecar metadata).
func RFPowerDB(samples []complex64, calibrationOffsetDB float64) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range samples {
		re, im := float64(real(s)), float64(imag(s))
		sum += re*re + im*im
	}
	mean := sum / float64(len(samples))
	if mean <= 0 {
		return math.Inf(-1)
	}
	return 10*math.Log10(mean) + calibrationOffsetDB
}

// SquelchGate tracks open/closed state with hysteresis so RF power
// hovering at the threshold does not chatter: opening requires power
// >= threshold+hysteresisDB/2, closing requires power <
// threshold-hysteresisDB/2.
type SquelchGate struct {
	ThresholdDB  float64
	HysteresisDB float64
	open         bool
}

// Evaluate feeds one power reading and returns the gate's state after
// applying hysteresis.
func (g *SquelchGate) Evaluate(powerDB float64) bool {
	half := g.HysteresisDB / 2
	if g.open {
		if powerDB < g.ThresholdDB-half {
			g.open = false
		}
	} else {
		if powerDB >= g.ThresholdDB+half {
			g.open = true
		}
	}
	return g.open
}
