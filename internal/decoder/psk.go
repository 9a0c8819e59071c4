package decoder

import (
	"math"

	"github.com/cwsl/groundstation/internal/dsp"
)

// BPSKFrontEnd recovers bits from a BPSK-modulated IQ stream via a
// Costas loop for carrier recovery and the same Gardner TED symbol
// synchronizer used by the FSK family, reusing its gains rather than
// inventing new ones with no validated reference to ground exact
// constants against. Confidence on the loop-bandwidth default below is
// lower than the GMSK/GFSK path.
type BPSKFrontEnd struct {
	baudRate float64
	sampleHz float64

	costasPhase float64
	costasFreq  float64
	loopAlpha   float64
	loopBeta    float64

	ted *dsp.GardnerTED
}

// NewBPSKFrontEnd builds a front end for the given symbol rate.
func NewBPSKFrontEnd(baudRate, sampleHz float64) *BPSKFrontEnd {
	samplesPerSymbol := sampleHz / baudRate
	return &BPSKFrontEnd{
		baudRate:  baudRate,
		sampleHz:  sampleHz,
		loopAlpha: 0.02,
		loopBeta:  0.0002,
		ted:       dsp.NewGardnerTED(samplesPerSymbol),
	}
}

// ProcessIQ feeds one IQ block and returns recovered NRZ bits.
func (f *BPSKFrontEnd) ProcessIQ(iq []complex64) []bool {
	var bits []bool
	for _, s := range iq {
		rot := complex(math.Cos(-f.costasPhase), math.Sin(-f.costasPhase))
		derot := complex64(complex128(s) * rot)

		// Costas error for BPSK: I*Q of the derotated sample.
		errv := float64(real(derot)) * float64(imag(derot))
		f.costasFreq += f.loopBeta * errv
		f.costasPhase += f.costasFreq + f.loopAlpha*errv
		if f.costasPhase > math.Pi {
			f.costasPhase -= 2 * math.Pi
		} else if f.costasPhase < -math.Pi {
			f.costasPhase += 2 * math.Pi
		}

		decision, _, ok := f.ted.Step(derot)
		if !ok {
			continue
		}
		bits = append(bits, real(decision) >= 0)
	}
	return bits
}

// AFSKFrontEnd recovers bits from an AFSK (tone-pair) baseband signal
// by comparing the output energy of a biquad mark/space filter pair,
// the same approach used elsewhere for tone-keyed front ends. Confidence on default tone spacing/bandwidth is lower than
// GMSK/GFSK; flagged here rather than scattered across the file.
type AFSKFrontEnd struct {
	markHz, spaceHz float64
	baudRate        float64
	sampleHz        float64

	markFilter  *dsp.Biquad
	spaceFilter *dsp.Biquad
	ted         *dsp.GardnerTED
}

// NewAFSKFrontEnd builds a front end for the given mark/space tones
// (defaults to Bell 202: 1200/2200 Hz) and baud rate.
func NewAFSKFrontEnd(markHz, spaceHz, baudRate, sampleHz float64) *AFSKFrontEnd {
	samplesPerSymbol := sampleHz / baudRate
	return &AFSKFrontEnd{
		markHz: markHz, spaceHz: spaceHz, baudRate: baudRate, sampleHz: sampleHz,
		markFilter:  bandpassBiquad(markHz, sampleHz, 6.0*markHz/1000),
		spaceFilter: bandpassBiquad(spaceHz, sampleHz, 6.0*spaceHz/1000),
		ted:         dsp.NewGardnerTED(samplesPerSymbol),
	}
}

func bandpassBiquad(freqHz, sampleHz, q float64) *dsp.Biquad {
	w0 := 2 * math.Pi * freqHz / sampleHz
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)
	a0 := 1 + alpha
	return &dsp.Biquad{
		B0: alpha / a0,
		B1: 0,
		B2: -alpha / a0,
		A1: (-2 * cosw0) / a0,
		A2: (1 - alpha) / a0,
	}
}

// ProcessIQ demodulates the real (already-demodulated-to-audio) input,
// comparing mark/space envelope energy to decide bit value per sample
// and handing the decision to the Gardner TED for symbol timing.
func (f *AFSKFrontEnd) ProcessIQ(audio []float32) []bool {
	var bits []bool
	for _, s := range audio {
		mark := f.markFilter.Step(float64(s))
		space := f.spaceFilter.Step(float64(s))
		diff := mark*mark - space*space

		decision, _, ok := f.ted.Step(complex64(complex(diff, 0)))
		if !ok {
			continue
		}
		bits = append(bits, real(decision) >= 0)
	}
	return bits
}
