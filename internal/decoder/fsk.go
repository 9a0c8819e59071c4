package decoder

import (
	"github.com/cwsl/groundstation/internal/dsp"
)

// FSKFrontEnd implements the GMSK/GFSK IQ-to-bits front end: quadrature
// demod, Carson's-bandwidth lowpass, moving-average square-pulse
// filter, Gardner TED symbol sync, sign-based bit slicing. GFSK
// differs from GMSK only in the decoder type string the pipeline
// reports; the DSP here is identical.
type FSKFrontEnd struct {
	deviationHz float64
	baudRate    float64
	sampleHz    float64

	lowpass *dsp.ComplexButterworthLowpass
	avg     *dsp.FIRFilter
	ted     *dsp.GardnerTED

	lastBit   bool
	haveLast  bool
	bitBuffer []bool
}

// NewFSKFrontEnd builds a front end for the given deviation/baud at
// sampleHz (the decimated IQ rate feeding this decoder's VFO).
func NewFSKFrontEnd(deviationHz, baudRate, sampleHz float64) *FSKFrontEnd {
	// The complex-baseband lowpass cutoff is the one-sided Carson
	// bandwidth, dev + baud/2: half of CarsonBandwidth's two-sided figure.
	carson := dsp.CarsonBandwidth(deviationHz, baudRate/2) / 2
	samplesPerSymbol := sampleHz / baudRate
	avgTaps := dsp.MovingAverageTaps(int(samplesPerSymbol/4 + 0.5))
	return &FSKFrontEnd{
		deviationHz: deviationHz,
		baudRate:    baudRate,
		sampleHz:    sampleHz,
		lowpass:     dsp.NewComplexButterworthLowpass(6, carson, sampleHz),
		avg:         dsp.NewFIRFilter(avgTaps),
		ted:         dsp.NewGardnerTED(samplesPerSymbol),
	}
}

// ProcessIQ feeds one IQ block and returns any fully-synchronized bits
// produced (NRZ, true=mark/1).
func (f *FSKFrontEnd) ProcessIQ(iq []complex64) []bool {
	filtered := make([]complex64, len(iq))
	for i, s := range iq {
		filtered[i] = f.lowpass.Step(s)
	}
	freq := dsp.QuadratureDemod(filtered, f.sampleHz/(2*3.14159265358979*f.deviationHz))

	var bits []bool
	for _, v := range freq {
		smoothed := f.avg.Step(v)
		// Treat the smoothed discriminator output as a real-valued
		// "I" channel sample feeding the Gardner TED directly, since
		// FSK symbol timing only needs the single demodulated axis.
		decision, _, ok := f.ted.Step(complex64(complex(smoothed, 0)))
		if !ok {
			continue
		}
		bit := real(decision) >= 0
		bits = append(bits, bit)
	}
	return bits
}

// BytesFromBits packs NRZ bits MSB-first into bytes once 8 have
// accumulated, used by the HDLC deframer stage above this front end.
func BytesFromBits(bits []bool) []byte {
	out := make([]byte, 0, len(bits)/8)
	var cur byte
	var n int
	for _, b := range bits {
		cur <<= 1
		if b {
			cur |= 1
		}
		n++
		if n == 8 {
			out = append(out, cur)
			cur = 0
			n = 0
		}
	}
	return out
}

// HDLCDeframer extracts HDLC frames (flag-delimited, bit-unstuffed)
// from a raw bit stream — the stage that sits between a front end's
// bit output and the shared packet pipeline's HDLC-flag stripping.
type HDLCDeframer struct {
	ones   int
	frame  []bool
	frames [][]byte
}

const hdlcFlag = 0b01111110

// PushBits feeds one batch of NRZ bits and extracts complete frames as
// they close, unstuffing the zero inserted after five consecutive
// ones per standard HDLC bit-stuffing.
func (d *HDLCDeframer) PushBits(bits []bool) {
	for _, b := range bits {
		if b {
			d.ones++
		} else {
			if d.ones == 5 {
				d.ones = 0
				continue // destuffed zero, not part of the frame
			}
			d.ones = 0
		}
		d.frame = append(d.frame, b)
		if len(d.frame) >= 8 && isFlagAt(d.frame, len(d.frame)-8) {
			if len(d.frame) > 8 {
				d.frames = append(d.frames, BytesFromBits(d.frame[:len(d.frame)-8]))
			}
			d.frame = d.frame[:0]
		}
	}
}

func isFlagAt(bits []bool, start int) bool {
	for i := 0; i < 8; i++ {
		bit := (hdlcFlag >> (7 - i)) & 1
		want := bit == 1
		if bits[start+i] != want {
			return false
		}
	}
	return true
}

// DrainFrames returns and clears any frames completed so far.
func (d *HDLCDeframer) DrainFrames() [][]byte {
	out := d.frames
	d.frames = nil
	return out
}
