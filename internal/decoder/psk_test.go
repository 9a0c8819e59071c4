package decoder

import "testing"

func TestBPSKFrontEndProcessIQDoesNotPanic(t *testing.T) {
	f := NewBPSKFrontEnd(1200, 48000)
	iq := make([]complex64, 480)
	for i := range iq {
		if i%2 == 0 {
			iq[i] = complex(1, 0)
		} else {
			iq[i] = complex(-1, 0)
		}
	}
	_ = f.ProcessIQ(iq)
}

func TestAFSKFrontEndProcessIQDoesNotPanic(t *testing.T) {
	f := NewAFSKFrontEnd(1200, 2200, 1200, 48000)
	audio := make([]float32, 480)
	for i := range audio {
		audio[i] = float32(i%2*2 - 1)
	}
	_ = f.ProcessIQ(audio)
}

func TestBandpassBiquadNonZeroNumerator(t *testing.T) {
	bq := bandpassBiquad(1000, 48000, 5)
	if bq.B0 == 0 {
		t.Error("bandpassBiquad produced a degenerate all-zero numerator")
	}
}
