package dsp

import (
	"math"
	"testing"
)

func TestGardnerTEDReportsSymbolsAtExactRate(t *testing.T) {
	const samplesPerSymbol = 8.0
	ted := NewGardnerTED(samplesPerSymbol)

	// A clean +1/-1 BPSK-like symbol stream held for exactly
	// samplesPerSymbol samples per symbol; the detector must report at
	// least one completed symbol.
	var decisions int
	symbols := []float64{1, -1, 1, 1, -1, -1, 1, -1}
	for _, sym := range symbols {
		for i := 0; i < int(samplesPerSymbol); i++ {
			_, _, ok := ted.Step(complex(float32(sym), 0))
			if ok {
				decisions++
			}
		}
	}
	if decisions == 0 {
		t.Fatal("Step never reported a completed symbol")
	}
}

func TestGardnerTEDReset(t *testing.T) {
	ted := NewGardnerTED(4)
	for i := 0; i < 20; i++ {
		ted.Step(complex(float32(i%2*2-1), 0))
	}
	ted.Reset()
	if ted.mu != 0 || ted.freqAdj != 0 {
		t.Errorf("Reset left mu=%v freqAdj=%v, want both 0", ted.mu, ted.freqAdj)
	}
	for _, h := range ted.history {
		if h != 0 {
			t.Errorf("Reset left nonzero history entry %v", h)
		}
	}
}

func TestQuadratureDemodZeroForConstantPhase(t *testing.T) {
	samples := make([]complex64, 10)
	for i := range samples {
		samples[i] = complex(1, 0) // no phase rotation between samples
	}
	out := QuadratureDemod(samples, 1.0)
	for i, v := range out {
		if math.Abs(v) > 1e-9 {
			t.Errorf("out[%d] = %v, want ~0 for constant-phase input", i, v)
		}
	}
}

func TestQuadratureDemodDetectsRotation(t *testing.T) {
	const n = 16
	const deltaPhase = math.Pi / 8
	samples := make([]complex64, n)
	for i := range samples {
		phase := deltaPhase * float64(i)
		samples[i] = complex(float32(math.Cos(phase)), float32(math.Sin(phase)))
	}
	out := QuadratureDemod(samples, 1.0)
	for i := 1; i < n; i++ {
		if math.Abs(out[i]-deltaPhase) > 1e-6 {
			t.Errorf("out[%d] = %v, want ~%v", i, out[i], deltaPhase)
		}
	}
}
