package demod

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/cwsl/groundstation/internal/iqblock"
)

func toneBlock(centerHz, sampleRate int64, n int) *iqblock.Block {
	samples := make([]complex64, n)
	for i := range samples {
		samples[i] = complex(1, 0)
	}
	return &iqblock.Block{
		Samples:    samples,
		CenterHz:   centerHz,
		SampleRate: sampleRate,
		CapturedAt: time.Now(),
	}
}

func TestNewRedesignsWithoutPanic(t *testing.T) {
	w := New(100_000_000, 48000, 17.0, Config{
		CenterHz:    100_000_000,
		BandwidthHz: 8000,
		Mode:        ModeFM,
		VolumeUnits: 50,
		SquelchDB:   -120,
	})
	if w.out == nil {
		t.Fatal("output channel not initialized")
	}
}

func TestProcessEmitsFramesEventually(t *testing.T) {
	w := New(100_000_000, 48000, 17.0, Config{
		CenterHz:    100_000_000,
		BandwidthHz: 8000,
		Mode:        ModeFM,
		VolumeUnits: 80,
		SquelchDB:   -120, // squelch fully open
	})
	block := toneBlock(100_000_000, 48000, 48000) // 1 second of samples
	w.Process(context.Background(), block)

	select {
	case frame := <-w.Out():
		if frame.SampleRate != outputSampleRate {
			t.Errorf("frame.SampleRate = %d, want %d", frame.SampleRate, outputSampleRate)
		}
		if len(frame.PCM) != outputFrameSamples {
			t.Errorf("len(frame.PCM) = %d, want %d", len(frame.PCM), outputFrameSamples)
		}
	default:
		t.Fatal("expected at least one emitted frame from a full second of samples")
	}
}

func TestProcessOutOfBandSetsSleeping(t *testing.T) {
	w := New(100_000_000, 48000, 17.0, Config{
		CenterHz:    100_000_000,
		BandwidthHz: 8000,
		Mode:        ModeFM,
		SquelchDB:   -120,
	})
	// Block centered far enough away that the VFO's center falls well
	// outside its Nyquist range.
	block := toneBlock(200_000_000, 48000, 4096)
	w.Process(context.Background(), block)
	if !w.Sleeping() {
		t.Error("expected worker to report Sleeping() for far-off-center block")
	}
}

func TestProcessSquelchClosedZeroesAudio(t *testing.T) {
	w := New(100_000_000, 48000, 17.0, Config{
		CenterHz:    100_000_000,
		BandwidthHz: 8000,
		Mode:        ModeAM,
		VolumeUnits: 100,
		SquelchDB:   40, // the full-scale tone measures ~17 dB with the 17 dB calibration, so the gate stays closed
	})
	block := toneBlock(100_000_000, 48000, 48000)
	w.Process(context.Background(), block)

	select {
	case frame := <-w.Out():
		for i, s := range frame.PCM {
			if s != 0 {
				t.Fatalf("frame.PCM[%d] = %v, want 0 with squelch closed", i, s)
			}
		}
	default:
		t.Fatal("expected an emitted (silent) frame")
	}
}

func TestReconfigureAppliesModeChange(t *testing.T) {
	w := New(100_000_000, 48000, 17.0, Config{
		CenterHz:    100_000_000,
		BandwidthHz: 8000,
		Mode:        ModeFM,
		SquelchDB:   -120,
	})
	w.Reconfigure(Config{Mode: ModeAM})
	w.drainControl() // Reconfigure only enqueues; Process applies it
	if w.cfg.Mode != ModeAM {
		t.Errorf("cfg.Mode = %v, want %v", w.cfg.Mode, ModeAM)
	}
}

func TestSoftClipStaysWithinBounds(t *testing.T) {
	got := softClip(2.0, 0.95)
	if got <= 0.95 || got > 1.0 {
		t.Errorf("softClip(2.0) = %v, want in (0.95, 1.0]", got)
	}
	got = softClip(0.5, 0.95)
	if got != 0.5 {
		t.Errorf("softClip below limit should pass through unchanged, got %v", got)
	}
}

func TestCmplx64AbsMatchesHypot(t *testing.T) {
	got := cmplx64Abs(complex(3, 4))
	if math.Abs(float64(got)-5.0) > 1e-6 {
		t.Errorf("cmplx64Abs(3+4i) = %v, want 5", got)
	}
}
