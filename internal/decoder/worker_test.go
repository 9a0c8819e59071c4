package decoder

import (
	"context"
	"testing"

	"github.com/cwsl/groundstation/internal/iqblock"
)

func newTestPipeline(t *testing.T, publish func(PacketDecodedEvent)) *Pipeline {
	t.Helper()
	return NewPipeline(Config{
		DecoderType: "gmsk",
		OutputDir:   t.TempDir(),
		Framing:     FramingAX25,
	}, nil, nil, publish)
}

func TestNewWorkerBuildsFrontEndPerFamily(t *testing.T) {
	cases := []Family{FamilyGMSK, FamilyGFSK, FamilyBPSK, FamilyAFSK, FamilyMorse}
	for _, fam := range cases {
		w := NewWorker(fam, newTestPipeline(t, nil), 5000, 1200, 800, 500, 48000)
		if w.family != fam {
			t.Errorf("family = %v, want %v", w.family, fam)
		}
	}
}

func TestProcessIQGMSKObservesPower(t *testing.T) {
	pipeline := newTestPipeline(t, nil)
	w := NewWorker(FamilyGMSK, pipeline, 5000, 1200, 0, 0, 48000)

	block := &iqblock.Block{Samples: make([]complex64, 480)}
	if err := w.ProcessIQ(context.Background(), block, -80); err != nil {
		t.Fatalf("ProcessIQ: %v", err)
	}
	if current, _, _, _ := pipeline.power.Stats(); current != -80 {
		t.Errorf("pipeline power current = %v, want -80", current)
	}
}

func TestProcessIQNonIQFamilyIsNoop(t *testing.T) {
	pipeline := newTestPipeline(t, nil)
	w := NewWorker(FamilyMorse, pipeline, 0, 0, 800, 500, 48000)
	block := &iqblock.Block{Samples: make([]complex64, 10)}
	if err := w.ProcessIQ(context.Background(), block, -90); err != nil {
		t.Fatalf("ProcessIQ: %v", err)
	}
}

func TestProcessAudioMorseRunsWithoutError(t *testing.T) {
	var published []PacketDecodedEvent
	pipeline := newTestPipeline(t, func(ev PacketDecodedEvent) { published = append(published, ev) })
	w := NewWorker(FamilyMorse, pipeline, 0, 0, 800, 500, 8000)

	audio := make([]float32, 4000)
	for i := range audio {
		if (i/200)%2 == 0 {
			audio[i] = 1
		}
	}
	if err := w.ProcessAudio(context.Background(), audio, -70); err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}
}

func TestProcessAudioAFSKDrainsBitsThroughDeframer(t *testing.T) {
	pipeline := newTestPipeline(t, nil)
	w := NewWorker(FamilyAFSK, pipeline, 0, 1200, 0, 0, 48000)
	audio := make([]float32, 480)
	for i := range audio {
		audio[i] = float32(i%2*2 - 1)
	}
	if err := w.ProcessAudio(context.Background(), audio, -85); err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}
}
