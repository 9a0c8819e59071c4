package decoder

import (
	"context"

	"github.com/cwsl/groundstation/internal/iqblock"
)

// Family selects which DSP front end a Worker runs.
type Family string

const (
	FamilyGMSK  Family = "gmsk"
	FamilyGFSK  Family = "gfsk"
	FamilyBPSK  Family = "bpsk"
	FamilyAFSK  Family = "afsk"
	FamilyMorse Family = "morse"
)

// Worker ties one decoder family's DSP front end to the shared packet
// pipeline: IQ (or, for AFSK and Morse, already-demodulated audio) in,
// HDLC frames deframed and run through the pipeline.
type Worker struct {
	family   Family
	pipeline *Pipeline

	fsk      *FSKFrontEnd
	bpsk     *BPSKFrontEnd
	afsk     *AFSKFrontEnd
	morse    *MorseFrontEnd
	deframer HDLCDeframer
}

// NewWorker builds a decoder worker. deviationHz/baudRate/toneHz are
// interpreted per family (deviation unused by BPSK/AFSK/Morse, toneHz
// unused outside Morse).
func NewWorker(family Family, pipeline *Pipeline, deviationHz, baudRate, toneHz, bandwidthHz, sampleHz float64) *Worker {
	w := &Worker{family: family, pipeline: pipeline}
	switch family {
	case FamilyGMSK, FamilyGFSK:
		w.fsk = NewFSKFrontEnd(deviationHz, baudRate, sampleHz)
	case FamilyBPSK:
		w.bpsk = NewBPSKFrontEnd(baudRate, sampleHz)
	case FamilyAFSK:
		w.afsk = NewAFSKFrontEnd(1200, 2200, baudRate, sampleHz)
	case FamilyMorse:
		w.morse = NewMorseFrontEnd(toneHz, bandwidthHz, sampleHz)
	}
	return w
}

// ProcessIQ feeds one IQ block to an IQ-domain front end (GMSK/GFSK/
// BPSK), measuring RF power before any front-end filtering, then
// running any completed frames through the pipeline. It is a no-op for
// the audio-fed AFSK and Morse families.
func (w *Worker) ProcessIQ(ctx context.Context, block *iqblock.Block, powerDB float64) error {
	w.pipeline.ObservePower(powerDB)

	var bits []bool
	switch w.family {
	case FamilyGMSK, FamilyGFSK:
		bits = w.fsk.ProcessIQ(block.Samples)
	case FamilyBPSK:
		bits = w.bpsk.ProcessIQ(block.Samples)
	default:
		return nil
	}
	return w.drainBits(bits)
}

// ProcessAudio feeds demodulated audio to the AFSK or Morse front end.
func (w *Worker) ProcessAudio(ctx context.Context, audio []float32, powerDB float64) error {
	w.pipeline.ObservePower(powerDB)

	switch w.family {
	case FamilyAFSK:
		return w.drainBits(w.afsk.ProcessIQ(audio))
	case FamilyMorse:
		chars := w.morse.ProcessAudio(audio)
		if len(chars) == 0 {
			return nil
		}
		return w.pipeline.ProcessPacket(chars, nil)
	default:
		return nil
	}
}

func (w *Worker) drainBits(bits []bool) error {
	if len(bits) == 0 {
		return nil
	}
	w.deframer.PushBits(bits)
	for _, frame := range w.deframer.DrainFrames() {
		if err := w.pipeline.ProcessPacket(frame, nil); err != nil {
			return err
		}
	}
	return nil
}
