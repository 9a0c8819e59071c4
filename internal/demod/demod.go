// Package demod implements the Demodulator Worker (C4): one instance
// per active (session, VFO), turning a source's IQ stream into 44.1
// kHz audio frames tagged with measured RF power.
//
// The bandwidth gate / filter redesign / mix / squelch pipeline follows
// a biquad-reconfiguration discipline (redesign coefficients, never
// drop state) generalized from a single fixed-mode FSK tone filter to
// a full FM/FM-stereo/AM/USB/LSB/CW mode set.
package demod

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/cwsl/groundstation/internal/dsp"
	"github.com/cwsl/groundstation/internal/iqblock"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Mode is a demodulator mode string as exposed to sessions/UI.
type Mode string

const (
	ModeFM       Mode = "fm"
	ModeFMStereo Mode = "fm_stereo"
	ModeAM       Mode = "am"
	ModeUSB      Mode = "usb"
	ModeLSB      Mode = "lsb"
	ModeCW       Mode = "cw"
)

const (
	outputFrameSamples = 1024
	audioQueueDepth    = 10
	powerReportHz      = 4
	outputSampleRate   = 44100
)

// Config is the live-tunable state of one demodulator: center
// frequency, bandwidth, mode, volume, and squelch. Fields are plain
// values: as a Reconfigure patch, a zero CenterHz, BandwidthHz, Mode or
// Deemphasisus leaves that field unchanged, while VolumeUnits and
// SquelchDB are always overwritten.
type Config struct {
	CenterHz     int64
	BandwidthHz  float64
	Mode         Mode
	VolumeUnits  int // 0-100
	SquelchDB    float64
	Deemphasisus float64 // 75 or 50 microseconds, FM only
}

// Frame is one emitted audio frame.
type Frame struct {
	PCM        []float32 // interleaved, 1 or 2 channels
	Stereo     bool
	SampleRate int
	PowerDBFS  float64
	CapturedAt time.Time
}

// Worker runs the C4 pipeline for one VFO.
type Worker struct {
	sourceCenterHz   int64
	sourceSampleRate int64
	calibrationDB    float64

	cfg Config

	mixer       *dsp.Mixer
	decimLP     *dsp.ComplexButterworthLowpass
	decimFactor int
	targetRate  int

	audioFIR  *dsp.FIRFilter
	deemph    *dsp.Biquad
	squelch   dsp.SquelchGate
	sideband  *fourier.CmplxFFT
	sidebandN int

	lastPowerDB   float64
	lastPowerEval time.Time
	lastFMPhase   complex64
	pilotPhase    float64

	sleeping bool

	out     chan *Frame
	control chan Config

	outDrops  uint64
	lastMixIQ complex64

	accum []float32 // partial output frame, carried across blocks

	monoResampler  linearResampler
	leftResampler  linearResampler
	rightResampler linearResampler
}

// New constructs a demodulator worker for a source with the given
// center/sample rate, with initial VFO config.
func New(sourceCenterHz, sourceSampleRate int64, calibrationDB float64, cfg Config) *Worker {
	w := &Worker{
		sourceCenterHz:   sourceCenterHz,
		sourceSampleRate: sourceSampleRate,
		calibrationDB:    calibrationDB,
		cfg:              cfg,
		out:              make(chan *Frame, audioQueueDepth),
		control:          make(chan Config, 4),
	}
	w.redesign()
	return w
}

// Out returns the worker's bounded output channel.
func (w *Worker) Out() <-chan *Frame { return w.out }

// Reconfigure delivers a config patch to the worker's control channel;
// it is applied on the Process goroutine at the next block boundary,
// never concurrently with a Process call, since Process and
// Reconfigure are expected to run on different goroutines (a caller's
// block-fetch loop and its control-plane handler respectively).
func (w *Worker) Reconfigure(patch Config) {
	select {
	case w.control <- patch:
	default:
		// control channel backlog: coalesce by draining one and retrying once.
		select {
		case <-w.control:
		default:
		}
		select {
		case w.control <- patch:
		default:
		}
	}
}

// drainControl applies at most one pending patch per call; Process
// calls it before every block so reconfiguration only ever happens on
// the goroutine that also mutates filter/mixer state.
func (w *Worker) drainControl() {
	select {
	case patch := <-w.control:
		w.applyReconfigure(patch)
	default:
	}
}

func (w *Worker) applyReconfigure(patch Config) {
	if patch.CenterHz != 0 {
		w.cfg.CenterHz = patch.CenterHz
	}
	if patch.BandwidthHz != 0 {
		w.cfg.BandwidthHz = patch.BandwidthHz
	}
	if patch.Mode != "" {
		w.cfg.Mode = patch.Mode
	}
	w.cfg.VolumeUnits = patch.VolumeUnits
	w.cfg.SquelchDB = patch.SquelchDB
	if patch.Deemphasisus != 0 {
		w.cfg.Deemphasisus = patch.Deemphasisus
	}
	w.redesign()
}

func (w *Worker) targetSampleRate() int {
	t := int(math.Max(48000, w.cfg.BandwidthHz*2.5))
	return t
}

func (w *Worker) redesign() {
	shiftHz := float64(w.cfg.CenterHz - w.sourceCenterHz)
	w.mixer = dsp.NewMixer(shiftHz, float64(w.sourceSampleRate))

	cutoff := math.Max(w.cfg.BandwidthHz, 1500)
	if cutoff > 22000 {
		cutoff = 22000
	}
	last := w.lastMixIQ
	if w.decimLP == nil {
		w.decimLP = dsp.NewComplexButterworthLowpass(6, cutoff, float64(w.sourceSampleRate))
	} else {
		w.decimLP.Redesign(cutoff, float64(w.sourceSampleRate), last)
	}

	w.targetRate = w.targetSampleRate()
	factor := int(float64(w.sourceSampleRate) / float64(w.targetRate))
	if factor < 1 {
		factor = 1
	}
	w.decimFactor = factor

	audioHigh := math.Min(w.cfg.BandwidthHz, 22000)
	taps := dsp.HammingBandpassTaps(201, 300, audioHigh, float64(w.targetRate))
	if w.audioFIR == nil {
		w.audioFIR = dsp.NewFIRFilter(taps)
	} else {
		w.audioFIR.Retap(taps, 0)
	}

	if w.cfg.Mode == ModeFM || w.cfg.Mode == ModeFMStereo {
		tau := w.cfg.Deemphasisus
		if tau == 0 {
			tau = 75
		}
		rc := tau * 1e-6
		alpha := 1.0 / (1 + rc*float64(w.targetRate))
		w.deemph = &dsp.Biquad{B0: alpha, A1: -(1 - alpha)}
	}

	if w.cfg.Mode == ModeUSB || w.cfg.Mode == ModeLSB || w.cfg.Mode == ModeCW {
		n := 1
		for n < w.decimFactor*2 {
			n <<= 1
		}
		if n < 256 {
			n = 256
		}
		if w.sideband == nil || w.sidebandN != n {
			w.sideband = fourier.NewCmplxFFT(n)
			w.sidebandN = n
		}
	}

	w.squelch.ThresholdDB = w.cfg.SquelchDB
	w.squelch.HysteresisDB = 6 // total width: opens at +3 dB, closes at -3 dB
}

// Process runs one IQ block through the full pipeline, possibly
// emitting zero or more audio frames (accumulation buffering happens
// across calls via the internal frame accumulator, so one block rarely
// maps 1:1 to one frame).
func (w *Worker) Process(ctx context.Context, block *iqblock.Block) {
	w.drainControl()

	nyquist := float64(block.SampleRate) / 2
	if math.Abs(float64(w.cfg.CenterHz-block.CenterHz)) > 0.98*nyquist {
		w.sleeping = true
		return
	}
	w.sleeping = false

	if block.SampleRate != w.sourceSampleRate || block.CenterHz != w.sourceCenterHz {
		w.sourceSampleRate = block.SampleRate
		w.sourceCenterHz = block.CenterHz
		w.redesign()
	}

	decimated := make([]complex64, 0, len(block.Samples)/w.decimFactor+1)
	var filtered []complex64
	for i, s := range block.Samples {
		mixed := w.mixer.Step(s)
		lp := w.decimLP.Step(mixed)
		filtered = append(filtered, lp)
		if i%w.decimFactor == 0 {
			decimated = append(decimated, lp)
		}
	}
	if len(filtered) > 0 {
		w.lastMixIQ = filtered[len(filtered)-1]
	}

	if time.Since(w.lastPowerEval) > time.Second/powerReportHz {
		w.lastPowerDB = dsp.RFPowerDB(filtered, w.calibrationDB)
		w.lastPowerEval = time.Now()
	}

	gateOpen := w.squelch.Evaluate(w.lastPowerDB)

	if w.cfg.Mode == ModeFMStereo {
		composite := w.demodFM(decimated)
		left, right := w.stereoSeparate(composite, float64(w.targetRate))
		if !gateOpen {
			for i := range left {
				left[i], right[i] = 0, 0
			}
		}
		for i := range left {
			left[i] = float32(w.audioFIR.Step(float64(left[i])))
			right[i] = float32(w.audioFIR.Step(float64(right[i])))
		}
		w.applyGain(left)
		w.applyGain(right)
		w.emitStereo(left, right)
		return
	}

	audio := w.demodulate(decimated)
	if !gateOpen {
		for i := range audio {
			audio[i] = 0
		}
	}

	for i, s := range audio {
		audio[i] = float32(w.audioFIR.Step(float64(s)))
	}

	w.applyGain(audio)
	w.emit(audio)
}

// stereoSeparate splits a demodulated FM composite signal into L and R
// using a 38 kHz subcarrier: the mono sum is the composite itself, and
// L-R is recovered by mixing the composite down by twice a local pilot
// phase. That phase accumulator free-runs at 19 kHz; it is not locked
// to the received pilot tone. No lowpass is applied here; the audio FIR
// downstream filters both channels.
func (w *Worker) stereoSeparate(composite []float32, sampleRate float64) ([]float32, []float32) {
	left := make([]float32, len(composite))
	right := make([]float32, len(composite))
	pilotStep := 2 * math.Pi * 19000 / sampleRate
	for i, c := range composite {
		lr := float32(math.Cos(2*w.pilotPhase)) * c
		w.pilotPhase += pilotStep
		if w.pilotPhase > math.Pi {
			w.pilotPhase -= 2 * math.Pi
		}
		left[i] = c + lr
		right[i] = c - lr
	}
	return left, right
}

func (w *Worker) demodulate(iq []complex64) []float32 {
	switch w.cfg.Mode {
	case ModeFM, ModeFMStereo:
		return w.demodFM(iq)
	case ModeAM:
		return w.demodAM(iq)
	case ModeUSB:
		return w.demodSideband(iq, true)
	case ModeLSB:
		return w.demodSideband(iq, false)
	case ModeCW:
		return w.demodSideband(iq, true)
	default:
		return w.demodFM(iq)
	}
}

func (w *Worker) demodFM(iq []complex64) []float32 {
	out := make([]float32, len(iq))
	prev := w.lastFMPhase
	scale := float64(w.targetRate) / (2 * math.Pi * math.Max(w.cfg.BandwidthHz/2, 1))
	for i, s := range iq {
		prod := complex128(s) * complex(real(prev), -imag(prev))
		d := math.Atan2(imag(prod), real(prod)) * scale
		if w.deemph != nil {
			d = w.deemph.Step(d)
		}
		out[i] = float32(d)
		prev = s
	}
	if len(iq) > 0 {
		w.lastFMPhase = iq[len(iq)-1]
	}
	return out
}

func (w *Worker) demodAM(iq []complex64) []float32 {
	out := make([]float32, len(iq))
	var sum float64
	for _, s := range iq {
		sum += float64(cmplx64Abs(s))
	}
	dc := 0.0
	if len(iq) > 0 {
		dc = sum / float64(len(iq))
	}
	for i, s := range iq {
		out[i] = float32(float64(cmplx64Abs(s)) - dc)
	}
	return out
}

func cmplx64Abs(s complex64) float32 {
	re, im := real(s), imag(s)
	return float32(math.Hypot(float64(re), float64(im)))
}

// demodSideband zeroes the unwanted half-spectrum and takes the real
// part of the inverse FFT, selecting USB (upper=true) or LSB.
func (w *Worker) demodSideband(iq []complex64, upper bool) []float32 {
	n := w.sidebandN
	if n == 0 || len(iq) == 0 {
		return nil
	}
	buf := make([]complex128, n)
	for i := 0; i < n && i < len(iq); i++ {
		buf[i] = complex128(iq[i])
	}
	spectrum := w.sideband.Coefficients(nil, buf)
	for i := range spectrum {
		isUpperBin := i < n/2
		if upper && !isUpperBin {
			spectrum[i] = 0
		}
		if !upper && isUpperBin {
			spectrum[i] = 0
		}
	}
	inv := w.sideband.Sequence(nil, spectrum)
	out := make([]float32, len(iq))
	for i := 0; i < len(iq) && i < len(inv); i++ {
		out[i] = float32(real(inv[i]) / float64(n))
	}
	return out
}

func (w *Worker) applyGain(audio []float32) {
	vol := float64(w.cfg.VolumeUnits) / 100.0 * 6.0
	if vol < 0 {
		vol = 0
	}
	if vol > 6.0 {
		vol = 6.0
	}
	var peak float32
	for i, s := range audio {
		g := float32(vol) * s
		audio[i] = g
		if abs32(g) > peak {
			peak = abs32(g)
		}
	}
	if peak > 0.5 {
		norm := float32(0.5) / peak
		for i, s := range audio {
			audio[i] = s * norm
		}
	}
	for i, s := range audio {
		audio[i] = softClip(s, 0.95)
	}
}

func abs32(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

func softClip(x, limit float32) float32 {
	if x > limit {
		return limit + (1-limit)*float32(math.Tanh(float64((x-limit)/(1-limit))))
	}
	if x < -limit {
		return -limit - (1-limit)*float32(math.Tanh(float64((-x-limit)/(1-limit))))
	}
	return x
}

// linearResampler resamples a continuous float32 stream by linear
// interpolation, carrying fractional phase and the last input sample
// across calls so successive blocks resample as one continuous signal
// rather than restarting at each block boundary.
type linearResampler struct {
	pos   float64
	carry []float32
}

func (r *linearResampler) process(in []float32, inRate, outRate int) []float32 {
	if inRate == outRate || inRate <= 0 || outRate <= 0 || len(in) == 0 {
		return in
	}
	buf := in
	if len(r.carry) > 0 {
		buf = append(append([]float32(nil), r.carry...), in...)
	}
	ratio := float64(inRate) / float64(outRate)
	var out []float32
	pos := r.pos
	for int(pos)+1 < len(buf) {
		idx := int(pos)
		frac := float32(pos - float64(idx))
		out = append(out, buf[idx]+frac*(buf[idx+1]-buf[idx]))
		pos += ratio
	}
	r.carry = []float32{buf[len(buf)-1]}
	r.pos = pos - float64(len(buf)-1)
	if r.pos < 0 {
		r.pos = 0
	}
	return out
}

// emit resamples audio from the pipeline's internal rate to the
// published 44.1 kHz output rate, accumulates it into the fixed output
// frame size, and publishes each completed frame in capture order,
// carrying any leftover samples forward to the next call.
func (w *Worker) emit(audio []float32) {
	audio = w.monoResampler.process(audio, w.targetRate, outputSampleRate)
	if len(audio) == 0 {
		return
	}
	w.accum = append(w.accum, audio...)
	for len(w.accum) >= outputFrameSamples {
		chunk := make([]float32, outputFrameSamples)
		copy(chunk, w.accum[:outputFrameSamples])
		w.accum = w.accum[outputFrameSamples:]
		w.publish(&Frame{
			PCM:        chunk,
			Stereo:     false,
			SampleRate: outputSampleRate,
			PowerDBFS:  w.lastPowerDB,
			CapturedAt: time.Now(),
		})
	}
}

// emitStereo resamples each channel to 44.1 kHz, interleaves L/R, and
// accumulates into fixed stereo frames (outputFrameSamples frames of
// L+R pairs each).
func (w *Worker) emitStereo(left, right []float32) {
	left = w.leftResampler.process(left, w.targetRate, outputSampleRate)
	right = w.rightResampler.process(right, w.targetRate, outputSampleRate)
	if len(left) == 0 || len(right) == 0 {
		return
	}
	n := len(left)
	if len(right) < n {
		n = len(right)
	}
	interleaved := make([]float32, 0, n*2)
	for i := 0; i < n; i++ {
		interleaved = append(interleaved, left[i], right[i])
	}
	w.accum = append(w.accum, interleaved...)
	frameLen := outputFrameSamples * 2
	for len(w.accum) >= frameLen {
		chunk := make([]float32, frameLen)
		copy(chunk, w.accum[:frameLen])
		w.accum = w.accum[frameLen:]
		w.publish(&Frame{
			PCM:        chunk,
			Stereo:     true,
			SampleRate: outputSampleRate,
			PowerDBFS:  w.lastPowerDB,
			CapturedAt: time.Now(),
		})
	}
}

// publish performs the bound queue's drop-oldest-on-overflow policy.
func (w *Worker) publish(frame *Frame) {
	select {
	case w.out <- frame:
	default:
		select {
		case <-w.out:
		default:
		}
		select {
		case w.out <- frame:
			w.outDrops++
		default:
		}
	}
	if w.outDrops > 0 && w.outDrops%100 == 0 {
		log.Printf("demod: dropped %d audio frames (queue full)", w.outDrops)
	}
}

// Sleeping reports whether the worker is currently out of band.
func (w *Worker) Sleeping() bool { return w.sleeping }
