package decoder

import (
	"math"
	"sort"

	"github.com/cwsl/groundstation/internal/dsp"
)

// morseTable is the standard international Morse code table, keyed by
// dit/dash pattern.
var morseTable = map[string]byte{
	".-": 'A', "-...": 'B', "-.-.": 'C', "-..": 'D', ".": 'E',
	"..-.": 'F', "--.": 'G', "....": 'H', "..": 'I', ".---": 'J',
	"-.-": 'K', ".-..": 'L', "--": 'M', "-.": 'N', "---": 'O',
	".--.": 'P', "--.-": 'Q', ".-.": 'R', "...": 'S', "-": 'T',
	"..-": 'U', "...-": 'V', ".--": 'W', "-..-": 'X', "-.--": 'Y',
	"--..": 'Z',
	"-----": '0', ".----": '1', "..---": '2', "...--": '3', "....-": '4',
	".....": '5', "-....": '6', "--...": '7', "---..": '8', "----.": '9',
	"..--..": '?', ".-.-.-": '.', "--..--": ',', "-.-.--": '!', "-..-.": '/',
	"-.--.": '(', "-.--.-": ')', ".-...": '&', "---...": ':', "-.-.-.": ';',
	"-...-": '=', ".-.-.": '+', "-....-": '-', "..--.-": '_', ".-..-.": '"',
	"...-..-": '$', ".--.-.": '@', ".----.": '\'',
}

// morse state-machine thresholds for a pqcd-style counter approach:
// positive counter = tone on, negative counter = tone off.
const (
	ditThreshold   = 4
	dashThreshold  = 15
	breakThreshold = -5
	spaceThreshold = -15
)

// MorseFrontEnd implements the CW/Morse decoder front end: bandpass
// around the target tone, RMS envelope over 5ms windows, an adaptive
// 50th-percentile threshold over a 500ms history, and the pqcd counter
// state machine that accumulates dits/dashes into characters.
//
// Unlike the FSK/PSK front ends, this consumes already-demodulated
// SSB/CW audio, not IQ.
type MorseFrontEnd struct {
	sampleHz float64

	bandpass [2]*dsp.Biquad // 4th-order = two cascaded biquads

	envelopeWindow  int
	historyWindow   int
	rmsBuf          []float64
	rmsPos          int
	history         []float64
	historyPos      int
	historyFilled   bool

	counter     int
	dits        []int // sample durations of dits in the current character
	symbol      string
	output      []byte
	ditDurationSamples int
	wpm         int
}

// NewMorseFrontEnd builds a front end tuned to toneHz with the given
// tone bandwidth (defaults 800 Hz tone / 500 Hz BW).
func NewMorseFrontEnd(toneHz, bandwidthHz, sampleHz float64) *MorseFrontEnd {
	low := toneHz - bandwidthHz/2
	high := toneHz + bandwidthHz/2
	m := &MorseFrontEnd{
		sampleHz:       sampleHz,
		bandpass:       [2]*dsp.Biquad{bandpassBiquad(toneHz, sampleHz, toneHz/(high-low)), bandpassBiquad(toneHz, sampleHz, toneHz/(high-low))},
		envelopeWindow: int(0.005 * sampleHz), // 5ms RMS window
		historyWindow:  int(0.5 * sampleHz / float64(maxInt(1, int(0.005*sampleHz)))), // 500ms of envelope samples
	}
	if m.envelopeWindow < 1 {
		m.envelopeWindow = 1
	}
	if m.historyWindow < 1 {
		m.historyWindow = 1
	}
	m.rmsBuf = make([]float64, m.envelopeWindow)
	m.history = make([]float64, m.historyWindow)
	return m
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ProcessAudio feeds one block of demodulated audio and returns any
// characters decoded (including ' ' for word space).
func (m *MorseFrontEnd) ProcessAudio(audio []float32) []byte {
	m.output = m.output[:0]
	for _, s := range audio {
		v := float64(s)
		for _, bq := range m.bandpass {
			v = bq.Step(v)
		}
		m.rmsBuf[m.rmsPos] = v * v
		m.rmsPos = (m.rmsPos + 1) % len(m.rmsBuf)

		var sum float64
		for _, x := range m.rmsBuf {
			sum += x
		}
		rms := math.Sqrt(sum / float64(len(m.rmsBuf)))

		// One history entry per completed 5ms envelope window.
		if m.rmsPos == 0 {
			m.history[m.historyPos] = rms
			m.historyPos = (m.historyPos + 1) % len(m.history)
			if m.historyPos == 0 {
				m.historyFilled = true
			}
		}

		threshold := m.adaptiveThreshold()
		toneOn := rms > threshold
		m.stepStateMachine(toneOn)
	}
	return append([]byte(nil), m.output...)
}

func (m *MorseFrontEnd) adaptiveThreshold() float64 {
	n := m.historyPos
	if m.historyFilled {
		n = len(m.history)
	}
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), m.history[:n]...)
	sort.Float64s(sorted)
	return sorted[n/2] // 50th percentile (median)
}

// stepStateMachine advances the pqcd-style counter by one sample,
// emitting a completed character/space into m.output when a
// break/space threshold is crossed.
func (m *MorseFrontEnd) stepStateMachine(toneOn bool) {
	if toneOn {
		if m.counter < 0 {
			m.emitSymbolIfClosing()
			m.counter = 0
		}
		m.counter++
		return
	}

	// Tone off: exactly one of dash/dit/break/silence-continues applies
	// per sample, mirroring the original's if/elif chain rather than
	// decrementing unconditionally.
	switch {
	case m.counter >= dashThreshold:
		m.symbol += "-"
		m.counter = 0
	case m.counter >= ditThreshold:
		m.ditDurationSamples = m.counter
		m.symbol += "."
		m.counter = 0
	case m.counter == breakThreshold:
		m.counter--
		m.emitSymbolIfClosing()
	default:
		m.counter--
		if m.counter == spaceThreshold {
			m.output = append(m.output, ' ')
		}
	}
}

// emitSymbolIfClosing flushes the accumulated dit/dash pattern into a
// decoded character and updates the WPM estimate from the last dit
// duration observed, per 1.2/dit_sec clamped to [5, 50].
func (m *MorseFrontEnd) emitSymbolIfClosing() {
	if m.symbol == "" {
		return
	}
	if ch, ok := morseTable[m.symbol]; ok {
		m.output = append(m.output, ch)
	}
	m.symbol = ""

	if m.ditDurationSamples > 0 {
		ditSec := float64(m.ditDurationSamples) / m.sampleHz
		wpm := int(1.2 / ditSec)
		if wpm < 5 {
			wpm = 5
		}
		if wpm > 50 {
			wpm = 50
		}
		m.wpm = wpm
	}
}

// WPM returns the most recently estimated words-per-minute, or 0 if
// none has been inferred yet.
func (m *MorseFrontEnd) WPM() int { return m.wpm }
