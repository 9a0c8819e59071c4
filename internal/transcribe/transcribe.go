// Package transcribe implements the Transcription Worker (C6): one
// instance per VFO with speech enabled, streaming 44.1kHz audio frames
// to an interchangeable speech-to-text provider over a persistent
// bidirectional connection and emitting partial/final text events.
//
// Uses a persistent WS connection with periodic keepalive,
// auto-reconnect on drop, and a provider-agnostic event
// contract so Deepgram and Gemini are interchangeable.
package transcribe

import (
	"context"
	"time"

	"golang.org/x/text/language"
)

// TranscriptEvent is one unit of recognized text. Partial events may
// be superseded by a later Partial or a Final for the same utterance;
// Final events are terminal for that utterance.
type TranscriptEvent struct {
	Text      string
	Partial   bool
	Timestamp time.Time
	Language  language.Tag
}

// AudioFrame is the provider-agnostic input unit: mono 16-bit-linear
// PCM at SampleRate (the demodulator's 44.1kHz output); each provider
// resamples it to its own expected rate before sending.
type AudioFrame struct {
	PCM16      []int16
	SampleRate int
}

// Provider is implemented once per STT backend (Deepgram, Gemini).
// Stream establishes the persistent connection and returns a channel
// of transcript events; closing the input channel or canceling ctx
// ends the session.
type Provider interface {
	Stream(ctx context.Context, audio <-chan AudioFrame) (<-chan TranscriptEvent, error)
}

// Translator performs an optional post-step translation, used when a
// provider has no built-in translation to the session's target
// language. Implementations must respect the 5s timeout on ctx
// themselves and never block audio delivery on failure.
type Translator interface {
	Translate(ctx context.Context, text string, target language.Tag) (string, error)
}

const translateTimeout = 5 * time.Second

// Worker runs one VFO's transcription session: feeds audio into a
// Provider, optionally post-translates Final events, and republishes
// the (possibly translated) event stream.
type Worker struct {
	provider   Provider
	translator Translator
	target     language.Tag

	audioIn chan AudioFrame
	out     chan TranscriptEvent
}

// NewWorker builds a transcription worker. translator/target may be
// the zero value to skip the post-translation step entirely.
func NewWorker(provider Provider, translator Translator, target language.Tag) *Worker {
	return &Worker{
		provider:   provider,
		translator: translator,
		target:     target,
		audioIn:    make(chan AudioFrame, 32),
		out:        make(chan TranscriptEvent, 32),
	}
}

// Feed delivers one audio frame for transcription; non-blocking —
// transcription lag never backs up the audio pipeline.
func (w *Worker) Feed(frame AudioFrame) {
	select {
	case w.audioIn <- frame:
	default:
	}
}

// Out returns the worker's text event stream.
func (w *Worker) Out() <-chan TranscriptEvent { return w.out }

const reconnectWait = 60 * time.Second

// Run drives the provider session until ctx is canceled, reconnecting
// the provider stream on error after a flat wait — the worker itself
// never exits on a transient provider disconnect.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.out)
	for {
		if ctx.Err() != nil {
			return
		}
		events, err := w.provider.Stream(ctx, w.audioIn)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectWait):
			}
			continue
		}
		w.pump(ctx, events)
	}
}

func (w *Worker) pump(ctx context.Context, events <-chan TranscriptEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.maybeTranslate(ctx, &ev)
			select {
			case w.out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) maybeTranslate(ctx context.Context, ev *TranscriptEvent) {
	if w.translator == nil || ev.Partial || ev.Text == "" {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, translateTimeout)
	defer cancel()
	translated, err := w.translator.Translate(tctx, ev.Text, w.target)
	if err != nil {
		return // never block audio/text delivery on translation failure
	}
	ev.Text = translated
	ev.Language = w.target
}
