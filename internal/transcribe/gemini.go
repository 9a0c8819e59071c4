package transcribe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/text/language"
)

const geminiSampleRate = 16000

// GeminiConfig configures a GeminiProvider.
type GeminiConfig struct {
	APIKey         string
	Model          string // default "models/gemini-2.0-flash-exp"
	SourceLanguage string // BCP-47, "" for auto-detect
	TargetLanguage string // BCP-47 translation target, "" to transcribe only
}

// GeminiProvider streams audio to the Gemini Live bidirectional
// streaming API: one JSON setup message establishes the session (a
// system instruction built from the source/target languages asks the
// model to transcribe, or transcribe-and-translate, the incoming
// speech), then audio is sent as base64 PCM chunks and text arrives as
// incremental model turns.
type GeminiProvider struct {
	cfg    GeminiConfig
	dialer *websocket.Dialer
}

// NewGeminiProvider builds a Gemini Live streaming provider.
func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	if cfg.Model == "" {
		cfg.Model = "models/gemini-2.0-flash-exp"
	}
	return &GeminiProvider{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (p *GeminiProvider) websocketURL() string {
	v := url.Values{}
	v.Set("key", p.cfg.APIKey)
	return "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent?" + v.Encode()
}

func (p *GeminiProvider) systemInstruction() string {
	src := p.cfg.SourceLanguage
	if src == "" {
		src = "the spoken language"
	}
	if p.cfg.TargetLanguage == "" || p.cfg.TargetLanguage == p.cfg.SourceLanguage {
		return fmt.Sprintf("Transcribe the incoming %s speech verbatim. Emit only the transcription, no commentary.", src)
	}
	return fmt.Sprintf("Transcribe the incoming %s speech and translate it to %s. Emit only the translated text, no commentary.", src, p.cfg.TargetLanguage)
}

type geminiSetupMessage struct {
	Setup geminiSetup `json:"setup"`
}

type geminiSetup struct {
	Model             string                 `json:"model"`
	SystemInstruction geminiContent          `json:"systemInstruction"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type geminiRealtimeInput struct {
	RealtimeInput geminiMediaChunks `json:"realtimeInput"`
}

type geminiMediaChunks struct {
	MediaChunks []geminiMediaChunk `json:"mediaChunks"`
}

type geminiMediaChunk struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiServerMessage struct {
	ServerContent *geminiServerContent `json:"serverContent"`
}

type geminiServerContent struct {
	ModelTurn    *geminiContent `json:"modelTurn"`
	TurnComplete bool           `json:"turnComplete"`
}

// Stream dials the Gemini Live API, sends the setup/system-instruction
// message, and returns a channel of transcript events. Audio frames
// are resampled to 16kHz mono PCM16, base64-encoded, and sent as
// realtimeInput media chunks; accumulated text for a turn is emitted
// as a Partial event on every model-turn update, and as a non-Partial
// event once the server reports turnComplete.
func (p *GeminiProvider) Stream(ctx context.Context, audio <-chan AudioFrame) (<-chan TranscriptEvent, error) {
	conn, _, err := p.dialer.DialContext(ctx, p.websocketURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("transcribe: gemini dial: %w", err)
	}

	setup := geminiSetupMessage{Setup: geminiSetup{
		Model:             p.cfg.Model,
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: p.systemInstruction()}}},
		GenerationConfig:  geminiGenerationConfig{ResponseModalities: []string{"TEXT"}},
	}}
	if err := conn.WriteJSON(setup); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transcribe: gemini setup: %w", err)
	}

	out := make(chan TranscriptEvent, 8)
	sctx, cancel := context.WithCancel(ctx)

	go geminiSendLoop(sctx, conn, audio)
	go geminiReceiveLoop(sctx, cancel, conn, out, p.cfg.TargetLanguage, p.cfg.SourceLanguage)

	return out, nil
}

func geminiSendLoop(ctx context.Context, conn *websocket.Conn, audio <-chan AudioFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-audio:
			if !ok {
				return
			}
			resampled := resamplePCM16(frame.PCM16, frame.SampleRate, geminiSampleRate)
			if len(resampled) == 0 {
				continue
			}
			msg := geminiRealtimeInput{RealtimeInput: geminiMediaChunks{MediaChunks: []geminiMediaChunk{{
				MimeType: fmt.Sprintf("audio/pcm;rate=%d", geminiSampleRate),
				Data:     base64.StdEncoding.EncodeToString(int16ToLittleEndianBytes(resampled)),
			}}}}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func geminiReceiveLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out chan<- TranscriptEvent, targetLang, sourceLang string) {
	defer cancel()
	defer close(out)
	defer conn.Close()

	langCode := targetLang
	if langCode == "" {
		langCode = sourceLang
	}
	langTag := language.Und
	if langCode != "" && langCode != "auto" {
		if t, err := language.Parse(langCode); err == nil {
			langTag = t
		}
	}

	var turnText string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg geminiServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.ServerContent == nil {
			continue
		}
		if msg.ServerContent.ModelTurn != nil {
			for _, part := range msg.ServerContent.ModelTurn.Parts {
				turnText += part.Text
			}
			if turnText != "" {
				ev := TranscriptEvent{Text: turnText, Partial: true, Timestamp: time.Now(), Language: langTag}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
		if msg.ServerContent.TurnComplete && turnText != "" {
			ev := TranscriptEvent{Text: turnText, Partial: false, Timestamp: time.Now(), Language: langTag}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			turnText = ""
		}
	}
}
