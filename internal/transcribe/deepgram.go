package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/text/language"
)

const (
	deepgramSampleRate = 16000
	deepgramKeepAlive  = 8 * time.Second
)

// DeepgramConfig configures a DeepgramProvider.
type DeepgramConfig struct {
	APIKey   string
	Language string // BCP-47 source language, "" or "auto" for auto-detect
}

// DeepgramProvider streams audio to Deepgram's real-time Streaming API
// over a persistent WebSocket: linear16 mono at 16kHz, final-only
// results (interim_results=false avoids repeated partial text), and a
// KeepAlive control frame every 8s to hold the connection open through
// silence, inside Deepgram's idle-socket timeout.
type DeepgramProvider struct {
	cfg    DeepgramConfig
	dialer *websocket.Dialer
}

// NewDeepgramProvider builds a Deepgram streaming provider.
func NewDeepgramProvider(cfg DeepgramConfig) *DeepgramProvider {
	return &DeepgramProvider{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (p *DeepgramProvider) websocketURL() string {
	v := url.Values{}
	v.Set("model", "nova-2")
	v.Set("encoding", "linear16")
	v.Set("sample_rate", fmt.Sprintf("%d", deepgramSampleRate))
	v.Set("channels", "1")
	v.Set("punctuate", "true")
	v.Set("interim_results", "false")
	v.Set("utterance_end_ms", "1000")
	v.Set("vad_events", "true")
	if p.cfg.Language != "" && p.cfg.Language != "auto" {
		v.Set("language", p.cfg.Language)
	}
	return "wss://api.deepgram.com/v1/listen?" + v.Encode()
}

// Stream dials Deepgram and returns a channel of transcript events.
// Frames read from audio are resampled to 16kHz mono PCM16 before
// being written to the socket.
func (p *DeepgramProvider) Stream(ctx context.Context, audio <-chan AudioFrame) (<-chan TranscriptEvent, error) {
	header := http.Header{}
	header.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, _, err := p.dialer.DialContext(ctx, p.websocketURL(), header)
	if err != nil {
		return nil, fmt.Errorf("transcribe: deepgram dial: %w", err)
	}

	out := make(chan TranscriptEvent, 8)
	sctx, cancel := context.WithCancel(ctx)

	go deepgramSendLoop(sctx, conn, audio)
	go deepgramKeepAliveLoop(sctx, conn)
	go deepgramReceiveLoop(sctx, cancel, conn, out, p.cfg.Language)

	return out, nil
}

func deepgramSendLoop(ctx context.Context, conn *websocket.Conn, audio <-chan AudioFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-audio:
			if !ok {
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
				return
			}
			resampled := resamplePCM16(frame.PCM16, frame.SampleRate, deepgramSampleRate)
			if len(resampled) == 0 {
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, int16ToLittleEndianBytes(resampled)); err != nil {
				return
			}
		}
	}
}

func deepgramKeepAliveLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(deepgramKeepAlive)
	defer ticker.Stop()
	msg, _ := json.Marshal(map[string]string{"type": "KeepAlive"})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

type deepgramAlternative struct {
	Transcript string `json:"transcript"`
}

type deepgramChannel struct {
	Alternatives []deepgramAlternative `json:"alternatives"`
	Language     string                `json:"language"`
}

type deepgramMessage struct {
	Type        string          `json:"type"`
	Channel     deepgramChannel `json:"channel"`
	IsFinal     bool            `json:"is_final"`
	SpeechFinal bool            `json:"speech_final"`
}

// deepgramReceiveLoop parses Results messages into TranscriptEvents
// until the socket closes, then closes out and cancels the sibling
// send/keepalive loops.
func deepgramReceiveLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out chan<- TranscriptEvent, fallbackLang string) {
	defer cancel()
	defer close(out)
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg deepgramMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
			continue
		}
		text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
		if text == "" {
			continue
		}

		langCode := msg.Channel.Language
		if langCode == "" {
			langCode = fallbackLang
		}
		langTag := language.Und
		if langCode != "" && langCode != "auto" {
			if t, err := language.Parse(langCode); err == nil {
				langTag = t
			}
		}

		ev := TranscriptEvent{
			Text:      text,
			Partial:   !(msg.IsFinal || msg.SpeechFinal),
			Timestamp: time.Now(),
			Language:  langTag,
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}
