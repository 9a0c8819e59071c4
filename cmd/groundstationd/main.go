// Command groundstationd is the ground-station core's process
// entrypoint: it loads configuration, wires the session registry, the
// lifecycle manager, the event distribution hub, and Prometheus
// metrics, then blocks until a termination signal triggers graceful
// shutdown.
//
// A -config flag names the YAML file to load; DEBUG=1 in the
// environment overrides -debug.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/text/language"

	"github.com/cwsl/groundstation/internal/config"
	"github.com/cwsl/groundstation/internal/decoder"
	"github.com/cwsl/groundstation/internal/demod"
	"github.com/cwsl/groundstation/internal/eventhub"
	"github.com/cwsl/groundstation/internal/manager"
	"github.com/cwsl/groundstation/internal/metrics"
	"github.com/cwsl/groundstation/internal/satellite"
	"github.com/cwsl/groundstation/internal/session"
	"github.com/cwsl/groundstation/internal/source"
	"github.com/cwsl/groundstation/internal/transcribe"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	debugMode := *debug
	if v := os.Getenv("DEBUG"); v != "" {
		debugMode = v == "true" || v == "1" || v == "yes"
	}
	if debugMode {
		log.Println("debug mode enabled")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("groundstationd: load config: %v", err)
	}

	if err := os.MkdirAll(cfg.Decoder.OutputDir, 0o755); err != nil {
		log.Fatalf("groundstationd: create decoder output dir: %v", err)
	}

	var sats *satellite.Table
	if cfg.Decoder.SatelliteLookupPath != "" {
		sats, err = satellite.Load(cfg.Decoder.SatelliteLookupPath)
		if err != nil {
			log.Printf("groundstationd: satellite lookup table not loaded: %v", err)
		}
	}

	reg := metrics.NewRegistry()

	sessions := session.NewManager(256)
	descriptors := indexDescriptors(cfg.Sources.Descriptors)

	newDriver := func(sourceID string) (source.Driver, source.Config) {
		desc, ok := descriptors[sourceID]
		if !ok {
			log.Fatalf("groundstationd: unknown source id %q", sourceID)
		}
		return buildDriver(desc), initialSourceConfig(desc, cfg.Spectrum)
	}

	decoderSpec := func(name string) manager.DecoderSpec {
		profile := cfg.Decoder.Profiles[name]
		return manager.DecoderSpec{
			Family:      decoder.Family(name),
			Framing:     decoder.Framing(profile.Framing),
			Parser:      decoder.AX25HeaderParser{},
			DeviationHz: profile.DeviationHz,
			BaudRate:    profile.BaudRate,
			ToneHz:      profile.ToneHz,
			BandwidthHz: profile.BandwidthHz,
		}
	}

	mgr := manager.New(sessions, newDriver, decoderSpec, cfg.Calibration.OffsetDB, cfg.Decoder.OutputDir)
	if sats != nil {
		mgr.SetSatelliteTable(sats)
	}
	if cfg.Transcription.Provider != "" {
		mgr.SetTranscriberFactory(newTranscriberFactory(cfg.Transcription))
	}

	hub := eventhub.New(512)
	go hub.Run()

	if cfg.EventHub.MQTT.Enabled {
		sink, err := eventhub.NewMQTTSink(eventhub.MQTTConfig{
			Broker:      cfg.EventHub.MQTT.Broker,
			TopicPrefix: cfg.EventHub.MQTT.Topic,
		})
		if err != nil {
			log.Printf("groundstationd: mqtt sink not started: %v", err)
		} else {
			hub.Subscribe(sink)
		}
	}

	mgr.SetAudioSink(func(sessionID string, vfo int, frame *demod.Frame) {
		// Audio frames are discarded here: no RTP sender (internal/audioout)
		// is wired in, and the event hub does not carry audio.
		_ = sessionID
		_ = vfo
		_ = frame
	})

	mgr.SetPacketSink(func(ev decoder.PacketDecodedEvent) {
		hub.Publish(eventhub.Event{
			Topic:     eventhub.TopicPacket,
			SourceID:  ev.SourceID,
			SessionID: ev.SessionID,
			At:        time.Now(),
			Payload:   ev,
		})
	})

	mgr.SetTranscriptSink(func(sessionID string, vfo int, ev transcribe.TranscriptEvent) {
		hub.Publish(eventhub.Event{
			Topic:     eventhub.TopicTranscript,
			SessionID: sessionID,
			At:        time.Now(),
			Payload:   ev,
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	go mgr.Run(ctx)
	go reg.RunHostSampler(ctx, 5*time.Second)

	if cfg.Prometheus.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := cfg.Prometheus.Listen
		if addr == "" {
			addr = ":9090"
		}
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("groundstationd: metrics server: %v", err)
			}
		}()
	}

	if cfg.EventHub.WebSocket.Enabled {
		ws := eventhub.NewWSHub(hub)
		http.HandleFunc("/ws/events", ws.Handler(func(r *http.Request) (string, string) {
			return r.URL.Query().Get("source"), r.URL.Query().Get("session")
		}))
	}

	log.Println("groundstationd: running")
	waitForSignal()
	log.Println("groundstationd: shutting down")
	cancel()
	hub.Stop()
	time.Sleep(200 * time.Millisecond)
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

func indexDescriptors(descs []config.SourceDescriptorConfig) map[string]config.SourceDescriptorConfig {
	out := make(map[string]config.SourceDescriptorConfig, len(descs))
	for _, d := range descs {
		out[d.ID] = d
	}
	return out
}

// buildDriver resolves a source.Driver implementation from a
// descriptor's kind tag. rtlsdr-usb/soapy-local/soapy-remote/uhd have
// no vendor wire protocol implemented here directly; they're expected
// to be fronted by a networked capture daemon publishing raw IQ, so
// they resolve to the same UDP driver that speaks to one.
func buildDriver(desc config.SourceDescriptorConfig) source.Driver {
	switch desc.Kind {
	case "sigmf-playback":
		return source.NewSigMFDriver(desc.FilePath, desc.Loop)
	case "rtlsdr-tcp":
		return source.NewRTLTCPDriver(desc.Address)
	case "rtlsdr-usb", "soapy-local", "soapy-remote", "uhd":
		return source.NewUDPIQDriver(desc.Address, desc.Interface)
	default:
		log.Fatalf("groundstationd: unknown source kind %q", desc.Kind)
		return nil
	}
}

// newTranscriberFactory builds the per-VFO transcription.Worker
// constructor wired into manager.SetTranscriberFactory: provider
// selection (deepgram/gemini) and the optional Google Translate
// post-step are resolved once from configuration; only the per-VFO
// target language varies per call.
func newTranscriberFactory(cfg config.TranscriptionConfig) func(targetLang string) *transcribe.Worker {
	return func(targetLang string) *transcribe.Worker {
		var provider transcribe.Provider
		var translator transcribe.Translator

		switch cfg.Provider {
		case "gemini":
			provider = transcribe.NewGeminiProvider(transcribe.GeminiConfig{
				APIKey:         cfg.APIKey,
				TargetLanguage: targetLang,
			})
		default:
			provider = transcribe.NewDeepgramProvider(transcribe.DeepgramConfig{APIKey: cfg.APIKey})
			if cfg.GoogleAPIKey != "" && targetLang != "" {
				translator = transcribe.NewGoogleTranslator(cfg.GoogleAPIKey)
			}
		}

		target := language.Und
		if targetLang != "" {
			if t, err := language.Parse(targetLang); err == nil {
				target = t
			}
		}
		return transcribe.NewWorker(provider, translator, target)
	}
}

func initialSourceConfig(desc config.SourceDescriptorConfig, spec config.SpectrumConfig) source.Config {
	centerHz, sampleRate, gain, fftSize := desc.CenterHz, desc.SampleRate, desc.Gain, spec.FFTSize
	agc := desc.AGC
	return source.Config{
		CenterHz:   &centerHz,
		SampleRate: &sampleRate,
		GainDB:     &gain,
		AGC:        &agc,
		FFTSize:    &fftSize,
	}
}
