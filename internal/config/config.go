// Package config loads the flat, YAML-tagged configuration struct shared
// by every subsystem, following the same style as a typical flat Config
// struct with nested per-subsystem sections.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration value. One Config is loaded at startup
// by cmd/groundstationd and its sections are handed to the subsystems
// that need them.
type Config struct {
	Sources       SourcesConfig       `yaml:"sources"`
	Broadcast     BroadcastConfig     `yaml:"broadcast"`
	Spectrum      SpectrumConfig      `yaml:"spectrum"`
	Demodulator   DemodulatorConfig   `yaml:"demodulator"`
	Decoder       DecoderConfig       `yaml:"decoder"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Calibration   CalibrationConfig   `yaml:"calibration"`
	EventHub      EventHubConfig      `yaml:"event_hub"`
	Prometheus    PrometheusConfig    `yaml:"prometheus"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// SourcesConfig lists the statically known source descriptors available
// at startup. Sessions attach to one by ID.
type SourcesConfig struct {
	Descriptors []SourceDescriptorConfig `yaml:"descriptors"`
}

// SourceDescriptorConfig mirrors the data model's Source Descriptor.
type SourceDescriptorConfig struct {
	ID         string `yaml:"id"`
	Kind       string `yaml:"kind"` // rtlsdr-usb | rtlsdr-tcp | soapy-remote | soapy-local | uhd | sigmf-playback
	Address    string `yaml:"address,omitempty"`
	FilePath   string `yaml:"file_path,omitempty"`
	Loop       bool   `yaml:"loop,omitempty"`
	Interface  string `yaml:"interface,omitempty"`
	SampleRate int64  `yaml:"sample_rate"`
	CenterHz   int64  `yaml:"center_hz"`
	Gain       float64 `yaml:"gain"`
	AGC        bool   `yaml:"agc,omitempty"`
}

// BroadcastConfig sizes the IQ broadcast fabric's per-consumer queues.
type BroadcastConfig struct {
	QueueDurationSec float64 `yaml:"queue_duration_sec"` // default 0.5
}

// SpectrumConfig holds default FFT parameters for C3.
type SpectrumConfig struct {
	FFTSize     int     `yaml:"fft_size"`
	Window      string  `yaml:"window"` // hann | hamming | blackman | rect
	Averaging   int     `yaml:"averaging"`
	FrameRateHz float64 `yaml:"frame_rate_hz"`
}

// DemodulatorConfig holds defaults shared across all C4 workers.
type DemodulatorConfig struct {
	AudioFrameSize   int     `yaml:"audio_frame_size"`   // ~1024
	OutputSampleRate int64   `yaml:"output_sample_rate"` // 44100
	AudioQueueFrames int     `yaml:"audio_queue_frames"` // ~10
	DeemphasisUs     float64 `yaml:"deemphasis_us"`      // 75 or 50
}

// DecoderConfig configures C5.
type DecoderConfig struct {
	OutputDir           string                    `yaml:"output_dir"`
	SatelliteLookupPath string                    `yaml:"satellite_lookup_path"`
	ArchiveEnabled      bool                      `yaml:"archive_enabled"`
	ArchiveDir          string                    `yaml:"archive_dir,omitempty"`
	Profiles            map[string]DecoderProfile `yaml:"profiles"`
}

// DecoderProfile carries the per-family DSP front-end parameters a
// decoder worker is constructed with. Keyed by the session VFO's
// decoder tag (gmsk, gfsk, bpsk, afsk, morse).
type DecoderProfile struct {
	Framing     string  `yaml:"framing"`
	DeviationHz float64 `yaml:"deviation_hz"`
	BaudRate    float64 `yaml:"baud_rate"`
	ToneHz      float64 `yaml:"tone_hz"`
	BandwidthHz float64 `yaml:"bandwidth_hz"`
}

// TranscriptionConfig configures C6.
type TranscriptionConfig struct {
	Provider       string `yaml:"provider"` // deepgram | gemini
	APIKey         string `yaml:"api_key"`
	TranslateTo    string `yaml:"translate_to,omitempty"`
	GoogleAPIKey   string `yaml:"google_api_key,omitempty"`
}

// CalibrationConfig carries empirically-derived constants (e.g. a
// fixed RF power offset) as configuration rather than code constants.
type CalibrationConfig struct {
	OffsetDB float64 `yaml:"offset_db"` // default 17.0, applied to FM/AM/SSB/CW RF power
}

// EventHubConfig selects and configures the C11 transport adapters.
type EventHubConfig struct {
	WebSocket WebSocketSinkConfig `yaml:"websocket"`
	MQTT      MQTTSinkConfig      `yaml:"mqtt"`
}

// WebSocketSinkConfig configures the gorilla/websocket fan-out sink.
type WebSocketSinkConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MQTTSinkConfig configures the paho MQTT publish sink.
type MQTTSinkConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic_prefix"`
}

// PrometheusConfig configures the metrics HTTP listener.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig is deliberately small: the stack uses the standard
// library's log package, not a structured logging framework.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// Defaults returns a Config with every documented value already
// populated, so a caller only needs to override what it cares about.
func Defaults() *Config {
	return &Config{
		Broadcast: BroadcastConfig{QueueDurationSec: 0.5},
		Spectrum: SpectrumConfig{
			FFTSize:     2048,
			Window:      "hann",
			Averaging:   8,
			FrameRateHz: 15,
		},
		Demodulator: DemodulatorConfig{
			AudioFrameSize:   1024,
			OutputSampleRate: 44100,
			AudioQueueFrames: 10,
			DeemphasisUs:     75,
		},
		Decoder: DecoderConfig{
			OutputDir: "data/decoded",
			Profiles: map[string]DecoderProfile{
				"gmsk":  {Framing: "ax25", DeviationHz: 2400, BaudRate: 9600, BandwidthHz: 9600},
				"gfsk":  {Framing: "csp", DeviationHz: 2400, BaudRate: 9600, BandwidthHz: 9600},
				"bpsk":  {Framing: "ax25", BaudRate: 1200, BandwidthHz: 1200},
				"afsk":  {Framing: "ax25", BaudRate: 1200, BandwidthHz: 3000},
				"morse": {Framing: "proprietary", ToneHz: 800, BandwidthHz: 500},
			},
		},
		Calibration: CalibrationConfig{OffsetDB: 17.0},
	}
}

// Load reads and parses a YAML config file, merging onto Defaults().
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
