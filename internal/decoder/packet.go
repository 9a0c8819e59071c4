// Package decoder implements the Decoder Worker (C5): one instance per
// active decoder-bearing VFO, sharing one packet pipeline across the
// FSK/PSK/Morse front ends.
//
// The pipeline stages run in a fixed order: HDLC strip, framing-tag
// protocol hint, AX.25 callsign backfill, satellite lookup with SSID
// retry, bin+json persistence, then publish. Signal power is tracked
// separately, once per input block, in a rolling history whose
// statistics are reported in each packet's metadata.
package decoder

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/cwsl/groundstation/internal/satellite"
)

// Framing identifies the deframer that produced a packet, used to pick
// a telemetry-parser protocol hint.
type Framing string

const (
	FramingDOKA     Framing = "doka"
	FramingAX25     Framing = "ax25"
	FramingUSP      Framing = "usp"
	FramingAX100RS  Framing = "ax100_rs"
	FramingAX100ASM Framing = "ax100_asm"
	FramingGeoscan  Framing = "geoscan"
)

// ProtocolHint maps a framing tag to the protocol the telemetry parser
// should assume.
func ProtocolHint(f Framing) string {
	switch f {
	case FramingDOKA:
		return "ccsds"
	case FramingAX25, FramingUSP:
		return "ax25"
	case FramingAX100RS, FramingAX100ASM:
		return "csp"
	case FramingGeoscan:
		return "proprietary"
	default:
		return "ax25"
	}
}

// Callsigns holds an AX.25-style source/destination pair.
type Callsigns struct {
	From string
	To   string
}

// TelemetryResult is the outcome of telemetry parsing; Fields carries
// whatever a concrete parser extracted, deliberately untyped since each
// protocol's payload shape differs (mirrors the original's dict
// result).
type TelemetryResult struct {
	Success  bool
	Parser   string
	Frame    string // parser-specific frame/packet type label, e.g. "telemetry" or "beacon"
	AX25From string
	AX25To   string
	Fields   map[string]any
}

// TelemetryParser extracts structured fields from a deframed payload
// given a protocol hint and optional satellite-name hint.
type TelemetryParser interface {
	Parse(payload []byte, protocolHint, satHint string) TelemetryResult
}

// PowerStats is the rolling signal-power history reported in every
// packet's metadata: current/mean/max/min dBFS over the last 100
// measurements.
type PowerStats struct {
	history []float64
	pos     int
	full    bool
}

// NewPowerStats builds a 100-entry rolling window.
func NewPowerStats() *PowerStats {
	return &PowerStats{history: make([]float64, 100)}
}

// Observe records one power-per-block measurement, taken before
// decimation/AGC.
func (p *PowerStats) Observe(dbfs float64) {
	p.history[p.pos] = dbfs
	p.pos = (p.pos + 1) % len(p.history)
	if p.pos == 0 {
		p.full = true
	}
}

// Stats returns current/mean/max/min over the populated window.
func (p *PowerStats) Stats() (current, mean, max, min float64) {
	n := p.pos
	if p.full {
		n = len(p.history)
	}
	if n == 0 {
		return 0, 0, 0, 0
	}
	current = p.history[(p.pos-1+len(p.history))%len(p.history)]
	max, min = p.history[0], p.history[0]
	var sum float64
	for i := 0; i < n; i++ {
		v := p.history[i]
		sum += v
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	mean = sum / float64(n)
	return
}

// Config describes one decoder instance's identity and context,
// threaded through every emitted packet's metadata.
type Config struct {
	DecoderType string // "gmsk", "gfsk", "afsk", "bpsk", "morse"
	SessionID   string
	VFONumber   int
	SourceID    string
	BaudRate    float64
	Framing     Framing
	OutputDir   string
	CompressBin bool // archive persisted .bin with gzip
	CenterHz    int64
	BandwidthHz float64
	Active      bool
	SDRCenterHz int64
	SDRSampleHz int64
}

// PacketDecodedEvent is the single event published per decoded packet.
type PacketDecodedEvent struct {
	SourceID      string
	SessionID     string
	VFONumber     int
	Payload       []byte
	Timestamp     time.Time
	Filename      string
	FilePath      string
	MetaFilename  string
	MetaFilePath  string
	Callsigns     *Callsigns
	Telemetry     TelemetryResult
	NORADID       int
	SatelliteName string
}

// Pipeline is the shared packet-processing pipeline used identically
// by every decoder family.
type Pipeline struct {
	cfg       Config
	parser    TelemetryParser
	sats      *satellite.Table
	power     *PowerStats
	packetNum int
	publish   func(PacketDecodedEvent)
}

// NewPipeline builds a shared pipeline instance for one decoder.
func NewPipeline(cfg Config, parser TelemetryParser, sats *satellite.Table, publish func(PacketDecodedEvent)) *Pipeline {
	return &Pipeline{cfg: cfg, parser: parser, sats: sats, power: NewPowerStats(), publish: publish}
}

// ObservePower feeds one RF power measurement into the rolling history.
func (p *Pipeline) ObservePower(dbfs float64) { p.power.Observe(dbfs) }

// Accept runs the validate hook; decoder-family front ends may
// override acceptance policy, default accepts all.
func (p *Pipeline) Accept(payload []byte, callsigns *Callsigns) bool { return true }

// stripHDLCFlags removes a single leading/trailing 0x7E flag byte.
func stripHDLCFlags(payload []byte) []byte {
	out := payload
	if len(out) > 0 && out[0] == 0x7E {
		out = out[1:]
	}
	if len(out) > 0 && out[len(out)-1] == 0x7E {
		out = out[:len(out)-1]
	}
	return out
}

// backfillFromAX25 synthesizes callsigns from a parsed AX.25 header
// when the deframer itself produced none.
func backfillFromAX25(callsigns *Callsigns, tr TelemetryResult) *Callsigns {
	if callsigns != nil {
		return callsigns
	}
	if !strings.HasPrefix(tr.Parser, "ax25") {
		return nil
	}
	if tr.AX25From == "" || tr.AX25To == "" {
		return nil
	}
	return &Callsigns{From: tr.AX25From, To: tr.AX25To}
}

// ProcessPacket runs one decoded frame through the shared pipeline:
// validate, strip HDLC, parse telemetry, backfill callsigns, satellite
// lookup, persist bin+json, publish event.
func (p *Pipeline) ProcessPacket(payload []byte, callsigns *Callsigns) error {
	if !p.Accept(payload, callsigns) {
		return nil
	}
	p.packetNum++

	stripped := stripHDLCFlags(payload)
	hint := ProtocolHint(p.cfg.Framing)

	var tr TelemetryResult
	if p.parser != nil {
		tr = p.parser.Parse(stripped, hint, "")
	}

	callsigns = backfillFromAX25(callsigns, tr)

	var noradID int
	var satName string
	if callsigns != nil && p.sats != nil {
		if e, ok := p.sats.Lookup(callsigns.From); ok {
			noradID = e.NORADID
			satName = e.Name
		}
	}

	ts := time.Now()
	filename := p.generateFilename(ts)
	filePath := filepath.Join(p.cfg.OutputDir, filename)
	if err := p.persistBinary(filePath, payload); err != nil {
		return fmt.Errorf("decoder: persist binary: %w", err)
	}

	metaFilename := strings.TrimSuffix(filename, filepath.Ext(filename)) + ".json"
	metaPath := filepath.Join(p.cfg.OutputDir, metaFilename)
	meta := p.buildMetadata(payload, ts, filename, filePath, callsigns, tr, noradID, satName)
	if err := writeJSON(metaPath, meta); err != nil {
		return fmt.Errorf("decoder: persist metadata: %w", err)
	}

	if p.publish != nil {
		p.publish(PacketDecodedEvent{
			SourceID:      p.cfg.SourceID,
			SessionID:     p.cfg.SessionID,
			VFONumber:     p.cfg.VFONumber,
			Payload:       payload,
			Timestamp:     ts,
			Filename:      filename,
			FilePath:      filePath,
			MetaFilename:  metaFilename,
			MetaFilePath:  metaPath,
			Callsigns:     callsigns,
			Telemetry:     tr,
			NORADID:       noradID,
			SatelliteName: satName,
		})
	}
	return nil
}

func (p *Pipeline) generateFilename(ts time.Time) string {
	stamp := ts.Format("20060102_150405")
	micros := ts.Nanosecond() / 1000
	ext := ".bin"
	if p.cfg.CompressBin {
		ext = ".bin.gz"
	}
	return fmt.Sprintf("%s_%s_%s_%06d%s", p.cfg.DecoderType, p.filenameParams(), stamp, micros, ext)
}

func (p *Pipeline) filenameParams() string {
	return fmt.Sprintf("%d", p.cfg.CenterHz)
}

func (p *Pipeline) persistBinary(path string, payload []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if !p.cfg.CompressBin {
		_, err := f.Write(payload)
		return err
	}
	gw := gzip.NewWriter(f)
	if _, err := gw.Write(payload); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *Pipeline) buildMetadata(payload []byte, ts time.Time, filename, filePath string, callsigns *Callsigns, tr TelemetryResult, noradID int, satName string) map[string]any {
	current, mean, max, min := p.power.Stats()

	meta := map[string]any{
		"packet": map[string]any{
			"number":        p.packetNum,
			"length_bytes":  len(payload),
			"timestamp":     ts.Unix(),
			"timestamp_iso": ts.UTC().Format(time.RFC3339),
			"hex":           hex.EncodeToString(payload),
		},
		"decoder": map[string]any{
			"type":       p.cfg.DecoderType,
			"session_id": p.cfg.SessionID,
			"baudrate":   p.cfg.BaudRate,
		},
		"signal": map[string]any{
			"frequency_hz":          p.cfg.CenterHz,
			"sdr_sample_rate_hz":    p.cfg.SDRSampleHz,
			"sdr_center_freq_hz":    p.cfg.SDRCenterHz,
			"signal_power_dbfs":     current,
			"signal_power_avg_dbfs": mean,
			"signal_power_max_dbfs": max,
			"signal_power_min_dbfs": min,
		},
		"vfo": map[string]any{
			"id":             p.cfg.VFONumber,
			"center_freq_hz": p.cfg.CenterHz,
			"bandwidth_hz":   p.cfg.BandwidthHz,
			"active":         p.cfg.Active,
		},
		"decoder_config": map[string]any{
			"source":           p.cfg.SourceID,
			"framing":          string(p.cfg.Framing),
			"payload_protocol": ProtocolHint(p.cfg.Framing),
		},
		"file": map[string]any{
			"binary":      filename,
			"binary_path": filePath,
		},
	}

	if noradID != 0 {
		meta["satellite"] = map[string]any{"norad_id": noradID, "name": satName}
	}
	if callsigns != nil {
		ax25 := map[string]any{
			"from_callsign": callsigns.From,
			"to_callsign":   callsigns.To,
		}
		if noradID != 0 {
			ax25["identified_norad_id"] = noradID
			ax25["identified_satellite"] = satName
		}
		meta["ax25"] = ax25
	}
	if tr.Success {
		meta["telemetry"] = map[string]any{
			"parser": tr.Parser,
			"frame":  tr.Frame,
			"data":   tr.Fields,
		}
	}
	return meta
}
