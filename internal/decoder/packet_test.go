package decoder

import (
	"os"
	"testing"

	"github.com/cwsl/groundstation/internal/satellite"
)

func TestProtocolHint(t *testing.T) {
	cases := map[Framing]string{
		FramingDOKA:     "ccsds",
		FramingAX25:     "ax25",
		FramingUSP:      "ax25",
		FramingAX100RS:  "csp",
		FramingAX100ASM: "csp",
		FramingGeoscan:  "proprietary",
		Framing("bogus"): "ax25",
	}
	for framing, want := range cases {
		if got := ProtocolHint(framing); got != want {
			t.Errorf("ProtocolHint(%v) = %q, want %q", framing, got, want)
		}
	}
}

func TestStripHDLCFlags(t *testing.T) {
	got := stripHDLCFlags([]byte{0x7E, 1, 2, 3, 0x7E})
	want := []byte{1, 2, 3}
	if string(got) != string(want) {
		t.Errorf("stripHDLCFlags = %v, want %v", got, want)
	}
}

func TestPowerStatsRollingWindow(t *testing.T) {
	p := NewPowerStats()
	for i := 0; i < 5; i++ {
		p.Observe(float64(-100 + i*10))
	}
	current, mean, max, min := p.Stats()
	if current != -60 {
		t.Errorf("current = %v, want -60 (last observed)", current)
	}
	if max != -60 {
		t.Errorf("max = %v, want -60", max)
	}
	if min != -100 {
		t.Errorf("min = %v, want -100", min)
	}
	if mean != -80 {
		t.Errorf("mean = %v, want -80", mean)
	}
}

func TestPowerStatsWrapsAfterFull(t *testing.T) {
	p := NewPowerStats()
	for i := 0; i < 150; i++ {
		p.Observe(-90)
	}
	current, mean, _, _ := p.Stats()
	if current != -90 || mean != -90 {
		t.Errorf("current=%v mean=%v, want both -90 after wraparound", current, mean)
	}
}

func TestBackfillFromAX25UsesParsedCallsigns(t *testing.T) {
	tr := TelemetryResult{Parser: "ax25", AX25From: "CW1ABC", AX25To: "CQ"}
	got := backfillFromAX25(nil, tr)
	if got == nil || got.From != "CW1ABC" || got.To != "CQ" {
		t.Errorf("backfillFromAX25 = %+v, want populated from AX.25 fields", got)
	}
}

func TestBackfillFromAX25PreservesExistingCallsigns(t *testing.T) {
	existing := &Callsigns{From: "A", To: "B"}
	got := backfillFromAX25(existing, TelemetryResult{Parser: "ax25", AX25From: "X", AX25To: "Y"})
	if got != existing {
		t.Error("backfillFromAX25 should not overwrite an already-populated callsign pair")
	}
}

func TestBackfillFromAX25NonAX25ParserReturnsNil(t *testing.T) {
	got := backfillFromAX25(nil, TelemetryResult{Parser: "ccsds"})
	if got != nil {
		t.Errorf("backfillFromAX25 = %+v, want nil for non-ax25 parser", got)
	}
}

func TestProcessPacketPersistsAndPublishes(t *testing.T) {
	dir := t.TempDir()
	sats := satellite.New([]satellite.Entry{{Callsign: "CW1ABC", Name: "Test Sat", NORADID: 7}})

	var published PacketDecodedEvent
	pipeline := NewPipeline(Config{
		DecoderType: "gmsk",
		SessionID:   "sess-1",
		VFONumber:   0,
		SourceID:    "rx0",
		Framing:     FramingAX25,
		OutputDir:   dir,
		CenterHz:    435_000_000,
	}, AX25HeaderParser{}, sats, func(ev PacketDecodedEvent) { published = ev })

	payload := append([]byte{0x7E}, append(
		append(encodeAX25Address("CQ", 0), encodeAX25Address("CW1ABC", 0)...),
		0x7E)...)

	if err := pipeline.ProcessPacket(payload, nil); err != nil {
		t.Fatalf("ProcessPacket: %v", err)
	}

	if published.SourceID != "rx0" || published.SessionID != "sess-1" {
		t.Errorf("published event context = %+v", published)
	}
	if published.NORADID != 7 || published.SatelliteName != "Test Sat" {
		t.Errorf("published satellite fields = %+v, want lookup hit on CW1ABC", published)
	}
	if published.Callsigns == nil || published.Callsigns.From != "CW1ABC" {
		t.Errorf("published.Callsigns = %+v, want backfilled From=CW1ABC", published.Callsigns)
	}

	if _, err := os.Stat(published.FilePath); err != nil {
		t.Errorf("expected persisted binary at %s: %v", published.FilePath, err)
	}
	if _, err := os.Stat(published.MetaFilePath); err != nil {
		t.Errorf("expected persisted metadata at %s: %v", published.MetaFilePath, err)
	}
}

func TestProcessPacketCompressesBinWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	pipeline := NewPipeline(Config{
		DecoderType: "afsk",
		OutputDir:   dir,
		CompressBin: true,
	}, nil, nil, nil)

	if err := pipeline.ProcessPacket([]byte("hello"), nil); err != nil {
		t.Fatalf("ProcessPacket: %v", err)
	}
}
