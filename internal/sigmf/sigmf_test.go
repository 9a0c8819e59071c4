package sigmf

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestMetaPathForVariants(t *testing.T) {
	cases := map[string]string{
		"rec.sigmf-meta": "rec.sigmf-meta",
		"rec.sigmf-data": "rec.sigmf-meta",
		"rec":            "rec.sigmf-meta",
	}
	for in, want := range cases {
		if got := MetaPathFor(in); got != want {
			t.Errorf("MetaPathFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDataPathFor(t *testing.T) {
	if got := DataPathFor("rec.sigmf-meta"); got != "rec.sigmf-data" {
		t.Errorf("DataPathFor = %q, want rec.sigmf-data", got)
	}
}

func TestBytesPerSample(t *testing.T) {
	cases := map[string]int{
		"cf32_le": 8, "ci16_le": 4, "cu16_be": 4, "ci8": 2, "cu8": 2, "bogus": 0,
	}
	for dt, want := range cases {
		if got := BytesPerSample(dt); got != want {
			t.Errorf("BytesPerSample(%q) = %d, want %d", dt, got, want)
		}
	}
}

func TestIsLittleEndian(t *testing.T) {
	if !IsLittleEndian("ci16_le") || !IsLittleEndian("ci16") {
		t.Error("expected little-endian default and explicit _le suffix to report true")
	}
	if IsLittleEndian("ci16_be") {
		t.Error("expected _be suffix to report false")
	}
}

func TestCaptureAtFindsCoveringSegment(t *testing.T) {
	captures := []Capture{{SampleStart: 0}, {SampleStart: 1000}, {SampleStart: 5000}}
	idx, changed := CaptureAt(captures, 1500, 0)
	if idx != 1 || !changed {
		t.Errorf("CaptureAt(1500) = (%d,%v), want (1,true)", idx, changed)
	}
	idx, changed = CaptureAt(captures, 1600, 1)
	if idx != 1 || changed {
		t.Errorf("CaptureAt(1600) = (%d,%v), want (1,false)", idx, changed)
	}
}

func TestRecordingStartParsesDatetime(t *testing.T) {
	captures := []Capture{{DateTime: "2024-01-02T03:04:05Z"}}
	ts, ok := RecordingStart(captures)
	if !ok {
		t.Fatal("expected RecordingStart to parse a valid datetime")
	}
	if ts.Year() != 2024 || ts.Month() != 1 || ts.Day() != 2 {
		t.Errorf("parsed time = %v, want 2024-01-02", ts)
	}
}

func TestRecordingStartMissingDatetime(t *testing.T) {
	if _, ok := RecordingStart([]Capture{{}}); ok {
		t.Error("expected RecordingStart to report false with no datetime")
	}
}

func TestDecodeCF32(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(-0.25))
	out, err := Decode(buf, "cf32_le")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 1 || real(out[0]) != 0.5 || imag(out[0]) != -0.25 {
		t.Errorf("Decode(cf32) = %v, want (0.5-0.25i)", out)
	}
}

func TestDecodeCI8FullScale(t *testing.T) {
	out, err := Decode([]byte{127, 0}, "ci8")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if math.Abs(float64(real(out[0]))-127.0/128.0) > 1e-6 {
		t.Errorf("Decode(ci8) real = %v, want ~0.992", real(out[0]))
	}
}

func TestDecodeCU8CentersAtZero(t *testing.T) {
	out, err := Decode([]byte{128, 128}, "cu8")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if real(out[0]) != 0 || imag(out[0]) != 0 {
		t.Errorf("Decode(cu8) midpoint = %v, want 0+0i", out[0])
	}
}

func TestDecodeUnsupportedDatatype(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3, 4}, "bogus"); err == nil {
		t.Error("expected error for unsupported datatype")
	}
}

func TestDecodeTrimsPartialTrailingSample(t *testing.T) {
	out, err := Decode([]byte{1, 2, 3}, "ci8") // 3 bytes, 2 bytes/sample -> trims to 2
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("len(out) = %d, want 1 after trimming incomplete trailing sample", len(out))
	}
}

func TestLoadMetaDefaultsCapturesWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.sigmf-meta")
	content := `{"global": {"core:datatype": "cf32_le", "core:sample_rate": 48000}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	meta, err := LoadMeta(path)
	if err != nil {
		t.Fatalf("LoadMeta: %v", err)
	}
	if len(meta.Captures) != 1 || meta.Captures[0].Frequency != 100e6 {
		t.Errorf("meta.Captures = %+v, want a single default capture at 100MHz", meta.Captures)
	}
}

func TestLoadMetaMissingFile(t *testing.T) {
	if _, err := LoadMeta("/nonexistent/rec.sigmf-meta"); err == nil {
		t.Error("expected error for missing meta file")
	}
}
